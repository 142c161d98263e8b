package registry

import "testing"

func TestCanonicalSchema(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "already canonical",
			input: `{"name":"User","type":"record"}`,
			want:  `{"name":"User","type":"record"}`,
		},
		{
			name:  "keys reordered",
			input: `{"type":"record","name":"User"}`,
			want:  `{"name":"User","type":"record"}`,
		},
		{
			name:  "whitespace stripped",
			input: "{\n  \"type\": \"string\"\n}",
			want:  `{"type":"string"}`,
		},
		{
			name:  "field order preserved",
			input: `{"fields":[{"name":"b","type":"int"},{"name":"a","type":"int"}],"name":"R","type":"record"}`,
			want:  `{"fields":[{"name":"b","type":"int"},{"name":"a","type":"int"}],"name":"R","type":"record"}`,
		},
		{
			name:  "bare primitive",
			input: `"string"`,
			want:  `"string"`,
		},
		{
			name:    "invalid JSON",
			input:   `{"type":}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalSchema(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("CanonicalSchema(%q) succeeded, want error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("CanonicalSchema(%q) error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("CanonicalSchema(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCanonicalSchemaEquivalence(t *testing.T) {
	a := `{"type":"record","name":"User","fields":[{"name":"name","type":"string"}]}`
	b := `{"fields":[{"type":"string","name":"name"}],"name":"User","type":"record"}`

	ca, err := CanonicalSchema(a)
	if err != nil {
		t.Fatal(err)
	}
	cb, err := CanonicalSchema(b)
	if err != nil {
		t.Fatal(err)
	}
	if ca != cb {
		t.Errorf("canonical forms differ: %q vs %q", ca, cb)
	}
}
