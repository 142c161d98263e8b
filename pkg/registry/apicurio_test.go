package registry

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUserSchema = `{"type":"record","name":"User","fields":[{"name":"name","type":"string"}]}`

func newTestClient(t *testing.T, handler http.Handler) *ApicurioClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.Timeout = 5 * time.Second
	client := NewApicurioClient(cfg, nil)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestSchemaByGlobalID(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/apis/registry/v3/ids/globalIds/7", r.URL.Path)
		_, _ = w.Write([]byte(testUserSchema))
	}))

	content, err := client.SchemaByGlobalID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, testUserSchema, content)
}

func TestSchemaByGlobalIDNotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.SchemaByGlobalID(context.Background(), 99)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "99")
}

func TestSchemaByGlobalIDServerError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	_, err := client.SchemaByGlobalID(context.Background(), 1)
	require.Error(t, err)
	assert.False(t, IsNotFound(err))

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusInternalServerError, reqErr.StatusCode)
}

func TestLatestSchema(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/apis/registry/v3/groups/default/artifacts/User/versions/branch=latest",
		func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"globalId": 12, "version": "3"})
		})
	mux.HandleFunc("/apis/registry/v3/ids/globalIds/12", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(testUserSchema))
	})
	client := newTestClient(t, mux)

	id, content, err := client.LatestSchema(context.Background(), "default", "User")
	require.NoError(t, err)
	assert.Equal(t, uint32(12), id)
	assert.Equal(t, testUserSchema, content)
}

func TestLatestSchemaNotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, _, err := client.LatestSchema(context.Background(), "default", "Missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestRegisterSchemaCreatesArtifact(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/apis/registry/v3/groups/analytics/artifacts", r.URL.Path)
		assert.Equal(t, "CREATE_VERSION", r.URL.Query().Get("ifExists"))

		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "User", req["artifactId"])
		assert.Equal(t, "AVRO", req["artifactType"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"version": map[string]any{"globalId": 5, "version": "1"},
		})
	}))

	id, err := client.RegisterSchema(context.Background(), "analytics", "User", testUserSchema)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), id)
}

func TestRegisterSchemaConflictFallsBackToVersion(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/apis/registry/v3/groups/default/artifacts", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	mux.HandleFunc("/apis/registry/v3/groups/default/artifacts/User/versions",
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			_ = json.NewEncoder(w).Encode(map[string]any{"globalId": 8, "version": "2"})
		})
	client := newTestClient(t, mux)

	id, err := client.RegisterSchema(context.Background(), "default", "User", testUserSchema)
	require.NoError(t, err)
	assert.Equal(t, uint32(8), id)
}

func TestSearchArtifacts(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/apis/registry/v3/search/artifacts", r.URL.Path)
		assert.Equal(t, "AVRO", r.URL.Query().Get("artifactType"))
		assert.Equal(t, "user", r.URL.Query().Get("name"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"artifacts": []map[string]any{
				{"groupId": "default", "artifactId": "UserCreated", "name": "UserCreated", "artifactType": "AVRO"},
			},
			"count": 1,
		})
	}))

	refs, err := client.SearchArtifacts(context.Background(), SearchQuery{Name: "user"})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "UserCreated", refs[0].ArtifactID)
	assert.Equal(t, "default", refs[0].GroupID)
}

func TestFindArtifactByContent(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "true", r.URL.Query().Get("canonical"))

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, testUserSchema, string(body))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"artifacts": []map[string]any{
				{"groupId": "default", "artifactId": "User", "artifactType": "AVRO"},
			},
			"count": 1,
		})
	}))

	ref, err := client.FindArtifactByContent(context.Background(), testUserSchema, "")
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, "User", ref.ArtifactID)
}

func TestFindArtifactByContentNoMatch(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"artifacts": []any{}, "count": 0})
	}))

	ref, err := client.FindArtifactByContent(context.Background(), testUserSchema, "")
	require.NoError(t, err)
	assert.Nil(t, ref)
}

func TestBasicAuthHeader(t *testing.T) {
	var gotUser, gotPass string
	var gotOK bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, gotOK = r.BasicAuth()
		_, _ = w.Write([]byte(testUserSchema))
	}))
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.Username = "svc-serde"
	cfg.Password = "hunter2"
	client := NewApicurioClient(cfg, nil)
	t.Cleanup(func() { _ = client.Close() })

	_, err := client.SchemaByGlobalID(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, gotOK)
	assert.Equal(t, "svc-serde", gotUser)
	assert.Equal(t, "hunter2", gotPass)
}

func TestRequestHonorsContextCancellation(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.SchemaByGlobalID(ctx, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
