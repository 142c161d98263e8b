// Package registry defines the schema registry capability consumed by the
// serializer core, together with two live implementations: an Apicurio
// Registry v3 client and an adapter for Confluent-API registries.
package registry

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

const (
	// DefaultGroup is the Apicurio group artifacts land in when the caller
	// does not name one.
	DefaultGroup = "default"

	// ArtifactTypeAvro is the Apicurio artifact type for Avro schemas.
	ArtifactTypeAvro = "AVRO"
)

// jsonStrict sorts map keys, which canonicalization depends on.
var jsonStrict = jsoniter.ConfigCompatibleWithStandardLibrary

// ArtifactRef identifies one schema artifact in the registry.
type ArtifactRef struct {
	GroupID      string
	ArtifactID   string
	Name         string
	ArtifactType string
}

// SearchQuery filters an artifact search. Zero values mean "no filter";
// ArtifactType defaults to AVRO.
type SearchQuery struct {
	Name         string
	ArtifactType string
	GroupID      string
	Limit        int
}

// Client is the registry capability the serializer core depends on. All
// round-trips honor the passed context; implementations must not retry on
// their own. FindArtifactByContent returns (nil, nil) when nothing matches.
type Client interface {
	// SchemaByGlobalID fetches the raw schema JSON registered under a global ID.
	// Fails with ErrSchemaNotFound if the registry has no such ID.
	SchemaByGlobalID(ctx context.Context, globalID uint32) (string, error)

	// LatestSchema resolves the newest version of an artifact to its global ID
	// and raw schema JSON.
	LatestSchema(ctx context.Context, groupID, artifactID string) (uint32, string, error)

	// SearchArtifacts lists artifacts matching the query.
	SearchArtifacts(ctx context.Context, q SearchQuery) ([]ArtifactRef, error)

	// FindArtifactByContent looks up an artifact whose registered content is
	// canonically equal to schemaJSON, optionally scoped to a group.
	FindArtifactByContent(ctx context.Context, schemaJSON, groupID string) (*ArtifactRef, error)

	// RegisterSchema registers schemaJSON under group/artifact and returns its
	// global ID. Registering identical content for the same artifact is
	// idempotent and returns the existing ID.
	RegisterSchema(ctx context.Context, groupID, artifactID, schemaJSON string) (uint32, error)

	// Close releases the client's underlying connections. Safe to call more
	// than once.
	Close() error
}

// CanonicalSchema normalizes schema JSON to a compact form with sorted object
// keys so that two renderings of the same schema compare equal. Field and
// union ordering is preserved, as it is significant in Avro.
func CanonicalSchema(schemaJSON string) (string, error) {
	var v any
	if err := jsonStrict.UnmarshalFromString(schemaJSON, &v); err != nil {
		return "", fmt.Errorf("parse schema JSON: %w", err)
	}
	out, err := jsonStrict.MarshalToString(v)
	if err != nil {
		return "", fmt.Errorf("marshal canonical schema: %w", err)
	}
	return out, nil
}
