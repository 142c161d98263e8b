// Package serde serializes and deserializes Avro records framed with the
// Confluent wire format, resolving schemas through a registry client and
// memoizing the resolution per serializer instance.
package serde

import (
	"context"
	"fmt"
	"strings"

	"github.com/hamba/avro/v2"
	"go.uber.org/zap"

	"github.com/datapond/avroserde/pkg/registry"
	"github.com/datapond/avroserde/pkg/schemacache"
	"github.com/datapond/avroserde/pkg/wire"
)

// candidateLimit bounds how many artifacts an automatic match scans.
const candidateLimit = 100

// Record binds a Go value to its Avro schema. Implementations return the
// same parsed schema on every call, typically a package-level
// avro.MustParse value. Deserialization decodes into the receiver, so
// Record is implemented on pointer types.
type Record interface {
	AvroSchema() avro.Schema
}

// Serializer orchestrates envelope framing, schema resolution and the Avro
// binary codec. Safe for concurrent use.
type Serializer struct {
	client  registry.Client
	cache   *schemacache.Cache
	compat  *avro.SchemaCompatibility
	log     *zap.Logger
	groupID string
	noCache bool
}

// Option configures a Serializer.
type Option func(*Serializer)

// WithLogger attaches a logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(s *Serializer) { s.log = log }
}

// WithGroupID sets the registry group new schemas are registered under.
func WithGroupID(groupID string) Option {
	return func(s *Serializer) { s.groupID = groupID }
}

// WithoutCache makes every schema lookup round-trip to the registry. Pair
// it with registry Config.CacheSchemas=false when registry-side changes
// must be observed immediately.
func WithoutCache() Option {
	return func(s *Serializer) { s.noCache = true }
}

// New builds a serializer over the given registry client.
func New(client registry.Client, opts ...Option) *Serializer {
	s := &Serializer{
		client:  client,
		compat:  avro.NewSchemaCompatibility(),
		log:     zap.NewNop(),
		groupID: registry.DefaultGroup,
	}
	for _, opt := range opts {
		opt(s)
	}

	cacheOpts := []schemacache.Option{schemacache.WithLogger(s.log)}
	if s.noCache {
		cacheOpts = append(cacheOpts, schemacache.Disabled())
	}
	s.cache = schemacache.New(client, cacheOpts...)
	return s
}

// Close releases the underlying registry client.
func (s *Serializer) Close() error {
	return s.client.Close()
}

// Serialize encodes a record and frames it with the Confluent envelope. The
// record's schema is registered under its full name on first use; later
// calls reuse the cached schema ID.
func (s *Serializer) Serialize(ctx context.Context, rec Record) ([]byte, error) {
	schema := rec.AvroSchema()
	id, err := s.cache.GetOrRegisterID(ctx, schema, s.groupID, artifactName(schema))
	if err != nil {
		return nil, err
	}

	payload, err := avro.Marshal(schema, rec)
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s: %w", ErrSerialization, artifactName(schema), err)
	}
	return wire.Encode(id, payload), nil
}

// SerializeWithID encodes a record against the schema registered under an
// explicit global ID. A record that does not fit that schema fails with
// ErrSchemaMismatch.
func (s *Serializer) SerializeWithID(ctx context.Context, rec Record, globalID uint32) ([]byte, error) {
	schema, err := s.cache.SchemaByID(ctx, globalID)
	if err != nil {
		return nil, err
	}

	payload, err := avro.Marshal(schema, rec)
	if err != nil {
		return nil, fmt.Errorf("%w: record does not fit schema ID %d: %w", ErrSchemaMismatch, globalID, err)
	}
	return wire.Encode(globalID, payload), nil
}

// SerializeMatched encodes a record against a schema already present in the
// registry, without registering anything. An exact content match wins;
// otherwise every Avro artifact is checked for read compatibility with the
// record's schema and exactly one compatible candidate must remain, else
// the call fails with ErrSchemaMatch.
func (s *Serializer) SerializeMatched(ctx context.Context, rec Record) ([]byte, error) {
	schema := rec.AvroSchema()

	if id, ok := s.cache.LookupID(schema); ok {
		return s.encodeFramed(rec, schema, id)
	}

	id, matched, err := s.matchSchema(ctx, schema)
	if err != nil {
		return nil, err
	}
	s.cache.Put(id, matched)
	return s.encodeFramed(rec, matched, id)
}

// Deserialize decodes a framed message into rec, reconciling the writer
// schema against the record's own schema.
func (s *Serializer) Deserialize(ctx context.Context, msg []byte, rec Record) error {
	_, err := s.DeserializeWithSchema(ctx, msg, rec)
	return err
}

// DeserializeWithSchema decodes a framed message into rec and also returns
// the writer schema the message was encoded with. The record ends up
// reader-shaped: fields the writer never wrote take the reader schema's
// defaults, and an unbridgeable difference fails with ErrSchemaMismatch.
func (s *Serializer) DeserializeWithSchema(ctx context.Context, msg []byte, rec Record) (avro.Schema, error) {
	globalID, payload, err := wire.Decode(msg)
	if err != nil {
		return nil, err
	}

	writer, err := s.cache.SchemaByID(ctx, globalID)
	if err != nil {
		return nil, err
	}

	reader := rec.AvroSchema()
	resolved, err := s.compat.Resolve(reader, writer)
	if err != nil {
		return nil, fmt.Errorf("%w: writer schema ID %d is incompatible with %s: %w",
			ErrSchemaMismatch, globalID, artifactName(reader), err)
	}

	if err := avro.Unmarshal(resolved, payload, rec); err != nil {
		return nil, fmt.Errorf("%w: decode payload for schema ID %d: %w", ErrDeserialization, globalID, err)
	}
	return writer, nil
}

// Register registers the record's schema under group/artifact and returns
// its global ID. Registration is idempotent for identical schema content.
func (s *Serializer) Register(ctx context.Context, rec Record, groupID, artifactID string) (uint32, error) {
	if groupID == "" {
		groupID = s.groupID
	}
	schema := rec.AvroSchema()
	if artifactID == "" {
		artifactID = artifactName(schema)
	}
	return s.cache.GetOrRegisterID(ctx, schema, groupID, artifactID)
}

// matchSchema finds the single registered schema the given reader schema is
// compatible with.
func (s *Serializer) matchSchema(ctx context.Context, schema avro.Schema) (uint32, avro.Schema, error) {
	// Exact content match short-circuits the compatibility scan.
	ref, err := s.client.FindArtifactByContent(ctx, schema.String(), "")
	if err != nil {
		return 0, nil, err
	}
	if ref != nil {
		id, content, err := s.client.LatestSchema(ctx, ref.GroupID, ref.ArtifactID)
		if err != nil {
			return 0, nil, err
		}
		matched, err := avro.Parse(content)
		if err != nil {
			return 0, nil, fmt.Errorf("parse schema for %s/%s: %w", ref.GroupID, ref.ArtifactID, err)
		}
		s.log.Debug("matched schema by content",
			zap.String("artifact", ref.ArtifactID), zap.Uint32("globalId", id))
		return id, matched, nil
	}

	refs, err := s.client.SearchArtifacts(ctx, registry.SearchQuery{
		ArtifactType: registry.ArtifactTypeAvro,
		Limit:        candidateLimit,
	})
	if err != nil {
		return 0, nil, err
	}

	var (
		matchedID     uint32
		matchedSchema avro.Schema
		matchedNames  []string
	)
	for _, cand := range refs {
		id, content, err := s.client.LatestSchema(ctx, cand.GroupID, cand.ArtifactID)
		if err != nil {
			if registry.IsNotFound(err) {
				continue
			}
			return 0, nil, err
		}
		candSchema, err := avro.Parse(content)
		if err != nil {
			continue
		}
		if err := s.compat.Compatible(schema, candSchema); err != nil {
			continue
		}
		matchedID, matchedSchema = id, candSchema
		matchedNames = append(matchedNames, cand.GroupID+"/"+cand.ArtifactID)
	}

	switch len(matchedNames) {
	case 0:
		return 0, nil, fmt.Errorf("%w: no registered schema is compatible with %s; "+
			"register the schema or pass an explicit schema ID", ErrSchemaMatch, artifactName(schema))
	case 1:
		return matchedID, matchedSchema, nil
	default:
		return 0, nil, fmt.Errorf("%w: %d registered schemas are compatible with %s (%s); "+
			"pass an explicit schema ID to disambiguate",
			ErrSchemaMatch, len(matchedNames), artifactName(schema), strings.Join(matchedNames, ", "))
	}
}

// encodeFramed encodes rec against a registry-owned schema and frames it.
func (s *Serializer) encodeFramed(rec Record, schema avro.Schema, globalID uint32) ([]byte, error) {
	payload, err := avro.Marshal(schema, rec)
	if err != nil {
		return nil, fmt.Errorf("%w: record does not fit matched schema ID %d: %w", ErrSchemaMismatch, globalID, err)
	}
	return wire.Encode(globalID, payload), nil
}

// artifactName derives the registry artifact name for a schema, preferring
// the record's full name.
func artifactName(schema avro.Schema) string {
	if named, ok := schema.(avro.NamedSchema); ok {
		return named.FullName()
	}
	return string(schema.Type())
}
