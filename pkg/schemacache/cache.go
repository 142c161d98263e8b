// Package schemacache memoizes schema resolution in both directions:
// global ID to parsed schema, and schema fingerprint to global ID. Failed
// lookups are never cached, so transient registry state gets a fresh
// attempt on the next call.
package schemacache

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hamba/avro/v2"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/datapond/avroserde/pkg/registry"
)

// jsonFast is our high-performance JSON API.
var jsonFast = jsoniter.ConfigFastest

// Cache resolves schemas through a registry client, memoizing results.
// A Cache is owned by its serializer; independently configured serializers
// hold independent caches.
type Cache struct {
	client   registry.Client
	disabled bool
	log      *zap.Logger

	byID   sync.Map // uint32 -> avro.Schema
	idByFP sync.Map // [32]byte -> uint32
	group  singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// Disabled turns memoization off: every lookup round-trips to the registry.
func Disabled() Option {
	return func(c *Cache) { c.disabled = true }
}

// WithLogger attaches a logger for cache-miss diagnostics.
func WithLogger(log *zap.Logger) Option {
	return func(c *Cache) { c.log = log }
}

// New builds a cache over the given registry client.
func New(client registry.Client, opts ...Option) *Cache {
	c := &Cache{client: client, log: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SchemaByID resolves a global ID to its parsed schema. Cache hits return
// without suspending; misses are deduplicated through singleflight so
// concurrent callers racing on the same ID issue at most one round-trip.
func (c *Cache) SchemaByID(ctx context.Context, globalID uint32) (avro.Schema, error) {
	if !c.disabled {
		if v, ok := c.byID.Load(globalID); ok {
			return v.(avro.Schema), nil
		}
	}

	if c.disabled {
		return c.fetchSchema(ctx, globalID)
	}

	v, err, _ := c.group.Do(fmt.Sprintf("id:%d", globalID), func() (interface{}, error) {
		schema, err := c.fetchSchema(ctx, globalID)
		if err != nil {
			return nil, err
		}
		c.byID.Store(globalID, schema)
		return schema, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(avro.Schema), nil
}

// GetOrRegisterID resolves a schema to its global ID, registering it under
// group/artifact on a cache miss. Registration is idempotent at the registry,
// so concurrent misses for the same schema converge on the same ID.
func (c *Cache) GetOrRegisterID(ctx context.Context, schema avro.Schema, groupID, artifactID string) (uint32, error) {
	fp := schema.Fingerprint()
	if !c.disabled {
		if v, ok := c.idByFP.Load(fp); ok {
			return v.(uint32), nil
		}
	}

	if c.disabled {
		return c.client.RegisterSchema(ctx, groupID, artifactID, schema.String())
	}

	v, err, _ := c.group.Do(fmt.Sprintf("fp:%x", fp), func() (interface{}, error) {
		c.log.Debug("registering schema", zap.String("artifact", artifactID))
		id, err := c.client.RegisterSchema(ctx, groupID, artifactID, schema.String())
		if err != nil {
			return nil, err
		}
		c.put(id, schema, fp)
		return id, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(uint32), nil
}

// LookupID reports the cached global ID for a schema, if any.
func (c *Cache) LookupID(schema avro.Schema) (uint32, bool) {
	if c.disabled {
		return 0, false
	}
	v, ok := c.idByFP.Load(schema.Fingerprint())
	if !ok {
		return 0, false
	}
	return v.(uint32), true
}

// Put records a resolved schema/ID pair in both directions. No-op when the
// cache is disabled.
func (c *Cache) Put(globalID uint32, schema avro.Schema) {
	if c.disabled {
		return
	}
	c.put(globalID, schema, schema.Fingerprint())
}

func (c *Cache) put(globalID uint32, schema avro.Schema, fp [32]byte) {
	c.byID.Store(globalID, schema)
	c.idByFP.Store(fp, globalID)
}

func (c *Cache) fetchSchema(ctx context.Context, globalID uint32) (avro.Schema, error) {
	c.log.Debug("fetching schema", zap.Uint32("globalId", globalID))
	raw, err := c.client.SchemaByGlobalID(ctx, globalID)
	if err != nil {
		return nil, err
	}
	schema, err := avro.Parse(unwrapSchema(raw))
	if err != nil {
		return nil, fmt.Errorf("parse schema for global ID %d: %w", globalID, err)
	}
	return schema, nil
}

// unwrapSchema handles registries that envelope schema content as
// {"schema": "..."} rather than returning the schema document itself.
func unwrapSchema(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return raw
	}
	var envelope struct {
		Schema string `json:"schema"`
	}
	if err := jsonFast.UnmarshalFromString(trimmed, &envelope); err == nil && envelope.Schema != "" {
		return envelope.Schema
	}
	return raw
}
