// Package inmemory provides a registry.Client backed by process-local maps.
// It needs no infrastructure, which makes it the natural substitute for a
// live registry in tests, CI pipelines and local development.
package inmemory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/datapond/avroserde/pkg/registry"
)

type artifactKey struct {
	groupID    string
	artifactID string
}

type schemaVersion struct {
	version  int
	globalID uint32
	content  string
}

// Client is an in-memory schema registry. Registration is idempotent by
// canonical schema content: the same content registered under the same
// artifact returns the existing global ID, while a different artifact gains
// a new version pointing at the same ID. Safe for concurrent use.
type Client struct {
	mu        sync.RWMutex
	schemas   map[uint32]string
	artifacts map[artifactKey][]schemaVersion
	idByHash  map[uint64]uint32
	nextID    uint32
}

var _ registry.Client = (*Client)(nil)

// New returns an empty in-memory registry.
func New() *Client {
	return &Client{
		schemas:   make(map[uint32]string),
		artifacts: make(map[artifactKey][]schemaVersion),
		idByHash:  make(map[uint64]uint32),
		nextID:    1,
	}
}

// Close is a no-op.
func (c *Client) Close() error { return nil }

func (c *Client) SchemaByGlobalID(_ context.Context, globalID uint32) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	content, ok := c.schemas[globalID]
	if !ok {
		return "", fmt.Errorf("%w: global ID %d", registry.ErrSchemaNotFound, globalID)
	}
	return content, nil
}

func (c *Client) LatestSchema(_ context.Context, groupID, artifactID string) (uint32, string, error) {
	key := keyFor(groupID, artifactID)
	c.mu.RLock()
	defer c.mu.RUnlock()
	versions := c.artifacts[key]
	if len(versions) == 0 {
		return 0, "", fmt.Errorf("%w: artifact %s/%s", registry.ErrSchemaNotFound, key.groupID, key.artifactID)
	}
	latest := versions[len(versions)-1]
	content, ok := c.schemas[latest.globalID]
	if !ok {
		return 0, "", fmt.Errorf("%w: global ID %d", registry.ErrSchemaNotFound, latest.globalID)
	}
	return latest.globalID, content, nil
}

func (c *Client) SearchArtifacts(_ context.Context, q registry.SearchQuery) ([]registry.ArtifactRef, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var refs []registry.ArtifactRef
	for key, versions := range c.artifacts {
		if len(versions) == 0 {
			continue
		}
		if q.Name != "" && !strings.Contains(strings.ToLower(key.artifactID), strings.ToLower(q.Name)) {
			continue
		}
		if q.GroupID != "" && key.groupID != q.GroupID {
			continue
		}
		refs = append(refs, registry.ArtifactRef{
			GroupID:      key.groupID,
			ArtifactID:   key.artifactID,
			Name:         key.artifactID,
			ArtifactType: registry.ArtifactTypeAvro,
		})
		if q.Limit > 0 && len(refs) == q.Limit {
			break
		}
	}
	return refs, nil
}

func (c *Client) FindArtifactByContent(_ context.Context, schemaJSON, groupID string) (*registry.ArtifactRef, error) {
	canonical, err := registry.CanonicalSchema(schemaJSON)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for key, versions := range c.artifacts {
		if groupID != "" && key.groupID != groupID {
			continue
		}
		for _, v := range versions {
			versionCanonical, err := registry.CanonicalSchema(v.content)
			if err != nil {
				continue
			}
			if versionCanonical == canonical {
				return &registry.ArtifactRef{
					GroupID:      key.groupID,
					ArtifactID:   key.artifactID,
					Name:         key.artifactID,
					ArtifactType: registry.ArtifactTypeAvro,
				}, nil
			}
		}
	}
	return nil, nil
}

func (c *Client) RegisterSchema(_ context.Context, groupID, artifactID, schemaJSON string) (uint32, error) {
	canonical, err := registry.CanonicalSchema(schemaJSON)
	if err != nil {
		return 0, fmt.Errorf("register %s/%s: %w", groupID, artifactID, err)
	}
	hash := xxhash.Sum64String(canonical)
	key := keyFor(groupID, artifactID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if existingID, ok := c.idByHash[hash]; ok {
		for _, v := range c.artifacts[key] {
			if v.globalID == existingID {
				return existingID, nil
			}
		}
		// Known content under a new artifact: add a version sharing the ID.
		c.appendVersion(key, existingID, schemaJSON)
		return existingID, nil
	}

	globalID := c.nextID
	c.nextID++
	c.schemas[globalID] = schemaJSON
	c.idByHash[hash] = globalID
	c.appendVersion(key, globalID, schemaJSON)
	return globalID, nil
}

// AddSchema pre-populates the registry with a schema under an explicit
// global ID. Test helper.
func (c *Client) AddSchema(globalID uint32, schemaJSON, groupID, artifactID string) error {
	canonical, err := registry.CanonicalSchema(schemaJSON)
	if err != nil {
		return fmt.Errorf("add schema %d: %w", globalID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.schemas[globalID] = schemaJSON
	c.idByHash[xxhash.Sum64String(canonical)] = globalID
	c.appendVersion(keyFor(groupID, artifactID), globalID, schemaJSON)
	if globalID >= c.nextID {
		c.nextID = globalID + 1
	}
	return nil
}

// Reset clears all registered schemas and artifacts. Test helper.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schemas = make(map[uint32]string)
	c.artifacts = make(map[artifactKey][]schemaVersion)
	c.idByHash = make(map[uint64]uint32)
	c.nextID = 1
}

func (c *Client) appendVersion(key artifactKey, globalID uint32, content string) {
	c.artifacts[key] = append(c.artifacts[key], schemaVersion{
		version:  len(c.artifacts[key]) + 1,
		globalID: globalID,
		content:  content,
	})
}

func keyFor(groupID, artifactID string) artifactKey {
	if groupID == "" {
		groupID = registry.DefaultGroup
	}
	return artifactKey{groupID: groupID, artifactID: artifactID}
}
