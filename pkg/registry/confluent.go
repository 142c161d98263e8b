package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/riferrei/srclient"
)

// Confluent Schema Registry error codes for the not-found family.
const (
	codeSubjectNotFound = 40401
	codeVersionNotFound = 40402
	codeSchemaNotFound  = 40403
)

// ConfluentClient adapts a Confluent-API registry (including Apicurio's
// ccompat endpoint) to the Client capability. Group and artifact IDs map to
// subjects as "group-artifact"; the default group maps to the bare artifact
// ID. Subject-level caching is left to the serializer's own cache.
type ConfluentClient struct {
	client *srclient.SchemaRegistryClient
}

var _ Client = (*ConfluentClient)(nil)

// NewConfluentClient builds an adapter from cfg.
func NewConfluentClient(cfg Config) *ConfluentClient {
	c := srclient.CreateSchemaRegistryClient(cfg.BaseURL)
	if cfg.Username != "" {
		c.SetCredentials(cfg.Username, cfg.Password)
	}
	if cfg.Timeout > 0 {
		c.SetTimeout(cfg.Timeout)
	}
	c.CachingEnabled(false)
	return &ConfluentClient{client: c}
}

// Close is a no-op; srclient holds no long-lived connections of its own.
func (c *ConfluentClient) Close() error { return nil }

func (c *ConfluentClient) SchemaByGlobalID(ctx context.Context, globalID uint32) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	schema, err := c.client.GetSchema(int(globalID))
	if err != nil {
		if isConfluentNotFound(err) {
			return "", fmt.Errorf("%w: global ID %d", ErrSchemaNotFound, globalID)
		}
		return "", fmt.Errorf("fetch schema ID %d: %w", globalID, err)
	}
	return schema.Schema(), nil
}

func (c *ConfluentClient) LatestSchema(ctx context.Context, groupID, artifactID string) (uint32, string, error) {
	if err := ctx.Err(); err != nil {
		return 0, "", err
	}
	subject := subjectFor(groupID, artifactID)
	schema, err := c.client.GetLatestSchema(subject)
	if err != nil {
		if isConfluentNotFound(err) {
			return 0, "", fmt.Errorf("%w: subject %s", ErrSchemaNotFound, subject)
		}
		return 0, "", fmt.Errorf("fetch latest schema for %s: %w", subject, err)
	}
	id, err := toGlobalID(int64(schema.ID()))
	if err != nil {
		return 0, "", fmt.Errorf("subject %s: %w", subject, err)
	}
	return id, schema.Schema(), nil
}

func (c *ConfluentClient) SearchArtifacts(ctx context.Context, q SearchQuery) ([]ArtifactRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	subjects, err := c.client.GetSubjects()
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}

	refs := make([]ArtifactRef, 0, len(subjects))
	for _, subject := range subjects {
		if q.Name != "" && !strings.Contains(strings.ToLower(subject), strings.ToLower(q.Name)) {
			continue
		}
		groupID, artifactID := splitSubject(subject)
		if q.GroupID != "" && groupID != q.GroupID {
			continue
		}
		refs = append(refs, ArtifactRef{
			GroupID:      groupID,
			ArtifactID:   artifactID,
			Name:         artifactID,
			ArtifactType: ArtifactTypeAvro,
		})
		if q.Limit > 0 && len(refs) == q.Limit {
			break
		}
	}
	return refs, nil
}

// FindArtifactByContent scans subjects and compares canonicalized latest
// schemas; the Confluent search API has no registry-wide content lookup.
func (c *ConfluentClient) FindArtifactByContent(ctx context.Context, schemaJSON, groupID string) (*ArtifactRef, error) {
	target, err := CanonicalSchema(schemaJSON)
	if err != nil {
		return nil, err
	}

	refs, err := c.SearchArtifacts(ctx, SearchQuery{GroupID: groupID})
	if err != nil {
		return nil, err
	}
	for i := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, content, err := c.LatestSchema(ctx, refs[i].GroupID, refs[i].ArtifactID)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		candidate, err := CanonicalSchema(content)
		if err != nil {
			continue
		}
		if candidate == target {
			return &refs[i], nil
		}
	}
	return nil, nil
}

func (c *ConfluentClient) RegisterSchema(ctx context.Context, groupID, artifactID, schemaJSON string) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	subject := subjectFor(groupID, artifactID)
	schema, err := c.client.CreateSchema(subject, schemaJSON, srclient.Avro)
	if err != nil {
		return 0, fmt.Errorf("register schema for %s: %w", subject, err)
	}
	id, err := toGlobalID(int64(schema.ID()))
	if err != nil {
		return 0, fmt.Errorf("registered %s: %w", subject, err)
	}
	return id, nil
}

func subjectFor(groupID, artifactID string) string {
	if groupID == "" || groupID == DefaultGroup {
		return artifactID
	}
	return groupID + "-" + artifactID
}

func splitSubject(subject string) (groupID, artifactID string) {
	if group, artifact, ok := strings.Cut(subject, "-"); ok && group != "" && artifact != "" {
		return group, artifact
	}
	return DefaultGroup, subject
}

func isConfluentNotFound(err error) bool {
	var srErr srclient.Error
	if errors.As(err, &srErr) {
		switch srErr.Code {
		case codeSubjectNotFound, codeVersionNotFound, codeSchemaNotFound:
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "404") || strings.Contains(strings.ToLower(msg), "not found")
}
