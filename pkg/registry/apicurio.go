package registry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

const (
	apiBase = "/apis/registry/v3"

	// contentSearchLimit bounds canonical content searches; one exact match
	// is all we ever use.
	contentSearchLimit = 10
)

// jsonFast is our high-performance JSON API, used for API DTOs where key
// ordering does not matter.
var jsonFast = jsoniter.ConfigFastest

// Apicurio Registry v3 API payloads.
type versionMetadata struct {
	GlobalID int64  `json:"globalId"`
	Version  string `json:"version"`
}

type searchedArtifact struct {
	GroupID      string `json:"groupId"`
	ArtifactID   string `json:"artifactId"`
	Name         string `json:"name"`
	ArtifactType string `json:"artifactType"`
}

type searchResults struct {
	Artifacts []searchedArtifact `json:"artifacts"`
	Count     int                `json:"count"`
}

type versionContent struct {
	Content     string `json:"content"`
	ContentType string `json:"contentType"`
}

type createVersionRequest struct {
	Content versionContent `json:"content"`
}

type createArtifactRequest struct {
	ArtifactID   string               `json:"artifactId"`
	ArtifactType string               `json:"artifactType"`
	FirstVersion createVersionRequest `json:"firstVersion"`
}

type createArtifactResponse struct {
	Version versionMetadata `json:"version"`
}

// ApicurioClient talks to an Apicurio Registry over its v3 REST API.
type ApicurioClient struct {
	cfg  Config
	http *http.Client
	log  *zap.Logger
}

var _ Client = (*ApicurioClient)(nil)

// NewApicurioClient builds a client from cfg. A nil logger disables logging.
func NewApicurioClient(cfg Config, log *zap.Logger) *ApicurioClient {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultConfig().BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &ApicurioClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}
}

// Close releases idle connections held by the underlying HTTP client.
func (c *ApicurioClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// SchemaByGlobalID fetches the raw schema content registered under globalID.
func (c *ApicurioClient) SchemaByGlobalID(ctx context.Context, globalID uint32) (string, error) {
	path := fmt.Sprintf("%s/ids/globalIds/%d", apiBase, globalID)
	status, body, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return "", err
	}
	if status == http.StatusNotFound {
		return "", fmt.Errorf("%w: global ID %d", ErrSchemaNotFound, globalID)
	}
	if status != http.StatusOK {
		return "", &RequestError{StatusCode: status, Body: string(body)}
	}
	return string(body), nil
}

// LatestSchema resolves the latest version of an artifact via the
// branch=latest endpoint, then fetches its content by global ID.
func (c *ApicurioClient) LatestSchema(ctx context.Context, groupID, artifactID string) (uint32, string, error) {
	if groupID == "" {
		groupID = DefaultGroup
	}
	path := fmt.Sprintf("%s/groups/%s/artifacts/%s/versions/branch=latest",
		apiBase, url.PathEscape(groupID), url.PathEscape(artifactID))
	status, body, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return 0, "", err
	}
	if status == http.StatusNotFound {
		return 0, "", fmt.Errorf("%w: artifact %s/%s", ErrSchemaNotFound, groupID, artifactID)
	}
	if status != http.StatusOK {
		return 0, "", &RequestError{StatusCode: status, Body: string(body)}
	}

	var meta versionMetadata
	if err := jsonFast.Unmarshal(body, &meta); err != nil {
		return 0, "", fmt.Errorf("parse version metadata for %s/%s: %w", groupID, artifactID, err)
	}
	globalID, err := toGlobalID(meta.GlobalID)
	if err != nil {
		return 0, "", fmt.Errorf("artifact %s/%s: %w", groupID, artifactID, err)
	}

	schema, err := c.SchemaByGlobalID(ctx, globalID)
	if err != nil {
		return 0, "", err
	}
	return globalID, schema, nil
}

// SearchArtifacts lists artifacts matching the query.
func (c *ApicurioClient) SearchArtifacts(ctx context.Context, q SearchQuery) ([]ArtifactRef, error) {
	params := url.Values{}
	if q.ArtifactType == "" {
		q.ArtifactType = ArtifactTypeAvro
	}
	params.Set("artifactType", q.ArtifactType)
	if q.Name != "" {
		params.Set("name", q.Name)
	}
	if q.GroupID != "" {
		params.Set("groupId", q.GroupID)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	status, body, err := c.do(ctx, http.MethodGet, apiBase+"/search/artifacts", params, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &RequestError{StatusCode: status, Body: string(body)}
	}

	var results searchResults
	if err := jsonFast.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("parse artifact search results: %w", err)
	}
	refs := make([]ArtifactRef, 0, len(results.Artifacts))
	for _, a := range results.Artifacts {
		refs = append(refs, artifactRef(a))
	}
	return refs, nil
}

// FindArtifactByContent asks the registry for an artifact whose content is
// canonically equal to schemaJSON. Returns (nil, nil) when nothing matches.
func (c *ApicurioClient) FindArtifactByContent(ctx context.Context, schemaJSON, groupID string) (*ArtifactRef, error) {
	params := url.Values{}
	params.Set("canonical", "true")
	params.Set("artifactType", ArtifactTypeAvro)
	params.Set("limit", strconv.Itoa(contentSearchLimit))
	if groupID != "" {
		params.Set("groupId", groupID)
	}

	status, body, err := c.do(ctx, http.MethodPost, apiBase+"/search/artifacts", params, []byte(schemaJSON))
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &RequestError{StatusCode: status, Body: string(body)}
	}

	var results searchResults
	if err := jsonFast.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("parse content search results: %w", err)
	}
	if len(results.Artifacts) == 0 {
		return nil, nil
	}
	ref := artifactRef(results.Artifacts[0])
	return &ref, nil
}

// RegisterSchema creates the artifact, or a new version of it when it
// already exists, and returns the resulting global ID.
func (c *ApicurioClient) RegisterSchema(ctx context.Context, groupID, artifactID, schemaJSON string) (uint32, error) {
	if groupID == "" {
		groupID = DefaultGroup
	}
	reqBody, err := jsonFast.Marshal(createArtifactRequest{
		ArtifactID:   artifactID,
		ArtifactType: ArtifactTypeAvro,
		FirstVersion: createVersionRequest{
			Content: versionContent{Content: schemaJSON, ContentType: "application/json"},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("marshal create-artifact request: %w", err)
	}

	params := url.Values{}
	params.Set("ifExists", "CREATE_VERSION")

	path := fmt.Sprintf("%s/groups/%s/artifacts", apiBase, url.PathEscape(groupID))
	status, body, err := c.do(ctx, http.MethodPost, path, params, reqBody)
	if err != nil {
		return 0, err
	}
	if status == http.StatusConflict {
		return c.registerVersion(ctx, groupID, artifactID, schemaJSON)
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return 0, &RequestError{StatusCode: status, Body: string(body)}
	}

	var resp createArtifactResponse
	if err := jsonFast.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("parse create-artifact response for %s/%s: %w", groupID, artifactID, err)
	}
	globalID, err := toGlobalID(resp.Version.GlobalID)
	if err != nil {
		return 0, fmt.Errorf("registered %s/%s: %w", groupID, artifactID, err)
	}
	c.log.Debug("registered schema",
		zap.String("group", groupID),
		zap.String("artifact", artifactID),
		zap.Uint32("globalId", globalID))
	return globalID, nil
}

// registerVersion adds a new version to an existing artifact.
func (c *ApicurioClient) registerVersion(ctx context.Context, groupID, artifactID, schemaJSON string) (uint32, error) {
	reqBody, err := jsonFast.Marshal(createVersionRequest{
		Content: versionContent{Content: schemaJSON, ContentType: "application/json"},
	})
	if err != nil {
		return 0, fmt.Errorf("marshal create-version request: %w", err)
	}

	path := fmt.Sprintf("%s/groups/%s/artifacts/%s/versions",
		apiBase, url.PathEscape(groupID), url.PathEscape(artifactID))
	status, body, err := c.do(ctx, http.MethodPost, path, nil, reqBody)
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return 0, &RequestError{StatusCode: status, Body: string(body)}
	}

	var meta versionMetadata
	if err := jsonFast.Unmarshal(body, &meta); err != nil {
		return 0, fmt.Errorf("parse create-version response for %s/%s: %w", groupID, artifactID, err)
	}
	globalID, err := toGlobalID(meta.GlobalID)
	if err != nil {
		return 0, fmt.Errorf("registered version of %s/%s: %w", groupID, artifactID, err)
	}
	return globalID, nil
}

// do performs one registry round-trip and returns the status code and body.
// Transport-level failures (including context cancellation) surface as
// errors; HTTP error statuses are left to the caller to interpret.
func (c *ApicurioClient) do(ctx context.Context, method, path string, params url.Values, body []byte) (int, []byte, error) {
	u := c.cfg.BaseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request %s %s: %w", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	c.log.Debug("registry request", zap.String("method", method), zap.String("path", path))
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("registry request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read registry response for %s: %w", path, err)
	}
	return resp.StatusCode, respBody, nil
}

func artifactRef(a searchedArtifact) ArtifactRef {
	groupID := a.GroupID
	if groupID == "" {
		groupID = DefaultGroup
	}
	artifactID := a.ArtifactID
	if artifactID == "" {
		artifactID = a.Name
	}
	return ArtifactRef{
		GroupID:      groupID,
		ArtifactID:   artifactID,
		Name:         a.Name,
		ArtifactType: a.ArtifactType,
	}
}

// toGlobalID narrows a registry-issued ID to the uint32 the wire format
// carries. IDs outside that range cannot be framed and are rejected loudly.
func toGlobalID(id int64) (uint32, error) {
	if id <= 0 || id > math.MaxUint32 {
		return 0, fmt.Errorf("global ID %d outside uint32 wire range", id)
	}
	return uint32(id), nil
}
