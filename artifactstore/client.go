// Package artifactstore is a thin net/http client for the external
// content-addressed artifact store (the mwdb analogue): three upload
// endpoints, tag/comment attachment, and a query-by-hash lookup.
//
// Grounded on utils.py's get_mwdb()/report_mwdb_tree's mwdb.upload_config/
// upload_file/upload_blob/add_tag/add_comment calls and report_fetch.py's
// query_config. No ecosystem HTTP client library in the retrieval pack
// fits this specific three-endpoint multipart-ish contract (it is a
// bespoke API, not S3/GCS/a generic object store), so it is built
// directly on net/http; the JSON envelope and error handling otherwise
// follow this repository's adapter-package conventions (explicit
// context, wrapped errors).
package artifactstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Object is what every upload endpoint returns: the content-addressed
// identity assigned to the uploaded artifact.
type Object struct {
	SHA256 string `json:"sha256"`
	ID     int64  `json:"id"`
}

// Client talks to the artifact store's HTTP API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New builds a Client. baseURL must not have a trailing slash.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// WithHTTPClient overrides the underlying *http.Client (used by tests to
// inject a transport pointed at an httptest.Server).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

type uploadConfigRequest struct {
	Family     string         `json:"family"`
	Config     map[string]any `json:"cfg"`
	ConfigType string         `json:"config_type"`
	Attributes map[string]any `json:"attributes"`
	Parent     string         `json:"parent,omitempty"`
}

// UploadConfig pushes a config node, returning its assigned sha256.
func (c *Client) UploadConfig(ctx context.Context, family string, config map[string]any, configType string, attrs map[string]any, parent string) (Object, error) {
	return c.post(ctx, "/upload_config", uploadConfigRequest{
		Family: family, Config: config, ConfigType: configType, Attributes: attrs, Parent: parent,
	})
}

type uploadFileRequest struct {
	Name       string         `json:"name"`
	Content    string         `json:"content"` // base64
	Attributes map[string]any `json:"attributes"`
	Parent     string         `json:"parent,omitempty"`
}

// UploadFile pushes a binary node.
func (c *Client) UploadFile(ctx context.Context, name string, content []byte, attrs map[string]any, parent string) (Object, error) {
	return c.post(ctx, "/upload_file", uploadFileRequest{
		Name: name, Content: base64.StdEncoding.EncodeToString(content), Attributes: attrs, Parent: parent,
	})
}

type uploadBlobRequest struct {
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Content    string         `json:"content"`
	Attributes map[string]any `json:"attributes"`
	Parent     string         `json:"parent,omitempty"`
}

// UploadBlob pushes a blob node.
func (c *Client) UploadBlob(ctx context.Context, name, blobType, content string, attrs map[string]any, parent string) (Object, error) {
	return c.post(ctx, "/upload_blob", uploadBlobRequest{
		Name: name, Type: blobType, Content: content, Attributes: attrs, Parent: parent,
	})
}

// AddTag attaches a tag to an existing object by sha256.
func (c *Client) AddTag(ctx context.Context, sha256, tag string) error {
	_, err := c.post(ctx, fmt.Sprintf("/object/%s/tag", sha256), map[string]string{"tag": tag})
	return err
}

// AddComment attaches a comment to an existing object by sha256.
func (c *Client) AddComment(ctx context.Context, sha256, comment string) error {
	_, err := c.post(ctx, fmt.Sprintf("/object/%s/comment", sha256), map[string]string{"comment": comment})
	return err
}

// QueryConfig looks up a config object by its hash, used by the legacy
// ingest path to check whether a tracker's config was already uploaded.
func (c *Client) QueryConfig(ctx context.Context, hash string) (*Object, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/config/"+hash, nil)
	if err != nil {
		return nil, fmt.Errorf("artifactstore: build request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("artifactstore: query_config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("artifactstore: query_config: unexpected status %d", resp.StatusCode)
	}

	var obj Object
	if err := json.NewDecoder(resp.Body).Decode(&obj); err != nil {
		return nil, fmt.Errorf("artifactstore: decode query_config response: %w", err)
	}
	return &obj, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) post(ctx context.Context, path string, body any) (Object, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return Object{}, fmt.Errorf("artifactstore: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return Object{}, fmt.Errorf("artifactstore: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Object{}, fmt.Errorf("artifactstore: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return Object{}, fmt.Errorf("artifactstore: %s: unexpected status %d: %s", path, resp.StatusCode, string(data))
	}

	var obj Object
	if err := json.NewDecoder(resp.Body).Decode(&obj); err != nil {
		return Object{}, fmt.Errorf("artifactstore: %s: decode response: %w", path, err)
	}
	return obj, nil
}
