// Package vectorindex is a tenant-scoped client for the Qdrant REST API.
//
// Every point carries a "tenant" payload field. Search, scroll and delete
// always filter on it, and search results are checked again client-side.
package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ragdesk/internal/logging"
)

var (
	ErrEmptyTenant     = errors.New("tenant is required")
	ErrCollectionState = errors.New("collection has unexpected state")
)

// Embedder turns text into a vector; errors mean "skip this chunk".
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Options struct {
	URL            string
	APIKey         string
	Collection     string
	Dimension      int
	Timeout        time.Duration
	ScrollPageSize int
	UpsertBatch    int
}

type Client struct {
	httpClient *http.Client
	url        string
	apiKey     string
	collection string
	dimension  int
	pageSize   int
	batchSize  int
	embedder   Embedder
	log        logging.Logger
}

func New(opts Options, embedder Embedder, log logging.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.ScrollPageSize <= 0 {
		opts.ScrollPageSize = 500
	}
	if opts.UpsertBatch <= 0 {
		opts.UpsertBatch = 64
	}
	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		url:        strings.TrimRight(opts.URL, "/"),
		apiKey:     opts.APIKey,
		collection: opts.Collection,
		dimension:  opts.Dimension,
		pageSize:   opts.ScrollPageSize,
		batchSize:  opts.UpsertBatch,
		embedder:   embedder,
		log:        log.With("component", "vectorindex", "collection", opts.Collection),
	}
}

// EnsureCollection creates the collection with cosine distance when missing.
// An existing collection, or losing a creation race, counts as success.
func (c *Client) EnsureCollection(ctx context.Context) error {
	status, _, err := c.do(ctx, http.MethodGet, c.collectionPath(""), nil)
	if err != nil {
		return fmt.Errorf("check qdrant collection failed: %w", err)
	}
	if status == http.StatusOK {
		c.ensurePayloadIndexes(ctx)
		return nil
	}
	if status != http.StatusNotFound {
		return fmt.Errorf("%w: GET collection status %d", ErrCollectionState, status)
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     c.dimension,
			"distance": "Cosine",
		},
	}
	status, raw, err := c.do(ctx, http.MethodPut, c.collectionPath(""), body)
	if err != nil {
		return fmt.Errorf("create qdrant collection failed: %w", err)
	}
	switch {
	case status < 300:
		c.log.Info(ctx, "qdrant collection created", "dimension", c.dimension)
	case status == http.StatusConflict || strings.Contains(string(raw), "already exists"):
		c.log.Debug(ctx, "qdrant collection already exists")
	default:
		return fmt.Errorf("%w: PUT collection status %d: %s", ErrCollectionState, status, raw)
	}
	c.ensurePayloadIndexes(ctx)
	return nil
}

// ensurePayloadIndexes is best effort; filters still work without an index.
func (c *Client) ensurePayloadIndexes(ctx context.Context) {
	for _, field := range []string{fieldTenant, fieldDocumentID} {
		body := map[string]any{"field_name": field, "field_schema": "keyword"}
		status, raw, err := c.do(ctx, http.MethodPut, c.collectionPath("/index?wait=true"), body)
		if err != nil || status >= 300 {
			c.log.Warn(ctx, "create payload index failed", "field", field, "status", status, "err", err, "body", string(raw))
		}
	}
}

// Ping reports whether Qdrant answers at all.
func (c *Client) Ping(ctx context.Context) error {
	status, _, err := c.do(ctx, http.MethodGet, "/collections", nil)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("qdrant status %d", status)
	}
	return nil
}

func (c *Client) collectionPath(suffix string) string {
	return "/collections/" + c.collection + suffix
}

// do sends body as JSON and returns the status and raw response body.
// Non-2xx statuses are not errors here; callers decide.
func (c *Client) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal qdrant request failed: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build qdrant request failed: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("qdrant %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read qdrant response failed: %w", err)
	}
	return resp.StatusCode, raw, nil
}

// call is do plus status checking and decoding of the "result" envelope.
func (c *Client) call(ctx context.Context, method, path string, body any, result any) error {
	status, raw, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("qdrant %s %s status %d: %s", method, path, status, truncate(raw, 512))
	}
	if result == nil {
		return nil
	}
	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode qdrant response failed: %w", err)
	}
	if err := json.Unmarshal(envelope.Result, result); err != nil {
		return fmt.Errorf("decode qdrant result failed: %w", err)
	}
	return nil
}

func truncate(raw []byte, n int) string {
	if len(raw) <= n {
		return string(raw)
	}
	return string(raw[:n])
}
