package ai

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
)

var (
	ErrEmptyInput        = errors.New("embedding input is empty")
	ErrMalformedResponse = errors.New("malformed embedding response")
)

type EmbedderOptions struct {
	BaseURL   string
	APIKey    string
	Model     string
	Dimension int
	Timeout   time.Duration
}

// Embedder calls an OpenAI-compatible /embeddings endpoint. It never retries;
// every failure is returned so the caller can skip the unit.
type Embedder struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	dimension  int
}

func NewEmbedder(opts EmbedderOptions) *Embedder {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Embedder{
		httpClient: &http.Client{Timeout: opts.Timeout},
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		model:      opts.Model,
		dimension:  opts.Dimension,
	}
}

func (e *Embedder) Dimension() int { return e.dimension }

// NormalizeInput collapses all whitespace runs, newlines included, into single spaces.
func NormalizeInput(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	text = NormalizeInput(text)
	if text == "" {
		return nil, ErrEmptyInput
	}

	bodyBytes, err := json.Marshal(map[string]any{
		"model": e.model,
		"input": text,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("build embedding request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embedding response status %d: %s", resp.StatusCode, truncate(string(raw), 512))
	}

	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: no embedding", ErrMalformedResponse)
	}
	vec := parsed.Data[0].Embedding
	if e.dimension > 0 && len(vec) != e.dimension {
		return nil, fmt.Errorf("%w: got dimension %d, want %d", ErrMalformedResponse, len(vec), e.dimension)
	}
	return vec, nil
}
