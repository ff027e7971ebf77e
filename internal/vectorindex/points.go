package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

const (
	fieldTenant     = "tenant"
	fieldDocumentID = "document_id"

	searchHNSWEf = 128
)

// Payload is stored with every point.
type Payload struct {
	Tenant       string `json:"tenant"`
	DocumentID   string `json:"document_id"`
	DocumentName string `json:"document_name"`
	ChunkIndex   int    `json:"chunk_index"`
	Text         string `json:"text"`
}

type Hit struct {
	Payload
	Score float64
}

type UpsertResult struct {
	Indexed int
	// Dropped lists chunk indices whose embedding failed.
	Dropped []int
}

type point struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector"`
	Payload Payload   `json:"payload"`
}

// Upsert embeds each chunk and writes the ones that embedded successfully.
// An embedding failure only drops that chunk; a failed write to Qdrant is
// returned together with the count written before it.
func (c *Client) Upsert(ctx context.Context, tenant, documentID, documentName string, chunks []string) (UpsertResult, error) {
	var res UpsertResult
	if tenant == "" {
		return res, ErrEmptyTenant
	}

	batch := make([]point, 0, c.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := c.call(ctx, http.MethodPut, c.collectionPath("/points?wait=true"), map[string]any{"points": batch}, nil); err != nil {
			return fmt.Errorf("upsert points failed: %w", err)
		}
		res.Indexed += len(batch)
		batch = batch[:0]
		return nil
	}

	for i, text := range chunks {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		vec, err := c.embedder.Embed(ctx, text)
		if err != nil {
			c.log.Warn(ctx, "chunk embedding failed, skipping", "document_id", documentID, "chunk_index", i, "err", err)
			res.Dropped = append(res.Dropped, i)
			continue
		}
		batch = append(batch, point{
			ID:     uuid.NewString(),
			Vector: vec,
			Payload: Payload{
				Tenant:       tenant,
				DocumentID:   documentID,
				DocumentName: documentName,
				ChunkIndex:   i,
				Text:         text,
			},
		})
		if len(batch) >= c.batchSize {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}
	if err := flush(); err != nil {
		return res, err
	}
	return res, nil
}

// Search never fails: a nil vector, an empty tenant or a backend error all
// yield no hits so callers can answer without grounding.
func (c *Client) Search(ctx context.Context, tenant string, vector []float32, k int) []Hit {
	if tenant == "" || len(vector) == 0 || k <= 0 {
		return nil
	}

	body := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
		"params":       map[string]any{"hnsw_ef": searchHNSWEf},
		"filter":       matchFilter(map[string]string{fieldTenant: tenant}),
	}
	var result []struct {
		Score   float64 `json:"score"`
		Payload Payload `json:"payload"`
	}
	if err := c.call(ctx, http.MethodPost, c.collectionPath("/points/search"), body, &result); err != nil {
		c.log.Warn(ctx, "qdrant search failed", "err", err)
		return nil
	}

	hits := make([]Hit, 0, len(result))
	for _, r := range result {
		if r.Payload.Tenant != tenant {
			c.log.Error(ctx, "search returned foreign point, dropped")
			continue
		}
		hits = append(hits, Hit{Payload: r.Payload, Score: r.Score})
		if len(hits) == k {
			break
		}
	}
	return hits
}

func (c *Client) DeleteByDocument(ctx context.Context, tenant, documentID string) (int, error) {
	if tenant == "" {
		return 0, ErrEmptyTenant
	}
	filter := matchFilter(map[string]string{fieldTenant: tenant, fieldDocumentID: documentID})
	ids, err := c.scrollIDs(ctx, filter, func(p map[string]any) bool {
		return p[fieldTenant] == tenant && p[fieldDocumentID] == documentID
	})
	if err != nil {
		return 0, err
	}
	return c.deletePoints(ctx, ids)
}

func (c *Client) DeleteAllForTenant(ctx context.Context, tenant string) (int, error) {
	if tenant == "" {
		return 0, ErrEmptyTenant
	}
	filter := matchFilter(map[string]string{fieldTenant: tenant})
	ids, err := c.scrollIDs(ctx, filter, func(p map[string]any) bool {
		return p[fieldTenant] == tenant
	})
	if err != nil {
		return 0, err
	}
	return c.deletePoints(ctx, ids)
}

// SweepLeakedPoints deletes points whose tenant field is missing, null or
// empty. It is a maintenance task and safe to run at any time.
func (c *Client) SweepLeakedPoints(ctx context.Context) (int, error) {
	filter := map[string]any{
		"should": []any{
			map[string]any{"is_empty": map[string]any{"key": fieldTenant}},
			map[string]any{"is_null": map[string]any{"key": fieldTenant}},
			map[string]any{"key": fieldTenant, "match": map[string]any{"value": ""}},
		},
	}
	ids, err := c.scrollIDs(ctx, filter, func(p map[string]any) bool {
		s, ok := p[fieldTenant].(string)
		return !ok || s == ""
	})
	if err != nil {
		return 0, err
	}
	n, err := c.deletePoints(ctx, ids)
	if n > 0 {
		c.log.Info(ctx, "leaked points swept", "count", n)
	}
	return n, err
}

// scrollIDs pages through all points matching filter and keeps the ids whose
// payload passes keep.
func (c *Client) scrollIDs(ctx context.Context, filter map[string]any, keep func(map[string]any) bool) ([]json.RawMessage, error) {
	var (
		ids    []json.RawMessage
		offset json.RawMessage
	)
	for {
		body := map[string]any{
			"filter":       filter,
			"limit":        c.pageSize,
			"with_payload": []string{fieldTenant, fieldDocumentID},
			"with_vector":  false,
		}
		if len(offset) > 0 && string(offset) != "null" {
			body["offset"] = offset
		}

		var page struct {
			Points []struct {
				ID      json.RawMessage `json:"id"`
				Payload map[string]any  `json:"payload"`
			} `json:"points"`
			NextPageOffset json.RawMessage `json:"next_page_offset"`
		}
		if err := c.call(ctx, http.MethodPost, c.collectionPath("/points/scroll"), body, &page); err != nil {
			return nil, fmt.Errorf("scroll points failed: %w", err)
		}
		for _, p := range page.Points {
			if keep(p.Payload) {
				ids = append(ids, p.ID)
			}
		}
		if len(page.NextPageOffset) == 0 || string(page.NextPageOffset) == "null" {
			return ids, nil
		}
		offset = page.NextPageOffset
	}
}

func (c *Client) deletePoints(ctx context.Context, ids []json.RawMessage) (int, error) {
	deleted := 0
	for start := 0; start < len(ids); start += c.pageSize {
		end := min(start+c.pageSize, len(ids))
		body := map[string]any{"points": ids[start:end]}
		if err := c.call(ctx, http.MethodPost, c.collectionPath("/points/delete?wait=true"), body, nil); err != nil {
			return deleted, fmt.Errorf("delete points failed: %w", err)
		}
		deleted += end - start
	}
	return deleted, nil
}

func matchFilter(fields map[string]string) map[string]any {
	must := make([]any, 0, len(fields))
	for key, value := range fields {
		must = append(must, map[string]any{"key": key, "match": map[string]any{"value": value}})
	}
	return map[string]any{"must": must}
}
