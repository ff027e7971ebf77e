package app

import (
	"context"
	"strings"

	"ragdesk/internal/logging"
	"ragdesk/internal/pkg/tenantkey"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type RetrievedChunk struct {
	Text       string  `json:"text"`
	SourceName string  `json:"source_name"`
	Score      float64 `json:"score"`
}

// Retrieval holds chunks in rank order and the distinct source names in
// order of first appearance.
type Retrieval struct {
	Chunks  []RetrievedChunk
	Sources []string
}

// Context joins the chunk texts in rank order.
func (r Retrieval) Context() string {
	texts := make([]string, 0, len(r.Chunks))
	for _, c := range r.Chunks {
		texts = append(texts, c.Text)
	}
	return strings.Join(texts, "\n\n")
}

func (r Retrieval) Empty() bool { return len(r.Chunks) == 0 }

type Retriever struct {
	embedder Embedder
	index    VectorIndex
	log      logging.Logger
}

func NewRetriever(embedder Embedder, index VectorIndex, log logging.Logger) *Retriever {
	return &Retriever{embedder: embedder, index: index, log: log.With("component", "retriever")}
}

// Retrieve never fails. Embedding or search trouble yields an empty
// Retrieval and the caller answers without grounding.
func (r *Retriever) Retrieve(ctx context.Context, tenant, query string, k int) Retrieval {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.log.Warn(ctx, "query embedding failed, answering ungrounded", "tenant", tenantkey.Fingerprint(tenant), "err", err)
		return Retrieval{}
	}

	hits := r.index.Search(ctx, tenant, vec, k)
	out := Retrieval{Chunks: make([]RetrievedChunk, 0, len(hits))}
	seen := make(map[string]struct{}, len(hits))
	for _, h := range hits {
		out.Chunks = append(out.Chunks, RetrievedChunk{Text: h.Text, SourceName: h.DocumentName, Score: h.Score})
		if _, ok := seen[h.DocumentName]; ok || h.DocumentName == "" {
			continue
		}
		seen[h.DocumentName] = struct{}{}
		out.Sources = append(out.Sources, h.DocumentName)
	}
	return out
}
