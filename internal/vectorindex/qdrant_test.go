package vectorindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragdesk/internal/logging"
)

type fakePoint struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// fakeQdrant implements the slice of the Qdrant REST API the client uses.
type fakeQdrant struct {
	mu               sync.Mutex
	exists           bool
	conflictOnCreate bool
	failSearch       bool
	injectForeign    *fakePoint
	createCalls      int
	searchCalls      int
	points           map[string]fakePoint
	apiKeys          []string
}

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{points: map[string]fakePoint{}}
}

func (f *fakeQdrant) seed(id string, payload map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points[id] = fakePoint{ID: id, Vector: []float32{1, 0}, Payload: payload}
}

func (f *fakeQdrant) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.points)
}

func writeResult(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "status": "ok"})
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apiKeys = append(f.apiKeys, r.Header.Get("api-key"))

	path := strings.TrimPrefix(r.URL.Path, "/collections")
	switch {
	case r.Method == http.MethodGet && path == "":
		writeResult(w, map[string]any{"collections": []any{}})
	case r.Method == http.MethodGet && path == "/docs":
		if !f.exists {
			http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
			return
		}
		writeResult(w, map[string]any{"status": "green"})
	case r.Method == http.MethodPut && path == "/docs":
		f.createCalls++
		if f.exists || f.conflictOnCreate {
			f.exists = true
			http.Error(w, `{"status":{"error":"Wrong input: Collection `+"`docs`"+` already exists!"}}`, http.StatusConflict)
			return
		}
		f.exists = true
		writeResult(w, true)
	case r.Method == http.MethodPut && path == "/docs/index":
		writeResult(w, map[string]any{"status": "completed"})
	case r.Method == http.MethodPut && path == "/docs/points":
		var req struct {
			Points []fakePoint `json:"points"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, p := range req.Points {
			f.points[p.ID] = p
		}
		writeResult(w, map[string]any{"status": "completed"})
	case r.Method == http.MethodPost && path == "/docs/points/search":
		f.searchCalls++
		if f.failSearch {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		f.search(w, r)
	case r.Method == http.MethodPost && path == "/docs/points/scroll":
		f.scroll(w, r)
	case r.Method == http.MethodPost && path == "/docs/points/delete":
		var req struct {
			Points []string `json:"points"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, id := range req.Points {
			delete(f.points, id)
		}
		writeResult(w, map[string]any{"status": "completed"})
	default:
		http.Error(w, "unexpected "+r.Method+" "+r.URL.Path, http.StatusTeapot)
	}
}

func (f *fakeQdrant) search(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Vector []float32      `json:"vector"`
		Limit  int            `json:"limit"`
		Filter map[string]any `json:"filter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	type scored struct {
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
	}
	var out []scored
	if f.injectForeign != nil {
		out = append(out, scored{Score: 2, Payload: f.injectForeign.Payload})
	}
	for _, p := range f.sorted() {
		if !matches(req.Filter, p.Payload) {
			continue
		}
		var dot float64
		for i := range p.Vector {
			if i < len(req.Vector) {
				dot += float64(p.Vector[i] * req.Vector[i])
			}
		}
		out = append(out, scored{Score: dot, Payload: p.Payload})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > req.Limit {
		out = out[:req.Limit]
	}
	writeResult(w, out)
}

func (f *fakeQdrant) scroll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filter map[string]any `json:"filter"`
		Limit  int            `json:"limit"`
		Offset *string        `json:"offset"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var matched []fakePoint
	for _, p := range f.sorted() {
		if matches(req.Filter, p.Payload) {
			matched = append(matched, p)
		}
	}
	start := 0
	if req.Offset != nil {
		for i, p := range matched {
			if p.ID == *req.Offset {
				start = i
				break
			}
		}
	}
	end := min(start+req.Limit, len(matched))
	type item struct {
		ID      string         `json:"id"`
		Payload map[string]any `json:"payload"`
	}
	page := make([]item, 0, end-start)
	for _, p := range matched[start:end] {
		page = append(page, item{ID: p.ID, Payload: p.Payload})
	}
	var next any
	if end < len(matched) {
		next = matched[end].ID
	}
	writeResult(w, map[string]any{"points": page, "next_page_offset": next})
}

func (f *fakeQdrant) sorted() []fakePoint {
	out := make([]fakePoint, 0, len(f.points))
	for _, p := range f.points {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func matches(filter map[string]any, payload map[string]any) bool {
	if must, ok := filter["must"].([]any); ok {
		for _, c := range must {
			if !condition(c.(map[string]any), payload) {
				return false
			}
		}
	}
	if should, ok := filter["should"].([]any); ok && len(should) > 0 {
		for _, c := range should {
			if condition(c.(map[string]any), payload) {
				return true
			}
		}
		return false
	}
	return true
}

func condition(c map[string]any, payload map[string]any) bool {
	if spec, ok := c["is_empty"].(map[string]any); ok {
		v, present := payload[spec["key"].(string)]
		return !present || v == nil
	}
	if spec, ok := c["is_null"].(map[string]any); ok {
		v, present := payload[spec["key"].(string)]
		return present && v == nil
	}
	v, present := payload[c["key"].(string)]
	return present && v == c["match"].(map[string]any)["value"]
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if strings.Contains(text, "FAIL") {
		return nil, errors.New("embedding backend down")
	}
	if strings.Contains(text, "cats") {
		return []float32{1, 0}, nil
	}
	return []float32{0, 1}, nil
}

func newTestClient(t *testing.T, fake *fakeQdrant, pageSize, batch int) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return New(Options{
		URL:            srv.URL + "/",
		APIKey:         "k",
		Collection:     "docs",
		Dimension:      2,
		ScrollPageSize: pageSize,
		UpsertBatch:    batch,
	}, fakeEmbedder{}, logging.Discard())
}

func TestEnsureCollection_Idempotent(t *testing.T) {
	fake := newFakeQdrant()
	c := newTestClient(t, fake, 10, 10)

	require.NoError(t, c.EnsureCollection(context.Background()))
	require.NoError(t, c.EnsureCollection(context.Background()))

	assert.Equal(t, 1, fake.createCalls)
	assert.True(t, fake.exists)
	assert.Contains(t, fake.apiKeys, "k")
}

func TestEnsureCollection_CreationRaceIsSuccess(t *testing.T) {
	fake := newFakeQdrant()
	fake.conflictOnCreate = true
	c := newTestClient(t, fake, 10, 10)

	require.NoError(t, c.EnsureCollection(context.Background()))
	assert.Equal(t, 1, fake.createCalls)
}

func TestUpsert_SkipsFailedEmbeddings(t *testing.T) {
	fake := newFakeQdrant()
	c := newTestClient(t, fake, 10, 2)

	res, err := c.Upsert(context.Background(), "tenant-a", "doc-1", "notes.txt",
		[]string{"about cats", "FAIL here", "about dogs", "more cats"})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Indexed)
	assert.Equal(t, []int{1}, res.Dropped)
	require.Equal(t, 3, fake.count())
	indices := map[float64]bool{}
	for _, p := range fake.points {
		assert.Equal(t, "tenant-a", p.Payload["tenant"])
		assert.Equal(t, "doc-1", p.Payload["document_id"])
		assert.Equal(t, "notes.txt", p.Payload["document_name"])
		indices[p.Payload["chunk_index"].(float64)] = true
	}
	assert.Equal(t, map[float64]bool{0: true, 2: true, 3: true}, indices)
}

func TestUpsert_RequiresTenant(t *testing.T) {
	c := newTestClient(t, newFakeQdrant(), 10, 10)
	_, err := c.Upsert(context.Background(), "", "doc", "n", []string{"x"})
	assert.ErrorIs(t, err, ErrEmptyTenant)
}

func TestSearch_TenantIsolation(t *testing.T) {
	fake := newFakeQdrant()
	c := newTestClient(t, fake, 10, 10)
	ctx := context.Background()

	_, err := c.Upsert(ctx, "tenant-a", "a1", "a.txt", []string{"cats are great", "dogs are fine"})
	require.NoError(t, err)
	_, err = c.Upsert(ctx, "tenant-b", "b1", "b.txt", []string{"cats are great", "dogs are fine"})
	require.NoError(t, err)

	hits := c.Search(ctx, "tenant-a", []float32{1, 0}, 5)
	require.Len(t, hits, 2)
	assert.Equal(t, "cats are great", hits[0].Text)
	for _, h := range hits {
		assert.Equal(t, "tenant-a", h.Tenant)
	}
}

func TestSearch_DropsForeignPayloads(t *testing.T) {
	fake := newFakeQdrant()
	fake.injectForeign = &fakePoint{Payload: map[string]any{"tenant": "tenant-b", "text": "secret"}}
	c := newTestClient(t, fake, 10, 10)
	ctx := context.Background()
	_, err := c.Upsert(ctx, "tenant-a", "a1", "a.txt", []string{"about cats"})
	require.NoError(t, err)

	hits := c.Search(ctx, "tenant-a", []float32{1, 0}, 2)
	require.Len(t, hits, 1)
	assert.Equal(t, "tenant-a", hits[0].Tenant)
}

func TestSearch_DegradesToEmpty(t *testing.T) {
	fake := newFakeQdrant()
	fake.failSearch = true
	c := newTestClient(t, fake, 10, 10)

	assert.Empty(t, c.Search(context.Background(), "tenant-a", []float32{1, 0}, 5))
	assert.Empty(t, c.Search(context.Background(), "tenant-a", nil, 5))
	assert.Empty(t, c.Search(context.Background(), "", []float32{1, 0}, 5))
	assert.Equal(t, 1, fake.searchCalls)
}

func TestDeleteByDocument_Paginates(t *testing.T) {
	fake := newFakeQdrant()
	for i := 0; i < 5; i++ {
		fake.seed(fmt.Sprintf("a-doc1-%d", i), map[string]any{"tenant": "tenant-a", "document_id": "doc1"})
	}
	fake.seed("a-doc2", map[string]any{"tenant": "tenant-a", "document_id": "doc2"})
	fake.seed("b-doc1", map[string]any{"tenant": "tenant-b", "document_id": "doc1"})
	c := newTestClient(t, fake, 2, 10)

	n, err := c.DeleteByDocument(context.Background(), "tenant-a", "doc1")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 2, fake.count())
	assert.Contains(t, fake.points, "a-doc2")
	assert.Contains(t, fake.points, "b-doc1")
}

func TestDeleteAllForTenant(t *testing.T) {
	fake := newFakeQdrant()
	for i := 0; i < 3; i++ {
		fake.seed(fmt.Sprintf("a-%d", i), map[string]any{"tenant": "tenant-a", "document_id": fmt.Sprint(i)})
	}
	fake.seed("b", map[string]any{"tenant": "tenant-b", "document_id": "x"})
	c := newTestClient(t, fake, 2, 10)

	n, err := c.DeleteAllForTenant(context.Background(), "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, fake.count())

	_, err = c.DeleteAllForTenant(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyTenant)
}

func TestSweepLeakedPoints(t *testing.T) {
	fake := newFakeQdrant()
	fake.seed("missing", map[string]any{"document_id": "x"})
	fake.seed("empty", map[string]any{"tenant": ""})
	fake.seed("null", map[string]any{"tenant": nil})
	fake.seed("ok", map[string]any{"tenant": "tenant-a"})
	c := newTestClient(t, fake, 2, 10)

	n, err := c.SweepLeakedPoints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, fake.count())
	assert.Contains(t, fake.points, "ok")

	n, err = c.SweepLeakedPoints(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPing(t *testing.T) {
	c := newTestClient(t, newFakeQdrant(), 10, 10)
	assert.NoError(t, c.Ping(context.Background()))
}
