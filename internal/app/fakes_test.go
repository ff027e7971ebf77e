package app

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"ragdesk/internal/ai"
	"ragdesk/internal/chunker"
	"ragdesk/internal/logging"
	"ragdesk/internal/model"
	"ragdesk/internal/repository"
	"ragdesk/internal/repository/repotest"
	"ragdesk/internal/vectorindex"
)

const (
	tenantA = "tenant-a-0123456789abcdef"
	tenantB = "tenant-b-0123456789abcdef"
)

var testLimits = Limits{
	TenantKeyMinLength: 16,
	MaxFiles:           100,
	MaxStorageBytes:    10 << 20,
	MaxUploadBytes:     1 << 20,
	MinExtractedText:   10,
}

type textExtractor struct {
	err error
}

func (e textExtractor) Extract(data []byte, _ string) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	return string(data), nil
}

type storedPoint struct {
	vectorindex.Payload
}

// fakeIndex keeps points in memory. Chunks containing "FAIL" are dropped the
// way a failed embedding would be.
type fakeIndex struct {
	mu        sync.Mutex
	points    []storedPoint
	upsertErr error
	deleteErr error
	deletes   []string
}

func (f *fakeIndex) Upsert(_ context.Context, tenant, documentID, name string, chunks []string) (vectorindex.UpsertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res vectorindex.UpsertResult
	for i, c := range chunks {
		if strings.Contains(c, "FAIL") {
			res.Dropped = append(res.Dropped, i)
			continue
		}
		f.points = append(f.points, storedPoint{vectorindex.Payload{
			Tenant: tenant, DocumentID: documentID, DocumentName: name, ChunkIndex: i, Text: c,
		}})
		res.Indexed++
	}
	if f.upsertErr != nil {
		return res, f.upsertErr
	}
	return res, nil
}

func (f *fakeIndex) Search(_ context.Context, tenant string, vector []float32, k int) []vectorindex.Hit {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(vector) == 0 {
		return nil
	}
	var hits []vectorindex.Hit
	for _, p := range f.points {
		if p.Tenant == tenant && len(hits) < k {
			hits = append(hits, vectorindex.Hit{Payload: p.Payload, Score: 1})
		}
	}
	return hits
}

func (f *fakeIndex) remove(keep func(storedPoint) bool) int {
	kept := f.points[:0]
	n := 0
	for _, p := range f.points {
		if keep(p) {
			kept = append(kept, p)
		} else {
			n++
		}
	}
	f.points = kept
	return n
}

func (f *fakeIndex) DeleteByDocument(_ context.Context, tenant, documentID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, documentID)
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	return f.remove(func(p storedPoint) bool { return p.Tenant != tenant || p.DocumentID != documentID }), nil
}

func (f *fakeIndex) DeleteAllForTenant(_ context.Context, tenant string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	return f.remove(func(p storedPoint) bool { return p.Tenant != tenant }), nil
}

func (f *fakeIndex) SweepLeakedPoints(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remove(func(p storedPoint) bool { return p.Tenant != "" }), nil
}

func (f *fakeIndex) count(tenant string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.points {
		if p.Tenant == tenant {
			n++
		}
	}
	return n
}

type fakeEmbedder struct {
	err error
}

func (e fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return []float32{1, 0}, nil
}

// streamScript describes one OpenStream attempt.
type streamScript struct {
	openErr  error
	deltas   []string
	endErr   error // returned after deltas instead of io.EOF
	hang     bool  // block after deltas until the context is cancelled
	firstErr bool  // fail on the first Next call
}

type fakeBackend struct {
	mu          sync.Mutex
	scripts     []streamScript
	calls       int
	prompts     [][]ai.ChatMessage
	completion  string
	completeErr error
	reads       int
	onComplete  func()
}

func (b *fakeBackend) Complete(_ context.Context, messages []ai.ChatMessage) (string, error) {
	if b.onComplete != nil {
		b.onComplete()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	b.prompts = append(b.prompts, messages)
	return b.completion, b.completeErr
}

func (b *fakeBackend) OpenStream(ctx context.Context, messages []ai.ChatMessage) (ai.TokenStream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := b.calls
	b.calls++
	b.prompts = append(b.prompts, messages)
	if idx >= len(b.scripts) {
		return nil, errors.New("no script")
	}
	sc := b.scripts[idx]
	if sc.openErr != nil {
		return nil, sc.openErr
	}
	return &fakeStream{ctx: ctx, script: sc, backend: b}, nil
}

func (b *fakeBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func (b *fakeBackend) readCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reads
}

func (b *fakeBackend) lastPrompt() []ai.ChatMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.prompts[len(b.prompts)-1]
}

type fakeStream struct {
	ctx     context.Context
	script  streamScript
	backend *fakeBackend
	pos     int
	closed  bool
}

func (s *fakeStream) Next() (string, error) {
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	if s.script.firstErr {
		return "", errors.New("connection reset")
	}
	if s.pos < len(s.script.deltas) {
		d := s.script.deltas[s.pos]
		s.pos++
		s.backend.mu.Lock()
		s.backend.reads++
		s.backend.mu.Unlock()
		return d, nil
	}
	if s.script.hang {
		<-s.ctx.Done()
		return "", s.ctx.Err()
	}
	if s.script.endErr != nil {
		return "", s.script.endErr
	}
	return "", io.EOF
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

func ok(deltas ...string) streamScript { return streamScript{deltas: deltas} }

func openFails() streamScript { return streamScript{openErr: errors.New("status 503")} }

type recordingPublisher struct {
	mu   sync.Mutex
	jobs []model.TitleJob
	err  error
}

func (p *recordingPublisher) PublishTitleJob(_ context.Context, job model.TitleJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, job)
	return p.err
}

// collect is a Sink that records deltas.
type collect struct {
	mu     sync.Mutex
	deltas []string
	failAt int // 1-based delta index that fails; 0 never
}

func (c *collect) sink(delta string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAt > 0 && len(c.deltas)+1 == c.failAt {
		return errors.New("broken pipe")
	}
	c.deltas = append(c.deltas, delta)
	return nil
}

func (c *collect) text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.deltas, "")
}

func testRelay(backend CompletionBackend) *Relay {
	return NewRelay(backend, RelayOptions{
		Attempts:    3,
		BaseDelay:   time.Millisecond,
		IdleTimeout: time.Second,
		Buffer:      2,
	}, logging.Discard())
}

type fixture struct {
	store     *repository.Store
	index     *fakeIndex
	backend   *fakeBackend
	publisher *recordingPublisher
	ingest    *IngestService
	chats     *ChatService
	assistant *AssistantService
	titles    *TitleService
	tenants   *TenantService
	tools     *ToolService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logging.Discard()
	f := &fixture{
		store:     repotest.NewStore(t),
		index:     &fakeIndex{},
		backend:   &fakeBackend{},
		publisher: &recordingPublisher{},
	}
	relay := testRelay(f.backend)
	f.ingest = NewIngestService(f.store, textExtractor{}, chunker.New(120, 20), f.index, testLimits, log)
	f.chats = NewChatService(f.store, nil, testLimits, 50, log)
	retriever := NewRetriever(fakeEmbedder{}, f.index, log)
	f.assistant = NewAssistantService(f.chats, retriever, relay, f.publisher, testLimits, AssistantOptions{ChatTopK: 8, AskTopK: 5}, log)
	f.titles = NewTitleService(f.chats, relay, 40, log)
	f.tenants = NewTenantService(f.store, f.index, nil, testLimits, log)
	f.tools = NewToolService(relay)
	return f
}
