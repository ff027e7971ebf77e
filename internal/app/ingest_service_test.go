package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragdesk/internal/chunker"
	"ragdesk/internal/logging"
	"ragdesk/internal/pkg/extract"
)

// each sentence is long enough to land in its own 120-rune chunk
const (
	sentenceGo    = "Go programs are built from packages and every package lives in exactly one directory of the module tree."
	sentenceRetry = "The relay retries only the opening of a stream and never replays output the client already received."
	sentenceFail  = "This FAIL sentence stands for a chunk whose embedding request keeps failing on the backend side today."
)

func upload(t *testing.T, f *fixture, tenant, name, text string) *UploadResult {
	t.Helper()
	res, err := f.ingest.Upload(context.Background(), UploadInput{TenantKey: tenant, Filename: name, Data: []byte(text)})
	require.NoError(t, err)
	return res
}

func TestUpload_IndexesAndChargesQuota(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	text := sentenceGo + " " + sentenceRetry

	res := upload(t, f, tenantA, "notes.txt", text)

	assert.Equal(t, 2, res.IndexedChunkCount)
	assert.Equal(t, 2, res.ProducedChunkCount)
	assert.Empty(t, res.DroppedChunks)
	assert.Equal(t, 2, f.index.count(tenantA))

	tenant, err := f.store.Tenants().Get(ctx, tenantA)
	require.NoError(t, err)
	require.NotNil(t, tenant)
	assert.Equal(t, 1, tenant.FileCount)
	assert.Equal(t, 1, tenant.TotalFilesUploaded)
	assert.Equal(t, int64(len(text)), tenant.StorageBytes)

	docs, err := f.ingest.ListDocuments(ctx, tenantA)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, res.DocumentID, docs[0].DocumentID)
	assert.Equal(t, 2, docs[0].ChunkCount)
}

func TestUpload_Gates(t *testing.T) {
	valid := []byte(sentenceGo)
	tests := []struct {
		name   string
		tenant string
		file   string
		data   []byte
		setup  func(f *fixture)
		want   error
	}{
		{name: "short tenant key", tenant: "short", file: "a.txt", data: valid, want: ErrInvalidTenantKey},
		{name: "missing file name", tenant: tenantA, file: " ", data: valid, want: ErrInvalidInput},
		{name: "empty file", tenant: tenantA, file: "a.txt", data: nil, want: ErrInvalidInput},
		{name: "too large", tenant: tenantA, file: "a.txt", data: make([]byte, testLimits.MaxUploadBytes+1), want: ErrUploadTooLarge},
		{name: "too little text", tenant: tenantA, file: "a.txt", data: []byte("tiny"), want: ErrEmptyContent},
		{
			name: "unsupported", tenant: tenantA, file: "a.png", data: valid, want: ErrUnsupportedFormat,
			setup: func(f *fixture) {
				f.ingest.extractor = textExtractor{err: extract.ErrUnsupportedFormat}
			},
		},
		{
			name: "unreadable", tenant: tenantA, file: "a.pdf", data: valid, want: ErrExtractionFailed,
			setup: func(f *fixture) {
				f.ingest.extractor = textExtractor{err: extract.ErrUnreadable}
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			if tc.setup != nil {
				tc.setup(f)
			}
			_, err := f.ingest.Upload(context.Background(), UploadInput{TenantKey: tc.tenant, Filename: tc.file, Data: tc.data})
			require.ErrorIs(t, err, tc.want)
			assert.Zero(t, f.index.count(tc.tenant))
		})
	}
}

func TestUpload_FileQuota(t *testing.T) {
	f := newFixture(t)
	f.ingest.limits.MaxFiles = 2

	upload(t, f, tenantA, "1.txt", sentenceGo)
	upload(t, f, tenantA, "2.txt", sentenceGo)
	_, err := f.ingest.Upload(context.Background(), UploadInput{TenantKey: tenantA, Filename: "3.txt", Data: []byte(sentenceGo)})

	require.ErrorIs(t, err, ErrFileQuotaExceeded)
	assert.Equal(t, 2, f.index.count(tenantA))
}

func TestUpload_StorageQuota(t *testing.T) {
	f := newFixture(t)
	f.ingest.limits.MaxStorageBytes = int64(len(sentenceGo)) + 10

	upload(t, f, tenantA, "1.txt", sentenceGo)
	_, err := f.ingest.Upload(context.Background(), UploadInput{TenantKey: tenantA, Filename: "2.txt", Data: []byte(sentenceRetry)})

	require.ErrorIs(t, err, ErrStorageQuotaExceeded)
	tenant, err := f.store.Tenants().Get(context.Background(), tenantA)
	require.NoError(t, err)
	assert.Equal(t, int64(len(sentenceGo)), tenant.StorageBytes)
}

func TestUpload_PartialIndexingReportsDroppedChunks(t *testing.T) {
	f := newFixture(t)

	res := upload(t, f, tenantA, "mixed.txt", sentenceGo+" "+sentenceFail+" "+sentenceRetry)

	assert.Equal(t, 3, res.ProducedChunkCount)
	assert.Equal(t, 2, res.IndexedChunkCount)
	assert.Equal(t, []int{1}, res.DroppedChunks)
}

func TestUpload_NothingIndexedIsAnError(t *testing.T) {
	f := newFixture(t)

	_, err := f.ingest.Upload(context.Background(), UploadInput{TenantKey: tenantA, Filename: "bad.txt", Data: []byte(sentenceFail)})

	require.ErrorIs(t, err, ErrIndexingFailed)
	tenant, err := f.store.Tenants().Get(context.Background(), tenantA)
	require.NoError(t, err)
	assert.Nil(t, tenant, "no quota may be charged for a failed upload")
}

func TestUpload_UpsertErrorRollsBackPoints(t *testing.T) {
	f := newFixture(t)
	f.index.upsertErr = errors.New("qdrant: status 500")

	_, err := f.ingest.Upload(context.Background(), UploadInput{TenantKey: tenantA, Filename: "a.txt", Data: []byte(sentenceGo)})

	require.ErrorIs(t, err, ErrIndexingFailed)
	assert.Zero(t, f.index.count(tenantA))
	assert.Len(t, f.index.deletes, 1)
}

func TestDeleteDocument_ReleasesQuota(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	keep := upload(t, f, tenantA, "keep.txt", sentenceGo)
	drop := upload(t, f, tenantA, "drop.txt", sentenceRetry+" "+sentenceGo)

	deleted, err := f.ingest.DeleteDocument(ctx, tenantA, drop.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, drop.IndexedChunkCount, deleted)

	tenant, err := f.store.Tenants().Get(ctx, tenantA)
	require.NoError(t, err)
	assert.Equal(t, 1, tenant.FileCount)
	assert.Equal(t, keep.SizeBytes, tenant.StorageBytes)
	assert.Equal(t, 2, tenant.TotalFilesUploaded, "lifetime counter never goes down")
	assert.Equal(t, keep.IndexedChunkCount, f.index.count(tenantA))

	_, err = f.ingest.DeleteDocument(ctx, tenantA, drop.DocumentID)
	require.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestDeleteDocument_OtherTenantCannotDelete(t *testing.T) {
	f := newFixture(t)
	res := upload(t, f, tenantA, "a.txt", sentenceGo)

	_, err := f.ingest.DeleteDocument(context.Background(), tenantB, res.DocumentID)

	require.ErrorIs(t, err, ErrDocumentNotFound)
	assert.Equal(t, 1, f.index.count(tenantA))
}

func TestDeleteAllDocuments_ZeroesUsage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	upload(t, f, tenantA, "1.txt", sentenceGo)
	upload(t, f, tenantA, "2.txt", sentenceRetry)
	upload(t, f, tenantB, "b.txt", sentenceGo)

	deleted, err := f.ingest.DeleteAllDocuments(ctx, tenantA)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	tenant, err := f.store.Tenants().Get(ctx, tenantA)
	require.NoError(t, err)
	assert.Zero(t, tenant.FileCount)
	assert.Zero(t, tenant.StorageBytes)
	assert.Equal(t, 1, f.index.count(tenantB))
}

func TestQuotaMatchesDocuments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := upload(t, f, tenantA, "1.txt", sentenceGo)
	upload(t, f, tenantA, "2.txt", sentenceRetry)
	_, err := f.ingest.DeleteDocument(ctx, tenantA, a.DocumentID)
	require.NoError(t, err)
	upload(t, f, tenantA, "3.txt", sentenceGo+" "+sentenceRetry)

	count, bytes, err := f.store.Documents().Usage(ctx, tenantA)
	require.NoError(t, err)
	tenant, err := f.store.Tenants().Get(ctx, tenantA)
	require.NoError(t, err)
	assert.Equal(t, int(count), tenant.FileCount)
	assert.Equal(t, bytes, tenant.StorageBytes)
}

func TestUploadThenAskThenDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := upload(t, f, tenantA, "guide.txt", sentenceGo)
	f.backend.scripts = []streamScript{ok("Packages ", "map to directories.")}

	var out collect
	turn, err := f.assistant.Ask(ctx, AskInput{TenantKey: tenantA, Question: "How are Go programs organised?"}, out.sink)
	require.NoError(t, err)
	assert.Equal(t, "Packages map to directories.", turn.Content)
	assert.Equal(t, []string{"guide.txt"}, turn.Sources)
	assert.Contains(t, f.backend.lastPrompt()[0].Content, sentenceGo)

	deleted, err := f.ingest.DeleteDocument(ctx, tenantA, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, res.IndexedChunkCount, deleted)
}

func TestExtractText(t *testing.T) {
	f := newFixture(t)
	f.ingest = NewIngestService(f.store, extract.New(0), chunker.New(0, 0), f.index, testLimits, logging.Discard())

	text, err := f.ingest.ExtractText([]byte("  "+sentenceGo+"\n"), "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, sentenceGo, strings.TrimSpace(text))

	_, err = f.ingest.ExtractText([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}, "x.png")
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestExtractText_ExpansionOverLimitIsTooLarge(t *testing.T) {
	f := newFixture(t)
	tooBig := fmt.Errorf("%w: document.xml over 1024 bytes", extract.ErrTooLarge)
	f.ingest = NewIngestService(f.store, textExtractor{err: tooBig}, chunker.New(120, 20), f.index, testLimits, logging.Discard())

	_, err := f.ingest.Upload(context.Background(), UploadInput{TenantKey: tenantA, Filename: "bomb.docx", Data: []byte("PK")})
	require.ErrorIs(t, err, ErrUploadTooLarge)

	usage, err := f.store.Tenants().Get(context.Background(), tenantA)
	require.NoError(t, err)
	if usage != nil {
		assert.Zero(t, usage.FileCount)
	}
}
