package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"ragdesk/internal/logging"
	"ragdesk/internal/model"
	"ragdesk/internal/pkg/extract"
	"ragdesk/internal/pkg/tenantkey"
	"ragdesk/internal/repository"
	"ragdesk/internal/vectorindex"
)

type Extractor interface {
	Extract(data []byte, filename string) (string, error)
}

type Chunker interface {
	Split(text string) []string
}

// VectorIndex is the tenant-scoped vector store.
type VectorIndex interface {
	Upsert(ctx context.Context, tenant, documentID, documentName string, chunks []string) (vectorindex.UpsertResult, error)
	Search(ctx context.Context, tenant string, vector []float32, k int) []vectorindex.Hit
	DeleteByDocument(ctx context.Context, tenant, documentID string) (int, error)
	DeleteAllForTenant(ctx context.Context, tenant string) (int, error)
	SweepLeakedPoints(ctx context.Context) (int, error)
}

type IngestService struct {
	store     *repository.Store
	extractor Extractor
	chunker   Chunker
	index     VectorIndex
	limits    Limits
	log       logging.Logger
	now       func() time.Time
}

type UploadInput struct {
	TenantKey string
	Filename  string
	Data      []byte
}

type UploadResult struct {
	DocumentID         string `json:"document_id"`
	Name               string `json:"name"`
	SizeBytes          int64  `json:"size_bytes"`
	IndexedChunkCount  int    `json:"indexed_chunk_count"`
	ProducedChunkCount int    `json:"produced_chunk_count"`
	DroppedChunks      []int  `json:"dropped_chunks"`
}

func NewIngestService(
	store *repository.Store,
	extractor Extractor,
	chunker Chunker,
	index VectorIndex,
	limits Limits,
	log logging.Logger,
) *IngestService {
	return &IngestService{
		store:     store,
		extractor: extractor,
		chunker:   chunker,
		index:     index,
		limits:    limits,
		log:       log.With("component", "ingest"),
		now:       time.Now,
	}
}

// ExtractText runs the extraction gates shared by upload and the standalone
// extract operation.
func (s *IngestService) ExtractText(data []byte, filename string) (string, error) {
	if int64(len(data)) > s.limits.MaxUploadBytes {
		return "", ErrUploadTooLarge
	}
	text, err := s.extractor.Extract(data, filename)
	if err != nil {
		if errors.Is(err, extract.ErrUnsupportedFormat) {
			return "", ErrUnsupportedFormat
		}
		if errors.Is(err, extract.ErrTooLarge) {
			return "", ErrUploadTooLarge
		}
		return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < s.limits.MinExtractedText {
		return "", ErrEmptyContent
	}
	return text, nil
}

// Upload validates, extracts, chunks and indexes one file, then records the
// document and charges the tenant's quota in a single transaction. Points
// written to the index are removed again if anything after the upsert fails.
func (s *IngestService) Upload(ctx context.Context, in UploadInput) (*UploadResult, error) {
	key, err := s.limits.tenant(in.TenantKey)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Filename)
	if name == "" || len(in.Data) == 0 {
		return nil, ErrInvalidInput
	}
	size := int64(len(in.Data))
	log := s.log.With("tenant", tenantkey.Fingerprint(key), "op", "upload")

	tenant, err := s.store.Tenants().Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if tenant != nil {
		if tenant.FileCount >= s.limits.MaxFiles {
			return nil, ErrFileQuotaExceeded
		}
		if tenant.StorageBytes+size > s.limits.MaxStorageBytes {
			return nil, ErrStorageQuotaExceeded
		}
	} else if size > s.limits.MaxStorageBytes {
		return nil, ErrStorageQuotaExceeded
	}

	text, err := s.ExtractText(in.Data, name)
	if err != nil {
		return nil, err
	}
	chunks := s.chunker.Split(text)
	if len(chunks) == 0 {
		return nil, ErrEmptyContent
	}

	documentID := uuid.NewString()
	indexed, err := s.index.Upsert(ctx, key, documentID, name, chunks)
	if err != nil {
		log.Error(ctx, "index upsert failed", "document_id", documentID, "indexed", indexed.Indexed, "err", err)
		s.rollbackIndex(ctx, log, key, documentID)
		return nil, fmt.Errorf("%w: %v", ErrIndexingFailed, err)
	}
	if indexed.Indexed == 0 {
		log.Error(ctx, "no chunk could be embedded", "document_id", documentID, "chunks", len(chunks))
		return nil, ErrIndexingFailed
	}

	now := s.now()
	doc := &model.Document{
		TenantKey:      key,
		DocumentID:     documentID,
		Name:           name,
		SizeBytes:      size,
		ChunkCount:     indexed.Indexed,
		ProducedChunks: len(chunks),
		UploadedAt:     now,
	}
	err = s.store.WithTx(ctx, func(tx *repository.Store) error {
		if err := tx.Tenants().Touch(ctx, key, now); err != nil {
			return err
		}
		ok, err := tx.Tenants().ReserveUpload(ctx, key, size, s.limits.MaxFiles, s.limits.MaxStorageBytes)
		if err != nil {
			return err
		}
		if !ok {
			return s.quotaError(ctx, tx, key)
		}
		return tx.Documents().Create(ctx, doc)
	})
	if err != nil {
		log.Warn(ctx, "record document failed, removing indexed points", "document_id", documentID, "err", err)
		s.rollbackIndex(ctx, log, key, documentID)
		return nil, err
	}

	if len(indexed.Dropped) > 0 {
		log.Warn(ctx, "document partially indexed", "document_id", documentID, "indexed", indexed.Indexed, "produced", len(chunks))
	}
	log.Info(ctx, "document indexed", "document_id", documentID, "chunks", indexed.Indexed, "bytes", size)

	dropped := indexed.Dropped
	if dropped == nil {
		dropped = []int{}
	}
	return &UploadResult{
		DocumentID:         documentID,
		Name:               name,
		SizeBytes:          size,
		IndexedChunkCount:  indexed.Indexed,
		ProducedChunkCount: len(chunks),
		DroppedChunks:      dropped,
	}, nil
}

// quotaError tells which ceiling a failed reservation ran into.
func (s *IngestService) quotaError(ctx context.Context, tx *repository.Store, key string) error {
	tenant, err := tx.Tenants().Get(ctx, key)
	if err != nil {
		return err
	}
	if tenant != nil && tenant.FileCount >= s.limits.MaxFiles {
		return ErrFileQuotaExceeded
	}
	return ErrStorageQuotaExceeded
}

func (s *IngestService) rollbackIndex(ctx context.Context, log logging.Logger, key, documentID string) {
	// the request context may already be cancelled
	ctx = context.WithoutCancel(ctx)
	if _, err := s.index.DeleteByDocument(ctx, key, documentID); err != nil {
		log.Error(ctx, "rollback of indexed points failed", "document_id", documentID, "err", err)
	}
}

func (s *IngestService) ListDocuments(ctx context.Context, tenantKey string) ([]model.Document, error) {
	key, err := s.limits.tenant(tenantKey)
	if err != nil {
		return nil, err
	}
	return s.store.Documents().ListByTenant(ctx, key)
}

// DeleteDocument removes the document's points, then its row, and gives
// its size back to the tenant's quota. It returns the number of points removed.
func (s *IngestService) DeleteDocument(ctx context.Context, tenantKey, documentID string) (int, error) {
	key, err := s.limits.tenant(tenantKey)
	if err != nil {
		return 0, err
	}
	doc, err := s.store.Documents().Get(ctx, key, strings.TrimSpace(documentID))
	if err != nil {
		return 0, err
	}
	if doc == nil {
		return 0, ErrDocumentNotFound
	}

	deleted, err := s.index.DeleteByDocument(ctx, key, doc.DocumentID)
	if err != nil {
		return 0, fmt.Errorf("delete document points failed: %w", err)
	}
	err = s.store.WithTx(ctx, func(tx *repository.Store) error {
		n, err := tx.Documents().Delete(ctx, key, doc.DocumentID)
		if err != nil {
			return err
		}
		if n == 0 {
			// a concurrent delete already released the quota
			return nil
		}
		return tx.Tenants().ReleaseUpload(ctx, key, doc.SizeBytes)
	})
	if err != nil {
		return 0, err
	}
	s.log.Info(ctx, "document deleted", "tenant", tenantkey.Fingerprint(key), "document_id", doc.DocumentID, "points", deleted)
	return deleted, nil
}

// DeleteAllDocuments empties the tenant's library and zeroes its usage.
func (s *IngestService) DeleteAllDocuments(ctx context.Context, tenantKey string) (int, error) {
	key, err := s.limits.tenant(tenantKey)
	if err != nil {
		return 0, err
	}
	deleted, err := s.index.DeleteAllForTenant(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("delete tenant points failed: %w", err)
	}
	err = s.store.WithTx(ctx, func(tx *repository.Store) error {
		if _, err := tx.Documents().DeleteByTenant(ctx, key); err != nil {
			return err
		}
		return tx.Tenants().ResetUsage(ctx, key)
	})
	if err != nil {
		return 0, err
	}
	s.log.Info(ctx, "all documents deleted", "tenant", tenantkey.Fingerprint(key), "points", deleted)
	return deleted, nil
}
