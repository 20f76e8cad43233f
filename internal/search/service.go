package search

import (
	"context"
	"log/slog"
	"sync"

	"github.com/srinithinsomasundaram/thamly-sub000/internal/store"
)

// Service tries the primary index first and falls back to Postgres full-text search.
type Service struct {
	primary  Index
	fallback Searcher
	loader   recordLoader
	logger   *slog.Logger

	// Index writes are applied one at a time in submission order.
	mu       sync.Mutex
	pending  []indexOp
	draining bool
	wg       sync.WaitGroup
}

type indexOp struct {
	record   DraftRecord
	deleteID string
}

type recordLoader interface {
	LoadAllRecords(ctx context.Context) ([]DraftRecord, error)
}

// NewService creates a search service. primary may be nil if Meilisearch is not configured.
func NewService(primary Index, pgfts *PgFTS, logger *slog.Logger) *Service {
	s := &Service{logger: logger.With("component", "search")}
	if pgfts != nil {
		s.fallback = pgfts
		s.loader = pgfts
	}
	// A typed nil *Meili must not end up in the interface.
	if m, ok := primary.(*Meili); !ok || m != nil {
		s.primary = primary
	}
	return s
}

func (s *Service) primaryReady() bool {
	return s.primary != nil && s.primary.Healthy()
}

// Search never fails: engine errors degrade to the fallback and then to an empty result.
func (s *Service) Search(ctx context.Context, q Query) Response {
	q = normalize(q)
	if s.primaryReady() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("primary search failed, falling back to postgres", "error", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("postgres search failed", "error", err)
		return Response{Results: []Result{}, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexDraft queues a draft for the primary index. Deleted drafts are
// removed instead.
func (s *Service) IndexDraft(d store.Draft) {
	if !s.primaryReady() {
		return
	}
	if d.Status == store.DraftStatusDeleted {
		s.DeleteDraft(d.ID)
		return
	}
	s.enqueue(indexOp{record: RecordFromDraft(d)})
}

// DeleteDraft queues removal of a draft from the primary index.
func (s *Service) DeleteDraft(id string) {
	if !s.primaryReady() {
		return
	}
	s.enqueue(indexOp{deleteID: id})
}

func (s *Service) enqueue(op indexOp) {
	s.wg.Add(1)
	s.mu.Lock()
	s.pending = append(s.pending, op)
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	s.mu.Unlock()
	go s.drain()
}

func (s *Service) drain() {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.draining = false
			s.mu.Unlock()
			return
		}
		op := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		s.apply(op)
		s.wg.Done()
	}
}

func (s *Service) apply(op indexOp) {
	if op.deleteID != "" {
		if err := s.primary.DeleteDraft(op.deleteID); err != nil {
			s.logger.Warn("delete draft from index", "draft_id", op.deleteID, "error", err)
		}
		return
	}
	if err := s.primary.IndexDrafts([]DraftRecord{op.record}); err != nil {
		s.logger.Warn("index draft", "draft_id", op.record.ID, "error", err)
	}
}

// Reindex loads every live draft from Postgres and pushes it to the primary index.
func (s *Service) Reindex(ctx context.Context) error {
	if !s.primaryReady() || s.loader == nil {
		return nil
	}
	records, err := s.loader.LoadAllRecords(ctx)
	if err != nil {
		return err
	}
	if err := s.primary.IndexDrafts(records); err != nil {
		return err
	}
	s.logger.Info("reindexed drafts", "count", len(records))
	return nil
}

// Wait blocks until every queued index write has been applied.
func (s *Service) Wait() {
	s.wg.Wait()
}

func RecordFromDraft(d store.Draft) DraftRecord {
	return DraftRecord{
		ID:          d.ID,
		UserID:      d.UserID,
		Title:       d.Title,
		Description: d.Description,
		Content:     d.Content,
		Status:      d.Status,
		UpdatedAt:   d.UpdatedAt.UnixMilli(),
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
