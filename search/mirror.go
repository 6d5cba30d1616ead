package search

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go-blogjobs/model"
	"go-blogjobs/store"
)

// Recorder receives the outcome of each index write.
type Recorder interface {
	IndexOp(op string, err error)
}

// RowSource calls fn for every row of one indexable type.
type RowSource func(ctx context.Context, fn func(model.Indexable) error) error

// Mirror replays committed changes of indexable rows into the search index.
// It is registered on the store as a commit listener. Index writes happen
// after the primary commit and their failures are logged, never returned;
// Reindex repairs any drift.
type Mirror struct {
	backend  Backend
	logger   *slog.Logger
	recorder Recorder

	// serializes ApplyChanges so index writes follow commit order
	applyMu sync.Mutex

	mu      sync.RWMutex
	sources map[string]RowSource
}

var _ store.CommitListener = (*Mirror)(nil)

func NewMirror(backend Backend, logger *slog.Logger, recorder Recorder) *Mirror {
	return &Mirror{
		backend:  backend,
		logger:   logger,
		recorder: recorder,
		sources:  make(map[string]RowSource),
	}
}

// Enabled reports whether a search backend is configured.
func (m *Mirror) Enabled() bool {
	return m.backend != nil
}

// Register makes index rebuildable by Reindex.
func (m *Mirror) Register(index string, src RowSource) {
	m.mu.Lock()
	m.sources[index] = src
	m.mu.Unlock()
}

func (m *Mirror) BeforeCommit(_ context.Context, changes store.ChangeSet) store.ChangeSet {
	return m.CaptureChanges(changes)
}

func (m *Mirror) AfterCommit(ctx context.Context, snapshot store.ChangeSet) {
	m.ApplyChanges(ctx, snapshot)
}

// CaptureChanges keeps the indexable entries of changes, copied as Documents
// so later mutation of the rows does not leak into the index.
func (m *Mirror) CaptureChanges(changes store.ChangeSet) store.ChangeSet {
	if m.backend == nil {
		return store.ChangeSet{}
	}
	return store.ChangeSet{
		Added:    indexables(changes.Added),
		Modified: indexables(changes.Modified),
		Deleted:  indexables(changes.Deleted),
	}
}

func indexables(entities []any) []any {
	var out []any
	for _, e := range entities {
		if ix, ok := e.(model.Indexable); ok {
			out = append(out, snapshot(ix))
		}
	}
	return out
}

// ApplyChanges upserts added and modified documents and removes deleted ones.
func (m *Mirror) ApplyChanges(ctx context.Context, snapshot store.ChangeSet) {
	if m.backend == nil || snapshot.Empty() {
		return
	}

	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	for _, group := range [][]any{snapshot.Added, snapshot.Modified} {
		for _, e := range group {
			doc := e.(model.Indexable)
			err := m.backend.Index(ctx, doc.SearchIndex(), doc.SearchID(), doc.SearchFields())
			m.record("index", doc, err)
		}
	}
	for _, e := range snapshot.Deleted {
		doc := e.(model.Indexable)
		err := m.backend.Delete(ctx, doc.SearchIndex(), doc.SearchID())
		m.record("delete", doc, err)
	}
}

func (m *Mirror) record(op string, doc model.Indexable, err error) {
	if m.recorder != nil {
		m.recorder.IndexOp(op, err)
	}
	if err != nil {
		m.logger.Error("search index write failed",
			"op", op, "index", doc.SearchIndex(), "id", doc.SearchID(), "error", err)
	}
}

// Reindex upserts every row of index from its registered source and
// returns the number of documents written.
func (m *Mirror) Reindex(ctx context.Context, index string) (int, error) {
	if m.backend == nil {
		return 0, nil
	}

	m.mu.RLock()
	src, ok := m.sources[index]
	m.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("reindex: no source registered for index %q", index)
	}

	n := 0
	err := src(ctx, func(e model.Indexable) error {
		if err := m.backend.Index(ctx, index, e.SearchID(), e.SearchFields()); err != nil {
			m.record("index", e, err)
			return fmt.Errorf("reindex %s/%d: %w", index, e.SearchID(), err)
		}
		m.record("index", e, nil)
		n++
		return nil
	})
	m.logger.Info("reindex finished", "index", index, "documents", n, "error", err)
	return n, err
}
