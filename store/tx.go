package store

import (
	"context"
	"errors"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ChangeSet lists the entities added, modified and deleted in a transaction.
type ChangeSet struct {
	Added    []any
	Modified []any
	Deleted  []any
}

func (c ChangeSet) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Deleted) == 0
}

func (c ChangeSet) clone() ChangeSet {
	return ChangeSet{
		Added:    slices.Clone(c.Added),
		Modified: slices.Clone(c.Modified),
		Deleted:  slices.Clone(c.Deleted),
	}
}

// CommitListener observes transaction commit boundaries.
//
// BeforeCommit runs while the transaction is still open and returns the
// snapshot the listener wants back. AfterCommit receives that snapshot
// only if the commit succeeded.
type CommitListener interface {
	BeforeCommit(ctx context.Context, changes ChangeSet) ChangeSet
	AfterCommit(ctx context.Context, snapshot ChangeSet)
}

// AddListener registers l for every transaction committed through s.
func (s *Store) AddListener(l CommitListener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

var ErrTxDone = errors.New("transaction already finished")

// Tx is a database transaction that tracks entity changes for commit listeners.
type Tx struct {
	tx      pgx.Tx
	ctx     context.Context
	store   *Store
	changes ChangeSet
	done    bool
}

func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx, ctx: ctx, store: s}, nil
}

func (t *Tx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.tx.Exec(ctx, sql, args...)
}

func (t *Tx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return t.tx.Query(ctx, sql, args...)
}

func (t *Tx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.tx.QueryRow(ctx, sql, args...)
}

func (t *Tx) TrackAdded(e any)    { t.changes.Added = append(t.changes.Added, e) }
func (t *Tx) TrackModified(e any) { t.changes.Modified = append(t.changes.Modified, e) }
func (t *Tx) TrackDeleted(e any)  { t.changes.Deleted = append(t.changes.Deleted, e) }

// Changes returns a copy of the changes tracked so far.
func (t *Tx) Changes() ChangeSet {
	return t.changes.clone()
}

// Commit snapshots pending changes for each listener, commits, and then
// hands the snapshots back to the listeners. Listeners are not notified
// when the commit fails.
func (t *Tx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true

	t.store.mu.RLock()
	listeners := slices.Clone(t.store.listeners)
	t.store.mu.RUnlock()

	snapshots := make([]ChangeSet, len(listeners))
	for i, l := range listeners {
		snapshots[i] = l.BeforeCommit(t.ctx, t.changes.clone())
	}
	t.changes = ChangeSet{}

	if err := t.tx.Commit(t.ctx); err != nil {
		return err
	}

	ctx := context.WithoutCancel(t.ctx)
	for i, l := range listeners {
		l.AfterCommit(ctx, snapshots[i])
	}
	return nil
}

// Rollback aborts the transaction and discards tracked changes. Calling it
// after Commit is a no-op, so it is safe to defer.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.changes = ChangeSet{}
	return t.tx.Rollback(t.ctx)
}
