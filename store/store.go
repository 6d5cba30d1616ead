// Package store is the primary data store, PostgreSQL through pgx.
package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("not found")

// Querier is satisfied by *pgxpool.Pool, pgx.Tx and *Tx, so repository
// methods can run inside or outside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is the connection pool the store runs on.
type DB interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

type Store struct {
	db DB

	mu        sync.RWMutex
	listeners []CommitListener

	now    func() time.Time
	tsMu   sync.Mutex
	lastTS float64
}

// Connect opens a connection pool for databaseURL and verifies it.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func New(db DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) DB() DB {
	return s.db
}

func (s *Store) Close() {
	s.db.Close()
}

// nextTimestamp returns a notification timestamp strictly greater than any
// previously issued by this store.
func (s *Store) nextTimestamp() float64 {
	s.tsMu.Lock()
	defer s.tsMu.Unlock()

	ts := float64(s.now().UnixNano()) / 1e9
	if ts <= s.lastTS {
		ts = math.Nextafter(s.lastTS, math.Inf(1))
	}
	s.lastTS = ts
	return ts
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
