package store

import (
	"context"
	"errors"
	"io"
	"regexp"
	"testing"
	"time"

	"go-blogjobs/model"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	s := New(mock)
	s.now = func() time.Time { return fixedNow }
	return s, mock
}

type recordingListener struct {
	before []ChangeSet
	after  []ChangeSet
}

func (l *recordingListener) BeforeCommit(_ context.Context, changes ChangeSet) ChangeSet {
	l.before = append(l.before, changes)
	return changes
}

func (l *recordingListener) AfterCommit(_ context.Context, snapshot ChangeSet) {
	l.after = append(l.after, snapshot)
}

func expectInsertPost(mock pgxmock.PgxPoolIface, body string, userID, id int64) {
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO posts (body, created_at, user_id, language)`)).
		WithArgs(body, pgxmock.AnyArg(), userID, "").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(id))
}

func TestCommitNotifiesListeners(t *testing.T) {
	s, mock := newMockStore(t)
	l := &recordingListener{}
	s.AddListener(l)
	ctx := context.Background()

	mock.ExpectBegin()
	expectInsertPost(mock, "hello", 1, 10)
	mock.ExpectCommit()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	post := &model.Post{Body: "hello", UserID: 1}
	require.NoError(t, s.CreatePost(ctx, tx, post))
	require.NoError(t, tx.Commit())

	assert.Equal(t, int64(10), post.ID)
	assert.Equal(t, fixedNow, post.Timestamp)
	require.Len(t, l.before, 1)
	require.Len(t, l.after, 1)
	assert.Equal(t, []any{post}, l.after[0].Added)
	assert.Empty(t, l.after[0].Deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitFailureSkipsAfterCommit(t *testing.T) {
	s, mock := newMockStore(t)
	l := &recordingListener{}
	s.AddListener(l)
	ctx := context.Background()

	mock.ExpectBegin()
	expectInsertPost(mock, "doomed", 1, 11)
	mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, s.CreatePost(ctx, tx, &model.Post{Body: "doomed", UserID: 1}))

	assert.Error(t, tx.Commit())
	assert.Len(t, l.before, 1, "snapshot is taken before the commit")
	assert.Empty(t, l.after)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRollbackDiscardsChanges(t *testing.T) {
	s, mock := newMockStore(t)
	l := &recordingListener{}
	s.AddListener(l)
	ctx := context.Background()

	mock.ExpectBegin()
	expectInsertPost(mock, "draft", 1, 12)
	mock.ExpectRollback()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, s.CreatePost(ctx, tx, &model.Post{Body: "draft", UserID: 1}))
	require.NoError(t, tx.Rollback())

	assert.True(t, tx.Changes().Empty())
	assert.Empty(t, l.before)
	assert.Empty(t, l.after)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitTwice(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectCommit()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.ErrorIs(t, tx.Commit(), ErrTxDone)
	assert.NoError(t, tx.Rollback(), "rollback after commit is a no-op")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListenerSnapshotIsACopy(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	var got ChangeSet
	s.AddListener(listenerFunc(func(cs ChangeSet) { got = cs }))

	mock.ExpectBegin()
	mock.ExpectCommit()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	p := &model.Post{ID: 1}
	tx.TrackModified(p)
	tx.TrackDeleted(&model.Post{ID: 2})
	require.NoError(t, tx.Commit())

	require.Len(t, got.Modified, 1)
	require.Len(t, got.Deleted, 1)
	assert.True(t, tx.Changes().Empty())
}

type listenerFunc func(ChangeSet)

func (f listenerFunc) BeforeCommit(_ context.Context, cs ChangeSet) ChangeSet { return cs }
func (f listenerFunc) AfterCommit(_ context.Context, cs ChangeSet)            { f(cs) }

func TestMigrationsAreEmbedded(t *testing.T) {
	src, err := iofs.New(migrationFS, "migrations")
	require.NoError(t, err)
	defer src.Close()

	version, err := src.First()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	up, _, err := src.ReadUp(version)
	require.NoError(t, err)
	defer up.Close()
	ddl, err := io.ReadAll(up)
	require.NoError(t, err)
	assert.Contains(t, string(ddl), "ux_notifications_counter")
	assert.Contains(t, string(ddl), "WHERE name <> '"+model.NotificationTaskProgress+"'")

	down, _, err := src.ReadDown(version)
	require.NoError(t, err)
	down.Close()
}

func TestGetUserNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE id = $1`)).
		WithArgs(int64(99)).
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetUser(context.Background(), s.DB(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetUserByUsername(t *testing.T) {
	s, mock := newMockStore(t)
	readAt := fixedNow.Add(-time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE username = $1`)).
		WithArgs("susan").
		WillReturnRows(pgxmock.NewRows([]string{"id", "username", "email", "last_message_read_time"}).
			AddRow(int64(2), "susan", "susan@example.com", &readAt))

	u, err := s.GetUserByUsername(context.Background(), s.DB(), "susan")
	require.NoError(t, err)
	assert.Equal(t, int64(2), u.ID)
	require.NotNil(t, u.LastMessageReadTime)
	assert.Equal(t, readAt, *u.LastMessageReadTime)
}

func TestGetUserNeverReadMessages(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE id = $1`)).
		WithArgs(int64(2)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "username", "email", "last_message_read_time"}).
			AddRow(int64(2), "susan", "susan@example.com", nil))

	u, err := s.GetUser(context.Background(), s.DB(), 2)
	require.NoError(t, err)
	assert.Nil(t, u.LastMessageReadTime)
}

func TestSetLastMessageReadTimeUnknownUser(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET last_message_read_time = $1 WHERE id = $2`)).
		WithArgs(pgxmock.AnyArg(), int64(42)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.SetLastMessageReadTime(context.Background(), s.DB(), 42, fixedNow)
	assert.ErrorIs(t, err, ErrNotFound)
}
