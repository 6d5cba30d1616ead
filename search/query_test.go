package search

import (
	"context"
	"testing"

	"go-blogjobs/model"
	"go-blogjobs/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBackend struct {
	ids      []int64
	total    int
	gotFrom  int
	gotSize  int
	gotIndex string
}

func (b *stubBackend) Index(context.Context, string, int64, map[string]any) error { return nil }
func (b *stubBackend) Delete(context.Context, string, int64) error                { return nil }

func (b *stubBackend) Query(_ context.Context, index, _ string, from, size int) ([]int64, int, error) {
	b.gotIndex, b.gotFrom, b.gotSize = index, from, size
	return b.ids, b.total, nil
}

// fakeLoader returns rows in primary key order, like a store without ORDER BY.
type fakeLoader struct {
	rows  map[int64]model.Post
	calls int
}

func (l *fakeLoader) PostsByIDs(_ context.Context, _ store.Querier, ids []int64) ([]model.Post, error) {
	l.calls++
	var out []model.Post
	for id := int64(0); id <= 100; id++ {
		for _, want := range ids {
			if want == id {
				if p, ok := l.rows[id]; ok {
					out = append(out, p)
				}
			}
		}
	}
	return out, nil
}

func postsByID(ids ...int64) map[int64]model.Post {
	m := make(map[int64]model.Post)
	for _, id := range ids {
		m[id] = model.Post{ID: id}
	}
	return m
}

func TestSearchPreservesRank(t *testing.T) {
	backend := &stubBackend{ids: []int64{5, 2, 9}, total: 3}
	loader := &fakeLoader{rows: postsByID(2, 5, 9)}

	posts, total, err := NewPosts(backend, loader, nil).Search(context.Background(), "go", 1, 10)
	require.NoError(t, err)

	assert.Equal(t, 3, total)
	require.Len(t, posts, 3)
	assert.Equal(t, []int64{5, 2, 9}, []int64{posts[0].ID, posts[1].ID, posts[2].ID})
}

func TestSearchZeroResultsSkipsStore(t *testing.T) {
	backend := &stubBackend{total: 0}
	loader := &fakeLoader{}

	posts, total, err := NewPosts(backend, loader, nil).Search(context.Background(), "nothing", 1, 10)
	require.NoError(t, err)

	assert.Zero(t, total)
	assert.Empty(t, posts)
	assert.Zero(t, loader.calls)
}

func TestSearchDisabled(t *testing.T) {
	loader := &fakeLoader{}

	posts, total, err := NewPosts(nil, loader, nil).Search(context.Background(), "go", 1, 10)
	require.NoError(t, err)

	assert.Zero(t, total)
	assert.Empty(t, posts)
	assert.Zero(t, loader.calls)
}

func TestQueryPagination(t *testing.T) {
	backend := &stubBackend{}

	_, _, err := Query(context.Background(), backend, "posts", "go", 3, 5)
	require.NoError(t, err)
	assert.Equal(t, "posts", backend.gotIndex)
	assert.Equal(t, 10, backend.gotFrom)
	assert.Equal(t, 5, backend.gotSize)

	_, _, err = Query(context.Background(), backend, "posts", "go", 0, 5)
	require.NoError(t, err)
	assert.Equal(t, 0, backend.gotFrom, "pages are 1-indexed")
}

func TestSearchDropsRowsMissingFromStore(t *testing.T) {
	backend := &stubBackend{ids: []int64{4, 8}, total: 2}
	loader := &fakeLoader{rows: postsByID(8)}

	posts, total, err := NewPosts(backend, loader, nil).Search(context.Background(), "go", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, posts, 1)
	assert.Equal(t, int64(8), posts[0].ID)
}
