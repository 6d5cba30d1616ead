package search

import (
	"context"

	"go-blogjobs/model"
	"go-blogjobs/store"
)

// Query runs text against index for a 1-indexed page and returns the ids of
// that page in relevance order plus the total number of matches.
// A nil backend returns no results.
func Query(ctx context.Context, backend Backend, index, text string, page, perPage int) ([]int64, int, error) {
	if backend == nil {
		return []int64{}, 0, nil
	}
	if page < 1 {
		page = 1
	}
	return backend.Query(ctx, index, text, (page-1)*perPage, perPage)
}

// PostLoader loads posts by primary key in the order given.
type PostLoader interface {
	PostsByIDs(ctx context.Context, q store.Querier, ids []int64) ([]model.Post, error)
}

// Posts searches the posts index and loads the matching rows from the
// primary store in relevance order.
type Posts struct {
	backend Backend
	loader  PostLoader
	db      store.Querier
}

func NewPosts(backend Backend, loader PostLoader, db store.Querier) *Posts {
	return &Posts{backend: backend, loader: loader, db: db}
}

func (p *Posts) Search(ctx context.Context, text string, page, perPage int) ([]model.Post, int, error) {
	ids, total, err := Query(ctx, p.backend, model.PostsIndex, text, page, perPage)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 || len(ids) == 0 {
		return []model.Post{}, total, nil
	}

	posts, err := p.loader.PostsByIDs(ctx, p.db, ids)
	if err != nil {
		return nil, 0, err
	}
	return orderByIDs(posts, ids), total, nil
}

// orderByIDs arranges posts to follow ids, dropping rows not in ids.
func orderByIDs(posts []model.Post, ids []int64) []model.Post {
	byID := make(map[int64]model.Post, len(posts))
	for _, p := range posts {
		byID[p.ID] = p
	}
	out := make([]model.Post, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			out = append(out, p)
		}
	}
	return out
}
