// Package search mirrors indexable rows into a full-text index and runs
// ranked queries against it.
package search

import (
	"context"

	"go-blogjobs/model"
)

// Backend is a full-text index addressed by index name and primary key.
type Backend interface {
	Index(ctx context.Context, index string, id int64, fields map[string]any) error
	Delete(ctx context.Context, index string, id int64) error
	// Query returns matching ids in relevance order and the total match count.
	Query(ctx context.Context, index, text string, from, size int) ([]int64, int, error)
}

// New returns the Elasticsearch backend for url, or nil when url is empty.
// A nil Backend disables search: mirroring is skipped and queries return nothing.
func New(url string) (Backend, error) {
	if url == "" {
		return nil, nil
	}
	es, err := NewElastic(url)
	if err != nil {
		return nil, err
	}
	return es, nil
}

// Document is a point-in-time copy of an indexable row.
type Document struct {
	Index  string
	ID     int64
	Fields map[string]any
}

func (d Document) SearchIndex() string          { return d.Index }
func (d Document) SearchID() int64              { return d.ID }
func (d Document) SearchFields() map[string]any { return d.Fields }

func snapshot(e model.Indexable) Document {
	src := e.SearchFields()
	fields := make(map[string]any, len(src))
	for k, v := range src {
		fields[k] = v
	}
	return Document{Index: e.SearchIndex(), ID: e.SearchID(), Fields: fields}
}
