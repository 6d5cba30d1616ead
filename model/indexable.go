package model

// Indexable is implemented by row types mirrored into the search index.
type Indexable interface {
	SearchIndex() string
	SearchID() int64
	SearchFields() map[string]any
}

var _ Indexable = (*Post)(nil)
