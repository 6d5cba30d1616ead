package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Backend. Documents match a query when any query
// term appears in any string field; more matching terms rank higher.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]map[int64]map[string]any
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string]map[int64]map[string]any)}
}

func (m *Memory) Index(_ context.Context, index string, id int64, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.docs[index] == nil {
		m.docs[index] = make(map[int64]map[string]any)
	}
	doc := make(map[string]any, len(fields))
	for k, v := range fields {
		doc[k] = v
	}
	m.docs[index][id] = doc
	return nil
}

func (m *Memory) Delete(_ context.Context, index string, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs[index], id)
	return nil
}

// Clear drops every document in index.
func (m *Memory) Clear(index string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, index)
}

// Len returns the number of documents in index.
func (m *Memory) Len(index string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs[index])
}

func (m *Memory) Query(_ context.Context, index, text string, from, size int) ([]int64, int, error) {
	terms := strings.Fields(strings.ToLower(text))
	if len(terms) == 0 {
		return nil, 0, nil
	}

	type hit struct {
		id    int64
		score int
	}

	m.mu.RLock()
	var hits []hit
	for id, doc := range m.docs[index] {
		var words []string
		for _, v := range doc {
			words = append(words, strings.Fields(strings.ToLower(fmt.Sprint(v)))...)
		}
		score := 0
		for _, t := range terms {
			for _, w := range words {
				if w == t {
					score++
				}
			}
		}
		if score > 0 {
			hits = append(hits, hit{id, score})
		}
	}
	m.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].id < hits[j].id
	})

	total := len(hits)
	if from >= total {
		return []int64{}, total, nil
	}
	end := total
	if size >= 0 && from+size < total {
		end = from + size
	}
	ids := make([]int64, 0, end-from)
	for _, h := range hits[from:end] {
		ids = append(ids, h.id)
	}
	return ids, total, nil
}
