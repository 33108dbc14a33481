package store

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/Harvey-AU/legal-archive-scraper/internal/extract"
	"github.com/google/uuid"
)

// Memory is a concurrent-safe in-process store. Ranking is raw term frequency
// with title hits weighted double.
type Memory struct {
	mu    sync.RWMutex
	docs  map[string]*extract.Document
	byURL map[string]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		docs:  make(map[string]*extract.Document),
		byURL: make(map[string]string),
	}
}

// Put stores a copy of doc. A document with an already stored URL keeps its id.
func (m *Memory) Put(ctx context.Context, doc *extract.Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id, exists := m.byURL[doc.URL]
	if !exists {
		id = doc.ID
		if id == "" {
			id = uuid.NewString()
		}
	}

	stored := *doc
	stored.ID = id
	m.docs[id] = &stored
	m.byURL[doc.URL] = id
	return id, nil
}

// Get returns a copy of the stored document.
func (m *Memory) Get(ctx context.Context, id string) (*extract.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *doc
	return &out, nil
}

// Search ranks documents containing every query term. Title hits weigh double.
func (m *Memory) Search(ctx context.Context, q Query) ([]Match, error) {
	terms := strings.Fields(strings.ToLower(q.Text))
	if len(terms) == 0 {
		return []Match{}, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := []Match{}
	for _, doc := range m.docs {
		if q.Category != "" && !slices.Contains(categoryNames(doc), q.Category) {
			continue
		}

		title := strings.ToLower(doc.Title)
		content := strings.ToLower(doc.Content)
		rank := 0
		for _, term := range terms {
			hits := 2*strings.Count(title, term) + strings.Count(content, term)
			if hits == 0 {
				rank = 0
				break
			}
			rank += hits
		}
		if rank == 0 {
			continue
		}
		out := *doc
		matches = append(matches, Match{Document: &out, Rank: float64(rank)})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Rank != matches[j].Rank {
			return matches[i].Rank > matches[j].Rank
		}
		if !matches[i].Document.FetchedAt.Equal(matches[j].Document.FetchedAt) {
			return matches[i].Document.FetchedAt.After(matches[j].Document.FetchedAt)
		}
		return matches[i].Document.ID < matches[j].Document.ID
	})

	if limit := q.limit(); len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Len returns the number of stored documents.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}
