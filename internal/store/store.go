// Package store persists extracted legal documents and serves ranked full-text
// search over them.
package store

import (
	"context"
	"errors"

	"github.com/Harvey-AU/legal-archive-scraper/internal/extract"
)

// ErrNotFound is returned by Get for unknown ids.
var ErrNotFound = errors.New("document not found")

const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
)

// Query is a full-text search request. Category optionally restricts matches to
// documents classified under that category.
type Query struct {
	Text     string
	Category string
	Limit    int
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return DefaultSearchLimit
	}
	return min(q.Limit, MaxSearchLimit)
}

// Match is one ranked search hit.
type Match struct {
	Document *extract.Document `json:"document"`
	Rank     float64           `json:"rank"`
}

// Store is the document store. Put upserts by URL and returns the document id,
// generating one for new documents. Search matches documents containing every
// whitespace-separated term of the query, best rank first; a blank query
// matches nothing.
type Store interface {
	Put(ctx context.Context, doc *extract.Document) (string, error)
	Get(ctx context.Context, id string) (*extract.Document, error)
	Search(ctx context.Context, q Query) ([]Match, error)
}

func categoryNames(doc *extract.Document) []string {
	names := make([]string, 0, len(doc.LegalCategories))
	for _, c := range doc.LegalCategories {
		names = append(names, c.Category)
	}
	return names
}
