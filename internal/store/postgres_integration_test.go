package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Harvey-AU/legal-archive-scraper/internal/classify"
	"github.com/Harvey-AU/legal-archive-scraper/internal/extract"
	"github.com/Harvey-AU/legal-archive-scraper/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresIntegration(t *testing.T) {
	databaseURL := testutil.PostgresURL(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pg, err := OpenPostgres(ctx, PostgresConfig{DatabaseURL: databaseURL})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Close() })

	marker := fmt.Sprintf("integration%d", time.Now().UnixNano())
	url := "https://rc.majlis.ir/fa/law/show/" + marker
	t.Cleanup(func() {
		_, _ = pg.client.ExecContext(context.Background(), `DELETE FROM legal_documents WHERE url = $1`, url)
	})

	doc := &extract.Document{
		URL:             url,
		Title:           "قانون " + marker,
		Content:         "متن ماده یک " + marker,
		Headings:        []extract.Heading{},
		Links:           []extract.Link{},
		Metadata:        map[string]string{},
		LegalCategories: []classify.CategoryScore{{Category: "legislative", Score: 2}},
		Relevance:       10,
		FetchedAt:       time.Now().UTC().Truncate(time.Second),
	}

	id, err := pg.Put(ctx, doc)
	require.NoError(t, err)

	// Upsert keeps the id.
	doc.Title = "قانون اصلاحی " + marker
	again, err := pg.Put(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	got, err := pg.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, doc.Title, got.Title)

	matches, err := pg.Search(ctx, Query{Text: marker, Category: "legislative"})
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, url, matches[0].Document.URL)

	matches, err = pg.Search(ctx, Query{Text: marker, Category: "judicial"})
	require.NoError(t, err)
	assert.Empty(t, matches)
}
