package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Harvey-AU/legal-archive-scraper/internal/classify"
	"github.com/Harvey-AU/legal-archive-scraper/internal/extract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDoc(url, title, content string, cats ...string) *extract.Document {
	doc := &extract.Document{
		URL:       url,
		Title:     title,
		Content:   content,
		FetchedAt: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, c := range cats {
		doc.LegalCategories = append(doc.LegalCategories, classify.CategoryScore{Category: c, Score: 1})
	}
	return doc
}

func TestMemoryPutGet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	id, err := m.Put(ctx, testDoc("https://rc.majlis.ir/1", "قانون مدنی", "ماده ۱"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "قانون مدنی", got.Title)

	_, err = m.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryPutUpsertsByURL(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	first, err := m.Put(ctx, testDoc("https://qavanin.ir/law/5", "v1", "old"))
	require.NoError(t, err)
	second, err := m.Put(ctx, testDoc("https://qavanin.ir/law/5", "v2", "new"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, m.Len())

	got, _ := m.Get(ctx, first)
	assert.Equal(t, "v2", got.Title)
}

func TestMemoryStoresCopies(t *testing.T) {
	m := NewMemory()
	doc := testDoc("https://eadl.ir/a", "original", "")
	id, _ := m.Put(context.Background(), doc)

	doc.Title = "mutated"
	got, _ := m.Get(context.Background(), id)
	assert.Equal(t, "original", got.Title)
	assert.Empty(t, doc.ID, "caller's document is not modified")
}

func TestMemorySearchRanking(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, _ = m.Put(ctx, testDoc("https://a", "دادگاه", "رای دادگاه تجدید نظر", "judicial"))
	_, _ = m.Put(ctx, testDoc("https://b", "قانون", "دادگاه", "legislative"))
	_, _ = m.Put(ctx, testDoc("https://c", "بخشنامه", "وزارت کشور", "administrative"))

	matches, err := m.Search(ctx, Query{Text: "دادگاه"})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "https://a", matches[0].Document.URL)
	assert.Equal(t, 3.0, matches[0].Rank)
	assert.Equal(t, "https://b", matches[1].Document.URL)

	filtered, err := m.Search(ctx, Query{Text: "دادگاه", Category: "legislative"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "https://b", filtered[0].Document.URL)

	none, err := m.Search(ctx, Query{Text: "   "})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemorySearchRequiresEveryTerm(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, _ = m.Put(ctx, testDoc("https://a", "رای دادگاه", "دیوان عالی کشور", "judicial"))
	_, _ = m.Put(ctx, testDoc("https://b", "دادگاه", "قانون مدنی", "judicial"))

	matches, err := m.Search(ctx, Query{Text: "دادگاه دیوان"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "https://a", matches[0].Document.URL)
	assert.Equal(t, 3.0, matches[0].Rank)

	missing, err := m.Search(ctx, Query{Text: "دادگاه بخشنامه"})
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestMemorySearchLimit(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for i := range 30 {
		_, _ = m.Put(ctx, testDoc(fmt.Sprintf("https://d/%d", i), "", "قانون"))
	}

	tests := []struct {
		limit int
		want  int
	}{
		{0, DefaultSearchLimit},
		{5, 5},
		{1000, 30},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.limit), func(t *testing.T) {
			matches, err := m.Search(ctx, Query{Text: "قانون", Limit: tt.limit})
			require.NoError(t, err)
			assert.Len(t, matches, tt.want)
		})
	}
}

func TestMemoryConcurrentPut(t *testing.T) {
	m := NewMemory()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Put(context.Background(), testDoc(fmt.Sprintf("https://c/%d", i%10), "t", "c"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, m.Len())
}
