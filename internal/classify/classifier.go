// Package classify scores document text against keyword dictionaries of Iranian
// legal categories.
//
// Matching is a case-insensitive substring count with no word boundaries, so short
// keywords can over-match inside longer words (رای inside آرای, ملک inside مملکت).
// This is the baseline behaviour and existing golden outputs depend on it.
package classify

import "strings"

// Category is a named keyword list.
type Category struct {
	Name     string
	Keywords []string
}

// CategoryScore is the number of keyword occurrences found for one category.
type CategoryScore struct {
	Category string `json:"category"`
	Score    int    `json:"score"`
}

// DefaultCategories is the built-in Persian legal dictionary.
var DefaultCategories = []Category{
	{Name: "judicial", Keywords: []string{"دادگاه", "قاضی", "رای", "حکم", "دادرسی", "دیوان"}},
	{Name: "legislative", Keywords: []string{"قانون", "مجلس", "ماده", "تبصره", "لایحه"}},
	{Name: "administrative", Keywords: []string{"آیین‌نامه", "بخشنامه", "دستورالعمل", "مصوبه", "وزارت"}},
	{Name: "criminal", Keywords: []string{"جرم", "مجازات", "کیفری", "زندان"}},
	{Name: "civil", Keywords: []string{"مدنی", "قرارداد", "ملک", "ارث"}},
}

// Classifier holds a read-only dictionary and is safe for concurrent use.
type Classifier struct {
	categories []Category
}

// New builds a classifier over the given categories. Keywords are lowered once
// here; blank keywords are dropped since they would match everywhere.
func New(categories []Category) *Classifier {
	c := &Classifier{categories: make([]Category, 0, len(categories))}
	for _, cat := range categories {
		kws := make([]string, 0, len(cat.Keywords))
		for _, kw := range cat.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				kws = append(kws, kw)
			}
		}
		c.categories = append(c.categories, Category{Name: cat.Name, Keywords: kws})
	}
	return c
}

// Default returns a classifier over DefaultCategories.
func Default() *Classifier {
	return New(DefaultCategories)
}

// Classify returns the non-zero category scores in dictionary order.
func (c *Classifier) Classify(text string) []CategoryScore {
	lower := strings.ToLower(text)

	var scores []CategoryScore
	for _, cat := range c.categories {
		n := 0
		for _, kw := range cat.Keywords {
			n += strings.Count(lower, kw)
		}
		if n > 0 {
			scores = append(scores, CategoryScore{Category: cat.Name, Score: n})
		}
	}
	return scores
}

// Relevance is min(total matches * 5, 100).
func Relevance(scores []CategoryScore) int {
	total := 0
	for _, s := range scores {
		total += s.Score
	}
	return min(total*5, 100)
}

// Top returns the highest scoring category, or "" when there are none. Ties keep
// dictionary order.
func Top(scores []CategoryScore) string {
	best := ""
	bestScore := 0
	for _, s := range scores {
		if s.Score > bestScore {
			best, bestScore = s.Category, s.Score
		}
	}
	return best
}
