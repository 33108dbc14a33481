package batch

import "github.com/Harvey-AU/legal-archive-scraper/internal/crawler"

// Stats aggregates a batch's results.
type Stats struct {
	Total       int            `json:"total"`
	Succeeded   int            `json:"succeeded"`
	Failed      int            `json:"failed"`
	Skipped     int            `json:"skipped"`
	ByStrategy  map[string]int `json:"by_strategy"`
	ByErrorKind map[string]int `json:"by_error_kind"`
	SuccessRate float64        `json:"success_rate"`
}

// Summarize counts outcomes, winning strategies and failure kinds. Nil entries are
// ignored.
func Summarize(results []*crawler.ScrapeResult) Stats {
	st := Stats{
		ByStrategy:  map[string]int{},
		ByErrorKind: map[string]int{},
	}

	for _, r := range results {
		if r == nil {
			continue
		}
		st.Total++
		if r.Skipped {
			st.Skipped++
		}
		if r.Success {
			st.Succeeded++
			if r.StrategyUsed != "" {
				st.ByStrategy[r.StrategyUsed]++
			}
			continue
		}
		st.Failed++
		kind := r.ErrorKind
		if kind == "" {
			kind = crawler.ErrorKindInternal
		}
		st.ByErrorKind[kind]++
	}

	if st.Total > 0 {
		st.SuccessRate = float64(st.Succeeded) / float64(st.Total)
	}
	return st
}
