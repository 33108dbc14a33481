// Package techdetect fingerprints the server stack behind a fetched page with
// wappalyzergo. Legal portals change hosting often and the fingerprint helps
// explain why a bypass strategy stops working.
package techdetect

import (
	"net/http"
	"slices"
	"sync"

	wappalyzer "github.com/projectdiscovery/wappalyzergo"
	"github.com/rs/zerolog/log"
)

// MaxBodyBytes caps how much of a page is fingerprinted.
const MaxBodyBytes = 512 * 1024

// Detector wraps a wappalyzer client. It is safe for concurrent use.
type Detector struct {
	client *wappalyzer.Wappalyze
}

var (
	categoryNames     map[int]string
	categoryNamesOnce sync.Once
)

// New loads the fingerprint database.
func New() (*Detector, error) {
	client, err := wappalyzer.New()
	if err != nil {
		return nil, err
	}

	categoryNamesOnce.Do(func() {
		categoryNames = make(map[int]string)
		for id, cat := range wappalyzer.GetCategoriesMapping() {
			categoryNames[id] = cat.Name
		}
	})

	return &Detector{client: client}, nil
}

// Detect maps each detected technology to its sorted category names, e.g.
// {"IIS": ["Web servers"], "Microsoft ASP.NET": ["Web frameworks"]}.
func (d *Detector) Detect(headers http.Header, body []byte) map[string][]string {
	if len(body) > MaxBodyBytes {
		body = body[:MaxBodyBytes]
	}
	if headers == nil {
		headers = http.Header{}
	}

	technologies := make(map[string][]string)
	for tech, info := range d.client.FingerprintWithCats(headers, body) {
		categories := make([]string, 0, len(info.Cats))
		for _, id := range info.Cats {
			if name, ok := categoryNames[id]; ok {
				categories = append(categories, name)
			}
		}
		slices.Sort(categories)
		technologies[tech] = categories
	}

	log.Debug().
		Int("tech_count", len(technologies)).
		Msg("Technology detection completed")

	return technologies
}
