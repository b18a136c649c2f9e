// Package detector flags pages whose markup is mostly a JavaScript shell. Such pages are still
// scraped, but their links and images are likely incomplete without a browser.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/page-scraper/internal/scraper"
)

const defaultMinVisibleText = 200

// Heuristic implements scraper.RenderDetector with a few markup rules.
type Heuristic struct {
	// MinVisibleText is the amount of visible text, in bytes, below which a script-bearing page
	// is considered a shell.
	MinVisibleText int
}

// NewHeuristic creates a detector. A non-positive threshold selects the default.
func NewHeuristic(minVisibleText int) *Heuristic {
	if minVisibleText <= 0 {
		minVisibleText = defaultMinVisibleText
	}
	return &Heuristic{MinVisibleText: minVisibleText}
}

var appMarkers = [][]byte{
	[]byte(`id="__next"`),
	[]byte("__NEXT_DATA__"),
	[]byte(`id="root"></div>`),
	[]byte(`id="app"></div>`),
	[]byte("data-reactroot"),
	[]byte("ng-version="),
	[]byte("window.__NUXT__"),
}

// ClientRendered reports whether resp looks like an empty application shell.
func (h *Heuristic) ClientRendered(resp scraper.FetchResponse) bool {
	if resp.StatusCode != http.StatusOK {
		return false
	}
	body := bytes.TrimSpace(resp.Body)
	if len(body) == 0 {
		return true
	}
	for _, marker := range appMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	scripts := doc.Find("script").Length()
	if scripts == 0 {
		return false
	}
	doc.Find("script, style, noscript, template").Remove()
	visible := len(strings.Join(strings.Fields(doc.Find("body").Text()), " "))
	return visible < h.MinVisibleText
}
