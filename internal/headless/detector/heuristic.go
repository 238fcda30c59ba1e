// Package detector decides whether a static item page is worth rendering in a
// headless browser before giving up on its social metadata.
package detector

import (
	"bytes"
	"net/http"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/mylist-importer/internal/mylist"
)

// DefaultMinBytes is the body size under which script-heavy pages are treated
// as client-rendered shells.
const DefaultMinBytes = 2048

// Heuristic flags pages that look like client-rendered application shells.
type Heuristic struct {
	MinBytes int
}

// NewHeuristic returns a Heuristic. A zero minBytes uses DefaultMinBytes.
func NewHeuristic(minBytes int) *Heuristic {
	if minBytes <= 0 {
		minBytes = DefaultMinBytes
	}
	return &Heuristic{MinBytes: minBytes}
}

// Mount points of script-rendered watch pages and common SPA frameworks.
var shellMarkers = [][]byte{
	[]byte(`id="js-app"`),
	[]byte(`name="server-response"`),
	[]byte(`id="__next"`),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
}

// ShouldRender reports whether resp looks like a page whose metadata only
// appears after scripts run. Non-200 responses are never rendered.
func (h *Heuristic) ShouldRender(resp mylist.FetchResponse) bool {
	if resp.StatusCode != http.StatusOK {
		return false
	}
	body := resp.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	for _, marker := range shellMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return len(body) < h.MinBytes && scriptShare(body) >= 25
}

// scriptShare returns the percentage of the document text held by inline
// scripts.
func scriptShare(body []byte) int {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 0
	}
	script := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		script += len(s.Text())
	})
	if script == 0 {
		return 0
	}
	visible := len(doc.Find("body").Text())
	if total := script + visible - containedScript(doc); total > 0 {
		return script * 100 / total
	}
	return 100
}

// containedScript counts script text that also shows up in the body text, so
// it is not counted twice.
func containedScript(doc *goquery.Document) int {
	n := 0
	doc.Find("body script").Each(func(_ int, s *goquery.Selection) {
		n += len(s.Text())
	})
	return n
}
