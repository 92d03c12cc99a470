package scraper

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/JakeFAU/boltflow/internal/jobs"
)

const defaultBodyThreshold = 2048

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
}

// Detector decides whether a plain HTTP fetch needs a headless re-render.
type Detector struct {
	BodyThreshold int
}

// NewDetector returns a Detector; threshold 0 takes the default.
func NewDetector(threshold int) *Detector {
	if threshold <= 0 {
		threshold = defaultBodyThreshold
	}
	return &Detector{BodyThreshold: threshold}
}

// ShouldPromote flags empty bodies, small script-heavy pages and pages
// carrying well-known SPA mount points.
func (d *Detector) ShouldPromote(res jobs.ScrapeResult) bool {
	if res.StatusCode != http.StatusOK {
		return false
	}
	body := res.HTML
	if len(body) == 0 {
		return true
	}
	if len(body) < d.BodyThreshold && scriptHeavy(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptHeavy reports whether script elements cover a quarter of the body.
func scriptHeavy(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	covered := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], "<script")
		if rel == -1 {
			break
		}
		start := pos + rel
		gt := strings.IndexByte(lower[start:], '>')
		if gt == -1 {
			covered += total - start
			break
		}
		contentStart := start + gt + 1
		end := strings.Index(lower[contentStart:], "</script>")
		next := total
		if end != -1 {
			next = contentStart + end + len("</script>")
		}
		covered += next - start
		pos = next
	}
	return covered > 0 && covered*100/total >= 25
}
