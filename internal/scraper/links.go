package scraper

import (
	"strings"

	"github.com/JakeFAU/boltflow/internal/jobs"
)

// CapLinks removes blanks, fragments-only and duplicate links and keeps at
// most maxPages of them in document order.
func CapLinks(links []string, maxPages int) []string {
	seen := make(map[string]struct{}, len(links))
	out := make([]string, 0, len(links))
	for _, link := range links {
		link = strings.TrimSpace(link)
		if link == "" || strings.HasPrefix(link, "#") {
			continue
		}
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}
		out = append(out, link)
		if maxPages > 0 && len(out) == maxPages {
			break
		}
	}
	return out
}

// PageProgress is the single progress report an engine makes after fetching
// the target page.
func PageProgress(url string, links []string) jobs.ScrapeProgress {
	return jobs.ScrapeProgress{
		PagesScraped: 1,
		TotalPages:   len(links),
		CurrentURL:   url,
	}
}
