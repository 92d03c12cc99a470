package scraper

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/samber/mo"

	"github.com/JakeFAU/boltflow/internal/jobs"
)

// Artifacts wraps an engine and writes the fetched HTML and screenshot to
// blob storage, replacing the raw bytes with URIs in the result.
type Artifacts struct {
	next   jobs.Scraper
	blobs  jobs.BlobStore
	prefix string
}

// NewArtifacts decorates next. Objects are written under prefix/<job id>/.
func NewArtifacts(next jobs.Scraper, blobs jobs.BlobStore, prefix string) *Artifacts {
	return &Artifacts{next: next, blobs: blobs, prefix: strings.Trim(prefix, "/")}
}

// Scrape implements jobs.Scraper.
func (a *Artifacts) Scrape(ctx context.Context, req jobs.ScrapeRequest, sink jobs.ProgressSink) mo.Result[jobs.ScrapeResult] {
	res := a.next.Scrape(ctx, req, sink)
	if res.IsError() {
		return res
	}
	out := res.MustGet()

	if len(out.HTML) > 0 {
		sum := sha256.Sum256(out.HTML)
		name := a.objectPath(req, hex.EncodeToString(sum[:])+".html")
		uri, err := a.blobs.PutObject(ctx, name, "text/html; charset=utf-8", bytes.NewReader(out.HTML))
		if err != nil {
			return mo.Err[jobs.ScrapeResult](fmt.Errorf("store html: %w", err))
		}
		out.HTMLURI = uri
	}
	if len(out.ScreenshotPNG) > 0 {
		uri, err := a.blobs.PutObject(ctx, a.objectPath(req, "screenshot.png"), "image/png", bytes.NewReader(out.ScreenshotPNG))
		if err != nil {
			return mo.Err[jobs.ScrapeResult](fmt.Errorf("store screenshot: %w", err))
		}
		out.Screenshot = uri
		out.ScreenshotPNG = nil
	}
	return mo.Ok(out)
}

func (a *Artifacts) objectPath(req jobs.ScrapeRequest, name string) string {
	return path.Join(a.prefix, req.JobID.String(), name)
}
