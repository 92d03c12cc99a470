package scraper

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/samber/mo"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/boltflow/internal/jobs"
	"github.com/JakeFAU/boltflow/internal/storage/memory"
)

type failingBlobs struct{}

func (failingBlobs) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket unavailable")
}

func TestArtifactsWritesHTMLAndScreenshot(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	engine := &stubEngine{out: mo.Ok(jobs.ScrapeResult{
		Pages:         1,
		HTML:          []byte("<html>hi</html>"),
		ScreenshotPNG: []byte{0x89, 'P', 'N', 'G'},
	})}
	jobID := uuid.New()
	a := NewArtifacts(engine, blobs, "/scraped/")

	res := a.Scrape(context.Background(), jobs.ScrapeRequest{JobID: jobID}, nopSink)
	require.False(t, res.IsError())
	out := res.MustGet()

	sum := sha256.Sum256([]byte("<html>hi</html>"))
	htmlPath := "scraped/" + jobID.String() + "/" + hex.EncodeToString(sum[:]) + ".html"
	require.Equal(t, "memory://"+htmlPath, out.HTMLURI)
	data, contentType, found := blobs.Object(htmlPath)
	require.True(t, found)
	require.Equal(t, "<html>hi</html>", string(data))
	require.Equal(t, "text/html; charset=utf-8", contentType)

	shotPath := "scraped/" + jobID.String() + "/screenshot.png"
	require.Equal(t, "memory://"+shotPath, out.Screenshot)
	require.Nil(t, out.ScreenshotPNG)
	_, contentType, found = blobs.Object(shotPath)
	require.True(t, found)
	require.Equal(t, "image/png", contentType)

	require.Equal(t, "<html>hi</html>", string(out.HTML), "page row still needs the markup")
}

func TestArtifactsPassesErrorsThrough(t *testing.T) {
	t.Parallel()

	boom := errors.New("dns failure")
	a := NewArtifacts(&stubEngine{out: mo.Err[jobs.ScrapeResult](boom)}, memory.NewBlobStore(), "")
	res := a.Scrape(context.Background(), jobs.ScrapeRequest{JobID: uuid.New()}, nopSink)
	require.ErrorIs(t, res.Error(), boom)
}

func TestArtifactsBlobFailureFailsScrape(t *testing.T) {
	t.Parallel()

	a := NewArtifacts(&stubEngine{out: ok("<html></html>")}, failingBlobs{}, "")
	res := a.Scrape(context.Background(), jobs.ScrapeRequest{JobID: uuid.New()}, nopSink)
	require.True(t, res.IsError())
	require.Contains(t, res.Error().Error(), "store html")
}
