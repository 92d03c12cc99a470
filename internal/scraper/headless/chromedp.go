// Package headless renders pages in headless Chrome through chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/samber/mo"

	"github.com/JakeFAU/boltflow/internal/jobs"
	"github.com/JakeFAU/boltflow/internal/scraper"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	settleDelay              = 500 * time.Millisecond
	screenshotQuality        = 100 // 100 selects PNG encoding.
)

// anchorsJS mirrors document.querySelectorAll('a').map(a => a.href).
const anchorsJS = `Array.from(document.querySelectorAll('a')).map(a => a.href)`

// Config controls the headless browser.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
}

// Scraper implements jobs.Scraper with a shared Chrome allocator.
type Scraper struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New starts an allocator; Chrome itself launches lazily on first use.
func New(cfg Config) (*Scraper, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Scraper{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts the browser down.
func (s *Scraper) Close() {
	s.allocCancel()
}

// Scrape implements jobs.Scraper.
func (s *Scraper) Scrape(ctx context.Context, req jobs.ScrapeRequest, sink jobs.ProgressSink) mo.Result[jobs.ScrapeResult] {
	if err := s.acquire(ctx); err != nil {
		return mo.Err[jobs.ScrapeResult](err)
	}
	defer s.release()

	taskCtx, taskCancel := chromedp.NewContext(s.allocator)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, s.cfg.NavigationTimeout)
	defer cancel()
	// Tie the browser tab to the caller's deadline as well.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	meta := &responseMeta{}
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	var (
		html     string
		finalURL string
		anchors  []string
		shot     []byte
	)
	actions := []chromedp.Action{
		s.networkSetup(),
		chromedp.Navigate(req.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(settleDelay),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Evaluate(anchorsJS, &anchors),
	}
	if req.Screenshot {
		actions = append(actions, chromedp.FullScreenshot(&shot, screenshotQuality))
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return mo.Err[jobs.ScrapeResult](fmt.Errorf("render %s: %w", req.URL, err))
	}

	status, url := meta.resolve(req.URL, finalURL)
	links := scraper.CapLinks(anchors, req.MaxPages)
	sink.Report(scraper.PageProgress(url, links))
	return mo.Ok(jobs.ScrapeResult{
		URL:           url,
		Pages:         1,
		StatusCode:    status,
		Links:         links,
		HTML:          []byte(html),
		ScreenshotPNG: shot,
	})
}

func (s *Scraper) networkSetup() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if s.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (s *Scraper) acquire(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	select {
	case s.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (s *Scraper) release() {
	if s.limiter == nil {
		return
	}
	<-s.limiter
}

// responseMeta records the main document response seen by the browser.
type responseMeta struct {
	mu     sync.Mutex
	status int
	url    string
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != 0 {
		return
	}
	m.status = int(resp.Response.Status)
	m.url = resp.Response.URL
}

// resolve prefers the document response, then the final location, then
// the requested URL. A render without a captured response counts as 200.
func (m *responseMeta) resolve(requestURL, finalURL string) (int, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := m.status
	if status == 0 {
		status = http.StatusOK
	}
	url := finalURL
	if url == "" {
		url = m.url
	}
	if url == "" {
		url = requestURL
	}
	return status, url
}
