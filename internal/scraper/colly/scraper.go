// Package collyscraper implements jobs.Scraper with a plain HTTP fetch
// through gocolly.
package collyscraper

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/samber/mo"

	"github.com/JakeFAU/boltflow/internal/jobs"
	"github.com/JakeFAU/boltflow/internal/scraper"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Scraper fetches exactly one page per invocation.
type Scraper struct {
	cfg  Config
	base *colly.Collector
}

// page accumulates what the collector callbacks observe.
type page struct {
	url        string
	statusCode int
	body       []byte
	links      []string
	err        error
}

// New builds a Scraper sharing one pooled transport across invocations.
func New(cfg Config) *Scraper {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newRobotsTransport(newHTTPTransport()))
	return &Scraper{cfg: cfg, base: c}
}

// Scrape implements jobs.Scraper.
func (s *Scraper) Scrape(ctx context.Context, req jobs.ScrapeRequest, sink jobs.ProgressSink) mo.Result[jobs.ScrapeResult] {
	p := &page{}
	collector := s.collector(p)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(req.URL)
	}()

	select {
	case <-ctx.Done():
		return mo.Err[jobs.ScrapeResult](fmt.Errorf("fetch %s: %w", req.URL, ctx.Err()))
	case err := <-done:
		if err == nil {
			err = p.err
		}
		if err != nil {
			return mo.Err[jobs.ScrapeResult](fmt.Errorf("fetch %s: %w", req.URL, err))
		}
	}

	if p.url == "" {
		p.url = req.URL
	}
	links := scraper.CapLinks(p.links, req.MaxPages)
	sink.Report(scraper.PageProgress(p.url, links))
	return mo.Ok(jobs.ScrapeResult{
		URL:        p.url,
		Pages:      1,
		StatusCode: p.statusCode,
		Links:      links,
		HTML:       p.body,
	})
}

func (s *Scraper) collector(p *page) *colly.Collector {
	c := s.base.Clone()
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = !s.cfg.RespectRobots
	if s.cfg.UserAgent != "" {
		c.UserAgent = s.cfg.UserAgent
	}
	c.SetRequestTimeout(s.cfg.Timeout)

	c.OnResponse(func(r *colly.Response) {
		p.url = r.Request.URL.String()
		p.statusCode = r.StatusCode
		p.body = append([]byte(nil), r.Body...)
	})
	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		if link := e.Request.AbsoluteURL(e.Attr("href")); link != "" {
			p.links = append(p.links, link)
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			p.statusCode = r.StatusCode
		}
		p.err = err
	})
	return c
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
