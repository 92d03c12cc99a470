package scraper

import (
	"context"

	"github.com/samber/mo"
	"go.uber.org/zap"

	"github.com/JakeFAU/boltflow/internal/jobs"
)

// Hybrid fetches with a plain HTTP engine and re-renders in a browser when
// the page looks client-rendered or a screenshot was requested.
type Hybrid struct {
	probe    jobs.Scraper
	headless jobs.Scraper
	detector *Detector
	logger   *zap.Logger
}

// NewHybrid combines probe and headless. headless may be nil, which turns
// Hybrid into a pass-through to probe.
func NewHybrid(probe, headless jobs.Scraper, detector *Detector, logger *zap.Logger) *Hybrid {
	if detector == nil {
		detector = NewDetector(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hybrid{probe: probe, headless: headless, detector: detector, logger: logger.Named("hybrid")}
}

// Scrape implements jobs.Scraper.
func (h *Hybrid) Scrape(ctx context.Context, req jobs.ScrapeRequest, sink jobs.ProgressSink) mo.Result[jobs.ScrapeResult] {
	if h.headless != nil && req.Screenshot {
		return h.headless.Scrape(ctx, req, sink)
	}
	res := h.probe.Scrape(ctx, req, sink)
	if h.headless == nil || res.IsError() || !h.detector.ShouldPromote(res.MustGet()) {
		return res
	}

	rendered := h.headless.Scrape(ctx, req, sink)
	if rendered.IsError() {
		h.logger.Warn("headless promotion failed",
			zap.String("job_id", req.JobID.String()),
			zap.String("url", req.URL),
			zap.Error(rendered.Error()))
		return res
	}
	h.logger.Info("headless promotion applied",
		zap.String("job_id", req.JobID.String()),
		zap.String("url", req.URL))
	return rendered
}
