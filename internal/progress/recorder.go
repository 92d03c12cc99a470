package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// RecorderConfig controls buffering and batching. Zero values take defaults.
type RecorderConfig struct {
	Buffer      int
	BatchSize   int
	FlushEvery  time.Duration
	SinkTimeout time.Duration
	Logger      *zap.Logger
}

const (
	defaultRecorderBuffer = 1024
	defaultBatchSize      = 256
	defaultFlushEvery     = 500 * time.Millisecond
	defaultSinkTimeout    = 5 * time.Second
	dropWarnEvery         = 5 * time.Second
)

// Recorder batches committed events to sinks on a background goroutine.
// Emit never blocks; events are discarded when the buffer is full.
type Recorder struct {
	cfg    RecorderConfig
	sinks  []Sink
	in     chan Event
	quit   chan struct{}
	done   chan struct{}
	logger *zap.Logger

	dropped  atomic.Int64
	lastWarn atomic.Int64
	closed   atomic.Bool
	stopOnce sync.Once
}

// NewRecorder starts the batching goroutine.
func NewRecorder(cfg RecorderConfig, sinks ...Sink) *Recorder {
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultRecorderBuffer
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = defaultFlushEvery
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{
		cfg:    cfg,
		sinks:  append([]Sink(nil), sinks...),
		in:     make(chan Event, cfg.Buffer),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger.Named("recorder"),
	}
	go r.loop()
	return r
}

// Emit queues evt for the sinks.
func (r *Recorder) Emit(evt Event) {
	if r == nil || r.closed.Load() {
		return
	}
	select {
	case r.in <- evt:
	default:
		n := r.dropped.Add(1)
		now := time.Now().UnixNano()
		last := r.lastWarn.Load()
		if now-last >= dropWarnEvery.Nanoseconds() && r.lastWarn.CompareAndSwap(last, now) {
			r.logger.Warn("recorder buffer full; events dropped", zap.Int64("dropped", n))
		}
	}
}

// Close flushes queued events, closes the sinks, and waits for the
// goroutine to exit or ctx to end.
func (r *Recorder) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.stopOnce.Do(func() {
		r.closed.Store(true)
		close(r.quit)
	})
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("recorder close: %w", ctx.Err())
	}
}

func (r *Recorder) loop() {
	defer close(r.done)
	ticker := time.NewTicker(r.cfg.FlushEvery)
	defer ticker.Stop()

	pending := make([]Event, 0, r.cfg.BatchSize)
	for {
		select {
		case evt := <-r.in:
			pending = append(pending, evt)
			if len(pending) >= r.cfg.BatchSize {
				r.deliver(pending)
				pending = pending[:0]
			}
		case <-ticker.C:
			if len(pending) > 0 {
				r.deliver(pending)
				pending = pending[:0]
			}
		case <-r.quit:
			r.deliver(r.drain(pending))
			r.closeSinks()
			return
		}
	}
}

func (r *Recorder) drain(pending []Event) []Event {
	for {
		select {
		case evt := <-r.in:
			pending = append(pending, evt)
		default:
			return pending
		}
	}
}

func (r *Recorder) deliver(batch []Event) {
	if len(batch) == 0 {
		return
	}
	snapshot := append([]Event(nil), batch...)
	for _, sink := range r.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.SinkTimeout)
		if err := sink.Consume(ctx, snapshot); err != nil {
			r.logger.Warn("sink consume failed", zap.Error(err))
		}
		cancel()
	}
}

func (r *Recorder) closeSinks() {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.SinkTimeout)
	defer cancel()
	for _, sink := range r.sinks {
		if err := sink.Close(ctx); err != nil {
			r.logger.Warn("sink close failed", zap.Error(err))
		}
	}
}
