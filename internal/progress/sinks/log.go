package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/boltflow/internal/progress"
)

// LogSink writes one structured line per committed event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("events")}
}

// Consume logs each event; terminal failures log at warn level.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobID.String()),
			zap.String("kind", string(evt.Kind)),
			zap.Time("ts", evt.TS),
		}
		switch evt.Kind {
		case progress.KindStarted:
			fields = append(fields, zap.String("url", evt.URL))
		case progress.KindProgress:
			fields = append(fields,
				zap.Int("percent", evt.Percent()),
				zap.Int("pages_scraped", evt.Progress.PagesScraped),
				zap.Int("total_pages", evt.Progress.TotalPages))
		case progress.KindCompleted:
			fields = append(fields, zap.Duration("elapsed", evt.Elapsed))
		case progress.KindError:
			fields = append(fields, zap.Duration("elapsed", evt.Elapsed), zap.String("error", evt.Error))
			s.logger.Warn("job event", fields...)
			continue
		}
		s.logger.Debug("job event", fields...)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
