package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/boltflow/internal/jobs"
	"github.com/JakeFAU/boltflow/internal/progress"
)

func TestPrometheusSinkRecordsLifecycle(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	ok, bad := uuid.New(), uuid.New()
	now := time.Now()
	batch := []progress.Event{
		{Kind: progress.KindStarted, JobID: ok, TS: now},
		{Kind: progress.KindStarted, JobID: bad, TS: now},
		{Kind: progress.KindProgress, JobID: ok, TS: now, Progress: progressOf(40)},
		{Kind: progress.KindCompleted, JobID: ok, TS: now, Elapsed: 3 * time.Second},
		{Kind: progress.KindError, JobID: bad, TS: now, Error: "timeout", Elapsed: time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.InDelta(t, 2, testutil.ToFloat64(sink.jobsStarted), 0)
	require.InDelta(t, 1, testutil.ToFloat64(sink.jobsFinished.WithLabelValues("success")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(sink.jobsFinished.WithLabelValues("error")), 0)
	require.InDelta(t, 0, testutil.ToFloat64(sink.jobsRunning), 0)
	require.InDelta(t, 1, testutil.ToFloat64(sink.progressEvents), 0)
	require.Equal(t, 2, testutil.CollectAndCount(sink.jobRuntime, "boltflow_job_runtime_seconds"))
}

func TestPrometheusSinkRejectsDoubleRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

func TestLogSinkWarnsOnFailure(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{Kind: progress.KindStarted, JobID: uuid.New(), TS: time.Now(), URL: "https://example.com"},
		{Kind: progress.KindError, JobID: uuid.New(), TS: time.Now(), Error: "boom"},
	}))

	require.Equal(t, 2, logs.Len())
	require.Equal(t, 1, logs.FilterLevelExact(zap.WarnLevel).Len())
	require.NoError(t, sink.Close(context.Background()))
}

func progressOf(pct int) jobs.ScrapeProgress {
	return jobs.ScrapeProgress{Percent: pct}
}
