package redisrelay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/boltflow/internal/notify"
)

type recordingLocal struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (l *recordingLocal) BroadcastRaw(_ context.Context, payload []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.payloads = append(l.payloads, payload)
}

func (l *recordingLocal) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.payloads)
}

func unreachableClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestBroadcastFallsBackToLocalWhenRedisIsDown(t *testing.T) {
	t.Parallel()

	local := &recordingLocal{}
	relay := NewWithClient(unreachableClient(t), "", local, nil)

	relay.Broadcast(context.Background(), notify.Message{Type: notify.TypeStarted, JobID: "j1"})

	require.Equal(t, 1, local.count())
	var got notify.Message
	require.NoError(t, json.Unmarshal(local.payloads[0], &got))
	require.Equal(t, notify.TypeStarted, got.Type)
	require.Equal(t, "j1", got.JobID)
}

func TestDeliverSkipsMalformedFrames(t *testing.T) {
	t.Parallel()

	local := &recordingLocal{}
	relay := NewWithClient(unreachableClient(t), "events", local, nil)

	relay.deliver(context.Background(), "not json")
	relay.deliver(context.Background(), `{"job_id":"x"}`)
	relay.deliver(context.Background(), `{"type":"scrape:progress","job_id":"x"}`)
	require.Equal(t, 1, local.count())
}

func TestNewRejectsBadURL(t *testing.T) {
	t.Parallel()

	_, err := New("://bad", "", &recordingLocal{}, nil)
	require.Error(t, err)
}

func TestRunRetriesUntilCanceled(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	relay := NewWithClient(unreachableClient(t), "", &recordingLocal{}, zap.New(core))
	relay.newBackOff = func() backoff.BackOff { return backoff.NewConstantBackOff(10 * time.Millisecond) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	require.Eventually(t, func() bool {
		return logs.FilterMessage("relay subscription lost; retrying").Len() >= 2
	}, 5*time.Second, 10*time.Millisecond)
	require.False(t, relay.Subscribed())
	require.Error(t, relay.Ping(ctx))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
