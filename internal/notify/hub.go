package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/boltflow/internal/metrics"
)

// ErrClientNotFound is returned by SendTo when no connection is registered.
var ErrClientNotFound = errors.New("client not found")

// Hub is the registry of live observer connections, keyed by client id.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]Conn
	logger *zap.Logger
}

// NewHub constructs an empty Hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		conns:  make(map[string]Conn),
		logger: logger.Named("hub"),
	}
}

// Register adds conn under clientID. A previous connection for the same id
// is closed and replaced.
func (h *Hub) Register(clientID string, conn Conn) {
	h.mu.Lock()
	old := h.conns[clientID]
	h.conns[clientID] = conn
	n := len(h.conns)
	h.mu.Unlock()

	if old != nil && old != conn {
		_ = old.Close()
		h.logger.Info("observer replaced", zap.String("client_id", clientID))
	}
	metrics.SetObservers(n)
}

// Unregister removes and closes the connection for clientID, if any.
func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	conn, ok := h.conns[clientID]
	delete(h.conns, clientID)
	n := len(h.conns)
	h.mu.Unlock()

	if ok {
		_ = conn.Close()
		metrics.SetObservers(n)
	}
}

// Release unregisters conn when the reader for that socket exits. A newer
// connection registered under the same id is left alone.
func (h *Hub) Release(clientID string, conn Conn) {
	h.mu.Lock()
	current, ok := h.conns[clientID]
	if ok && current == conn {
		delete(h.conns, clientID)
	}
	n := len(h.conns)
	h.mu.Unlock()

	_ = conn.Close()
	if ok && current == conn {
		metrics.SetObservers(n)
	}
}

// Len reports the number of registered connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// SendTo delivers payload to a single client. A failed send drops the client.
func (h *Hub) SendTo(ctx context.Context, clientID string, payload []byte) error {
	h.mu.RLock()
	conn, ok := h.conns[clientID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", clientID, ErrClientNotFound)
	}
	if err := send(ctx, conn, payload); err != nil {
		h.drop(clientID, conn, err)
		return fmt.Errorf("send to %s: %w", clientID, err)
	}
	return nil
}

// Broadcast serializes msg once and delivers it to every connection.
func (h *Hub) Broadcast(ctx context.Context, msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", zap.String("job_id", msg.JobID), zap.Error(err))
		return
	}
	h.BroadcastRaw(ctx, payload)
}

// BroadcastRaw delivers payload to a snapshot of the registry. Sends run in
// parallel and the call returns once every send has finished, so frames
// from one caller reach each connection in call order.
func (h *Hub) BroadcastRaw(ctx context.Context, payload []byte) {
	h.mu.RLock()
	targets := make(map[string]Conn, len(h.conns))
	for id, conn := range h.conns {
		targets[id] = conn
	}
	h.mu.RUnlock()

	var wg sync.WaitGroup
	for id, conn := range targets {
		wg.Add(1)
		go func(id string, conn Conn) {
			defer wg.Done()
			if err := send(ctx, conn, payload); err != nil {
				h.drop(id, conn, err)
			}
		}(id, conn)
	}
	wg.Wait()
}

// CloseAll closes and forgets every connection.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[string]Conn)
	h.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
	metrics.SetObservers(0)
}

// send converts a panicking connection into a send error.
func send(ctx context.Context, conn Conn, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("send panicked: %v", r)
		}
	}()
	return conn.Send(ctx, payload)
}

// drop removes conn only if it is still the registered connection for id,
// so a replacement registered meanwhile survives.
func (h *Hub) drop(clientID string, conn Conn, cause error) {
	h.mu.Lock()
	current, ok := h.conns[clientID]
	if ok && current == conn {
		delete(h.conns, clientID)
	}
	n := len(h.conns)
	h.mu.Unlock()

	_ = conn.Close()
	metrics.IncBroadcastFailure()
	metrics.SetObservers(n)
	h.logger.Warn("observer dropped", zap.String("client_id", clientID), zap.Error(cause))
}
