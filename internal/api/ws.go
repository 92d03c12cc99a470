package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/JakeFAU/boltflow/internal/notify"
)

// serveWS registers the connection with the hub and echoes inbound text
// frames back to the same client until it disconnects.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	clientID := strings.TrimSpace(chi.URLParam(r, "client_id"))
	if clientID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "client_id is required", nil)
		return
	}
	if s.deps.Hub == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "notifications are disabled", nil)
		return
	}
	raw, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("websocket upgrade failed", zap.String("client_id", clientID), zap.Error(err))
		return
	}
	conn := notify.NewWSConn(raw, s.opts.WriteTimeout)
	if err := conn.Keepalive(s.opts.WSReadLimit, s.opts.WSPongWait); err != nil {
		s.logger.Debug("websocket keepalive failed", zap.String("client_id", clientID), zap.Error(err))
		_ = conn.Close()
		return
	}
	s.deps.Hub.Register(clientID, conn)
	defer s.deps.Hub.Release(clientID, conn)

	ctx := context.WithoutCancel(r.Context())
	err = conn.ReadText(func(text string) {
		if sendErr := s.deps.Hub.SendTo(ctx, clientID, []byte("Echo: "+text)); sendErr != nil {
			s.logger.Debug("echo failed", zap.String("client_id", clientID), zap.Error(sendErr))
		}
	})
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
		!errors.Is(err, net.ErrClosed) {
		s.logger.Debug("websocket closed", zap.String("client_id", clientID), zap.Error(err))
	}
}
