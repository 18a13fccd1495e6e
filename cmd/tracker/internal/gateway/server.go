// Package gateway adapts websocket sessions onto the hub and the tracker.
package gateway

import (
	"net/http"

	"github.com/gobwas/ws"
	"go.uber.org/zap"

	"github.com/shubham-shewale/stock-tracker/cmd/tracker/internal/hub"
)

type Server struct {
	hub     *hub.Hub
	tracker Switcher
	logger  *zap.Logger
}

func NewServer(h *hub.Hub, tr Switcher, logger *zap.Logger) *Server {
	return &Server{hub: h, tracker: tr, logger: logger}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(conn, s.hub, s.tracker, s.logger)
	client.Start()
}
