package app

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// handleDraftSocket upgrades an authenticated request and joins the room for the
// draft id in the path. Room membership is not restricted to the draft's owner.
func (s *HTTPServer) handleDraftSocket(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		s.fail(w, r, errUpgradeRequired)
		return
	}
	docID := r.PathValue("id")
	if docID == "" {
		s.fail(w, r, errNotFound)
		return
	}
	if _, err := s.authenticate(r); err != nil {
		s.fail(w, r, err)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the handshake error.
		s.logger.Warn("websocket upgrade failed", "request_id", requestIDFrom(r.Context()), "error", err)
		return
	}
	s.rooms.ServeSocket(ws, docID)
}
