package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/kitchensafe/internal/app"
	"github.com/ayusman/kitchensafe/internal/hazard"
)

const (
	eventBuffer = 8
	writeWait   = time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// Event is a message on the /api/events websocket. The first message after
// connecting is a "status" event; every confirmed verdict change follows as
// a "transition" event.
type Event struct {
	Type       string             `json:"type"`
	Status     *app.Status        `json:"status,omitempty"`
	Transition *hazard.Transition `json:"transition,omitempty"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := s.ctrl.Subscribe(eventBuffer)
	defer unsubscribe()

	st := s.ctrl.Status()
	if err := write(conn, Event{Type: "status", Status: &st}); err != nil {
		return
	}

	// Reads only to notice the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	defer func() {
		conn.Close()
		<-gone
	}()

	for {
		select {
		case t, ok := <-events:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "monitor stopped"),
					time.Now().Add(writeWait))
				return
			}
			if err := write(conn, Event{Type: "transition", Transition: &t}); err != nil {
				s.logger.Debugw("event client gone", "error", err)
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func write(conn *websocket.Conn, ev Event) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(ev)
}
