package server

import (
	"net/http"
	"time"

	"github.com/menta2k/capture-studio/pkg/geometry"
	"github.com/menta2k/capture-studio/pkg/interaction"
)

// Inbound pointer message types
const (
	msgDrag   = "drag"
	msgResize = "resize"
	msgMove   = "move"
	msgUp     = "up"
	msgCancel = "cancel"
)

type wireRect struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r wireRect) rect() geometry.Rect {
	return geometry.Rect{Width: r.Width, Height: r.Height}
}

// pointerMessage is a gesture event sent by a viewer
type pointerMessage struct {
	Type      string   `json:"type"`
	BoxID     string   `json:"box_id,omitempty"`
	Container wireRect `json:"container"`
	Card      wireRect `json:"card"`
	X         float64  `json:"x"`
	Y         float64  `json:"y"`
}

// handleWebsocket streams session snapshots to the viewer and applies the drag and resize
// gestures it sends. Each connection owns its own gesture controller.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade error: %v", err)
		return
	}
	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	initial, err := sessionMessage(s.orch.Store().Snapshot())
	if err != nil {
		s.logger.Error("failed to encode session: %v", err)
		conn.Close()
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 16)}
	s.hub.Register(c)
	go c.writePump(initial)

	bus := interaction.NewBus()
	controller := interaction.NewController(s.orch.Store(), bus)
	defer func() {
		controller.Cancel()
		s.hub.Unregister(c)
	}()

	for {
		var msg pointerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		pos := geometry.Point{X: msg.X, Y: msg.Y}
		switch msg.Type {
		case msgDrag:
			_, err = controller.BeginDrag(msg.BoxID, msg.Container.rect(), msg.Card.rect(), pos)
		case msgResize:
			_, err = controller.BeginResize(msg.BoxID, msg.Container.rect(), msg.Card.rect(), pos)
		case msgMove:
			bus.Move(msg.X, msg.Y)
		case msgUp:
			bus.Up(msg.X, msg.Y)
		case msgCancel:
			bus.Dispatch(interaction.PointerEvent{Type: interaction.PointerCancel, Position: pos})
		default:
			s.logger.Warning("ignoring websocket message of type %q", msg.Type)
		}
		if err != nil {
			s.logger.Warning("gesture rejected: %v", err)
			err = nil
		}
	}
}
