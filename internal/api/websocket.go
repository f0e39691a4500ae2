package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bbernstein/lacylights-engine/internal/services/pubsub"
	"github.com/bbernstein/lacylights-engine/pkg/dmx"
)

const (
	wsBufferSize = 64
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// Message types sent to WebSocket clients.
const (
	WSTypeDMXOutput  = "dmx_output"
	WSTypeProgrammer = "programmer"
)

// WSMessage wraps every event sent to WebSocket clients.
type WSMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// handleWebSocket streams output frames and programmer edits. The optional universe
// query parameter limits frames to one universe.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	filter := ""
	if q := r.URL.Query().Get("universe"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil {
			writeBadRequest(w, "universe must be a number")
			return
		}
		id, err := dmx.NewUniverseID(n)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		filter = strconv.Itoa(int(id))
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	frames := s.PubSub.Subscribe(pubsub.TopicDMXOutput, filter, wsBufferSize)
	edits := s.PubSub.Subscribe(pubsub.TopicProgrammer, "", wsBufferSize)
	s.log.WithField("universe", filter).Debug("WebSocket client connected")

	closed := make(chan struct{})
	go s.wsReadPump(conn, closed)
	s.wsWritePump(conn, frames, edits, closed)

	s.PubSub.Unsubscribe(frames)
	s.PubSub.Unsubscribe(edits)
	_ = conn.Close()
	s.log.Debug("WebSocket client disconnected")
}

// wsReadPump discards client messages and closes done when the connection drops.
func (s *Server) wsReadPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.WithError(err).Warn("WebSocket read error")
			}
			return
		}
	}
}

func (s *Server) wsWritePump(conn *websocket.Conn, frames, edits *pubsub.Subscriber, closed <-chan struct{}) {
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		var msg WSMessage
		select {
		case <-closed:
			return
		case p, ok := <-frames.Channel:
			if !ok {
				return
			}
			msg = WSMessage{Type: WSTypeDMXOutput, Payload: p}
		case p, ok := <-edits.Channel:
			if !ok {
				return
			}
			msg = WSMessage{Type: WSTypeProgrammer, Payload: p}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		}

		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}
