package notify

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultWriteWait  = 10 * time.Second
	defaultPongWait   = 60 * time.Second
	defaultPingPeriod = 30 * time.Second // must be shorter than pongWait
	sendBufferSize    = 16
)

// SocketServer upgrades HTTP requests to websocket connections and
// bridges them into the hub. Clients send an identify frame to join
// their channels; everything after that is server push. A peer that
// stops answering pings is dropped after pongWait so its hub membership
// does not linger.
type SocketServer struct {
	hub        *Hub
	upgrader   websocket.Upgrader
	writeWait  time.Duration
	pingPeriod time.Duration
	pongWait   time.Duration
	log        zerolog.Logger
}

func NewSocketServer(hub *Hub, log zerolog.Logger) *SocketServer {
	return &SocketServer{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients connect from the app origin; auth happens
			// via the identify frame, not the handshake.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		writeWait:  defaultWriteWait,
		pingPeriod: defaultPingPeriod,
		pongWait:   defaultPongWait,
		log:        log.With().Str("component", "socket").Logger(),
	}
}

type clientFrame struct {
	Type string `json:"type"`
	Identity
}

type socketConn struct {
	send chan Event
	done chan struct{}
	once sync.Once
}

// Send queues an event for the write pump. Never blocks: a full buffer
// or a closing connection drops the event.
func (c *socketConn) Send(ev Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

func (c *socketConn) close() {
	c.once.Do(func() { close(c.done) })
}

func (s *SocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	connID := uuid.NewString()
	conn := &socketConn{
		send: make(chan Event, sendBufferSize),
		done: make(chan struct{}),
	}
	s.hub.Register(connID, conn)
	s.log.Debug().Str("conn", connID).Msg("socket connected")

	go s.writePump(ws, conn)
	s.readPump(ws, conn, connID)
}

// readPump consumes client frames until the connection drops, then tears
// down hub membership.
func (s *SocketServer) readPump(ws *websocket.Conn, conn *socketConn, connID string) {
	defer func() {
		s.hub.UnsubscribeAll(connID)
		conn.close()
		_ = ws.Close()
		s.log.Debug().Str("conn", connID).Msg("socket disconnected")
	}()

	_ = ws.SetReadDeadline(time.Now().Add(s.pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.pongWait))
	})

	for {
		var frame clientFrame
		if err := ws.ReadJSON(&frame); err != nil {
			return
		}
		if frame.Type == "identify" {
			s.hub.Subscribe(connID, frame.Identity)
		}
	}
}

func (s *SocketServer) writePump(ws *websocket.Conn, conn *socketConn) {
	ticker := time.NewTicker(s.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-conn.done:
			return
		case ev := <-conn.send:
			_ = ws.SetWriteDeadline(time.Now().Add(s.writeWait))
			if err := ws.WriteJSON(ev); err != nil {
				conn.close()
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(s.writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.close()
				return
			}
		}
	}
}
