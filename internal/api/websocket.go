package api

import (
	"net/http"
	"time"

	"codeberg.org/mutker/laptopctl/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 1 << 12
)

type wsEnvelope struct {
	Type  string `json:"type"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// The listener is bound to loopback by default.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsConnect streams each new snapshot to the client. The stream is
// checked at the poll interval, or at ?interval= when given.
func (h *Handler) wsConnect(c *gin.Context) {
	interval := h.parseInterval(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go h.startReader(conn, done)

	ticker := time.NewTicker(interval)
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ping.Stop()
	}()

	var lastSeq uint64
	send := func() error {
		snap := h.svc.GetSnapshot()
		if snap.NoData() || snap.Seq == lastSeq {
			return nil
		}
		lastSeq = snap.Seq
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(wsEnvelope{Type: "snapshot", Data: snap})
	}

	if err := send(); err != nil {
		h.log.Debug().Err(err).Msg("WebSocket initial write failed")
		return
	}

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.log.Debug().Err(err).Msg("WebSocket ping failed")
				return
			}
		case <-ticker.C:
			if err := send(); err != nil {
				h.log.Debug().Err(err).Msg("WebSocket write failed")
				return
			}
		}
	}
}

func (h *Handler) parseInterval(c *gin.Context) time.Duration {
	if s := c.Query("interval"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 && d <= config.MaxInterval {
			return d
		}
	}
	return h.svc.Interval()
}

// startReader drains incoming frames so control frames are handled and
// a closed connection is noticed.
func (h *Handler) startReader(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
