package main

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// handleStream upgrades to a websocket and pushes the /stats payload
// on every store change and every stream_refresh interval.
func (s *server) handleStream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		s.logger.Debug("stream upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	s.streams.Add(1)
	defer s.streams.Add(-1)

	remote := conn.RemoteAddr().String()
	s.logger.Debug("stream client connected", zap.String("remote", remote))

	closed := make(chan struct{})
	go readStream(conn, closed)

	updates, unsubscribe := s.store.Subscribe()
	defer unsubscribe()

	refresh := time.NewTicker(s.cfg.StreamRefresh)
	defer refresh.Stop()
	ping := time.NewTicker(s.pingPeriod)
	defer ping.Stop()

	if err := s.writeView(conn); err != nil {
		s.logger.Debug("stream write failed", zap.String("remote", remote), zap.Error(err))
		return
	}

	for {
		select {
		case <-updates:
		case <-refresh.C:
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		case <-closed:
			s.logger.Debug("stream client disconnected", zap.String("remote", remote))
			return
		case <-s.done:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		}

		if err := s.writeView(conn); err != nil {
			s.logger.Debug("stream write failed", zap.String("remote", remote), zap.Error(err))
			return
		}
	}
}

func (s *server) writeView(conn *websocket.Conn) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(s.store.View())
}

// readStream drains client frames so pongs and close frames are
// processed, and closes done when the connection fails.
func readStream(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
