package main

import (
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/alexandrut83/minerstats/clock"
	"github.com/alexandrut83/minerstats/telemetry"
)

// server holds what the HTTP handlers share
type server struct {
	// done is closed on shutdown; hijacked stream connections do not
	// see the request context end.
	done      <-chan struct{}
	cfg       *Config
	store     *telemetry.Store
	follower  progressSource
	logger    *zap.Logger
	clock     clock.Clock
	startedAt time.Time

	upgrader   websocket.Upgrader
	pingPeriod time.Duration
	streams    atomic.Int32
}

func newServer(done <-chan struct{}, cfg *Config, store *telemetry.Store, follower progressSource, logger *zap.Logger, clk clock.Clock) *server {
	s := &server{
		done:      done,
		cfg:       cfg,
		store:     store,
		follower:  follower,
		logger:    logger,
		clock:     clk,
		startedAt: clk.Now(),
	}
	s.pingPeriod = pingPeriod
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func newRouter(s *server) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(s.logger))

	if len(s.cfg.CORSOrigins) > 0 {
		router.Use(cors.New(corsConfig(s.cfg.CORSOrigins)))
	}

	router.GET("/stats", s.handleStats)
	router.GET("/stats/stream", s.handleStream)
	router.GET("/status", s.handleStatus)

	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	for _, origin := range origins {
		if origin == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	return cfg
}

// handleStats serves the latest telemetry. It never fails; missing or
// old data shows up as nulls and stale=true.
func (s *server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.View())
}

func (s *server) handleStatus(c *gin.Context) {
	now := s.clock.Now()
	snap := s.store.Snapshot()

	c.JSON(http.StatusOK, statusResponse{
		Follower:      s.follower.Progress(),
		Stale:         telemetry.IsStale(snap.LastUpdate, now),
		UptimeSeconds: now.Sub(s.startedAt).Seconds(),
		Subscribers:   int(s.streams.Load()),
	})
}

// checkOrigin admits non-browser clients, same-host pages and the
// configured CORS origins.
func (s *server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}
