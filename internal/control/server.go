// Package control implements the node's control/observability HTTP surface
// (C8): health, status, and Prometheus metrics, entirely separate from the
// replication TCP port. Bootstrap follows cmd/edgectl/main.go's gin
// middleware stack, generalized to take configured CORS origins instead of
// a hardcoded origin list.
package control

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/afit-csce689/dronerepl/internal/observability"
)

// StatusSource supplies the live values /status reports. The node
// supervisor (C7) implements it by reading its own components; the control
// surface never reaches into the replication core directly.
type StatusSource interface {
	NodeID() string
	PeerCount() int
	ActiveConnections() int
	StoreSize() int
	MasterClockState() (node uint32, startTime int32, set bool)
}

// Server wraps a gin engine exposing the control surface.
type Server struct {
	engine    *gin.Engine
	startedAt time.Time
}

// NewServer builds the control surface for source, logging with log and
// allowing the given CORS origins.
func NewServer(source StatusSource, corsOrigins []string, log zerolog.Logger) *Server {
	observability.RegisterMetrics()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log))
	r.Use(observability.RequestMetricsMiddleware(source.NodeID()))
	r.Use(cors.New(cors.Config{
		AllowOrigins: corsOrigins,
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	s := &Server{engine: r, startedAt: time.Now()}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.startedAt).String(),
			"service": "dronerepl",
			"node":    source.NodeID(),
		})
	})

	r.GET("/status", func(c *gin.Context) {
		node, startTime, set := source.MasterClockState()
		c.JSON(http.StatusOK, gin.H{
			"node_id":             source.NodeID(),
			"peer_count":          source.PeerCount(),
			"active_connections":  source.ActiveConnections(),
			"store_size":          source.StoreSize(),
			"master_clock_node":   node,
			"master_start_time":   startTime,
			"master_clock_is_set": set,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return s
}

// Run starts the control surface on addr, blocking until it exits or errors.
func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

// Handler exposes the underlying http.Handler, for tests that drive the
// surface with httptest rather than binding a real socket.
func (s *Server) Handler() http.Handler {
	return s.engine
}
