// Package adminapi exposes the node's operator surface: liveness, Prometheus
// metrics, and the latest published tree head. It is not the log's client
// API; submission and serving live elsewhere.
package adminapi

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/verity-log/verity/internal/sth"
)

// HeadSource returns the most recently published tree head, or nil if the
// node has not published one yet.
type HeadSource func() *sth.SignedTreeHead

// HealthSource reports dependency health for the healthz endpoint.
type HealthSource interface {
	Healthy() bool
	Status() map[string]string
}

// Server is the admin HTTP server.
type Server struct {
	head   HeadSource
	health HealthSource
	logger *zap.Logger
	router *gin.Engine
}

// New builds the admin server around a head source. health may be nil, in
// which case healthz reports bare process liveness.
func New(head HeadSource, health HealthSource, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{head: head, health: health, logger: logger, router: router}

	router.Use(s.requestLogger())
	router.GET("/healthz", s.healthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/v1/tree-head", s.treeHead)

	return s
}

// Handler returns the underlying HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) healthz(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	status := http.StatusOK
	verdict := "ok"
	if !s.health.Healthy() {
		status = http.StatusServiceUnavailable
		verdict = "degraded"
	}
	c.JSON(status, gin.H{"status": verdict, "dependencies": s.health.Status()})
}

// treeHeadResponse is the JSON rendering of a signed tree head.
type treeHeadResponse struct {
	Version   uint8  `json:"version"`
	Timestamp uint64 `json:"timestamp"`
	TreeSize  uint64 `json:"tree_size"`
	RootHash  string `json:"root_hash"`
	Signature string `json:"signature"`
}

func (s *Server) treeHead(c *gin.Context) {
	head := s.head()
	if head == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no tree head published yet"})
		return
	}
	c.JSON(http.StatusOK, treeHeadResponse{
		Version:   head.Version,
		Timestamp: head.Timestamp,
		TreeSize:  head.TreeSize,
		RootHash:  base64.StdEncoding.EncodeToString(head.RootHash),
		Signature: base64.StdEncoding.EncodeToString(head.Signature),
	})
}

// requestLogger logs each admin request with zap.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("admin request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
