// Package api exposes the catalogs over HTTP for the back-office screens.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"inventory/internal/access"
	"inventory/internal/metrics"
	"inventory/internal/records"
)

const readyTimeout = 2 * time.Second

// Pinger reports backend readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the handler dependencies.
type Server struct {
	svc         *records.Service
	checker     *access.Checker
	auth        *access.Authenticator
	metrics     *metrics.Metrics
	log         *zap.Logger
	ready       Pinger
	schema      SchemaSource
	corsOrigins []string
}

type Option func(*Server)

func WithMetrics(m *metrics.Metrics) Option { return func(s *Server) { s.metrics = m } }
func WithLogger(l *zap.Logger) Option       { return func(s *Server) { s.log = l } }
func WithReadiness(p Pinger) Option         { return func(s *Server) { s.ready = p } }
func WithSchemaSource(src SchemaSource) Option {
	return func(s *Server) { s.schema = src }
}
func WithCORS(origins []string) Option { return func(s *Server) { s.corsOrigins = origins } }

func NewServer(svc *records.Service, checker *access.Checker, auth *access.Authenticator, opts ...Option) *Server {
	s := &Server{
		svc:     svc,
		checker: checker,
		auth:    auth,
		log:     zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.Named("http")
	return s
}

// Router builds the gin engine. Static segments are registered before the
// parameterised catalog routes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(requestID(), accessLog(s.log), recovery(s.log))
	if len(s.corsOrigins) > 0 {
		r.Use(corsPolicy(s.corsOrigins))
	}
	if s.metrics != nil {
		r.Use(s.instrument())
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/readyz", s.readyz)

	api := r.Group("/api", s.authenticate())
	{
		api.GET("/meta", s.metaList)
		api.GET("/meta/:module/:entity", s.metaEntity)
		api.GET("/lookup/:module/:entity", s.entity(access.ActionView), s.lookup)

		acc := api.Group("/access")
		acc.GET("/me", s.accessMe)
		acc.GET("/modules", s.allow(access.ModuleAccess, access.ActionView), s.accessModules)
		acc.GET("/roles", s.allow(access.ModuleAccess, access.ActionView), s.accessRoles)
		acc.GET("/roles/:role", s.allow(access.ModuleAccess, access.ActionView), s.accessRole)
		acc.PUT("/roles/:role/:module", s.allow(access.ModuleAccess, access.ActionUpdate), s.accessGrant)
		acc.DELETE("/roles/:role/:module", s.allow(access.ModuleAccess, access.ActionUpdate), s.accessRevoke)

		api.POST("/admin/reload", s.adminReload)

		api.GET("/:module/:entity/_count", s.entity(access.ActionView), s.count)
		api.GET("/:module/:entity/_next_code", s.entity(access.ActionView), s.nextCode)
		api.POST("/:module/:entity/:id/activate", s.entity(access.ActionActivate), s.activate)
		api.POST("/:module/:entity/:id/deactivate", s.entity(access.ActionDeactivate), s.deactivate)
		api.POST("/:module/:entity/:id/restore", s.entity(access.ActionDelete), s.restore)

		api.GET("/:module/:entity", s.entity(access.ActionView), s.list)
		api.POST("/:module/:entity", s.entity(access.ActionCreate), s.create)
		api.GET("/:module/:entity/:id", s.entity(access.ActionView), s.get)
		api.PUT("/:module/:entity/:id", s.entity(access.ActionUpdate), s.replace)
		api.PATCH("/:module/:entity/:id", s.entity(access.ActionUpdate), s.patch)
		api.DELETE("/:module/:entity/:id", s.entity(access.ActionDelete), s.remove)
	}
	return r
}

func (s *Server) readyz(c *gin.Context) {
	if s.ready == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
	defer cancel()
	if err := s.ready.Ping(ctx); err != nil {
		s.log.Warn("readiness check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
