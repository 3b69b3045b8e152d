package api

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"inventory/internal/access"
	"inventory/internal/records"
)

const (
	requestIDKey = "request_id"
	principalKey = "principal"
	entityKey    = "entity"
)

// requestID propagates X-Request-ID or generates one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// accessLog logs one line per request.
func accessLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("remote_addr", c.ClientIP()),
		}
		if p, ok := c.Get(principalKey); ok {
			fields = append(fields, zap.String("user", p.(access.Principal).Subject))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Error("HTTP request", fields...)
			return
		}
		log.Info("HTTP request", fields...)
	}
}

// recovery turns a panic into a JSON 500.
func recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error("panic recovered",
					zap.Any("error", err),
					zap.String("request_id", c.GetString(requestIDKey)),
					zap.String("path", c.Request.URL.Path),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}

// corsPolicy lets the admin front-end call the API and read the paging and
// versioning headers.
func corsPolicy(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "If-Match", "X-Request-ID", "X-Role", "X-User"},
		ExposeHeaders: []string{"ETag", "X-Total-Count", "X-Request-ID", "Location"},
		MaxAge:        12 * time.Hour,
	}
	if slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

// instrument records request metrics under the route template.
func (s *Server) instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		s.metrics.IncInFlight()
		defer s.metrics.DecInFlight()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		s.metrics.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

// authenticate resolves the caller and makes it the actor of every change.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := s.auth.Authenticate(c.Request)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.Set(principalKey, p)
		ctx := access.WithPrincipal(c.Request.Context(), p)
		c.Request = c.Request.WithContext(records.WithActor(ctx, p.Subject))
		c.Next()
	}
}

func principal(c *gin.Context) access.Principal {
	p, _ := c.Get(principalKey)
	pr, _ := p.(access.Principal)
	return pr
}

// allow checks a fixed module, e.g. the permissions screen itself.
func (s *Server) allow(module, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.checker.Check(c.Request.Context(), principal(c).Role, module, action); err != nil {
			s.fail(c, err)
			return
		}
		c.Next()
	}
}
