package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"inventory/internal/access"
	"inventory/internal/records"
	"inventory/internal/store"
)

// fail writes err as {"error": message, "errors": [...]}. Messages are meant
// to be shown to the user verbatim.
func (s *Server) fail(c *gin.Context, err error) {
	var (
		ve *records.ValidationError
		ue *store.UniqueError
		vr *store.VersionError
		iu *store.InUseError
		qe *store.QueryError
		de *access.DeniedError
	)
	switch {
	case errors.Is(err, errBadJSON):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
	case errors.As(err, &ve):
		status := http.StatusBadRequest
		if ve.Conflict() {
			status = http.StatusConflict
		}
		c.AbortWithStatusJSON(status, gin.H{"error": ve.Error(), "errors": ve.Errors})
	case errors.As(err, &ue):
		msg := ue.Error()
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"error":  msg,
			"errors": []records.FieldError{{Code: records.ErrUniqueViolation, Field: strings.Join(ue.Fields, ","), Message: msg}},
		})
	case errors.As(err, &vr):
		msg := vr.Error()
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"error":           msg,
			"errors":          []records.FieldError{{Code: records.ErrVersionConflict, Field: "version", Message: fmt.Sprintf("expected version %d", vr.Current)}},
			"current_version": vr.Current,
		})
	case errors.As(err, &iu):
		msg := iu.Error()
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"error":  msg,
			"errors": []records.FieldError{{Code: records.ErrFKInUse, Field: iu.Field, Message: msg}},
		})
	case errors.Is(err, store.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
			"error":  "Record not found",
			"errors": []records.FieldError{{Code: records.ErrNotFound, Field: "id", Message: "Record not found"}},
		})
	case errors.As(err, &qe):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":  qe.Error(),
			"errors": []records.FieldError{{Code: records.ErrTypeMismatch, Field: qe.Param, Message: qe.Message}},
		})
	case errors.As(err, &de):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": de.Error()})
	case errors.Is(err, access.ErrUnauthenticated):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, access.ErrUnknownModule),
		errors.Is(err, access.ErrUnknownAction),
		errors.Is(err, access.ErrInvalidRole):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.log.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.Error(err),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func entityNotFound(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
}
