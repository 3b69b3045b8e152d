package api

import (
	"github.com/gin-gonic/gin"

	"inventory/internal/dsl"
)

// entity resolves :module/:entity case-insensitively ("INVENTORY/warehouse"
// is inventory.Warehouse) and checks that the caller holds action on it.
func (s *Server) entity(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		e, ok := s.svc.Catalog().Lookup(c.Param("module"), c.Param("entity"))
		if !ok {
			entityNotFound(c)
			return
		}
		if err := s.checker.Check(c.Request.Context(), principal(c).Role, e.FQN(), action); err != nil {
			s.fail(c, err)
			return
		}
		c.Set(entityKey, e)
		c.Next()
	}
}

func entityOf(c *gin.Context) *dsl.Entity {
	return c.MustGet(entityKey).(*dsl.Entity)
}
