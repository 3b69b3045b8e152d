package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"inventory/internal/access"
	"inventory/internal/dsl"
)

type grantReq struct {
	Actions []string `json:"actions"`
}

// GET /api/access/modules
func (s *Server) accessModules(c *gin.Context) {
	c.JSON(http.StatusOK, s.checker.Modules())
}

// GET /api/access/me
func (s *Server) accessMe(c *gin.Context) {
	p := principal(c)
	eff, err := s.checker.Effective(c.Request.Context(), p.Role)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"subject":   p.Subject,
		"role":      p.Role,
		"dev":       p.Dev,
		"superuser": s.checker.IsSuperuser(p.Role),
		"grants":    eff,
	})
}

// GET /api/access/roles
func (s *Server) accessRoles(c *gin.Context) {
	roles, err := s.checker.Roles(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, roles)
}

// GET /api/access/roles/:role
func (s *Server) accessRole(c *gin.Context) {
	g, err := s.checker.Role(c.Request.Context(), c.Param("role"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"role": c.Param("role"), "grants": g})
}

// PUT /api/access/roles/:role/:module  {"actions":["view","create"]}
func (s *Server) accessGrant(c *gin.Context) {
	var req grantReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errBadJSON)
		return
	}
	ctx := c.Request.Context()
	role := c.Param("role")
	if err := s.checker.Grant(ctx, role, c.Param("module"), req.Actions); err != nil {
		s.fail(c, err)
		return
	}
	g, err := s.checker.Role(ctx, role)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"role": role, "grants": g})
}

// DELETE /api/access/roles/:role/:module
func (s *Server) accessRevoke(c *gin.Context) {
	if err := s.checker.Revoke(c.Request.Context(), c.Param("role"), c.Param("module")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ModulesOf lists every catalog entity as a permission module.
func ModulesOf(cat *dsl.Catalog) []access.Module {
	entities := cat.Entities()
	out := make([]access.Module, 0, len(entities))
	for _, e := range entities {
		out = append(out, access.Module{Name: e.FQN(), Label: label(e)})
	}
	return out
}
