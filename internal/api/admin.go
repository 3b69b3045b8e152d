package api

import (
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"inventory/internal/dsl"
)

// SchemaSource re-reads the catalog from wherever the server loaded it.
type SchemaSource func() (*dsl.Catalog, error)

// POST /api/admin/reload
//
// Reads the schema source again and lints it. The running catalog is left in
// place: the database layout is derived from it and only changes through a
// migration, so this is a dry run that tells the operator whether a restart
// would succeed and which entities it would add or drop.
func (s *Server) adminReload(c *gin.Context) {
	if p := principal(c); !s.checker.IsSuperuser(p.Role) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "only the superuser role may reload the schema"})
		return
	}
	if s.schema == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "schema source not configured"})
		return
	}

	next, err := s.schema()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "DSL load error", "details": err.Error()})
		return
	}
	if issues := next.Lint(); len(issues) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "schema has blocking issues",
			"issues": issues,
			"hint":   "fix DSL and retry",
		})
		return
	}

	added, removed := diffEntities(s.svc.Catalog(), next)
	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"applied":  false,
		"entities": next.Len(),
		"added":    added,
		"removed":  removed,
	})
}

func diffEntities(cur, next *dsl.Catalog) (added, removed []string) {
	seen := map[string]bool{}
	for _, e := range cur.Entities() {
		seen[strings.ToLower(e.FQN())] = true
	}
	for _, e := range next.Entities() {
		k := strings.ToLower(e.FQN())
		if !seen[k] {
			added = append(added, e.FQN())
		}
		delete(seen, k)
	}
	for _, e := range cur.Entities() {
		if seen[strings.ToLower(e.FQN())] {
			removed = append(removed, e.FQN())
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	if added == nil {
		added = []string{}
	}
	if removed == nil {
		removed = []string{}
	}
	return added, removed
}
