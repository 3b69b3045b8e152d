package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"inventory/internal/dsl"
	"inventory/internal/store"
)

const (
	lookupDefault = 20
	lookupMax     = 100
)

// respond renders one record with its reference labels.
func (s *Server) respond(c *gin.Context, status int, e *dsl.Entity, rec *store.Record) {
	labels, err := s.svc.RefLabels(c.Request.Context(), e, []*store.Record{rec})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Header("ETag", etag(rec))
	c.JSON(status, flatten(rec, labels))
}

// GET /api/:module/:entity
func (s *Server) list(c *gin.Context) {
	e := entityOf(c)
	q, err := store.ParseQuery(e, c.Request.URL.Query())
	if err != nil {
		s.fail(c, err)
		return
	}
	recs, total, err := s.svc.List(c.Request.Context(), e, q)
	if err != nil {
		s.fail(c, err)
		return
	}
	labels, err := s.svc.RefLabels(c.Request.Context(), e, recs)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		out = append(out, flatten(rec, labels))
	}
	c.Header("X-Total-Count", strconv.Itoa(total))
	c.JSON(http.StatusOK, out)
}

// GET /api/:module/:entity/_count
func (s *Server) count(c *gin.Context) {
	e := entityOf(c)
	q, err := store.ParseQuery(e, c.Request.URL.Query())
	if err != nil {
		s.fail(c, err)
		return
	}
	n, err := s.svc.Count(c.Request.Context(), e, q)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": n})
}

// GET /api/:module/:entity/_next_code
func (s *Server) nextCode(c *gin.Context) {
	e := entityOf(c)
	if _, ok := e.SequenceField(); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": e.FQN() + " has no sequential code"})
		return
	}
	field, code, err := s.svc.NextCode(c.Request.Context(), e)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"field": field, "code": code})
}

// GET /api/lookup/:module/:entity?q=&limit=
func (s *Server) lookup(c *gin.Context) {
	e := entityOf(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(lookupDefault)))
	if limit <= 0 || limit > lookupMax {
		limit = lookupDefault
	}
	items, err := s.svc.Lookup(c.Request.Context(), e, strings.TrimSpace(c.Query("q")), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

// GET /api/:module/:entity/:id
func (s *Server) get(c *gin.Context) {
	e := entityOf(c)
	rec, err := s.svc.Get(c.Request.Context(), e, c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.respond(c, http.StatusOK, e, rec)
}

// POST /api/:module/:entity
func (s *Server) create(c *gin.Context) {
	e := entityOf(c)
	obj, err := readBody(c, false)
	if err != nil {
		s.fail(c, err)
		return
	}
	rec, err := s.svc.Create(c.Request.Context(), e, obj)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Header("Location", c.Request.URL.Path+"/"+rec.ID)
	s.respond(c, http.StatusCreated, e, rec)
}

// PUT /api/:module/:entity/:id
func (s *Server) replace(c *gin.Context) { s.update(c, false) }

// PATCH /api/:module/:entity/:id
func (s *Server) patch(c *gin.Context) { s.update(c, true) }

func (s *Server) update(c *gin.Context, merge bool) {
	e := entityOf(c)
	obj, err := readBody(c, false)
	if err != nil {
		s.fail(c, err)
		return
	}
	expected := readExpectedVersion(c, obj)

	var rec *store.Record
	if merge {
		rec, err = s.svc.Patch(c.Request.Context(), e, c.Param("id"), expected, obj)
	} else {
		rec, err = s.svc.Replace(c.Request.Context(), e, c.Param("id"), expected, obj)
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	s.respond(c, http.StatusOK, e, rec)
}

// POST /api/:module/:entity/:id/activate
func (s *Server) activate(c *gin.Context) { s.setActive(c, true) }

// POST /api/:module/:entity/:id/deactivate
func (s *Server) deactivate(c *gin.Context) { s.setActive(c, false) }

func (s *Server) setActive(c *gin.Context, active bool) {
	e := entityOf(c)
	obj, err := readBody(c, true)
	if err != nil {
		s.fail(c, err)
		return
	}
	expected := readExpectedVersion(c, obj)

	var rec *store.Record
	if active {
		rec, err = s.svc.Activate(c.Request.Context(), e, c.Param("id"), expected)
	} else {
		rec, err = s.svc.Deactivate(c.Request.Context(), e, c.Param("id"), expected)
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	s.respond(c, http.StatusOK, e, rec)
}

// DELETE /api/:module/:entity/:id (soft delete)
func (s *Server) remove(c *gin.Context) {
	e := entityOf(c)
	expected := readExpectedVersion(c, nil)
	if _, err := s.svc.Delete(c.Request.Context(), e, c.Param("id"), expected); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /api/:module/:entity/:id/restore
func (s *Server) restore(c *gin.Context) {
	e := entityOf(c)
	rec, err := s.svc.Restore(c.Request.Context(), e, c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.respond(c, http.StatusOK, e, rec)
}
