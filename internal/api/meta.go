package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"inventory/internal/dsl"
)

type metaEntityListItem struct {
	Module string `json:"module"`
	Entity string `json:"entity"`
	FQN    string `json:"fqn"`
	Label  string `json:"label"`
}

// GET /api/meta
func (s *Server) metaList(c *gin.Context) {
	entities := s.svc.Catalog().Entities()
	out := make([]metaEntityListItem, 0, len(entities))
	for _, e := range entities {
		out = append(out, metaEntityListItem{Module: e.Module, Entity: e.Name, FQN: e.FQN(), Label: label(e)})
	}
	c.JSON(http.StatusOK, out)
}

type metaField struct {
	Name     string            `json:"name"`
	Label    string            `json:"label"`
	Type     string            `json:"type"`
	Ref      string            `json:"ref,omitempty"`
	RefFQN   string            `json:"refFQN,omitempty"`
	Required bool              `json:"required"`
	Unique   bool              `json:"unique"`
	Readonly bool              `json:"readonly"`
	Sequence string            `json:"sequence,omitempty"`
	Options  map[string]string `json:"options,omitempty"`
}

type metaEntity struct {
	Module       string         `json:"module"`
	Entity       string         `json:"entity"`
	Label        string         `json:"label"`
	Display      string         `json:"display"`
	Search       []string       `json:"search"`
	Fields       []metaField    `json:"fields"`
	Constraints  map[string]any `json:"constraints,omitempty"` // {"unique":[["measure","name"]]}
	Actions      []string       `json:"actions"`               // what the caller may do here
	DefaultOrder []string       `json:"defaultOrder"`
}

// GET /api/meta/:module/:entity
func (s *Server) metaEntity(c *gin.Context) {
	cat := s.svc.Catalog()
	e, ok := cat.Lookup(c.Param("module"), c.Param("entity"))
	if !ok {
		entityNotFound(c)
		return
	}

	eff, err := s.checker.Effective(c.Request.Context(), principal(c).Role)
	if err != nil {
		s.fail(c, err)
		return
	}

	fields := make([]metaField, 0, len(e.Fields))
	for _, f := range e.Fields {
		opts := make(map[string]string, len(f.Options))
		for k, v := range f.Options {
			opts[k] = v
		}
		mf := metaField{
			Name:     f.Name,
			Label:    f.Label(),
			Type:     f.Type,
			Required: f.Required(),
			Unique:   f.Unique(),
			Readonly: f.Readonly(),
			Sequence: f.Sequence(),
			Options:  opts,
		}
		if f.Type == dsl.TypeRef {
			mf.Ref = f.RefTarget
			if t, ok := cat.RefTarget(e, f); ok {
				mf.RefFQN = t.FQN()
			}
		}
		fields = append(fields, mf)
	}

	var constraints map[string]any
	if len(e.Constraints.Unique) > 0 {
		uniq := make([][]string, 0, len(e.Constraints.Unique))
		for _, set := range e.Constraints.Unique {
			uniq = append(uniq, append([]string(nil), set...))
		}
		constraints = map[string]any{"unique": uniq}
	}

	order := []string{"created_at", "id"}
	if _, ok := e.Field("code"); ok {
		order = []string{"code", "id"}
	}
	actions := eff[e.FQN()]
	if actions == nil {
		actions = []string{}
	}

	c.JSON(http.StatusOK, metaEntity{
		Module:       e.Module,
		Entity:       e.Name,
		Label:        label(e),
		Display:      dsl.DisplayField(e),
		Search:       e.SearchFields(),
		Fields:       fields,
		Constraints:  constraints,
		Actions:      actions,
		DefaultOrder: order,
	})
}

func label(e *dsl.Entity) string {
	if e.Label != "" {
		return e.Label
	}
	return e.Name
}
