package dsl

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Catalog is the immutable set of loaded entities keyed by FQN.
type Catalog struct {
	byFQN map[string]*Entity
	order []string
}

// RefLink is a ref field in Entity pointing at some target entity.
type RefLink struct {
	Entity *Entity
	Field  Field
}

// NewCatalog indexes entities and rejects duplicates.
func NewCatalog(entities []*Entity) (*Catalog, error) {
	c := &Catalog{byFQN: make(map[string]*Entity, len(entities))}
	for _, e := range entities {
		if e == nil || e.Name == "" || e.Module == "" {
			return nil, fmt.Errorf("entity without module or name")
		}
		key := strings.ToLower(e.FQN())
		if _, dup := c.byFQN[key]; dup {
			return nil, fmt.Errorf("duplicate entity %s", e.FQN())
		}
		c.byFQN[key] = e
		c.order = append(c.order, key)
	}
	sort.Strings(c.order)
	return c, nil
}

// Entities returns entities ordered by FQN.
func (c *Catalog) Entities() []*Entity {
	out := make([]*Entity, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.byFQN[k])
	}
	return out
}

// Len returns the number of entities.
func (c *Catalog) Len() int { return len(c.order) }

// Lookup resolves (module, name) case-insensitively. With an empty module the
// name must be unique across modules.
func (c *Catalog) Lookup(module, name string) (*Entity, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	module = strings.ToLower(strings.TrimSpace(module))
	if name == "" {
		return nil, false
	}
	if module != "" {
		e, ok := c.byFQN[module+"."+name]
		return e, ok
	}
	var found *Entity
	for _, k := range c.order {
		e := c.byFQN[k]
		if strings.ToLower(e.Name) == name {
			if found != nil {
				return nil, false
			}
			found = e
		}
	}
	return found, found != nil
}

// ByFQN resolves "module.Entity".
func (c *Catalog) ByFQN(fqn string) (*Entity, bool) {
	mod, name, ok := strings.Cut(fqn, ".")
	if !ok {
		return c.Lookup("", fqn)
	}
	return c.Lookup(mod, name)
}

// RefTarget resolves the target entity of a ref field declared on e.
func (c *Catalog) RefTarget(e *Entity, f Field) (*Entity, bool) {
	if f.Type != TypeRef || f.RefTarget == "" {
		return nil, false
	}
	if strings.Contains(f.RefTarget, ".") {
		return c.ByFQN(f.RefTarget)
	}
	return c.Lookup(e.Module, f.RefTarget)
}

// Referrers lists every ref field in the catalog that points at target.
func (c *Catalog) Referrers(target *Entity) []RefLink {
	var out []RefLink
	for _, e := range c.Entities() {
		for _, f := range e.Fields {
			if t, ok := c.RefTarget(e, f); ok && t == target {
				out = append(out, RefLink{Entity: e, Field: f})
			}
		}
	}
	return out
}

// DisplayField picks the field used to label records of e in lists and
// lookups: an explicit `display` flag, then name/title/code, then the first
// string field, then id.
func DisplayField(e *Entity) string {
	for _, f := range e.Fields {
		if f.Has("display") {
			return f.Name
		}
	}
	for _, cand := range []string{"name", "title", "code"} {
		if _, ok := e.Field(cand); ok {
			return cand
		}
	}
	for _, f := range e.Fields {
		if f.Type == TypeString {
			return f.Name
		}
	}
	return "id"
}

// Issue is a blocking schema problem found by Lint.
type Issue struct {
	Entity  string `json:"entity"`
	Field   string `json:"field,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Field == "" {
		return fmt.Sprintf("%s: %s (%s)", i.Entity, i.Message, i.Code)
	}
	return fmt.Sprintf("%s.%s: %s (%s)", i.Entity, i.Field, i.Message, i.Code)
}

// Lint reports contradictions in the catalog. Any issue blocks startup.
func (c *Catalog) Lint() []Issue {
	var issues []Issue
	add := func(e *Entity, field, code, msg string) {
		issues = append(issues, Issue{Entity: e.FQN(), Field: field, Code: code, Message: msg})
	}

	for _, e := range c.Entities() {
		for _, f := range e.Fields {
			switch od := strings.ToLower(f.Opt("on_delete")); od {
			case "", OnDeleteRestrict, OnDeleteSetNull:
			default:
				add(e, f.Name, "on_delete_unknown", fmt.Sprintf("unknown on_delete policy %q (allowed: restrict|set_null)", od))
			}

			if f.Type == TypeRef {
				if strings.TrimSpace(f.RefTarget) == "" {
					add(e, f.Name, "ref_target_empty", "ref field has an empty target")
				} else if _, ok := c.RefTarget(e, f); !ok {
					add(e, f.Name, "ref_target_unknown", fmt.Sprintf("ref target %q is not a known entity", f.RefTarget))
				}
				if f.Required() && f.OnDelete() == OnDeleteSetNull {
					add(e, f.Name, "required_conflicts_on_delete", "required ref cannot use on_delete=set_null")
				}
			} else if f.Opt("on_delete") != "" {
				add(e, f.Name, "on_delete_not_ref", "on_delete only applies to ref fields")
			}

			if p := f.Opt("pattern"); p != "" {
				if _, err := regexp.Compile(p); err != nil {
					add(e, f.Name, "pattern_invalid", fmt.Sprintf("pattern does not compile: %v", err))
				}
			}

			if f.Sequence() != "" {
				if f.Type != TypeString {
					add(e, f.Name, "sequence_not_string", "sequence requires a string field")
				}
				if w := f.Opt("width"); w != "" {
					if n, err := strconv.Atoi(w); err != nil || n < 1 || n > 12 {
						add(e, f.Name, "sequence_width", "width must be between 1 and 12")
					}
				}
			}

			if m := f.Opt("max"); m != "" {
				if n, err := strconv.Atoi(m); err != nil || n <= 0 {
					add(e, f.Name, "max_invalid", "max must be a positive integer")
				}
			}
			if m := f.Opt("min"); m != "" {
				if _, err := decimal.NewFromString(m); err != nil {
					add(e, f.Name, "min_invalid", "min must be a number")
				}
			}
		}

		for _, set := range e.Constraints.Unique {
			for _, name := range set {
				if _, ok := e.Field(name); !ok {
					add(e, name, "unique_unknown_field", fmt.Sprintf("unique(%s) names an unknown field", strings.Join(set, ", ")))
				}
			}
		}
	}
	return issues
}
