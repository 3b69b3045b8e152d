package dsl

import (
	"strconv"
	"strings"
)

// Field types understood by the catalog.
const (
	TypeString  = "string"
	TypeInt     = "int"
	TypeDecimal = "decimal"
	TypeBool    = "bool"
	TypeDate    = "date"
	TypeRef     = "ref"
)

// On-delete policies for ref fields.
const (
	OnDeleteRestrict = "restrict"
	OnDeleteSetNull  = "set_null"
)

// Entity describes one administrable record kind (a back-office screen).
type Entity struct {
	Module      string
	Name        string
	Label       string
	Fields      []Field
	Constraints Constraints
}

// Constraints holds entity-level rules.
type Constraints struct {
	Unique [][]string // composite keys, e.g. [["measure","name"]]
}

// Field describes one user field of an entity.
type Field struct {
	Name      string
	Type      string
	RefTarget string            // for ref: "Entity" or "module.Entity"
	Options   map[string]string // required, unique, max, pattern, sequence, ...
}

// FQN returns "module.Name".
func (e *Entity) FQN() string { return e.Module + "." + e.Name }

// Field returns the field with the given name.
func (e *Entity) Field(name string) (Field, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// SequenceField returns the field carrying a sequence= option, if any.
func (e *Entity) SequenceField() (Field, bool) {
	for _, f := range e.Fields {
		if f.Sequence() != "" {
			return f, true
		}
	}
	return Field{}, false
}

// SearchFields returns the fields flagged with `search`, falling back to every
// string field when none is flagged.
func (e *Entity) SearchFields() []string {
	var out, strs []string
	for _, f := range e.Fields {
		if f.Has("search") {
			out = append(out, f.Name)
		}
		if f.Type == TypeString {
			strs = append(strs, f.Name)
		}
	}
	if len(out) == 0 {
		return strs
	}
	return out
}

// UniqueSets returns single-field unique keys followed by composite ones.
func (e *Entity) UniqueSets() [][]string {
	var out [][]string
	for _, f := range e.Fields {
		if f.Has("unique") {
			out = append(out, []string{f.Name})
		}
	}
	for _, set := range e.Constraints.Unique {
		if len(set) > 0 {
			out = append(out, set)
		}
	}
	return out
}

// Has reports whether a boolean flag option is set.
func (f Field) Has(opt string) bool {
	if f.Options == nil {
		return false
	}
	v, ok := f.Options[opt]
	return ok && !strings.EqualFold(v, "false")
}

// Opt returns an option value or "".
func (f Field) Opt(opt string) string {
	if f.Options == nil {
		return ""
	}
	return f.Options[opt]
}

func (f Field) Required() bool { return f.Has("required") }
func (f Field) Unique() bool   { return f.Has("unique") }
func (f Field) Readonly() bool { return f.Has("readonly") }

// Sequence returns the code prefix when the field is auto-numbered.
func (f Field) Sequence() string { return f.Opt("sequence") }

// Width is the zero-padded digit count of a sequence (default 3).
func (f Field) Width() int {
	if n, err := strconv.Atoi(f.Opt("width")); err == nil && n > 0 {
		return n
	}
	return 3
}

// MaxLen returns the max= option, 0 when absent.
func (f Field) MaxLen() int {
	n, _ := strconv.Atoi(f.Opt("max"))
	return n
}

// OnDelete returns the ref delete policy, restrict by default.
func (f Field) OnDelete() string {
	if strings.EqualFold(f.Opt("on_delete"), OnDeleteSetNull) {
		return OnDeleteSetNull
	}
	return OnDeleteRestrict
}

// Label returns the human label, defaulting to the field name.
func (f Field) Label() string {
	if l := f.Opt("label"); l != "" {
		return l
	}
	return f.Name
}
