package records

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"inventory/internal/dsl"
	"inventory/internal/store"
)

const dateLayout = "2006-01-02"

var patterns sync.Map // pattern -> *regexp.Regexp

func compiled(p string) (*regexp.Regexp, error) {
	if re, ok := patterns.Load(p); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(`^(?:` + p + `)$`)
	if err != nil {
		return nil, err
	}
	patterns.Store(p, re)
	return re, nil
}

// checkSystemFields rejects writes to system and readonly fields. "version" is
// accepted as the optimistic-lock hint and removed from obj.
func checkSystemFields(e *dsl.Entity, obj map[string]any) []FieldError {
	var errs []FieldError
	delete(obj, "version")
	for _, k := range []string{"id", "active", "deleted", "created_at", "updated_at"} {
		if _, ok := obj[k]; ok {
			errs = append(errs, ferr(ErrReadOnly, k, "Field %q is read-only", k))
		}
	}
	for _, f := range e.Fields {
		if f.Readonly() {
			if _, ok := obj[f.Name]; ok {
				errs = append(errs, ferr(ErrReadOnly, f.Name, "Field %q is read-only", f.Label()))
			}
		}
	}
	for k := range obj {
		if _, ok := e.Field(k); !ok && !dsl.IsSystemField(k) {
			errs = append(errs, ferr(ErrUnknownField, k, "Unknown field %q", k))
		}
	}
	return errs
}

// stripLabels drops the <ref>_label companions that list output adds, so a
// client can send back what it received.
func stripLabels(e *dsl.Entity, obj map[string]any) {
	for _, f := range e.Fields {
		if f.Type == dsl.TypeRef {
			delete(obj, f.Name+"_label")
		}
	}
	for k := range obj {
		if strings.HasSuffix(k, "_label") {
			if _, ok := e.Field(k); !ok {
				delete(obj, k)
			}
		}
	}
}

// applyDefaults fills default= for absent fields on create.
func applyDefaults(e *dsl.Entity, obj map[string]any) {
	for _, f := range e.Fields {
		def, ok := f.Options["default"]
		if !ok {
			continue
		}
		if v, present := obj[f.Name]; present && v != nil {
			continue
		}
		if v, err := coerce(f, def); err == nil {
			obj[f.Name] = v
		}
	}
}

// coerce converts a decoded JSON/YAML value to the canonical representation
// of f's type: string, int64, bool, canonical decimal string, YYYY-MM-DD.
// Empty strings become nil.
func coerce(f dsl.Field, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		return nil, nil
	}
	switch f.Type {
	case dsl.TypeString, dsl.TypeRef:
		s, ok := v.(string)
		if !ok {
			return nil, errors.New("must be a string")
		}
		return strings.TrimSpace(s), nil
	case dsl.TypeInt:
		return toInt(v)
	case dsl.TypeDecimal:
		d, err := toDecimal(v)
		if err != nil {
			return nil, err
		}
		if d, err = dsl.CheckDecimal(d); err != nil {
			return nil, err
		}
		return d.String(), nil
	case dsl.TypeBool:
		return toBool(v)
	case dsl.TypeDate:
		switch t := v.(type) {
		case time.Time:
			return t.UTC().Format(dateLayout), nil
		case string:
			d, err := time.Parse(dateLayout, strings.TrimSpace(t))
			if err != nil {
				return nil, errors.New("must be a date (YYYY-MM-DD)")
			}
			return d.Format(dateLayout), nil
		}
		return nil, errors.New("must be a date (YYYY-MM-DD)")
	}
	return nil, fmt.Errorf("has unsupported type %s", f.Type)
}

func toInt(v any) (int64, error) {
	switch t := v.(type) {
	case int:
		return int64(t), nil
	case int64:
		return t, nil
	case json.Number:
		return toInt(t.String())
	case float64:
		if t != math.Trunc(t) || math.Abs(t) > 1<<53 {
			return 0, errors.New("must be an integer")
		}
		return int64(t), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, errors.New("must be an integer")
		}
		return n, nil
	}
	return 0, errors.New("must be an integer")
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case int:
		return decimal.NewFromInt(int64(t)), nil
	case int64:
		return decimal.NewFromInt(t), nil
	case json.Number:
		return toDecimal(t.String())
	case float64:
		if math.IsInf(t, 0) || math.IsNaN(t) {
			return decimal.Decimal{}, dsl.ErrNotNumber
		}
		return dsl.CheckDecimal(decimal.NewFromFloat(t))
	case string:
		return dsl.ParseDecimal(t)
	}
	return decimal.Decimal{}, dsl.ErrNotNumber
}

func toBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "y", "si", "sí":
			return true, nil
		case "false", "0", "no", "n":
			return false, nil
		}
	}
	return false, errors.New("must be true or false")
}

// checkBounds applies max (length for strings, upper bound for numbers), min
// and pattern to a coerced non-nil value.
func checkBounds(f dsl.Field, v any) []FieldError {
	var errs []FieldError
	switch f.Type {
	case dsl.TypeString:
		s := v.(string)
		if n := f.MaxLen(); n > 0 && utf8.RuneCountInString(s) > n {
			errs = append(errs, ferr(ErrTooLong, f.Name, "%q must be at most %d characters", f.Label(), n))
		}
		if p := f.Opt("pattern"); p != "" {
			if re, err := compiled(p); err == nil && !re.MatchString(s) {
				errs = append(errs, ferr(ErrPatternMismatch, f.Name, "%q has an invalid format", f.Label()))
			}
		}
	case dsl.TypeInt, dsl.TypeDecimal:
		d, err := toDecimal(v)
		if err != nil {
			return nil
		}
		if m := f.Opt("min"); m != "" {
			if lo, err := decimal.NewFromString(m); err == nil && d.LessThan(lo) {
				errs = append(errs, ferr(ErrOutOfRange, f.Name, "%q must be at least %s", f.Label(), lo.String()))
			}
		}
		if m := f.Opt("max"); m != "" {
			if hi, err := decimal.NewFromString(m); err == nil && d.GreaterThan(hi) {
				errs = append(errs, ferr(ErrOutOfRange, f.Name, "%q must be at most %s", f.Label(), hi.String()))
			}
		}
	}
	return errs
}

// normalize coerces every field of obj in place and checks required, bounds
// and patterns. Fields absent from obj end up as explicit nils.
func normalize(e *dsl.Entity, obj map[string]any) []FieldError {
	var errs []FieldError
	for _, f := range e.Fields {
		v, err := coerce(f, obj[f.Name])
		if errors.Is(err, dsl.ErrDecimalRange) {
			errs = append(errs, ferr(ErrOutOfRange, f.Name, "%q %s", f.Label(), err.Error()))
			continue
		}
		if err != nil {
			errs = append(errs, ferr(ErrTypeMismatch, f.Name, "%q %s", f.Label(), err.Error()))
			continue
		}
		obj[f.Name] = v
		if v == nil {
			// the store fills an empty sequence field
			if f.Required() && f.Sequence() == "" {
				errs = append(errs, ferr(ErrRequired, f.Name, "%q is required", f.Label()))
			}
			continue
		}
		errs = append(errs, checkBounds(f, v)...)
	}
	return errs
}

// checkRefs verifies that every reference points at a live record. A new or
// changed reference must also point at an active one; prev is nil on create.
func (s *Service) checkRefs(ctx context.Context, e *dsl.Entity, obj map[string]any, prev *store.Record) ([]FieldError, error) {
	var errs []FieldError
	for _, f := range e.Fields {
		id, ok := obj[f.Name].(string)
		if f.Type != dsl.TypeRef || !ok {
			continue
		}
		target, ok := s.catalog.RefTarget(e, f)
		if !ok {
			errs = append(errs, ferr(ErrRefNotFound, f.Name, "%q points at an unknown entity", f.Label()))
			continue
		}
		rec, err := s.store.Get(ctx, target, id)
		if errors.Is(err, store.ErrNotFound) {
			errs = append(errs, ferr(ErrRefNotFound, f.Name, "Selected %q does not exist", f.Label()))
			continue
		}
		if err != nil {
			return nil, err
		}
		unchanged := prev != nil && prev.Data[f.Name] == id
		if !rec.Active && !unchanged {
			errs = append(errs, ferr(ErrRefInactive, f.Name, "Selected %q is inactive", f.Label()))
		}
	}
	return errs, nil
}
