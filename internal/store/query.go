package store

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"inventory/internal/dsl"
)

const (
	DefaultLimit = 50
	MaxLimit     = 1000
)

// Filter operators.
const (
	OpEq       = "eq"
	OpNe       = "ne"
	OpIn       = "in"
	OpGt       = "gt"
	OpGte      = "gte"
	OpLt       = "lt"
	OpLte      = "lte"
	OpContains = "contains"
)

var knownOps = map[string]bool{
	OpEq: true, OpNe: true, OpIn: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true, OpContains: true,
}

// SortKey is one `_sort` component.
type SortKey struct {
	Field string
	Desc  bool
}

// Cond is one `field__op=value` filter.
type Cond struct {
	Field  string
	Type   string
	Op     string
	Values []string
}

// Query is a parsed list request.
type Query struct {
	Q            string
	SearchFields []string
	Active       *bool
	Conds        []Cond
	Sort         []SortKey
	NullsFirst   bool
	Limit        int
	Offset       int
}

var reservedParams = map[string]bool{
	"q": true, "active": true, "nulls": true,
	"_sort": true, "sort": true, "_limit": true, "limit": true, "_offset": true, "offset": true,
}

// QueryError reports a malformed list parameter.
type QueryError struct {
	Param   string
	Message string
}

func (e *QueryError) Error() string { return fmt.Sprintf("%s: %s", e.Param, e.Message) }

// fieldType returns the type of a user or system field, "" when unknown.
func fieldType(e *dsl.Entity, name string) string {
	switch name {
	case "id":
		return dsl.TypeString
	case "active":
		return dsl.TypeBool
	case "version":
		return dsl.TypeInt
	case "created_at", "updated_at":
		return "datetime"
	}
	if f, ok := e.Field(name); ok {
		return f.Type
	}
	return ""
}

func firstOf(q url.Values, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			return v
		}
	}
	return ""
}

// ParseQuery reads list parameters:
//
//	q=text  active=true  code__in=BOD001,BOD002  factor__gte=10
//	_sort=-name,code  nulls=first  _limit=20  _offset=40
func ParseQuery(e *dsl.Entity, v url.Values) (Query, error) {
	q := Query{
		Q:            firstOf(v, "q"),
		SearchFields: e.SearchFields(),
		Limit:        DefaultLimit,
	}

	if lv := firstOf(v, "_limit", "limit"); lv != "" {
		n, err := strconv.Atoi(lv)
		if err != nil || n < 0 || n > MaxLimit {
			return q, &QueryError{Param: "_limit", Message: fmt.Sprintf("must be an integer between 0 and %d", MaxLimit)}
		}
		q.Limit = n
	}
	if ov := firstOf(v, "_offset", "offset"); ov != "" {
		n, err := strconv.Atoi(ov)
		if err != nil || n < 0 {
			return q, &QueryError{Param: "_offset", Message: "must be a non-negative integer"}
		}
		q.Offset = n
	}

	if av := firstOf(v, "active"); av != "" && !strings.EqualFold(av, "all") {
		b, err := strconv.ParseBool(av)
		if err != nil {
			return q, &QueryError{Param: "active", Message: "must be true, false or all"}
		}
		q.Active = &b
	}

	switch strings.ToLower(firstOf(v, "nulls")) {
	case "", "last":
	case "first":
		q.NullsFirst = true
	default:
		return q, &QueryError{Param: "nulls", Message: "must be first or last"}
	}

	if sv := firstOf(v, "_sort", "sort"); sv != "" {
		for _, p := range strings.Split(sv, ",") {
			p = strings.TrimSpace(p)
			desc := strings.HasPrefix(p, "-")
			p = strings.TrimLeft(p, "+-")
			if p == "" {
				continue
			}
			if fieldType(e, p) == "" {
				return q, &QueryError{Param: "_sort", Message: fmt.Sprintf("unknown field %q", p)}
			}
			q.Sort = append(q.Sort, SortKey{Field: p, Desc: desc})
		}
	}
	if len(q.Sort) == 0 {
		if _, ok := e.Field("code"); ok {
			q.Sort = []SortKey{{Field: "code"}}
		} else {
			q.Sort = []SortKey{{Field: "created_at"}}
		}
	}

	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if reservedParams[key] || strings.HasPrefix(key, "_") {
			continue
		}
		raw := strings.TrimSpace(v.Get(key))
		if raw == "" {
			continue
		}
		field, op := key, OpEq
		if i := strings.LastIndex(key, "__"); i > 0 {
			field, op = key[:i], strings.ToLower(key[i+2:])
		}
		if !knownOps[op] {
			return q, &QueryError{Param: key, Message: fmt.Sprintf("unknown operator %q", op)}
		}
		ft := fieldType(e, field)
		if ft == "" || field == "active" {
			return q, &QueryError{Param: key, Message: fmt.Sprintf("unknown field %q", field)}
		}
		vals := []string{raw}
		if op == OpIn {
			vals = vals[:0]
			for _, p := range strings.Split(raw, ",") {
				if p = strings.TrimSpace(p); p != "" {
					vals = append(vals, p)
				}
			}
		}
		switch op {
		case OpGt, OpGte, OpLt, OpLte:
			if ft != dsl.TypeInt && ft != dsl.TypeDecimal && ft != dsl.TypeDate && ft != "datetime" {
				return q, &QueryError{Param: key, Message: "range operators need a numeric or date field"}
			}
		}
		if op != OpContains {
			for _, val := range vals {
				if err := checkNumeric(ft, val); err != nil {
					return q, &QueryError{Param: key, Message: err.Error()}
				}
			}
		}
		q.Conds = append(q.Conds, Cond{Field: field, Type: ft, Op: op, Values: vals})
	}
	return q, nil
}

// checkNumeric keeps filter values of numeric fields within what the
// column can hold, so comparisons never rescale an unbounded exponent.
func checkNumeric(ft, raw string) error {
	switch ft {
	case dsl.TypeInt:
		if _, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err != nil {
			return errors.New("must be an integer")
		}
	case dsl.TypeDecimal:
		if _, err := dsl.ParseDecimal(raw); err != nil {
			return err
		}
	}
	return nil
}

// value returns a user or system field of r.
func value(r *Record, name string) (any, bool) {
	switch name {
	case "id":
		return r.ID, true
	case "active":
		return r.Active, true
	case "version":
		return r.Version, true
	case "created_at":
		return r.CreatedAt, true
	case "updated_at":
		return r.UpdatedAt, true
	}
	v, ok := r.Data[name]
	return v, ok && v != nil
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, true
	case int64:
		return decimal.NewFromInt(t), true
	case int:
		return decimal.NewFromInt(int64(t)), true
	case float64:
		return decimal.NewFromFloat(t), true
	default:
		d, err := decimal.NewFromString(strings.TrimSpace(toString(v)))
		return d, err == nil
	}
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
			if ts, err := time.Parse(layout, strings.TrimSpace(t)); err == nil {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}

// compare orders two non-null values of field type ft.
func compare(ft string, a, b any) int {
	switch ft {
	case dsl.TypeInt, dsl.TypeDecimal:
		da, oka := toDecimal(a)
		db, okb := toDecimal(b)
		if oka && okb {
			return da.Cmp(db)
		}
	case dsl.TypeBool:
		ba, _ := strconv.ParseBool(toString(a))
		bb, _ := strconv.ParseBool(toString(b))
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		default:
			return 1
		}
	case "datetime":
		ta, oka := toTime(a)
		tb, okb := toTime(b)
		if oka && okb {
			return ta.Compare(tb)
		}
	}
	return strings.Compare(strings.ToLower(toString(a)), strings.ToLower(toString(b)))
}

func matchCond(r *Record, c Cond) bool {
	got, ok := value(r, c.Field)
	if !ok {
		// a null only satisfies "ne"
		return c.Op == OpNe
	}
	switch c.Op {
	case OpEq:
		return compare(c.Type, got, c.Values[0]) == 0
	case OpNe:
		return compare(c.Type, got, c.Values[0]) != 0
	case OpIn:
		for _, w := range c.Values {
			if compare(c.Type, got, w) == 0 {
				return true
			}
		}
		return false
	case OpContains:
		return strings.Contains(strings.ToLower(toString(got)), strings.ToLower(c.Values[0]))
	case OpGt:
		return compare(c.Type, got, c.Values[0]) > 0
	case OpGte:
		return compare(c.Type, got, c.Values[0]) >= 0
	case OpLt:
		return compare(c.Type, got, c.Values[0]) < 0
	case OpLte:
		return compare(c.Type, got, c.Values[0]) <= 0
	}
	return false
}

// Match reports whether r satisfies the filters of q (not paging).
func (q Query) Match(r *Record) bool {
	if q.Active != nil && r.Active != *q.Active {
		return false
	}
	for _, c := range q.Conds {
		if !matchCond(r, c) {
			return false
		}
	}
	if q.Q == "" {
		return true
	}
	needle := strings.ToLower(q.Q)
	for _, name := range q.SearchFields {
		if v, ok := r.Data[name]; ok && v != nil {
			if strings.Contains(strings.ToLower(toString(v)), needle) {
				return true
			}
		}
	}
	return false
}

// SortRecords orders records by q.Sort with the nulls policy, then by id.
func (q Query) SortRecords(e *dsl.Entity, records []*Record) {
	sort.SliceStable(records, func(i, j int) bool {
		for _, k := range q.Sort {
			if c := q.cmpKey(e, records[i], records[j], k); c != 0 {
				return c < 0
			}
		}
		return records[i].ID < records[j].ID
	})
}

func (q Query) cmpKey(e *dsl.Entity, a, b *Record, k SortKey) int {
	va, oka := value(a, k.Field)
	vb, okb := value(b, k.Field)
	switch {
	case !oka && !okb:
		return 0
	case !oka || !okb:
		// nulls stay first/last regardless of direction
		aNull := !oka
		if q.NullsFirst == aNull {
			return -1
		}
		return 1
	}
	rel := compare(fieldType(e, k.Field), va, vb)
	if k.Desc {
		rel = -rel
	}
	return rel
}

// Page applies offset/limit.
func (q Query) Page(records []*Record) []*Record {
	start := q.Offset
	if start > len(records) {
		start = len(records)
	}
	end := start + q.Limit
	if end > len(records) {
		end = len(records)
	}
	return records[start:end]
}
