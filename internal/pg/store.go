package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"inventory/internal/dsl"
	"inventory/internal/store"
)

// Store implements store.Store on PostgreSQL tables generated by GenerateDDL.
type Store struct {
	db      *sql.DB
	catalog *dsl.Catalog
	ids     *store.IDGen
	uniques map[string][]string // unique index name -> fields
	now     func() time.Time
}

var _ store.Store = (*Store)(nil)

// NewStore wraps an open database. The schema must already exist (see ApplyDDL).
func NewStore(db *sql.DB, catalog *dsl.Catalog) *Store {
	s := &Store{
		db:      db,
		catalog: catalog,
		ids:     store.NewIDGen(),
		uniques: make(map[string][]string),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, e := range catalog.Entities() {
		for _, set := range e.UniqueSets() {
			s.uniques[uniqueIndexName(e, set)] = set
		}
	}
	return s
}

// args accumulates positional parameters.
type args struct{ vals []any }

func (a *args) add(v any) string {
	a.vals = append(a.vals, v)
	return "$" + strconv.Itoa(len(a.vals))
}

const systemCols = `"id", "version", "active", "deleted", "created_at", "updated_at"`

func selectList(e *dsl.Entity) string {
	var b strings.Builder
	b.WriteString(systemCols)
	for _, f := range e.Fields {
		b.WriteString(", ")
		switch f.Type {
		case dsl.TypeDecimal, dsl.TypeDate:
			fmt.Fprintf(&b, "%s::text", ident(f.Name))
		default:
			b.WriteString(ident(f.Name))
		}
	}
	return b.String()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(e *dsl.Entity, row rowScanner) (*store.Record, error) {
	r := &store.Record{Data: make(map[string]any, len(e.Fields))}
	dests := []any{&r.ID, &r.Version, &r.Active, &r.Deleted, &r.CreatedAt, &r.UpdatedAt}
	holders := make([]any, len(e.Fields))
	for i, f := range e.Fields {
		switch f.Type {
		case dsl.TypeInt:
			holders[i] = new(sql.NullInt64)
		case dsl.TypeBool:
			holders[i] = new(sql.NullBool)
		default:
			holders[i] = new(sql.NullString)
		}
	}
	if err := row.Scan(append(dests, holders...)...); err != nil {
		return nil, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	for i, f := range e.Fields {
		var v any
		switch h := holders[i].(type) {
		case *sql.NullInt64:
			if h.Valid {
				v = h.Int64
			}
		case *sql.NullBool:
			if h.Valid {
				v = h.Bool
			}
		case *sql.NullString:
			if h.Valid {
				v = h.String
				if f.Type == dsl.TypeDecimal {
					if d, err := decimal.NewFromString(h.String); err == nil {
						v = d.String()
					}
				}
			}
		}
		r.Data[f.Name] = v
	}
	return r, nil
}

// param renders a typed placeholder. Non-native values travel as text and are
// cast server-side.
func param(a *args, f dsl.Field, v any) string {
	if v == nil {
		return a.add(nil)
	}
	switch f.Type {
	case dsl.TypeInt:
		if n, ok := v.(int64); ok {
			return a.add(n)
		}
		return "(" + a.add(fmt.Sprint(v)) + "::text)::bigint"
	case dsl.TypeBool:
		if b, ok := v.(bool); ok {
			return a.add(b)
		}
		return "(" + a.add(fmt.Sprint(v)) + "::text)::boolean"
	case dsl.TypeDecimal:
		return "(" + a.add(fmt.Sprint(v)) + "::text)::numeric"
	case dsl.TypeDate:
		return "(" + a.add(fmt.Sprint(v)) + "::text)::date"
	default:
		return a.add(fmt.Sprint(v))
	}
}

func colType(e *dsl.Entity, name string) string {
	switch name {
	case "id":
		return dsl.TypeString
	case "version":
		return dsl.TypeInt
	case "active":
		return dsl.TypeBool
	case "created_at", "updated_at":
		return "datetime"
	}
	f, _ := e.Field(name)
	return f.Type
}

func castFor(ft string) string {
	switch ft {
	case dsl.TypeInt, dsl.TypeDecimal:
		return "numeric"
	case dsl.TypeDate:
		return "date"
	case dsl.TypeBool:
		return "boolean"
	case "datetime":
		return "timestamptz"
	default:
		return ""
	}
}

var sqlOps = map[string]string{
	store.OpEq: "=", store.OpNe: "<>", store.OpGt: ">", store.OpGte: ">=", store.OpLt: "<", store.OpLte: "<=",
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func condSQL(e *dsl.Entity, c store.Cond, a *args) string {
	col := ident(c.Field)
	if c.Op == store.OpContains {
		return fmt.Sprintf("%s::text ilike %s", col, a.add("%"+escapeLike(c.Values[0])+"%"))
	}
	cast := castFor(colType(e, c.Field))
	lhs, rhs := col, func(v string) string { return "lower(" + a.add(v) + "::text)" }
	if cast == "" {
		lhs = "lower(" + col + "::text)"
	} else {
		rhs = func(v string) string { return "(" + a.add(v) + "::text)::" + cast }
	}
	switch c.Op {
	case store.OpIn:
		parts := make([]string, len(c.Values))
		for i, v := range c.Values {
			parts[i] = rhs(v)
		}
		return fmt.Sprintf("%s in (%s)", lhs, strings.Join(parts, ", "))
	case store.OpNe:
		return fmt.Sprintf("(%s is null or %s <> %s)", col, lhs, rhs(c.Values[0]))
	default:
		return fmt.Sprintf("%s %s %s", lhs, sqlOps[c.Op], rhs(c.Values[0]))
	}
}

func whereSQL(e *dsl.Entity, q store.Query, a *args) string {
	parts := []string{`not "deleted"`}
	if q.Active != nil {
		parts = append(parts, `"active" = `+a.add(*q.Active))
	}
	for _, c := range q.Conds {
		parts = append(parts, condSQL(e, c, a))
	}
	if q.Q != "" && len(q.SearchFields) > 0 {
		pat := a.add("%" + escapeLike(q.Q) + "%")
		ors := make([]string, len(q.SearchFields))
		for i, name := range q.SearchFields {
			ors[i] = fmt.Sprintf("coalesce(%s::text, '') ilike %s", ident(name), pat)
		}
		parts = append(parts, "("+strings.Join(ors, " or ")+")")
	}
	return strings.Join(parts, " and ")
}

func orderSQL(e *dsl.Entity, q store.Query) string {
	nulls := "nulls last"
	if q.NullsFirst {
		nulls = "nulls first"
	}
	parts := make([]string, 0, len(q.Sort)+1)
	for _, k := range q.Sort {
		expr := ident(k.Field)
		if castFor(colType(e, k.Field)) == "" {
			expr = "lower(" + expr + "::text)"
		}
		dir := "asc"
		if k.Desc {
			dir = "desc"
		}
		parts = append(parts, fmt.Sprintf("%s %s %s", expr, dir, nulls))
	}
	parts = append(parts, `"id" asc`)
	return strings.Join(parts, ", ")
}

func (s *Store) List(ctx context.Context, e *dsl.Entity, q store.Query) ([]*store.Record, int, error) {
	var a args
	where := whereSQL(e, q, &a)

	var total int
	if err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("select count(*) from %s where %s", qualified(e), where), a.vals...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count %s: %w", e.FQN(), err)
	}

	limit := a.add(q.Limit)
	offset := a.add(q.Offset)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("select %s from %s where %s order by %s limit %s offset %s",
		selectList(e), qualified(e), where, orderSQL(e, q), limit, offset), a.vals...)
	if err != nil {
		return nil, 0, fmt.Errorf("list %s: %w", e.FQN(), err)
	}
	defer rows.Close()

	out := make([]*store.Record, 0, q.Limit)
	for rows.Next() {
		r, err := scanRecord(e, rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

func (s *Store) get(ctx context.Context, q queryer, e *dsl.Entity, id string, withDeleted bool) (*store.Record, error) {
	where := `"id" = $1`
	if !withDeleted {
		where += ` and not "deleted"`
	}
	r, err := scanRecord(e, q.QueryRowContext(ctx,
		fmt.Sprintf("select %s from %s where %s", selectList(e), qualified(e), where), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", e.Name, id, store.ErrNotFound)
	}
	return r, err
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) Get(ctx context.Context, e *dsl.Entity, id string) (*store.Record, error) {
	return s.get(ctx, s.db, e, id, false)
}

func (s *Store) GetDeleted(ctx context.Context, e *dsl.Entity, id string) (*store.Record, error) {
	return s.get(ctx, s.db, e, id, true)
}

func (s *Store) GetMany(ctx context.Context, e *dsl.Entity, ids []string) (map[string]*store.Record, error) {
	out := make(map[string]*store.Record, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var a args
	ph := make([]string, len(ids))
	for i, id := range ids {
		ph[i] = a.add(id)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`select %s from %s where "id" in (%s) and not "deleted"`,
		selectList(e), qualified(e), strings.Join(ph, ", ")), a.vals...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		r, err := scanRecord(e, rows)
		if err != nil {
			return nil, err
		}
		out[r.ID] = r
	}
	return out, rows.Err()
}

func (s *Store) FindBy(ctx context.Context, e *dsl.Entity, field string, v any) (*store.Record, error) {
	if _, ok := e.Field(field); !ok {
		return nil, fmt.Errorf("%s has no field %q", e.Name, field)
	}
	r, err := scanRecord(e, s.db.QueryRowContext(ctx,
		fmt.Sprintf(`select %s from %s where lower(%s::text) = lower($1::text) and not "deleted" limit 1`,
			selectList(e), qualified(e), ident(field)), fmt.Sprint(v)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s with %s=%v: %w", e.Name, field, v, store.ErrNotFound)
	}
	return r, err
}

func (s *Store) Insert(ctx context.Context, e *dsl.Entity, data map[string]any) (*store.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	obj := make(map[string]any, len(data))
	for k, v := range data {
		obj[k] = v
	}
	if f, ok := e.SequenceField(); ok && blank(obj[f.Name]) {
		if _, err := tx.ExecContext(ctx, "select pg_advisory_xact_lock(hashtext($1))", strings.ToLower(e.FQN())); err != nil {
			return nil, fmt.Errorf("lock sequence: %w", err)
		}
		code, err := s.nextCode(ctx, tx, e, f)
		if err != nil {
			return nil, err
		}
		obj[f.Name] = code
	}
	if err := s.lockRefs(ctx, tx, e, obj); err != nil {
		return nil, err
	}

	var a args
	now := s.now()
	cols := []string{systemCols}
	vals := []string{a.add(s.ids.New()), "1", "true", "false", a.add(now), a.add(now)}
	for _, f := range e.Fields {
		cols = append(cols, ident(f.Name))
		vals = append(vals, param(&a, f, obj[f.Name]))
	}
	r, err := scanRecord(e, tx.QueryRowContext(ctx, fmt.Sprintf("insert into %s (%s) values (%s) returning %s",
		qualified(e), strings.Join(cols, ", "), strings.Join(vals, ", "), selectList(e)), a.vals...))
	if err != nil {
		return nil, s.mapErr(e, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, s.mapErr(e, err)
	}
	return r, nil
}

func (s *Store) Update(ctx context.Context, e *dsl.Entity, id string, expected int64, data map[string]any) (*store.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := s.lockLive(ctx, tx, e, id, &expected); err != nil {
		return nil, err
	}
	if err := s.lockRefs(ctx, tx, e, data); err != nil {
		return nil, err
	}

	var a args
	sets := make([]string, 0, len(e.Fields)+2)
	for _, f := range e.Fields {
		sets = append(sets, fmt.Sprintf("%s = %s", ident(f.Name), param(&a, f, data[f.Name])))
	}
	sets = append(sets, `"version" = "version" + 1`, `"updated_at" = `+a.add(s.now()))
	r, err := scanRecord(e, tx.QueryRowContext(ctx,
		fmt.Sprintf(`update %s set %s where "id" = %s returning %s`,
			qualified(e), strings.Join(sets, ", "), a.add(id), selectList(e)), a.vals...))
	if err != nil {
		return nil, s.mapErr(e, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, s.mapErr(e, err)
	}
	return r, nil
}

// lockRefs checks that every non-null reference of obj names a live row and
// holds a share lock on it, so a concurrent delete of the target waits for tx.
func (s *Store) lockRefs(ctx context.Context, tx *sql.Tx, e *dsl.Entity, obj map[string]any) error {
	for _, f := range e.Fields {
		id, ok := obj[f.Name].(string)
		if f.Type != dsl.TypeRef || !ok || id == "" {
			continue
		}
		target, ok := s.catalog.RefTarget(e, f)
		if !ok {
			return &store.RefError{Field: f.Name, ID: id}
		}
		var one int
		err := tx.QueryRowContext(ctx, fmt.Sprintf(`select 1 from %s where "id" = $1 and not "deleted" for share`,
			qualified(target)), id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return &store.RefError{Field: f.Name, ID: id}
		}
		if err != nil {
			return fmt.Errorf("lock %s: %w", target.FQN(), err)
		}
	}
	return nil
}

// lockLive selects a live row for update and checks the expected version.
func (s *Store) lockLive(ctx context.Context, tx *sql.Tx, e *dsl.Entity, id string, expected *int64) (*store.Record, error) {
	r, err := scanRecord(e, tx.QueryRowContext(ctx,
		fmt.Sprintf(`select %s from %s where "id" = $1 and not "deleted" for update`, selectList(e), qualified(e)), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", e.Name, id, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if expected != nil && *expected != r.Version {
		return nil, &store.VersionError{Current: r.Version}
	}
	return r, nil
}

func (s *Store) SetActive(ctx context.Context, e *dsl.Entity, id string, active bool, expected *int64) (*store.Record, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := s.lockLive(ctx, tx, e, id, expected)
	if err != nil {
		return nil, false, err
	}
	if cur.Active == active {
		return cur, false, tx.Commit()
	}
	r, err := scanRecord(e, tx.QueryRowContext(ctx,
		fmt.Sprintf(`update %s set "active" = $1, "version" = "version" + 1, "updated_at" = $2 where "id" = $3 returning %s`,
			qualified(e), selectList(e)), active, s.now(), id))
	if err != nil {
		return nil, false, err
	}
	return r, true, tx.Commit()
}

func (s *Store) Delete(ctx context.Context, e *dsl.Entity, id string, expected *int64) (*store.Record, []store.Cleared, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := s.lockLive(ctx, tx, e, id, expected); err != nil {
		return nil, nil, err
	}

	now := s.now()
	links := s.catalog.Referrers(e)
	for _, link := range links {
		if link.Field.OnDelete() != dsl.OnDeleteRestrict {
			continue
		}
		var one int
		err := tx.QueryRowContext(ctx, fmt.Sprintf(`select 1 from %s where %s = $1 and not "deleted" limit 1`,
			qualified(link.Entity), ident(link.Field.Name)), id).Scan(&one)
		if err == nil {
			return nil, nil, &store.InUseError{Entity: link.Entity.FQN(), Field: link.Field.Name}
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, nil, err
		}
	}
	var cleared []store.Cleared
	for _, link := range links {
		if link.Field.OnDelete() != dsl.OnDeleteSetNull {
			continue
		}
		recs, err := s.clearRefs(ctx, tx, link, id, now)
		if err != nil {
			return nil, nil, err
		}
		for _, r := range recs {
			cleared = append(cleared, store.Cleared{Entity: link.Entity, Record: r})
		}
	}

	r, err := scanRecord(e, tx.QueryRowContext(ctx,
		fmt.Sprintf(`update %s set "deleted" = true, "version" = "version" + 1, "updated_at" = $1 where "id" = $2 returning %s`,
			qualified(e), selectList(e)), now, id))
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return r, cleared, nil
}

// clearRefs nulls link's field on the live rows pointing at id.
func (s *Store) clearRefs(ctx context.Context, tx *sql.Tx, link dsl.RefLink, id string, now time.Time) ([]*store.Record, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(
		`update %s set %s = null, "version" = "version" + 1, "updated_at" = $2 where %s = $1 and not "deleted" returning %s`,
		qualified(link.Entity), ident(link.Field.Name), ident(link.Field.Name), selectList(link.Entity)), id, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*store.Record
	for rows.Next() {
		r, err := scanRecord(link.Entity, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Restore(ctx context.Context, e *dsl.Entity, id string) (*store.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := scanRecord(e, tx.QueryRowContext(ctx,
		fmt.Sprintf(`select %s from %s where "id" = $1 for update`, selectList(e), qualified(e)), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", e.Name, id, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if !cur.Deleted {
		return cur, tx.Commit()
	}
	if err := s.lockRefs(ctx, tx, e, cur.Data); err != nil {
		return nil, err
	}
	r, err := scanRecord(e, tx.QueryRowContext(ctx,
		fmt.Sprintf(`update %s set "deleted" = false, "version" = "version" + 1, "updated_at" = $1 where "id" = $2 returning %s`,
			qualified(e), selectList(e)), s.now(), id))
	if err != nil {
		return nil, s.mapErr(e, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, s.mapErr(e, err)
	}
	return r, nil
}

func (s *Store) NextCode(ctx context.Context, e *dsl.Entity) (string, string, error) {
	f, ok := e.SequenceField()
	if !ok {
		return "", "", fmt.Errorf("%s has no sequence field: %w", e.Name, store.ErrNotFound)
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return "", "", err
	}
	defer func() { _ = tx.Rollback() }()
	code, err := s.nextCode(ctx, tx, e, f)
	return f.Name, code, err
}

// nextCode reads deleted rows too, so a code is never handed out twice.
func (s *Store) nextCode(ctx context.Context, tx *sql.Tx, e *dsl.Entity, f dsl.Field) (string, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`select %s from %s where %s ilike $1`,
		ident(f.Name), qualified(e), ident(f.Name)), escapeLike(f.Sequence())+"%")
	if err != nil {
		return "", fmt.Errorf("read codes: %w", err)
	}
	defer rows.Close()
	var codes []string
	for rows.Next() {
		var c sql.NullString
		if err := rows.Scan(&c); err != nil {
			return "", err
		}
		if c.Valid {
			codes = append(codes, c.String)
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return store.NextCode(f.Sequence(), f.Width(), codes), nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

// mapErr turns unique_violation into store.UniqueError.
func (s *Store) mapErr(e *dsl.Entity, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		if set, ok := s.uniques[pgErr.ConstraintName]; ok {
			return &store.UniqueError{Fields: set}
		}
		return &store.UniqueError{Fields: []string{pgErr.ConstraintName}}
	}
	return fmt.Errorf("%s: %w", e.FQN(), err)
}

func blank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}
