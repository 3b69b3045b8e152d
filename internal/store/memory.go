package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"inventory/internal/dsl"
)

// Memory keeps every record in process. It is the default backend when no
// database URL is configured, and the reference behaviour for Postgres.
type Memory struct {
	mu      sync.RWMutex
	catalog *dsl.Catalog
	data    map[string]map[string]*Record // lower(FQN) -> id -> record
	ids     *IDGen
	now     func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty store for the entities of catalog.
func NewMemory(catalog *dsl.Catalog) *Memory {
	return &Memory{
		catalog: catalog,
		data:    make(map[string]map[string]*Record),
		ids:     NewIDGen(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func key(e *dsl.Entity) string { return strings.ToLower(e.FQN()) }

func (m *Memory) table(e *dsl.Entity) map[string]*Record {
	t := m.data[key(e)]
	if t == nil {
		t = make(map[string]*Record)
		m.data[key(e)] = t
	}
	return t
}

func (m *Memory) List(_ context.Context, e *dsl.Entity, q Query) ([]*Record, int, error) {
	m.mu.RLock()
	matched := make([]*Record, 0, len(m.data[key(e)]))
	for _, r := range m.data[key(e)] {
		if !r.Deleted && q.Match(r) {
			matched = append(matched, r.Clone())
		}
	}
	m.mu.RUnlock()

	q.SortRecords(e, matched)
	return q.Page(matched), len(matched), nil
}

func (m *Memory) Get(ctx context.Context, e *dsl.Entity, id string) (*Record, error) {
	r, err := m.GetDeleted(ctx, e, id)
	if err != nil {
		return nil, err
	}
	if r.Deleted {
		return nil, fmt.Errorf("%s %s: %w", e.Name, id, ErrNotFound)
	}
	return r, nil
}

func (m *Memory) GetDeleted(_ context.Context, e *dsl.Entity, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r := m.data[key(e)][id]
	if r == nil {
		return nil, fmt.Errorf("%s %s: %w", e.Name, id, ErrNotFound)
	}
	return r.Clone(), nil
}

func (m *Memory) GetMany(_ context.Context, e *dsl.Entity, ids []string) (map[string]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*Record, len(ids))
	t := m.data[key(e)]
	for _, id := range ids {
		if r := t[id]; r != nil && !r.Deleted {
			out[id] = r.Clone()
		}
	}
	return out, nil
}

func (m *Memory) FindBy(_ context.Context, e *dsl.Entity, field string, v any) (*Record, error) {
	want := normalize(v)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.data[key(e)] {
		if !r.Deleted && normalize(r.Data[field]) == want {
			return r.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%s with %s=%v: %w", e.Name, field, v, ErrNotFound)
}

func (m *Memory) Insert(_ context.Context, e *dsl.Entity, data map[string]any) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj := copyData(data)
	if f, ok := e.SequenceField(); ok && isBlank(obj[f.Name]) {
		obj[f.Name] = m.nextCodeLocked(e, f)
	}
	if err := m.checkRefsLocked(e, obj); err != nil {
		return nil, err
	}
	if err := m.checkUniqueLocked(e, obj, ""); err != nil {
		return nil, err
	}

	now := m.now()
	r := &Record{
		ID:        m.ids.New(),
		Version:   1,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
		Data:      obj,
	}
	m.table(e)[r.ID] = r
	return r.Clone(), nil
}

func (m *Memory) Update(_ context.Context, e *dsl.Entity, id string, expected int64, data map[string]any) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.liveLocked(e, id)
	if err != nil {
		return nil, err
	}
	if r.Version != expected {
		return nil, &VersionError{Current: r.Version}
	}
	obj := copyData(data)
	if err := m.checkRefsLocked(e, obj); err != nil {
		return nil, err
	}
	if err := m.checkUniqueLocked(e, obj, id); err != nil {
		return nil, err
	}
	r.Data = obj
	r.Version++
	r.UpdatedAt = m.now()
	return r.Clone(), nil
}

func (m *Memory) SetActive(_ context.Context, e *dsl.Entity, id string, active bool, expected *int64) (*Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.liveLocked(e, id)
	if err != nil {
		return nil, false, err
	}
	if expected != nil && *expected != r.Version {
		return nil, false, &VersionError{Current: r.Version}
	}
	if r.Active == active {
		return r.Clone(), false, nil
	}
	r.Active = active
	r.Version++
	r.UpdatedAt = m.now()
	return r.Clone(), true, nil
}

func (m *Memory) Delete(_ context.Context, e *dsl.Entity, id string, expected *int64) (*Record, []Cleared, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.liveLocked(e, id)
	if err != nil {
		return nil, nil, err
	}
	if expected != nil && *expected != r.Version {
		return nil, nil, &VersionError{Current: r.Version}
	}

	type pending struct {
		entity *dsl.Entity
		rec    *Record
		field  string
	}
	var toClear []pending
	for _, link := range m.catalog.Referrers(e) {
		for _, child := range m.data[key(link.Entity)] {
			if child.Deleted || child.Data[link.Field.Name] != id {
				continue
			}
			if link.Field.OnDelete() == dsl.OnDeleteRestrict {
				return nil, nil, &InUseError{Entity: link.Entity.FQN(), Field: link.Field.Name}
			}
			toClear = append(toClear, pending{entity: link.Entity, rec: child, field: link.Field.Name})
		}
	}

	now := m.now()
	cleared := make([]Cleared, 0, len(toClear))
	for _, p := range toClear {
		p.rec.Data[p.field] = nil
		p.rec.Version++
		p.rec.UpdatedAt = now
		cleared = append(cleared, Cleared{Entity: p.entity, Record: p.rec.Clone()})
	}
	r.Deleted = true
	r.Version++
	r.UpdatedAt = now
	return r.Clone(), cleared, nil
}

func (m *Memory) Restore(_ context.Context, e *dsl.Entity, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.data[key(e)][id]
	if r == nil {
		return nil, fmt.Errorf("%s %s: %w", e.Name, id, ErrNotFound)
	}
	if !r.Deleted {
		return r.Clone(), nil
	}
	if err := m.checkRefsLocked(e, r.Data); err != nil {
		return nil, err
	}
	if err := m.checkUniqueLocked(e, r.Data, id); err != nil {
		return nil, err
	}
	r.Deleted = false
	r.Version++
	r.UpdatedAt = m.now()
	return r.Clone(), nil
}

func (m *Memory) NextCode(_ context.Context, e *dsl.Entity) (string, string, error) {
	f, ok := e.SequenceField()
	if !ok {
		return "", "", fmt.Errorf("%s has no sequence field: %w", e.Name, ErrNotFound)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return f.Name, m.nextCodeLocked(e, f), nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func (m *Memory) liveLocked(e *dsl.Entity, id string) (*Record, error) {
	r := m.data[key(e)][id]
	if r == nil || r.Deleted {
		return nil, fmt.Errorf("%s %s: %w", e.Name, id, ErrNotFound)
	}
	return r, nil
}

// checkRefsLocked requires every non-null reference of obj to name a live
// record. Inactive targets are allowed here; the records layer decides that.
func (m *Memory) checkRefsLocked(e *dsl.Entity, obj map[string]any) error {
	for _, f := range e.Fields {
		id, ok := obj[f.Name].(string)
		if f.Type != dsl.TypeRef || !ok || id == "" {
			continue
		}
		target, ok := m.catalog.RefTarget(e, f)
		if !ok {
			return &RefError{Field: f.Name, ID: id}
		}
		if _, err := m.liveLocked(target, id); err != nil {
			return &RefError{Field: f.Name, ID: id}
		}
	}
	return nil
}

// nextCodeLocked considers deleted records too, so a code is never handed out twice.
func (m *Memory) nextCodeLocked(e *dsl.Entity, f dsl.Field) string {
	t := m.data[key(e)]
	codes := make([]string, 0, len(t))
	for _, r := range t {
		if s, ok := r.Data[f.Name].(string); ok {
			codes = append(codes, s)
		}
	}
	return NextCode(f.Sequence(), f.Width(), codes)
}

func (m *Memory) checkUniqueLocked(e *dsl.Entity, obj map[string]any, exceptID string) error {
	for _, set := range e.UniqueSets() {
		want, ok := uniqueKey(obj, set)
		if !ok {
			continue
		}
		for id, r := range m.data[key(e)] {
			if r.Deleted || id == exceptID {
				continue
			}
			if got, ok := uniqueKey(r.Data, set); ok && got == want {
				return &UniqueError{Fields: set}
			}
		}
	}
	return nil
}

// uniqueKey joins the normalized values of set; ok is false when any of them
// is null, since nulls never collide.
func uniqueKey(obj map[string]any, set []string) (string, bool) {
	parts := make([]string, len(set))
	for i, name := range set {
		v := obj[name]
		if isBlank(v) {
			return "", false
		}
		parts[i] = normalize(v)
	}
	return strings.Join(parts, "\x00"), true
}

func normalize(v any) string {
	if v == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(toString(v)))
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func copyData(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
