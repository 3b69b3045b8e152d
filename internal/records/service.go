// Package records applies the catalog rules (validation, references, state
// transitions) on top of a store and announces every committed change.
package records

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"inventory/internal/dsl"
	"inventory/internal/events"
	"inventory/internal/metrics"
	"inventory/internal/store"
)

const publishTimeout = 5 * time.Second

type actorKey struct{}

// WithActor attaches the acting user to ctx; it ends up on change events.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor set by WithActor, or "".
func ActorFrom(ctx context.Context) string {
	s, _ := ctx.Value(actorKey{}).(string)
	return s
}

// Service is safe for concurrent use.
type Service struct {
	catalog *dsl.Catalog
	store   store.Store
	pub     events.Publisher
	metrics *metrics.Metrics
	log     *zap.Logger
}

type Option func(*Service)

func WithPublisher(p events.Publisher) Option { return func(s *Service) { s.pub = p } }
func WithMetrics(m *metrics.Metrics) Option   { return func(s *Service) { s.metrics = m } }
func WithLogger(l *zap.Logger) Option         { return func(s *Service) { s.log = l } }

func New(catalog *dsl.Catalog, st store.Store, opts ...Option) *Service {
	s := &Service{
		catalog: catalog,
		store:   st,
		pub:     events.Nop{},
		log:     zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.Named("records")
	return s
}

func (s *Service) Catalog() *dsl.Catalog { return s.catalog }

func (s *Service) List(ctx context.Context, e *dsl.Entity, q store.Query) ([]*store.Record, int, error) {
	return s.store.List(ctx, e, q)
}

func (s *Service) Count(ctx context.Context, e *dsl.Entity, q store.Query) (int, error) {
	q.Limit, q.Offset = 0, 0
	_, total, err := s.store.List(ctx, e, q)
	return total, err
}

func (s *Service) Get(ctx context.Context, e *dsl.Entity, id string) (*store.Record, error) {
	return s.store.Get(ctx, e, id)
}

// NextCode previews the code the next create would receive.
func (s *Service) NextCode(ctx context.Context, e *dsl.Entity) (string, string, error) {
	return s.store.NextCode(ctx, e)
}

// LookupItem is one entry of a select box.
type LookupItem struct {
	ID    string `json:"id"`
	Code  string `json:"code,omitempty"`
	Label string `json:"label"`
}

// Lookup returns active records matching q, labelled by the display field.
func (s *Service) Lookup(ctx context.Context, e *dsl.Entity, q string, limit int) ([]LookupItem, error) {
	display := dsl.DisplayField(e)
	active := true
	query := store.Query{
		Q:            q,
		SearchFields: e.SearchFields(),
		Active:       &active,
		Sort:         []store.SortKey{{Field: display}},
		Limit:        limit,
	}
	recs, _, err := s.store.List(ctx, e, query)
	if err != nil {
		return nil, err
	}
	seq, hasSeq := e.SequenceField()
	out := make([]LookupItem, 0, len(recs))
	for _, r := range recs {
		it := LookupItem{ID: r.ID, Label: labelOf(r, display)}
		if hasSeq {
			it.Code, _ = r.Data[seq.Name].(string)
		}
		out = append(out, it)
	}
	return out, nil
}

func labelOf(r *store.Record, display string) string {
	if display == "id" {
		return r.ID
	}
	if v, ok := r.Data[display].(string); ok {
		return v
	}
	return r.ID
}

// RefLabels resolves the display value of every reference in recs:
// field -> target id -> label. Dangling ids are left out.
func (s *Service) RefLabels(ctx context.Context, e *dsl.Entity, recs []*store.Record) (map[string]map[string]string, error) {
	out := make(map[string]map[string]string)
	for _, f := range e.Fields {
		target, ok := s.catalog.RefTarget(e, f)
		if !ok {
			continue
		}
		seen := make(map[string]struct{})
		var ids []string
		for _, r := range recs {
			if id, ok := r.Data[f.Name].(string); ok && id != "" {
				if _, dup := seen[id]; !dup {
					seen[id] = struct{}{}
					ids = append(ids, id)
				}
			}
		}
		if len(ids) == 0 {
			continue
		}
		got, err := s.store.GetMany(ctx, target, ids)
		if err != nil {
			return nil, err
		}
		display := dsl.DisplayField(target)
		labels := make(map[string]string, len(got))
		for id, r := range got {
			labels[id] = labelOf(r, display)
		}
		out[f.Name] = labels
	}
	return out, nil
}

// Create validates body and inserts it. An absent sequence field is
// generated by the store.
func (s *Service) Create(ctx context.Context, e *dsl.Entity, body map[string]any) (*store.Record, error) {
	obj := copyMap(body)
	stripLabels(e, obj)
	errs := checkSystemFields(e, obj)
	applyDefaults(e, obj)
	errs = append(errs, normalize(e, obj)...)
	refErrs, err := s.checkRefs(ctx, e, obj, nil)
	if err != nil {
		return nil, err
	}
	if errs = append(errs, refErrs...); len(errs) > 0 {
		return nil, s.reject(e, events.ActionCreate, &ValidationError{Errors: errs})
	}

	rec, err := s.store.Insert(ctx, e, obj)
	if err != nil {
		return nil, s.reject(e, events.ActionCreate, refViolation(e, err))
	}
	s.committed(ctx, e, events.ActionCreate, rec)
	return rec, nil
}

// Replace overwrites every user field. expected is mandatory.
func (s *Service) Replace(ctx context.Context, e *dsl.Entity, id string, expected *int64, body map[string]any) (*store.Record, error) {
	return s.update(ctx, e, id, expected, body, false)
}

// Patch merges body into the current record. expected is mandatory.
func (s *Service) Patch(ctx context.Context, e *dsl.Entity, id string, expected *int64, body map[string]any) (*store.Record, error) {
	return s.update(ctx, e, id, expected, body, true)
}

func (s *Service) update(ctx context.Context, e *dsl.Entity, id string, expected *int64, body map[string]any, merge bool) (*store.Record, error) {
	cur, err := s.store.Get(ctx, e, id)
	if err != nil {
		return nil, s.reject(e, events.ActionUpdate, err)
	}
	if expected == nil || *expected != cur.Version {
		return nil, s.reject(e, events.ActionUpdate, &store.VersionError{Current: cur.Version})
	}

	patch := copyMap(body)
	stripLabels(e, patch)
	errs := checkSystemFields(e, patch)

	obj := patch
	if merge {
		obj = copyMap(cur.Data)
		for k, v := range patch {
			obj[k] = v
		}
	}
	// a client may omit the code on PUT; keep the one it had
	if seq, ok := e.SequenceField(); ok {
		if v, present := obj[seq.Name]; !present || v == nil || v == "" {
			obj[seq.Name] = cur.Data[seq.Name]
		}
	}
	for _, f := range e.Fields {
		if f.Readonly() {
			obj[f.Name] = cur.Data[f.Name]
		}
	}
	errs = append(errs, normalize(e, obj)...)
	refErrs, err := s.checkRefs(ctx, e, obj, cur)
	if err != nil {
		return nil, err
	}
	if errs = append(errs, refErrs...); len(errs) > 0 {
		return nil, s.reject(e, events.ActionUpdate, &ValidationError{Errors: errs})
	}

	rec, err := s.store.Update(ctx, e, id, *expected, obj)
	if err != nil {
		return nil, s.reject(e, events.ActionUpdate, refViolation(e, err))
	}
	s.committed(ctx, e, events.ActionUpdate, rec)
	return rec, nil
}

// Activate and Deactivate are idempotent: repeating one returns the record
// unchanged and emits nothing.
func (s *Service) Activate(ctx context.Context, e *dsl.Entity, id string, expected *int64) (*store.Record, error) {
	return s.setActive(ctx, e, id, true, expected)
}

func (s *Service) Deactivate(ctx context.Context, e *dsl.Entity, id string, expected *int64) (*store.Record, error) {
	return s.setActive(ctx, e, id, false, expected)
}

func (s *Service) setActive(ctx context.Context, e *dsl.Entity, id string, active bool, expected *int64) (*store.Record, error) {
	action := events.ActionDeactivate
	if active {
		action = events.ActionActivate
	}
	rec, changed, err := s.store.SetActive(ctx, e, id, active, expected)
	if err != nil {
		return nil, s.reject(e, action, err)
	}
	if changed {
		s.committed(ctx, e, action, rec)
	}
	return rec, nil
}

// Delete soft-deletes a record. References with on_delete=restrict block it;
// set_null referrers are cleared and announced as updates.
func (s *Service) Delete(ctx context.Context, e *dsl.Entity, id string, expected *int64) (*store.Record, error) {
	rec, cleared, err := s.store.Delete(ctx, e, id, expected)
	if err != nil {
		return nil, s.reject(e, events.ActionDelete, err)
	}
	s.committed(ctx, e, events.ActionDelete, rec)
	for _, c := range cleared {
		s.committed(ctx, c.Entity, events.ActionUpdate, c.Record)
	}
	return rec, nil
}

// Restore brings back a deleted record. Restoring a live one is a no-op.
func (s *Service) Restore(ctx context.Context, e *dsl.Entity, id string) (*store.Record, error) {
	prev, err := s.store.GetDeleted(ctx, e, id)
	if err != nil {
		return nil, s.reject(e, events.ActionRestore, err)
	}
	if !prev.Deleted {
		return prev, nil
	}
	rec, err := s.store.Restore(ctx, e, id)
	if err != nil {
		return nil, s.reject(e, events.ActionRestore, refViolation(e, err))
	}
	s.committed(ctx, e, events.ActionRestore, rec)
	return rec, nil
}

func (s *Service) committed(ctx context.Context, e *dsl.Entity, action string, rec *store.Record) {
	actor := ActorFrom(ctx)
	s.metrics.RecordMutation(e.FQN(), action)
	s.log.Info("record "+action,
		zap.String("entity", e.FQN()),
		zap.String("id", rec.ID),
		zap.Int64("version", rec.Version),
		zap.String("actor", actor),
	)

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	ev := events.ChangeEvent{
		Entity:  e.FQN(),
		ID:      rec.ID,
		Action:  action,
		Version: rec.Version,
		Actor:   actor,
		At:      rec.UpdatedAt,
		Data:    rec.Data,
	}
	if err := s.pub.Publish(pctx, ev); err != nil {
		s.metrics.RecordPublishFailure(e.FQN())
		s.log.Warn("publish change event", zap.String("key", ev.Key()), zap.Error(err))
	}
}

// refViolation reports a reference the store found dangling as a field
// error, the same way checkRefs does before the write.
func refViolation(e *dsl.Entity, err error) error {
	var re *store.RefError
	if !errors.As(err, &re) {
		return err
	}
	label := re.Field
	if f, ok := e.Field(re.Field); ok {
		label = f.Label()
	}
	return &ValidationError{Errors: []FieldError{
		ferr(ErrRefNotFound, re.Field, "Selected %q does not exist", label),
	}}
}

// reject counts refused mutations and passes err through.
func (s *Service) reject(e *dsl.Entity, action string, err error) error {
	s.metrics.RecordRejection(e.FQN(), action, Reason(err))
	return err
}

// Reason maps an error to its client-facing code.
func Reason(err error) string {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		if len(ve.Errors) > 0 {
			return ve.Errors[0].Code
		}
		return ErrTypeMismatch
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrVersionConflict):
		return ErrVersionConflict
	case errors.Is(err, store.ErrUnique):
		return ErrUniqueViolation
	case errors.Is(err, store.ErrInUse):
		return ErrFKInUse
	case errors.Is(err, store.ErrRefMissing):
		return ErrRefNotFound
	}
	return "internal"
}

func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
