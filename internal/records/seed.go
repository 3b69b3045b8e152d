package records

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"inventory/internal/dsl"
	"inventory/internal/reference"
	"inventory/internal/store"
)

const seedActor = "seed"

// SeedResult counts what Seed did per entity.
type SeedResult struct {
	Entity   string
	Created  int
	Existing int
}

// Seed inserts reference records that are not there yet. A record is
// identified by its sequence field (its code). Ref fields may name the
// target by code instead of id.
func (s *Service) Seed(ctx context.Context, seeds []reference.Seed) ([]SeedResult, error) {
	ctx = WithActor(ctx, seedActor)
	var out []SeedResult
	for _, seed := range seeds {
		e, ok := s.catalog.ByFQN(seed.Entity)
		if !ok {
			return out, fmt.Errorf("%s: unknown entity %q", seed.Source, seed.Entity)
		}
		res := SeedResult{Entity: e.FQN()}
		seq, hasSeq := e.SequenceField()
		for i, raw := range seed.Records {
			obj := copyMap(raw)
			if hasSeq {
				if code, ok := obj[seq.Name]; ok && code != nil {
					_, err := s.store.FindBy(ctx, e, seq.Name, code)
					if err == nil {
						res.Existing++
						continue
					}
					if !errors.Is(err, store.ErrNotFound) {
						return out, err
					}
				}
			}
			if err := s.resolveRefCodes(ctx, e, obj); err != nil {
				return out, fmt.Errorf("%s record %d: %w", seed.Source, i+1, err)
			}
			if _, err := s.Create(ctx, e, obj); err != nil {
				return out, fmt.Errorf("%s record %d: %w", seed.Source, i+1, err)
			}
			res.Created++
		}
		s.log.Info("reference data loaded",
			zap.String("entity", res.Entity),
			zap.Int("created", res.Created),
			zap.Int("existing", res.Existing),
		)
		out = append(out, res)
	}
	return out, nil
}

func (s *Service) resolveRefCodes(ctx context.Context, e *dsl.Entity, obj map[string]any) error {
	for _, f := range e.Fields {
		v, ok := obj[f.Name].(string)
		if !ok || v == "" {
			continue
		}
		target, ok := s.catalog.RefTarget(e, f)
		if !ok {
			continue
		}
		if _, err := s.store.Get(ctx, target, v); err == nil {
			continue
		}
		seq, ok := target.SequenceField()
		if !ok {
			continue
		}
		rec, err := s.store.FindBy(ctx, target, seq.Name, v)
		if err != nil {
			return fmt.Errorf("%s: %w", f.Name, err)
		}
		obj[f.Name] = rec.ID
	}
	return nil
}
