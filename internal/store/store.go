// Package store persists catalog records. Implementations enforce
// uniqueness, optimistic versions, sequential codes and referential
// restrictions atomically; field-level validation happens before them.
package store

import (
	"context"

	"inventory/internal/dsl"
)

// Store is the persistence contract shared by the memory and postgres backends.
type Store interface {
	// List returns one page of matching records and the total match count.
	List(ctx context.Context, e *dsl.Entity, q Query) ([]*Record, int, error)
	// Get returns a non-deleted record.
	Get(ctx context.Context, e *dsl.Entity, id string) (*Record, error)
	// GetDeleted returns a record whether deleted or not.
	GetDeleted(ctx context.Context, e *dsl.Entity, id string) (*Record, error)
	// GetMany returns the non-deleted records among ids, keyed by id.
	GetMany(ctx context.Context, e *dsl.Entity, ids []string) (map[string]*Record, error)
	// FindBy returns the non-deleted record whose field equals value
	// (case-insensitive for strings), or ErrNotFound.
	FindBy(ctx context.Context, e *dsl.Entity, field string, value any) (*Record, error)
	// Insert stores a new active record at version 1. An empty sequence
	// field is filled with the next code. Insert, Update and Restore fail with
	// a RefError when a reference does not point at a live record.
	Insert(ctx context.Context, e *dsl.Entity, data map[string]any) (*Record, error)
	// Update replaces the user fields when expected matches the version.
	Update(ctx context.Context, e *dsl.Entity, id string, expected int64, data map[string]any) (*Record, error)
	// SetActive flips the status flag; changed is false when it already had
	// the requested value. A nil expected skips the version check.
	SetActive(ctx context.Context, e *dsl.Entity, id string, active bool, expected *int64) (rec *Record, changed bool, err error)
	// Delete soft-deletes a record unless a restrict reference blocks it.
	// Referrers with on_delete=set_null are cleared and returned.
	Delete(ctx context.Context, e *dsl.Entity, id string, expected *int64) (*Record, []Cleared, error)
	// Restore un-deletes a record unless its unique values were taken
	// meanwhile or one of its references is gone.
	Restore(ctx context.Context, e *dsl.Entity, id string) (*Record, error)
	// NextCode previews the code Insert would assign.
	NextCode(ctx context.Context, e *dsl.Entity) (field, code string, err error)
	Ping(ctx context.Context) error
	Close() error
}

// Cleared is a referrer whose reference was nulled by a delete.
type Cleared struct {
	Entity *dsl.Entity
	Record *Record
}
