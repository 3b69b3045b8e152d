package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrUnique          = errors.New("unique violation")
	ErrInUse           = errors.New("record is referenced")
	ErrRefMissing      = errors.New("referenced record does not exist")
)

// VersionError carries the version the caller should have sent.
type VersionError struct {
	Current int64
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("record was modified by someone else (current version %d)", e.Current)
}

func (e *VersionError) Is(target error) bool { return target == ErrVersionConflict }

// UniqueError names the key that collided.
type UniqueError struct {
	Fields []string
}

func (e *UniqueError) Error() string {
	if len(e.Fields) == 1 {
		return fmt.Sprintf("value of %q is already in use", e.Fields[0])
	}
	return fmt.Sprintf("combination of %s is already in use", strings.Join(e.Fields, ", "))
}

func (e *UniqueError) Is(target error) bool { return target == ErrUnique }

// InUseError names the first referrer that blocks a delete.
type InUseError struct {
	Entity string
	Field  string
}

func (e *InUseError) Error() string {
	return fmt.Sprintf("record is referenced by %s.%s", e.Entity, e.Field)
}

func (e *InUseError) Is(target error) bool { return target == ErrInUse }

// RefError names a reference whose target is missing or deleted.
type RefError struct {
	Field string
	ID    string
}

func (e *RefError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrRefMissing, e.Field, e.ID)
}

func (e *RefError) Is(target error) bool { return target == ErrRefMissing }
