// Package events carries record change notifications out of the service.
// Publishing is best-effort: callers log failures and move on.
package events

import (
	"context"
	"time"
)

// Actions recorded on a ChangeEvent.
const (
	ActionCreate     = "create"
	ActionUpdate     = "update"
	ActionActivate   = "activate"
	ActionDeactivate = "deactivate"
	ActionDelete     = "delete"
	ActionRestore    = "restore"
)

// ChangeEvent describes one committed mutation.
type ChangeEvent struct {
	Entity  string         `json:"entity"`
	ID      string         `json:"id"`
	Action  string         `json:"action"`
	Version int64          `json:"version"`
	Actor   string         `json:"actor,omitempty"`
	At      time.Time      `json:"at"`
	Data    map[string]any `json:"data,omitempty"`
}

// Key partitions events so that changes of one record stay ordered.
func (e ChangeEvent) Key() string { return e.Entity + "/" + e.ID }

type Publisher interface {
	Publish(ctx context.Context, ev ChangeEvent) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, ChangeEvent) error { return nil }
func (Nop) Close() error                               { return nil }
