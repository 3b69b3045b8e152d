// Package access decides which role may run which action on which module.
// A module is an entity FQN ("inventory.Warehouse") or "access" itself.
package access

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"inventory/internal/reference"
)

// Actions a role can hold on a module.
const (
	ActionView       = "view"
	ActionCreate     = "create"
	ActionUpdate     = "update"
	ActionActivate   = "activate"
	ActionDeactivate = "deactivate"
	ActionDelete     = "delete"
)

// ModuleAccess guards the permission screens themselves.
const ModuleAccess = "access"

// Actions lists every action in display order.
var Actions = []string{ActionView, ActionCreate, ActionUpdate, ActionActivate, ActionDeactivate, ActionDelete}

var (
	ErrForbidden     = errors.New("forbidden")
	ErrUnknownModule = errors.New("unknown module")
	ErrUnknownAction = errors.New("unknown action")
	ErrInvalidRole   = errors.New("invalid role")
)

// DeniedError names what was refused.
type DeniedError struct {
	Role   string
	Module string
	Action string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("role %q is not allowed to %s %s", e.Role, e.Action, e.Module)
}

func (e *DeniedError) Is(target error) bool { return target == ErrForbidden }

// Grants maps module -> allowed actions.
type Grants map[string][]string

// GrantStore persists grants. Implementations: Memory and pg.GrantStore.
type GrantStore interface {
	// All returns role -> grants.
	All(ctx context.Context) (map[string]Grants, error)
	// Role returns the grants of one role; empty when unknown.
	Role(ctx context.Context, role string) (Grants, error)
	// Set replaces the actions of role on module.
	Set(ctx context.Context, role, module string, actions []string) error
	// Revoke removes every action of role on module.
	Revoke(ctx context.Context, role, module string) error
}

// Module describes one permission target for the permissions screen.
type Module struct {
	Name    string   `json:"module"`
	Label   string   `json:"label"`
	Actions []string `json:"actions"`
}

// Checker answers permission questions. Safe for concurrent use.
type Checker struct {
	store     GrantStore
	superuser string
	modules   []Module
	byLower   map[string]string
}

// NewChecker knows the given modules plus "access". superuser holds every
// action on every module without grants.
func NewChecker(st GrantStore, superuser string, modules []Module) *Checker {
	c := &Checker{store: st, superuser: strings.TrimSpace(superuser), byLower: map[string]string{}}
	all := append([]Module{{Name: ModuleAccess, Label: "Permisos", Actions: []string{ActionView, ActionUpdate}}}, modules...)
	for _, m := range all {
		if m.Actions == nil {
			m.Actions = append([]string(nil), Actions...)
		}
		c.modules = append(c.modules, m)
		c.byLower[strings.ToLower(m.Name)] = m.Name
	}
	sort.Slice(c.modules, func(i, j int) bool { return c.modules[i].Name < c.modules[j].Name })
	return c
}

func (c *Checker) Modules() []Module { return c.modules }

func (c *Checker) IsSuperuser(role string) bool {
	return c.superuser != "" && strings.EqualFold(role, c.superuser)
}

// Canonical resolves a module name case-insensitively.
func (c *Checker) Canonical(module string) (string, bool) {
	m, ok := c.byLower[strings.ToLower(strings.TrimSpace(module))]
	return m, ok
}

func (c *Checker) module(name string) (Module, bool) {
	for _, m := range c.modules {
		if m.Name == name {
			return m, true
		}
	}
	return Module{}, false
}

// Check returns a *DeniedError unless role may run action on module.
func (c *Checker) Check(ctx context.Context, role, module, action string) error {
	if c.IsSuperuser(role) {
		return nil
	}
	canon, ok := c.Canonical(module)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModule, module)
	}
	g, err := c.store.Role(ctx, role)
	if err != nil {
		return err
	}
	for _, a := range g[canon] {
		if a == action {
			return nil
		}
	}
	return &DeniedError{Role: role, Module: canon, Action: action}
}

// Effective lists what role may do on every known module.
func (c *Checker) Effective(ctx context.Context, role string) (Grants, error) {
	out := make(Grants, len(c.modules))
	if c.IsSuperuser(role) {
		for _, m := range c.modules {
			out[m.Name] = append([]string(nil), m.Actions...)
		}
		return out, nil
	}
	g, err := c.store.Role(ctx, role)
	if err != nil {
		return nil, err
	}
	for _, m := range c.modules {
		out[m.Name] = ordered(g[m.Name])
	}
	return out, nil
}

func (c *Checker) Roles(ctx context.Context) (map[string]Grants, error) { return c.store.All(ctx) }

func (c *Checker) Role(ctx context.Context, role string) (Grants, error) {
	return c.store.Role(ctx, strings.TrimSpace(role))
}

// Grant replaces the actions of role on module after validating both.
func (c *Checker) Grant(ctx context.Context, role, module string, actions []string) error {
	role = strings.TrimSpace(role)
	if role == "" {
		return ErrInvalidRole
	}
	canon, ok := c.Canonical(module)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModule, module)
	}
	m, _ := c.module(canon)
	clean := make([]string, 0, len(actions))
	for _, a := range actions {
		a = strings.ToLower(strings.TrimSpace(a))
		if !contains(m.Actions, a) {
			return fmt.Errorf("%w: %q on %s", ErrUnknownAction, a, canon)
		}
		if !contains(clean, a) {
			clean = append(clean, a)
		}
	}
	if len(clean) == 0 {
		return c.store.Revoke(ctx, role, canon)
	}
	return c.store.Set(ctx, role, canon, ordered(clean))
}

func (c *Checker) Revoke(ctx context.Context, role, module string) error {
	canon, ok := c.Canonical(module)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModule, module)
	}
	return c.store.Revoke(ctx, strings.TrimSpace(role), canon)
}

// Seed applies grants for (role, module) pairs that have none yet, so edits
// made through the API survive restarts.
func (c *Checker) Seed(ctx context.Context, roles []reference.RoleGrants) (int, error) {
	existing, err := c.store.All(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rg := range roles {
		modules := make([]string, 0, len(rg.Grants))
		for m := range rg.Grants {
			modules = append(modules, m)
		}
		sort.Strings(modules)
		for _, module := range modules {
			canon, ok := c.Canonical(module)
			if !ok {
				return n, fmt.Errorf("role %s: %w: %s", rg.Role, ErrUnknownModule, module)
			}
			if _, has := existing[rg.Role][canon]; has {
				continue
			}
			if err := c.Grant(ctx, rg.Role, canon, rg.Grants[module]); err != nil {
				return n, fmt.Errorf("role %s: %w", rg.Role, err)
			}
			n++
		}
	}
	return n, nil
}

// ordered sorts actions by their position in Actions.
func ordered(actions []string) []string {
	out := make([]string, 0, len(actions))
	for _, a := range Actions {
		if contains(actions, a) {
			out = append(out, a)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
