package access

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inventory/internal/reference"
)

func newChecker() *Checker {
	return NewChecker(NewMemory(), "admin", []Module{
		{Name: "inventory.Warehouse", Label: "Bodegas"},
		{Name: "inventory.Subline", Label: "Sublíneas"},
	})
}

func TestCheck(t *testing.T) {
	ctx := context.Background()
	c := newChecker()
	require.NoError(t, c.Grant(ctx, "supervisor", "INVENTORY.warehouse", []string{"view", "Create", "view"}))

	assert.NoError(t, c.Check(ctx, "supervisor", "inventory.Warehouse", ActionView))
	assert.NoError(t, c.Check(ctx, "supervisor", "inventory.Warehouse", ActionCreate))

	err := c.Check(ctx, "supervisor", "inventory.Warehouse", ActionDelete)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrForbidden))
	var de *DeniedError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "inventory.Warehouse", de.Module)

	assert.True(t, errors.Is(c.Check(ctx, "supervisor", "inventory.Nope", ActionView), ErrUnknownModule))
	assert.True(t, errors.Is(c.Check(ctx, "nobody", "inventory.Subline", ActionView), ErrForbidden))

	// the superuser needs no grants
	assert.NoError(t, c.Check(ctx, "ADMIN", "inventory.Subline", ActionDelete))
}

func TestGrantValidation(t *testing.T) {
	ctx := context.Background()
	c := newChecker()

	assert.True(t, errors.Is(c.Grant(ctx, "r", "inventory.Warehouse", []string{"fly"}), ErrUnknownAction))
	assert.True(t, errors.Is(c.Grant(ctx, "r", "inventory.Other", []string{"view"}), ErrUnknownModule))
	assert.True(t, errors.Is(c.Grant(ctx, " ", "inventory.Warehouse", []string{"view"}), ErrInvalidRole))
	// access only knows view and update
	assert.True(t, errors.Is(c.Grant(ctx, "r", "access", []string{"delete"}), ErrUnknownAction))

	require.NoError(t, c.Grant(ctx, "r", "inventory.Warehouse", []string{"delete", "view"}))
	g, err := c.Role(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, []string{"view", "delete"}, g["inventory.Warehouse"])

	// an empty set revokes
	require.NoError(t, c.Grant(ctx, "r", "inventory.Warehouse", nil))
	g, err = c.Role(ctx, "r")
	require.NoError(t, err)
	assert.Empty(t, g)
}

func TestEffective(t *testing.T) {
	ctx := context.Background()
	c := newChecker()
	require.NoError(t, c.Grant(ctx, "viewer", "inventory.Subline", []string{"view"}))

	eff, err := c.Effective(ctx, "viewer")
	require.NoError(t, err)
	assert.Equal(t, []string{"view"}, eff["inventory.Subline"])
	assert.Empty(t, eff["inventory.Warehouse"])
	assert.Contains(t, eff, ModuleAccess)

	eff, err = c.Effective(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, Actions, eff["inventory.Warehouse"])
	assert.Equal(t, []string{ActionView, ActionUpdate}, eff[ModuleAccess])
}

func TestSeedKeepsExistingGrants(t *testing.T) {
	ctx := context.Background()
	c := newChecker()
	require.NoError(t, c.Grant(ctx, "supervisor", "inventory.Warehouse", []string{"view"}))

	n, err := c.Seed(ctx, []reference.RoleGrants{{
		Role: "supervisor",
		Grants: map[string][]string{
			"inventory.Warehouse": {"view", "create", "delete"},
			"inventory.Subline":   {"view"},
		},
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	g, err := c.Role(ctx, "supervisor")
	require.NoError(t, err)
	assert.Equal(t, []string{"view"}, g["inventory.Warehouse"])
	assert.Equal(t, []string{"view"}, g["inventory.Subline"])

	_, err = c.Seed(ctx, []reference.RoleGrants{{Role: "x", Grants: map[string][]string{"inventory.Ghost": {"view"}}}})
	assert.True(t, errors.Is(err, ErrUnknownModule))
}

func TestDevModeAuthentication(t *testing.T) {
	a := NewAuthenticator("", "viewer")
	require.True(t, a.DevMode())

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	p, err := a.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, Principal{Subject: "anonymous", Role: "viewer", Dev: true}, p)

	r.Header.Set("X-Role", "supervisor")
	r.Header.Set("X-User", "ana")
	p, err = a.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "supervisor", p.Role)
	assert.Equal(t, "ana", p.Subject)

	_, err = a.Mint("ana", "admin", time.Hour)
	assert.Error(t, err)
}

func TestTokenRoundTrip(t *testing.T) {
	a := NewAuthenticator("s3cret", "viewer")
	tok, err := a.Mint("ana", "supervisor", time.Hour)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+tok)
	// headers are ignored outside dev mode
	r.Header.Set("X-Role", "admin")
	p, err := a.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, Principal{Subject: "ana", Role: "supervisor"}, p)
}

func TestTokenRejected(t *testing.T) {
	a := NewAuthenticator("s3cret", "viewer")
	other := NewAuthenticator("different", "viewer")
	forged, err := other.Mint("ana", "admin", time.Hour)
	require.NoError(t, err)

	expiredAuth := NewAuthenticator("s3cret", "viewer")
	expiredAuth.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := expiredAuth.Mint("ana", "admin", time.Hour)
	require.NoError(t, err)

	for name, header := range map[string]string{
		"missing":    "",
		"not bearer": "Basic abc",
		"garbage":    "Bearer abc.def.ghi",
		"forged":     "Bearer " + forged,
		"expired":    "Bearer " + expired,
	} {
		t.Run(name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				r.Header.Set("Authorization", header)
			}
			_, err := a.Authenticate(r)
			assert.True(t, errors.Is(err, ErrUnauthenticated), "got %v", err)
		})
	}
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFrom(context.Background())
	assert.False(t, ok)
	ctx := WithPrincipal(context.Background(), Principal{Subject: "ana", Role: "viewer"})
	p, ok := PrincipalFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, "ana", p.Subject)
}
