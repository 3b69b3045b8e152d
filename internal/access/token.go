package access

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "inventory"

var ErrUnauthenticated = errors.New("unauthenticated")

// Principal is the caller of a request.
type Principal struct {
	Subject string `json:"subject"`
	Role    string `json:"role"`
	Dev     bool   `json:"dev,omitempty"`
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

type claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Authenticator turns a request into a Principal. With an empty secret it
// runs in dev mode and trusts the X-Role / X-User headers.
type Authenticator struct {
	secret      []byte
	defaultRole string
	now         func() time.Time
}

func NewAuthenticator(secret, defaultRole string) *Authenticator {
	return &Authenticator{
		secret:      []byte(secret),
		defaultRole: defaultRole,
		now:         time.Now,
	}
}

func (a *Authenticator) DevMode() bool { return len(a.secret) == 0 }

func (a *Authenticator) Authenticate(r *http.Request) (Principal, error) {
	if a.DevMode() {
		p := Principal{
			Subject: strings.TrimSpace(r.Header.Get("X-User")),
			Role:    strings.TrimSpace(r.Header.Get("X-Role")),
			Dev:     true,
		}
		if p.Role == "" {
			p.Role = a.defaultRole
		}
		if p.Subject == "" {
			p.Subject = "anonymous"
		}
		return p, nil
	}

	h := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return Principal{}, fmt.Errorf("%w: missing bearer token", ErrUnauthenticated)
	}
	return a.Verify(strings.TrimSpace(raw))
}

// Verify checks an HS256 token issued by Mint.
func (a *Authenticator) Verify(raw string) (Principal, error) {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if strings.TrimSpace(c.Subject) == "" || strings.TrimSpace(c.Role) == "" {
		return Principal{}, fmt.Errorf("%w: token lacks sub or role", ErrUnauthenticated)
	}
	return Principal{Subject: c.Subject, Role: c.Role}, nil
}

// Mint signs a token for subject acting as role.
func (a *Authenticator) Mint(subject, role string, ttl time.Duration) (string, error) {
	if a.DevMode() {
		return "", errors.New("no signing secret configured")
	}
	now := a.now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	})
	return tok.SignedString(a.secret)
}
