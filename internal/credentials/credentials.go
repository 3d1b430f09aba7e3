// Package credentials holds the token set an authorizer obtains and caches,
// and hands it to the protected tool through its context.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"toolauth/internal/oauth"
)

// ExpiryMargin is subtracted from a token's lifetime when checking validity,
// so a token is not handed to a tool just before it expires.
const ExpiryMargin = 30 * time.Second

// ErrNoIDToken is returned by Claims when no ID token was issued.
var ErrNoIDToken = errors.New("credentials have no ID token")

// Credentials is a token set. It is stored as JSON and therefore contains the
// raw tokens; use String for logging.
type Credentials struct {
	AccessToken  string   `json:"accessToken"`
	IDToken      string   `json:"idToken,omitempty"`
	RefreshToken string   `json:"refreshToken,omitempty"`
	TokenType    string   `json:"tokenType"`
	ExpiresIn    int64    `json:"expiresIn,omitempty"`
	Scope        []string `json:"scope"`
	// IssuedAt is the unix time the token response was received.
	IssuedAt int64 `json:"issuedAt"`
}

// FromTokenResponse captures resp at now. When the server omits scope the
// token is taken to carry defaultScope (RFC 6749 §5.1).
func FromTokenResponse(resp *oauth.TokenResponse, now time.Time, defaultScope []string) *Credentials {
	scope := ParseScope(resp.Scope)
	if len(scope) == 0 && len(defaultScope) > 0 {
		scope = append([]string(nil), defaultScope...)
	}
	tokenType := resp.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &Credentials{
		AccessToken:  resp.AccessToken,
		IDToken:      resp.IDToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    tokenType,
		ExpiresIn:    resp.ExpiresIn,
		Scope:        scope,
		IssuedAt:     now.Unix(),
	}
}

// ExpiresAt returns the expiry instant, or the zero time for tokens without
// a lifetime.
func (c *Credentials) ExpiresAt() time.Time {
	if c.ExpiresIn <= 0 {
		return time.Time{}
	}
	return time.Unix(c.IssuedAt+c.ExpiresIn, 0)
}

// Expired reports whether the token is expired at now, including
// ExpiryMargin.
func (c *Credentials) Expired(now time.Time) bool {
	exp := c.ExpiresAt()
	if exp.IsZero() {
		return false
	}
	return !now.Add(ExpiryMargin).Before(exp)
}

// Valid reports whether c holds an unexpired access token whose scope covers
// required.
func (c *Credentials) Valid(now time.Time, required []string) bool {
	if c == nil || c.AccessToken == "" {
		return false
	}
	if c.Expired(now) {
		return false
	}
	return len(Missing(required, c.Scope)) == 0
}

// TTL is the store TTL of c: the token lifetime, or no expiry.
func TTL(c *Credentials) time.Duration {
	if c == nil || c.ExpiresIn <= 0 {
		return 0
	}
	return time.Duration(c.ExpiresIn) * time.Second
}

// OAuth2Token converts c to an *oauth2.Token. The ID token and scope are
// available through Extra("id_token") and Extra("scope").
func (c *Credentials) OAuth2Token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  c.AccessToken,
		TokenType:    c.TokenType,
		RefreshToken: c.RefreshToken,
		Expiry:       c.ExpiresAt(),
		ExpiresIn:    c.ExpiresIn,
	}
	extra := map[string]interface{}{"scope": strings.Join(c.Scope, " ")}
	if c.IDToken != "" {
		extra["id_token"] = c.IDToken
	}
	return tok.WithExtra(extra)
}

// HTTPClient returns a client that sends the access token as a bearer token.
// Base transports can be supplied through ctx with the oauth2.HTTPClient key.
func (c *Credentials) HTTPClient(ctx context.Context) *http.Client {
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(c.OAuth2Token()))
}

// Claims decodes the ID token without verifying its signature. The token was
// received directly from the token endpoint over TLS, which is what OpenID
// Connect Core §3.1.3.7 requires for skipping verification.
func (c *Credentials) Claims() (jwt.MapClaims, error) {
	if c.IDToken == "" {
		return nil, ErrNoIDToken
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(c.IDToken, claims); err != nil {
		return nil, fmt.Errorf("failed to parse ID token: %w", err)
	}
	return claims, nil
}

// Subject returns the sub claim of the ID token.
func (c *Credentials) Subject() (string, error) {
	claims, err := c.Claims()
	if err != nil {
		return "", err
	}
	return claims.GetSubject()
}

// String renders c without token values.
func (c *Credentials) String() string {
	if c == nil {
		return "Credentials(nil)"
	}
	return fmt.Sprintf("Credentials{AccessToken:%s, IDToken:%s, RefreshToken:%s, TokenType:%s, Scope:%q, ExpiresIn:%d}",
		oauth.NewRedactedToken(c.AccessToken), oauth.NewRedactedToken(c.IDToken), oauth.NewRedactedToken(c.RefreshToken),
		c.TokenType, c.Scope, c.ExpiresIn)
}

// Fingerprint identifies the access token in audit records.
func (c *Credentials) Fingerprint() string {
	return oauth.NewRedactedToken(c.AccessToken).Fingerprint()
}

// GoString keeps %#v from printing token values.
func (c *Credentials) GoString() string {
	return c.String()
}

type contextKey struct{}

// NewContext returns a copy of ctx carrying c.
func NewContext(ctx context.Context, c *Credentials) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// FromContext returns the credentials the protect wrapper put on ctx.
func FromContext(ctx context.Context) (*Credentials, bool) {
	c, ok := ctx.Value(contextKey{}).(*Credentials)
	return c, ok && c != nil
}
