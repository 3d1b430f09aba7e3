package credentials

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolauth/internal/oauth"
)

var now = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func unsignedJWT(payload string) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	return header + "." + base64.RawURLEncoding.EncodeToString([]byte(payload)) + "."
}

func TestFromTokenResponse(t *testing.T) {
	resp := &oauth.TokenResponse{
		AccessToken:  "at",
		IDToken:      "idt",
		RefreshToken: "rt",
		ExpiresIn:    3600,
		Scope:        "openid  read:calendar",
	}

	c := FromTokenResponse(resp, now, []string{"ignored"})
	assert.Equal(t, "at", c.AccessToken)
	assert.Equal(t, "idt", c.IDToken)
	assert.Equal(t, "rt", c.RefreshToken)
	assert.Equal(t, "Bearer", c.TokenType)
	assert.Equal(t, []string{"openid", "read:calendar"}, c.Scope)
	assert.Equal(t, now.Unix(), c.IssuedAt)

	t.Run("missing scope falls back to requested", func(t *testing.T) {
		c := FromTokenResponse(&oauth.TokenResponse{AccessToken: "at", TokenType: "DPoP"}, now, []string{"openid"})
		assert.Equal(t, []string{"openid"}, c.Scope)
		assert.Equal(t, "DPoP", c.TokenType)
	})

	t.Run("missing scope without fallback", func(t *testing.T) {
		c := FromTokenResponse(&oauth.TokenResponse{AccessToken: "at"}, now, nil)
		assert.Empty(t, c.Scope)
	})
}

func TestValid(t *testing.T) {
	c := &Credentials{AccessToken: "at", ExpiresIn: 3600, Scope: []string{"openid", "read:calendar"}, IssuedAt: now.Unix()}

	tests := []struct {
		name     string
		at       time.Time
		required []string
		want     bool
	}{
		{"fresh, no scopes required", now, nil, true},
		{"fresh, scopes covered", now.Add(time.Minute), []string{"read:calendar"}, true},
		{"scope missing", now, []string{"write:calendar"}, false},
		{"inside expiry margin", now.Add(3600*time.Second - ExpiryMargin), nil, false},
		{"just before margin", now.Add(3600*time.Second - ExpiryMargin - time.Second), nil, true},
		{"expired", now.Add(2 * time.Hour), nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Valid(tt.at, tt.required))
		})
	}

	t.Run("no lifetime never expires", func(t *testing.T) {
		forever := &Credentials{AccessToken: "at", IssuedAt: now.Unix()}
		assert.True(t, forever.Valid(now.Add(24*365*time.Hour), nil))
		assert.True(t, forever.ExpiresAt().IsZero())
	})

	t.Run("empty access token", func(t *testing.T) {
		assert.False(t, (&Credentials{IssuedAt: now.Unix()}).Valid(now, nil))
		var nilCreds *Credentials
		assert.False(t, nilCreds.Valid(now, nil))
	})
}

func TestTTL(t *testing.T) {
	assert.Equal(t, time.Hour, TTL(&Credentials{ExpiresIn: 3600}))
	assert.Equal(t, time.Duration(0), TTL(&Credentials{}))
	assert.Equal(t, time.Duration(0), TTL(nil))
}

func TestOAuth2Token(t *testing.T) {
	c := &Credentials{AccessToken: "at", IDToken: "idt", RefreshToken: "rt", TokenType: "Bearer",
		ExpiresIn: 60, Scope: []string{"a", "b"}, IssuedAt: now.Unix()}

	tok := c.OAuth2Token()
	assert.Equal(t, "at", tok.AccessToken)
	assert.Equal(t, "rt", tok.RefreshToken)
	assert.Equal(t, now.Add(time.Minute).Unix(), tok.Expiry.Unix())
	assert.Equal(t, "idt", tok.Extra("id_token"))
	assert.Equal(t, "a b", tok.Extra("scope"))
}

func TestHTTPClient(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	t.Cleanup(srv.Close)

	c := &Credentials{AccessToken: "at-123", TokenType: "Bearer", IssuedAt: time.Now().Unix(), ExpiresIn: 3600}
	resp, err := c.HTTPClient(context.Background()).Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "Bearer at-123", got)
}

func TestClaims(t *testing.T) {
	c := &Credentials{IDToken: unsignedJWT(`{"iss":"https://auth.example.com/","sub":"user-1","email":"u@example.com"}`)}

	claims, err := c.Claims()
	require.NoError(t, err)
	assert.Equal(t, "u@example.com", claims["email"])

	sub, err := c.Subject()
	require.NoError(t, err)
	assert.Equal(t, "user-1", sub)

	_, err = (&Credentials{}).Claims()
	assert.ErrorIs(t, err, ErrNoIDToken)

	_, err = (&Credentials{IDToken: "not-a-jwt"}).Claims()
	assert.Error(t, err)
}

func TestStringRedactsTokens(t *testing.T) {
	c := &Credentials{AccessToken: "secret-access", RefreshToken: "secret-refresh", TokenType: "Bearer", Scope: []string{"openid"}}

	for _, out := range []string{c.String(), fmt.Sprintf("%v", c), fmt.Sprintf("%#v", c), fmt.Sprintf("%+v", c)} {
		assert.NotContains(t, out, "secret-access")
		assert.NotContains(t, out, "secret-refresh")
		assert.Contains(t, out, "[REDACTED]")
	}
}

func TestContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	c := &Credentials{AccessToken: "at"}
	got, ok := FromContext(NewContext(context.Background(), c))
	require.True(t, ok)
	assert.Same(t, c, got)

	_, ok = FromContext(NewContext(context.Background(), nil))
	assert.False(t, ok)
}

func TestScopeHelpers(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, ParseScope("  a b "))
	assert.Empty(t, ParseScope(""))

	assert.Equal(t, []string{"read:calendar"}, Missing([]string{"read:calendar"}, []string{"read:profile"}))
	assert.Empty(t, Missing([]string{"a"}, []string{"a", "b"}))
	assert.Equal(t, []string{"x"}, Missing([]string{"x", "x"}, nil))

	assert.Equal(t, []string{"read:profile", "read:calendar"}, Union([]string{"read:profile"}, []string{"read:calendar"}))
	assert.Equal(t, []string{"a", "b"}, Union([]string{"a", "b", "a"}, []string{"b"}))
	assert.Equal(t, []string{}, Union(nil, nil))
}
