package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"toolauth/internal/interrupt"
	"toolauth/internal/oauth"
	"toolauth/internal/store"
	"toolauth/internal/testing/mock"
	"toolauth/internal/toolcall"
)

var testCall = toolcall.Context{ThreadID: "thread-1", ToolName: "whoami", ToolCallID: "call-1"}

// scriptedGrant answers polls from a queue of errors; an exhausted queue
// issues a token.
type scriptedGrant struct {
	starts   int
	polls    int
	startErr error
	outcomes []error

	// scopes are the grant's required scopes and tokenScope the scope the
	// issued token carries. They default to "openid" and "".
	scopes     []string
	tokenScope string
}

func (g *scriptedGrant) grant() Grant {
	scopes := g.scopes
	if scopes == nil {
		scopes = []string{"openid"}
	}
	return Grant{
		Protocol: interrupt.ProtocolCIBA,
		Codes:    interrupt.CIBACodes,
		Scopes:   scopes,
		Start: func(context.Context, toolcall.Context) (*interrupt.AuthorizationRequest, error) {
			g.starts++
			if g.startErr != nil {
				return nil, g.startErr
			}
			return &interrupt.AuthorizationRequest{ID: "req-1", ExpiresIn: 300, Interval: 5}, nil
		},
		Poll: func(context.Context, *interrupt.AuthorizationRequest) (*oauth.TokenResponse, error) {
			g.polls++
			if len(g.outcomes) > 0 {
				err := g.outcomes[0]
				g.outcomes = g.outcomes[1:]
				if err != nil {
					return nil, err
				}
			}
			return &oauth.TokenResponse{AccessToken: "at", TokenType: "Bearer", ExpiresIn: 3600, Scope: g.tokenScope}, nil
		},
	}
}

func providerError(code string) error {
	return &oauth2.RetrieveError{ErrorCode: code, Body: []byte(`{"error":"` + code + `"}`)}
}

func newTestPoller(t *testing.T, g *scriptedGrant) (*Poller, *mock.MockClock, *store.MemoryStore) {
	t.Helper()
	clk := mock.NewMockClock(time.Unix(1_700_000_000, 0))
	st, err := store.NewMemoryStore(store.WithClock(clk))
	require.NoError(t, err)
	t.Cleanup(st.Close)

	p, err := New(g.grant(), st, toolcall.ScopeToolCall, clk)
	require.NoError(t, err)
	return p, clk, st
}

func TestNew_Validation(t *testing.T) {
	st, err := store.NewMemoryStore()
	require.NoError(t, err)
	defer st.Close()

	_, err = New(Grant{}, st, toolcall.ScopeToolCall, nil)
	assert.Error(t, err)

	_, err = New(Grant{Protocol: "ciba"}, st, toolcall.ScopeToolCall, nil)
	assert.Error(t, err)

	g := &scriptedGrant{}
	_, err = New(g.grant(), nil, toolcall.ScopeToolCall, nil)
	assert.Error(t, err)
}

func TestAuthorize_PendingThenApproved(t *testing.T) {
	g := &scriptedGrant{outcomes: []error{providerError("authorization_pending")}}
	p, _, _ := newTestPoller(t, g)
	ctx := context.Background()

	_, err := p.Authorize(ctx, testCall)
	intr, ok := interrupt.As(err)
	require.True(t, ok)
	assert.Equal(t, interrupt.CIBAAuthorizationPending, intr.Code)
	assert.Equal(t, int64(5), intr.NextRetryInterval)
	require.NotNil(t, intr.Request)
	assert.Equal(t, "req-1", intr.Request.ID)

	pending, err := p.Pending(ctx, testCall)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, int64(1_700_000_000), pending.RequestedAt)

	creds, err := p.Authorize(ctx, testCall)
	require.NoError(t, err)
	assert.Equal(t, "at", creds.AccessToken)
	assert.Equal(t, []string{"openid"}, creds.Scope)
	assert.Equal(t, 1, g.starts, "the stored request is reused")
	assert.Equal(t, 2, g.polls)

	pending, err = p.Pending(ctx, testCall)
	require.NoError(t, err)
	assert.Nil(t, pending, "request is deleted after success")
}

func TestAuthorize_CacheHitMakesNoCalls(t *testing.T) {
	g := &scriptedGrant{}
	p, _, _ := newTestPoller(t, g)
	ctx := context.Background()

	_, err := p.Authorize(ctx, testCall)
	require.NoError(t, err)

	creds, err := p.Authorize(ctx, testCall)
	require.NoError(t, err)
	assert.Equal(t, "at", creds.AccessToken)
	assert.Equal(t, 1, g.starts)
	assert.Equal(t, 1, g.polls)
}

func TestAuthorize_StaleCredentialsAreEvicted(t *testing.T) {
	g := &scriptedGrant{}
	p, clk, _ := newTestPoller(t, g)
	ctx := context.Background()

	_, err := p.Authorize(ctx, testCall)
	require.NoError(t, err)

	clk.Advance(2 * time.Hour)
	cached, err := p.Cached(ctx, testCall)
	require.NoError(t, err)
	assert.Nil(t, cached)

	_, err = p.Authorize(ctx, testCall)
	require.NoError(t, err)
	assert.Equal(t, 2, g.starts, "a new request is started once credentials expire")
}

func TestAuthorize_ExpiredRequestIsDeletedWithoutPolling(t *testing.T) {
	g := &scriptedGrant{outcomes: []error{providerError("authorization_pending")}}
	p, clk, _ := newTestPoller(t, g)
	ctx := context.Background()

	_, err := p.Authorize(ctx, testCall)
	require.True(t, interrupt.IsInterrupt(err))
	require.Equal(t, 1, g.polls)

	clk.Advance(300 * time.Second)
	_, err = p.Authorize(ctx, testCall)
	intr, ok := interrupt.As(err)
	require.True(t, ok)
	assert.Equal(t, interrupt.CIBAAuthorizationRequestExpired, intr.Code)
	assert.Equal(t, 1, g.polls, "expiry is detected before any network call")

	pending, err := p.Pending(ctx, testCall)
	require.NoError(t, err)
	assert.Nil(t, pending)
}

func TestAuthorize_ErrorMapping(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    interrupt.Code
		wantDeleted bool
	}{
		{"access denied", providerError("access_denied"), interrupt.CIBAAccessDenied, true},
		{"expired token", providerError("expired_token"), interrupt.CIBAAuthorizationRequestExpired, true},
		{"invalid grant", providerError("invalid_grant"), interrupt.CIBAInvalidGrant, true},
		{"invalid request", providerError("invalid_request"), interrupt.CIBAInvalidRequest, true},
		{"unknown provider error", providerError("server_error"), interrupt.CIBAAuthorizationPollingError, false},
		{"transport failure", errors.New("connection refused"), interrupt.CIBAAuthorizationPollingError, false},
		{"pending", providerError("authorization_pending"), interrupt.CIBAAuthorizationPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &scriptedGrant{outcomes: []error{tt.err}}
			p, _, _ := newTestPoller(t, g)
			ctx := context.Background()

			_, err := p.Authorize(ctx, testCall)
			intr, ok := interrupt.As(err)
			require.True(t, ok, "expected interrupt, got %v", err)
			assert.Equal(t, tt.wantCode, intr.Code)

			pending, err := p.Pending(ctx, testCall)
			require.NoError(t, err)
			if tt.wantDeleted {
				assert.Nil(t, pending)
			} else {
				assert.NotNil(t, pending)
			}
		})
	}
}

func TestAuthorize_SlowDown(t *testing.T) {
	t.Run("server interval", func(t *testing.T) {
		slow := &oauth2.RetrieveError{ErrorCode: "slow_down", Body: []byte(`{"error":"slow_down","interval":12}`)}
		g := &scriptedGrant{outcomes: []error{slow}}
		p, _, _ := newTestPoller(t, g)

		_, err := p.Authorize(context.Background(), testCall)
		intr, ok := interrupt.As(err)
		require.True(t, ok)
		assert.Equal(t, interrupt.CIBASlowDown, intr.Code)
		assert.Equal(t, int64(12), intr.NextRetryInterval)
	})

	t.Run("stored interval plus increment", func(t *testing.T) {
		g := &scriptedGrant{outcomes: []error{providerError("slow_down")}}
		p, _, _ := newTestPoller(t, g)
		ctx := context.Background()

		_, err := p.Authorize(ctx, testCall)
		intr, ok := interrupt.As(err)
		require.True(t, ok)
		assert.Equal(t, int64(10), intr.NextRetryInterval)

		pending, err := p.Pending(ctx, testCall)
		require.NoError(t, err)
		require.NotNil(t, pending)
		assert.Equal(t, int64(5), pending.Interval, "stored interval is not rewritten")
	})
}

func TestAuthorize_StartInterruptPassesThrough(t *testing.T) {
	g := &scriptedGrant{startErr: interrupt.MissingCapability(interrupt.CIBAUserDoesNotHavePushNotifications, interrupt.ProtocolCIBA, "")}
	p, _, _ := newTestPoller(t, g)

	_, err := p.Authorize(context.Background(), testCall)
	intr, ok := interrupt.As(err)
	require.True(t, ok)
	assert.Equal(t, interrupt.CIBAUserDoesNotHavePushNotifications, intr.Code)
	assert.Equal(t, 0, g.polls)
}

func TestAuthorize_UnderScopedTokenIsNotCached(t *testing.T) {
	g := &scriptedGrant{scopes: []string{"openid", "read:calendar"}, tokenScope: "openid"}
	p, _, _ := newTestPoller(t, g)
	ctx := context.Background()

	creds, err := p.Authorize(ctx, testCall)
	assert.Nil(t, creds)
	intr, ok := interrupt.As(err)
	require.True(t, ok, "expected interrupt, got %v", err)
	assert.Equal(t, interrupt.CIBAInsufficientScope, intr.Code)
	assert.Equal(t, interrupt.KindInsufficientScope, intr.Kind())
	assert.Equal(t, []string{"openid"}, intr.Scopes)
	assert.Equal(t, []string{"openid", "read:calendar"}, intr.RequiredScopes)

	cached, err := p.Cached(ctx, testCall)
	require.NoError(t, err)
	assert.Nil(t, cached)

	pending, err := p.Pending(ctx, testCall)
	require.NoError(t, err)
	assert.Nil(t, pending)
}

func TestAuthorize_HostStartErrorIsNotAnInterrupt(t *testing.T) {
	resolverErr := errors.New("no user bound to thread")
	g := &scriptedGrant{startErr: HostError(resolverErr)}
	p, _, _ := newTestPoller(t, g)

	_, err := p.Authorize(context.Background(), testCall)
	require.Error(t, err)
	assert.False(t, interrupt.IsInterrupt(err))
	assert.ErrorIs(t, err, resolverErr)
	assert.Equal(t, 0, g.polls)
}

func TestAuthorize_StartTransportErrorIsPollingError(t *testing.T) {
	g := &scriptedGrant{startErr: errors.New("dial tcp: connection refused")}
	p, _, _ := newTestPoller(t, g)

	_, err := p.Authorize(context.Background(), testCall)
	intr, ok := interrupt.As(err)
	require.True(t, ok)
	assert.Equal(t, interrupt.CIBAAuthorizationPollingError, intr.Code)
}

func TestAuthorize_CancelledContextIsNotAnInterrupt(t *testing.T) {
	g := &scriptedGrant{startErr: errors.New("dial failed")}
	p, _, _ := newTestPoller(t, g)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Authorize(ctx, testCall)
	require.Error(t, err)
	assert.False(t, interrupt.IsInterrupt(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEvict(t *testing.T) {
	g := &scriptedGrant{}
	p, _, _ := newTestPoller(t, g)
	ctx := context.Background()

	_, err := p.Authorize(ctx, testCall)
	require.NoError(t, err)
	require.NoError(t, p.Evict(ctx, testCall))

	cached, err := p.Cached(ctx, testCall)
	require.NoError(t, err)
	assert.Nil(t, cached)
}
