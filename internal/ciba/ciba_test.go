package ciba

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolauth/internal/credentials"
	"toolauth/internal/interrupt"
	"toolauth/internal/oauth"
	"toolauth/internal/protect"
	"toolauth/internal/store"
	"toolauth/internal/testing/mock"
	"toolauth/internal/toolcall"
)

var testCall = toolcall.Context{ThreadID: "thread-1", ToolName: "whoami", ToolCallID: "call-1"}

// countingTransport counts every HTTP round trip, discovery included.
type countingTransport struct {
	n atomic.Int64
}

func (c *countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	c.n.Add(1)
	return http.DefaultTransport.RoundTrip(r)
}

type fixture struct {
	server    *mock.OAuthServer
	clock     *mock.MockClock
	store     *store.MemoryStore
	transport *countingTransport
	auth      *Authorizer
}

func newFixture(t *testing.T, mutate func(*Config), serverConfig mock.OAuthServerConfig) *fixture {
	t.Helper()
	clk := mock.NewMockClock(time.Now())
	serverConfig.Clock = clk
	srv := mock.NewOAuthServer(serverConfig)
	t.Cleanup(srv.Close)

	transport := &countingTransport{}
	client, err := oauth.NewClient(oauth.Config{
		Issuer:     srv.URL(),
		ClientID:   srv.ClientID(),
		HTTPClient: &http.Client{Transport: transport},
	})
	require.NoError(t, err)

	st, err := store.NewMemoryStore(store.WithClock(clk))
	require.NoError(t, err)
	t.Cleanup(st.Close)

	config := Config{
		Client: client,
		Store:  st,
		UserID: protect.Static("user-123"),
		Clock:  clk,
	}
	if mutate != nil {
		mutate(&config)
	}
	auth, err := New(config)
	require.NoError(t, err)

	return &fixture{server: srv, clock: clk, store: st, transport: transport, auth: auth}
}

type whoami struct {
	runs atomic.Int32
}

func TestProtect_UnauthorizedClientIsNotMissingCapability(t *testing.T) {
	f := newFixture(t, nil, mock.OAuthServerConfig{})
	f.server.ScriptAuthorize(mock.Outcome{Error: "unauthorized_client", Description: "client may not use CIBA"})

	_, err := f.auth.Authorize(context.Background(), testCall)
	intr, ok := interrupt.As(err)
	require.True(t, ok)
	assert.Equal(t, interrupt.CIBAAuthorizationPollingError, intr.Code)
}

func TestProtect_UnderScopedTokenNeverReachesTool(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.Scopes = []string{"openid", "read:calendar"}
	}, mock.OAuthServerConfig{})
	f.server.ScriptPolls(mock.Outcome{Scope: "openid"})

	tool := &whoami{}
	wrapped := Protect(f.auth, toolcall.Static[struct{}](testCall), tool.run, protect.Options[string]{})
	ctx := context.Background()

	_, err := wrapped(ctx, struct{}{})
	intr, ok := interrupt.As(err)
	require.True(t, ok, "expected interrupt, got %v", err)
	assert.Equal(t, interrupt.CIBAInsufficientScope, intr.Code)
	assert.Equal(t, []string{"openid"}, intr.Scopes)
	assert.Equal(t, []string{"openid", "read:calendar"}, intr.RequiredScopes)
	assert.Equal(t, int32(0), tool.runs.Load())

	pending, err := f.auth.Pending(ctx, testCall)
	require.NoError(t, err)
	assert.Nil(t, pending)

	cached, err := f.auth.poller.Cached(ctx, testCall)
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestAuthorize_UserIDResolverErrorIsNotAnInterrupt(t *testing.T) {
	resolverErr := errors.New("thread has no user")
	f := newFixture(t, func(c *Config) {
		c.UserID = protect.FromFunc(func(context.Context, toolcall.Context) (string, error) {
			return "", resolverErr
		})
	}, mock.OAuthServerConfig{})

	_, err := f.auth.Authorize(context.Background(), testCall)
	require.Error(t, err)
	assert.False(t, interrupt.IsInterrupt(err))
	assert.ErrorIs(t, err, resolverErr)
	assert.Empty(t, f.server.Requests(mock.PathBackchannel))
}

func TestAuthorize_EmptyUserIDIsNotAnInterrupt(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.UserID = protect.FromFunc(func(context.Context, toolcall.Context) (string, error) {
			return "", nil
		})
	}, mock.OAuthServerConfig{})

	_, err := f.auth.Authorize(context.Background(), testCall)
	require.Error(t, err)
	assert.False(t, interrupt.IsInterrupt(err))
	assert.ErrorContains(t, err, "user ID is empty")
}

func TestProtect_SeparateAuthorizersDoNotBlockEachOther(t *testing.T) {
	outerAuth := newFixture(t, nil, mock.OAuthServerConfig{})
	innerAuth := newFixture(t, nil, mock.OAuthServerConfig{})
	outerAuth.server.ScriptPolls(mock.Approved)
	innerAuth.server.ScriptPolls(mock.Approved)

	tool := &whoami{}
	inner := Protect(innerAuth.auth, toolcall.Static[struct{}](testCall), tool.run, protect.Options[string]{})
	outer := Protect(outerAuth.auth, toolcall.Static[struct{}](testCall), func(ctx context.Context, args struct{}) (string, error) {
		return inner(ctx, args)
	}, protect.Options[string]{})

	subject, err := outer(context.Background(), struct{}{})
	require.NoError(t, err)
	assert.Equal(t, "user-123", subject)
	assert.Equal(t, int32(1), tool.runs.Load())
}

func (w *whoami) run(ctx context.Context, _ struct{}) (string, error) {
	w.runs.Add(1)
	creds, ok := credentials.FromContext(ctx)
	if !ok {
		return "", assert.AnError
	}
	return creds.Subject()
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{UserID: protect.Static("u")})
	assert.Error(t, err)

	client, err := oauth.NewClient(oauth.Config{Issuer: "https://auth.example.com", ClientID: "c"})
	require.NoError(t, err)
	_, err = New(Config{Client: client})
	assert.ErrorContains(t, err, "user ID")

	_, err = New(Config{Client: client, UserID: protect.Static("u")})
	assert.ErrorContains(t, err, "store")
}

// Two pending polls and an approval: the tool runs once, on the third
// invocation, and the pending request is gone afterwards.
func TestProtect_PendingThenApproved(t *testing.T) {
	f := newFixture(t, nil, mock.OAuthServerConfig{})
	f.server.ScriptPolls(mock.Pending, mock.Pending, mock.Approved)

	tool := &whoami{}
	wrapped := Protect(f.auth, toolcall.Static[struct{}](testCall), tool.run, protect.Options[string]{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := wrapped(ctx, struct{}{})
		intr, ok := interrupt.As(err)
		require.True(t, ok, "invocation %d: %v", i, err)
		assert.Equal(t, interrupt.CIBAAuthorizationPending, intr.Code)
		assert.Equal(t, interrupt.Name, intr.Name)
		require.NotNil(t, intr.Request)
		assert.NotEmpty(t, intr.Request.ID)
		assert.Equal(t, int64(5), intr.NextRetryInterval)
	}
	assert.Equal(t, int32(0), tool.runs.Load())

	subject, err := wrapped(ctx, struct{}{})
	require.NoError(t, err)
	assert.Equal(t, "user-123", subject)
	assert.Equal(t, int32(1), tool.runs.Load())

	assert.Len(t, f.server.Requests(mock.PathBackchannel), 1, "the request is started once")
	assert.Len(t, f.server.Requests(mock.PathToken+"#"+oauth.GrantTypeCIBA), 3)

	pending, err := f.auth.Pending(ctx, testCall)
	require.NoError(t, err)
	assert.Nil(t, pending)
}

func TestProtect_PendingInterruptCarriesUnmodifiedRequest(t *testing.T) {
	f := newFixture(t, nil, mock.OAuthServerConfig{RequestExpiresIn: 120, Interval: 7})
	ctx := context.Background()

	_, err := f.auth.Authorize(ctx, testCall)
	first, ok := interrupt.As(err)
	require.True(t, ok)

	f.clock.Advance(30 * time.Second)
	_, err = f.auth.Authorize(ctx, testCall)
	second, ok := interrupt.As(err)
	require.True(t, ok)

	assert.Equal(t, first.Request, second.Request)
	assert.Equal(t, int64(120), second.Request.ExpiresIn)
	assert.Equal(t, int64(7), second.Request.Interval)
	assert.Equal(t, f.clock.Now().Add(-30*time.Second).Unix(), second.Request.RequestedAt)
}

func TestProtect_AccessDenied(t *testing.T) {
	f := newFixture(t, nil, mock.OAuthServerConfig{})
	f.server.ScriptPolls(mock.Outcome{Error: "access_denied", Description: "The end-user denied the authorization request"})

	tool := &whoami{}
	wrapped := Protect(f.auth, toolcall.Static[struct{}](testCall), tool.run, protect.Options[string]{})
	ctx := context.Background()

	_, err := wrapped(ctx, struct{}{})
	intr, ok := interrupt.As(err)
	require.True(t, ok)
	assert.Equal(t, interrupt.CIBAAccessDenied, intr.Code)
	assert.Contains(t, intr.Message, "denied")
	assert.Equal(t, int32(0), tool.runs.Load())

	pending, err := f.auth.Pending(ctx, testCall)
	require.NoError(t, err)
	assert.Nil(t, pending, "a denied request is deleted")

	// The next invocation starts over.
	_, err = wrapped(ctx, struct{}{})
	intr, ok = interrupt.As(err)
	require.True(t, ok)
	assert.Equal(t, interrupt.CIBAAuthorizationPending, intr.Code)
	assert.Len(t, f.server.Requests(mock.PathBackchannel), 2)
}

func TestProtect_CacheHitMakesNoNetworkCalls(t *testing.T) {
	f := newFixture(t, nil, mock.OAuthServerConfig{})
	f.server.ScriptPolls(mock.Approved)

	tool := &whoami{}
	wrapped := Protect(f.auth, toolcall.Static[struct{}](testCall), tool.run, protect.Options[string]{})
	ctx := context.Background()

	_, err := wrapped(ctx, struct{}{})
	require.NoError(t, err)

	before := f.transport.n.Load()
	for i := 0; i < 3; i++ {
		_, err := wrapped(ctx, struct{}{})
		require.NoError(t, err)
	}
	assert.Equal(t, before, f.transport.n.Load())
	assert.Equal(t, int32(4), tool.runs.Load())
}

func TestProtect_ExpiredRequestMakesNoNetworkCall(t *testing.T) {
	f := newFixture(t, nil, mock.OAuthServerConfig{RequestExpiresIn: 60})
	ctx := context.Background()

	_, err := f.auth.Authorize(ctx, testCall)
	require.True(t, interrupt.IsInterrupt(err))

	f.clock.Advance(60 * time.Second)
	before := f.transport.n.Load()
	_, err = f.auth.Authorize(ctx, testCall)
	intr, ok := interrupt.As(err)
	require.True(t, ok)
	assert.Equal(t, interrupt.CIBAAuthorizationRequestExpired, intr.Code)
	assert.Equal(t, before, f.transport.n.Load())

	pending, err := f.auth.Pending(ctx, testCall)
	require.NoError(t, err)
	assert.Nil(t, pending)
}

func TestProtect_SlowDown(t *testing.T) {
	f := newFixture(t, nil, mock.OAuthServerConfig{})
	f.server.ScriptPolls(mock.SlowDown, mock.Outcome{Error: "slow_down", Interval: 20})
	ctx := context.Background()

	_, err := f.auth.Authorize(ctx, testCall)
	intr, ok := interrupt.As(err)
	require.True(t, ok)
	assert.Equal(t, interrupt.CIBASlowDown, intr.Code)
	assert.Equal(t, int64(10), intr.NextRetryInterval)

	_, err = f.auth.Authorize(ctx, testCall)
	intr, ok = interrupt.As(err)
	require.True(t, ok)
	assert.Equal(t, int64(20), intr.NextRetryInterval)

	pending, err := f.auth.Pending(ctx, testCall)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, int64(5), pending.Interval)
}

func TestProtect_MissingCapability(t *testing.T) {
	f := newFixture(t, nil, mock.OAuthServerConfig{})
	f.server.ScriptAuthorize(mock.Outcome{Error: "invalid_request", Description: "User does not have push notifications enabled"})

	_, err := f.auth.Authorize(context.Background(), testCall)
	intr, ok := interrupt.As(err)
	require.True(t, ok)
	assert.Equal(t, interrupt.CIBAUserDoesNotHavePushNotifications, intr.Code)
	assert.True(t, intr.Kind().Terminal())
}

func TestProtect_ServerErrorKeepsRequest(t *testing.T) {
	f := newFixture(t, nil, mock.OAuthServerConfig{})
	f.server.ScriptPolls(mock.Outcome{Status: http.StatusBadGateway}, mock.Approved)
	ctx := context.Background()

	_, err := f.auth.Authorize(ctx, testCall)
	intr, ok := interrupt.As(err)
	require.True(t, ok)
	assert.Equal(t, interrupt.CIBAAuthorizationPollingError, intr.Code)

	creds, err := f.auth.Authorize(ctx, testCall)
	require.NoError(t, err)
	assert.NotEmpty(t, creds.AccessToken)
	assert.Len(t, f.server.Requests(mock.PathBackchannel), 1)
}

func TestAuthorize_RequestParameters(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.Scopes = []string{"openid", "read:calendar"}
		c.Audience = "https://api.example.com"
		c.RequestedExpiry = 120
		c.UserID = protect.FromFunc(func(_ context.Context, call toolcall.Context) (string, error) {
			return "user-of-" + call.ThreadID, nil
		})
		c.BindingMessage = protect.Static("Approve calendar access")
	}, mock.OAuthServerConfig{})

	_, err := f.auth.Authorize(context.Background(), testCall)
	require.True(t, interrupt.IsInterrupt(err))

	forms := f.server.Requests(mock.PathBackchannel)
	require.Len(t, forms, 1)
	form := forms[0]
	assert.Equal(t, "openid read:calendar", form.Get("scope"))
	assert.Equal(t, "https://api.example.com", form.Get("audience"))
	assert.Equal(t, "120", form.Get("requested_expiry"))
	assert.Equal(t, "Approve calendar access", form.Get("binding_message"))

	var hint oauth.LoginHint
	require.NoError(t, json.Unmarshal([]byte(form.Get("login_hint")), &hint))
	assert.Equal(t, "iss_sub", hint.Format)
	assert.Equal(t, f.server.URL(), hint.Issuer)
	assert.Equal(t, "user-of-thread-1", hint.Sub)
}

func TestAuthorize_DefaultBindingMessage(t *testing.T) {
	f := newFixture(t, nil, mock.OAuthServerConfig{})

	_, err := f.auth.Authorize(context.Background(), testCall)
	require.True(t, interrupt.IsInterrupt(err))

	forms := f.server.Requests(mock.PathBackchannel)
	require.Len(t, forms, 1)
	assert.Equal(t, "Authorize whoami", forms[0].Get("binding_message"))
}

func TestProtect_ThreadScopedCredentials(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.CredentialsScope = toolcall.ScopeThread }, mock.OAuthServerConfig{})
	f.server.ScriptPolls(mock.Approved)
	ctx := context.Background()

	_, err := f.auth.Authorize(ctx, testCall)
	require.NoError(t, err)

	sibling := toolcall.Context{ThreadID: "thread-1", ToolName: "calendar", ToolCallID: "call-9"}
	_, err = f.auth.Authorize(ctx, sibling)
	require.NoError(t, err)

	stranger := toolcall.Context{ThreadID: "thread-2", ToolName: "whoami", ToolCallID: "call-1"}
	_, err = f.auth.Authorize(ctx, stranger)
	assert.True(t, interrupt.IsInterrupt(err))
	assert.Len(t, f.server.Requests(mock.PathBackchannel), 2)
}

func TestProtect_BlockMode(t *testing.T) {
	f := newFixture(t, nil, mock.OAuthServerConfig{Interval: 1})
	f.server.ScriptPolls(mock.Pending, mock.Approved)

	tool := &whoami{}
	var announced atomic.Int32
	wrapped := Protect(f.auth, toolcall.Static[struct{}](testCall), tool.run, protect.Options[string]{
		Mode: protect.ModeBlock,
		OnAuthorizationRequest: func(context.Context, toolcall.Context, *interrupt.Interrupt) {
			announced.Add(1)
		},
	})

	subject, err := wrapped(context.Background(), struct{}{})
	require.NoError(t, err)
	assert.Equal(t, "user-123", subject)
	assert.Equal(t, int32(1), tool.runs.Load())
	assert.Equal(t, int32(1), announced.Load())
}

func TestProtect_BlockModeDenied(t *testing.T) {
	f := newFixture(t, nil, mock.OAuthServerConfig{Interval: 1})
	f.server.ScriptPolls(mock.Pending, mock.Outcome{Error: "access_denied"})

	tool := &whoami{}
	wrapped := Protect(f.auth, toolcall.Static[struct{}](testCall), tool.run, protect.Options[string]{
		Mode: protect.ModeBlock,
		OnUnauthorized: func(_ context.Context, _ toolcall.Context, intr *interrupt.Interrupt) (string, error) {
			return "denied: " + string(intr.Code), nil
		},
	})

	result, err := wrapped(context.Background(), struct{}{})
	require.NoError(t, err)
	assert.Equal(t, "denied: CIBA_ACCESS_DENIED", result)
	assert.Equal(t, int32(0), tool.runs.Load())
}
