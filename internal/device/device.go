// Package device authorizes tool calls with the OAuth 2.0 Device
// Authorization Grant (RFC 8628). The interrupt carries the user code and
// verification URI the host must show to the user.
package device

import (
	"context"
	"errors"
	"fmt"

	"toolauth/internal/clock"
	"toolauth/internal/credentials"
	"toolauth/internal/interrupt"
	"toolauth/internal/oauth"
	"toolauth/internal/poller"
	"toolauth/internal/protect"
	"toolauth/internal/store"
	"toolauth/internal/toolcall"
	"toolauth/pkg/logging"
)

// DefaultScopes are requested when Config.Scopes is empty.
var DefaultScopes = []string{"openid"}

// Config configures an Authorizer.
type Config struct {
	Client *oauth.Client
	Store  store.Store

	Scopes   []string
	Audience string

	// CredentialsScope selects which invocations share the credentials.
	// Defaults to toolcall.ScopeToolCall.
	CredentialsScope toolcall.Scope

	Clock clock.Clock
}

// Authorizer runs the device flow for protected tools.
type Authorizer struct {
	config Config
	poller *poller.Poller
}

func New(config Config) (*Authorizer, error) {
	if config.Client == nil {
		return nil, errors.New("device: oauth client is required")
	}
	if len(config.Scopes) == 0 {
		config.Scopes = DefaultScopes
	}
	if config.CredentialsScope == "" {
		config.CredentialsScope = toolcall.ScopeToolCall
	}

	a := &Authorizer{config: config}
	p, err := poller.New(poller.Grant{
		Protocol: interrupt.ProtocolDevice,
		Codes:    interrupt.DeviceCodes,
		Scopes:   config.Scopes,
		Start:    a.start,
		Poll:     a.poll,
	}, config.Store, config.CredentialsScope, config.Clock)
	if err != nil {
		return nil, fmt.Errorf("device: %w", err)
	}
	a.poller = p
	return a, nil
}

func (a *Authorizer) Protocol() string {
	return interrupt.ProtocolDevice
}

func (a *Authorizer) Authorize(ctx context.Context, call toolcall.Context) (*credentials.Credentials, error) {
	return a.poller.Authorize(ctx, call)
}

// Pending returns the stored pending request for call, if any.
func (a *Authorizer) Pending(ctx context.Context, call toolcall.Context) (*interrupt.AuthorizationRequest, error) {
	return a.poller.Pending(ctx, call)
}

// Evict forgets the credentials call would use.
func (a *Authorizer) Evict(ctx context.Context, call toolcall.Context) error {
	return a.poller.Evict(ctx, call)
}

func (a *Authorizer) start(ctx context.Context, call toolcall.Context) (*interrupt.AuthorizationRequest, error) {
	resp, err := a.config.Client.DeviceAuthorize(ctx, oauth.DeviceRequest{
		Scopes:   a.config.Scopes,
		Audience: a.config.Audience,
	})
	if err != nil {
		return nil, err
	}

	logging.Info("Device", "Started device authorization for %s (call=%s, user_code=%s)",
		call.ToolName, logging.TruncateID(call.ToolCallID), resp.UserCode)
	return &interrupt.AuthorizationRequest{
		DeviceCode:              resp.DeviceCode,
		UserCode:                resp.UserCode,
		VerificationURI:         resp.VerificationURI,
		VerificationURIComplete: resp.VerificationURIComplete,
		ExpiresIn:               resp.ExpiresIn,
		Interval:                resp.Interval,
	}, nil
}

func (a *Authorizer) poll(ctx context.Context, req *interrupt.AuthorizationRequest) (*oauth.TokenResponse, error) {
	return a.config.Client.PollDevice(ctx, req.DeviceCode)
}

// Protect wraps tool with a.
func Protect[A, R any](a *Authorizer, resolve toolcall.Resolver[A], tool protect.Tool[A, R], opts protect.Options[R]) protect.Tool[A, R] {
	return protect.Wrap(a, resolve, tool, opts)
}
