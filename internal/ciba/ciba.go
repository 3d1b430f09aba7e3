// Package ciba authorizes tool calls with OpenID Connect Client-Initiated
// Backchannel Authentication in poll mode. The user approves a push
// notification on their own device while the tool call is paused.
package ciba

import (
	"context"
	"errors"
	"fmt"
	"strings"

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

	// UserID is the subject the request is sent to. Required.
	UserID protect.Value
	// BindingMessage is shown on the user's device. Defaults to a message
	// naming the tool.
	BindingMessage protect.Value
	// RequestedExpiry asks the server for a request lifetime in seconds.
	RequestedExpiry int

	// CredentialsScope selects which invocations share the credentials.
	// Defaults to toolcall.ScopeToolCall.
	CredentialsScope toolcall.Scope

	Clock clock.Clock
}

// Authorizer runs the CIBA flow for protected tools.
type Authorizer struct {
	config Config
	poller *poller.Poller
}

// New validates config and returns an Authorizer.
func New(config Config) (*Authorizer, error) {
	if config.Client == nil {
		return nil, errors.New("ciba: oauth client is required")
	}
	if config.UserID.IsZero() {
		return nil, errors.New("ciba: user ID is required")
	}
	if len(config.Scopes) == 0 {
		config.Scopes = DefaultScopes
	}
	if config.CredentialsScope == "" {
		config.CredentialsScope = toolcall.ScopeToolCall
	}

	a := &Authorizer{config: config}
	p, err := poller.New(poller.Grant{
		Protocol: interrupt.ProtocolCIBA,
		Codes:    interrupt.CIBACodes,
		Scopes:   config.Scopes,
		Start:    a.start,
		Poll:     a.poll,
	}, config.Store, config.CredentialsScope, config.Clock)
	if err != nil {
		return nil, fmt.Errorf("ciba: %w", err)
	}
	a.poller = p
	return a, nil
}

// Protocol implements protect.Flow.
func (a *Authorizer) Protocol() string {
	return interrupt.ProtocolCIBA
}

// Authorize implements protect.Flow.
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
	userID, err := a.config.UserID.Resolve(ctx, call)
	if err != nil {
		return nil, poller.HostError(fmt.Errorf("failed to resolve user ID: %w", err))
	}
	if userID == "" {
		return nil, poller.HostError(errors.New("resolved user ID is empty"))
	}

	message, err := a.bindingMessage(ctx, call)
	if err != nil {
		return nil, poller.HostError(err)
	}

	resp, err := a.config.Client.BackchannelAuthorize(ctx, oauth.BackchannelRequest{
		Scopes:          a.config.Scopes,
		BindingMessage:  message,
		LoginHint:       oauth.NewLoginHint(a.config.Client.Issuer(), userID),
		Audience:        a.config.Audience,
		RequestedExpiry: a.config.RequestedExpiry,
	})
	if err != nil {
		if missingCapability(err) {
			return nil, interrupt.MissingCapability(interrupt.CIBAUserDoesNotHavePushNotifications,
				interrupt.ProtocolCIBA, oauth.ErrorDescription(err))
		}
		return nil, err
	}

	logging.Info("CIBA", "Sent authorization request for %s to user (call=%s)",
		call.ToolName, logging.TruncateID(call.ToolCallID))
	return &interrupt.AuthorizationRequest{
		ID:        resp.AuthReqID,
		ExpiresIn: resp.ExpiresIn,
		Interval:  resp.Interval,
	}, nil
}

func (a *Authorizer) poll(ctx context.Context, req *interrupt.AuthorizationRequest) (*oauth.TokenResponse, error) {
	return a.config.Client.PollBackchannel(ctx, req.ID)
}

func (a *Authorizer) bindingMessage(ctx context.Context, call toolcall.Context) (string, error) {
	if a.config.BindingMessage.IsZero() {
		return "Authorize " + call.ToolName, nil
	}
	message, err := a.config.BindingMessage.Resolve(ctx, call)
	if err != nil {
		return "", fmt.Errorf("failed to resolve binding message: %w", err)
	}
	return message, nil
}

// missingCapability reports whether an authorize error means the user has
// no device able to receive the request. Providers report this as
// invalid_request with a description naming push notifications.
func missingCapability(err error) bool {
	if oauth.ErrorCode(err) != "invalid_request" {
		return false
	}
	return strings.Contains(strings.ToLower(oauth.ErrorDescription(err)), "push")
}

// Protect wraps tool with a.
func Protect[A, R any](a *Authorizer, resolve toolcall.Resolver[A], tool protect.Tool[A, R], opts protect.Options[R]) protect.Tool[A, R] {
	return protect.Wrap(a, resolve, tool, opts)
}
