// Package federated obtains access tokens for third-party connections by
// exchanging the user's refresh or access token at the authorization server
// (federated connection access tokens, also offered as a token vault).
//
// No out-of-band step is involved: a failed exchange or a token lacking
// scopes produces an interrupt telling the host which connection needs
// (re-)consent and which scopes to request.
package federated

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/singleflight"

	"toolauth/internal/clock"
	"toolauth/internal/credentials"
	"toolauth/internal/interrupt"
	"toolauth/internal/metrics"
	"toolauth/internal/oauth"
	"toolauth/internal/protect"
	"toolauth/internal/store"
	"toolauth/internal/toolcall"
	"toolauth/pkg/logging"
)

const credentialsKey = "credentials"

// ErrToolUnauthorized is wrapped by tools whose upstream API rejected the
// connection token. Such errors evict the cached token and become an
// interrupt.
var ErrToolUnauthorized = errors.New("connection token was rejected")

// Variant selects the protocol name and interrupt codes.
type Variant string

const (
	VariantFederatedConnection Variant = interrupt.ProtocolFederatedConnection
	VariantTokenVault          Variant = interrupt.ProtocolTokenVault
)

func (v Variant) codes() (errCode, scopeCode interrupt.Code) {
	if v == VariantTokenVault {
		return interrupt.TokenVaultError, interrupt.TokenVaultInsufficientScope
	}
	return interrupt.FederatedConnectionError, interrupt.FederatedConnectionInsufficientScope
}

// Config configures an Authorizer.
type Config struct {
	Client *oauth.Client
	Store  store.Store

	// Connection is the upstream connection name, e.g. "google-oauth2".
	Connection string
	// Scopes the connection token must carry.
	Scopes []string

	// RefreshToken or AccessToken supplies the subject token. When both are
	// set SubjectTokenType picks one; it defaults to the refresh token.
	RefreshToken     protect.Value
	AccessToken      protect.Value
	SubjectTokenType string

	// LoginHint optionally selects the upstream account.
	LoginHint protect.Value

	Variant Variant

	// CredentialsScope selects which invocations share the connection token.
	// Defaults to toolcall.ScopeThread.
	CredentialsScope toolcall.Scope

	// IsToolAuthError recognises tool errors caused by the connection token.
	// Defaults to errors.Is(err, ErrToolUnauthorized).
	IsToolAuthError func(error) bool

	Clock clock.Clock
}

// Authorizer exchanges tokens for one connection.
type Authorizer struct {
	config Config
	clock  clock.Clock
	creds  *store.SubStore[*credentials.Credentials]
	group  singleflight.Group
}

// New validates config and returns an Authorizer.
func New(config Config) (*Authorizer, error) {
	if config.Client == nil {
		return nil, errors.New("federated: oauth client is required")
	}
	if config.Store == nil {
		return nil, errors.New("federated: store is required")
	}
	if config.Connection == "" {
		return nil, errors.New("federated: connection is required")
	}
	if config.RefreshToken.IsZero() && config.AccessToken.IsZero() {
		return nil, errors.New("federated: a refresh token or access token is required")
	}
	switch config.SubjectTokenType {
	case "":
		if config.RefreshToken.IsZero() {
			config.SubjectTokenType = oauth.TokenTypeAccessToken
		} else {
			config.SubjectTokenType = oauth.TokenTypeRefreshToken
		}
	case oauth.TokenTypeRefreshToken:
		if config.RefreshToken.IsZero() {
			return nil, errors.New("federated: subject token type is refresh token but no refresh token is configured")
		}
	case oauth.TokenTypeAccessToken:
		if config.AccessToken.IsZero() {
			return nil, errors.New("federated: subject token type is access token but no access token is configured")
		}
	default:
		return nil, fmt.Errorf("federated: unsupported subject token type %q", config.SubjectTokenType)
	}
	switch config.Variant {
	case "":
		config.Variant = VariantFederatedConnection
	case VariantFederatedConnection, VariantTokenVault:
	default:
		return nil, fmt.Errorf("federated: unknown variant %q", config.Variant)
	}
	if config.CredentialsScope == "" {
		config.CredentialsScope = toolcall.ScopeThread
	}
	if config.IsToolAuthError == nil {
		config.IsToolAuthError = func(err error) bool { return errors.Is(err, ErrToolUnauthorized) }
	}

	return &Authorizer{
		config: config,
		clock:  clock.OrReal(config.Clock),
		creds:  store.NewSubStore(config.Store, []string{string(config.Variant), "credentials"}, credentials.TTL),
	}, nil
}

// Protocol implements protect.Flow.
func (a *Authorizer) Protocol() string {
	return string(a.config.Variant)
}

// Connection returns the connection name.
func (a *Authorizer) Connection() string {
	return a.config.Connection
}

func (a *Authorizer) namespace(call toolcall.Context) []string {
	return append([]string{a.config.Connection}, a.config.CredentialsScope.Namespace(call)...)
}

// Authorize implements protect.Flow. It returns a cached connection token or
// performs one exchange.
func (a *Authorizer) Authorize(ctx context.Context, call toolcall.Context) (*credentials.Credentials, error) {
	ns := a.namespace(call)
	cached, found, err := a.creds.Get(ctx, ns, credentialsKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load cached %s credentials: %w", a.Protocol(), err)
	}
	if found && cached != nil {
		if cached.Valid(a.clock.Now(), a.config.Scopes) {
			metrics.IncCredentialLookup(a.Protocol(), metrics.LookupHit)
			return cached, nil
		}
		metrics.IncCredentialLookup(a.Protocol(), metrics.LookupStale)
		if err := a.creds.Delete(ctx, ns, credentialsKey); err != nil {
			return nil, fmt.Errorf("failed to evict stale %s credentials: %w", a.Protocol(), err)
		}
	} else {
		metrics.IncCredentialLookup(a.Protocol(), metrics.LookupMiss)
	}

	v, err, shared := a.group.Do(store.EncodeKey(ns, credentialsKey), func() (interface{}, error) {
		return a.exchange(ctx, call, ns)
	})
	if shared {
		logging.Debug("Federated", "Joined in-flight exchange for connection=%s", a.config.Connection)
	}
	if err != nil {
		return nil, err
	}
	return v.(*credentials.Credentials), nil
}

func (a *Authorizer) exchange(ctx context.Context, call toolcall.Context, ns []string) (*credentials.Credentials, error) {
	errCode, scopeCode := a.config.Variant.codes()

	subject, err := a.subjectToken(ctx, call)
	if err != nil {
		return nil, err
	}
	if subject == "" {
		return nil, interrupt.AuthorizationRequired(errCode, a.Protocol(), a.config.Connection, nil, a.config.Scopes,
			"no subject token is available for the exchange")
	}

	req := &oauth.TokenExchangeRequest{
		SubjectToken:     subject,
		SubjectTokenType: a.config.SubjectTokenType,
		Connection:       a.config.Connection,
	}
	if !a.config.LoginHint.IsZero() {
		if req.LoginHint, err = a.config.LoginHint.Resolve(ctx, call); err != nil {
			return nil, fmt.Errorf("failed to resolve login hint: %w", err)
		}
	}

	resp, err := a.config.Client.ExchangeToken(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("exchanging token for %s: %w", a.config.Connection, ctx.Err())
		}
		desc := oauth.ErrorDescription(err)
		if desc == "" {
			desc = err.Error()
		}
		a.audit("exchange_failed", "failure", call, oauth.ErrorCode(err))
		return nil, interrupt.AuthorizationRequired(errCode, a.Protocol(), a.config.Connection, nil, a.config.Scopes, desc)
	}

	creds := credentials.FromTokenResponse(resp, a.clock.Now(), nil)
	if missing := credentials.Missing(a.config.Scopes, creds.Scope); len(missing) > 0 {
		logging.Info("Federated", "Token for connection=%s lacks scopes %s", a.config.Connection, strings.Join(missing, " "))
		a.audit("insufficient_scope", "failure", call, "missing="+strings.Join(missing, " "))
		return nil, interrupt.InsufficientScope(scopeCode, a.Protocol(), a.config.Connection,
			creds.Scope, credentials.Union(creds.Scope, a.config.Scopes))
	}

	if err := a.creds.Put(ctx, ns, credentialsKey, creds); err != nil {
		return nil, fmt.Errorf("failed to cache %s credentials: %w", a.Protocol(), err)
	}
	a.audit("credentials_cached", "success", call, "sharing="+a.config.CredentialsScope.String()+" token="+creds.Fingerprint())
	return creds, nil
}

func (a *Authorizer) subjectToken(ctx context.Context, call toolcall.Context) (string, error) {
	v := a.config.RefreshToken
	if a.config.SubjectTokenType == oauth.TokenTypeAccessToken {
		v = a.config.AccessToken
	}
	token, err := v.Resolve(ctx, call)
	if err != nil {
		return "", fmt.Errorf("failed to resolve subject token: %w", err)
	}
	return token, nil
}

// HandleToolError implements protect.ToolErrorHandler. Errors recognised by
// IsToolAuthError evict the cached token and become an interrupt.
func (a *Authorizer) HandleToolError(ctx context.Context, call toolcall.Context, err error) error {
	if !a.config.IsToolAuthError(err) {
		return err
	}
	if derr := a.Evict(ctx, call); derr != nil {
		return errors.Join(err, derr)
	}
	errCode, _ := a.config.Variant.codes()
	return interrupt.AuthorizationRequired(errCode, a.Protocol(), a.config.Connection, nil, a.config.Scopes, err.Error())
}

// Evict forgets the connection token call would use.
func (a *Authorizer) Evict(ctx context.Context, call toolcall.Context) error {
	if err := a.creds.Delete(ctx, a.namespace(call), credentialsKey); err != nil {
		return fmt.Errorf("failed to evict %s credentials: %w", a.Protocol(), err)
	}
	a.audit("credentials_evicted", "success", call, "")
	return nil
}

func (a *Authorizer) audit(action, outcome string, call toolcall.Context, details string) {
	logging.Audit(logging.AuditEvent{
		Action:   action,
		Outcome:  outcome,
		Protocol: a.Protocol(),
		CallID:   logging.TruncateID(call.ToolCallID),
		Target:   a.config.Connection,
		Details:  details,
	})
}

// Protect wraps tool with a.
func Protect[A, R any](a *Authorizer, resolve toolcall.Resolver[A], tool protect.Tool[A, R], opts protect.Options[R]) protect.Tool[A, R] {
	return protect.Wrap(a, resolve, tool, opts)
}
