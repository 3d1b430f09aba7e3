// Package poller implements the pending-request state machine shared by the
// CIBA and device authorizers: start an out-of-band request, persist it, poll
// the token endpoint once per invocation and cache the issued credentials.
package poller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"toolauth/internal/clock"
	"toolauth/internal/credentials"
	"toolauth/internal/interrupt"
	"toolauth/internal/metrics"
	"toolauth/internal/oauth"
	"toolauth/internal/store"
	"toolauth/internal/toolcall"
	"toolauth/pkg/logging"
)

const (
	requestKey     = "request"
	credentialsKey = "credentials"

	// slowDownIncrement is added to the interval when a slow_down response
	// carries no interval of its own (RFC 8628 §3.5).
	slowDownIncrement = 5 * time.Second
)

// StartFunc initiates a new out-of-band request for call. Implementations
// fill the provider fields of the request; RequestedAt is set by the Poller.
// Returning an *interrupt.Interrupt passes it through unchanged.
type StartFunc func(ctx context.Context, call toolcall.Context) (*interrupt.AuthorizationRequest, error)

// HostError marks a StartFunc failure raised on the host side, such as a
// resolver error. Authorize returns it wrapped instead of as a polling error
// interrupt.
func HostError(err error) error {
	if err == nil {
		return nil
	}
	return &hostError{err: err}
}

type hostError struct {
	err error
}

func (e *hostError) Error() string { return e.err.Error() }

func (e *hostError) Unwrap() error { return e.err }

// PollFunc asks the token endpoint about req once.
type PollFunc func(ctx context.Context, req *interrupt.AuthorizationRequest) (*oauth.TokenResponse, error)

// Grant describes one polling protocol.
type Grant struct {
	// Protocol is the interrupt protocol name and the first store namespace
	// segment.
	Protocol string
	Codes    interrupt.Codes
	// Scopes are the scopes requested; cached credentials must cover them.
	Scopes []string
	Start  StartFunc
	Poll   PollFunc
}

// Poller drives Grant for tool invocations, persisting pending requests per
// tool call and credentials per sharing scope.
type Poller struct {
	grant    Grant
	sharing  toolcall.Scope
	clock    clock.Clock
	requests *store.SubStore[interrupt.AuthorizationRequest]
	creds    *store.SubStore[*credentials.Credentials]
}

// New returns a Poller storing its state in st.
func New(grant Grant, st store.Store, sharing toolcall.Scope, clk clock.Clock) (*Poller, error) {
	if grant.Protocol == "" {
		return nil, errors.New("grant protocol is required")
	}
	if grant.Start == nil || grant.Poll == nil {
		return nil, errors.New("grant start and poll functions are required")
	}
	if st == nil {
		return nil, errors.New("store is required")
	}
	return &Poller{
		grant:    grant,
		sharing:  sharing,
		clock:    clock.OrReal(clk),
		requests: store.NewSubStore(st, []string{grant.Protocol, "requests"}, interrupt.TTL),
		creds:    store.NewSubStore(st, []string{grant.Protocol, "credentials"}, credentials.TTL),
	}, nil
}

// Protocol returns the grant's protocol name.
func (p *Poller) Protocol() string {
	return p.grant.Protocol
}

// Authorize runs one step of the state machine for call. It returns cached
// or newly issued credentials, an *interrupt.Interrupt, or a wrapped store
// or host error. Issued credentials that do not cover the grant's scopes are
// not cached; the request is discarded and an insufficient-scope interrupt
// returned.
func (p *Poller) Authorize(ctx context.Context, call toolcall.Context) (*credentials.Credentials, error) {
	creds, err := p.Cached(ctx, call)
	if err != nil || creds != nil {
		return creds, err
	}

	reqNS := call.Namespace()
	req, found, err := p.requests.Get(ctx, reqNS, requestKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending %s request: %w", p.grant.Protocol, err)
	}
	if !found {
		started, err := p.start(ctx, call)
		if err != nil {
			return nil, err
		}
		req = *started
	}

	if req.Expired(p.clock.Now()) {
		if err := p.requests.Delete(ctx, reqNS, requestKey); err != nil {
			return nil, fmt.Errorf("failed to delete expired %s request: %w", p.grant.Protocol, err)
		}
		p.audit("request_expired", "failure", call, "")
		return nil, interrupt.Expired(p.grant.Codes.Expired, p.grant.Protocol, &req)
	}

	resp, err := p.grant.Poll(ctx, &req)
	if err != nil {
		return nil, p.pollFailed(ctx, call, &req, err)
	}

	creds = credentials.FromTokenResponse(resp, p.clock.Now(), p.grant.Scopes)
	if missing := credentials.Missing(p.grant.Scopes, creds.Scope); len(missing) > 0 {
		if err := p.requests.Delete(ctx, reqNS, requestKey); err != nil {
			return nil, fmt.Errorf("failed to delete under-scoped %s request: %w", p.grant.Protocol, err)
		}
		p.audit("insufficient_scope", "failure", call, "missing="+strings.Join(missing, " "))
		return nil, interrupt.InsufficientScope(p.grant.Codes.InsufficientScope, p.grant.Protocol, "",
			creds.Scope, credentials.Union(creds.Scope, p.grant.Scopes))
	}
	if err := p.creds.Put(ctx, p.sharing.Namespace(call), credentialsKey, creds); err != nil {
		return nil, fmt.Errorf("failed to cache %s credentials: %w", p.grant.Protocol, err)
	}
	if err := p.requests.Delete(ctx, reqNS, requestKey); err != nil {
		return nil, fmt.Errorf("failed to delete completed %s request: %w", p.grant.Protocol, err)
	}
	p.audit("credentials_cached", "success", call, "sharing="+p.sharing.String()+" token="+creds.Fingerprint())
	return creds, nil
}

// Cached returns valid cached credentials for call without contacting the
// authorization server, or nil. Expired or under-scoped entries are evicted.
func (p *Poller) Cached(ctx context.Context, call toolcall.Context) (*credentials.Credentials, error) {
	ns := p.sharing.Namespace(call)
	creds, found, err := p.creds.Get(ctx, ns, credentialsKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load cached %s credentials: %w", p.grant.Protocol, err)
	}
	if !found || creds == nil {
		metrics.IncCredentialLookup(p.grant.Protocol, metrics.LookupMiss)
		return nil, nil
	}
	if creds.Valid(p.clock.Now(), p.grant.Scopes) {
		metrics.IncCredentialLookup(p.grant.Protocol, metrics.LookupHit)
		return creds, nil
	}

	metrics.IncCredentialLookup(p.grant.Protocol, metrics.LookupStale)
	if err := p.creds.Delete(ctx, ns, credentialsKey); err != nil {
		return nil, fmt.Errorf("failed to evict stale %s credentials: %w", p.grant.Protocol, err)
	}
	return nil, nil
}

// Evict deletes the cached credentials visible to call.
func (p *Poller) Evict(ctx context.Context, call toolcall.Context) error {
	if err := p.creds.Delete(ctx, p.sharing.Namespace(call), credentialsKey); err != nil {
		return fmt.Errorf("failed to evict %s credentials: %w", p.grant.Protocol, err)
	}
	p.audit("credentials_evicted", "success", call, "")
	return nil
}

// Pending returns the persisted pending request of call, if any.
func (p *Poller) Pending(ctx context.Context, call toolcall.Context) (*interrupt.AuthorizationRequest, error) {
	req, found, err := p.requests.Get(ctx, call.Namespace(), requestKey)
	if err != nil || !found {
		return nil, err
	}
	return &req, nil
}

func (p *Poller) start(ctx context.Context, call toolcall.Context) (*interrupt.AuthorizationRequest, error) {
	req, err := p.grant.Start(ctx, call)
	if err != nil {
		if intr, ok := interrupt.As(err); ok {
			p.audit("request_rejected", "failure", call, string(intr.Code))
			return nil, intr
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("starting %s request: %w", p.grant.Protocol, ctx.Err())
		}
		var herr *hostError
		if errors.As(err, &herr) {
			return nil, fmt.Errorf("starting %s request: %w", p.grant.Protocol, herr.err)
		}
		return nil, p.classify(nil, err)
	}
	req.RequestedAt = p.clock.Now().Unix()
	if req.Interval <= 0 {
		req.Interval = oauth.DefaultPollInterval
	}
	if err := p.requests.Put(ctx, call.Namespace(), requestKey, *req); err != nil {
		return nil, fmt.Errorf("failed to persist %s request: %w", p.grant.Protocol, err)
	}
	p.audit("request_started", "success", call, fmt.Sprintf("expires_in=%d interval=%d", req.ExpiresIn, req.Interval))
	return req, nil
}

// pollFailed maps a failed poll to an interrupt, deleting the pending request
// for outcomes that end it.
func (p *Poller) pollFailed(ctx context.Context, call toolcall.Context, req *interrupt.AuthorizationRequest, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("polling %s request: %w", p.grant.Protocol, ctx.Err())
	}
	intr := p.classify(req, err)
	if !intr.Kind().DiscardsRequest() {
		if intr.Kind() == interrupt.KindAuthorizationRequired {
			logging.Warn(p.logSubsystem(), "Polling request for call=%s failed, keeping it: %v",
				logging.TruncateID(call.ToolCallID), err)
		}
		return intr
	}
	if derr := p.requests.Delete(ctx, call.Namespace(), requestKey); derr != nil {
		return fmt.Errorf("failed to delete %s request after %s: %w", p.grant.Protocol, intr.Code, derr)
	}
	p.audit("request_terminated", "failure", call, string(intr.Code))
	return intr
}

func (p *Poller) classify(req *interrupt.AuthorizationRequest, err error) *interrupt.Interrupt {
	codes := p.grant.Codes
	desc := oauth.ErrorDescription(err)
	switch oauth.ErrorCode(err) {
	case "authorization_pending":
		return interrupt.Pending(codes.Pending, p.grant.Protocol, req)
	case "slow_down":
		retry, ok := oauth.SlowDownInterval(err)
		if !ok {
			base := time.Duration(oauth.DefaultPollInterval) * time.Second
			if req != nil {
				base = req.PollInterval()
			}
			retry = base + slowDownIncrement
		}
		return interrupt.SlowDown(codes.SlowDown, p.grant.Protocol, req, retry)
	case "expired_token":
		return interrupt.Expired(codes.Expired, p.grant.Protocol, req)
	case "access_denied":
		return interrupt.AccessDenied(codes.AccessDenied, p.grant.Protocol, req, desc)
	case "invalid_grant":
		return interrupt.InvalidGrant(codes.InvalidGrant, p.grant.Protocol, req, desc)
	case "invalid_request":
		return interrupt.InvalidGrant(codes.InvalidRequest, p.grant.Protocol, req, desc)
	default:
		if desc == "" {
			desc = err.Error()
		}
		return interrupt.PollingError(codes.PollingError, p.grant.Protocol, req, desc)
	}
}

func (p *Poller) logSubsystem() string {
	switch p.grant.Protocol {
	case interrupt.ProtocolCIBA:
		return "CIBA"
	case interrupt.ProtocolDevice:
		return "Device"
	default:
		return p.grant.Protocol
	}
}

func (p *Poller) audit(action, outcome string, call toolcall.Context, details string) {
	logging.Audit(logging.AuditEvent{
		Action:   action,
		Outcome:  outcome,
		Protocol: p.grant.Protocol,
		CallID:   logging.TruncateID(call.ToolCallID),
		Target:   call.ToolName,
		Details:  details,
	})
}
