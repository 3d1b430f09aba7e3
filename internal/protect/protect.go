package protect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"toolauth/internal/credentials"
	"toolauth/internal/interrupt"
	"toolauth/internal/metrics"
	"toolauth/internal/toolcall"
	"toolauth/pkg/logging"
)

// Tool is a callable an agent invokes.
type Tool[A, R any] func(ctx context.Context, args A) (R, error)

// Flow is one authorization protocol. Authorize performs a single step for
// call and returns credentials, an *interrupt.Interrupt or an
// infrastructure error.
type Flow interface {
	Protocol() string
	Authorize(ctx context.Context, call toolcall.Context) (*credentials.Credentials, error)
}

// ToolErrorHandler is implemented by flows that recognise authorization
// failures raised by the tool itself, for example a 401 from the API the
// credentials were obtained for. The returned error replaces err.
type ToolErrorHandler interface {
	HandleToolError(ctx context.Context, call toolcall.Context, err error) error
}

// Mode selects how a wrapped tool waits for authorization.
type Mode string

const (
	// ModeInterrupt returns an interrupt as soon as authorization is pending.
	ModeInterrupt Mode = "interrupt"
	// ModeBlock polls until authorization completes or fails.
	ModeBlock Mode = "block"
)

// ParseMode parses a textual mode. The empty string yields ModeInterrupt.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeInterrupt:
		return ModeInterrupt, nil
	case ModeBlock:
		return ModeBlock, nil
	default:
		return "", fmt.Errorf("unknown mode %q (expected interrupt or block)", s)
	}
}

// minRetryInterval bounds block-mode polling when a flow returns no hint.
const minRetryInterval = time.Second

// Options configure Wrap.
type Options[R any] struct {
	Mode Mode

	// OnAuthorizationRequest is called once per blocked invocation, before
	// the first wait, with the pending interrupt. Hosts use it to show a
	// device code or tell the user to check their phone.
	OnAuthorizationRequest func(ctx context.Context, call toolcall.Context, intr *interrupt.Interrupt)

	// OnUnauthorized turns a terminal interrupt into the tool's result in
	// block mode. Without it the interrupt is returned as the error.
	OnUnauthorized func(ctx context.Context, call toolcall.Context, intr *interrupt.Interrupt) (R, error)

	// MaxWait caps the time spent blocking. Zero waits until the flow
	// reports a terminal outcome.
	MaxWait time.Duration
}

// Wrap returns tool guarded by flow. resolve identifies each invocation; a
// missing tool call ID is replaced with a random one for that invocation.
// Nested invocations are rejected per flow instance, so flow must be
// comparable; Wrap panics otherwise.
func Wrap[A, R any](flow Flow, resolve toolcall.Resolver[A], tool Tool[A, R], opts Options[R]) Tool[A, R] {
	mustGuardable(flow)
	return func(ctx context.Context, args A) (R, error) {
		var zero R

		call, err := resolve(ctx, args)
		if err != nil {
			return zero, fmt.Errorf("failed to resolve tool call context: %w", err)
		}
		call = call.WithFallbackID()
		if err := call.Validate(); err != nil {
			return zero, err
		}

		release, err := guard.enter(guardKey{flow: flow, call: call.Key()})
		if err != nil {
			metrics.IncNestedInvocation(flow.Protocol())
			logging.Warn("Protect", "Rejected nested invocation of %s (call=%s)", call.ToolName, logging.TruncateID(call.ToolCallID))
			return zero, err
		}
		defer release()

		var creds *credentials.Credentials
		if opts.Mode == ModeBlock {
			creds, err = authorizeBlocking(ctx, flow, call, opts)
		} else {
			creds, err = flow.Authorize(ctx, call)
			if intr, ok := interrupt.As(err); ok {
				metrics.IncInterrupt(flow.Protocol(), string(intr.Code))
			}
		}
		if err != nil {
			return unauthorized(ctx, call, err, opts)
		}

		metrics.IncToolExecution(flow.Protocol())
		result, err := tool(credentials.NewContext(ctx, creds), args)
		if err == nil {
			return result, nil
		}
		if h, ok := flow.(ToolErrorHandler); ok {
			err = h.HandleToolError(ctx, call, err)
			if intr, ok := interrupt.As(err); ok {
				metrics.IncInterrupt(flow.Protocol(), string(intr.Code))
				return unauthorized(ctx, call, err, opts)
			}
		}
		return result, err
	}
}

// unauthorized routes a terminal interrupt to OnUnauthorized in block mode
// and returns every other error unchanged.
func unauthorized[R any](ctx context.Context, call toolcall.Context, err error, opts Options[R]) (R, error) {
	var zero R
	intr, ok := interrupt.As(err)
	if !ok || opts.Mode != ModeBlock || opts.OnUnauthorized == nil || intr.Kind().Retryable() {
		return zero, err
	}
	return opts.OnUnauthorized(ctx, call, intr)
}

func authorizeBlocking[R any](ctx context.Context, flow Flow, call toolcall.Context, opts Options[R]) (*credentials.Credentials, error) {
	var (
		last     *interrupt.Interrupt
		announce sync.Once
	)

	operation := func() (*credentials.Credentials, error) {
		creds, err := flow.Authorize(ctx, call)
		if err == nil {
			return creds, nil
		}
		intr, ok := interrupt.As(err)
		if !ok {
			return nil, backoff.Permanent(err)
		}
		metrics.IncInterrupt(flow.Protocol(), string(intr.Code))
		last = intr
		if !retryable(intr) {
			return nil, backoff.Permanent(intr)
		}
		wait := intr.RetryAfter()
		if wait < minRetryInterval {
			wait = waitFor(intr)
		}
		return nil, backoff.RetryAfter(int(wait / time.Second))
	}

	notify := func(_ error, next time.Duration) {
		announce.Do(func() {
			if opts.OnAuthorizationRequest != nil {
				opts.OnAuthorizationRequest(ctx, call, last)
			}
		})
		logging.Debug("Protect", "Waiting %s for %s authorization of %s (call=%s, code=%s)",
			next, flow.Protocol(), call.ToolName, logging.TruncateID(call.ToolCallID), last.Code)
	}

	creds, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(minRetryInterval)),
		backoff.WithMaxElapsedTime(opts.MaxWait),
		backoff.WithNotify(notify),
	)
	if err == nil {
		return creds, nil
	}

	var retryAfter *backoff.RetryAfterError
	if errors.As(err, &retryAfter) && last != nil {
		// MaxWait elapsed while the request was still pending.
		return nil, last
	}
	return nil, err
}

// retryable reports whether block mode keeps polling after intr. Polling
// errors that still carry a live request are retried like pending ones.
func retryable(intr *interrupt.Interrupt) bool {
	if intr.Kind().Retryable() {
		return true
	}
	return intr.Kind() == interrupt.KindAuthorizationRequired && intr.Request != nil
}

func waitFor(intr *interrupt.Interrupt) time.Duration {
	if intr.Request != nil && intr.Request.PollInterval() >= minRetryInterval {
		return intr.Request.PollInterval()
	}
	return minRetryInterval
}
