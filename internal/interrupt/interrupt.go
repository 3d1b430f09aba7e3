package interrupt

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Name is the discriminant shared by every interrupt.
const Name = "AUTH_INTERRUPT"

// Protocol names carried by interrupts.
const (
	ProtocolCIBA                = "ciba"
	ProtocolDevice              = "device"
	ProtocolFederatedConnection = "federated-connection"
	ProtocolTokenVault          = "token-vault"
)

// Interrupt is a paused or failed authorization attempt.
type Interrupt struct {
	Name     string `json:"name"`
	Code     Code   `json:"code"`
	Message  string `json:"message"`
	Protocol string `json:"protocol,omitempty"`

	// Request is the pending request for CIBA and device interrupts.
	Request *AuthorizationRequest `json:"request,omitempty"`

	// NextRetryInterval is the number of seconds the caller should wait
	// before re-invoking, for retryable interrupts.
	NextRetryInterval int64 `json:"nextRetryInterval,omitempty"`

	// Connection, Scopes and RequiredScopes describe federated connection
	// and token vault interrupts. Scopes are the scopes the exchanged token
	// was granted; RequiredScopes is what a fresh consent must request.
	Connection     string   `json:"connection,omitempty"`
	Scopes         []string `json:"scopes,omitempty"`
	RequiredScopes []string `json:"requiredScopes,omitempty"`
}

// Error implements error.
func (i *Interrupt) Error() string {
	if i.Message == "" {
		return string(i.Code)
	}
	return fmt.Sprintf("%s: %s", i.Code, i.Message)
}

// Kind is shorthand for i.Code.Kind().
func (i *Interrupt) Kind() Kind {
	return i.Code.Kind()
}

// RetryAfter returns the wait before the next attempt, or zero.
func (i *Interrupt) RetryAfter() time.Duration {
	return time.Duration(i.NextRetryInterval) * time.Second
}

// Is matches another interrupt by code, so errors.Is(err, &Interrupt{Code: c})
// works for callers that only hold a code.
func (i *Interrupt) Is(target error) bool {
	t, ok := target.(*Interrupt)
	if !ok {
		return false
	}
	return t.Code == i.Code
}

// IsInterrupt reports whether err is, or wraps, an Interrupt.
func IsInterrupt(err error) bool {
	_, ok := As(err)
	return ok
}

// As returns the Interrupt in err's chain.
func As(err error) (*Interrupt, bool) {
	var intr *Interrupt
	if errors.As(err, &intr) && intr != nil {
		return intr, true
	}
	return nil, false
}

// Marshal encodes i as JSON.
func Marshal(i *Interrupt) ([]byte, error) {
	return json.Marshal(i)
}

// ErrNotInterrupt is returned by Parse for payloads that are not interrupts.
var ErrNotInterrupt = errors.New("payload is not an authorization interrupt")

// Parse decodes a JSON interrupt produced by Marshal.
func Parse(data []byte) (*Interrupt, error) {
	var i Interrupt
	if err := json.Unmarshal(data, &i); err != nil {
		return nil, fmt.Errorf("failed to decode interrupt: %w", err)
	}
	if i.Name != Name {
		return nil, fmt.Errorf("%w: name %q", ErrNotInterrupt, i.Name)
	}
	if i.Code == "" {
		return nil, fmt.Errorf("%w: missing code", ErrNotInterrupt)
	}
	return &i, nil
}

func newInterrupt(code Code, protocol, message string) *Interrupt {
	return &Interrupt{Name: Name, Code: code, Message: message, Protocol: protocol}
}

func copyRequest(r *AuthorizationRequest) *AuthorizationRequest {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// Pending reports that the user has not acted on req yet.
func Pending(code Code, protocol string, req *AuthorizationRequest) *Interrupt {
	i := newInterrupt(code, protocol, "Authorization pending: the user has not approved the request yet")
	i.Request = copyRequest(req)
	if req != nil {
		i.NextRetryInterval = req.Interval
	}
	return i
}

// SlowDown reports that the server asked for a longer poll interval.
func SlowDown(code Code, protocol string, req *AuthorizationRequest, retryAfter time.Duration) *Interrupt {
	i := newInterrupt(code, protocol, "Polling too fast: the authorization server asked to slow down")
	i.Request = copyRequest(req)
	i.NextRetryInterval = int64(retryAfter / time.Second)
	return i
}

// Expired reports that req passed its deadline before approval.
func Expired(code Code, protocol string, req *AuthorizationRequest) *Interrupt {
	i := newInterrupt(code, protocol, "Authorization request expired before it was approved")
	i.Request = copyRequest(req)
	return i
}

// AccessDenied reports that the user rejected req.
func AccessDenied(code Code, protocol string, req *AuthorizationRequest, description string) *Interrupt {
	i := newInterrupt(code, protocol, withDescription("The user denied the authorization request", description))
	i.Request = copyRequest(req)
	return i
}

// InvalidGrant reports that the server rejected the grant or request.
func InvalidGrant(code Code, protocol string, req *AuthorizationRequest, description string) *Interrupt {
	i := newInterrupt(code, protocol, withDescription("The authorization server rejected the request", description))
	i.Request = copyRequest(req)
	return i
}

// MissingCapability reports that the user cannot take part in the protocol,
// for example because no push-capable device is enrolled.
func MissingCapability(code Code, protocol, description string) *Interrupt {
	return newInterrupt(code, protocol, withDescription("The user cannot complete this authorization method", description))
}

// AuthorizationRequired reports that authorization could not be obtained and
// has to be requested again, carrying whatever scope information is known.
func AuthorizationRequired(code Code, protocol, connection string, scopes, requiredScopes []string, description string) *Interrupt {
	i := newInterrupt(code, protocol, withDescription("Authorization required", description))
	i.Connection = connection
	i.Scopes = scopes
	i.RequiredScopes = requiredScopes
	return i
}

// InsufficientScope reports that a token was obtained but lacks scopes.
// requiredScopes is the union a fresh consent must request. connection is
// empty for the polling protocols.
func InsufficientScope(code Code, protocol, connection string, scopes, requiredScopes []string) *Interrupt {
	message := "Authorization is missing required scopes"
	if connection != "" {
		message = fmt.Sprintf("Authorization for %s is missing required scopes", connection)
	}
	i := newInterrupt(code, protocol, message)
	i.Connection = connection
	i.Scopes = scopes
	i.RequiredScopes = requiredScopes
	return i
}

func withDescription(message, description string) string {
	if description == "" {
		return message
	}
	return message + ": " + description
}

// PollingError reports a transport or server failure while talking to the
// authorization server. req is kept by the authorizer and retried on the next
// invocation.
func PollingError(code Code, protocol string, req *AuthorizationRequest, description string) *Interrupt {
	i := newInterrupt(code, protocol, withDescription("Failed to reach the authorization server", description))
	i.Request = copyRequest(req)
	return i
}
