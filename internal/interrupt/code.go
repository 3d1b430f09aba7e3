package interrupt

import "fmt"

// Code identifies an interrupt condition. Codes are protocol specific.
type Code string

const (
	CIBAAuthorizationPending             Code = "CIBA_AUTHORIZATION_PENDING"
	CIBASlowDown                         Code = "CIBA_SLOW_DOWN"
	CIBAAuthorizationRequestExpired      Code = "CIBA_AUTHORIZATION_REQUEST_EXPIRED"
	CIBAAccessDenied                     Code = "CIBA_ACCESS_DENIED"
	CIBAInvalidGrant                     Code = "CIBA_INVALID_GRANT"
	CIBAInvalidRequest                   Code = "CIBA_INVALID_REQUEST"
	CIBAUserDoesNotHavePushNotifications Code = "CIBA_USER_DOES_NOT_HAVE_PUSH_NOTIFICATIONS"
	CIBAAuthorizationPollingError        Code = "CIBA_AUTHORIZATION_POLLING_ERROR"
	CIBAInsufficientScope                Code = "CIBA_INSUFFICIENT_SCOPE"

	DeviceAuthorizationPending      Code = "DEVICE_AUTHORIZATION_PENDING"
	DeviceSlowDown                  Code = "DEVICE_SLOW_DOWN"
	DeviceExpiredToken              Code = "DEVICE_EXPIRED_TOKEN"
	DeviceAccessDenied              Code = "DEVICE_ACCESS_DENIED"
	DeviceInvalidGrant              Code = "DEVICE_INVALID_GRANT"
	DeviceAuthorizationPollingError Code = "DEVICE_AUTHORIZATION_POLLING_ERROR"
	DeviceInsufficientScope         Code = "DEVICE_INSUFFICIENT_SCOPE"

	FederatedConnectionError             Code = "FEDERATED_CONNECTION_ERROR"
	FederatedConnectionInsufficientScope Code = "FEDERATED_CONNECTION_INSUFFICIENT_SCOPE"

	TokenVaultError             Code = "TOKEN_VAULT_ERROR"
	TokenVaultInsufficientScope Code = "TOKEN_VAULT_INSUFFICIENT_SCOPE"
)

// Kind is the outcome class of a Code.
type Kind string

const (
	KindPending               Kind = "pending"
	KindSlowDown              Kind = "slow-down"
	KindExpired               Kind = "expired"
	KindAccessDenied          Kind = "access-denied"
	KindInvalidGrant          Kind = "invalid-grant"
	KindMissingCapability     Kind = "missing-capability"
	KindInsufficientScope     Kind = "insufficient-scope"
	KindAuthorizationRequired Kind = "authorization-required"
)

// Kind returns the outcome class of c. Unknown codes are treated as
// authorization-required.
func (c Code) Kind() Kind {
	switch c {
	case CIBAAuthorizationPending, DeviceAuthorizationPending:
		return KindPending
	case CIBASlowDown, DeviceSlowDown:
		return KindSlowDown
	case CIBAAuthorizationRequestExpired, DeviceExpiredToken:
		return KindExpired
	case CIBAAccessDenied, DeviceAccessDenied:
		return KindAccessDenied
	case CIBAInvalidGrant, CIBAInvalidRequest, DeviceInvalidGrant:
		return KindInvalidGrant
	case CIBAUserDoesNotHavePushNotifications:
		return KindMissingCapability
	case CIBAInsufficientScope, DeviceInsufficientScope,
		FederatedConnectionInsufficientScope, TokenVaultInsufficientScope:
		return KindInsufficientScope
	case CIBAAuthorizationPollingError, DeviceAuthorizationPollingError,
		FederatedConnectionError, TokenVaultError:
		return KindAuthorizationRequired
	default:
		return KindAuthorizationRequired
	}
}

// Known reports whether c is one of the defined codes.
func (c Code) Known() bool {
	switch c {
	case CIBAAuthorizationPending, CIBASlowDown, CIBAAuthorizationRequestExpired,
		CIBAAccessDenied, CIBAInvalidGrant, CIBAInvalidRequest,
		CIBAUserDoesNotHavePushNotifications, CIBAAuthorizationPollingError,
		CIBAInsufficientScope,
		DeviceAuthorizationPending, DeviceSlowDown, DeviceExpiredToken,
		DeviceAccessDenied, DeviceInvalidGrant, DeviceAuthorizationPollingError,
		DeviceInsufficientScope,
		FederatedConnectionError, FederatedConnectionInsufficientScope,
		TokenVaultError, TokenVaultInsufficientScope:
		return true
	default:
		return false
	}
}

// Retryable reports whether the condition clears by itself if the caller
// waits and re-invokes.
func (k Kind) Retryable() bool {
	switch k {
	case KindPending, KindSlowDown:
		return true
	case KindExpired, KindAccessDenied, KindInvalidGrant, KindMissingCapability,
		KindInsufficientScope, KindAuthorizationRequired:
		return false
	default:
		panic(fmt.Sprintf("interrupt: unhandled kind %q", string(k)))
	}
}

// Terminal reports whether the condition ends the current authorization
// attempt.
func (k Kind) Terminal() bool {
	return !k.Retryable()
}

// DiscardsRequest reports whether a persisted pending request must be deleted
// before an interrupt of this kind propagates. Authorization-required is
// raised for transport failures, where the request is still live.
func (k Kind) DiscardsRequest() bool {
	switch k {
	case KindExpired, KindAccessDenied, KindInvalidGrant, KindMissingCapability:
		return true
	case KindPending, KindSlowDown, KindInsufficientScope, KindAuthorizationRequired:
		return false
	default:
		panic(fmt.Sprintf("interrupt: unhandled kind %q", string(k)))
	}
}

// Codes groups the codes a polling protocol raises for each outcome class.
type Codes struct {
	Pending           Code
	SlowDown          Code
	Expired           Code
	AccessDenied      Code
	InvalidGrant      Code
	InvalidRequest    Code
	MissingCapability Code
	PollingError      Code
	InsufficientScope Code
}

// CIBACodes are the codes raised by the CIBA authorizer.
var CIBACodes = Codes{
	Pending:           CIBAAuthorizationPending,
	SlowDown:          CIBASlowDown,
	Expired:           CIBAAuthorizationRequestExpired,
	AccessDenied:      CIBAAccessDenied,
	InvalidGrant:      CIBAInvalidGrant,
	InvalidRequest:    CIBAInvalidRequest,
	MissingCapability: CIBAUserDoesNotHavePushNotifications,
	PollingError:      CIBAAuthorizationPollingError,
	InsufficientScope: CIBAInsufficientScope,
}

// DeviceCodes are the codes raised by the device authorizer. The device grant
// has no dedicated invalid-request or missing-capability condition.
var DeviceCodes = Codes{
	Pending:           DeviceAuthorizationPending,
	SlowDown:          DeviceSlowDown,
	Expired:           DeviceExpiredToken,
	AccessDenied:      DeviceAccessDenied,
	InvalidGrant:      DeviceInvalidGrant,
	InvalidRequest:    DeviceInvalidGrant,
	MissingCapability: DeviceAuthorizationPollingError,
	PollingError:      DeviceAuthorizationPollingError,
	InsufficientScope: DeviceInsufficientScope,
}
