package interrupt

import "time"

// AuthorizationRequest is an in-flight out-of-band authorization request.
// CIBA requests set ID; device requests set the device fields. RequestedAt is
// captured locally (unix seconds); ExpiresIn and Interval are copied verbatim
// from the provider.
type AuthorizationRequest struct {
	ID string `json:"id,omitempty"`

	DeviceCode              string `json:"deviceCode,omitempty"`
	UserCode                string `json:"userCode,omitempty"`
	VerificationURI         string `json:"verificationUri,omitempty"`
	VerificationURIComplete string `json:"verificationUriComplete,omitempty"`

	RequestedAt int64 `json:"requestedAt"`
	ExpiresIn   int64 `json:"expiresIn"`
	Interval    int64 `json:"interval"`
}

// Expired reports whether now - requestedAt >= expiresIn.
func (r *AuthorizationRequest) Expired(now time.Time) bool {
	return now.Unix()-r.RequestedAt >= r.ExpiresIn
}

// Deadline is the instant the request expires.
func (r *AuthorizationRequest) Deadline() time.Time {
	return time.Unix(r.RequestedAt+r.ExpiresIn, 0)
}

// PollInterval is the provider's polling interval.
func (r *AuthorizationRequest) PollInterval() time.Duration {
	return time.Duration(r.Interval) * time.Second
}

// RequestRetention is how long a request outlives its deadline in the store,
// so the next invocation reports it as expired instead of starting over.
const RequestRetention = time.Minute

// TTL is the store TTL of a pending request: its provider lifetime plus
// RequestRetention.
func TTL(r AuthorizationRequest) time.Duration {
	return time.Duration(r.ExpiresIn)*time.Second + RequestRetention
}

// IsDevice reports whether r is a device authorization request.
func (r *AuthorizationRequest) IsDevice() bool {
	return r.DeviceCode != ""
}
