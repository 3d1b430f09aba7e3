// Package oauth is the client side of the authorization server protocols the
// authorizers speak.
//
// The Client covers four endpoints:
//
//   - metadata discovery (RFC 8414, with OpenID Connect discovery as fallback)
//   - CIBA backchannel authentication and polling
//   - device authorization (RFC 8628) and polling
//   - federated connection access token exchange
//
// Every call is a form-encoded POST that either decodes into a response type
// or fails with *oauth2.RetrieveError carrying the provider's error code.
// Authorizers map those codes onto interrupts; this package does not know
// about interrupts or stores.
//
// # Security
//
// ## TLS/HTTPS Requirements
//
// All endpoints must use HTTPS. Plain HTTP is accepted only for loopback hosts
// (local development and tests) or when Config.AllowInsecureHTTP is set.
//
// ## Logging Security
//
// Tokens are never logged. Response bodies are only logged at DEBUG level and
// only for failed requests. Request identifiers such as auth_req_id are
// truncated with logging.TruncateID.
//
// # Observability
//
// Each request runs in an OpenTelemetry span named after the operation and
// records its latency in the toolauth_oauth_request_duration_ms histogram.
package oauth
