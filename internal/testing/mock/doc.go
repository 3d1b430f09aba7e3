// Package mock provides test doubles for toolauth: a controllable clock and
// a scriptable authorization server.
//
// OAuthServer speaks the three protocols the authorizers use over
// httptest on a loopback port:
//
//   - backchannel authentication (CIBA, poll mode) at PathBackchannel
//   - device authorization (RFC 8628) at PathDeviceCode
//   - the token endpoint at PathToken, for CIBA and device polls and for
//     federated connection token exchange
//
// Responses are scripted per endpoint with Outcome values:
//
//	srv := mock.NewOAuthServer(mock.OAuthServerConfig{})
//	defer srv.Close()
//	srv.ScriptPolls(mock.Pending, mock.SlowDown, mock.Approved)
//
// An empty poll script answers authorization_pending, so a test that never
// scripts an approval sees the request stay pending. Every form POST is
// recorded and can be inspected with Requests.
package mock
