package oauth

import (
	"encoding/json"
	"strings"
)

// Grant and token type identifiers.
const (
	GrantTypeCIBA       = "urn:openid:params:grant-type:ciba"
	GrantTypeDeviceCode = "urn:ietf:params:oauth:grant-type:device_code"

	GrantTypeFederatedConnectionAccessToken = "urn:auth0:params:oauth:grant-type:token-exchange:federated-connection-access-token"

	TokenTypeRefreshToken                   = "urn:ietf:params:oauth:token-type:refresh_token"
	TokenTypeAccessToken                    = "urn:ietf:params:oauth:token-type:access_token"
	TokenTypeFederatedConnectionAccessToken = "http://auth0.com/oauth/token-type/federated-connection-access-token"
)

// DefaultPollInterval is used when a backchannel or device authorization
// response omits interval (OpenID CIBA §7.3, RFC 8628 §3.2).
const DefaultPollInterval = 5

// OAuthMetadata is the subset of RFC 8414 / OpenID Provider metadata the
// client uses.
type OAuthMetadata struct {
	Issuer                              string   `json:"issuer"`
	TokenEndpoint                       string   `json:"token_endpoint"`
	BackchannelAuthenticationEndpoint   string   `json:"backchannel_authentication_endpoint,omitempty"`
	DeviceAuthorizationEndpoint         string   `json:"device_authorization_endpoint,omitempty"`
	GrantTypesSupported                 []string `json:"grant_types_supported,omitempty"`
	TokenEndpointAuthMethodsSupported   []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	BackchannelTokenDeliveryModes       []string `json:"backchannel_token_delivery_modes_supported,omitempty"`
	BackchannelUserCodeParameterSupport bool     `json:"backchannel_user_code_parameter_supported,omitempty"`
}

// SupportsGrant reports whether the server advertises grantType. Servers that
// do not publish grant_types_supported are assumed to support everything.
func (m *OAuthMetadata) SupportsGrant(grantType string) bool {
	if len(m.GrantTypesSupported) == 0 {
		return true
	}
	for _, g := range m.GrantTypesSupported {
		if g == grantType {
			return true
		}
	}
	return false
}

// TokenResponse is a successful token endpoint response.
type TokenResponse struct {
	AccessToken     string `json:"access_token"`
	IDToken         string `json:"id_token,omitempty"`
	RefreshToken    string `json:"refresh_token,omitempty"`
	TokenType       string `json:"token_type"`
	ExpiresIn       int64  `json:"expires_in,omitempty"`
	Scope           string `json:"scope,omitempty"`
	IssuedTokenType string `json:"issued_token_type,omitempty"`
}

// LoginHint identifies the CIBA target user by issuer and subject.
type LoginHint struct {
	Format string `json:"format"`
	Issuer string `json:"iss"`
	Sub    string `json:"sub"`
}

// NewLoginHint returns an iss_sub login hint.
func NewLoginHint(issuer, sub string) LoginHint {
	return LoginHint{Format: "iss_sub", Issuer: issuer, Sub: sub}
}

// Encode returns the JSON form sent as the login_hint parameter.
func (h LoginHint) Encode() string {
	data, _ := json.Marshal(h)
	return string(data)
}

// BackchannelRequest starts a CIBA authentication request.
type BackchannelRequest struct {
	Scopes         []string
	BindingMessage string
	LoginHint      LoginHint
	Audience       string
	// RequestedExpiry is the requested request lifetime in seconds; 0 leaves
	// it to the server.
	RequestedExpiry int
}

// BackchannelResponse is the backchannel authentication response.
type BackchannelResponse struct {
	AuthReqID string `json:"auth_req_id"`
	ExpiresIn int64  `json:"expires_in"`
	Interval  int64  `json:"interval,omitempty"`
}

// DeviceRequest starts a device authorization request.
type DeviceRequest struct {
	Scopes   []string
	Audience string
}

// DeviceAuthorizationResponse is the RFC 8628 §3.2 response. Some servers
// send verification_url instead of verification_uri; both are accepted.
type DeviceAuthorizationResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int64  `json:"expires_in"`
	Interval                int64  `json:"interval,omitempty"`
}

func (r *DeviceAuthorizationResponse) UnmarshalJSON(data []byte) error {
	type raw DeviceAuthorizationResponse
	var aux struct {
		raw
		VerificationURL string `json:"verification_url"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = DeviceAuthorizationResponse(aux.raw)
	if r.VerificationURI == "" {
		r.VerificationURI = aux.VerificationURL
	}
	return nil
}

// TokenExchangeRequest exchanges a held token for a federated connection
// access token.
type TokenExchangeRequest struct {
	SubjectToken     string
	SubjectTokenType string
	Connection       string
	LoginHint        string
}

func joinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}
