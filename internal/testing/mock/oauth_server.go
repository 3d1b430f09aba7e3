package mock

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"toolauth/internal/clock"
)

// jwtHeader is base64url({"alg":"none","typ":"JWT"}). ID tokens issued by the
// mock server are unsigned and for tests only.
const jwtHeader = "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0"

// Endpoint paths served by OAuthServer.
const (
	PathBackchannel = "/bc-authorize"
	PathDeviceCode  = "/oauth/device/code"
	PathToken       = "/oauth/token"
)

// idTokenClaims represents the claims in an ID token.
type idTokenClaims struct {
	Iss   string `json:"iss"`
	Sub   string `json:"sub"`
	Aud   string `json:"aud"`
	Exp   int64  `json:"exp"`
	Iat   int64  `json:"iat"`
	Email string `json:"email,omitempty"`
}

// OAuthServerConfig configures the mock authorization server.
type OAuthServerConfig struct {
	// ClientID is the expected client ID. Defaults to "test-client".
	ClientID string

	// ClientSecret, when set, must be presented in the form or a basic
	// authorization header.
	ClientSecret string

	// TokenLifetime is the expires_in of issued tokens. Defaults to 1h.
	TokenLifetime time.Duration

	// RequestExpiresIn and Interval are returned by the backchannel and device
	// authorization endpoints. They default to 300 and 5 seconds.
	RequestExpiresIn int64
	Interval         int64

	// OmitInterval leaves interval out of authorization responses.
	OmitInterval bool

	// DisableDevice and DisableBackchannel remove the endpoints from the
	// metadata document.
	DisableDevice      bool
	DisableBackchannel bool

	// Clock stamps issued ID tokens. Defaults to the real clock.
	Clock clock.Clock
}

// Outcome scripts one response of an endpoint. A zero Outcome is success.
type Outcome struct {
	// Error is the RFC 6749 error code to return.
	Error       string
	Description string

	// Status overrides the HTTP status of an error (default 400).
	Status int

	// Interval is added to a slow_down error body.
	Interval int64

	// Scope overrides the scope of a successful token response. Use "-" to
	// omit it.
	Scope string
}

func (o Outcome) failed() bool {
	return o.Error != "" || o.Status != 0
}

// Approved is the Outcome of a successful poll or exchange.
var Approved = Outcome{}

// Pending and SlowDown are the common non-terminal poll outcomes.
var (
	Pending  = Outcome{Error: "authorization_pending", Description: "The end-user authorization is pending"}
	SlowDown = Outcome{Error: "slow_down", Description: "You are polling faster than allowed"}
)

// OAuthServer is a mock authorization server speaking the backchannel,
// device and federated token exchange protocols. Poll and exchange responses
// are scripted; an empty poll script answers authorization_pending.
type OAuthServer struct {
	config OAuthServerConfig
	server *httptest.Server
	clock  clock.Clock

	mu          sync.Mutex
	authorize   []Outcome
	polls       []Outcome
	exchanges   []Outcome
	requests    map[string][]url.Values
	loginHints  map[string]string // auth_req_id -> subject
	issuedCount int
}

// NewOAuthServer starts a mock server on a loopback port.
func NewOAuthServer(config OAuthServerConfig) *OAuthServer {
	if config.ClientID == "" {
		config.ClientID = "test-client"
	}
	if config.TokenLifetime == 0 {
		config.TokenLifetime = time.Hour
	}
	if config.RequestExpiresIn == 0 {
		config.RequestExpiresIn = 300
	}
	if config.Interval == 0 {
		config.Interval = 5
	}

	s := &OAuthServer{
		config:     config,
		clock:      clock.OrReal(config.Clock),
		requests:   make(map[string][]url.Values),
		loginHints: make(map[string]string),
	}

	r := chi.NewRouter()
	r.Get("/.well-known/oauth-authorization-server", s.handleMetadata)
	r.Get("/.well-known/openid-configuration", s.handleMetadata)
	r.Post(PathBackchannel, s.handleBackchannel)
	r.Post(PathDeviceCode, s.handleDeviceCode)
	r.Post(PathToken, s.handleToken)

	s.server = httptest.NewServer(r)
	return s
}

// URL is the issuer URL of the server.
func (s *OAuthServer) URL() string {
	return s.server.URL
}

// Close shuts the server down.
func (s *OAuthServer) Close() {
	s.server.Close()
}

// ClientID returns the client ID the server expects.
func (s *OAuthServer) ClientID() string {
	return s.config.ClientID
}

// ScriptAuthorize queues outcomes for the backchannel and device
// authorization endpoints. An empty queue succeeds.
func (s *OAuthServer) ScriptAuthorize(outcomes ...Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorize = append(s.authorize, outcomes...)
}

// ScriptPolls queues outcomes for CIBA and device token polls.
func (s *OAuthServer) ScriptPolls(outcomes ...Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls = append(s.polls, outcomes...)
}

// ScriptExchanges queues outcomes for token exchanges. An empty queue
// succeeds with the scope "openid".
func (s *OAuthServer) ScriptExchanges(outcomes ...Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exchanges = append(s.exchanges, outcomes...)
}

// Requests returns the forms received on path, in order. Token endpoint
// requests are keyed by path and grant type ("/oauth/token#<grant>").
func (s *OAuthServer) Requests(path string) []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values(nil), s.requests[path]...)
}

// TotalRequests counts every form POST received.
func (s *OAuthServer) TotalRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, forms := range s.requests {
		n += len(forms)
	}
	return n
}

// TokensIssued counts successful token responses.
func (s *OAuthServer) TokensIssued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issuedCount
}

func (s *OAuthServer) handleMetadata(w http.ResponseWriter, r *http.Request) {
	issuer := s.URL()
	metadata := map[string]interface{}{
		"issuer":         issuer,
		"token_endpoint": issuer + PathToken,
		"grant_types_supported": []string{
			"urn:openid:params:grant-type:ciba",
			"urn:ietf:params:oauth:grant-type:device_code",
			"urn:auth0:params:oauth:grant-type:token-exchange:federated-connection-access-token",
			"refresh_token",
		},
		"token_endpoint_auth_methods_supported":      []string{"client_secret_post", "client_secret_basic"},
		"backchannel_token_delivery_modes_supported": []string{"poll"},
	}
	if !s.config.DisableBackchannel {
		metadata["backchannel_authentication_endpoint"] = issuer + PathBackchannel
	}
	if !s.config.DisableDevice {
		metadata["device_authorization_endpoint"] = issuer + PathDeviceCode
	}
	writeJSON(w, http.StatusOK, metadata)
}

// record parses and authenticates the request. It returns false after
// writing an error response.
func (s *OAuthServer) record(w http.ResponseWriter, r *http.Request, key string) (url.Values, bool) {
	if err := r.ParseForm(); err != nil {
		writeError(w, Outcome{Error: "invalid_request", Description: "malformed form body"})
		return nil, false
	}

	s.mu.Lock()
	s.requests[key] = append(s.requests[key], r.PostForm)
	s.mu.Unlock()

	clientID, secret, basic := r.BasicAuth()
	if basic {
		clientID, _ = url.QueryUnescape(clientID)
		secret, _ = url.QueryUnescape(secret)
	} else {
		clientID = r.PostForm.Get("client_id")
		secret = r.PostForm.Get("client_secret")
	}
	if clientID != s.config.ClientID || (s.config.ClientSecret != "" && secret != s.config.ClientSecret) {
		writeError(w, Outcome{Error: "invalid_client", Description: "client authentication failed", Status: http.StatusUnauthorized})
		return nil, false
	}
	return r.PostForm, true
}

func (s *OAuthServer) next(queue *[]Outcome, fallback Outcome) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(*queue) == 0 {
		return fallback
	}
	o := (*queue)[0]
	*queue = (*queue)[1:]
	return o
}

func (s *OAuthServer) interval() map[string]interface{} {
	body := map[string]interface{}{"expires_in": s.config.RequestExpiresIn}
	if !s.config.OmitInterval {
		body["interval"] = s.config.Interval
	}
	return body
}

func (s *OAuthServer) handleBackchannel(w http.ResponseWriter, r *http.Request) {
	form, ok := s.record(w, r, PathBackchannel)
	if !ok {
		return
	}
	if o := s.next(&s.authorize, Approved); o.failed() {
		writeError(w, o)
		return
	}

	var hint struct {
		Format string `json:"format"`
		Sub    string `json:"sub"`
	}
	if err := json.Unmarshal([]byte(form.Get("login_hint")), &hint); err != nil || hint.Format != "iss_sub" || hint.Sub == "" {
		writeError(w, Outcome{Error: "invalid_request", Description: "login_hint must be an iss_sub JSON object"})
		return
	}
	if form.Get("scope") == "" {
		writeError(w, Outcome{Error: "invalid_request", Description: "scope is required"})
		return
	}

	id := "auth-req-" + generateOpaqueToken()[:12]
	s.mu.Lock()
	s.loginHints[id] = hint.Sub
	s.mu.Unlock()

	body := s.interval()
	body["auth_req_id"] = id
	writeJSON(w, http.StatusOK, body)
}

func (s *OAuthServer) handleDeviceCode(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.record(w, r, PathDeviceCode); !ok {
		return
	}
	if o := s.next(&s.authorize, Approved); o.failed() {
		writeError(w, o)
		return
	}

	userCode := "WDJB-MJHT"
	body := s.interval()
	body["device_code"] = "device-" + generateOpaqueToken()[:12]
	body["user_code"] = userCode
	body["verification_uri"] = s.URL() + "/activate"
	body["verification_uri_complete"] = s.URL() + "/activate?user_code=" + userCode
	writeJSON(w, http.StatusOK, body)
}

func (s *OAuthServer) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, Outcome{Error: "invalid_request", Description: "malformed form body"})
		return
	}
	grantType := r.PostForm.Get("grant_type")
	form, ok := s.record(w, r, PathToken+"#"+grantType)
	if !ok {
		return
	}

	switch grantType {
	case "urn:openid:params:grant-type:ciba":
		if form.Get("auth_req_id") == "" {
			writeError(w, Outcome{Error: "invalid_request", Description: "auth_req_id is required"})
			return
		}
		s.mu.Lock()
		sub := s.loginHints[form.Get("auth_req_id")]
		s.mu.Unlock()
		s.respondPoll(w, sub)
	case "urn:ietf:params:oauth:grant-type:device_code":
		if form.Get("device_code") == "" {
			writeError(w, Outcome{Error: "invalid_request", Description: "device_code is required"})
			return
		}
		s.respondPoll(w, "device-user")
	case "urn:auth0:params:oauth:grant-type:token-exchange:federated-connection-access-token":
		s.handleExchange(w, form)
	default:
		writeError(w, Outcome{Error: "unsupported_grant_type", Description: fmt.Sprintf("grant_type %s not supported", grantType)})
	}
}

func (s *OAuthServer) respondPoll(w http.ResponseWriter, sub string) {
	o := s.next(&s.polls, Pending)
	if o.failed() {
		writeError(w, o)
		return
	}
	scope := o.Scope
	if scope == "" {
		scope = "openid"
	}
	s.writeToken(w, sub, scope, true)
}

func (s *OAuthServer) handleExchange(w http.ResponseWriter, form url.Values) {
	if form.Get("subject_token") == "" || form.Get("connection") == "" {
		writeError(w, Outcome{Error: "invalid_request", Description: "subject_token and connection are required"})
		return
	}
	switch form.Get("subject_token_type") {
	case "urn:ietf:params:oauth:token-type:refresh_token", "urn:ietf:params:oauth:token-type:access_token":
	default:
		writeError(w, Outcome{Error: "invalid_request", Description: "unsupported subject_token_type"})
		return
	}

	o := s.next(&s.exchanges, Approved)
	if o.failed() {
		writeError(w, o)
		return
	}
	scope := o.Scope
	if scope == "" {
		scope = "openid"
	}
	s.writeToken(w, "", scope, false)
}

func (s *OAuthServer) writeToken(w http.ResponseWriter, sub, scope string, withIDToken bool) {
	body := map[string]interface{}{
		"access_token": generateOpaqueToken(),
		"token_type":   "Bearer",
		"expires_in":   int64(s.config.TokenLifetime.Seconds()),
	}
	if scope != "-" {
		body["scope"] = scope
	}
	if withIDToken {
		body["id_token"] = s.generateIDToken(sub)
		body["refresh_token"] = generateOpaqueToken()
	} else {
		body["issued_token_type"] = "http://auth0.com/oauth/token-type/federated-connection-access-token"
	}

	s.mu.Lock()
	s.issuedCount++
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, body)
}

// generateIDToken returns an unsigned JWT for sub.
func (s *OAuthServer) generateIDToken(sub string) string {
	now := s.clock.Now()
	if sub == "" {
		sub = "test-user-123"
	}
	claims := idTokenClaims{
		Iss:   s.URL() + "/",
		Sub:   sub,
		Aud:   s.config.ClientID,
		Exp:   now.Add(s.config.TokenLifetime).Unix(),
		Iat:   now.Unix(),
		Email: "test@example.com",
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		panic(fmt.Errorf("failed to marshal ID token claims: %w", err))
	}
	return fmt.Sprintf("%s.%s.", jwtHeader, base64.RawURLEncoding.EncodeToString(claimsJSON))
}

// generateOpaqueToken generates a random opaque token.
// Panics if crypto/rand fails, which should never happen in practice.
func generateOpaqueToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Errorf("crypto/rand failed: %w", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, o Outcome) {
	status := o.Status
	if status == 0 {
		status = http.StatusBadRequest
	}
	if status >= 500 {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(strings.TrimSpace(o.Description)))
		return
	}
	body := map[string]interface{}{"error": o.Error}
	if o.Description != "" {
		body["error_description"] = o.Description
	}
	if o.Interval > 0 {
		body["interval"] = o.Interval
	}
	writeJSON(w, status, body)
}
