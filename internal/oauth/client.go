package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"toolauth/internal/metrics"
	"toolauth/pkg/logging"
)

// metadataCacheTTL is the time-to-live for cached OAuth metadata.
const metadataCacheTTL = 30 * time.Minute

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 1 << 20

var tracer = otel.Tracer("toolauth/internal/oauth")

// ErrEndpointNotSupported is returned when the server does not expose an
// endpoint a flow needs.
var ErrEndpointNotSupported = errors.New("authorization server does not support this endpoint")

// Endpoints overrides discovered endpoints. When TokenURL is set discovery is
// skipped entirely.
type Endpoints struct {
	TokenURL                     string
	BackchannelAuthenticationURL string
	DeviceAuthorizationURL       string
}

// Config configures a Client.
type Config struct {
	// Issuer is the authorization server issuer URL. It is also the iss of
	// CIBA login hints.
	Issuer       string
	ClientID     string
	ClientSecret string

	// AuthStyle selects how client credentials are sent. AuthStyleAutoDetect
	// behaves like AuthStyleInParams.
	AuthStyle oauth2.AuthStyle

	Endpoints Endpoints

	// HTTPClient defaults to a client with a 30 second timeout.
	HTTPClient *http.Client

	// AllowInsecureHTTP permits http:// endpoints on non-loopback hosts.
	AllowInsecureHTTP bool
}

type metadataCacheEntry struct {
	metadata  *OAuthMetadata
	fetchedAt time.Time
}

// Client talks to one authorization server. It is safe for concurrent use.
type Client struct {
	config     Config
	httpClient *http.Client

	metadataMu    sync.RWMutex
	metadataCache *metadataCacheEntry

	// metadataGroup deduplicates concurrent metadata fetches
	metadataGroup singleflight.Group
}

// NewClient validates config and returns a Client.
func NewClient(config Config) (*Client, error) {
	if config.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if config.Issuer == "" && config.Endpoints.TokenURL == "" {
		return nil, fmt.Errorf("either issuer or token endpoint is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{config: config, httpClient: httpClient}, nil
}

// Issuer returns the configured issuer.
func (c *Client) Issuer() string {
	return c.config.Issuer
}

// Discover returns the server metadata, merged with explicit endpoint
// overrides. Results are cached for 30 minutes.
func (c *Client) Discover(ctx context.Context) (*OAuthMetadata, error) {
	if c.config.Endpoints.TokenURL != "" {
		return c.withOverrides(&OAuthMetadata{Issuer: c.config.Issuer}), nil
	}

	c.metadataMu.RLock()
	if entry := c.metadataCache; entry != nil && time.Since(entry.fetchedAt) < metadataCacheTTL {
		c.metadataMu.RUnlock()
		return c.withOverrides(entry.metadata), nil
	}
	c.metadataMu.RUnlock()

	result, err, _ := c.metadataGroup.Do(c.config.Issuer, func() (interface{}, error) {
		c.metadataMu.RLock()
		if entry := c.metadataCache; entry != nil && time.Since(entry.fetchedAt) < metadataCacheTTL {
			c.metadataMu.RUnlock()
			return entry.metadata, nil
		}
		c.metadataMu.RUnlock()

		return c.doFetchMetadata(ctx)
	})
	if err != nil {
		return nil, err
	}

	return c.withOverrides(result.(*OAuthMetadata)), nil
}

func (c *Client) withOverrides(m *OAuthMetadata) *OAuthMetadata {
	out := *m
	if e := c.config.Endpoints; e.TokenURL != "" {
		out.TokenEndpoint = e.TokenURL
	}
	if e := c.config.Endpoints; e.BackchannelAuthenticationURL != "" {
		out.BackchannelAuthenticationEndpoint = e.BackchannelAuthenticationURL
	}
	if e := c.config.Endpoints; e.DeviceAuthorizationURL != "" {
		out.DeviceAuthorizationEndpoint = e.DeviceAuthorizationURL
	}
	return &out
}

func (c *Client) doFetchMetadata(ctx context.Context) (*OAuthMetadata, error) {
	ctx, span := tracer.Start(ctx, "oauth.discover", trace.WithAttributes(attribute.String("oauth.issuer", c.config.Issuer)))
	defer span.End()
	start := time.Now()

	base := strings.TrimSuffix(c.config.Issuer, "/")
	var lastErr error
	for _, wellKnown := range []string{"/.well-known/oauth-authorization-server", "/.well-known/openid-configuration"} {
		metadata, err := c.getMetadata(ctx, base+wellKnown)
		if err != nil {
			lastErr = err
			continue
		}

		c.metadataMu.Lock()
		c.metadataCache = &metadataCacheEntry{metadata: metadata, fetchedAt: time.Now()}
		c.metadataMu.Unlock()

		logging.Debug("OAuth", "Fetched OAuth metadata for issuer=%s (token=%s, backchannel=%s, device=%s)",
			c.config.Issuer, metadata.TokenEndpoint, metadata.BackchannelAuthenticationEndpoint, metadata.DeviceAuthorizationEndpoint)
		metrics.ObserveOAuthRequest("discover", "success", start)
		return metadata, nil
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "metadata discovery failed")
	metrics.ObserveOAuthRequest("discover", "error", start)
	return nil, fmt.Errorf("failed to fetch OAuth metadata: %w", lastErr)
}

func (c *Client) getMetadata(ctx context.Context, endpoint string) (*OAuthMetadata, error) {
	if err := c.checkEndpoint(endpoint); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status=%d from %s", resp.StatusCode, endpoint)
	}

	var metadata OAuthMetadata
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&metadata); err != nil {
		return nil, fmt.Errorf("failed to parse OAuth metadata: %w", err)
	}
	if metadata.TokenEndpoint == "" {
		return nil, fmt.Errorf("metadata at %s has no token endpoint", endpoint)
	}
	return &metadata, nil
}

// checkEndpoint enforces HTTPS outside loopback.
func (c *Client) checkEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if c.config.AllowInsecureHTTP || isLoopback(u.Hostname()) {
			return nil
		}
		return fmt.Errorf("endpoint must use HTTPS (got: %s)", endpoint)
	default:
		return fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// postForm authenticates the client, posts form to endpoint and decodes a
// 2xx JSON body into out. Non-2xx responses become *oauth2.RetrieveError.
func (c *Client) postForm(ctx context.Context, operation, endpoint string, form url.Values, out any) (err error) {
	ctx, span := tracer.Start(ctx, "oauth."+operation, trace.WithAttributes(
		attribute.String("oauth.operation", operation),
		attribute.String("oauth.endpoint", endpoint),
	))
	start := time.Now()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "error"
			if code := ErrorCode(err); code != "" {
				outcome = code
				span.SetAttributes(attribute.String("oauth.error", code))
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		metrics.ObserveOAuthRequest(operation, outcome, start)
		span.End()
	}()

	if err := c.checkEndpoint(endpoint); err != nil {
		return err
	}

	if c.config.AuthStyle != oauth2.AuthStyleInHeader {
		form.Set("client_id", c.config.ClientID)
		if c.config.ClientSecret != "" {
			form.Set("client_secret", c.config.ClientSecret)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if c.config.AuthStyle == oauth2.AuthStyleInHeader {
		req.SetBasicAuth(url.QueryEscape(c.config.ClientID), url.QueryEscape(c.config.ClientSecret))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", operation, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", operation, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Response body may contain sensitive information (error descriptions, hints)
		logging.Debug("OAuth", "%s failed: status=%d body=%s", operation, resp.StatusCode, string(body))
		return newRetrieveError(resp, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", operation, err)
	}
	return nil
}

func newRetrieveError(resp *http.Response, body []byte) *oauth2.RetrieveError {
	rerr := &oauth2.RetrieveError{Response: resp, Body: body}
	var e struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		ErrorURI         string `json:"error_uri"`
	}
	if json.Unmarshal(body, &e) == nil {
		rerr.ErrorCode = e.Error
		rerr.ErrorDescription = e.ErrorDescription
		rerr.ErrorURI = e.ErrorURI
	}
	return rerr
}

// ErrorCode returns the RFC 6749 error code carried by err, or "" when err is
// not a provider error.
func ErrorCode(err error) string {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return rerr.ErrorCode
	}
	return ""
}

// ErrorDescription returns the provider's error_description, if any.
func ErrorDescription(err error) string {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return rerr.ErrorDescription
	}
	return ""
}

// SlowDownInterval returns the interval a slow_down response asked for, when
// the server included one.
func SlowDownInterval(err error) (time.Duration, bool) {
	var rerr *oauth2.RetrieveError
	if !errors.As(err, &rerr) || rerr.ErrorCode != "slow_down" {
		return 0, false
	}
	var body struct {
		Interval int64 `json:"interval"`
	}
	if json.Unmarshal(rerr.Body, &body) != nil || body.Interval <= 0 {
		return 0, false
	}
	return time.Duration(body.Interval) * time.Second, true
}

// IsProviderError reports whether err came back from the authorization
// server, as opposed to a transport or decoding failure.
func IsProviderError(err error) bool {
	var rerr *oauth2.RetrieveError
	return errors.As(err, &rerr)
}
