package oauth

import (
	"context"
	"fmt"
	"net/url"

	"toolauth/pkg/logging"
)

// DeviceAuthorize starts an RFC 8628 device authorization request.
func (c *Client) DeviceAuthorize(ctx context.Context, r DeviceRequest) (*DeviceAuthorizationResponse, error) {
	metadata, err := c.Discover(ctx)
	if err != nil {
		return nil, err
	}
	if metadata.DeviceAuthorizationEndpoint == "" {
		return nil, fmt.Errorf("%w: device authorization", ErrEndpointNotSupported)
	}

	form := url.Values{}
	if len(r.Scopes) > 0 {
		form.Set("scope", joinScopes(r.Scopes))
	}
	if r.Audience != "" {
		form.Set("audience", r.Audience)
	}

	var resp DeviceAuthorizationResponse
	if err := c.postForm(ctx, "device_authorize", metadata.DeviceAuthorizationEndpoint, form, &resp); err != nil {
		return nil, err
	}
	if resp.DeviceCode == "" || resp.UserCode == "" || resp.VerificationURI == "" {
		return nil, fmt.Errorf("device authorization response is incomplete")
	}
	if resp.ExpiresIn <= 0 {
		return nil, fmt.Errorf("device authorization response has invalid expires_in %d", resp.ExpiresIn)
	}
	if resp.Interval <= 0 {
		resp.Interval = DefaultPollInterval
	}

	logging.Debug("OAuth", "Started device authorization (verification_uri=%s, expires_in=%d, interval=%d)",
		resp.VerificationURI, resp.ExpiresIn, resp.Interval)
	return &resp, nil
}

// PollDevice polls the token endpoint with the device code grant.
func (c *Client) PollDevice(ctx context.Context, deviceCode string) (*TokenResponse, error) {
	metadata, err := c.Discover(ctx)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", GrantTypeDeviceCode)
	form.Set("device_code", deviceCode)

	var resp TokenResponse
	if err := c.postForm(ctx, "device_poll", metadata.TokenEndpoint, form, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("token response has no access_token")
	}
	return &resp, nil
}
