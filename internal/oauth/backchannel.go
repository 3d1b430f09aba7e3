package oauth

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"toolauth/pkg/logging"
)

// BackchannelAuthorize starts a CIBA request and returns the provider's
// auth_req_id, lifetime and polling interval.
func (c *Client) BackchannelAuthorize(ctx context.Context, r BackchannelRequest) (*BackchannelResponse, error) {
	if r.LoginHint.Sub == "" {
		return nil, fmt.Errorf("login hint subject is required")
	}

	metadata, err := c.Discover(ctx)
	if err != nil {
		return nil, err
	}
	if metadata.BackchannelAuthenticationEndpoint == "" {
		return nil, fmt.Errorf("%w: backchannel authentication", ErrEndpointNotSupported)
	}

	form := url.Values{}
	form.Set("scope", joinScopes(r.Scopes))
	form.Set("login_hint", r.LoginHint.Encode())
	if r.BindingMessage != "" {
		form.Set("binding_message", r.BindingMessage)
	}
	if r.Audience != "" {
		form.Set("audience", r.Audience)
	}
	if r.RequestedExpiry > 0 {
		form.Set("requested_expiry", strconv.Itoa(r.RequestedExpiry))
	}

	var resp BackchannelResponse
	if err := c.postForm(ctx, "backchannel_authorize", metadata.BackchannelAuthenticationEndpoint, form, &resp); err != nil {
		return nil, err
	}
	if resp.AuthReqID == "" {
		return nil, fmt.Errorf("backchannel response has no auth_req_id")
	}
	if resp.ExpiresIn <= 0 {
		return nil, fmt.Errorf("backchannel response has invalid expires_in %d", resp.ExpiresIn)
	}
	if resp.Interval <= 0 {
		resp.Interval = DefaultPollInterval
	}

	logging.Debug("OAuth", "Started backchannel request=%s (expires_in=%d, interval=%d)",
		logging.TruncateID(resp.AuthReqID), resp.ExpiresIn, resp.Interval)
	return &resp, nil
}

// PollBackchannel asks the token endpoint whether the CIBA request was
// approved. Pending, slow-down and terminal outcomes are returned as
// *oauth2.RetrieveError.
func (c *Client) PollBackchannel(ctx context.Context, authReqID string) (*TokenResponse, error) {
	metadata, err := c.Discover(ctx)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", GrantTypeCIBA)
	form.Set("auth_req_id", authReqID)

	var resp TokenResponse
	if err := c.postForm(ctx, "backchannel_poll", metadata.TokenEndpoint, form, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("token response has no access_token")
	}
	return &resp, nil
}
