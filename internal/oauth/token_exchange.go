package oauth

import (
	"context"
	"fmt"
	"net/url"

	"toolauth/pkg/logging"
)

// validateExchangeRequest validates the exchange request and returns an error if invalid.
func validateExchangeRequest(req *TokenExchangeRequest) error {
	if req == nil {
		return fmt.Errorf("exchange request is nil")
	}
	if req.SubjectToken == "" {
		return fmt.Errorf("subject token is required")
	}
	if req.Connection == "" {
		return fmt.Errorf("connection is required")
	}
	switch req.SubjectTokenType {
	case "", TokenTypeRefreshToken, TokenTypeAccessToken:
	default:
		return fmt.Errorf("unsupported subject token type %q", req.SubjectTokenType)
	}
	return nil
}

// ExchangeToken exchanges a refresh or access token for an access token to
// the federated connection named in req.
func (c *Client) ExchangeToken(ctx context.Context, req *TokenExchangeRequest) (*TokenResponse, error) {
	if err := validateExchangeRequest(req); err != nil {
		return nil, err
	}

	metadata, err := c.Discover(ctx)
	if err != nil {
		return nil, err
	}

	subjectType := req.SubjectTokenType
	if subjectType == "" {
		subjectType = TokenTypeRefreshToken
	}

	form := url.Values{}
	form.Set("grant_type", GrantTypeFederatedConnectionAccessToken)
	form.Set("subject_token_type", subjectType)
	form.Set("subject_token", req.SubjectToken)
	form.Set("connection", req.Connection)
	form.Set("requested_token_type", TokenTypeFederatedConnectionAccessToken)
	if req.LoginHint != "" {
		form.Set("login_hint", req.LoginHint)
	}

	logging.Debug("OAuth", "Exchanging %s for connection=%s", subjectTypeName(subjectType), req.Connection)

	var resp TokenResponse
	if err := c.postForm(ctx, "token_exchange", metadata.TokenEndpoint, form, &resp); err != nil {
		logging.Warn("OAuth", "Token exchange failed for connection=%s: %v", req.Connection, err)
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("token exchange response has no access_token")
	}

	logging.Debug("OAuth", "Exchanged token for connection=%s (expires_in=%d, scope=%q)",
		req.Connection, resp.ExpiresIn, resp.Scope)
	return &resp, nil
}

func subjectTypeName(t string) string {
	if t == TokenTypeAccessToken {
		return "access token"
	}
	return "refresh token"
}
