package config

import (
	"fmt"
	"net/url"
	"strings"

	"toolauth/internal/toolcall"
)

// Validate checks field values. It does not require the authorization server
// to be configured, since commands may take it from flags.
func (c Config) Validate() error {
	var errs ValidationErrors

	as := c.AuthorizationServer
	if as.Issuer != "" {
		if err := validateURL(as.Issuer); err != nil {
			errs.Add("authorizationServer.issuer", err.Error(), as.Issuer)
		}
	}
	for field, value := range map[string]string{
		"authorizationServer.endpoints.tokenUrl":                     as.Endpoints.TokenURL,
		"authorizationServer.endpoints.backchannelAuthenticationUrl": as.Endpoints.BackchannelAuthenticationURL,
		"authorizationServer.endpoints.deviceAuthorizationUrl":       as.Endpoints.DeviceAuthorizationURL,
	} {
		if value == "" {
			continue
		}
		if err := validateURL(value); err != nil {
			errs.Add(field, err.Error(), value)
		}
	}
	if err := validateOneOf(as.AuthStyle, "", "params", "header"); err != nil {
		errs.Add("authorizationServer.authStyle", err.Error(), as.AuthStyle)
	}
	if as.Timeout < 0 {
		errs.Add("authorizationServer.timeout", "must not be negative", as.Timeout)
	}
	if as.ClientSecret != "" && as.ClientID == "" {
		errs.Add("authorizationServer.clientSecret", "is set but clientId is empty")
	}

	st := c.Store
	if err := validateOneOf(st.Backend, StoreBackendMemory, StoreBackendFile, StoreBackendRedis, StoreBackendKeyring); err != nil {
		errs.Add("store.backend", err.Error(), st.Backend)
	}
	if st.Backend == StoreBackendFile && st.Path == "" {
		errs.Add("store.path", "is required for the file backend")
	}
	if st.Backend == StoreBackendRedis && st.Redis.URL == "" {
		errs.Add("store.redis.url", "is required for the redis backend")
	}
	if st.Capacity < 0 {
		errs.Add("store.capacity", "must not be negative", st.Capacity)
	}

	for field, value := range map[string]string{
		"ciba.sharingScope":      c.CIBA.SharingScope,
		"device.sharingScope":    c.Device.SharingScope,
		"federated.sharingScope": c.Federated.SharingScope,
	} {
		if _, err := toolcall.ParseScope(value); err != nil {
			errs.Add(field, err.Error(), value)
		}
	}
	if c.CIBA.RequestedExpiry < 0 {
		errs.Add("ciba.requestedExpiry", "must not be negative", c.CIBA.RequestedExpiry)
	}
	if err := validateOneOf(c.Federated.Variant, "", "federated-connection", "token-vault"); err != nil {
		errs.Add("federated.variant", err.Error(), c.Federated.Variant)
	}

	if err := validateOneOf(c.Logging.Level, "", "debug", "info", "warn", "error"); err != nil {
		errs.Add("logging.level", err.Error(), c.Logging.Level)
	}
	if err := validateOneOf(c.Logging.Format, "", "text", "json"); err != nil {
		errs.Add("logging.format", err.Error(), c.Logging.Format)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("is not a valid URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("must be an http(s) URL")
	}
	if u.Host == "" {
		return fmt.Errorf("must include a host")
	}
	return nil
}

func validateOneOf(value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	var named []string
	for _, a := range allowed {
		if a != "" {
			named = append(named, a)
		}
	}
	return fmt.Errorf("must be one of: %s", strings.Join(named, ", "))
}
