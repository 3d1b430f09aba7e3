package config

import "time"

// Config is the top-level configuration structure for toolauth.
type Config struct {
	AuthorizationServer AuthorizationServerConfig `yaml:"authorizationServer"`
	Store               StoreConfig               `yaml:"store"`
	CIBA                CIBAConfig                `yaml:"ciba"`
	Device              DeviceConfig              `yaml:"device"`
	Federated           FederatedConfig           `yaml:"federated"`
	Logging             LoggingConfig             `yaml:"logging"`
}

// AuthorizationServerConfig identifies the authorization server and the
// client toolauth authenticates as.
type AuthorizationServerConfig struct {
	Issuer       string `yaml:"issuer"`
	ClientID     string `yaml:"clientId"`
	ClientSecret string `yaml:"clientSecret,omitempty"`
	Audience     string `yaml:"audience,omitempty"`
	// AuthStyle is "params" (client_secret_post) or "header"
	// (client_secret_basic).
	AuthStyle         string          `yaml:"authStyle,omitempty"`
	Endpoints         EndpointsConfig `yaml:"endpoints,omitempty"`
	AllowInsecureHTTP bool            `yaml:"allowInsecureHttp,omitempty"`
	Timeout           time.Duration   `yaml:"timeout,omitempty"`
}

// EndpointsConfig overrides discovered endpoints.
type EndpointsConfig struct {
	TokenURL                     string `yaml:"tokenUrl,omitempty"`
	BackchannelAuthenticationURL string `yaml:"backchannelAuthenticationUrl,omitempty"`
	DeviceAuthorizationURL       string `yaml:"deviceAuthorizationUrl,omitempty"`
}

// Store backends.
const (
	StoreBackendMemory  = "memory"
	StoreBackendFile    = "file"
	StoreBackendRedis   = "redis"
	StoreBackendKeyring = "keyring"
)

// StoreConfig selects where pending requests and credentials are kept.
type StoreConfig struct {
	Backend string `yaml:"backend"`
	// Path is the directory of the file backend.
	Path     string        `yaml:"path,omitempty"`
	Capacity int           `yaml:"capacity,omitempty"`
	Redis    RedisConfig   `yaml:"redis,omitempty"`
	Keyring  KeyringConfig `yaml:"keyring,omitempty"`
}

type RedisConfig struct {
	URL    string `yaml:"url,omitempty"`
	Prefix string `yaml:"prefix,omitempty"`
}

type KeyringConfig struct {
	Service string `yaml:"service,omitempty"`
}

// CIBAConfig holds defaults for the backchannel authorizer.
type CIBAConfig struct {
	Scopes          []string `yaml:"scopes,omitempty"`
	BindingMessage  string   `yaml:"bindingMessage,omitempty"`
	RequestedExpiry int      `yaml:"requestedExpiry,omitempty"`
	SharingScope    string   `yaml:"sharingScope,omitempty"`
}

// DeviceConfig holds defaults for the device authorizer.
type DeviceConfig struct {
	Scopes       []string `yaml:"scopes,omitempty"`
	SharingScope string   `yaml:"sharingScope,omitempty"`
}

// FederatedConfig holds defaults for connection token exchange.
type FederatedConfig struct {
	Connection   string   `yaml:"connection,omitempty"`
	Scopes       []string `yaml:"scopes,omitempty"`
	Variant      string   `yaml:"variant,omitempty"`
	SharingScope string   `yaml:"sharingScope,omitempty"`
}

type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}
