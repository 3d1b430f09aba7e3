package config

import "time"

const (
	// DefaultTimeout bounds every authorization server request.
	DefaultTimeout = 30 * time.Second

	// DefaultStoreDir is the file store directory below the config directory.
	DefaultStoreDir = "store"
)

// GetDefaultConfig returns the configuration used when no file exists.
// Store.Path is filled in by Load relative to the configuration directory.
func GetDefaultConfig() Config {
	return Config{
		AuthorizationServer: AuthorizationServerConfig{
			AuthStyle: "params",
			Timeout:   DefaultTimeout,
		},
		Store: StoreConfig{
			Backend: StoreBackendFile,
			Redis:   RedisConfig{Prefix: "toolauth:"},
			Keyring: KeyringConfig{Service: "toolauth"},
		},
		CIBA: CIBAConfig{
			Scopes:       []string{"openid"},
			SharingScope: "tool-call",
		},
		Device: DeviceConfig{
			Scopes:       []string{"openid"},
			SharingScope: "tool-call",
		},
		Federated: FederatedConfig{
			Variant:      "federated-connection",
			SharingScope: "thread",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
