package cmd

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"golang.org/x/oauth2"

	"toolauth/internal/config"
	"toolauth/internal/oauth"
	"toolauth/internal/store"
)

// newOAuthClient builds the authorization server client from cfg.
func newOAuthClient(cfg config.AuthorizationServerConfig) (*oauth.Client, error) {
	if cfg.Issuer == "" && cfg.Endpoints.TokenURL == "" {
		return nil, errors.New("no authorization server configured: set authorizationServer.issuer or pass --issuer")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("no client ID configured: set authorizationServer.clientId or pass --client-id")
	}

	authStyle := oauth2.AuthStyleInParams
	if cfg.AuthStyle == "header" {
		authStyle = oauth2.AuthStyleInHeader
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = config.DefaultTimeout
	}

	return oauth.NewClient(oauth.Config{
		Issuer:       cfg.Issuer,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		AuthStyle:    authStyle,
		Endpoints: oauth.Endpoints{
			TokenURL:                     cfg.Endpoints.TokenURL,
			BackchannelAuthenticationURL: cfg.Endpoints.BackchannelAuthenticationURL,
			DeviceAuthorizationURL:       cfg.Endpoints.DeviceAuthorizationURL,
		},
		HTTPClient:        &http.Client{Timeout: timeout},
		AllowInsecureHTTP: cfg.AllowInsecureHTTP,
	})
}

// openStore opens the configured store backend. The returned function
// releases it.
func openStore(cfg config.StoreConfig) (store.Store, func(), error) {
	switch cfg.Backend {
	case config.StoreBackendMemory:
		var opts []store.MemoryOption
		if cfg.Capacity > 0 {
			opts = append(opts, store.WithCapacity(cfg.Capacity))
		}
		s, err := store.NewMemoryStore(opts...)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case config.StoreBackendFile:
		s, err := store.NewFileStore(cfg.Path, afero.NewOsFs(), nil)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil

	case config.StoreBackendRedis:
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		client := redis.NewClient(opts)
		var storeOpts []store.RedisOption
		if cfg.Redis.Prefix != "" {
			storeOpts = append(storeOpts, store.WithKeyPrefix(cfg.Redis.Prefix))
		}
		return store.NewRedisStore(client, storeOpts...), func() { _ = client.Close() }, nil

	case config.StoreBackendKeyring:
		return store.NewKeyringStore(cfg.Keyring.Service, nil), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
