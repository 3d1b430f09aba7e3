package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte(content), 0600))
}

func TestLoad_DefaultsWhenMissing(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, StoreBackendFile, cfg.Store.Backend)
	assert.Equal(t, filepath.Join(dir, DefaultStoreDir), cfg.Store.Path)
	assert.Equal(t, []string{"openid"}, cfg.CIBA.Scopes)
	assert.Equal(t, "thread", cfg.Federated.SharingScope)
	assert.Equal(t, DefaultTimeout, cfg.AuthorizationServer.Timeout)
}

func TestLoad_EmptyFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, StoreBackendFile, cfg.Store.Backend)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
authorizationServer:
  issuer: "https://tenant.example.com/"
  clientId: "agent"
  authStyle: header
  timeout: 5s
store:
  backend: redis
  redis:
    url: "redis://localhost:6379/0"
ciba:
  scopes: ["openid", "read:accounts"]
  bindingMessage: "Approve transfer"
  sharingScope: thread
federated:
  connection: google-oauth2
  variant: token-vault
`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "https://tenant.example.com/", cfg.AuthorizationServer.Issuer)
	assert.Equal(t, "agent", cfg.AuthorizationServer.ClientID)
	assert.Equal(t, "header", cfg.AuthorizationServer.AuthStyle)
	assert.Equal(t, 5*time.Second, cfg.AuthorizationServer.Timeout)
	assert.Equal(t, StoreBackendRedis, cfg.Store.Backend)
	assert.Equal(t, "toolauth:", cfg.Store.Redis.Prefix, "unset nested fields keep their defaults")
	assert.Equal(t, []string{"openid", "read:accounts"}, cfg.CIBA.Scopes)
	assert.Equal(t, "Approve transfer", cfg.CIBA.BindingMessage)
	assert.Equal(t, "thread", cfg.CIBA.SharingScope)
	assert.Equal(t, "token-vault", cfg.Federated.Variant)
}

func TestLoad_ClientSecretFromEnvironment(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
authorizationServer:
  clientId: "agent"
  clientSecret: "from-file"
`)
	t.Setenv(EnvClientSecret, "from-env")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.AuthorizationServer.ClientSecret)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		errorType string
		contains  string
	}{
		{
			name:      "malformed yaml",
			content:   "store: [unterminated",
			errorType: ErrorTypeParse,
		},
		{
			name:      "unknown field",
			content:   "store:\n  backnd: memory\n",
			errorType: ErrorTypeParse,
			contains:  "backnd",
		},
		{
			name:      "invalid backend",
			content:   "store:\n  backend: s3\n",
			errorType: ErrorTypeValidation,
			contains:  "store.backend",
		},
		{
			name:      "redis without url",
			content:   "store:\n  backend: redis\n",
			errorType: ErrorTypeValidation,
			contains:  "store.redis.url",
		},
		{
			name:      "invalid sharing scope",
			content:   "ciba:\n  sharingScope: session\n",
			errorType: ErrorTypeValidation,
			contains:  "ciba.sharingScope",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, tt.content)

			_, err := Load(dir)
			require.Error(t, err)

			var cerr ConfigurationError
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, tt.errorType, cerr.ErrorType)
			assert.Equal(t, filepath.Join(dir, configFileName), cerr.FilePath)
			if tt.contains != "" {
				assert.Contains(t, cerr.Details, tt.contains)
			}
		})
	}
}

func TestLoad_RedisSuggestion(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "store:\n  backend: redis\n")

	_, err := Load(dir)
	var cerr ConfigurationError
	require.True(t, errors.As(err, &cerr))
	require.NotEmpty(t, cerr.Suggestions)
	assert.Contains(t, cerr.DetailedError(), "Suggestions:")
	assert.Contains(t, cerr.DetailedError(), "redis://localhost:6379/0")
}

func TestDefaultConfigDir(t *testing.T) {
	original := osUserHomeDir
	defer func() { osUserHomeDir = original }()

	osUserHomeDir = func() (string, error) { return "/home/alice", nil }
	dir, err := DefaultConfigDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/home/alice", ".config", "toolauth"), dir)

	assert.Equal(t, filepath.Join("/home/alice", "tokens"), expandHome("~/tokens"))
	assert.Equal(t, "/var/lib/toolauth", expandHome("/var/lib/toolauth"))

	osUserHomeDir = func() (string, error) { return "", errors.New("no home") }
	_, err = DefaultConfigDir()
	assert.Error(t, err)
}
