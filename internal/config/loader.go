package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"toolauth/pkg/logging"
)

const (
	userConfigDir  = ".config/toolauth"
	configFileName = "config.yaml"

	// EnvClientSecret overrides authorizationServer.clientSecret.
	EnvClientSecret = "TOOLAUTH_CLIENT_SECRET"
)

// osUserHomeDir is replaced in tests.
var osUserHomeDir = os.UserHomeDir

// DefaultConfigDir returns ~/.config/toolauth.
func DefaultConfigDir() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// Load reads config.yaml from configDir over the defaults, applies
// environment overrides and validates the result. A missing file yields the
// defaults.
func Load(configDir string) (Config, error) {
	configFilePath := filepath.Join(configDir, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Debug("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
	case err != nil:
		return Config{}, ConfigurationError{
			FilePath:  configFilePath,
			FileName:  configFileName,
			ErrorType: ErrorTypeIO,
			Message:   "failed to read configuration file",
			Details:   err.Error(),
		}
	default:
		if err := decode(data, &config); err != nil {
			return Config{}, ConfigurationError{
				FilePath:    configFilePath,
				FileName:    configFileName,
				ErrorType:   ErrorTypeParse,
				Message:     "failed to parse configuration file",
				Details:     err.Error(),
				Suggestions: []string{"Check the YAML syntax and field names against the documented structure"},
			}
		}
		logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)
	}

	if config.Store.Path == "" {
		config.Store.Path = filepath.Join(configDir, DefaultStoreDir)
	}
	config.Store.Path = expandHome(config.Store.Path)
	applyEnv(&config)

	if err := config.Validate(); err != nil {
		return Config{}, ConfigurationError{
			FilePath:    configFilePath,
			FileName:    configFileName,
			ErrorType:   ErrorTypeValidation,
			Message:     "invalid configuration",
			Details:     err.Error(),
			Suggestions: suggestionsFor(err),
		}
	}
	return config, nil
}

// decode unmarshals data rejecting unknown fields. An empty file decodes to
// the defaults.
func decode(data []byte, config *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(config *Config) {
	if secret := os.Getenv(EnvClientSecret); secret != "" {
		config.AuthorizationServer.ClientSecret = secret
	}
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := osUserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
