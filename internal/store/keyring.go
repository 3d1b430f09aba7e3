package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zalando/go-keyring"

	"toolauth/internal/clock"
	"toolauth/pkg/logging"
)

// DefaultKeyringService is the keychain service name entries are filed under.
const DefaultKeyringService = "toolauth"

// ErrEntryTooLarge is returned when the keychain refuses a value.
var ErrEntryTooLarge = errors.New("store entry too large for keyring")

// KeyringStore keeps entries in the operating system keychain.
type KeyringStore struct {
	service string
	clock   clock.Clock
}

// NewKeyringStore returns a KeyringStore for the given service name.
func NewKeyringStore(service string, c clock.Clock) *KeyringStore {
	if service == "" {
		service = DefaultKeyringService
	}
	return &KeyringStore{service: service, clock: clock.OrReal(c)}
}

func (s *KeyringStore) Get(_ context.Context, namespace []string, key string) ([]byte, bool, error) {
	k := EncodeKey(namespace, key)
	secret, err := keyring.Get(s.service, k)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read keyring entry: %w", err)
	}

	var e envelope
	if err := json.Unmarshal([]byte(secret), &e); err != nil {
		logging.Warn("Store", "Removing corrupt keyring entry: %v", err)
		_ = keyring.Delete(s.service, k)
		return nil, false, nil
	}
	if e.expired(s.clock.Now()) {
		if err := keyring.Delete(s.service, k); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return nil, false, fmt.Errorf("failed to remove expired keyring entry: %w", err)
		}
		return nil, false, nil
	}
	return []byte(e.Value), true, nil
}

func (s *KeyringStore) Put(_ context.Context, namespace []string, key string, value []byte, ttl time.Duration) error {
	data, err := json.Marshal(newEnvelope(namespace, key, value, ttl, s.clock.Now()))
	if err != nil {
		return fmt.Errorf("failed to encode keyring entry: %w", err)
	}
	if err := keyring.Set(s.service, EncodeKey(namespace, key), string(data)); err != nil {
		if errors.Is(err, keyring.ErrSetDataTooBig) {
			return fmt.Errorf("%w: %v", ErrEntryTooLarge, err)
		}
		return fmt.Errorf("failed to write keyring entry: %w", err)
	}
	return nil
}

func (s *KeyringStore) Delete(_ context.Context, namespace []string, key string) error {
	err := keyring.Delete(s.service, EncodeKey(namespace, key))
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete keyring entry: %w", err)
	}
	return nil
}
