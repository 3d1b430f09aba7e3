package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"toolauth/internal/clock"
	"toolauth/pkg/logging"
)

// FileStore persists entries as JSON files below a base directory. File names
// are SHA-256 digests of the encoded key so namespaces never become paths.
type FileStore struct {
	basePath string
	fs       afero.Fs
	clock    clock.Clock
}

// NewFileStore creates the base directory (0700) if needed.
func NewFileStore(basePath string, fs afero.Fs, c clock.Clock) (*FileStore, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if err := fs.MkdirAll(basePath, 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{basePath: basePath, fs: fs, clock: clock.OrReal(c)}, nil
}

func (s *FileStore) path(namespace []string, key string) string {
	sum := sha256.Sum256([]byte(EncodeKey(namespace, key)))
	return filepath.Join(s.basePath, hex.EncodeToString(sum[:])+".json")
}

// Get reads namespace/key. Expired or unreadable entries are removed and
// reported as absent.
func (s *FileStore) Get(_ context.Context, namespace []string, key string) ([]byte, bool, error) {
	p := s.path(namespace, key)
	data, err := afero.ReadFile(s.fs, p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read store entry: %w", err)
	}

	var e envelope
	if err := json.Unmarshal(data, &e); err != nil {
		logging.Warn("Store", "Removing corrupt file entry %s: %v", filepath.Base(p), err)
		_ = s.fs.Remove(p)
		return nil, false, nil
	}
	if e.expired(s.clock.Now()) {
		if err := s.fs.Remove(p); err != nil && !os.IsNotExist(err) {
			return nil, false, fmt.Errorf("failed to remove expired store entry: %w", err)
		}
		return nil, false, nil
	}
	return []byte(e.Value), true, nil
}

// Put writes namespace/key with mode 0600.
func (s *FileStore) Put(_ context.Context, namespace []string, key string, value []byte, ttl time.Duration) error {
	data, err := json.Marshal(newEnvelope(namespace, key, value, ttl, s.clock.Now()))
	if err != nil {
		return fmt.Errorf("failed to encode store entry: %w", err)
	}
	if err := afero.WriteFile(s.fs, s.path(namespace, key), data, 0600); err != nil {
		return fmt.Errorf("failed to write store entry: %w", err)
	}
	return nil
}

// Delete removes namespace/key. A missing file is not an error.
func (s *FileStore) Delete(_ context.Context, namespace []string, key string) error {
	if err := s.fs.Remove(s.path(namespace, key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete store entry: %w", err)
	}
	return nil
}
