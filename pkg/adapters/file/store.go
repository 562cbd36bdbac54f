package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/concord/pkg/domain"
)

const ext = ".json"

// Store implements ports.KVStore using the local filesystem.
// Each key is a JSON envelope file carrying the value and its expiry.
type Store struct {
	BasePath string

	now func() time.Time
}

type envelope struct {
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Value     []byte     `json:"value"`
}

// New creates a new Store with the given base path.
// If basePath is empty, it defaults to ".concord/sessions".
func New(basePath string) *Store {
	if basePath == "" {
		basePath = filepath.Join(".concord", "sessions")
	}
	return &Store{BasePath: basePath, now: time.Now}
}

func (s *Store) path(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("key cannot be empty")
	}
	if strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(s.BasePath, key+ext), nil
}

// Set persists the value atomically.
// It writes to a temporary file first, syncs via fsync, and then renames it to the destination.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	destPath, err := s.path(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.BasePath, 0755); err != nil {
		return fmt.Errorf("failed to ensure session directory: %w", err)
	}

	env := envelope{Value: value}
	if ttl > 0 {
		exp := s.now().Add(ttl)
		env.ExpiresAt = &exp
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	// Same directory so the rename stays on one filesystem.
	tmpFile, err := os.CreateTemp(s.BasePath, "tmp-"+key+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath) // no-op once renamed
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	// Cannot rename an open file on Windows.
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file to valid session: %w", err)
	}
	return nil
}

// Get reads the value, treating expired entries as missing and removing them.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	filePath, err := s.path(key)
	if err != nil {
		return nil, err
	}

	env, err := s.read(filePath)
	if err != nil {
		return nil, err
	}
	if s.expired(env) {
		_ = os.Remove(filePath)
		return nil, domain.ErrSessionNotFound
	}
	return env.Value, nil
}

func (s *Store) read(filePath string) (*envelope, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session file: %w", err)
	}
	return &env, nil
}

func (s *Store) expired(env *envelope) bool {
	return env.ExpiresAt != nil && !s.now().Before(*env.ExpiresAt)
}

// Delete removes the session file.
func (s *Store) Delete(ctx context.Context, key string) error {
	filePath, err := s.path(key)
	if err != nil {
		return err
	}

	err = os.Remove(filePath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}
	return nil
}

// List returns all unexpired keys.
func (s *Store) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.BasePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	keys := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ext || strings.HasPrefix(name, "tmp-") {
			continue
		}
		env, err := s.read(filepath.Join(s.BasePath, name))
		if err != nil || s.expired(env) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ext))
	}
	return keys, nil
}
