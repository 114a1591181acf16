package cache

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"

	"weathercast/internal/errorutil"
	"weathercast/internal/logger"
)

const fileSchemaVersion = 1

// fileEntry is the on-disk TOML layout of one cached value
type fileEntry struct {
	Key           string `toml:"key"`
	CreatedAt     int64  `toml:"created_at"`           // Unix seconds, for debugging
	ExpiresAt     int64  `toml:"expires_at_unix_nano"` // Entry is dead from this instant
	Payload       string `toml:"payload"`              // Base64 of the stored bytes
	SchemaVersion int    `toml:"schema_version"`
}

// FileStore keeps one TOML file per key in a directory. Writes go through a
// temp file and rename, so concurrent readers see either the old or new entry.
type FileStore struct {
	dir string
	mu  sync.RWMutex
	now Clock
}

// FileOption configures a FileStore
type FileOption func(*FileStore)

// WithFileClock overrides the time source used for expiry
func WithFileClock(clock Clock) FileOption {
	return func(s *FileStore) {
		s.now = clock
	}
}

// NewFileStore creates dir if needed and returns a store rooted there
func NewFileStore(dir string, opts ...FileOption) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("file cache directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errorutil.NewFileError("mkdir", dir, err)
	}

	s := &FileStore{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// path maps a key to a filesystem-safe file name
func (s *FileStore) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:])+".toml")
}

func (s *FileStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path := s.path(key)
	entry, err := readFileEntry(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, errorutil.NewFileError("read", path, err)
	}

	if entry.Key != key || !s.now().Before(time.Unix(0, entry.ExpiresAt)) {
		return nil, false, nil
	}

	value, err := base64.StdEncoding.DecodeString(entry.Payload)
	if err != nil {
		return nil, false, fmt.Errorf("corrupt cache payload for %s: %w", key, err)
	}
	return value, true, nil
}

func (s *FileStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	now := s.now()
	data, err := toml.Marshal(fileEntry{
		Key:           key,
		CreatedAt:     now.Unix(),
		ExpiresAt:     now.Add(ttl).UnixNano(),
		Payload:       base64.StdEncoding.EncodeToString(value),
		SchemaVersion: fileSchemaVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return errorutil.WriteFileAtomic(logger.Get().Logger, s.path(key), data, 0600)
}

// Purge deletes expired, unreadable and outdated-schema entry files
func (s *FileStore) Purge(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths, err := filepath.Glob(filepath.Join(s.dir, "*.toml"))
	if err != nil {
		return 0, err
	}

	now := s.now()
	removed := 0
	for _, path := range paths {
		entry, err := readFileEntry(path)
		if err == nil && now.Before(time.Unix(0, entry.ExpiresAt)) {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errorutil.LogWarning(logger.Get().Logger, "cache purge", err, errorutil.FileContext(path)...)
			continue
		}
		removed++
	}
	return removed, nil
}

func (s *FileStore) Close() error {
	return nil
}

func readFileEntry(path string) (*fileEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entry fileEntry
	if err := toml.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to parse cache TOML: %w", err)
	}
	if entry.SchemaVersion != fileSchemaVersion {
		return nil, fmt.Errorf("unsupported cache schema version: %d", entry.SchemaVersion)
	}
	return &entry, nil
}
