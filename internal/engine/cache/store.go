package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const entrySuffix = ".json"

// FileStore keeps each entry in its own JSON file under a directory and
// enforces expiry on read. Safe for concurrent use within one process.
type FileStore struct {
	dir string
	now func() time.Time

	mu sync.RWMutex
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithClock replaces the clock used to stamp and expire entries.
func WithClock(now func() time.Time) FileStoreOption {
	return func(s *FileStore) {
		s.now = now
	}
}

// NewFileStore opens a store rooted at dir, creating it if needed.
func NewFileStore(dir string, opts ...FileStoreOption) (*FileStore, error) {
	s := &FileStore{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if dir == "" {
		return nil, errors.New("cache directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return s, nil
}

// Get implements Store. Expired and unparsable entries read as
// ErrCacheNotFound; the next Set replaces them.
func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	if err := s.check(key); err != nil {
		return nil, err
	}

	path := s.path(key)
	s.mu.RLock()
	entry, err := readEntry(path)
	s.mu.RUnlock()
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, errBadEntry):
		return nil, ErrCacheNotFound
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}

	if now := s.now(); entry.IsExpired(now) {
		s.evict(path, now)
		return nil, ErrCacheNotFound
	}
	return entry.Payload, nil
}

// Set implements Store. The entry is written to a temporary file and renamed
// into place so readers never see a partial write.
func (s *FileStore) Set(_ context.Context, key string, payload []byte, ttl time.Duration) error {
	if err := s.check(key); err != nil {
		return err
	}
	if ttl <= 0 {
		return fmt.Errorf("%w: got %s", ErrInvalidTTL, ttl)
	}

	data, err := json.Marshal(NewCacheEntry(key, payload, s.now(), ttl))
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}

	path := s.path(key)
	tmp := path + ".tmp"

	s.mu.Lock()
	defer s.mu.Unlock()
	if err = os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}
	if err = os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}
	return nil
}

// Ping reports whether the directory is still there.
func (s *FileStore) Ping(_ context.Context) error {
	if _, err := os.Stat(s.dir); err != nil {
		return fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}
	return nil
}

// CleanupExpired deletes expired entries and returns how many went.
func (s *FileStore) CleanupExpired() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	err := s.walk(func(path string, _ fs.FileInfo) {
		entry, readErr := readEntry(path)
		if readErr == nil && entry.IsExpired(now) && os.Remove(path) == nil {
			removed++
		}
	})
	return removed, err
}

// Count returns the number of entry files, expired ones included.
func (s *FileStore) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	err := s.walk(func(string, fs.FileInfo) { n++ })
	return n, err
}

// Size returns the total size of the entry files in bytes.
func (s *FileStore) Size() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	err := s.walk(func(_ string, info fs.FileInfo) { total += info.Size() })
	return total, err
}

func (s *FileStore) check(key string) error {
	if key == "" {
		return ErrInvalidCacheKey
	}
	return nil
}

// walk calls fn for every entry file in the directory. Callers hold mu.
func (s *FileStore) walk(fn func(path string, info fs.FileInfo)) error {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("reading cache directory: %w", err)
	}
	for _, d := range dirEntries {
		if d.IsDir() || filepath.Ext(d.Name()) != entrySuffix {
			continue
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			continue
		}
		fn(filepath.Join(s.dir, d.Name()), info)
	}
	return nil
}

// evict deletes path unless a concurrent Set already replaced it with a
// live entry.
func (s *FileStore) evict(path string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, err := readEntry(path); err == nil && !entry.IsExpired(now) {
		return
	}
	_ = os.Remove(path)
}

// path maps key to its file. Keys are arbitrary query text, so the name is
// the hex SHA-256 of the key.
func (s *FileStore) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:])+entrySuffix)
}
