package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable clock for expiry tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCacheEntry(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	entry := NewCacheEntry("test-key", []byte(`[{"x":1}]`), now, time.Hour)

	assert.Equal(t, "test-key", entry.Key)
	assert.Equal(t, time.Hour, entry.TTL())
	assert.False(t, entry.IsExpired(now))
	assert.False(t, entry.IsExpired(now.Add(59*time.Minute)))
	assert.True(t, entry.IsExpired(now.Add(time.Hour)), "expires at exactly ExpiresAt")

	t.Run("on disk", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "entry.json")
		short := NewCacheEntry("k", []byte("[]"), now, 1500*time.Millisecond)
		encoded, err := json.Marshal(short)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path, encoded, 0o600))

		decoded, err := readEntry(path)
		require.NoError(t, err)
		assert.Equal(t, short.Payload, decoded.Payload)
		assert.Equal(t, 1500*time.Millisecond, decoded.TTL(), "sub-second expiry survives")
	})

	t.Run("malformed", func(t *testing.T) {
		dir := t.TempDir()
		for name, content := range map[string]string{
			"garbage.json":  "{not json",
			"noexpiry.json": `{"key":"k","payload":"W10="}`,
		} {
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
			_, err := readEntry(path)
			assert.ErrorIs(t, err, errBadEntry, name)
		}
		_, err := readEntry(filepath.Join(dir, "absent.json"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestDeriveKey(t *testing.T) {
	assert.Equal(t, "postgres_cache:SELECT 1 AS x", DeriveKey("", "SELECT 1 AS x"))
	assert.Equal(t, "dash:SELECT 1 AS x", DeriveKey("dash", "SELECT 1 AS x"))

	a1 := DeriveKey("", "SELECT * FROM fct_collaboration WHERE author_id = 'A1'")
	a2 := DeriveKey("", "SELECT * FROM fct_collaboration WHERE author_id = 'A2'")
	assert.NotEqual(t, a1, a2)

	// Formatting differences are not normalized away.
	assert.NotEqual(t, DeriveKey("", "SELECT 1"), DeriveKey("", "SELECT  1"))
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store, err := NewFileStore(t.TempDir(), WithClock(clock.Now))
	require.NoError(t, err)
	require.NoError(t, store.Ping(ctx))

	key := DeriveKey("", "SELECT 1 AS x")
	payload := []byte(`[{"x":1}]`)

	t.Run("SetAndGet", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, key, payload, DefaultTTL))

		got, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, payload, got)

		count, _ := store.Count()
		assert.Equal(t, 1, count)

		size, _ := store.Size()
		assert.Greater(t, size, int64(0))
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := store.Get(ctx, "postgres_cache:never written")
		assert.ErrorIs(t, err, ErrCacheNotFound)
	})

	t.Run("Expiry", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "short", payload, time.Minute))

		clock.Advance(59 * time.Second)
		_, err := store.Get(ctx, "short")
		require.NoError(t, err)

		clock.Advance(time.Second)
		_, err = store.Get(ctx, "short")
		assert.ErrorIs(t, err, ErrCacheNotFound)
	})

	t.Run("CleanupExpired", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "stale", payload, time.Minute))
		clock.Advance(2 * time.Minute)

		before, _ := store.Count()
		removed, err := store.CleanupExpired()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, removed, 1)
		after, _ := store.Count()
		assert.Equal(t, before-removed, after)
	})

	t.Run("CorruptFileReadsAsMissing", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "torn", payload, time.Hour))
		require.NoError(t, os.WriteFile(store.path("torn"), []byte("{not json"), 0600))

		_, err := store.Get(ctx, "torn")
		assert.ErrorIs(t, err, ErrCacheNotFound)
	})

	t.Run("InvalidInput", func(t *testing.T) {
		_, err := store.Get(ctx, "")
		assert.ErrorIs(t, err, ErrInvalidCacheKey)
		assert.ErrorIs(t, store.Set(ctx, "", payload, time.Hour), ErrInvalidCacheKey)
		assert.ErrorIs(t, store.Set(ctx, "k", payload, 0), ErrInvalidTTL)
	})

	t.Run("EmptyDirectory", func(t *testing.T) {
		_, err := NewFileStore("")
		assert.Error(t, err)
	})

	t.Run("UnreadableDirectory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "gone")
		gone, err := NewFileStore(dir)
		require.NoError(t, err)
		require.NoError(t, os.RemoveAll(dir))

		assert.ErrorIs(t, gone.Ping(ctx), ErrCacheUnavailable)
		assert.ErrorIs(t, gone.Set(ctx, "k", payload, time.Hour), ErrCacheUnavailable)
	})
}

func TestTTL(t *testing.T) {
	assert.Equal(t, time.Hour, DefaultTTL)

	t.Run("Validate", func(t *testing.T) {
		require.NoError(t, ValidateTTL(DefaultTTLSeconds))
		assert.ErrorIs(t, ValidateTTL(10), ErrInvalidTTL)
		assert.ErrorIs(t, ValidateTTL(MaxTTLSeconds+1), ErrInvalidTTL)
	})

	t.Run("FormatDuration", func(t *testing.T) {
		assert.Equal(t, "30s", FormatDuration(30*time.Second))
		assert.Equal(t, "5m", FormatDuration(5*time.Minute))
		assert.Equal(t, "2h", FormatDuration(2*time.Hour))
		assert.Equal(t, "2h30m", FormatDuration(2*time.Hour+30*time.Minute))
		assert.Equal(t, "3d", FormatDuration(72*time.Hour))
		assert.Equal(t, "3d2h", FormatDuration(74*time.Hour))
		assert.Equal(t, "1h", FormatDuration(time.Hour+5*time.Second), "units must be adjacent")
		assert.Equal(t, "0s", FormatDuration(0))
	})

	t.Run("ParseTTL", func(t *testing.T) {
		ttl, err := ParseTTL("3600")
		require.NoError(t, err)
		assert.Equal(t, 3600, ttl)

		ttl, err = ParseTTL("1h")
		require.NoError(t, err)
		assert.Equal(t, 3600, ttl)

		ttl, err = ParseTTL(" 90m ")
		require.NoError(t, err)
		assert.Equal(t, 5400, ttl)

		_, err = ParseTTL("invalid")
		assert.ErrorIs(t, err, ErrInvalidTTL)

		_, err = ParseTTL("5s")
		assert.ErrorIs(t, err, ErrInvalidTTL)
	})
}
