package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eutopia/collabdash/internal/engine/cache"
	"github.com/eutopia/collabdash/internal/source"
	"github.com/eutopia/collabdash/internal/table"
)

// countingSource serves canned tables and counts Execute calls per query.
type countingSource struct {
	mu      sync.Mutex
	results map[string]*table.Table
	err     error
	calls   map[string]int
	total   atomic.Int64
	delay   time.Duration
}

func newCountingSource() *countingSource {
	return &countingSource{results: map[string]*table.Table{}, calls: map[string]int{}}
}

func (s *countingSource) Execute(_ context.Context, query string) (*table.Table, error) {
	s.total.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[query]++
	if s.err != nil {
		return nil, s.err
	}
	t, ok := s.results[query]
	if !ok {
		return nil, &source.QueryError{Code: "42P01", Message: "relation does not exist"}
	}
	return t.Clone(), nil
}

func (s *countingSource) Calls(query string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[query]
}

// memoryStore is an in-process Store with a settable clock and injectable failures.
type memoryStore struct {
	mu      sync.Mutex
	now     time.Time
	entries map[string]memoryEntry
	getErr  error
	setErr  error
	sets    int
	lastTTL time.Duration
}

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		now:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		entries: map[string]memoryEntry{},
	}
}

func (m *memoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	e, ok := m.entries[key]
	if !ok || !m.now.Before(e.expiresAt) {
		return nil, cache.ErrCacheNotFound
	}
	return e.payload, nil
}

func (m *memoryStore) Set(_ context.Context, key string, payload []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	if m.setErr != nil {
		return m.setErr
	}
	m.lastTTL = ttl
	m.entries[key] = memoryEntry{payload: append([]byte(nil), payload...), expiresAt: m.now.Add(ttl)}
	return nil
}

func (m *memoryStore) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

func (m *memoryStore) Raw(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	return e.payload, ok
}

func (m *memoryStore) Put(key string, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{payload: payload, expiresAt: m.now.Add(time.Hour)}
}

func (m *memoryStore) Sets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets
}

// testEnv satisfies Environment.
type testEnv struct {
	store cache.Store
	src   Source
	quiet bool
}

func (e testEnv) Cache() cache.Store { return e.store }
func (e testEnv) Source() Source     { return e.src }
func (e testEnv) Verbose() bool      { return !e.quiet }

func oneColumn(t *testing.T, col string, values ...any) *table.Table {
	t.Helper()
	tbl := table.New(col)
	for _, v := range values {
		require.NoError(t, tbl.Append(v))
	}
	return tbl
}

const selectOne = "SELECT 1 AS x"

func TestQuery_MissThenHit(t *testing.T) {
	ctx := context.Background()
	src := newCountingSource()
	src.results[selectOne] = oneColumn(t, "x", json.Number("1"))
	store := newMemoryStore()
	exec := NewExecutor(testEnv{store: store, src: src})

	first, err := exec.Query(ctx, selectOne)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"x": json.Number("1")}}, first.Records())
	assert.Equal(t, 1, src.Calls(selectOne))

	raw, ok := store.Raw("postgres_cache:" + selectOne)
	require.True(t, ok, "miss must populate the cache under the derived key")
	assert.Equal(t, `[{"x":1}]`, string(raw))
	assert.Equal(t, 3600*time.Second, store.lastTTL)

	second, err := exec.Query(ctx, selectOne)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, src.Calls(selectOne), "second call within TTL must be a hit")

	assert.Equal(t, Stats{Hits: 1, Misses: 1}, exec.Stats())
}

func TestQuery_AtMostOneSourceCallPerImmediateRepeat(t *testing.T) {
	ctx := context.Background()
	src := newCountingSource()
	queries := []string{
		selectOne,
		"SELECT research_area_name AS research_area FROM dim_research_area",
		"SELECT institution_id FROM dim_eutopia_institution",
	}
	for i, q := range queries {
		src.results[q] = oneColumn(t, "v", json.Number(fmt.Sprint(i)))
	}
	exec := NewExecutor(testEnv{store: newMemoryStore(), src: src})

	for _, q := range queries {
		_, err := exec.Query(ctx, q)
		require.NoError(t, err)
		_, err = exec.Query(ctx, q)
		require.NoError(t, err)
		assert.LessOrEqual(t, src.Calls(q), 1, q)
	}
}

func TestQuery_RoundTripMatchesDirectExecution(t *testing.T) {
	ctx := context.Background()
	q := "SELECT * FROM fct_article"
	direct := table.New("article_doi", "normalized_citations", "collaboration_novelty_index", "publication_year")
	require.NoError(t, direct.Append("10.1000/xyz", json.Number("1.23456"), json.Number("0.87"), json.Number("2021")))
	require.NoError(t, direct.Append("10.1000/abc", nil, json.Number("-0.5"), json.Number("2019")))
	require.NoError(t, direct.Append("", json.Number("0"), nil, nil))

	src := newCountingSource()
	src.results[q] = direct
	exec := NewExecutor(testEnv{store: newMemoryStore(), src: src})

	fresh, err := exec.Query(ctx, q)
	require.NoError(t, err)
	cached, err := exec.Query(ctx, q)
	require.NoError(t, err)

	assert.Equal(t, direct, fresh)
	assert.Equal(t, direct, cached)
	assert.Equal(t, 1, src.Calls(q))
}

func TestQuery_HitsAreByteIdenticalUntilExpiry(t *testing.T) {
	ctx := context.Background()
	src := newCountingSource()
	src.results[selectOne] = oneColumn(t, "x", json.Number("1"))
	store := newMemoryStore()
	exec := NewExecutor(testEnv{store: store, src: src})
	key := exec.Key(selectOne)

	_, err := exec.Query(ctx, selectOne)
	require.NoError(t, err)
	payload, _ := store.Raw(key)

	for range 3 {
		store.Advance(20 * time.Minute)
		_, err = exec.Query(ctx, selectOne)
		require.NoError(t, err)
		again, _ := store.Raw(key)
		assert.Equal(t, payload, again)
	}
	// 60 minutes elapsed: the entry expired on the last probe and was refilled.
	assert.Equal(t, 2, src.Calls(selectOne))

	store.Advance(59 * time.Minute)
	_, err = exec.Query(ctx, selectOne)
	require.NoError(t, err)
	assert.Equal(t, 2, src.Calls(selectOne))
}

func TestQuery_DegradesWhenCacheUnreachable(t *testing.T) {
	ctx := context.Background()
	src := newCountingSource()
	src.results[selectOne] = oneColumn(t, "x", json.Number("1"))
	store := newMemoryStore()
	store.getErr = fmt.Errorf("%w: dial tcp 127.0.0.1:6379: connect: connection refused", cache.ErrCacheUnavailable)
	exec := NewExecutor(testEnv{store: store, src: src})

	for range 2 {
		got, err := exec.Query(ctx, selectOne)
		require.NoError(t, err, "cache failures must never reach the caller")
		assert.Equal(t, src.results[selectOne], got)
	}

	assert.Equal(t, 2, src.Calls(selectOne), "degraded calls go to the source every time")
	assert.Equal(t, 0, store.Sets(), "no write-back while the cache is unreachable")
	assert.Equal(t, int64(2), exec.Stats().Degraded)
}

func TestQuery_DegradesOnAnyProbeError(t *testing.T) {
	ctx := context.Background()
	src := newCountingSource()
	src.results[selectOne] = oneColumn(t, "x", json.Number("1"))
	store := newMemoryStore()
	store.getErr = errors.New("i/o timeout")
	exec := NewExecutor(testEnv{store: store, src: src})

	_, err := exec.Query(ctx, selectOne)
	require.NoError(t, err)
	assert.Equal(t, 0, store.Sets())
}

func TestQuery_NoCacheConfigured(t *testing.T) {
	src := newCountingSource()
	src.results[selectOne] = oneColumn(t, "x", json.Number("1"))
	exec := NewExecutor(testEnv{store: nil, src: src})

	got, err := exec.Query(context.Background(), selectOne)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Len())
}

func TestQuery_CorruptPayloadIsAMiss(t *testing.T) {
	ctx := context.Background()
	src := newCountingSource()
	src.results[selectOne] = oneColumn(t, "x", json.Number("1"))
	store := newMemoryStore()
	exec := NewExecutor(testEnv{store: store, src: src})
	store.Put(exec.Key(selectOne), []byte(`{"x": 1`))

	got, err := exec.Query(ctx, selectOne)
	require.NoError(t, err)
	assert.Equal(t, src.results[selectOne], got)
	assert.Equal(t, 1, src.Calls(selectOne))

	raw, _ := store.Raw(exec.Key(selectOne))
	assert.Equal(t, `[{"x":1}]`, string(raw), "corrupt entry is overwritten")
	assert.Equal(t, int64(1), exec.Stats().Corrupt)
}

func TestQuery_WriteFailureStillReturnsRows(t *testing.T) {
	src := newCountingSource()
	src.results[selectOne] = oneColumn(t, "x", json.Number("1"))
	store := newMemoryStore()
	store.setErr = cache.ErrCacheUnavailable
	exec := NewExecutor(testEnv{store: store, src: src})

	got, err := exec.Query(context.Background(), selectOne)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Len())
	assert.Equal(t, int64(1), exec.Stats().WriteFailures)
}

func TestQuery_DuplicateColumnsAreNotCached(t *testing.T) {
	const query = "SELECT 1 AS x, 2 AS x"
	src := newCountingSource()
	dup := table.New("x", "x")
	require.NoError(t, dup.Append(json.Number("1"), json.Number("2")))
	src.results[query] = dup
	store := newMemoryStore()
	exec := NewExecutor(testEnv{store: store, src: src})

	for range 3 {
		got, err := exec.Query(context.Background(), query)
		require.NoError(t, err)
		assert.Equal(t, dup, got)
	}

	assert.Equal(t, 0, store.Sets(), "nothing is written for an unencodable result")
	_, ok := store.Raw(exec.Key(query))
	assert.False(t, ok)
	assert.Equal(t, Stats{Misses: 3, WriteFailures: 3}, exec.Stats())
}

func TestQuery_VerboseEventsAtInfoLevel(t *testing.T) {
	src := newCountingSource()
	src.results[selectOne] = oneColumn(t, "x", json.Number("1"))

	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.InfoLevel)
	ctx := logger.WithContext(context.Background())

	exec := NewExecutor(testEnv{store: newMemoryStore(), src: src})
	_, err := exec.Query(ctx, selectOne)
	require.NoError(t, err)
	_, err = exec.Query(ctx, selectOne)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"message":"cache miss"`)
	assert.Contains(t, out, `"message":"cache populated"`)
	assert.Contains(t, out, `"message":"cache hit"`)
	assert.Contains(t, out, `"component":"engine"`)

	buf.Reset()
	quiet := NewExecutor(testEnv{store: newMemoryStore(), src: src, quiet: true})
	_, err = quiet.Query(ctx, selectOne)
	require.NoError(t, err)
	assert.Empty(t, buf.String(), "non-verbose executors stay silent")
}

func TestQuery_SourceErrorsPropagateUnchanged(t *testing.T) {
	ctx := context.Background()

	t.Run("query error on miss", func(t *testing.T) {
		store := newMemoryStore()
		exec := NewExecutor(testEnv{store: store, src: newCountingSource()})

		_, err := exec.Query(ctx, "SELEC broken")
		require.ErrorIs(t, err, source.ErrQuery)
		var qe *source.QueryError
		require.ErrorAs(t, err, &qe)
		assert.Equal(t, "42P01", qe.Code)
		assert.Equal(t, 0, store.Sets(), "failed queries are not cached")
	})

	t.Run("connection error on degrade path", func(t *testing.T) {
		src := newCountingSource()
		src.err = fmt.Errorf("%w: connection refused", source.ErrConnection)
		store := newMemoryStore()
		store.getErr = cache.ErrCacheUnavailable
		exec := NewExecutor(testEnv{store: store, src: src})

		_, err := exec.Query(ctx, selectOne)
		assert.Same(t, src.err, err)
	})
}

func TestQuery_DistinctLiteralsAreIndependentEntries(t *testing.T) {
	ctx := context.Background()
	qA1 := "SELECT articles FROM fct_collaboration WHERE author_id = 'A1'"
	qA2 := "SELECT articles FROM fct_collaboration WHERE author_id = 'A2'"
	src := newCountingSource()
	src.results[qA1] = oneColumn(t, "articles", json.Number("11"))
	src.results[qA2] = oneColumn(t, "articles", json.Number("22"))
	store := newMemoryStore()
	exec := NewExecutor(testEnv{store: store, src: src})

	_, err := exec.Query(ctx, qA1)
	require.NoError(t, err)
	_, err = exec.Query(ctx, qA2)
	require.NoError(t, err)
	assert.NotEqual(t, exec.Key(qA1), exec.Key(qA2))

	// Corrupting A1's entry leaves A2's entry serving hits.
	store.Put(exec.Key(qA1), []byte("garbage"))
	got, err := exec.Query(ctx, qA2)
	require.NoError(t, err)
	assert.Equal(t, []any{json.Number("22")}, got.Rows[0])
	assert.Equal(t, 1, src.Calls(qA2))

	got, err = exec.Query(ctx, qA1)
	require.NoError(t, err)
	assert.Equal(t, []any{json.Number("11")}, got.Rows[0])
	assert.Equal(t, 2, src.Calls(qA1))
	assert.Equal(t, 1, src.Calls(qA2))
}

func TestQuery_WhitespaceVariantsDoNotShareEntries(t *testing.T) {
	ctx := context.Background()
	src := newCountingSource()
	src.results["SELECT 1 AS x"] = oneColumn(t, "x", json.Number("1"))
	src.results["SELECT 1  AS x"] = oneColumn(t, "x", json.Number("1"))
	exec := NewExecutor(testEnv{store: newMemoryStore(), src: src})

	_, err := exec.Query(ctx, "SELECT 1 AS x")
	require.NoError(t, err)
	_, err = exec.Query(ctx, "SELECT 1  AS x")
	require.NoError(t, err)
	assert.Equal(t, int64(2), src.total.Load())
}

// Concurrent identical misses are not de-duplicated: every caller that probes
// before the first write executes against the source and writes the cache.
func TestQuery_ConcurrentMissesAreNotDeduplicated(t *testing.T) {
	ctx := context.Background()
	src := newCountingSource()
	src.results[selectOne] = oneColumn(t, "x", json.Number("1"))
	src.delay = 50 * time.Millisecond
	store := newMemoryStore()
	exec := NewExecutor(testEnv{store: store, src: src})

	const callers = 4
	start := make(chan struct{})
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			got, err := exec.Query(ctx, selectOne)
			assert.NoError(t, err)
			assert.Equal(t, 1, got.Len())
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, callers, src.Calls(selectOne))
	assert.Equal(t, callers, store.Sets())
}

func TestQuery_RedisStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	src := newCountingSource()
	src.results[selectOne] = oneColumn(t, "x", json.Number("1"))
	exec := NewExecutor(testEnv{store: cache.NewRedisStore(client), src: src})

	got, err := exec.Query(ctx, selectOne)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"x": json.Number("1")}}, got.Records())

	raw, err := mr.Get("postgres_cache:" + selectOne)
	require.NoError(t, err)
	assert.Equal(t, `[{"x":1}]`, raw)
	assert.Equal(t, time.Hour, mr.TTL("postgres_cache:"+selectOne))

	_, err = exec.Query(ctx, selectOne)
	require.NoError(t, err)
	assert.Equal(t, 1, src.Calls(selectOne))

	t.Run("expiry", func(t *testing.T) {
		mr.FastForward(time.Hour)
		_, err := exec.Query(ctx, selectOne)
		require.NoError(t, err)
		assert.Equal(t, 2, src.Calls(selectOne))
	})

	t.Run("outage", func(t *testing.T) {
		mr.Close()
		got, err := exec.Query(ctx, selectOne)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Len())
		assert.Equal(t, 3, src.Calls(selectOne))
		assert.Positive(t, exec.Stats().Degraded)
	})
}

func TestWithOptions(t *testing.T) {
	src := newCountingSource()
	src.results[selectOne] = oneColumn(t, "x", json.Number("1"))
	store := newMemoryStore()
	exec := NewExecutor(testEnv{store: store, src: src}, WithKeyPrefix("dash"), WithTTL(time.Minute))

	_, err := exec.Query(context.Background(), selectOne)
	require.NoError(t, err)
	_, ok := store.Raw("dash:" + selectOne)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, store.lastTTL)
}
