package cache

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"modelcache-gateway/internal/analytics"
	"modelcache-gateway/internal/inference"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestSQLiteStore(t *testing.T, clock *fakeClock) *analytics.SQLiteStore {
	t.Helper()
	s, err := analytics.NewSQLiteStore(analytics.SQLiteConfig{
		Path: filepath.Join(t.TempDir(), "cache_test.db"),
		Now:  clock.Now,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func waitForWrites(t *testing.T, w *Writer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.Wait(ctx))
}

func emptyRequest(stream bool) *inference.ModelInferenceRequest {
	return &inference.ModelInferenceRequest{
		Messages:     []inference.RequestMessage{},
		Stream:       stream,
		JSONMode:     inference.JSONModeOff,
		FunctionType: inference.FunctionTypeChat,
	}
}

func chatRequest(text string) *inference.ModelInferenceRequest {
	temp := float32(0.2)
	return &inference.ModelInferenceRequest{
		Messages: []inference.RequestMessage{
			{Role: inference.RoleUser, Content: []inference.ContentBlock{inference.Text(text)}},
		},
		Temperature:  &temp,
		JSONMode:     inference.JSONModeOff,
		FunctionType: inference.FunctionTypeChat,
	}
}

// scriptedStore returns fixed query results and records calls.
type scriptedStore struct {
	mu       sync.Mutex
	dialect  analytics.Dialect
	result   string
	queryErr error
	queries  []string
	params   []analytics.Params
}

func (s *scriptedStore) Insert(context.Context, string, ...any) error { return nil }

func (s *scriptedStore) Query(_ context.Context, query string, params analytics.Params) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	s.params = append(s.params, params)
	return s.result, s.queryErr
}

func (s *scriptedStore) Dialect() analytics.Dialect {
	if s.dialect == "" {
		return analytics.DialectClickHouse
	}
	return s.dialect
}

// blockingStore holds every insert until release is closed.
type blockingStore struct {
	analytics.DisabledStore
	release  chan struct{}
	inserted chan []any
}

func newBlockingStore() *blockingStore {
	return &blockingStore{
		release:  make(chan struct{}),
		inserted: make(chan []any, 16),
	}
}

func (s *blockingStore) Insert(ctx context.Context, _ string, rows ...any) error {
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.inserted <- rows
	return nil
}

type failingStore struct {
	analytics.DisabledStore
	err error
}

func (s failingStore) Insert(context.Context, string, ...any) error { return s.err }

func (s failingStore) Query(context.Context, string, analytics.Params) (string, error) {
	return "", s.err
}
