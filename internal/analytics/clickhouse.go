package analytics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"resty.dev/v3"
)

const createModelInferenceCacheClickHouse = `
CREATE TABLE IF NOT EXISTS ModelInferenceCache
(
    short_cache_key UInt64,
    long_cache_key FixedString(64),
    timestamp DateTime DEFAULT now(),
    output String,
    raw_request String,
    raw_response String
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(timestamp)
ORDER BY (short_cache_key, timestamp)
`

type ClickHouseConfig struct {
	URL      string        `yaml:"url"`
	Database string        `yaml:"database"`
	Username string        `yaml:"username"`
	Password string        `yaml:"-"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ClickHouseStore talks to ClickHouse over its HTTP interface.
type ClickHouseStore struct {
	client   *resty.Client
	database string
}

// NewClickHouseStore creates a ClickHouse-backed store.
func NewClickHouseStore(cfg ClickHouseConfig) (*ClickHouseStore, error) {
	if cfg.URL == "" {
		return nil, errors.New("analytics: clickhouse URL is required")
	}
	if cfg.Database != "" {
		if err := ValidateIdentifier(cfg.Database); err != nil {
			return nil, err
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.URL, "/")).
		SetTimeout(cfg.Timeout)
	if cfg.Username != "" {
		client.SetBasicAuth(cfg.Username, cfg.Password)
	}

	return &ClickHouseStore{
		client:   client,
		database: cfg.Database,
	}, nil
}

func (s *ClickHouseStore) Dialect() Dialect { return DialectClickHouse }

func (s *ClickHouseStore) request(ctx context.Context) *resty.Request {
	req := s.client.R().SetContext(ctx)
	if s.database != "" {
		req.SetQueryParam("database", s.database)
	}
	return req
}

// Insert appends rows with INSERT ... FORMAT JSONEachRow.
func (s *ClickHouseStore) Insert(ctx context.Context, table string, rows ...any) error {
	if err := ValidateIdentifier(table); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	body, err := encodeRows(rows)
	if err != nil {
		return fmt.Errorf("clickhouse insert into %s: %w", table, err)
	}

	resp, err := s.request(ctx).
		SetQueryParam("query", "INSERT INTO "+table+" FORMAT JSONEachRow").
		SetHeader("Content-Type", "application/x-ndjson").
		SetBody(body).
		Post("/")
	if err != nil {
		return fmt.Errorf("clickhouse insert into %s: %w", table, err)
	}
	if resp.IsError() {
		return fmt.Errorf("clickhouse insert into %s: status %d: %s",
			table, resp.StatusCode(), truncate(resp.String(), 200))
	}
	return nil
}

// Query sends query in the request body; params are bound server side as
// param_<name>.
func (s *ClickHouseStore) Query(ctx context.Context, query string, params Params) (string, error) {
	req := s.request(ctx).
		SetHeader("Content-Type", "text/plain").
		SetBody(query)
	for name, p := range params {
		req.SetQueryParam("param_"+name, p.String())
	}

	resp, err := req.Post("/")
	if err != nil {
		return "", fmt.Errorf("clickhouse query: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("clickhouse query: status %d: %s",
			resp.StatusCode(), truncate(resp.String(), 200))
	}
	return strings.TrimSpace(resp.String()), nil
}

// Migrate creates the cache table if it does not exist.
func (s *ClickHouseStore) Migrate(ctx context.Context) error {
	if _, err := s.Query(ctx, createModelInferenceCacheClickHouse, nil); err != nil {
		return fmt.Errorf("migrate %s: %w", ModelInferenceCacheTable, err)
	}
	return nil
}

// Ping checks that the server answers on /ping.
func (s *ClickHouseStore) Ping(ctx context.Context) error {
	resp, err := s.client.R().SetContext(ctx).Get("/ping")
	if err != nil {
		return fmt.Errorf("clickhouse ping: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("clickhouse ping: status %d", resp.StatusCode())
	}
	return nil
}

// Close releases idle connections.
func (s *ClickHouseStore) Close() error {
	return s.client.Close()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
