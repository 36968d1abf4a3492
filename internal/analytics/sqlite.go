package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS ModelInferenceCache (
	short_cache_key INTEGER NOT NULL,
	long_cache_key TEXT NOT NULL,
	output TEXT NOT NULL,
	raw_request TEXT NOT NULL,
	raw_response TEXT NOT NULL,
	timestamp INTEGER NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_model_inference_cache_key
	ON ModelInferenceCache (short_cache_key, timestamp)`,
}

// paramNow is bound by SQLiteStore itself to the current time in unix
// microseconds.
const paramNow = "now"

var sqlitePlaceholderRe = regexp.MustCompile(`:([A-Za-z_][A-Za-z0-9_]*)`)

type SQLiteConfig struct {
	Path string `yaml:"path"`
	// Now overrides the clock used for insert timestamps and :now.
	Now func() time.Time `yaml:"-"`
}

// SQLiteStore is an embedded store for local development and tests.
//
// Timestamps are unix microseconds assigned at insert time. UInt64 values
// are stored as their two's-complement int64 since SQLite integers are
// signed.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the database at cfg.Path and creates the
// cache table.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		cfg.Path = "modelcache.db"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open analytics db: %w", err)
	}
	// One connection: keeps :memory: databases shared and avoids SQLITE_BUSY
	// from concurrent background writes.
	db.SetMaxOpenConns(1)

	for _, stmt := range sqliteMigrations {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate analytics db: %w", err)
		}
	}

	return &SQLiteStore{db: db, now: cfg.Now}, nil
}

func (s *SQLiteStore) Dialect() Dialect { return DialectSQLite }

// Insert appends rows; the timestamp column is set from the store clock.
func (s *SQLiteStore) Insert(ctx context.Context, table string, rows ...any) error {
	if err := ValidateIdentifier(table); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite insert into %s: %w", table, err)
	}
	defer tx.Rollback()

	for i, row := range rows {
		cols, err := rowColumns(row)
		if err != nil {
			return fmt.Errorf("sqlite insert into %s: row %d: %w", table, i, err)
		}
		cols[ColumnTimestamp] = s.now().UnixMicro()

		names := make([]string, 0, len(cols))
		for name := range cols {
			names = append(names, name)
		}
		sort.Strings(names)

		args := make([]any, 0, len(names))
		for _, name := range names {
			v, err := sqliteValue(cols[name])
			if err != nil {
				return fmt.Errorf("sqlite insert into %s: column %s: %w", table, name, err)
			}
			args = append(args, v)
		}

		stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			table,
			strings.Join(names, ", "),
			strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", "),
		)
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("sqlite insert into %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite insert into %s: %w", table, err)
	}
	return nil
}

// Query binds every :name placeholder found in query from params (or the
// store clock for :now) and renders the result as JSON objects.
func (s *SQLiteStore) Query(ctx context.Context, query string, params Params) (string, error) {
	var args []any
	seen := make(map[string]bool)
	for _, m := range sqlitePlaceholderRe.FindAllStringSubmatch(query, -1) {
		name := m[1]
		if seen[name] {
			continue
		}
		seen[name] = true

		if name == paramNow {
			args = append(args, sql.Named(name, s.now().UnixMicro()))
			continue
		}
		p, ok := params[name]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrMissingParam, name)
		}
		args = append(args, sql.Named(name, sqliteParam(p)))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return "", fmt.Errorf("sqlite query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return "", fmt.Errorf("sqlite query: %w", err)
	}

	var out []string
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return "", fmt.Errorf("sqlite scan: %w", err)
		}

		obj := make(map[string]any, len(cols))
		for i, name := range cols {
			if b, ok := values[i].([]byte); ok {
				obj[name] = string(b)
				continue
			}
			obj[name] = values[i]
		}
		line, err := json.Marshal(obj)
		if err != nil {
			return "", fmt.Errorf("sqlite encode row: %w", err)
		}
		out = append(out, string(line))
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("sqlite query: %w", err)
	}

	return strings.Join(out, "\n"), nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite ping: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func sqliteParam(p Param) any {
	switch v := p.Value().(type) {
	case uint64:
		return int64(v)
	case uint32:
		return int64(v)
	default:
		return v
	}
}

func sqliteValue(v any) (any, error) {
	switch val := v.(type) {
	case nil, string, bool, int64:
		return val, nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, nil
		}
		if u, err := strconv.ParseUint(val.String(), 10, 64); err == nil {
			return int64(u), nil
		}
		return val.Float64()
	default:
		// Nested arrays and objects are stored as JSON text.
		b, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
}
