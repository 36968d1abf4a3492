// Package analytics talks to the analytical datastore that holds inference
// records and the model inference cache.
//
// The datastore is append-only from the gateway's point of view: rows are
// inserted, never updated, and reads are parameterised queries whose result
// is returned as JSON objects, one per line.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// ModelInferenceCacheTable stores one row per cached provider exchange.
const ModelInferenceCacheTable = "ModelInferenceCache"

// Column and placeholder names shared by the cache queries and the stores
// that evaluate them.
const (
	ColumnShortCacheKey = "short_cache_key"
	ColumnLongCacheKey  = "long_cache_key"
	ColumnTimestamp     = "timestamp"
	ParamLookback       = "lookback_s"
)

var (
	ErrInvalidIdentifier = errors.New("analytics: invalid identifier")
	ErrMissingParam      = errors.New("analytics: missing query parameter")
	ErrUnknownBackend    = errors.New("analytics: unknown backend")
)

// Dialect tells query builders which SQL flavour a store executes.
type Dialect string

const (
	DialectClickHouse Dialect = "clickhouse"
	DialectSQLite     Dialect = "sqlite"
)

// Store is the analytics datastore client.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Insert appends rows to table. Rows are encoded as JSON objects whose
	// keys are column names.
	Insert(ctx context.Context, table string, rows ...any) error

	// Query runs a parameterised query and returns matching rows as JSON
	// objects separated by newlines. No rows yields "".
	Query(ctx context.Context, query string, params Params) (string, error)

	Dialect() Dialect
}

// Pinger is implemented by stores with a remote or file-backed connection
// that can be checked before traffic is served.
type Pinger interface {
	Ping(ctx context.Context) error
}

type ParamType string

const (
	TypeUInt64 ParamType = "UInt64"
	TypeUInt32 ParamType = "UInt32"
	TypeString ParamType = "String"
)

// Param is a typed query parameter value.
type Param struct {
	Type  ParamType
	value any
}

func UInt64(v uint64) Param { return Param{Type: TypeUInt64, value: v} }
func UInt32(v uint32) Param { return Param{Type: TypeUInt32, value: v} }
func String(v string) Param { return Param{Type: TypeString, value: v} }

// Value returns the Go value: uint64, uint32 or string.
func (p Param) Value() any { return p.value }

// String formats the value the way the ClickHouse HTTP interface expects it.
func (p Param) String() string {
	switch v := p.value.(type) {
	case uint64:
		return strconv.FormatUint(v, 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Params maps placeholder names to values.
type Params map[string]Param

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateIdentifier rejects table and column names that cannot be
// interpolated into a statement verbatim.
func ValidateIdentifier(name string) error {
	if !identifierRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}
