package analytics

import "context"

// DisabledStore drops every insert and never returns rows. It is used when
// no datastore is configured.
type DisabledStore struct{}

func (DisabledStore) Insert(context.Context, string, ...any) error { return nil }

func (DisabledStore) Query(context.Context, string, Params) (string, error) { return "", nil }

func (DisabledStore) Dialect() Dialect { return DialectClickHouse }
