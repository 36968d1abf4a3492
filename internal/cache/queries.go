package cache

import "modelcache-gateway/internal/analytics"

const (
	clickHouseLookup = `
SELECT
    output,
    raw_request,
    raw_response
FROM ModelInferenceCache
WHERE short_cache_key = {short_cache_key:UInt64}
    AND long_cache_key = {long_cache_key:String}
ORDER BY timestamp DESC
LIMIT 1
FORMAT JSONEachRow
`

	clickHouseLookupWithMaxAge = `
SELECT
    output,
    raw_request,
    raw_response
FROM ModelInferenceCache
WHERE short_cache_key = {short_cache_key:UInt64}
    AND long_cache_key = {long_cache_key:String}
    AND timestamp >= subtractSeconds(now(), {lookback_s:UInt32})
ORDER BY timestamp DESC
LIMIT 1
FORMAT JSONEachRow
`

	// SQLite timestamps are unix microseconds; :now is bound by the store.
	sqliteLookup = `
SELECT
    output,
    raw_request,
    raw_response
FROM ModelInferenceCache
WHERE short_cache_key = :short_cache_key
    AND long_cache_key = :long_cache_key
ORDER BY timestamp DESC, rowid DESC
LIMIT 1
`

	sqliteLookupWithMaxAge = `
SELECT
    output,
    raw_request,
    raw_response
FROM ModelInferenceCache
WHERE short_cache_key = :short_cache_key
    AND long_cache_key = :long_cache_key
    AND timestamp >= :now - :lookback_s * 1000000
ORDER BY timestamp DESC, rowid DESC
LIMIT 1
`
)

func lookupQuery(d analytics.Dialect, withMaxAge bool) string {
	switch {
	case d == analytics.DialectSQLite && withMaxAge:
		return sqliteLookupWithMaxAge
	case d == analytics.DialectSQLite:
		return sqliteLookup
	case withMaxAge:
		return clickHouseLookupWithMaxAge
	default:
		return clickHouseLookup
	}
}
