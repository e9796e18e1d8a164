// Package migrations carries the schema for both storage backends and
// applies it at startup, so a fresh database needs no manual SQL.
package migrations

import "embed"

// PostgresFS holds the kv_cache schema migrations.
//
//go:embed postgres/*.sql
var PostgresFS embed.FS

// ClickhouseFS holds the price_observations schema migrations.
//
//go:embed clickhouse/*.sql
var ClickhouseFS embed.FS
