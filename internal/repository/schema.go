package repository

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Schema definitions for the Kestrel cache store.
// Compatible with both SQLite and PostgreSQL.
//
// Every kind gets its own table. Times are unix nanoseconds so ordering and
// horizon comparisons behave the same on both drivers. seq keeps the
// upstream order of rows written in one batch.
const schemaKindTable = `
CREATE TABLE IF NOT EXISTS %[1]s (
    id TEXT PRIMARY KEY,
    primary_key TEXT NOT NULL,
    secondary_key TEXT NOT NULL DEFAULT '',
    natural_key TEXT NOT NULL DEFAULT '',
    seq INTEGER NOT NULL DEFAULT 0,
    event_time BIGINT NOT NULL DEFAULT 0,
    fetched_at BIGINT NOT NULL,
    payload TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_%[1]s_primary ON %[1]s(primary_key, fetched_at);
CREATE INDEX IF NOT EXISTS idx_%[1]s_fetched ON %[1]s(fetched_at);
`

// Replace-mode kinds keep one row per (primary_key, secondary_key).
const schemaReplaceKey = `
CREATE UNIQUE INDEX IF NOT EXISTS uq_%[1]s_key ON %[1]s(primary_key, secondary_key);
`

// Append-mode kinds index the natural key for optional dedup.
const schemaAppendKey = `
CREATE INDEX IF NOT EXISTS idx_%[1]s_natural ON %[1]s(primary_key, natural_key);
`

// tableName returns the table holding rows of kind.
func tableName(kind domain.Kind) string {
	return "cache_" + string(kind)
}

// AllSchemas returns all schema statements in order.
func AllSchemas(policies domain.Policies) []string {
	var out []string
	for _, kind := range domain.AllKinds() {
		table := tableName(kind)
		out = append(out, fmt.Sprintf(schemaKindTable, table))

		pol, _ := policies.For(kind)
		if pol.Mode == domain.ModeReplace {
			out = append(out, fmt.Sprintf(schemaReplaceKey, table))
		} else {
			out = append(out, fmt.Sprintf(schemaAppendKey, table))
		}
	}
	return out
}
