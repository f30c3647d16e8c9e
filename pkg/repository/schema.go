package repository

// Schema is the DDL for the step-definition store.
const Schema = `
CREATE TABLE IF NOT EXISTS definitions (
    id          TEXT PRIMARY KEY,
    body        TEXT NOT NULL,
    snapshot    TEXT NOT NULL DEFAULT '',
    confirmed   TEXT NOT NULL DEFAULT '',
    uses        INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_definitions_updated ON definitions(updated_at DESC);
`

// pragmas are applied on every open.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
}
