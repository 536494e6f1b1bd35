package cachestore

// Schema is the DDL for the SQLite store. Entries cascade with their
// partition; Delete also removes them explicitly.
const Schema = `
CREATE TABLE IF NOT EXISTS sw_partitions (
    name       TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sw_entries (
    partition_name TEXT NOT NULL REFERENCES sw_partitions(name) ON DELETE CASCADE,
    method         TEXT NOT NULL,
    url            TEXT NOT NULL,
    status         INTEGER NOT NULL,
    status_text    TEXT NOT NULL DEFAULT '',
    header         TEXT NOT NULL DEFAULT '{}',
    body           BLOB,
    stored_at      INTEGER NOT NULL,
    PRIMARY KEY (partition_name, method, url)
);

CREATE TABLE IF NOT EXISTS sw_meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
