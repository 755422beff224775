package storage

const schemaV1 = `
CREATE TABLE IF NOT EXISTS classifications (
    certname        TEXT PRIMARY KEY,
    instance_id     TEXT NOT NULL,
    region          TEXT NOT NULL,
    account_id      TEXT,
    environment     TEXT,
    document        TEXT NOT NULL,
    classified_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_classifications_instance ON classifications(instance_id);
CREATE INDEX IF NOT EXISTS idx_classifications_time ON classifications(classified_at DESC);

CREATE TABLE IF NOT EXISTS lookups (
    lookup_id       INTEGER PRIMARY KEY AUTOINCREMENT,
    lookup_uuid     TEXT UNIQUE NOT NULL,
    certname        TEXT NOT NULL,
    instance_id     TEXT,
    source          TEXT NOT NULL,
    duration_ms     INTEGER DEFAULT 0,
    error           TEXT,
    created_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_lookups_certname ON lookups(certname, created_at);
CREATE INDEX IF NOT EXISTS idx_lookups_time ON lookups(created_at DESC);
`
