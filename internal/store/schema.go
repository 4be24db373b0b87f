package store

const schemaSQL = `
CREATE TABLE IF NOT EXISTS quota_windows (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    plan            TEXT NOT NULL,
    capacity_tokens INTEGER NOT NULL,
    window_start    TEXT NOT NULL,
    reset_at        TEXT NOT NULL,
    tokens_used     INTEGER NOT NULL,
    archived_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS window_sessions (
    window_id   INTEGER NOT NULL REFERENCES quota_windows(id) ON DELETE CASCADE,
    session_id  TEXT NOT NULL,
    tokens_used INTEGER NOT NULL,
    recorded_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS session_summaries (
    session_id           TEXT PRIMARY KEY,
    event_id             TEXT,
    phase                TEXT,
    started_at           TEXT,
    ended_at             TEXT,
    input_tokens         INTEGER,
    output_tokens        INTEGER,
    cache_read_tokens    INTEGER,
    tool_calls           INTEGER,
    objectives_completed INTEGER,
    estimated_cost       REAL,
    archived_at          TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_windows_start ON quota_windows(window_start);
CREATE INDEX IF NOT EXISTS idx_summaries_start ON session_summaries(started_at);
`
