package sqlite

const schema = `
-- Harvest runs
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    status TEXT NOT NULL DEFAULT 'running',
    config TEXT NOT NULL DEFAULT '',
    output TEXT NOT NULL DEFAULT '',
    iterations INTEGER NOT NULL CHECK(iterations >= 1),
    last_round INTEGER NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT '',
    started_at DATETIME NOT NULL,
    finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

-- Bootstrapping rounds of a run
CREATE TABLE IF NOT EXISTS rounds (
    run_id TEXT NOT NULL,
    round INTEGER NOT NULL CHECK(round >= 1),
    status TEXT NOT NULL DEFAULT 'running',
    budget INTEGER NOT NULL,
    contexts_scored INTEGER NOT NULL DEFAULT 0,
    contexts_kept INTEGER NOT NULL DEFAULT 0,
    patterns_scored INTEGER NOT NULL DEFAULT 0,
    dir TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT '',
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    PRIMARY KEY (run_id, round),
    FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);
`
