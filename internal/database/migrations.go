package database

// Migration represents a database migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// migrations contains all database migrations in order
var migrations = []Migration{
	{
		Version: "001_server_runs",
		Up: `
-- One row per supervised server process
CREATE TABLE IF NOT EXISTS server_runs (
    instance_id TEXT PRIMARY KEY,
    pid INTEGER NOT NULL DEFAULT 0,
    command TEXT NOT NULL,
    working_dir TEXT NOT NULL,
    started_at DATETIME NOT NULL,
    exited_at DATETIME,
    exit_code INTEGER,
    forced BOOLEAN NOT NULL DEFAULT 0,
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_server_runs_started ON server_runs(started_at DESC);
`,
		Down: `
DROP TABLE IF EXISTS server_runs;
`,
	},
	{
		Version: "002_console",
		Up: `
-- Console command history
CREATE TABLE IF NOT EXISTS console_commands (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    instance_id TEXT,
    username TEXT NOT NULL,
    command TEXT NOT NULL,
    executed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    success BOOLEAN DEFAULT 1,
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_console_commands_executed ON console_commands(executed_at DESC);
CREATE INDEX IF NOT EXISTS idx_console_commands_user ON console_commands(username, executed_at DESC);
`,
		Down: `
DROP TABLE IF EXISTS console_commands;
`,
	},
	{
		Version: "003_activity_log",
		Up: `
CREATE TABLE IF NOT EXISTS activity_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp DATETIME NOT NULL,
    actor TEXT NOT NULL DEFAULT '',
    activity_type TEXT NOT NULL,
    description TEXT NOT NULL,
    metadata TEXT,
    success BOOLEAN NOT NULL DEFAULT 1,
    error_message TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_activity_log_timestamp ON activity_log(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_activity_log_type ON activity_log(activity_type, timestamp DESC);
`,
		Down: `
DROP TABLE IF EXISTS activity_log;
`,
	},
	{
		Version: "004_download_jobs",
		Up: `
CREATE TABLE IF NOT EXISTS download_jobs (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    target TEXT NOT NULL,
    url TEXT NOT NULL,
    destination TEXT NOT NULL,
    status TEXT NOT NULL,
    bytes INTEGER NOT NULL DEFAULT 0,
    sha256 TEXT,
    error_message TEXT,
    created_by TEXT,
    created_at DATETIME NOT NULL,
    completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_download_jobs_created ON download_jobs(created_at DESC);
`,
		Down: `
DROP TABLE IF EXISTS download_jobs;
`,
	},
	{
		Version: "005_backups",
		Up: `
CREATE TABLE IF NOT EXISTS backups (
    id TEXT PRIMARY KEY,
    filename TEXT NOT NULL,
    size_bytes INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL,
    destination_type TEXT NOT NULL,
    destination_path TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    error_message TEXT,
    created_by TEXT
);

CREATE INDEX IF NOT EXISTS idx_backups_created_at ON backups(created_at);
CREATE INDEX IF NOT EXISTS idx_backups_status ON backups(status);
`,
		Down: `
DROP TABLE IF EXISTS backups;
`,
	},
	{
		Version: "006_server_metrics",
		Up: `
-- Resource samples of the supervised server process
CREATE TABLE IF NOT EXISTS server_metrics (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    instance_id TEXT NOT NULL,
    pid INTEGER NOT NULL,
    cpu_usage REAL,
    memory_rss INTEGER NOT NULL DEFAULT 0,
    threads INTEGER NOT NULL DEFAULT 0,
    timestamp DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_server_metrics_timestamp ON server_metrics(timestamp DESC);
`,
		Down: `
DROP TABLE IF EXISTS server_metrics;
`,
	},
}
