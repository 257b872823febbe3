package dataset

import "database/sql"

// Container layout. One sqlite file holds the whole dataset:
//   meta          dataset-level attributes (env_args, ...)
//   episodes      one row per demonstration; seq is storage order only
//   masks         named subsets (filter keys)
//   observations  per-episode stored image/low-dim arrays keyed by observation name
var schemaStmts = []string{
	`CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS episodes (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		num_samples INTEGER NOT NULL,
		model TEXT NOT NULL,
		ep_meta TEXT,
		states BLOB NOT NULL,
		actions BLOB
	);`,
	`CREATE TABLE IF NOT EXISTS masks (
		filter_key TEXT NOT NULL,
		episode_id TEXT NOT NULL,
		PRIMARY KEY (filter_key, episode_id)
	);`,
	`CREATE TABLE IF NOT EXISTS observations (
		episode_id TEXT NOT NULL,
		key TEXT NOT NULL,
		frames INTEGER NOT NULL,
		height INTEGER NOT NULL,
		width INTEGER NOT NULL,
		channels INTEGER NOT NULL,
		data BLOB NOT NULL,
		PRIMARY KEY (episode_id, key)
	);`,
}

func initSchema(db *sql.DB) error {
	for _, s := range schemaStmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func initPragmas(db *sql.DB, pragmas []string) error {
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

var (
	// Writers own the file; WAL keeps bulk inserts cheap.
	writerPragmas = []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	readerPragmas = []string{
		"PRAGMA busy_timeout=5000;",
		"PRAGMA query_only=ON;",
	}
)
