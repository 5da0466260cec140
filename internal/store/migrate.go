// Package store provides database schema management.
package store

// schema holds the full device schema. Jobs have no uniqueness
// constraint on (type, user): single-active-job is a convention upheld
// by always acting on the most recent row, so an overlapping trigger
// can at worst create a short-lived duplicate lease.
const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	type TEXT NOT NULL,
	user TEXT NOT NULL,
	status INTEGER NOT NULL DEFAULT 1,
	attempt INTEGER NOT NULL DEFAULT 0 CHECK(attempt >= 0),
	info TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_type_user ON jobs(type, user, created_at DESC);

CREATE TABLE IF NOT EXISTS datapoints (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uuid TEXT NOT NULL,
	form_id INTEGER NOT NULL,
	user TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	geo TEXT NOT NULL DEFAULT '',
	answers TEXT NOT NULL DEFAULT '{}',
	submitted INTEGER NOT NULL DEFAULT 0,
	duration REAL NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	submitted_at INTEGER NOT NULL DEFAULT 0,
	synced_at INTEGER,
	draft_id TEXT,
	repeats TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_datapoints_uuid ON datapoints(uuid);
CREATE INDEX IF NOT EXISTS idx_datapoints_unsynced ON datapoints(user, synced_at, submitted);

CREATE TABLE IF NOT EXISTS forms (
	id INTEGER PRIMARY KEY,
	user TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	version TEXT NOT NULL DEFAULT '',
	json TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// InitSchema creates all tables and indexes if they do not exist.
func (db *DB) InitSchema() error {
	_, err := db.Exec(schema)
	return err
}
