package store

// The FTS5 indexes are maintained from Go inside the same transaction as the
// base-table writes rather than by triggers, so the schema stays splittable
// on ";".
const schemaSQL = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	channel TEXT NOT NULL DEFAULT 'webchat',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	profile TEXT NOT NULL DEFAULT '',
	token_count INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation
	ON messages(conversation_id, created_at);

CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
	content, message_id UNINDEXED, conversation_id UNINDEXED
);

CREATE TABLE IF NOT EXISTS facts (
	id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT 'general',
	source TEXT NOT NULL DEFAULT 'manual',
	created_at TEXT NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS facts_fts USING fts5(
	content, fact_id UNINDEXED
);

CREATE TABLE IF NOT EXISTS usage_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	profile TEXT NOT NULL,
	day TEXT NOT NULL,
	prompt_tokens INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_usage_profile_day
	ON usage_records(profile, day);

CREATE TABLE IF NOT EXISTS cron_jobs (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	expression TEXT NOT NULL,
	message TEXT NOT NULL,
	profile TEXT NOT NULL DEFAULT '',
	enabled INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL,
	last_run TEXT
);

CREATE TABLE IF NOT EXISTS social_posts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	platform TEXT NOT NULL,
	external_id TEXT NOT NULL,
	author TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	url TEXT NOT NULL DEFAULT '',
	posted_at TEXT,
	metadata TEXT NOT NULL DEFAULT '{}',
	ingested_at TEXT NOT NULL,
	UNIQUE(platform, external_id)
);

CREATE VIRTUAL TABLE IF NOT EXISTS social_fts USING fts5(
	content, author, post_id UNINDEXED, platform UNINDEXED
);
`
