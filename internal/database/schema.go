package database

const postgresSchema = `
CREATE TABLE IF NOT EXISTS catalog_products (
	id             UUID PRIMARY KEY,
	sku            TEXT UNIQUE,
	name           TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	price          INTEGER NOT NULL DEFAULT 0,
	original_price INTEGER,
	discount       INTEGER,
	image          TEXT NOT NULL DEFAULT '',
	images         JSONB NOT NULL DEFAULT '[]'::jsonb,
	brand          TEXT NOT NULL DEFAULT '',
	stock          INTEGER NOT NULL DEFAULT 0,
	in_stock       BOOLEAN NOT NULL DEFAULT TRUE,
	featured       BOOLEAN NOT NULL DEFAULT FALSE,
	source_url     TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS outbox_event (
	id             UUID PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id   TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	payload        JSONB NOT NULL,
	target_stream  TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	error_message  TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	processed_at   TIMESTAMPTZ,
	next_retry_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_outbox_event_pending
	ON outbox_event (status, next_retry_at);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS catalog_products (
	id             TEXT PRIMARY KEY,
	sku            TEXT UNIQUE,
	name           TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	price          INTEGER NOT NULL DEFAULT 0,
	original_price INTEGER,
	discount       INTEGER,
	image          TEXT NOT NULL DEFAULT '',
	images         TEXT NOT NULL DEFAULT '[]',
	brand          TEXT NOT NULL DEFAULT '',
	stock          INTEGER NOT NULL DEFAULT 0,
	in_stock       INTEGER NOT NULL DEFAULT 1,
	featured       INTEGER NOT NULL DEFAULT 0,
	source_url     TEXT NOT NULL DEFAULT '',
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);
`
