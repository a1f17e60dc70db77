package ledger

// Migration represents a database migration
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// GetSQLiteMigrations returns SQLite migration scripts
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create campaigns table",
			SQL: `
				CREATE TABLE IF NOT EXISTS campaigns (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					slug TEXT NOT NULL UNIQUE,
					title TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					campaign_address TEXT,
					funding_goal TEXT NOT NULL,
					token_decimals INTEGER NOT NULL DEFAULT 18,
					status TEXT NOT NULL DEFAULT 'DRAFT',
					start_time DATETIME NOT NULL,
					end_time DATETIME NOT NULL,
					creator_address TEXT NOT NULL,
					treasury_address TEXT,
					version INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns(status);
				CREATE INDEX IF NOT EXISTS idx_campaigns_address ON campaigns(campaign_address);
			`,
		},
		{
			Version:     "002",
			Description: "Create users and payments tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					wallet_address TEXT NOT NULL UNIQUE,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE TABLE IF NOT EXISTS payments (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					campaign_id INTEGER NOT NULL REFERENCES campaigns(id),
					user_id INTEGER NOT NULL REFERENCES users(id),
					amount TEXT NOT NULL,
					token TEXT NOT NULL,
					token_decimals INTEGER NOT NULL DEFAULT 18,
					status TEXT NOT NULL DEFAULT 'pending',
					transaction_hash TEXT,
					payer_address TEXT NOT NULL DEFAULT '',
					is_anonymous BOOLEAN DEFAULT FALSE,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_tx_hash
					ON payments(transaction_hash) WHERE transaction_hash IS NOT NULL;
				CREATE INDEX IF NOT EXISTS idx_payments_campaign ON payments(campaign_id, status);
			`,
		},
		{
			Version:     "003",
			Description: "Create rounds and round_campaigns tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS rounds (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL,
					pool_id TEXT,
					strategy_address TEXT NOT NULL DEFAULT '',
					matching_pool TEXT NOT NULL DEFAULT '0',
					token_decimals INTEGER NOT NULL DEFAULT 18,
					application_start DATETIME NOT NULL,
					application_close DATETIME NOT NULL,
					start_date DATETIME NOT NULL,
					end_date DATETIME NOT NULL,
					needs_attention BOOLEAN DEFAULT FALSE,
					version INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE TABLE IF NOT EXISTS round_campaigns (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					round_id INTEGER NOT NULL REFERENCES rounds(id),
					campaign_id INTEGER NOT NULL REFERENCES campaigns(id),
					status TEXT NOT NULL DEFAULT 'PENDING',
					recipient_address TEXT,
					submitted_by_wallet_address TEXT,
					tx_hash TEXT,
					onchain_recipient_id TEXT,
					reviewed_at DATETIME,
					needs_attention BOOLEAN DEFAULT FALSE,
					version INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_round_campaigns_unique
					ON round_campaigns(round_id, campaign_id);
				CREATE INDEX IF NOT EXISTS idx_round_campaigns_status ON round_campaigns(round_id, status);
			`,
		},
		{
			Version:     "004",
			Description: "Create applied_events, quarantined_events and integrity_flags tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS applied_events (
					tx_hash TEXT NOT NULL,
					log_index INTEGER NOT NULL,
					block_number INTEGER NOT NULL,
					applied_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (tx_hash, log_index)
				);

				CREATE INDEX IF NOT EXISTS idx_applied_events_block ON applied_events(block_number);

				CREATE TABLE IF NOT EXISTS quarantined_events (
					id TEXT PRIMARY KEY,
					tx_hash TEXT NOT NULL,
					log_index INTEGER NOT NULL,
					event_type TEXT NOT NULL,
					reason TEXT NOT NULL,
					payload TEXT NOT NULL, -- JSON
					quarantined_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE TABLE IF NOT EXISTS integrity_flags (
					id TEXT PRIMARY KEY,
					round_id INTEGER,
					campaign_id INTEGER,
					code TEXT NOT NULL,
					detail TEXT NOT NULL,
					resolved BOOLEAN DEFAULT FALSE,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_integrity_flags_unresolved ON integrity_flags(resolved);
			`,
		},
	}
}

// GetPostgreSQLMigrations returns PostgreSQL migration scripts
func GetPostgreSQLMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create campaigns table",
			SQL: `
				CREATE TABLE IF NOT EXISTS campaigns (
					id BIGSERIAL PRIMARY KEY,
					slug TEXT NOT NULL UNIQUE,
					title TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					campaign_address TEXT,
					funding_goal TEXT NOT NULL,
					token_decimals INTEGER NOT NULL DEFAULT 18,
					status TEXT NOT NULL DEFAULT 'DRAFT',
					start_time TIMESTAMPTZ NOT NULL,
					end_time TIMESTAMPTZ NOT NULL,
					creator_address TEXT NOT NULL,
					treasury_address TEXT,
					version BIGINT NOT NULL DEFAULT 0,
					created_at TIMESTAMPTZ DEFAULT NOW(),
					updated_at TIMESTAMPTZ DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns(status);
				CREATE INDEX IF NOT EXISTS idx_campaigns_address ON campaigns(campaign_address);
			`,
		},
		{
			Version:     "002",
			Description: "Create users and payments tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					wallet_address TEXT NOT NULL UNIQUE,
					created_at TIMESTAMPTZ DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS payments (
					id BIGSERIAL PRIMARY KEY,
					campaign_id BIGINT NOT NULL REFERENCES campaigns(id),
					user_id BIGINT NOT NULL REFERENCES users(id),
					amount TEXT NOT NULL,
					token TEXT NOT NULL,
					token_decimals INTEGER NOT NULL DEFAULT 18,
					status TEXT NOT NULL DEFAULT 'pending',
					transaction_hash TEXT,
					payer_address TEXT NOT NULL DEFAULT '',
					is_anonymous BOOLEAN DEFAULT FALSE,
					created_at TIMESTAMPTZ DEFAULT NOW(),
					updated_at TIMESTAMPTZ DEFAULT NOW()
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_tx_hash
					ON payments(transaction_hash) WHERE transaction_hash IS NOT NULL;
				CREATE INDEX IF NOT EXISTS idx_payments_campaign ON payments(campaign_id, status);
			`,
		},
		{
			Version:     "003",
			Description: "Create rounds and round_campaigns tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS rounds (
					id BIGSERIAL PRIMARY KEY,
					name TEXT NOT NULL,
					pool_id TEXT,
					strategy_address TEXT NOT NULL DEFAULT '',
					matching_pool TEXT NOT NULL DEFAULT '0',
					token_decimals INTEGER NOT NULL DEFAULT 18,
					application_start TIMESTAMPTZ NOT NULL,
					application_close TIMESTAMPTZ NOT NULL,
					start_date TIMESTAMPTZ NOT NULL,
					end_date TIMESTAMPTZ NOT NULL,
					needs_attention BOOLEAN DEFAULT FALSE,
					version BIGINT NOT NULL DEFAULT 0,
					created_at TIMESTAMPTZ DEFAULT NOW(),
					updated_at TIMESTAMPTZ DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS round_campaigns (
					id BIGSERIAL PRIMARY KEY,
					round_id BIGINT NOT NULL REFERENCES rounds(id),
					campaign_id BIGINT NOT NULL REFERENCES campaigns(id),
					status TEXT NOT NULL DEFAULT 'PENDING',
					recipient_address TEXT,
					submitted_by_wallet_address TEXT,
					tx_hash TEXT,
					onchain_recipient_id TEXT,
					reviewed_at TIMESTAMPTZ,
					needs_attention BOOLEAN DEFAULT FALSE,
					version BIGINT NOT NULL DEFAULT 0,
					created_at TIMESTAMPTZ DEFAULT NOW(),
					updated_at TIMESTAMPTZ DEFAULT NOW()
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_round_campaigns_unique
					ON round_campaigns(round_id, campaign_id);
				CREATE INDEX IF NOT EXISTS idx_round_campaigns_status ON round_campaigns(round_id, status);
			`,
		},
		{
			Version:     "004",
			Description: "Create applied_events, quarantined_events and integrity_flags tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS applied_events (
					tx_hash TEXT NOT NULL,
					log_index INTEGER NOT NULL,
					block_number BIGINT NOT NULL,
					applied_at TIMESTAMPTZ DEFAULT NOW(),
					PRIMARY KEY (tx_hash, log_index)
				);

				CREATE INDEX IF NOT EXISTS idx_applied_events_block ON applied_events(block_number);

				CREATE TABLE IF NOT EXISTS quarantined_events (
					id TEXT PRIMARY KEY,
					tx_hash TEXT NOT NULL,
					log_index INTEGER NOT NULL,
					event_type TEXT NOT NULL,
					reason TEXT NOT NULL,
					payload TEXT NOT NULL,
					quarantined_at TIMESTAMPTZ DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS integrity_flags (
					id TEXT PRIMARY KEY,
					round_id BIGINT,
					campaign_id BIGINT,
					code TEXT NOT NULL,
					detail TEXT NOT NULL,
					resolved BOOLEAN DEFAULT FALSE,
					created_at TIMESTAMPTZ DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_integrity_flags_unresolved ON integrity_flags(resolved);
			`,
		},
	}
}
