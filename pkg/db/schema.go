package db

import (
	"database/sql"
	"fmt"
)

// schema is applied idempotently at startup; additive changes to existing
// deployments go through ensureColumn below rather than a migration
// framework, matching the teacher's own ApplyMigrations shape.
const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS signals (
    signal_id TEXT PRIMARY KEY,
    symbol TEXT NOT NULL,
    direction TEXT NOT NULL,
    generated_at DATETIME NOT NULL,
    signal_day TEXT NOT NULL,
    confluence_type TEXT NOT NULL,
    composite_score REAL NOT NULL,
    strength TEXT NOT NULL,
    effective_floor REAL NOT NULL CHECK (effective_floor = ROUND(effective_floor, 2)),
    effective_ceiling REAL NOT NULL CHECK (effective_ceiling = ROUND(effective_ceiling, 2)),
    entry_low REAL NOT NULL,
    entry_high REAL NOT NULL,
    ref_price REAL NOT NULL CHECK (ref_price = ROUND(ref_price, 2)),
    p_win REAL NOT NULL,
    kelly REAL NOT NULL,
    status TEXT NOT NULL,
    last_checked_at DATETIME NOT NULL,
    UNIQUE(symbol, confluence_type, signal_day, effective_floor, effective_ceiling)
);

CREATE TABLE IF NOT EXISTS trade_intents (
    intent_id TEXT PRIMARY KEY,
    signal_id TEXT NOT NULL,
    user_broker_id TEXT NOT NULL,
    approved_qty REAL NOT NULL,
    limit_price REAL NOT NULL CHECK (limit_price = ROUND(limit_price, 2)),
    product_type TEXT NOT NULL,
    trade_type TEXT NOT NULL,
    status TEXT NOT NULL,
    reject_reason TEXT,
    created_at DATETIME NOT NULL,
    UNIQUE(signal_id, user_broker_id)
);

CREATE TABLE IF NOT EXISTS trades (
    trade_id TEXT PRIMARY KEY,
    intent_id TEXT NOT NULL UNIQUE,
    client_order_id TEXT NOT NULL UNIQUE,
    broker_order_id TEXT UNIQUE,
    user_broker_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    entry_qty REAL NOT NULL,
    entry_price REAL NOT NULL CHECK (entry_price = ROUND(entry_price, 2)),
    exit_price REAL CHECK (exit_price IS NULL OR exit_price = ROUND(exit_price, 2)),
    status TEXT NOT NULL,
    trade_type TEXT NOT NULL,
    exit_target_price REAL,
    exit_stop_price REAL,
    trailing_highest_price REAL,
    trailing_stop_price REAL,
    exit_trigger TEXT,
    realized_pnl REAL,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    last_broker_update_at DATETIME NOT NULL,
    version INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_trades_pending_updated
    ON trades(status, updated_at) WHERE status = 'PENDING';
CREATE INDEX IF NOT EXISTS idx_trades_open_symbol_ub
    ON trades(status, symbol, user_broker_id) WHERE status = 'OPEN';

CREATE TABLE IF NOT EXISTS exit_intents (
    exit_intent_id TEXT PRIMARY KEY,
    trade_id TEXT NOT NULL,
    user_broker_id TEXT NOT NULL,
    exit_reason TEXT NOT NULL,
    episode_id TEXT NOT NULL,
    triggered_at DATETIME NOT NULL,
    status TEXT NOT NULL,
    UNIQUE(trade_id, exit_reason, episode_id)
);

CREATE TABLE IF NOT EXISTS candles (
    symbol TEXT NOT NULL,
    timeframe INTEGER NOT NULL,
    bucket_start DATETIME NOT NULL,
    open REAL NOT NULL,
    high REAL NOT NULL,
    low REAL NOT NULL,
    close REAL NOT NULL,
    volume REAL NOT NULL,
    state TEXT NOT NULL,
    PRIMARY KEY (symbol, timeframe, bucket_start)
);

CREATE TABLE IF NOT EXISTS user_brokers (
    user_broker_id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    broker_code TEXT NOT NULL,
    role TEXT NOT NULL,
    env TEXT NOT NULL,
    risk_profile_id TEXT NOT NULL,
    credentials_ref TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    watchlist TEXT NOT NULL DEFAULT '',
    portfolio_paused INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS user_broker_sessions (
    session_id TEXT PRIMARY KEY,
    user_broker_id TEXT NOT NULL,
    access_token TEXT NOT NULL,
    valid_till DATETIME NOT NULL,
    status TEXT NOT NULL,
    version INTEGER NOT NULL DEFAULT 1,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_sessions_ub_version
    ON user_broker_sessions(user_broker_id, version DESC);

CREATE TABLE IF NOT EXISTS risk_profiles (
    risk_profile_id TEXT PRIMARY KEY,
    min_confluence TEXT NOT NULL,
    min_p_win REAL NOT NULL,
    min_kelly REAL NOT NULL,
    max_kelly REAL NOT NULL,
    max_symbol_capital_pct REAL NOT NULL,
    max_portfolio_exposure_pct REAL NOT NULL,
    max_portfolio_log_loss REAL NOT NULL,
    max_symbol_log_loss REAL NOT NULL,
    max_position_log_loss REAL NOT NULL,
    max_pyramid_level INTEGER NOT NULL,
    rebuy_spacing_atr REAL NOT NULL,
    velocity_multiplier REAL NOT NULL,
    cooldown_seconds INTEGER NOT NULL,
    max_hold_seconds INTEGER NOT NULL,
    max_daily_loss_pct REAL NOT NULL,
    max_weekly_loss_pct REAL NOT NULL,
    min_value REAL NOT NULL,
    max_per_trade REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS tick_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    symbol TEXT NOT NULL,
    exchange_ts DATETIME,
    exchange_ts_valid INTEGER NOT NULL,
    received_at DATETIME NOT NULL,
    last_price REAL NOT NULL,
    last_qty REAL NOT NULL,
    volume REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS cooldowns (
    user_broker_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    kind TEXT NOT NULL, -- 'ENTRY' or exit-reason name
    last_at DATETIME NOT NULL,
    PRIMARY KEY (user_broker_id, symbol, kind)
);
`

// ApplyMigrations bootstraps the schema; kept lightweight for fast startup,
// same shape as the teacher's pkg/db/schema.go.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if err := ensureColumn(d.DB, "trades", "version", "INTEGER NOT NULL DEFAULT 1"); err != nil {
		return err
	}
	return nil
}

func ensureColumn(sqlDB *sql.DB, table, column, definition string) error {
	exists, err := columnExists(sqlDB, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := sqlDB.Exec(alter); err != nil {
		return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
	}
	return nil
}

func columnExists(sqlDB *sql.DB, table, column string) (bool, error) {
	rows, err := sqlDB.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
