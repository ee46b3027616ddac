// Package db is the persistence layer. It stands in for spec §6's
// "PostgreSQL" (table names/types there are explicitly descriptive, not
// literal) with modernc.org/sqlite, keeping the teacher's single-writer
// discipline (db.go) and upsert-by-unique-tuple idiom (pkg/db/models.go in
// the teacher repo).
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tradingcore/internal/model"
)

var ErrNotFound = errors.New("record not found")

func f(d decimal.Decimal) float64 { return d.InexactFloat64() }

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v).Round(2) }

// --- signals ---------------------------------------------------------------

// InsertSignalOrGetExisting implements the P3 dedup property: on a unique
// conflict it returns the existing row (refreshing last_checked_at) rather
// than erroring, per spec §7's "unique-constraint violations on idempotent
// keys are treated as SUCCESS" rule.
func (d *Database) InsertSignalOrGetExisting(ctx context.Context, s model.Signal) (model.Signal, bool, error) {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO signals (
			signal_id, symbol, direction, generated_at, signal_day, confluence_type,
			composite_score, strength, effective_floor, effective_ceiling,
			entry_low, entry_high, ref_price, p_win, kelly, status, last_checked_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.SignalID, s.Symbol, s.Direction, s.GeneratedAt, dayKey(s.SignalDay), string(s.ConfluenceType),
		f(s.CompositeScore), string(s.Strength), f(s.EffectiveFloor), f(s.EffectiveCeiling),
		f(s.EntryLow), f(s.EntryHigh), f(s.RefPrice), f(s.PWin), f(s.Kelly), string(s.Status), s.LastCheckedAt,
	)
	if err == nil {
		return s, true, nil
	}
	if !isUniqueViolation(err) {
		return model.Signal{}, false, fmt.Errorf("insert signal: %w", err)
	}

	existing, getErr := d.getSignalByDedupKey(ctx, s.Symbol, s.ConfluenceType, s.SignalDay, s.EffectiveFloor, s.EffectiveCeiling)
	if getErr != nil {
		return model.Signal{}, false, getErr
	}
	if _, err := d.DB.ExecContext(ctx, `UPDATE signals SET last_checked_at = ? WHERE signal_id = ?`, s.LastCheckedAt, existing.SignalID); err != nil {
		return model.Signal{}, false, fmt.Errorf("refresh signal last_checked_at: %w", err)
	}
	existing.LastCheckedAt = s.LastCheckedAt
	return existing, false, nil
}

func (d *Database) getSignalByDedupKey(ctx context.Context, symbol string, ct model.ConfluenceType, day time.Time, floor, ceil decimal.Decimal) (model.Signal, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT signal_id, symbol, direction, generated_at, signal_day, confluence_type,
		       composite_score, strength, effective_floor, effective_ceiling,
		       entry_low, entry_high, ref_price, p_win, kelly, status, last_checked_at
		FROM signals
		WHERE symbol = ? AND confluence_type = ? AND signal_day = ? AND effective_floor = ? AND effective_ceiling = ?
	`, symbol, string(ct), dayKey(day), f(floor), f(ceil))
	return scanSignal(row)
}

func scanSignal(row *sql.Row) (model.Signal, error) {
	var s model.Signal
	var dayStr, ct, strength, status string
	var effFloor, effCeil, entryLow, entryHigh, ref, pwin, kelly, score float64
	if err := row.Scan(&s.SignalID, &s.Symbol, &s.Direction, &s.GeneratedAt, &dayStr, &ct,
		&score, &strength, &effFloor, &effCeil, &entryLow, &entryHigh, &ref, &pwin, &kelly, &status, &s.LastCheckedAt); err != nil {
		if err == sql.ErrNoRows {
			return model.Signal{}, ErrNotFound
		}
		return model.Signal{}, err
	}
	s.SignalDay, _ = time.Parse("2006-01-02", dayStr)
	s.ConfluenceType = model.ConfluenceType(ct)
	s.Strength = model.SignalStrength(strength)
	s.Status = model.SignalStatus(status)
	s.CompositeScore = dec(score)
	s.EffectiveFloor = dec(effFloor)
	s.EffectiveCeiling = dec(effCeil)
	s.EntryLow = dec(entryLow)
	s.EntryHigh = dec(entryHigh)
	s.RefPrice = dec(ref)
	s.PWin = decimal.NewFromFloat(pwin)
	s.Kelly = decimal.NewFromFloat(kelly)
	return s, nil
}

func dayKey(t time.Time) string { return t.Format("2006-01-02") }

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}

// --- trade intents -----------------------------------------------------------

// InsertTradeIntent inserts a new intent row; unique on (signal_id, user_broker_id).
func (d *Database) InsertTradeIntent(ctx context.Context, ti model.TradeIntent) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO trade_intents (
			intent_id, signal_id, user_broker_id, approved_qty, limit_price,
			product_type, trade_type, status, reject_reason, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ti.IntentID, ti.SignalID, ti.UserBrokerID, f(ti.ApprovedQty), f(ti.LimitPrice),
		ti.ProductType, string(ti.TradeType), string(ti.Status), ti.RejectReason, ti.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert trade intent: %w", err)
	}
	return nil
}

// --- trades ------------------------------------------------------------------

// InsertTradeCreated inserts a trade row in CREATED state. Called before any
// broker call per spec §4.7 point 1.
func (d *Database) InsertTradeCreated(ctx context.Context, t model.Trade) error {
	now := t.CreatedAt
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO trades (
			trade_id, intent_id, client_order_id, broker_order_id, user_broker_id, symbol,
			entry_qty, entry_price, exit_price, status, trade_type,
			exit_target_price, exit_stop_price, trailing_highest_price, trailing_stop_price,
			exit_trigger, realized_pnl, created_at, updated_at, last_broker_update_at, version
		) VALUES (?, ?, ?, NULL, ?, ?, ?, ?, NULL, ?, ?, NULL, NULL, NULL, NULL, NULL, NULL, ?, ?, ?, 1)
	`, t.TradeID, t.IntentID, t.ClientOrderID, t.UserBrokerID, t.Symbol,
		f(t.EntryQty), f(t.EntryPrice), string(model.TradeCreated), string(t.TradeType),
		now, now, now)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// GetTradeByIntentID fetches a trade by its unique intent_id, the key
// upserts/executor-restart-replay use to find an in-flight trade (spec E2).
func (d *Database) GetTradeByIntentID(ctx context.Context, intentID string) (model.Trade, error) {
	row := d.DB.QueryRowContext(ctx, tradeSelectSQL+` WHERE intent_id = ?`, intentID)
	return scanTrade(row)
}

func (d *Database) GetTrade(ctx context.Context, tradeID string) (model.Trade, error) {
	row := d.DB.QueryRowContext(ctx, tradeSelectSQL+` WHERE trade_id = ?`, tradeID)
	return scanTrade(row)
}

// ListTradesByStatus returns all trades in a given status, used by the
// ReconcilerLoop (PENDING) and ExitMonitor startup load (OPEN).
func (d *Database) ListTradesByStatus(ctx context.Context, status model.TradeStatus) ([]model.Trade, error) {
	rows, err := d.DB.QueryContext(ctx, tradeSelectSQL+` WHERE status = ?`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list trades by status: %w", err)
	}
	defer rows.Close()
	var out []model.Trade
	for rows.Next() {
		t, err := scanTradeRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const tradeSelectSQL = `
	SELECT trade_id, intent_id, client_order_id, COALESCE(broker_order_id, ''), user_broker_id, symbol,
	       entry_qty, entry_price, COALESCE(exit_price, 0), status, trade_type,
	       COALESCE(exit_target_price, 0), COALESCE(exit_stop_price, 0),
	       COALESCE(trailing_highest_price, 0), COALESCE(trailing_stop_price, 0),
	       COALESCE(exit_trigger, ''), COALESCE(realized_pnl, 0),
	       created_at, updated_at, last_broker_update_at, version
	FROM trades`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrade(row *sql.Row) (model.Trade, error) {
	t, err := scanInto(row)
	if err == sql.ErrNoRows {
		return model.Trade{}, ErrNotFound
	}
	return t, err
}

func scanTradeRows(rows *sql.Rows) (model.Trade, error) {
	return scanInto(rows)
}

func scanInto(s rowScanner) (model.Trade, error) {
	var t model.Trade
	var status, tradeType, exitTrigger string
	var entryQty, entryPrice, exitPrice, targetPrice, stopPrice, trailHigh, trailStop, pnl float64
	if err := s.Scan(&t.TradeID, &t.IntentID, &t.ClientOrderID, &t.BrokerOrderID, &t.UserBrokerID, &t.Symbol,
		&entryQty, &entryPrice, &exitPrice, &status, &tradeType,
		&targetPrice, &stopPrice, &trailHigh, &trailStop,
		&exitTrigger, &pnl, &t.CreatedAt, &t.UpdatedAt, &t.LastBrokerUpdateAt, &t.Version); err != nil {
		return model.Trade{}, err
	}
	t.Status = model.TradeStatus(status)
	t.TradeType = model.TradeType(tradeType)
	t.ExitTrigger = model.ExitTrigger(exitTrigger)
	t.EntryQty = dec(entryQty)
	t.EntryPrice = dec(entryPrice)
	t.ExitPrice = dec(exitPrice)
	t.ExitTargetPrice = dec(targetPrice)
	t.ExitStopPrice = dec(stopPrice)
	t.TrailingHighestPrice = dec(trailHigh)
	t.TrailingStopPrice = dec(trailStop)
	t.RealizedPnl = dec(pnl)
	return t, nil
}

// UpdateTrade persists a full trade row, incrementing version and refreshing
// last_broker_update_at when fromBroker is true (spec §4.8: "refreshes
// lastBrokerUpdateAt = now() on every broker-originated write"). expectedVersion
// enforces optimistic concurrency so concurrent writers (executor vs.
// reconciler) cannot silently clobber each other.
func (d *Database) UpdateTrade(ctx context.Context, t model.Trade, expectedVersion int64, fromBroker bool, now time.Time) error {
	lastBrokerUpdate := t.LastBrokerUpdateAt
	if fromBroker {
		lastBrokerUpdate = now
	}
	res, err := d.DB.ExecContext(ctx, `
		UPDATE trades SET
			broker_order_id = NULLIF(?, ''), entry_qty = ?, entry_price = ?, exit_price = NULLIF(?, 0),
			status = ?, trade_type = ?,
			exit_target_price = NULLIF(?, 0), exit_stop_price = NULLIF(?, 0),
			trailing_highest_price = NULLIF(?, 0), trailing_stop_price = NULLIF(?, 0),
			exit_trigger = NULLIF(?, ''), realized_pnl = ?,
			updated_at = ?, last_broker_update_at = ?, version = version + 1
		WHERE trade_id = ? AND version = ?
	`,
		t.BrokerOrderID, f(t.EntryQty), f(t.EntryPrice), f(t.ExitPrice),
		string(t.Status), string(t.TradeType),
		f(t.ExitTargetPrice), f(t.ExitStopPrice),
		f(t.TrailingHighestPrice), f(t.TrailingStopPrice),
		string(t.ExitTrigger), f(t.RealizedPnl),
		now, lastBrokerUpdate,
		t.TradeID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update trade: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update trade rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update trade %s: version conflict (expected %d)", t.TradeID, expectedVersion)
	}
	return nil
}

// --- exit intents --------------------------------------------------------

// InsertExitIntent inserts a new exit attempt; returns (false, nil) rather
// than an error when the unique (trade_id, exit_reason, episode_id) tuple
// already exists, implementing P8 exclusivity.
func (d *Database) InsertExitIntent(ctx context.Context, ei model.ExitIntent) (bool, error) {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO exit_intents (exit_intent_id, trade_id, user_broker_id, exit_reason, episode_id, triggered_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ei.ExitIntentID, ei.TradeID, ei.UserBrokerID, string(ei.ExitReason), ei.EpisodeID, ei.TriggeredAt, string(ei.Status))
	if err == nil {
		return true, nil
	}
	if isUniqueViolation(err) {
		return false, nil
	}
	return false, fmt.Errorf("insert exit intent: %w", err)
}

// HasPendingExitIntent reports whether a trade already has an exit intent in
// a non-terminal status (P8: at most one PENDING/APPROVED/PLACED at a time).
func (d *Database) HasPendingExitIntent(ctx context.Context, tradeID string) (bool, error) {
	var n int
	err := d.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM exit_intents
		WHERE trade_id = ? AND status IN ('PENDING','APPROVED','PLACED')
	`, tradeID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check pending exit intent: %w", err)
	}
	return n > 0, nil
}

// --- tick events ---------------------------------------------------------

// InsertTickEventBatch persists a batch of accepted ticks in one
// transaction, the write path for the Open Question 2 AsyncWriter.
func (d *Database) InsertTickEventBatch(ctx context.Context, ticks []model.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tick event batch: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tick_events (symbol, exchange_ts, exchange_ts_valid, received_at, last_price, last_qty, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare tick event insert: %w", err)
	}
	defer stmt.Close()

	for _, tk := range ticks {
		valid := 0
		if tk.ExchangeTSValid {
			valid = 1
		}
		if _, err := stmt.ExecContext(ctx, tk.Symbol, tk.ExchangeTS, valid, tk.ReceivedAt, f(tk.LastPrice), f(tk.LastQty), f(tk.Volume)); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert tick event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tick event batch: %w", err)
	}
	return nil
}

// --- candles -----------------------------------------------------------

// UpsertCandle stores a closed candle idempotently by (symbol, timeframe, bucket_start).
func (d *Database) UpsertCandle(ctx context.Context, c model.Candle) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO candles (symbol, timeframe, bucket_start, open, high, low, close, volume, state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, timeframe, bucket_start) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low,
			close = excluded.close, volume = excluded.volume, state = excluded.state
	`, c.Symbol, int(c.Timeframe), c.BucketStart, f(c.Open), f(c.High), f(c.Low), f(c.Close), f(c.Volume), string(c.State))
	if err != nil {
		return fmt.Errorf("upsert candle: %w", err)
	}
	return nil
}

// RecentCandles returns the most recent n closed candles for a
// symbol/timeframe, oldest first.
func (d *Database) RecentCandles(ctx context.Context, symbol string, tf model.Timeframe, n int) ([]model.Candle, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT symbol, timeframe, bucket_start, open, high, low, close, volume, state
		FROM candles WHERE symbol = ? AND timeframe = ? AND state = 'CLOSED'
		ORDER BY bucket_start DESC LIMIT ?
	`, symbol, int(tf), n)
	if err != nil {
		return nil, fmt.Errorf("recent candles: %w", err)
	}
	defer rows.Close()

	var out []model.Candle
	for rows.Next() {
		var c model.Candle
		var tfi int
		var state string
		var o, h, l, cl, v float64
		if err := rows.Scan(&c.Symbol, &tfi, &c.BucketStart, &o, &h, &l, &cl, &v, &state); err != nil {
			return nil, err
		}
		c.Timeframe = model.Timeframe(tfi)
		c.State = model.CandleState(state)
		c.Open, c.High, c.Low, c.Close, c.Volume = dec(o), dec(h), dec(l), dec(cl), dec(v)
		out = append(out, c)
	}
	// reverse to oldest-first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

// --- user brokers & sessions --------------------------------------------

// ListEnabledUserBrokers returns all enabled user-brokers with the given role.
func (d *Database) ListEnabledUserBrokers(ctx context.Context, role model.BrokerRole) ([]model.UserBroker, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT user_broker_id, user_id, broker_code, role, env, risk_profile_id,
		       credentials_ref, enabled, watchlist, portfolio_paused
		FROM user_brokers WHERE role = ? AND enabled = 1
	`, string(role))
	if err != nil {
		return nil, fmt.Errorf("list user brokers: %w", err)
	}
	defer rows.Close()

	var out []model.UserBroker
	for rows.Next() {
		var ub model.UserBroker
		var roleStr, envStr, watchlist string
		var enabled, paused int
		if err := rows.Scan(&ub.UserBrokerID, &ub.UserID, &ub.BrokerCode, &roleStr, &envStr, &ub.RiskProfileID,
			&ub.CredentialsRef, &enabled, &watchlist, &paused); err != nil {
			return nil, err
		}
		ub.Role = model.BrokerRole(roleStr)
		ub.Env = model.BrokerEnv(envStr)
		ub.Enabled = enabled != 0
		ub.PortfolioPaused = paused != 0
		if watchlist != "" {
			ub.Watchlist = strings.Split(watchlist, ",")
		}
		out = append(out, ub)
	}
	return out, rows.Err()
}

// GetUserBroker loads a single user-broker row by id.
func (d *Database) GetUserBroker(ctx context.Context, userBrokerID string) (model.UserBroker, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT user_broker_id, user_id, broker_code, role, env, risk_profile_id,
		       credentials_ref, enabled, watchlist, portfolio_paused
		FROM user_brokers WHERE user_broker_id = ?
	`, userBrokerID)
	var ub model.UserBroker
	var roleStr, envStr, watchlist string
	var enabled, paused int
	if err := row.Scan(&ub.UserBrokerID, &ub.UserID, &ub.BrokerCode, &roleStr, &envStr, &ub.RiskProfileID,
		&ub.CredentialsRef, &enabled, &watchlist, &paused); err != nil {
		if err == sql.ErrNoRows {
			return model.UserBroker{}, ErrNotFound
		}
		return model.UserBroker{}, err
	}
	ub.Role = model.BrokerRole(roleStr)
	ub.Env = model.BrokerEnv(envStr)
	ub.Enabled = enabled != 0
	ub.PortfolioPaused = paused != 0
	if watchlist != "" {
		ub.Watchlist = strings.Split(watchlist, ",")
	}
	return ub, nil
}

// SeedUserBroker inserts ub if its id is not already present, leaving an
// existing row untouched; used at startup to bootstrap a demo account onto
// an empty database rather than requiring an out-of-band provisioning step
// (spec is silent on user-broker provisioning; Non-goals exclude a UI for
// it, not a seed).
func (d *Database) SeedUserBroker(ctx context.Context, ub model.UserBroker) error {
	enabled, paused := 0, 0
	if ub.Enabled {
		enabled = 1
	}
	if ub.PortfolioPaused {
		paused = 1
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO user_brokers (user_broker_id, user_id, broker_code, role, env, risk_profile_id,
		                          credentials_ref, enabled, watchlist, portfolio_paused)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_broker_id) DO NOTHING
	`, ub.UserBrokerID, ub.UserID, ub.BrokerCode, string(ub.Role), string(ub.Env), ub.RiskProfileID,
		ub.CredentialsRef, enabled, strings.Join(ub.Watchlist, ","), paused)
	if err != nil {
		return fmt.Errorf("seed user broker: %w", err)
	}
	return nil
}

// ProfileForUserBroker resolves the risk profile governing a user-broker,
// used by the ExitMonitor's time-exit check which only has a tradeId/
// userBrokerId, not a riskProfileId, in hand.
func (d *Database) ProfileForUserBroker(ctx context.Context, userBrokerID string) (model.RiskProfile, error) {
	ub, err := d.GetUserBroker(ctx, userBrokerID)
	if err != nil {
		return model.RiskProfile{}, err
	}
	return d.GetRiskProfile(ctx, ub.RiskProfileID)
}

// InsertSessionVersion appends a new session row; refreshes never update in
// place (spec §3).
func (d *Database) InsertSessionVersion(ctx context.Context, s model.Session) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO user_broker_sessions (session_id, user_broker_id, access_token, valid_till, status, version)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.SessionID, s.UserBrokerID, s.AccessToken, s.ValidTill, string(s.Status), s.Version)
	if err != nil {
		return fmt.Errorf("insert session version: %w", err)
	}
	return nil
}

// LatestSession returns the highest-version session row for a user-broker.
func (d *Database) LatestSession(ctx context.Context, userBrokerID string) (model.Session, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT session_id, user_broker_id, access_token, valid_till, status, version
		FROM user_broker_sessions WHERE user_broker_id = ?
		ORDER BY version DESC LIMIT 1
	`, userBrokerID)
	var s model.Session
	var status string
	if err := row.Scan(&s.SessionID, &s.UserBrokerID, &s.AccessToken, &s.ValidTill, &status, &s.Version); err != nil {
		if err == sql.ErrNoRows {
			return model.Session{}, ErrNotFound
		}
		return model.Session{}, err
	}
	s.Status = model.SessionStatus(status)
	return s, nil
}

// --- risk profiles -------------------------------------------------------

// GetRiskProfile loads a named risk profile.
func (d *Database) GetRiskProfile(ctx context.Context, id string) (model.RiskProfile, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT risk_profile_id, min_confluence, min_p_win, min_kelly, max_kelly,
		       max_symbol_capital_pct, max_portfolio_exposure_pct, max_portfolio_log_loss,
		       max_symbol_log_loss, max_position_log_loss, max_pyramid_level, rebuy_spacing_atr,
		       velocity_multiplier, cooldown_seconds, max_hold_seconds, max_daily_loss_pct,
		       max_weekly_loss_pct, min_value, max_per_trade
		FROM risk_profiles WHERE risk_profile_id = ?
	`, id)
	var rp model.RiskProfile
	var minConfluence string
	var cooldownSec, maxHoldSec int64
	var minPWin, minKelly, maxKelly, maxSymCap, maxPortExp, maxPortLoss, maxSymLoss, maxPosLoss,
		rebuySpacing, velocity, maxDailyLoss, maxWeeklyLoss, minValue, maxPerTrade float64
	if err := row.Scan(&rp.RiskProfileID, &minConfluence, &minPWin, &minKelly, &maxKelly,
		&maxSymCap, &maxPortExp, &maxPortLoss, &maxSymLoss, &maxPosLoss, &rp.MaxPyramidLevel, &rebuySpacing,
		&velocity, &cooldownSec, &maxHoldSec, &maxDailyLoss, &maxWeeklyLoss, &minValue, &maxPerTrade); err != nil {
		if err == sql.ErrNoRows {
			return model.RiskProfile{}, ErrNotFound
		}
		return model.RiskProfile{}, err
	}
	rp.MinConfluence = model.ConfluenceType(minConfluence)
	rp.MinPWin = decimal.NewFromFloat(minPWin)
	rp.MinKelly = decimal.NewFromFloat(minKelly)
	rp.MaxKelly = decimal.NewFromFloat(maxKelly)
	rp.MaxSymbolCapitalPct = decimal.NewFromFloat(maxSymCap)
	rp.MaxPortfolioExposurePct = decimal.NewFromFloat(maxPortExp)
	rp.MaxPortfolioLogLoss = decimal.NewFromFloat(maxPortLoss)
	rp.MaxSymbolLogLoss = decimal.NewFromFloat(maxSymLoss)
	rp.MaxPositionLogLoss = decimal.NewFromFloat(maxPosLoss)
	rp.RebuySpacingATR = decimal.NewFromFloat(rebuySpacing)
	rp.VelocityMultiplier = decimal.NewFromFloat(velocity)
	rp.CooldownDuration = time.Duration(cooldownSec) * time.Second
	rp.MaxHoldDuration = time.Duration(maxHoldSec) * time.Second
	rp.MaxDailyLossPct = decimal.NewFromFloat(maxDailyLoss)
	rp.MaxWeeklyLossPct = decimal.NewFromFloat(maxWeeklyLoss)
	rp.MinValue = decimal.NewFromFloat(minValue)
	rp.MaxPerTrade = decimal.NewFromFloat(maxPerTrade)
	return rp, nil
}

// UpsertRiskProfile inserts or replaces a named risk profile, used to sync
// the YAML-configured bundle into the DB at startup.
func (d *Database) UpsertRiskProfile(ctx context.Context, rp model.RiskProfile) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO risk_profiles (
			risk_profile_id, min_confluence, min_p_win, min_kelly, max_kelly,
			max_symbol_capital_pct, max_portfolio_exposure_pct, max_portfolio_log_loss,
			max_symbol_log_loss, max_position_log_loss, max_pyramid_level, rebuy_spacing_atr,
			velocity_multiplier, cooldown_seconds, max_hold_seconds, max_daily_loss_pct,
			max_weekly_loss_pct, min_value, max_per_trade
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(risk_profile_id) DO UPDATE SET
			min_confluence=excluded.min_confluence, min_p_win=excluded.min_p_win,
			min_kelly=excluded.min_kelly, max_kelly=excluded.max_kelly,
			max_symbol_capital_pct=excluded.max_symbol_capital_pct,
			max_portfolio_exposure_pct=excluded.max_portfolio_exposure_pct,
			max_portfolio_log_loss=excluded.max_portfolio_log_loss,
			max_symbol_log_loss=excluded.max_symbol_log_loss,
			max_position_log_loss=excluded.max_position_log_loss,
			max_pyramid_level=excluded.max_pyramid_level, rebuy_spacing_atr=excluded.rebuy_spacing_atr,
			velocity_multiplier=excluded.velocity_multiplier, cooldown_seconds=excluded.cooldown_seconds,
			max_hold_seconds=excluded.max_hold_seconds, max_daily_loss_pct=excluded.max_daily_loss_pct,
			max_weekly_loss_pct=excluded.max_weekly_loss_pct, min_value=excluded.min_value,
			max_per_trade=excluded.max_per_trade
	`, rp.RiskProfileID, string(rp.MinConfluence), f(rp.MinPWin), f(rp.MinKelly), f(rp.MaxKelly),
		f(rp.MaxSymbolCapitalPct), f(rp.MaxPortfolioExposurePct), f(rp.MaxPortfolioLogLoss),
		f(rp.MaxSymbolLogLoss), f(rp.MaxPositionLogLoss), rp.MaxPyramidLevel, f(rp.RebuySpacingATR),
		f(rp.VelocityMultiplier), int64(rp.CooldownDuration/time.Second), int64(rp.MaxHoldDuration/time.Second),
		f(rp.MaxDailyLossPct), f(rp.MaxWeeklyLossPct), f(rp.MinValue), f(rp.MaxPerTrade))
	if err != nil {
		return fmt.Errorf("upsert risk profile: %w", err)
	}
	return nil
}

// --- cooldowns -----------------------------------------------------------

// LastCooldownTouch returns the last time (userBrokerID, symbol, kind) fired,
// or the zero time if never. Both entry cooldowns and exit-reason episode
// cooldowns share this table (Open Question 6: DB-enforced, not in-memory).
func (d *Database) LastCooldownTouch(ctx context.Context, userBrokerID, symbol, kind string) (time.Time, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT last_at FROM cooldowns WHERE user_broker_id = ? AND symbol = ? AND kind = ?
	`, userBrokerID, symbol, kind)
	var t time.Time
	if err := row.Scan(&t); err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return t, nil
}

// TouchCooldown records that (userBrokerID, symbol, kind) fired at t.
func (d *Database) TouchCooldown(ctx context.Context, userBrokerID, symbol, kind string, t time.Time) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO cooldowns (user_broker_id, symbol, kind, last_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_broker_id, symbol, kind) DO UPDATE SET last_at = excluded.last_at
	`, userBrokerID, symbol, kind, t)
	return err
}
