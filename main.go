// Command trading-core wires C1-C15 into one process: tick ingestion,
// candle aggregation, signal evaluation, intent fan-out, order execution,
// reconciliation, exit monitoring, and the startup gate. Grounded on the
// teacher's main.go sequential construct-or-die wiring order (config, DB,
// migrations, then each subsystem), replacing the teacher's Binance-futures
// gateway selection with BrokerFactory/AdapterFactory resolution and its
// global mutable caches with the explicitly-constructed components built
// under internal/.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"tradingcore/internal/account"
	"tradingcore/internal/broker"
	"tradingcore/internal/broker/sim"
	"tradingcore/internal/candle"
	"tradingcore/internal/clock"
	"tradingcore/internal/events"
	"tradingcore/internal/exit"
	"tradingcore/internal/fill"
	"tradingcore/internal/intent"
	"tradingcore/internal/metrics"
	"tradingcore/internal/model"
	"tradingcore/internal/order"
	"tradingcore/internal/persist"
	"tradingcore/internal/reconcile"
	"tradingcore/internal/riskcfg"
	"tradingcore/internal/signal"
	"tradingcore/internal/startup"
	"tradingcore/internal/tick"
	"tradingcore/internal/trade"
	"tradingcore/pkg/config"
	"tradingcore/pkg/crypto"
	"tradingcore/pkg/db"
	"tradingcore/pkg/logx"
)

func main() {
	log.SetFlags(0)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	lg := logx.New(logx.ParseLevel(cfg.LogLevel))

	warnings, err := startup.Check(cfg)
	if err != nil {
		log.Fatalf("startup gate refused to start: %v", err)
	}
	for _, w := range warnings {
		lg.Warn("degraded mode", "reason", w)
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("apply migrations: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := seedDemoData(ctx, database, cfg); err != nil {
		log.Fatalf("seed demo data: %v", err)
	}

	reg := metrics.New(prometheus.NewRegistry())
	now := func() time.Time { return clock.Real.Now() }
	cal := clock.NewSessionCalendar(clock.Real, cfg.MarketOpenOffset, cfg.MarketCloseOffset, cfg.PreCloseQuiet)

	events.NewBus(func(topic string) {
		reg.EventsDropped.WithLabelValues(topic).Inc()
		lg.Warn("event dropped, subscriber queue full", "topic", topic)
	})

	var asyncWriter *persist.AsyncWriter
	if cfg.PersistTickEvents && cfg.AsyncEventWriterEnabled {
		asyncWriter = persist.New(database, 10000, 500, 2*time.Second, persist.Hooks{
			OnDropped: func() { lg.Warn("tick event writer queue full, dropping tick") },
			OnError:   func(err error) { lg.Error("tick event batch write failed", "err", err) },
		})
		asyncWriter.Start(ctx)
		defer asyncWriter.Close()
	}

	// --- cash accounting & risk snapshotting --------------------------------

	ledger := account.NewLedger(now)
	lossBook := account.NewLossBook(now)
	snapshotter := &account.Snapshotter{
		Ledger: ledger, LossBook: lossBook, Positions: database, Candles: database, Cooldowns: database,
		Now: now, ATRPeriod: cfg.ATRPeriod, ATRWindow: cfg.ATRWindow,
	}

	enabledExec, err := database.ListEnabledUserBrokers(ctx, model.RoleExec)
	if err != nil {
		log.Fatalf("list enabled user brokers: %v", err)
	}
	for _, ub := range enabledExec {
		ledger.Seed(ub.UserBrokerID, decimal.NewFromFloat(cfg.SeedCashPerBroker))
	}

	// --- broker resolution ---------------------------------------------------

	var decryptor broker.CredentialDecryptor
	if os.Getenv("MASTER_ENCRYPTION_KEY") != "" {
		keyMgr, err := crypto.NewKeyManager()
		if err != nil {
			log.Fatalf("init key manager: %v", err)
		}
		decryptor = keyMgr
	}
	brokerFactory := broker.NewBrokerFactory(database, map[string]broker.AdapterFactory{
		"SIM": func(ub model.UserBroker, session model.Session, credentials string) (broker.DataBroker, broker.OrderBroker, error) {
			return sim.NewDataBroker(cfg.Symbols, decimal.NewFromFloat(cfg.SimStartPrice)), sim.NewOrderBroker(), nil
		},
	}, decryptor)
	statusSource := broker.NewStatusSource(brokerFactory)

	resolveExecutor := func(ctx context.Context, userBrokerID string) (*order.Executor, error) {
		ub, err := database.GetUserBroker(ctx, userBrokerID)
		if err != nil {
			return nil, err
		}
		_, ob, err := brokerFactory.Resolve(ctx, ub)
		if err != nil {
			return nil, err
		}
		return order.New(trades, ob, ledger, order.Hooks{
			OnSubmitted: func(t model.Trade) { reg.OrdersPlaced.WithLabelValues(t.UserBrokerID).Inc() },
			OnRejected:  func(t model.Trade) { reg.OrdersRejected.WithLabelValues(string(t.ExitTrigger)).Inc() },
		}), nil
	}
	resolveOrderBroker := func(userBrokerID string) (broker.OrderBroker, error) {
		ub, err := database.GetUserBroker(ctx, userBrokerID)
		if err != nil {
			return nil, err
		}
		_, ob, err := brokerFactory.Resolve(ctx, ub)
		return ob, err
	}

	// --- trade lifecycle, exit monitoring, fill handoff ---------------------

	trades = trade.New(database, now)

	exitMonitor := exit.New(trades, database, database, database, exitExecutorAdapter{resolve: resolveExecutor}, lossBook, exit.Hooks{}, now)
	if err := exitMonitor.Load(ctx); err != nil {
		lg.Error("load open trades into exit monitor failed", "err", err)
	}

	fillHandler := fill.New(trades, database, exitMonitor, fill.Hooks{
		OnOpened: func(t model.Trade) { lg.Info("trade opened", "trade", t.TradeID, "symbol", t.Symbol) },
	}, cfg.ATRPeriod, cfg.ATRWindow)

	reconcileLoop := reconcile.New(trades, resolveOrderBroker, ledger, reconcile.Hooks{
		OnChecked:     reg.ReconcileChecked.Inc,
		OnUpdated:     reg.ReconcileUpdated.Inc,
		OnTimeout:     func(tradeID string) { reg.ReconcileTimeouts.Inc() },
		OnRateLimited: reg.ReconcileRateLimited.Inc,
		OnFilled: func(tradeID string) {
			if err := fillHandler.Handle(ctx, tradeID); err != nil {
				lg.Error("fill handoff failed", "trade", tradeID, "err", err)
			}
		},
		OnCancelled: func(tradeID string) {
			reg.ReconcileCancelled.Inc()
			lg.Info("trade cancelled by broker", "trade", tradeID)
		},
		OnBrokerReject: func(tradeID string) {
			reg.OrdersRejected.WithLabelValues("broker_async").Inc()
			lg.Info("trade rejected by broker asynchronously", "trade", tradeID)
		},
	}, now)

	// --- intent fan-out & order entry ---------------------------------------

	fanOut := intent.New(database, snapshotter, statusSource, intent.Hooks{
		OnApproved: func(ti model.TradeIntent) {
			ub, err := database.GetUserBroker(ctx, ti.UserBrokerID)
			if err != nil {
				lg.Error("load user broker for approved intent failed", "intent", ti.IntentID, "err", err)
				return
			}
			exec, err := resolveExecutor(ctx, ti.UserBrokerID)
			if err != nil {
				lg.Error("resolve executor for approved intent failed", "intent", ti.IntentID, "err", err)
				return
			}
			symbol := ""
			if len(ub.Watchlist) > 0 {
				symbol = ub.Watchlist[0]
			}
			if _, err := exec.PlaceEntry(ctx, ti, symbol); err != nil {
				lg.Error("place entry failed", "intent", ti.IntentID, "err", err)
			}
		},
		OnRejected: func(ti model.TradeIntent) { reg.OrdersRejected.WithLabelValues(ti.RejectReason).Inc() },
	}, now)

	// --- signal evaluation ---------------------------------------------------

	var estimator signal.WinRateEstimator
	if cfg.UseEmpiricalWinRateEstimator {
		estimator = signal.EmpiricalWinRateEstimator{
			Candles: database, Period: 14, Window: 60,
			MinPWin: decimal.NewFromFloat(0.5), MaxPWin: decimal.NewFromFloat(0.85),
			Fallback: decimal.NewFromFloat(cfg.DefaultPWin),
		}
	} else {
		estimator = signal.ConstantWinRateEstimator{Value: decimal.NewFromFloat(cfg.DefaultPWin)}
	}
	evaluator := signal.NewEvaluator(cal, database, estimator, signal.Hooks{
		OnPublished: func(s model.Signal) {
			reg.SignalsGenerated.WithLabelValues(string(s.ConfluenceType)).Inc()
			if err := fanOut.Handle(ctx, s); err != nil {
				lg.Error("intent fan-out failed", "signal", s.SignalID, "err", err)
			}
		},
	}, cfg.EvaluatorWindowSizes[1])

	// --- candle pipeline -----------------------------------------------------

	aggregator := candle.NewAggregator(cal, database, candle.Hooks{
		OnClosed:      func(c model.Candle) { reg.CandlesClosed.WithLabelValues(fmt.Sprint(int(c.Timeframe))).Inc() },
		OnPersistFail: func(symbol string, tf model.Timeframe, err error) { lg.Error("candle persist failed", "symbol", symbol, "tf", tf, "err", err) },
	})
	builder := candle.NewBuilder(cal, database, candle.Hooks{
		OnClosed: func(c model.Candle) {
			reg.CandlesClosed.WithLabelValues(fmt.Sprint(int(c.Timeframe))).Inc()
			aggregator.OnClosed1m(ctx, c)
			if c.Timeframe == model.TF1m {
				if _, _, err := evaluator.OnClosed1m(ctx, c, now()); err != nil {
					lg.Error("signal evaluation failed", "symbol", c.Symbol, "err", err)
				}
			}
		},
		OnPersistFail: func(symbol string, tf model.Timeframe, err error) { lg.Error("candle persist failed", "symbol", symbol, "tf", tf, "err", err) },
	}, aggregator)

	// --- tick ingestion -------------------------------------------------------

	tickCounters := tick.Counters{
		OnDuplicate:         func(symbol string) { reg.TicksDuplicate.Inc() },
		OnMissingExchangeTS: func(symbol string) { reg.TicksMissingExchangeTS.Inc() },
		OnDropped:           func(subscriberName string) {},
	}
	tickStream := tick.NewStream(now, tickCounters)
	tickSub := tickStream.Subscribe("candle-builder", 1024)
	go func() {
		for t := range tickSub {
			reg.TicksProcessed.Inc()
			builder.OnTick(ctx, t)
			exitMonitor.OnTick(ctx, t)
		}
	}()

	dataBroker := sim.NewDataBroker(cfg.Symbols, decimal.NewFromFloat(cfg.SimStartPrice))
	dataBroker.OnTick(func(t model.Tick) {
		if asyncWriter != nil {
			asyncWriter.Enqueue(t)
		}
		tickStream.Ingest(t)
	})
	if err := dataBroker.Subscribe(ctx, cfg.Symbols); err != nil {
		log.Fatalf("subscribe to paper feed: %v", err)
	}
	go dataBroker.Run(ctx)

	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				builder.Finalize(ctx, now())
			}
		}
	}()

	go reconcileLoop.Run(ctx)

	lg.Info("trading core started", "mode", string(cfg.Mode), "symbols", fmt.Sprint(cfg.Symbols))

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	lg.Info("shutting down")
	cancel()
}

// trades is assigned once in main and referenced by closures built before
// and after that assignment in the wiring sequence (resolveExecutor,
// exitMonitor); declaring it package-level keeps those closures simple
// without reordering the whole function around a single assignment.
var trades *trade.Store

// exitExecutorAdapter satisfies exit.Executor by resolving a fresh
// per-user-broker order.Executor on every call, since the ExitMonitor is
// built once at startup but a trade's order broker can only be resolved
// once that user-broker's session/credentials are known.
type exitExecutorAdapter struct {
	resolve func(ctx context.Context, userBrokerID string) (*order.Executor, error)
}

func (a exitExecutorAdapter) PlaceExit(ctx context.Context, t model.Trade, trigger model.ExitTrigger, exitPrice decimal.Decimal) (model.Trade, error) {
	exec, err := a.resolve(ctx, t.UserBrokerID)
	if err != nil {
		return model.Trade{}, err
	}
	return exec.PlaceExit(ctx, t, trigger, exitPrice)
}

// defaultRiskProfile is the fallback used when cfg.RiskProfilesPath doesn't
// exist, so a fresh checkout with no config/ directory still starts.
func defaultRiskProfile(id string) model.RiskProfile {
	return model.RiskProfile{
		RiskProfileID:           id,
		MinConfluence:           model.ConfluenceSingle,
		MinPWin:                 decimal.NewFromFloat(0.55),
		MinKelly:                decimal.NewFromFloat(0.01),
		MaxKelly:                decimal.NewFromFloat(1.5),
		MaxSymbolCapitalPct:     decimal.NewFromFloat(0.2),
		MaxPortfolioExposurePct: decimal.NewFromFloat(0.6),
		MaxPortfolioLogLoss:     decimal.NewFromFloat(2.0),
		MaxSymbolLogLoss:        decimal.NewFromFloat(1.0),
		MaxPositionLogLoss:      decimal.NewFromFloat(0.5),
		MaxPyramidLevel:         3,
		RebuySpacingATR:         decimal.NewFromFloat(1.0),
		VelocityMultiplier:      decimal.NewFromFloat(1.0),
		CooldownDuration:        5 * time.Minute,
		MaxHoldDuration:         4 * time.Hour,
		MaxDailyLossPct:         decimal.NewFromFloat(0.03),
		MaxWeeklyLossPct:        decimal.NewFromFloat(0.08),
		MinValue:                decimal.NewFromFloat(1000),
		MaxPerTrade:             decimal.NewFromFloat(50000),
	}
}

// seedDemoData syncs the YAML-configured risk profile bundle into the DB
// (falling back to one built-in default profile if the file is absent) and
// bootstraps one EXEC user-broker so the pipeline has something to trade
// against without a separate provisioning step; an upsert/insert-if-absent,
// safe to run on every start.
func seedDemoData(ctx context.Context, database *db.Database, cfg *config.Config) error {
	profiles, err := riskcfg.Load(cfg.RiskProfilesPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		profiles = []model.RiskProfile{defaultRiskProfile(cfg.RiskProfileDefault)}
	}
	for _, p := range profiles {
		if err := database.UpsertRiskProfile(ctx, p); err != nil {
			return err
		}
	}

	env := model.BrokerEnv(cfg.Mode)
	if env != model.EnvProduction {
		env = model.EnvSandbox
	}
	ub := model.UserBroker{
		UserBrokerID:   "ub-demo-1",
		UserID:         "user-demo",
		BrokerCode:     "SIM",
		Role:           model.RoleExec,
		Env:            env,
		RiskProfileID:  cfg.RiskProfileDefault,
		CredentialsRef: "demo",
		Enabled:        true,
		Watchlist:      cfg.Symbols,
	}
	return database.SeedUserBroker(ctx, ub)
}
