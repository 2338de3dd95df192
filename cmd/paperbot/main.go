package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"paperbot/internal/broker"
	"paperbot/internal/clients/yahoo"
	"paperbot/internal/config"
	"paperbot/internal/database"
	"paperbot/internal/domain"
	"paperbot/internal/metrics"
	"paperbot/internal/modules/backtest"
	"paperbot/internal/modules/features"
	"paperbot/internal/modules/forecast"
	"paperbot/internal/modules/history"
	"paperbot/internal/modules/journal"
	"paperbot/internal/modules/trading"
	"paperbot/internal/modules/universe"
	"paperbot/internal/reliability"
	"paperbot/internal/scheduler"
	"paperbot/internal/server"
	"paperbot/pkg/logger"
)

const (
	// syncRateLimit throttles per-symbol history downloads so the market
	// data provider does not start rejecting us.
	syncRateLimit = 250 * time.Millisecond

	// seedHistoryDays is downloaded for symbols with no stored bars;
	// refreshHistoryDays covers the daily incremental top-up.
	seedHistoryDays    = 900
	refreshHistoryDays = 10

	backupKeepDays = 30
)

func main() {
	log := logger.New(logger.Config{
		Level:  "info",
		Pretty: true,
	})

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}
	command, args := os.Args[1], os.Args[2:]

	if command == "help" || command == "-h" || command == "--help" {
		printUsage()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log = logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: true,
	})

	if err := run(command, args, cfg, log); err != nil {
		log.Fatal().Str("command", command).Err(err).Msg("Command failed")
	}
}

func run(command string, args []string, cfg *config.Config, log zerolog.Logger) error {
	switch command {
	case "init-db":
		return runInitDB(args, cfg, log)
	case "sync":
		return runSync(args, cfg, log)
	case "train":
		return runTrain(args, cfg, log)
	case "backtest":
		return runBacktest(args, cfg, log)
	case "compare":
		return runCompare(args, cfg, log)
	case "rebalance":
		return runRebalance(cfg, log)
	case "snapshot":
		return runSnapshot(cfg, log)
	case "backup":
		return runBackup(args, cfg, log)
	case "restore":
		return runRestore(args, cfg, log)
	case "serve":
		return runServe(cfg, log)
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `paperbot - paper trading strategy engine

Usage: paperbot <command> [flags]

Commands:
  init-db     create the journal and history databases and seed the paper account
  sync        download daily bars for the universe into the history store
  train       fit the return forecast model on stored history
  backtest    replay the strategy over stored history and print the results
  compare     backtest reliability scenarios (missed/delayed rebalances)
  rebalance   run one live cycle: sync, score, trade, journal
  snapshot    journal the current account equity and positions
  backup      write verified copies of both databases
  restore     replace a database with its newest backup
  serve       run the API server with the background job scheduler

Run "paperbot <command> -h" for command flags.
`)
}

// openJournal opens the trade journal database and applies the broker and
// journal schemas. Migrations are idempotent, so every command can do this.
func openJournal(cfg *config.Config) (*database.DB, error) {
	db, err := database.New(database.Config{
		Path:    cfg.DataDir + "/journal.db",
		Profile: database.ProfileLedger,
		Name:    "journal",
	})
	if err != nil {
		return nil, fmt.Errorf("opening journal database: %w", err)
	}
	if err := db.Migrate(broker.Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating broker schema: %w", err)
	}
	if err := db.Migrate(journal.Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating journal schema: %w", err)
	}
	return db, nil
}

// openHistory opens the bar store and ensures its schema exists. The caller
// closes the returned handle; the store borrows it.
func openHistory(cfg *config.Config, log zerolog.Logger) (*history.Store, func(), error) {
	db, err := history.Open(cfg.DataDir + "/history.db")
	if err != nil {
		return nil, nil, fmt.Errorf("opening history database: %w", err)
	}
	store := history.NewStore(db, log)
	if err := store.Init(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("initializing history store: %w", err)
	}
	return store, func() { db.Close() }, nil
}

func modelStore(cfg *config.Config, log zerolog.Logger) *forecast.Store {
	return forecast.NewStore(cfg.DataDir+"/models", log)
}

// app bundles the live trading components. The rebalance command and the
// serve mode wire the same graph; only the metrics recorder differs.
type app struct {
	universe  []string
	broker    *broker.PaperBroker
	equity    *journal.EquityRepository
	signals   *journal.SignalRepository
	trades    *journal.TradeRepository
	sync      *history.SyncService
	snapshots *trading.SnapshotService
	cycle     *trading.Cycle
}

func buildApp(cfg *config.Config, journalDB *database.DB, store *history.Store, rec *metrics.Recorder, log zerolog.Logger) (*app, error) {
	symbols, err := universe.Load(cfg.UniversePath)
	if err != nil {
		return nil, fmt.Errorf("loading universe: %w", err)
	}

	conn := journalDB.Conn()
	paper := broker.NewPaperBroker(conn, log)
	equityRepo := journal.NewEquityRepository(conn, log)
	signalRepo := journal.NewSignalRepository(conn, log)
	tradeRepo := journal.NewTradeRepository(conn, log)
	positionRepo := journal.NewPositionRepository(conn, log)

	quotes := yahoo.NewClient(log)
	syncService := history.NewSyncService(quotes, store, syncRateLimit, log)
	models := modelStore(cfg, log)
	snapshots := trading.NewSnapshotService(paper, quotes, equityRepo, positionRepo, cfg.BenchmarkSymbol, log)

	cycle := trading.NewCycle(trading.CycleConfig{
		Params:    cfg.Strategy,
		Benchmark: cfg.BenchmarkSymbol,
		Universe:  symbols,
		Store:     store,
		Sync:      syncService,
		Model: func() (trading.Predictor, error) {
			return models.Load()
		},
		Rebalancer: trading.NewRebalancer(cfg.Strategy, cfg.BenchmarkSymbol, paper, log),
		Snapshots:  snapshots,
		Equity:     equityRepo,
		Signals:    signalRepo,
		Trades:     tradeRepo,
		Metrics:    rec,
		Log:        log,
	})

	return &app{
		universe:  symbols,
		broker:    paper,
		equity:    equityRepo,
		signals:   signalRepo,
		trades:    tradeRepo,
		sync:      syncService,
		snapshots: snapshots,
		cycle:     cycle,
	}, nil
}

func runInitDB(args []string, cfg *config.Config, log zerolog.Logger) error {
	fs := flag.NewFlagSet("init-db", flag.ExitOnError)
	cash := fs.Float64("cash", 100_000, "starting cash for a fresh paper account")
	if err := fs.Parse(args); err != nil {
		return err
	}

	journalDB, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer journalDB.Close()

	_, closeHistory, err := openHistory(cfg, log)
	if err != nil {
		return err
	}
	defer closeHistory()

	paper := broker.NewPaperBroker(journalDB.Conn(), log)
	if err := paper.Init(*cash, cfg.Strategy.ShortingEnabled); err != nil {
		return err
	}

	fmt.Printf("Initialized databases in %s\n", cfg.DataDir)
	return nil
}

func runSync(args []string, cfg *config.Config, log zerolog.Logger) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	days := fs.Int("days", cfg.BacktestHistoryDays, "calendar days of history to download")
	if err := fs.Parse(args); err != nil {
		return err
	}

	symbols, err := universe.Load(cfg.UniversePath)
	if err != nil {
		return err
	}

	store, closeHistory, err := openHistory(cfg, log)
	if err != nil {
		return err
	}
	defer closeHistory()

	syncService := history.NewSyncService(yahoo.NewClient(log), store, syncRateLimit, log)
	synced, err := syncService.SyncAll(universe.WithBenchmark(symbols, cfg.BenchmarkSymbol), *days)
	if err != nil {
		return err
	}

	fmt.Printf("Synced %d symbols over %d days into %s/history.db\n", synced, *days, cfg.DataDir)
	return nil
}

func runTrain(args []string, cfg *config.Config, log zerolog.Logger) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	refresh := fs.Bool("refresh", false, "download fresh bars before training")
	if err := fs.Parse(args); err != nil {
		return err
	}

	symbols, err := universe.Load(cfg.UniversePath)
	if err != nil {
		return err
	}
	all := universe.WithBenchmark(symbols, cfg.BenchmarkSymbol)

	store, closeHistory, err := openHistory(cfg, log)
	if err != nil {
		return err
	}
	defer closeHistory()

	if *refresh {
		syncService := history.NewSyncService(yahoo.NewClient(log), store, syncRateLimit, log)
		if _, err := syncService.SyncAll(all, cfg.Strategy.TrainLookbackDays); err != nil {
			log.Warn().Err(err).Msg("Bar refresh failed, training on stored history")
		}
	}

	bars, err := store.LoadBars(all, cfg.Strategy.TrainLookbackDays)
	if err != nil {
		return fmt.Errorf("loading bar history: %w", err)
	}

	rows, err := features.Build(bars, cfg.BenchmarkSymbol)
	if err != nil {
		return err
	}
	rows = trainableRows(rows, cfg)
	if len(rows) == 0 {
		return errors.New("not enough history to train the model")
	}

	forest, m, err := forecast.Train(rows, cfg.Strategy.PredHorizonDays, log)
	if err != nil {
		return err
	}

	path, err := modelStore(cfg, log).Save(forest)
	if err != nil {
		return err
	}

	fmt.Printf("Model saved to %s (in-sample r2: %.3f, MAE: %.6f, %d samples)\n",
		path, m.R2, m.MAE, m.Samples)
	return nil
}

// trainableRows drops the benchmark and anything under the price or
// liquidity floor. A NaN dollar volume fails the floor.
func trainableRows(rows []domain.FeatureRow, cfg *config.Config) []domain.FeatureRow {
	kept := rows[:0]
	for _, row := range rows {
		if row.Symbol == cfg.BenchmarkSymbol {
			continue
		}
		if cfg.Strategy.MinPrice > 0 && row.Close < cfg.Strategy.MinPrice {
			continue
		}
		if cfg.Strategy.MinDollarVol > 0 &&
			(math.IsNaN(row.DollarVol20D) || row.DollarVol20D < cfg.Strategy.MinDollarVol) {
			continue
		}
		kept = append(kept, row)
	}
	return kept
}

func runBacktest(args []string, cfg *config.Config, log zerolog.Logger) error {
	fs := flag.NewFlagSet("backtest", flag.ExitOnError)
	days := fs.Int("days", cfg.BacktestHistoryDays, "calendar days of history to replay")
	if err := fs.Parse(args); err != nil {
		return err
	}

	bars, err := loadStoredBars(cfg, *days, log)
	if err != nil {
		return err
	}

	sim := backtest.NewSimulator(cfg.Strategy, cfg.BenchmarkSymbol, log)
	result, err := sim.Run(bars)
	if err != nil {
		return err
	}

	printBacktest(result)
	return nil
}

func runCompare(args []string, cfg *config.Config, log zerolog.Logger) error {
	fs := flag.NewFlagSet("compare", flag.ExitOnError)
	days := fs.Int("days", cfg.BacktestHistoryDays, "calendar days of history to replay")
	scenarios := fs.String("scenarios", "", "YAML scenario file (built-in scenarios when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cc := backtest.DefaultCompareConfig()
	if *scenarios != "" {
		loaded, err := backtest.LoadCompareConfig(*scenarios)
		if err != nil {
			return err
		}
		cc = *loaded
	}

	bars, err := loadStoredBars(cfg, *days, log)
	if err != nil {
		return err
	}

	sim := backtest.NewSimulator(cfg.Strategy, cfg.BenchmarkSymbol, log)
	comparison, err := sim.RunComparison(bars, cc)
	if err != nil {
		return err
	}

	printComparison(comparison)
	return nil
}

func loadStoredBars(cfg *config.Config, days int, log zerolog.Logger) (map[string][]domain.Bar, error) {
	symbols, err := universe.Load(cfg.UniversePath)
	if err != nil {
		return nil, err
	}

	store, closeHistory, err := openHistory(cfg, log)
	if err != nil {
		return nil, err
	}
	defer closeHistory()

	bars, err := store.LoadBars(universe.WithBenchmark(symbols, cfg.BenchmarkSymbol), days)
	if err != nil {
		return nil, fmt.Errorf("loading bar history: %w", err)
	}
	return bars, nil
}

func runRebalance(cfg *config.Config, log zerolog.Logger) error {
	journalDB, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer journalDB.Close()

	store, closeHistory, err := openHistory(cfg, log)
	if err != nil {
		return err
	}
	defer closeHistory()

	a, err := buildApp(cfg, journalDB, store, nil, log)
	if err != nil {
		return err
	}

	out, err := a.cycle.Run()
	if err != nil {
		return err
	}

	fmt.Printf("Rebalanced at %s with %d orders.\n",
		out.Timestamp.Format("2006-01-02 15:04:05"), len(out.Orders))
	return nil
}

func runSnapshot(cfg *config.Config, log zerolog.Logger) error {
	journalDB, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer journalDB.Close()

	conn := journalDB.Conn()
	paper := broker.NewPaperBroker(conn, log)
	snapshots := trading.NewSnapshotService(
		paper,
		yahoo.NewClient(log),
		journal.NewEquityRepository(conn, log),
		journal.NewPositionRepository(conn, log),
		cfg.BenchmarkSymbol,
		log,
	)

	snap, err := snapshots.Take()
	if err != nil {
		return err
	}

	fmt.Printf("Snapshot saved at %s (equity %.2f, %d positions).\n",
		snap.Timestamp.Format("2006-01-02 15:04:05"), snap.Account.Equity, len(snap.Positions))
	return nil
}

func runBackup(args []string, cfg *config.Config, log zerolog.Logger) error {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	keep := fs.Int("keep", backupKeepDays, "days of backups to retain")
	if err := fs.Parse(args); err != nil {
		return err
	}

	journalDB, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer journalDB.Close()

	store, closeHistory, err := openHistory(cfg, log)
	if err != nil {
		return err
	}
	defer closeHistory()

	backups := reliability.NewBackupService(journalDB, store, cfg.DataDir+"/backups", *keep, log)
	dir, err := backups.Backup()
	if err != nil {
		return err
	}

	fmt.Printf("Backup written to %s\n", dir)
	return nil
}

func runRestore(args []string, cfg *config.Config, log zerolog.Logger) error {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	name := fs.String("db", "", "database to restore: journal or history")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name != "journal" && *name != "history" {
		return errors.New(`restore needs -db journal or -db history`)
	}

	// The live file is replaced wholesale, so nothing opens it here.
	backups := reliability.NewBackupService(nil, nil, cfg.DataDir+"/backups", 0, log)
	source, err := backups.Restore(*name+".db", cfg.DataDir+"/"+*name+".db")
	if err != nil {
		return err
	}

	fmt.Printf("Restored %s.db from %s\n", *name, source)
	return nil
}

func runServe(cfg *config.Config, log zerolog.Logger) error {
	log.Info().Msg("Starting paperbot")

	journalDB, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer journalDB.Close()

	store, closeHistory, err := openHistory(cfg, log)
	if err != nil {
		return err
	}
	defer closeHistory()

	rec := metrics.New(prometheus.DefaultRegisterer)

	a, err := buildApp(cfg, journalDB, store, rec, log)
	if err != nil {
		return err
	}

	backtests := backtest.NewService(backtest.ServiceConfig{
		Log:         log,
		Store:       store,
		Simulator:   backtest.NewSimulator(cfg.Strategy, cfg.BenchmarkSymbol, log),
		Universe:    a.universe,
		Benchmark:   cfg.BenchmarkSymbol,
		HistoryDays: cfg.BacktestHistoryDays,
		Metrics:     rec,
	})

	sched := scheduler.New(rec, log)
	rebalanceJob, err := registerJobs(sched, cfg, a, journalDB, store, log)
	if err != nil {
		return err
	}
	sched.Start()

	srv := server.New(server.Config{
		Log:          log,
		Port:         cfg.Port,
		Equity:       a.equity,
		Signals:      a.signals,
		Trades:       a.trades,
		Positions:    a.broker,
		Backtests:    backtests,
		Scheduler:    sched,
		RebalanceJob: rebalanceJob,
		JournalDB:    journalDB,
		Bars:         store,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
	return nil
}

// registerJobs wires the background jobs onto the scheduler and returns the
// rebalance job so the API can trigger it manually. Times are UTC: bars sync
// after the US close, the weekly rebalance runs Monday after the open.
func registerJobs(sched *scheduler.Scheduler, cfg *config.Config, a *app, journalDB *database.DB, store *history.Store, log zerolog.Logger) (scheduler.Job, error) {
	syncJob := scheduler.NewBarSyncJob(scheduler.BarSyncConfig{
		Log:         log,
		Sync:        a.sync,
		Universe:    a.universe,
		Benchmark:   cfg.BenchmarkSymbol,
		SeedDays:    seedHistoryDays,
		RefreshDays: refreshHistoryDays,
	})
	if err := sched.AddJob("0 30 21 * * MON-FRI", syncJob); err != nil {
		return nil, fmt.Errorf("failed to register bar sync job: %w", err)
	}

	rebalanceJob := scheduler.NewRebalanceJob(a.cycle, log)
	if err := sched.AddJob("0 45 14 * * MON", rebalanceJob); err != nil {
		return nil, fmt.Errorf("failed to register rebalance job: %w", err)
	}

	snapshotJob := scheduler.NewSnapshotJob(a.snapshots, log)
	if err := sched.AddJob("0 0 22 * * MON-FRI", snapshotJob); err != nil {
		return nil, fmt.Errorf("failed to register snapshot job: %w", err)
	}

	keep := universe.WithBenchmark(a.universe, cfg.BenchmarkSymbol)
	maintenanceJob := scheduler.NewMaintenanceJob(journalDB, store, keep, log)
	if err := sched.AddJob("0 0 3 * * *", maintenanceJob); err != nil {
		return nil, fmt.Errorf("failed to register maintenance job: %w", err)
	}

	backups := reliability.NewBackupService(journalDB, store, cfg.DataDir+"/backups", backupKeepDays, log)
	if err := sched.AddJob("0 30 3 * * *", reliability.NewBackupJob(backups)); err != nil {
		return nil, fmt.Errorf("failed to register backup job: %w", err)
	}

	return rebalanceJob, nil
}

func printBacktest(result *backtest.Result) {
	stats := result.Stats
	fmt.Printf("Backtest over %d trading days\n", stats.Days)
	fmt.Printf("  final equity:   %.4fx\n", stats.FinalEquity)
	fmt.Printf("  total return:   %+.2f%%\n", stats.TotalReturn*100)
	fmt.Printf("  annual return:  %+.2f%%\n", stats.AnnualReturn*100)
	fmt.Printf("  sharpe:         %.2f\n", stats.Sharpe)
	fmt.Printf("  max drawdown:   %.2f%%\n", stats.MaxDrawdown*100)
	fmt.Printf("  95%% CVaR:       %.4f\n", stats.CVaR95)
	fmt.Printf("  rebalances:     %d executed, %d missed, %d delayed\n",
		result.Executed, result.Missed, result.Delayed)

	tail := result.Points
	if len(tail) > 5 {
		tail = tail[len(tail)-5:]
	}
	if len(tail) > 0 {
		fmt.Println("Last equity points:")
		for _, p := range tail {
			fmt.Printf("  %s  equity %.4fx  return %+.4f%%\n",
				p.Timestamp.Format("2006-01-02"), p.Equity, p.Return*100)
		}
	}
}

func printComparison(c *backtest.Comparison) {
	fmt.Printf("Baseline: total return %+.2f%%, max drawdown %.2f%%\n",
		c.Baseline.MeanReturn*100, c.Baseline.MeanMaxDD*100)

	for _, sc := range c.Scenarios {
		fmt.Printf("\nScenario %s (miss_prob=%.2f, delay_days=%d, %d runs)\n",
			sc.Scenario.Name, sc.Scenario.MissProb, sc.Scenario.DelayDays, sc.Runs)
		fmt.Printf("  total return:   %+.2f%% (std: %.2f%%)\n", sc.MeanReturn*100, sc.StdevReturn*100)
		fmt.Printf("  max drawdown:   %.2f%% (std: %.2f%%)\n", sc.MeanMaxDD*100, sc.StdevMaxDD*100)
		fmt.Printf("  per run:        %.1f missed, %.1f delayed rebalances\n", sc.MeanMissed, sc.MeanDelayed)
		fmt.Printf("  vs baseline:    %+.2f%% return, %+.2f%% drawdown\n",
			sc.ReturnImpact*100, sc.DrawdownImpact*100)
	}
}
