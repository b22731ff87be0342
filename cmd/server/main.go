// Package main is the entry point for the ChakraOps decision server. It
// wires the snapshot store, the two-stage evaluation engine, the heartbeat
// scheduler, the freeze layer, and the HTTP API, then runs until a shutdown
// signal arrives.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/swap2you/chakraops-sub000/internal/config"
	"github.com/swap2you/chakraops-sub000/internal/database"
	"github.com/swap2you/chakraops-sub000/internal/domain"
	"github.com/swap2you/chakraops-sub000/internal/evaluation"
	"github.com/swap2you/chakraops-sub000/internal/events"
	"github.com/swap2you/chakraops-sub000/internal/heartbeat"
	"github.com/swap2you/chakraops-sub000/internal/jobs"
	"github.com/swap2you/chakraops-sub000/internal/market_regime"
	"github.com/swap2you/chakraops-sub000/internal/modules/chains"
	"github.com/swap2you/chakraops-sub000/internal/modules/decisions"
	"github.com/swap2you/chakraops-sub000/internal/modules/freeze"
	"github.com/swap2you/chakraops-sub000/internal/modules/market_hours"
	"github.com/swap2you/chakraops-sub000/internal/modules/positions"
	"github.com/swap2you/chakraops-sub000/internal/modules/snapshots"
	"github.com/swap2you/chakraops-sub000/internal/modules/universe"
	"github.com/swap2you/chakraops-sub000/internal/reliability"
	"github.com/swap2you/chakraops-sub000/internal/server"
	"github.com/swap2you/chakraops-sub000/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	log.Info().
		Str("mode", string(cfg.RunMode)).
		Str("data_dir", cfg.DataDir).
		Bool("dev", cfg.DevMode).
		Msg("ChakraOps starting")

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Fatal error")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Databases. chakraops.db owns all durable state; cache.db is
	// disposable and can be deleted between runs.
	mainDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "chakraops.db"),
		Profile: database.ProfileStandard,
		Name:    "chakraops",
	})
	if err != nil {
		return err
	}
	defer mainDB.Close()

	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		return err
	}
	defer cacheDB.Close()

	if err := mainDB.Migrate(); err != nil {
		return err
	}
	if err := cacheDB.Migrate(); err != nil {
		return err
	}

	calendar, err := market_hours.NewCalendar()
	if err != nil {
		return err
	}

	bus := events.NewBus(log)

	// Universe.
	uniRepo := universe.NewRepository(mainDB.Conn(), log)
	uni := universe.NewService(uniRepo, cfg.BenchmarkSymbols, log)
	if err := uni.Bootstrap(); err != nil {
		return err
	}
	if cfg.DevMode && cfg.FixtureUniverse != "" {
		count, err := uni.LoadFixture(cfg.FixtureUniverse)
		if err != nil {
			return err
		}
		log.Info().Int("count", count).Str("path", cfg.FixtureUniverse).Msg("Fixture universe loaded")
	}

	// Snapshots.
	snapRepo := snapshots.NewRepository(mainDB.Conn(), log)
	csvSource := snapshots.NewCSVSource(cfg.SnapshotCSVPath, log)
	builder := snapshots.NewBuilder(
		snapRepo, csvSource, uni, calendar.Location(), bus, cfg.DevMode && cfg.SnapshotTruncate, log)

	// Regime.
	regimeRepo := market_regime.NewRepository(mainDB.Conn(), log)
	detector := market_regime.NewDetector(snapRepo, regimeRepo, cfg.BenchmarkSymbols, log)

	// Strategy parameters.
	strategy, err := config.LoadStrategy(cfg.EvaluationConfig)
	if err != nil {
		return err
	}

	// Paper positions feed the open-position risk flag.
	posService := positions.NewService(positions.NewRepository(mainDB.Conn(), log), log)

	// Evaluation engine: the chain provider depends on the run mode.
	var provider chains.Provider
	if cfg.RunMode == domain.RunModeLive {
		provider = chains.NewHTTPClient(
			cfg.ChainProviderURL, time.Duration(cfg.ChainProviderTimeout)*time.Second, log)
	} else {
		provider = chains.NewMockProvider(activePriceFunc(snapRepo))
	}
	engine := evaluation.NewEngine(evaluation.Deps{
		Snapshots: snapRepo,
		Universe:  uni,
		Regimes:   detector,
		Provider:  provider,
		Strategy:  strategy,
		Calendar:  calendar,
		Positions: posService,
	}, cfg.RunMode, log)

	// Decision store and freeze layer.
	store, err := decisions.NewStore(cfg.OutDir, func() domain.Phase {
		return calendar.GetPhase(time.Now())
	}, log)
	if err != nil {
		return err
	}

	evalAndPersist := func(ctx context.Context) error {
		artifact, err := engine.EvaluateUniverse(ctx, nil)
		if err != nil {
			return err
		}
		return store.SetLatest(artifact)
	}
	freezeSvc := freeze.NewService(store, calendar, bus, evalAndPersist, cfg.OutDir, log)
	freezeState := freeze.NewStateRepository(mainDB.Conn(), log)
	hashGuard := freeze.NewHashGuard(freezeState, log)

	// Heartbeat scheduler.
	worker := heartbeat.NewWorker(heartbeat.Deps{
		Engine:    engine,
		Store:     store,
		Snapshots: snapRepo,
		Universe:  uni,
		Regimes:   detector,
		Calendar:  calendar,
		HashGuard: hashGuard,
		Strategy:  strategy,
		Audit:     evaluation.NewAuditRepository(mainDB.Conn(), log),
		Alerts:    heartbeat.NewAlertRepository(mainDB.Conn(), log),
		Cache:     heartbeat.NewStateCache(cacheDB.Conn(), log),
		Bus:       bus,
	}, heartbeat.Options{
		Interval:        time.Duration(cfg.HeartbeatInterval) * time.Second,
		RegimeStale:     time.Duration(cfg.RegimeStaleMinutes) * time.Minute,
		RemovalCooldown: time.Duration(cfg.RemovalCooldownHrs) * time.Hour,
		Mode:            cfg.RunMode,
		Benchmarks:      cfg.BenchmarkSymbols,
	}, log)

	// Optional offsite archive target.
	var uploader *reliability.ArchiveUploader
	if cfg.Archive.Enabled() {
		uploader, err = reliability.NewArchiveUploader(ctx, cfg.Archive, log)
		if err != nil {
			return err
		}
		log.Info().Str("bucket", cfg.Archive.Bucket).Msg("Archive uploads enabled")
	}

	maintenance := reliability.NewMaintenance(map[string]*database.DB{
		"chakraops": mainDB,
		"cache":     cacheDB,
	}, log)

	jobDeps := jobs.Deps{
		Freeze:      freezeSvc,
		Store:       store,
		Calendar:    calendar,
		Maintenance: maintenance,
	}
	if uploader != nil {
		jobDeps.Uploader = uploader
	}
	scheduler, err := jobs.NewScheduler(jobDeps, jobs.Options{
		EODFreezeEnabled: cfg.EODFreezeCronEnabled,
		RetentionDays:    cfg.RetentionDays,
	}, log)
	if err != nil {
		return err
	}

	srv := server.New(server.Config{
		Log:             log,
		Cfg:             cfg,
		Decisions:       store,
		Engine:          engine,
		Guard:           freeze.NewGuard(log),
		Freeze:          freezeSvc,
		FreezeState:     freezeState,
		Calendar:        calendar,
		Universe:        uni,
		SnapshotRepo:    snapRepo,
		SnapshotBuilder: builder,
		Regimes:         detector,
		Alerts:          heartbeat.NewAlertRepository(mainDB.Conn(), log),
		Positions:       posService,
		Worker:          worker,
		Bus:             bus,
		Databases:       map[string]*database.DB{"chakraops": mainDB, "cache": cacheDB},
	})

	worker.Start()
	scheduler.Start()

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutdown signal received")
	worker.Stop(10 * time.Second)
	scheduler.Stop(10 * time.Second)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Server shutdown incomplete")
	}

	log.Info().Msg("ChakraOps stopped")
	return nil
}

// activePriceFunc anchors mock chains to real prices from the frozen
// snapshot.
func activePriceFunc(repo *snapshots.Repository) chains.PriceFunc {
	return func(symbol string) (float64, bool) {
		snap, err := repo.GetActive()
		if err != nil || snap == nil {
			return 0, false
		}
		prices, err := repo.GetPrices(snap.ID)
		if err != nil {
			return 0, false
		}
		view, ok := prices[symbol]
		if !ok {
			return 0, false
		}
		return view.Price, true
	}
}
