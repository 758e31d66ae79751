// Package main is coopctl, the command-line entry point of the cooperative
// education workflow engine.
//
// Each invocation runs one intent on behalf of one actor and prints the
// outcome as JSON:
//
//	coopctl migrate
//	coopctl apply -role STUDENT -student 6510110001 -json '{"company_name":"Acme Corp", ...}'
//	coopctl progress -role TEACHER -student 6510110001 -records
//	coopctl listen
//
// Storage, Redis and workflow rules come from the environment, an optional
// .env file and the YAML file named by COOP_CONFIG_FILE.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coophub/coop-engine/config"
	"github.com/coophub/coop-engine/internal/application/command"
	"github.com/coophub/coop-engine/internal/application/eventhandler"
	"github.com/coophub/coop-engine/internal/application/uow"
	"github.com/coophub/coop-engine/internal/domain/shared"
	"github.com/coophub/coop-engine/internal/infrastructure/messaging"
	"github.com/coophub/coop-engine/internal/infrastructure/persistence/postgres"
	"github.com/coophub/coop-engine/internal/infrastructure/persistence/redis"
	"github.com/coophub/coop-engine/internal/infrastructure/persistence/sqlite"
	"github.com/coophub/coop-engine/pkg/circuitbreaker"
	"github.com/coophub/coop-engine/pkg/logger"
	"github.com/coophub/coop-engine/pkg/timeutil"
)

// Exit codes.
const (
	exitOK       = 0
	exitRejected = 1 // the intent was refused or failed
	exitUsage    = 2
	exitStartup  = 3
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "help" {
		printUsage(os.Stderr)
		return exitUsage
	}
	name := args[0]
	in, err := parseInput(name, args[1:], os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "coopctl %s: %v\n", name, err)
		return exitUsage
	}
	it, ok := intents[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "coopctl: unknown intent %q\n", name)
		printUsage(os.Stderr)
		return exitUsage
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return exitStartup
	}
	timeutil.SetLocation(cfg.App.Location)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := logger.New(logger.Options{
		Output:    os.Stderr,
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		AddCaller: cfg.Observability.AddCaller,
	}).With(logger.String("app", cfg.App.Name), logger.String("env", string(cfg.App.Environment)))
	slogger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel(cfg.Observability.LogLevel)}))

	// ─────────────────────────────────────────────────────────────────────────
	// 3. WIRING
	// ─────────────────────────────────────────────────────────────────────────
	a, cleanup, err := wire(ctx, cfg, log, slogger)
	if err != nil {
		log.Error("startup failed", logger.Err(err))
		return exitStartup
	}
	defer cleanup()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. INTENT
	// ─────────────────────────────────────────────────────────────────────────
	out, err := a.execute(ctx, it, in)
	if err != nil {
		writeError(os.Stdout, err)
		return exitRejected
	}
	if err := writeJSON(os.Stdout, out); err != nil {
		log.Error("write output", logger.Err(err))
		return exitRejected
	}
	return exitOK
}

// ══════════════════════════════════════════════════════════════════════════════
// WIRING
// ══════════════════════════════════════════════════════════════════════════════

// wire opens storage, the event bus and the cache. cleanup closes them in
// reverse order.
func wire(ctx context.Context, cfg *config.Config, log *logger.Logger, slogger *slog.Logger) (*app, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	store, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		return nil, cleanup, err
	}
	closers = append(closers, closeStore)
	log.Info("store opened", logger.String("driver", cfg.Database.Driver))

	if cfg.Database.AutoMigrate {
		n, err := store.Migrate(ctx)
		if err != nil {
			cleanup()
			return nil, func() {}, fmt.Errorf("migrate: %w", err)
		}
		if n > 0 {
			log.Info("migrations applied", logger.Int("count", n))
		}
	}

	a := &app{
		store: store,
		log:   log,
		settings: command.Settings{
			RequiredHours: cfg.Workflow.RequiredHours,
			Calendar: timeutil.AcademicCalendar{
				StartMonth: time.Month(cfg.Workflow.AcademicStartMonth),
				EraOffset:  cfg.Workflow.EraOffset,
			},
			EnforceHourCeiling: cfg.Features.IsEnabled(config.FeatureTrainingEnforceHourCeiling),
			LockReportAfterAck: cfg.Features.IsEnabled(config.FeatureReportLockAfterAck),
		},
		requiredHours: cfg.Workflow.RequiredHours,
		flags:         cfg.Features,
	}

	// Handlers run on the publisher's goroutine so an intent's side effects
	// are done before the process exits.
	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.AsyncMode = false
	busCfg.Logger = slogger

	if !cfg.Redis.Enabled {
		bus := messaging.NewInMemoryEventBus(busCfg)
		closers = append(closers, func() { _ = bus.Close() })
		a.bus = bus
		return a, cleanup, nil
	}

	cache, err := redis.NewCache(ctx, redisConfig(cfg.Redis))
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	closers = append(closers, func() { _ = cache.Close() })

	progress := redis.NewProgressCache(cache, cfg.Redis.ProgressTTL)
	if cfg.Features.IsEnabled(config.FeatureProgressCache) {
		a.cache = redis.NewGuardedProgressCache(progress, circuitbreaker.CacheBreaker(redis.IsCacheFailure,
			func(name string, from, to circuitbreaker.State) {
				log.Warn("circuit state changed",
					logger.String("breaker", name),
					logger.String("from", from.String()),
					logger.String("to", to.String()),
				)
			}))
	}

	// The bus owns its own connection so Pub/Sub does not hold a pool slot
	// the cache needs.
	busClient, err := redis.NewClient(ctx, redisConfig(cfg.Redis))
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
		Client:         messaging.NewGoRedisClient(busClient),
		ChannelName:    cfg.Redis.EventChannel,
		Logger:         slogger,
		LocalBusConfig: busCfg,
	})
	if err != nil {
		_ = busClient.Close()
		cleanup()
		return nil, func() {}, err
	}
	closers = append(closers, func() { _ = bus.Close() })
	a.bus = bus
	a.distributed = true

	// Invalidation runs even with the read cache switched off: another
	// process may still serve cached progress.
	if err := eventhandler.NewOnProgressChangedHandler(progress, slogger).Register(bus); err != nil {
		cleanup()
		return nil, func() {}, err
	}
	return a, cleanup, nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (migratingStore, func(), error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pg := postgres.DefaultConfig(cfg.URL)
		pg.MaxConns = int32(cfg.MaxConns)
		pg.MinConns = int32(cfg.MinConns)
		pg.MaxConnLifetime = cfg.ConnMaxLifetime
		pg.MaxConnIdleTime = cfg.ConnMaxIdleTime
		s, err := postgres.Open(ctx, pg)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.DriverSQLite:
		var (
			s   *sqlite.Store
			err error
		)
		if cfg.SQLitePath == ":memory:" {
			s, err = sqlite.OpenMemory(ctx)
		} else {
			s, err = sqlite.Open(ctx, cfg.SQLitePath)
		}
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
}

func redisConfig(c config.RedisConfig) redis.Config {
	rc := redis.DefaultConfig()
	rc.URL = c.URL
	rc.Host = c.Host
	rc.Port = c.Port
	rc.Password = c.Password
	rc.DB = c.DB
	rc.KeyPrefix = c.KeyPrefix
	rc.PoolSize = c.PoolSize
	rc.MinIdleConns = c.MinIdleConns
	rc.DialTimeout = c.DialTimeout
	rc.ReadTimeout = c.ReadTimeout
	rc.WriteTimeout = c.WriteTimeout
	return rc
}

func slogLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// migratingStore is a uow.Store that owns its schema.
type migratingStore interface {
	uow.Store
	Migrate(ctx context.Context) (int, error)
}

// eventBus is what the engine needs from either bus implementation.
type eventBus interface {
	shared.EventBus
	Metrics() *messaging.EventBusMetrics
	Close() error
}

var (
	_ eventBus = (*messaging.InMemoryEventBus)(nil)
	_ eventBus = (*messaging.RedisEventBus)(nil)
)
