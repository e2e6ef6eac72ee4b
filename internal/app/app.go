// Package app is the composition root (spec.md §2.4, §9): it assembles
// CoreContext{Store, Provider, ModelDir, Clock} and the two orchestrators
// via go.uber.org/fx, the same fx.Provide/fx.Lifecycle shape the teacher
// uses in internal/architecture/fx/module.go. "Shared runtime state
// (singletons) -> explicit construction" (spec.md §9) means the only
// process-wide state this package owns lifecycle for is the store's
// connection pool; everything else (engines, the decision/backtest
// engines) is stateless and constructed fresh per call site.
//
// The broker wire protocol is deliberately abstract (spec.md §4.2), so
// Module does not construct a marketdata.BarFetcher or a
// types.TradingCalendar itself — the embedding application supplies both
// as additional fx.Provide options, the same way the teacher's fx modules
// compose around buses supplied by sibling modules.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/pkg/nats"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	natsgo "github.com/nats-io/nats.go"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/ktrdr-io/ktrdr/internal/backtest"
	"github.com/ktrdr-io/ktrdr/internal/config"
	"github.com/ktrdr-io/ktrdr/internal/datamanager"
	"github.com/ktrdr-io/ktrdr/internal/decision"
	"github.com/ktrdr-io/ktrdr/internal/fuzzy"
	"github.com/ktrdr-io/ktrdr/internal/indicators"
	"github.com/ktrdr-io/ktrdr/internal/marketdata"
	"github.com/ktrdr-io/ktrdr/internal/metrics"
	"github.com/ktrdr-io/ktrdr/internal/orchestrator"
	"github.com/ktrdr-io/ktrdr/internal/store"
	"github.com/ktrdr-io/ktrdr/internal/training"
	"github.com/ktrdr-io/ktrdr/pkg/errors"
	"github.com/ktrdr-io/ktrdr/pkg/types"
)

// Clock is the narrow time source CoreContext threads through components
// that need "now" — kept explicit rather than ambient so backtests and
// training runs stay reproducible under a fixed clock in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// CoreContext is the one process-wide bundle of shared singletons.
type CoreContext struct {
	Store    store.Store
	Provider marketdata.Provider
	ModelDir string
	Clock    Clock
}

// symbolConcurrency bounds how many symbols a TrainingPipeline run
// processes at once; same default the Pipeline itself falls back to when
// given zero.
const symbolConcurrency = 4

// Module assembles CoreContext, the stateless engines, and both
// orchestrators. Callers append their own fx.Provide for a
// marketdata.BarFetcher and a types.TradingCalendar before invoking this,
// since both are external collaborators spec.md §4.2 leaves abstract.
var Module = fx.Options(
	fx.Provide(NewConfig),
	fx.Provide(NewLogger),
	fx.Provide(NewGormDB),
	fx.Provide(NewSqlxDB),
	fx.Provide(store.DefaultPartitionConfig),
	fx.Provide(NewStore),
	fx.Provide(NewProvider),
	fx.Provide(NewCoreContext),

	fx.Provide(metrics.NewRegistry),
	fx.Provide(metrics.New),

	fx.Provide(indicators.NewEngine),
	fx.Provide(fuzzy.NewEngine),
	fx.Provide(decision.NewEngine),

	fx.Provide(NewDataManager),
	fx.Provide(NewTrainingPipeline),
	fx.Provide(NewBacktestEngine),

	fx.Provide(orchestrator.DefaultLocalConfig),
	fx.Provide(orchestrator.DefaultRemoteConfig),
	fx.Provide(NewLocalOrchestrator),
	fx.Provide(NewNATSPublisher),
	fx.Provide(NewTrainingHost),
	fx.Provide(NewRemoteOrchestrator),

	fx.Invoke(registerLifecycle),
	fx.Invoke(metrics.RegisterHandler),
)

// NewConfig loads process configuration from KTRDR_CONFIG_PATH, or the
// working directory if unset (spec.md §6).
func NewConfig() (*config.Config, error) {
	return config.Load(os.Getenv("KTRDR_CONFIG_PATH"))
}

// NewLogger constructs the single *zap.Logger threaded through every
// component (spec.md §2.1).
func NewLogger() (*zap.Logger, error) {
	return zap.NewProduction()
}

// NewGormDB opens the Postgres connection pool described by cfg.Database —
// the one piece of process-wide state this composition root owns
// lifecycle for (spec.md §9).
func NewGormDB(cfg *config.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		cfg.Database.Host, cfg.Database.Port, cfg.Database.Name, cfg.Database.User, cfg.Database.Password)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, errors.Wrap(err, errors.ConnectionLost, "opening store database")
	}
	return db, nil
}

// NewSqlxDB opens a second, raw database/sql connection for the
// migration path (store.Migrate): range-partitioned DDL needs
// hand-written SQL, which GormStore's ORM connection is not the right
// tool for, so migrations get their own jmoiron/sqlx + lib/pq connection
// (grounded on internal/store/migrate.go's own dependency choice).
func NewSqlxDB(cfg *config.Config) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		cfg.Database.Host, cfg.Database.Port, cfg.Database.Name, cfg.Database.User, cfg.Database.Password)
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ConnectionLost, "opening migration database connection")
	}
	return db, nil
}

// NewStore wraps the Postgres connection as the store.Store the rest of
// the application depends on through the interface, never the concrete
// GormStore.
func NewStore(db *gorm.DB, logger *zap.Logger) store.Store {
	return store.NewGormStore(db, logger)
}

// NewProvider wires a caller-supplied BarFetcher behind the resilient
// Gateway (spec.md §4.2): pacing, retry-storm capping, and circuit
// breaking are the core's concern; the wire protocol is the fetcher's.
func NewProvider(fetcher marketdata.BarFetcher, cfg *config.Config, recorder *metrics.Recorder, logger *zap.Logger) marketdata.Provider {
	clientID := fmt.Sprintf("%d", cfg.Provider.ClientID)
	gateway := marketdata.NewGateway(clientID, fetcher, marketdata.DefaultResilienceConfig(), logger)
	gateway.SetMetrics(recorder)
	return gateway
}

// NewCoreContext assembles the process-wide singleton bundle.
func NewCoreContext(st store.Store, provider marketdata.Provider, cfg *config.Config) CoreContext {
	return CoreContext{Store: st, Provider: provider, ModelDir: cfg.ModelDir, Clock: systemClock{}}
}

// NewDataManager builds the DataManager (C3) around the injected
// TradingCalendar — another externally supplied collaborator, since gap
// classification is symbol-specific and out of this core's scope.
func NewDataManager(cc CoreContext, calendar types.TradingCalendar, logger *zap.Logger) (*datamanager.DataManager, error) {
	return datamanager.New(cc.Store, cc.Provider, calendar, datamanager.DefaultConfig(), logger)
}

// NewTrainingPipeline builds the TrainingPipeline (C6).
func NewTrainingPipeline(dm *datamanager.DataManager, indicatorEngine *indicators.Engine, fuzzyEng *fuzzy.Engine, cc CoreContext, logger *zap.Logger) *training.Pipeline {
	return training.New(dm, indicatorEngine, fuzzyEng, cc.ModelDir, symbolConcurrency, logger)
}

// NewBacktestEngine builds a fresh, stateless BacktestEngine (C9) around
// the injected DecisionEngine; execution/risk/rules configuration is
// per-run, so it is supplied at call time rather than here.
func NewBacktestEngine(decisionEngine *decision.Engine) func(types.ExecutionConfig, types.RiskConfig, types.RulesConfig, float64) *backtest.Engine {
	return func(exec types.ExecutionConfig, risk types.RiskConfig, rules types.RulesConfig, initialCash float64) *backtest.Engine {
		return backtest.New(decisionEngine, exec, risk, rules, initialCash)
	}
}

// NewLocalOrchestrator builds the Local orchestrator (C7).
func NewLocalOrchestrator(pipeline *training.Pipeline, cfg orchestrator.LocalConfig, recorder *metrics.Recorder, logger *zap.Logger) *orchestrator.Local {
	local := orchestrator.NewLocal(pipeline, cfg, logger)
	local.SetMetrics(recorder)
	return local
}

// NewNATSPublisher opens a watermill NATS publisher, grounded directly on
// the teacher's architecture/fx/eventbus_adapters.go NewWatermillEventBus
// (NatsURL + TopicPrefix config, GobMarshaler, watermill.NewStdLogger).
func NewNATSPublisher(cfg *config.Config) (*nats.Publisher, error) {
	url := natsgo.DefaultURL
	if cfg.Provider.Host != "" {
		url = fmt.Sprintf("nats://%s:%d", cfg.Provider.Host, cfg.Provider.Port)
	}
	watermillLogger := watermill.NewStdLogger(false, false)
	return nats.NewPublisher(nats.PublisherConfig{URL: url, Marshaler: nats.GobMarshaler{}}, watermillLogger)
}

// NewTrainingHost builds the reference TrainingHost (C7 Remote
// orchestrator's external collaborator) around the same TrainingPipeline
// the Local orchestrator drives, publishing progress over NATS.
func NewTrainingHost(pipeline *training.Pipeline, publisher *nats.Publisher, remoteCfg orchestrator.RemoteConfig, recorder *metrics.Recorder, logger *zap.Logger) *orchestrator.NATSHost {
	host := orchestrator.NewNATSHost(pipeline, publisher, "ktrdr.training.", remoteCfg, logger)
	host.SetMetrics(recorder)
	return host
}

// NewRemoteOrchestrator builds the Remote orchestrator (C7).
func NewRemoteOrchestrator(host *orchestrator.NATSHost, cfg orchestrator.RemoteConfig, logger *zap.Logger) *orchestrator.Remote {
	return orchestrator.NewRemote(host, cfg, logger)
}

// registerLifecycle hooks the store connection pool's open/migrate/close
// to the fx application lifecycle — the only singleton spec.md §9
// requires explicit start/stop management for.
func registerLifecycle(lc fx.Lifecycle, db *gorm.DB, sqlxDB *sqlx.DB, partitionCfg store.PartitionConfig, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("ktrdr core starting")
			return store.Migrate(ctx, sqlxDB, partitionCfg, logger)
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("ktrdr core stopping")
			if err := sqlxDB.Close(); err != nil {
				logger.Warn("closing migration connection", zap.Error(err))
			}
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})
}
