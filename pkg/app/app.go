// Package app assembles the memory core from configuration. It is the
// single owner of the relational connection and the primary driver;
// components receive handles, not lifecycles.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mnemohq/mnemo/pkg/chatlink"
	"github.com/mnemohq/mnemo/pkg/config"
	"github.com/mnemohq/mnemo/pkg/consolidate"
	"github.com/mnemohq/mnemo/pkg/eventstream"
	"github.com/mnemohq/mnemo/pkg/eventstream/kafka"
	"github.com/mnemohq/mnemo/pkg/eventstream/nop"
	"github.com/mnemohq/mnemo/pkg/logger"
	"github.com/mnemohq/mnemo/pkg/manager"
	"github.com/mnemohq/mnemo/pkg/primary"
	"github.com/mnemohq/mnemo/pkg/primary/chroma"
	"github.com/mnemohq/mnemo/pkg/primary/inmemory"
	"github.com/mnemohq/mnemo/pkg/relational"
	"github.com/mnemohq/mnemo/pkg/role"
	"github.com/mnemohq/mnemo/pkg/syncmem"
)

// App wires the memory core together and owns every lifecycle.
type App struct {
	Config *config.Config
	Log    *slog.Logger

	DB          *relational.DB
	Store       *relational.Store
	Roles       *role.Resolver
	Linker      *chatlink.Linker
	Primary     primary.Driver
	Coordinator *syncmem.Coordinator
	Engine      *consolidate.Engine
	Manager     *manager.Manager

	publisher eventstream.Publisher
}

// New opens the stores described by cfg, runs migrations and the startup
// repair pass, and assembles the full component graph.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = logger.Nop()
	}

	dialect, dsn, err := storageTarget(cfg.Storage)
	if err != nil {
		return nil, err
	}

	db, err := relational.Open(dialect, dsn, log)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating relational schema: %w", err)
	}

	roles, err := role.NewResolver(ctx, db, log)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing role resolver: %w", err)
	}

	// Self-heal references left behind by crashes or older writers.
	roles.FixOrphanedRoleReferences(ctx)

	store := relational.NewStore(db, log)
	linker := chatlink.NewLinker(db, log)

	driver, err := primaryDriver(cfg.Primary, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	publisher, err := eventPublisher(cfg.Events, log)
	if err != nil {
		driver.Close()
		db.Close()
		return nil, err
	}

	coordinator := syncmem.NewCoordinator(driver, store, roles,
		syncmem.WithPublisher(publisher),
		syncmem.WithLogger(log),
	)

	engine := consolidate.NewEngine(store,
		consolidate.WithPrimary(driver),
		consolidate.WithLogger(log),
	)

	mgr := manager.New(coordinator, linker, manager.WithLogger(log))

	return &App{
		Config:      cfg,
		Log:         log,
		DB:          db,
		Store:       store,
		Roles:       roles,
		Linker:      linker,
		Primary:     driver,
		Coordinator: coordinator,
		Engine:      engine,
		Manager:     mgr,
		publisher:   publisher,
	}, nil
}

// Close tears down the publisher, primary driver, and relational connection.
func (a *App) Close() error {
	var firstErr error

	if err := a.publisher.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.Primary.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.DB.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	return firstErr
}

func storageTarget(sc config.StorageConfig) (relational.Dialect, string, error) {
	switch sc.Dialect {
	case "", string(relational.DialectSQLite), "sqlite":
		if sc.SQLitePath == "" {
			return "", "", fmt.Errorf("storage.sqlite_path is required for the sqlite dialect")
		}
		return relational.DialectSQLite, sc.SQLitePath, nil

	case string(relational.DialectPostgres), "postgres":
		if sc.PostgresDSN == "" {
			return "", "", fmt.Errorf("storage.postgres_dsn is required for the postgres dialect")
		}
		return relational.DialectPostgres, sc.PostgresDSN, nil

	default:
		return "", "", fmt.Errorf("unknown storage dialect %q", sc.Dialect)
	}
}

func primaryDriver(pc config.PrimaryConfig, log *slog.Logger) (primary.Driver, error) {
	switch pc.Provider {
	case "", "inmemory":
		return inmemory.NewDriver(), nil

	case "chroma":
		return chroma.NewDriver(chroma.Config{
			URL:            pc.Target,
			CollectionName: pc.Collection,
		}, log)

	default:
		return nil, fmt.Errorf("unknown primary provider %q", pc.Provider)
	}
}

func eventPublisher(ec config.EventsConfig, log *slog.Logger) (eventstream.Publisher, error) {
	if !ec.Enabled {
		return nop.NewPublisher(), nil
	}

	return kafka.NewPublisher(kafka.Config{
		Brokers: ec.BrokerList(),
		Topic:   ec.Topic,
	}, log)
}
