package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	goredis "github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/chaoschain/gateway/archive"
	"github.com/chaoschain/gateway/archive/irys"
	archivemem "github.com/chaoschain/gateway/archive/memory"
	audithook "github.com/chaoschain/gateway/audit_hook"
	"github.com/chaoschain/gateway/chain/evm"
	"github.com/chaoschain/gateway/engine"
	"github.com/chaoschain/gateway/internal/config"
	"github.com/chaoschain/gateway/store"
	bunstore "github.com/chaoschain/gateway/store/bun"
	"github.com/chaoschain/gateway/store/memory"
	mongostore "github.com/chaoschain/gateway/store/mongo"
	pgstore "github.com/chaoschain/gateway/store/postgres"
	redisstore "github.com/chaoschain/gateway/store/redis"
	"github.com/chaoschain/gateway/stream"
	"github.com/chaoschain/gateway/txqueue"
	"github.com/chaoschain/gateway/worker"
	"github.com/chaoschain/gateway/workflow"
)

// closers releases resources in reverse order of acquisition.
type closers []func() error

func (c *closers) add(fn func() error) { *c = append(*c, fn) }

func (c closers) close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		errs = append(errs, c[i]())
	}
	return errors.Join(errs...)
}

// stack holds everything a command needs, plus what to close.
type stack struct {
	engine *engine.Engine
	ledger *evm.Ledger
	broker *stream.Broker
	closers
}

type redisClient = goredis.UniversalClient

func newRedis(cfg *config.Config) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func openStore(ctx context.Context, cfg *config.Config, rdb redisClient, logger *slog.Logger) (store.Store, func() error, error) {
	sc := cfg.Store
	switch sc.Driver {
	case "memory":
		s := memory.New()
		return s, s.Close, nil

	case "postgres":
		s, err := pgstore.New(ctx, sc.DSN, pgstore.WithLogger(logger))
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, s.Close, nil

	case "bun":
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(sc.DSN)))
		db := bun.NewDB(sqldb, pgdialect.New())
		return bunstore.New(db, bunstore.WithLogger(logger)), db.Close, nil

	case "redis":
		if rdb == nil {
			return nil, nil, errors.New("redis store needs a redis client")
		}
		s := redisstore.New(rdb, redisstore.WithLogger(logger))
		return s, s.Close, nil

	case "mongo":
		client, err := mongod.Connect(options.Client().ApplyURI(sc.DSN))
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		s := mongostore.New(client.Database(sc.Database), mongostore.WithLogger(logger))
		return s, func() error { return client.Disconnect(context.Background()) }, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", sc.Driver)
}

func openArchive(cfg *config.Config) archive.Store {
	if cfg.Archive.Driver == "memory" {
		return archivemem.New()
	}
	return irys.New(cfg.Archive.URL, irys.WithHTTPClient(&http.Client{Timeout: cfg.Archive.Timeout}))
}

// build connects every backend named by cfg and assembles the engine.
func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *stack, err error) {
	gw := &stack{}
	defer func() {
		if err != nil {
			_ = gw.close()
		}
	}()

	var rdb *goredis.Client
	if cfg.Store.Driver == "redis" || cfg.TxQueue.Locker == "redis" {
		rdb = newRedis(cfg)
		gw.add(rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
	}

	var client redisClient
	if rdb != nil {
		client = rdb
	}
	s, closeStore, err := openStore(ctx, cfg, client, logger)
	if err != nil {
		return nil, err
	}
	gw.add(closeStore)

	contracts, err := evm.LoadContracts(cfg.Chain.StudioABI, cfg.Chain.RewardsABI)
	if err != nil {
		return nil, err
	}
	gw.ledger, err = evm.Dial(ctx, cfg.Chain.RPCURL,
		evm.WithConfirmations(cfg.Chain.Confirmations),
		evm.WithPollInterval(cfg.Chain.PollInterval),
		evm.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	gw.add(func() error { gw.ledger.Close(); return nil })

	rewards := cfg.RewardsAddress()
	probe := evm.NewProbe(gw.ledger.Client(), contracts, rewards)
	adapters := workflow.Adapters{
		Ledger:  gw.ledger,
		Encoder: evm.NewEncoder(contracts, rewards, cfg.Chain.GasLimit),
		Work:    probe,
		Score:   probe,
		Epoch:   probe,
		Archive: openArchive(cfg),
	}

	if cfg.Stream.Enabled {
		gw.broker = stream.NewBroker(logger, stream.WithBufferSize(cfg.Stream.BufferSize))
	}
	opts, err := engineOptions(cfg, rdb, logger, gw.broker)
	if err != nil {
		return nil, err
	}
	gw.engine, err = engine.Build(s, adapters, opts...)
	if err != nil {
		return nil, err
	}
	return gw, nil
}

// engineOptions translates cfg into engine options. broker may be nil.
func engineOptions(cfg *config.Config, rdb goredis.Cmdable, logger *slog.Logger, broker *stream.Broker) ([]engine.Option, error) {
	types, studios := cfg.AdmissionConfigs()
	opts := []engine.Option{
		engine.WithConfig(cfg.EngineConfig()),
		engine.WithLogger(logger),
		engine.WithMigrate(cfg.Store.Migrate),
		engine.WithQueueConfig(types...),
		engine.WithStudioConfig(studios...),
		engine.WithPoolOptions(
			worker.WithBufferSize(cfg.Worker.BufferSize),
			worker.WithRequeueDelay(cfg.Worker.RequeueDelay),
		),
	}

	if cfg.Audit.Enabled {
		var auditOpts []audithook.Option
		if len(cfg.Audit.Actions) > 0 {
			auditOpts = append(auditOpts, audithook.WithActions(cfg.Audit.Actions...))
		}
		auditOpts = append(auditOpts, audithook.WithLogger(logger))
		opts = append(opts, engine.WithExtension(audithook.New(audithook.SlogRecorder(logger.With(slog.String("component", "audit"))), auditOpts...)))
	}
	if broker != nil {
		opts = append(opts, engine.WithExtension(broker))
	}

	if cfg.Classifier.RulesFile != "" {
		rules, err := workflow.LoadRules(cfg.Classifier.RulesFile)
		if err != nil {
			return nil, err
		}
		c, err := workflow.NewClassifier(rules)
		if err != nil {
			return nil, err
		}
		opts = append(opts, engine.WithClassifier(c))
	}

	if cfg.TxQueue.Locker == "redis" {
		opts = append(opts, engine.WithLocker(txqueue.NewRedisLocker(rdb,
			txqueue.WithLockTTL(cfg.TxQueue.LockTTL),
			txqueue.WithRedisLogger(logger),
		)))
	}
	if cfg.TxQueue.Rate > 0 {
		opts = append(opts, engine.WithLimits(txqueue.NewLimits(txqueue.LimitConfig{
			Rate:  cfg.TxQueue.Rate,
			Burst: cfg.TxQueue.Burst,
		})))
	}
	return opts, nil
}
