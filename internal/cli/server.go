package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"adaptive-assessment-service/internal/app"
	"adaptive-assessment-service/internal/config"
	"adaptive-assessment-service/internal/events"
	"adaptive-assessment-service/internal/inference"
	"adaptive-assessment-service/internal/infra/memory"
	"adaptive-assessment-service/internal/infra/postgres"
	redisinfra "adaptive-assessment-service/internal/infra/redis"
	"adaptive-assessment-service/internal/infra/sqlstore"
	"adaptive-assessment-service/internal/llm"
	"adaptive-assessment-service/internal/logging"
	"adaptive-assessment-service/internal/metrics"
	transport "adaptive-assessment-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the assessment server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format)

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	deps, err := buildDependencies(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.close()

	engine := app.NewEngine(deps.store, deps.inventory, deps.judge, app.Options{
		Policy:      policyFromConfig(cfg),
		Ledger:      deps.ledger,
		Leaderboard: deps.leaderboard,
		Metrics:     deps.metrics,
		Logger:      log,
	})

	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	defer stopDispatch()
	go engine.Rewards().Run(dispatchCtx, config.TTLDuration(cfg.Engine.RewardRetryInterval, 30*time.Second))

	mux := http.NewServeMux()
	transport.NewAPI(engine, log, deps.metrics).Register(mux)
	mux.HandleFunc("GET /ws", transport.NewWSHandler(engine, log).ServeWS)
	mux.Handle("GET /metrics", deps.metrics.Handler())

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{"port": finalPort, "store": cfg.Store.Driver, "judge": cfg.Inference.Provider}).
			Info("starting assessment service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server...")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

type dependencies struct {
	store       app.Store
	inventory   app.QuestionInventory
	judge       app.Judge
	ledger      *events.LedgerPublisher
	leaderboard app.Leaderboard
	metrics     *metrics.Metrics
	closers     []func() error
}

func (d *dependencies) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		_ = d.closers[i]()
	}
}

func buildDependencies(ctx context.Context, cfg config.Config, log *logrus.Logger) (_ *dependencies, err error) {
	deps := &dependencies{metrics: metrics.New()}
	defer func() {
		if err != nil {
			deps.close()
		}
	}()

	var db *bun.DB
	switch cfg.Store.Driver {
	case "", "memory":
		deps.store = memory.NewStore()
	case sqlstore.DriverPostgres, sqlstore.DriverSQLite:
		if db, err = sqlstore.Open(cfg.Store.Driver, cfg.StoreDSN()); err != nil {
			return nil, err
		}
		deps.closers = append(deps.closers, db.Close)
		if err := migrate(ctx, db, log); err != nil {
			return nil, err
		}
		deps.store = sqlstore.New(db)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = newRedisClient(cfg)
		deps.closers = append(deps.closers, redisClient.Close)
	}

	var loader app.QuestionInventory
	switch {
	case cfg.Inventory.File != "":
		if loader, err = memory.LoadInventoryFile(cfg.Inventory.File); err != nil {
			return nil, err
		}
	case cfg.Postgres.URL != "":
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("connect inventory database: %w", err)
		}
		deps.closers = append(deps.closers, func() error { pool.Close(); return nil })
		loader = postgres.NewQuestionLoader(pool)
	case db != nil:
		loader = sqlstore.NewInventory(db)
	default:
		return nil, fmt.Errorf("no question inventory: set inventory.file, postgres.url or a sql store")
	}

	inventoryTTL := config.TTLDuration(cfg.Inventory.TTL, 10*time.Minute)
	if redisClient != nil {
		deps.inventory = redisinfra.NewInventoryCache(redisClient, loader, config.TTLDuration(cfg.Redis.TTL, inventoryTTL))
		deps.leaderboard = redisinfra.NewLeaderboard(redisClient)
	} else {
		deps.inventory = memory.NewCachedInventory(loader, inventoryTTL)
		deps.leaderboard = memory.NewLeaderboard()
	}

	deps.judge, err = inference.New(ctx, llm.Config{
		Provider: cfg.Inference.Provider,
		Model:    cfg.Inference.Model,
		APIKey:   cfg.Inference.APIKey,
		BaseURL:  cfg.Inference.BaseURL,
		Retry:    llm.RetryConfig{MaxAttempts: 2, InitialWait: 200 * time.Millisecond, MaxWait: 2 * time.Second},
	}, log)
	if err != nil {
		return nil, err
	}

	if deps.ledger, err = events.NewLedgerPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, log); err != nil {
		return nil, err
	}
	deps.closers = append(deps.closers, deps.ledger.Close)
	return deps, nil
}

func policyFromConfig(cfg config.Config) *app.Policy {
	p := app.DefaultPolicy()
	e := cfg.Engine
	if e.NumericTolerance > 0 {
		p.NumericTolerance = e.NumericTolerance
	}
	if e.HistoryWindow > 0 {
		p.HistoryWindow = e.HistoryWindow
	}
	if e.RecentScores > 0 {
		p.RecentScores = e.RecentScores
	}
	if e.RecentQuizScores > 0 {
		p.RecentQuizScores = e.RecentQuizScores
	}
	if e.MaxActiveQuests > 0 {
		p.MaxActiveQuests = e.MaxActiveQuests
	}
	if e.MaxNewQuests > 0 {
		p.MaxNewQuests = e.MaxNewQuests
	}
	if e.MinWeaknessProbability > 0 {
		p.MinWeaknessProbability = e.MinWeaknessProbability
	}
	if e.MasteryThreshold > 0 {
		p.MasteryThreshold = e.MasteryThreshold
	}
	if e.RewardBonusMax > 0 {
		p.RewardBonusMax = e.RewardBonusMax
	}
	p.QuestTTL = config.TTLDuration(e.QuestTTL, p.QuestTTL)
	p.InferenceTimeout = config.TTLDuration(cfg.Inference.Timeout, p.InferenceTimeout)
	if cfg.Inference.Concurrency > 0 {
		p.JudgeConcurrency = cfg.Inference.Concurrency
	}
	return &p
}

func newRedisClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}
