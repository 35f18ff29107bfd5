package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/zmazz/govwatcher-cosmos-vultr/config"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/admin"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/analysiscache"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/analyzer"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/chainclient"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/cursorstore"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/delivery"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/metrics"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/models"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/registry"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/scheduler"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/subscriber"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/watcher"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "Path to configuration file")
		validate   = flag.Bool("validate", false, "Validate configuration and exit")
		debug      = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	var logger *zap.Logger
	var err error
	if *debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting govwatcher", zap.String("config", *configPath))

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger.Info("Configuration loaded successfully",
		zap.Int("chains", len(cfg.Chains)),
		zap.Duration("scan_interval", cfg.Scanning.Interval),
	)

	ctx := context.Background()
	registryClient := registry.NewClient(logger)
	registryClient.PopulateChainConfigs(ctx, cfg.Chains)

	if *validate {
		logger.Info("Configuration and chain registry lookups validated successfully")
		return
	}

	db, err := initDatabase(cfg.Database.Path, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}

	watchers, err := buildWatchers(cfg, db, logger)
	if err != nil {
		logger.Fatal("Failed to build chain watchers", zap.Error(err))
	}

	cache := analysiscache.New(db, logger)

	providers, err := buildProviders(ctx, cfg.Providers)
	if err != nil {
		logger.Fatal("Failed to build analyzer providers", zap.Error(err))
	}
	az := analyzer.New(providers, logger)

	directory, closeDirectory := buildDirectory(cfg.SubscriberDirectory, logger)
	defer closeDirectory()

	gate := delivery.New(db, logger)
	notifier, closeNotifiers, err := buildNotifier(cfg.Notifiers, logger)
	if err != nil {
		logger.Fatal("Failed to build notifiers", zap.Error(err))
	}
	defer closeNotifiers()

	m := metrics.NewMetrics()

	chainNames := make(map[string]string, len(cfg.Chains))
	for _, chain := range cfg.Chains {
		chainNames[chain.GetChainID()] = chain.GetName()
	}

	sched := scheduler.New(
		scheduler.Config{
			AnalysisQueueSize:  cfg.Concurrency.AnalysisQueueSize,
			DeliveryQueueSize:  cfg.Concurrency.DeliveryQueueSize,
			MaxConcurrentLLM:   cfg.Concurrency.MaxConcurrentLLM,
			MaxConcurrentSends: cfg.Concurrency.MaxConcurrentSends,
		},
		db, watchers, cache, az, directory, gate, notifier, chainNames, m, logger,
	)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched.Start(runCtx)
	logger.Info("Scheduler started", zap.Int("watched_chains", len(watchers)))

	if cfg.Admin.Enabled {
		adminServer := admin.NewServer(fmt.Sprintf(":%d", cfg.Admin.Port), cfg.Admin.Path, db, sched, m, logger)
		adminServer.Start(runCtx)
		logger.Info("Admin server started", zap.Int("port", cfg.Admin.Port), zap.String("path", cfg.Admin.Path))
	}

	logger.Info("All services started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutdown signal received, draining in-flight work...")

	sched.Shutdown()
	cancel()

	logger.Info("govwatcher stopped")
}

// initDatabase opens the sqlite database and runs schema migrations.
func initDatabase(dbPath string, logger *zap.Logger) (*gorm.DB, error) {
	logger.Info("Initializing database", zap.String("path", dbPath))

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := models.InitDB(db); err != nil {
		return nil, fmt.Errorf("failed to initialize database tables: %w", err)
	}

	logger.Info("Database initialized successfully")
	return db, nil
}

// buildWatchers constructs one Chain Client, Cursor Store, and Watcher per
// configured chain.
func buildWatchers(cfg *config.Config, db *gorm.DB, logger *zap.Logger) (map[string]*watcher.Watcher, error) {
	cursors := cursorstore.New(db)

	watchers := make(map[string]*watcher.Watcher, len(cfg.Chains))
	for _, chain := range cfg.Chains {
		if len(chain.RESTAddrs) == 0 {
			return nil, fmt.Errorf("chain %q has no rest_endpoints configured", chain.GetChainID())
		}
		client := chainclient.New(chain.GetChainID(), chain.RESTAddrs, logger)
		watchers[chain.GetChainID()] = watcher.New(chain.GetChainID(), client, db, cursors, logger)
	}
	return watchers, nil
}

// buildProviders constructs the Hybrid Analyzer's ordered provider chain
// from configuration, preserving configuration order as fallback order.
func buildProviders(ctx context.Context, providerCfgs []config.ProviderConfig) ([]analyzer.Provider, error) {
	providers := make([]analyzer.Provider, 0, len(providerCfgs))
	for _, p := range providerCfgs {
		switch p.Name {
		case "anthropic":
			providers = append(providers, analyzer.NewAnthropicProvider(p.APIKey, p.Model))
		case "bedrock":
			provider, err := analyzer.NewBedrockProvider(ctx, p.Region, p.Model)
			if err != nil {
				return nil, fmt.Errorf("build bedrock provider: %w", err)
			}
			providers = append(providers, provider)
		case "langchain":
			provider, err := analyzer.NewLangchainProvider(p.BaseURL, p.Model)
			if err != nil {
				return nil, fmt.Errorf("build langchain provider: %w", err)
			}
			providers = append(providers, provider)
		default:
			return nil, fmt.Errorf("unknown provider %q", p.Name)
		}
	}
	return providers, nil
}

// buildDirectory constructs the Subscriber Matcher's directory client, and
// an optional Redis connection backing its TTL cache. The returned close
// func is always safe to call.
func buildDirectory(cfg config.SubscriberDirectoryConfig, logger *zap.Logger) (subscriber.Directory, func()) {
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		if opts, err := redis.ParseURL(cfg.RedisURL); err == nil {
			rdb = redis.NewClient(opts)
		} else {
			logger.Warn("invalid subscriber_directory.redis_url, caching disabled", zap.Error(err))
		}
	}

	directory := subscriber.NewHTTPDirectory(cfg.BaseURL, rdb, cfg.CacheTTL, logger)
	return directory, func() {
		if rdb != nil {
			_ = rdb.Close()
		}
	}
}

// buildNotifier wires the enabled chat notifiers behind a RoutingNotifier
// keyed by subscriber address scheme ("discord:" / "slack:"), and returns
// a close func that shuts down any opened sessions.
func buildNotifier(cfg config.NotifiersConfig, logger *zap.Logger) (delivery.Notifier, func(), error) {
	routes := make(map[string]delivery.Notifier)
	var discordNotifier *delivery.DiscordNotifier

	if cfg.Discord.Enabled {
		n, err := delivery.NewDiscordNotifier(cfg.Discord.Token, cfg.Discord.ChannelID, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("build discord notifier: %w", err)
		}
		discordNotifier = n
		routes["discord"] = n
	}
	if cfg.Slack.Enabled {
		routes["slack"] = delivery.NewSlackNotifier(cfg.Slack.Token, cfg.Slack.ChannelID, logger)
	}

	closeFn := func() {
		if discordNotifier != nil {
			_ = discordNotifier.Close()
		}
	}
	return delivery.NewRoutingNotifier(routes), closeFn, nil
}
