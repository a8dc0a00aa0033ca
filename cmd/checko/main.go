package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/0xmhha/checko-go/internal/config"
	"github.com/0xmhha/checko-go/internal/logger"
	"github.com/0xmhha/checko-go/pkg/bridge"
	"github.com/0xmhha/checko-go/pkg/client"
	"github.com/0xmhha/checko-go/pkg/codec"
	"github.com/0xmhha/checko-go/pkg/confirmation"
	"github.com/0xmhha/checko-go/pkg/engine"
	"github.com/0xmhha/checko-go/pkg/interceptor"
	"github.com/0xmhha/checko-go/pkg/notification"
	"github.com/0xmhha/checko-go/pkg/popup"
	"github.com/0xmhha/checko-go/pkg/rpcimpl"
	"github.com/0xmhha/checko-go/pkg/storage"
	"github.com/0xmhha/checko-go/pkg/subscription"
)

var (
	// Version information (injected at build time)
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to configuration file (YAML)")
		showVersion = flag.Bool("version", false, "Show version information and exit")
		dbPath      = flag.String("db", "", "Wallet store path")
		bridgeHost  = flag.String("host", "", "Bridge server host")
		bridgePort  = flag.Int("port", 0, "Bridge server port")
		popupURL    = flag.String("popup-url", "", "URL opened by the popup launch command")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
		logFormat   = flag.String("log-format", "", "Log format (json, console)")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("checko version %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", buildTime)
		os.Exit(0)
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg, *dbPath, *bridgeHost, *bridgePort, *popupURL, *logLevel, *logFormat)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting checko",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_time", buildTime),
		zap.String("db_path", cfg.Database.Path),
		zap.String("bridge", fmt.Sprintf("%s:%d", cfg.Bridge.Host, cfg.Bridge.Port)),
	)

	if err := run(cfg, log); err != nil {
		log.Error("checko stopped with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("checko stopped")
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Wallet store
	storeConfig := storage.DefaultConfig(cfg.Database.Path)
	storeConfig.Cache = cfg.Database.CacheSize
	storeConfig.ReadOnly = cfg.Database.ReadOnly
	store, err := storage.NewPebbleStorage(storeConfig, logger.WithComponent(log, "storage"))
	if err != nil {
		return fmt.Errorf("failed to open wallet store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Failed to close wallet store", zap.Error(err))
		}
	}()

	if !cfg.Database.ReadOnly {
		if _, err := store.EnsureNetwork(ctx, &storage.Network{
			Name:      cfg.Network.Name,
			RPCSchema: cfg.Network.RPCSchema,
			WSSchema:  cfg.Network.WSSchema,
			Host:      cfg.Network.Host,
			Port:      cfg.Network.Port,
			Path:      cfg.Network.Path,
		}); err != nil {
			return fmt.Errorf("failed to store bootstrap network: %w", err)
		}
	}

	// Metrics
	var (
		reg             *prometheus.Registry
		registryMetrics *subscription.Metrics
		gateMetrics     *confirmation.Metrics
		engineMetrics   *engine.Metrics
		bridgeMetrics   *bridge.Metrics
		notifyMetrics   *notification.Metrics
	)
	if cfg.Metrics.Enabled {
		ns := cfg.Metrics.Namespace
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		registryMetrics = subscription.NewMetrics(reg, ns)
		gateMetrics = confirmation.NewMetrics(reg, ns)
		engineMetrics = engine.NewMetrics(reg, ns)
		bridgeMetrics = bridge.NewMetrics(reg, ns)
		notifyMetrics = notification.NewMetrics(reg, ns)
	}

	registry := subscription.NewRegistry(logger.WithComponent(log, "subscriptions"))
	if registryMetrics != nil {
		registry.SetMetrics(registryMetrics)
	}

	nodeClient, err := client.NewClient(&client.Config{
		Timeout: cfg.Node.Timeout,
		Logger:  logger.WithComponent(log, "graphql-client"),
	})
	if err != nil {
		return fmt.Errorf("failed to create graphql client: %w", err)
	}

	// Bridge
	hubOpts := []bridge.HubOption{
		bridge.WithKeepalive(cfg.Bridge.KeepaliveInterval),
		bridge.WithUIAuth(cfg.Bridge.UIOrigins, cfg.Bridge.UIToken),
	}
	if bridgeMetrics != nil {
		hubOpts = append(hubOpts, bridge.WithHubMetrics(bridgeMetrics))
	}
	hub := bridge.NewHub(log, hubOpts...)

	popups, err := popup.NewManager(&cfg.Popup, hub,
		popup.WithLauncher(popupLauncher(cfg.Popup.LaunchCommand, log)),
		popup.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("failed to create popup manager: %w", err)
	}
	hub.SetObserver(popups)

	// Dispatch pipeline
	gate, err := confirmation.NewGate(&confirmation.Config{SettleDelay: cfg.Popup.SettleDelay}, popups, hub, store, log)
	if err != nil {
		return fmt.Errorf("failed to create confirmation gate: %w", err)
	}
	if gateMetrics != nil {
		gate.SetMetrics(gateMetrics)
	}

	handlers, err := rpcimpl.New(&rpcimpl.Config{
		Store:    store,
		Client:   nodeClient,
		Codec:    codec.New(),
		Registry: registry,
		Bridge:   hub,
		Logger:   log,
	})
	if err != nil {
		return fmt.Errorf("failed to create handlers: %w", err)
	}

	engineOpts := []engine.Option{
		engine.WithInterceptors(interceptor.RequireOrigin(), interceptor.Account(store, log)),
		engine.WithMiddlewares(gate.Handle),
		engine.WithNotifier(engine.NewNotifier(hub, log)),
		engine.WithAccounts(store),
		engine.WithLogger(log),
	}
	if engineMetrics != nil {
		engineOpts = append(engineOpts, engine.WithMetrics(engineMetrics))
	}
	pipeline, err := engine.New(handlers, engineOpts...)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	if err := hub.Serve(pipeline.Respond); err != nil {
		return fmt.Errorf("failed to bind bridge handler: %w", err)
	}

	// Notification subscriptions
	notifyOpts := []notification.Option{
		notification.WithInterval(cfg.Subscription.Interval),
		notification.WithClientFactory(notification.DefaultClientFactory(
			cfg.Subscription.ReconnectMinBackoff,
			cfg.Subscription.ReconnectMaxBackoff,
			log,
		)),
		notification.WithLogger(log),
	}
	if notifyMetrics != nil {
		notifyOpts = append(notifyOpts, notification.WithMetrics(notifyMetrics))
	}
	if cfg.Relay.Redis.Enabled {
		relay, err := notification.NewRedisRelay(&cfg.Relay.Redis, log)
		if err != nil {
			return fmt.Errorf("failed to create redis relay: %w", err)
		}
		connectCtx, connectCancel := context.WithTimeout(ctx, cfg.Relay.Redis.DialTimeout)
		err = relay.Connect(connectCtx)
		connectCancel()
		if err != nil {
			return fmt.Errorf("failed to connect redis relay: %w", err)
		}
		defer relay.Close()
		notifyOpts = append(notifyOpts, notification.WithRelay(relay))
	}
	notifier, err := notification.NewManager(store, registry, notifyOpts...)
	if err != nil {
		return fmt.Errorf("failed to create notification manager: %w", err)
	}

	// HTTP server
	serverOpts := []bridge.ServerOption{bridge.WithSubscriptionStats(registry)}
	if reg != nil {
		serverOpts = append(serverOpts, bridge.WithGatherer(reg))
	}
	server, err := bridge.NewServer(bridge.ConfigFrom(&cfg.Bridge), hub, log, serverOpts...)
	if err != nil {
		return fmt.Errorf("failed to create bridge server: %w", err)
	}

	errChan := make(chan error, 2)
	go hub.Run(ctx)
	go func() {
		if err := notifier.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("notification manager: %w", err)
		}
	}()
	go func() {
		if err := server.Start(); err != nil {
			errChan <- err
		}
	}()

	var runErr error
	select {
	case sig := <-sigChan:
		log.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case runErr = <-errChan:
		log.Error("Component failed", zap.Error(runErr))
	}

	log.Info("Shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("Failed to stop bridge server", zap.Error(err))
	}
	hub.Close()

	return runErr
}

// popupLauncher keeps a nil *ExecLauncher from becoming a non-nil interface
func popupLauncher(command []string, log *zap.Logger) popup.Launcher {
	if l := popup.NewExecLauncher(command, log); l != nil {
		return l
	}
	return nil
}

func loadConfig(configFile string) (*config.Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	return config.Load(configFile)
}

func loadDotEnv() error {
	info, err := os.Stat(".env")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat .env: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf(".env exists but is a directory")
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

func applyFlags(cfg *config.Config, dbPath, host string, port int, popupURL, logLevel, logFormat string) {
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if host != "" {
		cfg.Bridge.Host = host
	}
	if port != 0 {
		cfg.Bridge.Port = port
	}
	if popupURL != "" {
		cfg.Popup.URL = popupURL
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
}
