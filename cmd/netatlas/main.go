// Command netatlas runs the topology monitor: the polling engine, the batch
// ping prober, and the notification dispatcher, all over one SQLite store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/HerbHall/netatlas/internal/atlas"
	"github.com/HerbHall/netatlas/internal/config"
	"github.com/HerbHall/netatlas/internal/event"
	"github.com/HerbHall/netatlas/internal/history"
	"github.com/HerbHall/netatlas/internal/inventory"
	"github.com/HerbHall/netatlas/internal/ipam"
	"github.com/HerbHall/netatlas/internal/monitor"
	"github.com/HerbHall/netatlas/internal/notify"
	"github.com/HerbHall/netatlas/internal/pingwatch"
	"github.com/HerbHall/netatlas/internal/settings"
	"github.com/HerbHall/netatlas/internal/store"
	"github.com/HerbHall/netatlas/internal/vault"
	"github.com/HerbHall/netatlas/internal/version"
	"github.com/HerbHall/netatlas/internal/virt"
	"github.com/HerbHall/netatlas/pkg/plugin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("netatlas", version.Version)
		os.Exit(0)
	}

	viperCfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := config.New(viperCfg)

	logger, err := config.NewLogger(viperCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("NetAtlas starting", zap.String("version", version.Version))
	if f := viperCfg.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded", zap.String("source", f))
	} else {
		logger.Warn("no configuration file found, using defaults")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database and schema gate.
	dbPath := viperCfg.GetString("database.path")
	if dbPath == "" {
		dbPath = "netatlas.db"
	}
	db, err := store.New(dbPath)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()
	if err := db.CheckVersion(ctx, version.Version); err != nil {
		logger.Fatal("database version check failed", zap.Error(err))
	}
	logger.Info("database initialized", zap.String("path", dbPath))

	bus := event.NewBus(logger.Named("event"))

	// Credential vault. The passphrase comes from config or the
	// NETATLAS_VAULT_PASSPHRASE environment variable.
	vlt, err := vault.New(ctx, db)
	if err != nil {
		logger.Fatal("failed to initialize vault", zap.Error(err))
	}
	passphrase := viperCfg.GetString("vault.passphrase")
	if passphrase == "" {
		logger.Fatal("vault.passphrase is required (or set NETATLAS_VAULT_PASSPHRASE)")
	}
	if err := vlt.Unseal(ctx, passphrase); err != nil {
		logger.Fatal("failed to unseal vault", zap.Error(err))
	}
	defer vlt.Seal()

	// Domain stores. Construction applies each store's migrations, which
	// includes the startup dedup passes for interfaces and VMs.
	settingsStore, err := settings.NewStore(ctx, db)
	if err != nil {
		logger.Fatal("failed to initialize settings", zap.Error(err))
	}
	devices, err := inventory.NewStore(ctx, db, vlt, logger.Named("inventory"))
	if err != nil {
		logger.Fatal("failed to initialize inventory", zap.Error(err))
	}
	atlasStore, err := atlas.NewStore(ctx, db, logger.Named("atlas"))
	if err != nil {
		logger.Fatal("failed to initialize atlas", zap.Error(err))
	}
	historyStore, err := history.NewStore(ctx, db, logger.Named("history"))
	if err != nil {
		logger.Fatal("failed to initialize history", zap.Error(err))
	}
	ipamStore, err := ipam.NewStore(ctx, db, logger.Named("ipam"))
	if err != nil {
		logger.Fatal("failed to initialize ipam", zap.Error(err))
	}
	virtStore, err := virt.NewStore(ctx, db, logger.Named("virt"))
	if err != nil {
		logger.Fatal("failed to initialize virt", zap.Error(err))
	}
	pingStore, err := pingwatch.NewStore(ctx, db)
	if err != nil {
		logger.Fatal("failed to initialize pingwatch store", zap.Error(err))
	}
	notifyStore, err := notify.NewStore(ctx, db)
	if err != nil {
		logger.Fatal("failed to initialize notify store", zap.Error(err))
	}

	tracker := history.NewBandwidthTracker(logger.Named("bandwidth"))
	reconciler := ipam.NewReconciler(ipamStore, bus, logger.Named("ipam"))
	resolver := virt.NewResolver(virtStore, atlasStore, devices, bus, logger.Named("virt"))

	// Modules, started in dependency order.
	modules := []plugin.Plugin{
		notify.NewModule(notifyStore, devices, settingsStore),
		monitor.NewEngine(devices, atlasStore, historyStore, tracker, reconciler, resolver, settingsStore),
		pingwatch.NewModule(pingStore, historyStore, settingsStore),
	}
	for _, m := range modules {
		info := m.Info()
		deps := plugin.Dependencies{
			Config: cfg.Sub("modules." + info.Name),
			Logger: logger.Named(info.Name),
			Bus:    bus,
			Store:  db,
		}
		if err := m.Init(ctx, deps); err != nil {
			logger.Fatal("module init failed", zap.String("module", info.Name), zap.Error(err))
		}
	}
	for _, m := range modules {
		if err := m.Start(ctx); err != nil {
			logger.Fatal("module start failed", zap.String("module", m.Info().Name), zap.Error(err))
		}
	}

	// History retention sweep.
	retention := history.DefaultRetention()
	if sub := viperCfg.Sub("history.retention"); sub != nil {
		if err := sub.Unmarshal(&retention); err != nil {
			logger.Warn("invalid retention config, using defaults", zap.Error(err))
			retention = history.DefaultRetention()
		}
	}
	go historyStore.RunRetention(ctx, retention, devices)

	// Self metrics, off unless an address is configured.
	if addr := viperCfg.GetString("metrics.addr"); addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Info("metrics listener started", zap.String("addr", addr))
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("metrics listener failed", zap.Error(err))
			}
		}()
	}

	logger.Info("NetAtlas ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	for i := len(modules) - 1; i >= 0; i-- {
		if err := modules[i].Stop(shutdownCtx); err != nil {
			logger.Error("module stop failed",
				zap.String("module", modules[i].Info().Name), zap.Error(err))
		}
	}
	cancel()

	logger.Info("NetAtlas stopped")
}

// loadConfig reads netatlas.yaml from the usual places, overridable by
// NETATLAS_* environment variables.
func loadConfig(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("database.path", "netatlas.db")

	v.SetEnvPrefix("NETATLAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("netatlas")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/netatlas")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, err
		}
	}
	return v, nil
}
