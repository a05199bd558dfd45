// Package main — cmd/broker/main.go
//
// edge-vehicle-server broker entrypoint.
//
// Startup sequence:
//  1. Load and validate broker settings from /etc/edge-broker/broker.yaml.
//  2. Load the scene configuration document (client_config.json or
//     parking_config.json, per the configured variant).
//  3. Initialise structured logger (zap).
//  4. Open the verdict audit ledger (if storage.enabled).
//  5. Select the configured Fuser (categorical or parking) from the
//     contrib registry.
//  6. Start the Prometheus metrics server (loopback address by default).
//  7. Connect the transport adapter to the MQTT bus and subscribe to
//     every topic.
//  8. Start the operator Unix socket (if operator.enabled).
//  9. Register a SIGHUP handler that republishes the scene configuration
//     (nothing is reloaded from disk).
// 10. Block on SIGINT/SIGTERM, or — for the parking variant — on the
//     broker's bounded-run completion signal, whichever comes first.
//
// Shutdown sequence:
//  1. Cancel root context (propagates to metrics/operator servers).
//  2. Close the transport adapter.
//  3. Close the ledger (if open).
//  4. Flush logger.
//  5. Exit 0.
//
// On settings/scene validation failure, or a fatal MQTT connect error:
// exit 1 immediately (no partial state).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/EverettRichards/edge-vehicle-server/contrib"
	"github.com/EverettRichards/edge-vehicle-server/internal/broker"
	"github.com/EverettRichards/edge-vehicle-server/internal/config"
	"github.com/EverettRichards/edge-vehicle-server/internal/display"
	_ "github.com/EverettRichards/edge-vehicle-server/internal/fusion" // registers "categorical"/"parking" fusers
	"github.com/EverettRichards/edge-vehicle-server/internal/ledger"
	"github.com/EverettRichards/edge-vehicle-server/internal/observability"
	"github.com/EverettRichards/edge-vehicle-server/internal/operator"
	"github.com/EverettRichards/edge-vehicle-server/internal/sceneconfig"
	"github.com/EverettRichards/edge-vehicle-server/internal/transport"
)

func main() {
	// ── Flags ─────────────────────────────────────────────────────────────────
	configPath := flag.String("config", "/etc/edge-broker/broker.yaml", "Path to broker.yaml")
	flag.Parse()

	// ── Step 1: Load settings ─────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	// ── Step 2: Load scene configuration ──────────────────────────────────────
	scene, err := sceneconfig.Load(cfg.SceneConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: scene config load failed: %v\n", err)
		os.Exit(1)
	}

	// ── Step 3: Initialise logger ─────────────────────────────────────────────
	log, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("edge-broker starting",
		zap.String("variant", string(cfg.Variant)),
		zap.String("config", *configPath),
		zap.String("scene_config", cfg.SceneConfigPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Step 4: Open verdict ledger ───────────────────────────────────────────
	var ledgerDB *ledger.DB
	if cfg.Storage.Enabled {
		ledgerDB, err = ledger.Open(cfg.Storage.DBPath)
		if err != nil {
			log.Fatal("ledger open failed", zap.Error(err), zap.String("path", cfg.Storage.DBPath))
		}
		defer ledgerDB.Close() //nolint:errcheck
		log.Info("verdict ledger opened", zap.String("path", cfg.Storage.DBPath))
	}

	// ── Step 5: Select fuser ──────────────────────────────────────────────────
	fuser, err := contrib.GetFuser(string(cfg.Variant))
	if err != nil {
		log.Fatal("fuser selection failed", zap.Error(err))
	}

	// ── Step 6: Metrics server ────────────────────────────────────────────────
	metrics := observability.NewMetrics()
	go func() {
		if err := metrics.ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))

	// ── Step 7: Transport adapter ─────────────────────────────────────────────
	willTopic, willMessage := lastWill(cfg.Variant)
	adapter := transport.New(transport.Options{
		BrokerIP:        cfg.BrokerIP,
		PortNum:         cfg.PortNum,
		ClientID:        "main_broker",
		Variant:         cfg.Variant,
		LastWillTopic:   willTopic,
		LastWillMessage: willMessage,
	}, log, metrics)

	b := broker.New(*cfg, scene, fuser, adapter, metrics, ledgerDB, log)

	if err := adapter.Connect(); err != nil {
		log.Fatal("bus connect failed", zap.Error(err))
	}
	defer adapter.Close()
	if cfg.ShowVerboseOutput {
		display.BusConnected()
	}

	if err := adapter.SubscribeAll(b); err != nil {
		log.Fatal("topic subscription failed", zap.Error(err))
	}
	log.Info("subscribed to all topics")

	// ── Step 8: Operator socket ───────────────────────────────────────────────
	if cfg.Operator.Enabled {
		opSrv := operator.NewServer(cfg.Operator.SocketPath, b, log)
		go func() {
			if err := opSrv.ListenAndServe(ctx); err != nil {
				log.Error("operator socket error", zap.Error(err))
			}
		}()
		log.Info("operator socket started", zap.String("path", cfg.Operator.SocketPath))
	}

	// ── Step 9: SIGHUP scene-config republish ──────────────────────────────────
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Info("SIGHUP received — republishing scene configuration...")
			if err := b.RepublishConfig(); err != nil {
				log.Error("config republish failed", zap.Error(err))
				continue
			}
			log.Info("scene configuration republished")
		}
	}()

	// ── Step 10: Block until shutdown or (parking) bounded-run completion ────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case <-b.Done():
		log.Info("bounded verdict run complete — exiting")
	}

	cancel()
	time.Sleep(100 * time.Millisecond) // let metrics/operator servers finish draining
	log.Info("edge-broker shutdown complete")
}

// lastWill returns the last-will topic/message pair for the given
// variant (spec §6: categorical wills on msg_B2V, parking on finished;
// both carry {"message":"I'm offline"}).
func lastWill(variant config.Variant) (topic, message string) {
	if variant == config.VariantParking {
		return transport.TopicFinished, "I'm offline"
	}
	return "msg_B2V", "I'm offline"
}

// buildLogger constructs a zap.Logger with the given level and format.
func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var zcfg zap.Config
	if format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return zcfg.Build()
}
