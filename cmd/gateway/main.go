// Command gateway is a thin demonstration client over internal/session
// and internal/cipservice: it opens one session against a PLC, optionally
// reads or writes one assembly by alias, and logs the results. It is
// not a server and exposes no HTTP/REST surface — that is explicitly out
// of scope per spec.md §1.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/bifrost-industrial/cip-gateway/internal/cipservice"
	"github.com/bifrost-industrial/cip-gateway/internal/config"
	"github.com/bifrost-industrial/cip-gateway/internal/registry"
	"github.com/bifrost-industrial/cip-gateway/internal/session"
	"github.com/bifrost-industrial/cip-gateway/internal/telemetry"
)

func main() {
	var (
		configFile            = flag.String("config", "gateway.yaml", "Path to configuration file")
		logLevel              = flag.String("log-level", "", "Override the configured log level (debug, info, warn, error)")
		deviceDescriptionPath = flag.String("device-description", "", "Override the configured device description XML path")
		alias                 = flag.String("alias", "", "Assembly alias to read (and, with -write-hex, write)")
		writeHex              = flag.String("write-hex", "", "Hex-encoded payload to write to -alias instead of reading it")
	)
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *deviceDescriptionPath != "" {
		cfg.DeviceDescriptionPath = *deviceDescriptionPath
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, false)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	metrics := telemetry.NewMetrics()

	logger.Info("starting cip-gateway",
		zap.String("endpoint", cfg.Endpoint().String()),
		zap.Int("pool_size", cfg.PoolSize),
		zap.String("log_level", cfg.LogLevel),
	)

	if err := run(logger, metrics, cfg, *alias, *writeHex); err != nil {
		logger.Error("run failed", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("cip-gateway shutdown complete")
}

func run(logger *zap.Logger, metrics *telemetry.Metrics, cfg config.Config, alias, writeHexPayload string) error {
	orch := session.NewOrchestrator(logger, cfg.SessionConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	sess, err := orch.CreateSession(ctx, cfg.Endpoint())
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer orch.Close(sess)

	logger.Info("session established", zap.String("session_id", sess.ID))
	metrics.ConnectionsOpened.Inc()

	if alias == "" {
		<-ctx.Done()
		return nil
	}

	if cfg.DeviceDescriptionPath == "" {
		return fmt.Errorf("alias %q requested but no device description path configured", alias)
	}
	reg, err := registry.Load(logger, cfg.DeviceDescriptionPath)
	if err != nil {
		return fmt.Errorf("load device description: %w", err)
	}
	asm, err := reg.Lookup(alias)
	if err != nil {
		return fmt.Errorf("lookup alias %q: %w", alias, err)
	}

	if writeHexPayload != "" {
		return writeAssembly(ctx, orch, sess, asm, writeHexPayload, logger)
	}
	return readAssembly(ctx, orch, sess, asm, logger)
}

func readAssembly(ctx context.Context, orch *session.Orchestrator, sess *session.Session, asm registry.Assembly, logger *zap.Logger) error {
	size := 0
	if asm.Size != nil {
		size = *asm.Size
	}
	result, err := cipservice.ReadAssembly(ctx, orch, sess, asm.ClassID, asm.InstanceID, size)
	if err != nil {
		return fmt.Errorf("read assembly %q: %w", asm.Alias, err)
	}
	if !result.Status.OK() {
		logger.Warn("assembly read returned a CIP error", zap.String("alias", asm.Alias), zap.String("status", result.Status.String()))
		return nil
	}

	logger.Info("assembly read",
		zap.String("alias", asm.Alias),
		zap.String("data", hex.EncodeToString(result.Data)),
	)
	for _, mv := range cipservice.DecodeMembers(asm, result.Data) {
		if mv.IntValue != nil {
			logger.Info("member", zap.String("name", mv.Name), zap.String("raw_hex", mv.RawHex), zap.Uint64("int_value", *mv.IntValue))
		} else {
			logger.Info("member", zap.String("name", mv.Name), zap.String("raw_hex", mv.RawHex))
		}
	}
	return nil
}

func writeAssembly(ctx context.Context, orch *session.Orchestrator, sess *session.Session, asm registry.Assembly, payloadHex string, logger *zap.Logger) error {
	payload, err := hex.DecodeString(payloadHex)
	if err != nil {
		return fmt.Errorf("decode -write-hex: %w", err)
	}
	status, err := cipservice.WriteAssembly(ctx, orch, sess, asm, payload)
	if err != nil {
		return fmt.Errorf("write assembly %q: %w", asm.Alias, err)
	}
	if !status.OK() {
		logger.Warn("assembly write returned a CIP error", zap.String("alias", asm.Alias), zap.String("status", status.String()))
		return nil
	}
	logger.Info("assembly written", zap.String("alias", asm.Alias))
	return nil
}
