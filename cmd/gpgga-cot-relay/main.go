package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gpgga-cot-relay/internal/config"
	"gpgga-cot-relay/internal/ingest"
	"gpgga-cot-relay/internal/metrics"
	"gpgga-cot-relay/internal/relay"
	"gpgga-cot-relay/internal/tak"
	"gpgga-cot-relay/internal/tap"
	"gpgga-cot-relay/internal/web"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./relay.yaml", "Path to YAML config (optional, env vars override)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg.Log)
	slog.Info("gpgga-cot-relay starting", "config", cfg.Summary())

	if err := run(cfg); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
	slog.Info("gpgga-cot-relay stopped")
}

func run(cfg config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	startTime := time.Now().UTC()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mcol := metrics.New(reg)

	link, err := tak.NewClient(tak.Config{
		ServerURL:           cfg.TAK.ServerURL,
		ReconnectInterval:   cfg.TAK.ReconnectInterval,
		SendTimeout:         cfg.TAK.SendTimeout,
		HealthCheckInterval: cfg.HealthCheckInterval,
		QueueSize:           cfg.TAK.QueueSize,
		CertFile:            cfg.TAK.CertFile,
		KeyFile:             cfg.TAK.KeyFile,
		CAFile:              cfg.TAK.CAFile,
	})
	if err != nil {
		return fmt.Errorf("tak client: %w", err)
	}
	if err := link.Start(ctx); err != nil {
		return fmt.Errorf("tak client: %w", err)
	}
	defer link.Stop()

	var positionTap relay.PositionTap
	if cfg.MQTT.Broker != "" {
		pub := tap.New(tap.Config{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
		})
		pub.Start()
		defer pub.Close()
		positionTap = pub
	}

	pipeline := relay.New(relay.Config{
		EventType:   cfg.CoT.DeviceType,
		StaleWindow: cfg.CoT.Stale,
		HealthCheck: cfg.HealthCheckInterval,
	}, link, positionTap, mcol)

	listener := ingest.NewListener(ingest.Config{
		Host:            cfg.UDP.Host,
		Port:            cfg.UDP.Port,
		ReadBufferBytes: cfg.UDP.BufferSize,
		Stats:           mcol,
	})
	if err := listener.Start(ctx, pipeline.HandleRecord); err != nil {
		switch {
		case errors.Is(err, ingest.ErrAddressInUse):
			return fmt.Errorf("udp port %d is taken by another process: %w", cfg.UDP.Port, err)
		case errors.Is(err, ingest.ErrPermissionDenied):
			return err
		default:
			return fmt.Errorf("udp listener: %w", err)
		}
	}
	defer listener.Close()

	if cfg.Metrics.Enabled {
		handler := web.Handler(startTime, web.Sources{
			Ingest: listener.Snapshot,
			Link:   link.Snapshot,
			Relay: func() web.RelayStatus {
				return web.RelayStatus{
					ActiveDevices: pipeline.ActiveDevices(),
					KnownDevices:  pipeline.KnownDevices(),
				}
			},
		}, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

		addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
		go func() {
			if err := web.Run(ctx, addr, handler); err != nil {
				slog.Error("http server failed", "addr", addr, "err", err)
				cancel()
			}
		}()
		slog.Info("http server started", "addr", addr)
	}

	pipeline.Run(ctx, func() []slog.Attr {
		udp := listener.Snapshot()
		downstream := link.Snapshot()
		return []slog.Attr{
			slog.Uint64("udp_received", udp.Received),
			slog.Uint64("udp_parse_errors", udp.ParseErrors),
			slog.String("tak_state", downstream.State),
			slog.Uint64("tak_sent", downstream.MessagesSent),
			slog.Uint64("tak_dropped", downstream.Dropped),
			slog.Int("tak_queue", downstream.QueueSize),
		}
	})
	return nil
}

func setupLogging(cfg config.LogConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
