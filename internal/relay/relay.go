// Package relay wires the ingest listener, the CoT encoder, and the outbound
// TAK link together. It is deliberately thin: per-record glue plus the
// bookkeeping loops. A failure at any stage is counted and contained; no
// single message can take down the pipeline.
package relay

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"gpgga-cot-relay/internal/cot"
	"gpgga-cot-relay/internal/gpgga"
)

// Observer receives the pipeline's side-effect counters. Implementations
// must be safe for concurrent use. The core holds no metrics state itself.
type Observer interface {
	RecordProcessed(d time.Duration)
	ConversionError()
	EventSent()
	SendError()
	NewDevice(deviceID string)
	SetActiveDevices(n int)
	SetConnected(connected bool)
}

// NopObserver discards all observations.
type NopObserver struct{}

func (NopObserver) RecordProcessed(time.Duration) {}
func (NopObserver) ConversionError()              {}
func (NopObserver) EventSent()                    {}
func (NopObserver) SendError()                    {}
func (NopObserver) NewDevice(string)              {}
func (NopObserver) SetActiveDevices(int)          {}
func (NopObserver) SetConnected(bool)             {}

// EventSink is the outbound link as the relay sees it.
type EventSink interface {
	Send(event []byte) error
	Connected() bool
}

// PositionTap optionally mirrors parsed records to a local consumer (the
// MQTT tap). Publish must never block the pipeline.
type PositionTap interface {
	Publish(rec gpgga.Record)
}

type Config struct {
	EventType    string
	StaleWindow  time.Duration
	HealthCheck  time.Duration
	DeviceExpiry time.Duration
}

type Relay struct {
	cfg  Config
	enc  *cot.Encoder
	sink EventSink
	tap  PositionTap
	obs  Observer

	mu      sync.Mutex
	devices map[string]struct{}
}

// StatsSource lets the health loop log component snapshots without the relay
// owning them; the caller supplies whatever it wants reported.
type StatsSource func() []slog.Attr

func New(cfg Config, sink EventSink, tap PositionTap, obs Observer) *Relay {
	if obs == nil {
		obs = NopObserver{}
	}
	if cfg.HealthCheck <= 0 {
		cfg.HealthCheck = 30 * time.Second
	}
	if cfg.DeviceExpiry <= 0 {
		cfg.DeviceExpiry = time.Hour
	}
	r := &Relay{
		cfg:     cfg,
		sink:    sink,
		tap:     tap,
		obs:     obs,
		devices: make(map[string]struct{}),
	}
	r.enc = cot.NewEncoder(cfg.EventType, cfg.StaleWindow, func(deviceID, uid string) {
		obs.NewDevice(deviceID)
	})
	return r
}

// HandleRecord is the ingest handler: encode, send, count. Every outcome is
// absorbed here; nothing propagates back to the listener.
func (r *Relay) HandleRecord(rec gpgga.Record, sender *net.UDPAddr) {
	start := time.Now()
	defer func() { r.obs.RecordProcessed(time.Since(start)) }()

	r.mu.Lock()
	r.devices[rec.DeviceID] = struct{}{}
	r.mu.Unlock()

	slog.Debug("processing position report",
		"device_id", rec.DeviceID,
		"lat", rec.Latitude,
		"lon", rec.Longitude,
		"alt", rec.Altitude,
		"fix", rec.FixQualityDescription(),
		"sender", sender.String())

	if r.tap != nil {
		r.tap.Publish(rec)
	}

	ev := r.enc.Encode(rec, time.Now())
	b, err := ev.Marshal()
	if err != nil {
		// Deterministic failure: re-encoding would fail again, drop it.
		r.obs.ConversionError()
		slog.Error("dropping unconvertible record", "device_id", rec.DeviceID, "err", err)
		return
	}

	if err := r.sink.Send(b); err != nil {
		r.obs.SendError()
		slog.Warn("event not queued", "device_id", rec.DeviceID, "err", err)
		return
	}
	r.obs.EventSent()
}

// Run owns the periodic loops: health/statistics reporting every health-check
// interval and a coarse hourly clear of the observability device set. It
// returns when ctx is cancelled.
func (r *Relay) Run(ctx context.Context, stats StatsSource) {
	health := time.NewTicker(r.cfg.HealthCheck)
	defer health.Stop()
	expiry := time.NewTicker(r.cfg.DeviceExpiry)
	defer expiry.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-health.C:
			r.obs.SetActiveDevices(r.ActiveDevices())
			r.obs.SetConnected(r.sink.Connected())
			attrs := []slog.Attr{slog.Int("active_devices", r.ActiveDevices())}
			if stats != nil {
				attrs = append(attrs, stats()...)
			}
			slog.LogAttrs(ctx, slog.LevelInfo, "relay statistics", attrs...)
		case <-expiry.C:
			n := r.ClearDevices()
			slog.Info("cleared active device set", "old_count", n)
		}
	}
}

// ActiveDevices reports how many distinct device ids were seen since the
// last clear.
func (r *Relay) ActiveDevices() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

// ClearDevices empties the observability device set and returns the previous
// size. The encoder's identity cache is untouched; identities live for the
// whole process.
func (r *Relay) ClearDevices() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.devices)
	r.devices = make(map[string]struct{})
	return n
}

// KnownDevices reports the size of the encoder's identity cache.
func (r *Relay) KnownDevices() int {
	return r.enc.KnownDevices()
}
