// Package tap mirrors parsed GPGGA records to a local MQTT broker as JSON.
// The tap is an optional side channel for on-site consumers (map walls,
// recorders); it must never slow down or fail the CoT pipeline.
package tap

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"gpgga-cot-relay/internal/gpgga"
)

type Config struct {
	Broker   string
	Topic    string
	ClientID string
}

// Publisher implements the relay's PositionTap.
type Publisher struct {
	client mqtt.Client
	topic  string

	published atomic.Uint64
	dropped   atomic.Uint64
}

// position is the wire form of a mirrored record.
type position struct {
	DeviceID      string  `json:"device_id"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	Altitude      float64 `json:"altitude"`
	FixQuality    int     `json:"fix_quality"`
	NumSatellites int     `json:"num_satellites"`
	HDOP          float64 `json:"hdop"`
	GPSTime       string  `json:"gps_time,omitempty"`
	ReceivedUTC   string  `json:"received_utc"`
}

func New(cfg Config) *Publisher {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		slog.Info("mqtt tap connected", "broker", cfg.Broker, "topic", cfg.Topic)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		slog.Warn("mqtt tap connection lost", "error", err)
	}

	return &Publisher{
		client: mqtt.NewClient(opts),
		topic:  cfg.Topic,
	}
}

// Start begins connecting in the background. With retry enabled a broker
// that is down at startup is not an error.
func (p *Publisher) Start() {
	p.client.Connect()
}

// Publish mirrors one record. It never blocks: records are dropped while
// the broker is unreachable.
func (p *Publisher) Publish(rec gpgga.Record) {
	if !p.client.IsConnectionOpen() {
		p.dropped.Add(1)
		return
	}

	pos := position{
		DeviceID:      rec.DeviceID,
		Latitude:      rec.Latitude,
		Longitude:     rec.Longitude,
		Altitude:      rec.Altitude,
		FixQuality:    rec.FixQuality,
		NumSatellites: rec.NumSatellites,
		HDOP:          rec.HDOP,
		ReceivedUTC:   time.Now().UTC().Format(time.RFC3339Nano),
	}
	if rec.TimeOfFix != nil {
		pos.GPSTime = rec.TimeOfFix.String()
	}

	b, err := json.Marshal(pos)
	if err != nil {
		slog.Warn("mqtt tap marshal failed", "device_id", rec.DeviceID, "error", err)
		return
	}

	// QoS 0, fire and forget. Token errors surface through OnConnectionLost.
	p.client.Publish(p.topic, 0, false, b)
	p.published.Add(1)
}

func (p *Publisher) Published() uint64 { return p.published.Load() }
func (p *Publisher) Dropped() uint64   { return p.dropped.Load() }

func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
