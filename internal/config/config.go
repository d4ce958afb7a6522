// Package config loads relay settings from an optional YAML file with
// GPGGA_* environment variable overrides on top. Field deployments are
// usually configured entirely through the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	UDP     UDPConfig     `yaml:"udp"`
	TAK     TAKConfig     `yaml:"tak"`
	CoT     CoTConfig     `yaml:"cot"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	MQTT    MQTTConfig    `yaml:"mqtt"`

	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
}

type UDPConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	BufferSize int    `yaml:"buffer_size"`
}

type TAKConfig struct {
	// ServerURL is tcp://host:port or tls://host:port. The udp scheme is
	// rejected here: the connection manager has no UDP transmit path and
	// accepting the URL would lose data silently.
	ServerURL         string        `yaml:"server_url"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	SendTimeout       time.Duration `yaml:"send_timeout"`
	QueueSize         int           `yaml:"queue_size"`
	CertFile          string        `yaml:"cert_file"`
	KeyFile           string        `yaml:"key_file"`
	CAFile            string        `yaml:"ca_file"`
}

type CoTConfig struct {
	// DeviceType is the CoT type attribute applied to all relayed devices.
	DeviceType string `yaml:"device_type"`
	// Stale is how long a relayed position stays valid on the TAK server.
	Stale time.Duration `yaml:"stale"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// MQTTConfig enables the optional local position tap when Broker is set.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

// Load reads the YAML file at path (skipped when path is empty or the file
// does not exist), applies GPGGA_* environment overrides, fills defaults,
// and validates.
func Load(path string) (Config, error) {
	cfg := Config{Metrics: MetricsConfig{Enabled: true}}

	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// Environment-only deployment.
		default:
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.UDP.Host == "" {
		cfg.UDP.Host = "0.0.0.0"
	}
	if cfg.UDP.Port == 0 {
		cfg.UDP.Port = 5005
	}
	if cfg.UDP.BufferSize == 0 {
		cfg.UDP.BufferSize = 65536
	}
	if cfg.TAK.ServerURL == "" {
		cfg.TAK.ServerURL = "tcp://localhost:8087"
	}
	if cfg.TAK.ReconnectInterval == 0 {
		cfg.TAK.ReconnectInterval = 5 * time.Second
	}
	if cfg.TAK.SendTimeout == 0 {
		cfg.TAK.SendTimeout = 5 * time.Second
	}
	if cfg.TAK.QueueSize == 0 {
		cfg.TAK.QueueSize = 1000
	}
	if cfg.CoT.DeviceType == "" {
		cfg.CoT.DeviceType = "a-f-G-U-C"
	}
	if cfg.CoT.Stale == 0 {
		cfg.CoT.Stale = 300 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 8089
	}
	if cfg.HealthCheckInterval == 0 {
		cfg.HealthCheckInterval = 30 * time.Second
	}
	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.Topic == "" {
			cfg.MQTT.Topic = "gpgga/positions"
		}
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = "gpgga-cot-relay"
		}
	}
}

func applyEnv(cfg *Config) error {
	var firstErr error
	setStr := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		v, ok := os.LookupEnv(key)
		if !ok {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("config: %s=%q: %w", key, v, err)
			}
			return
		}
		*dst = n
	}
	setBool := func(key string, dst *bool) {
		v, ok := os.LookupEnv(key)
		if !ok {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("config: %s=%q: %w", key, v, err)
			}
			return
		}
		*dst = b
	}
	// Durations accept either a Go duration string ("5s") or a bare number
	// of seconds, which is what older deployment scripts export.
	setDur := func(key string, dst *time.Duration) {
		v, ok := os.LookupEnv(key)
		if !ok {
			return
		}
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = time.Duration(n * float64(time.Second))
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("config: %s=%q: %w", key, v, err)
			}
			return
		}
		*dst = d
	}

	setStr("GPGGA_UDP_LISTEN_HOST", &cfg.UDP.Host)
	setInt("GPGGA_UDP_LISTEN_PORT", &cfg.UDP.Port)
	setInt("GPGGA_UDP_BUFFER_SIZE", &cfg.UDP.BufferSize)

	setStr("GPGGA_TAK_SERVER_URL", &cfg.TAK.ServerURL)
	setDur("GPGGA_TAK_RECONNECT_INTERVAL", &cfg.TAK.ReconnectInterval)
	setDur("GPGGA_TAK_SEND_TIMEOUT", &cfg.TAK.SendTimeout)
	setInt("GPGGA_TAK_QUEUE_SIZE", &cfg.TAK.QueueSize)
	setStr("GPGGA_TAK_CERT_FILE", &cfg.TAK.CertFile)
	setStr("GPGGA_TAK_KEY_FILE", &cfg.TAK.KeyFile)
	setStr("GPGGA_TAK_CA_FILE", &cfg.TAK.CAFile)

	setStr("GPGGA_DEVICE_TYPE", &cfg.CoT.DeviceType)
	setDur("GPGGA_STALE_TIME", &cfg.CoT.Stale)

	setStr("GPGGA_LOG_LEVEL", &cfg.Log.Level)
	setStr("GPGGA_LOG_FORMAT", &cfg.Log.Format)

	setBool("GPGGA_METRICS_ENABLED", &cfg.Metrics.Enabled)
	setInt("GPGGA_METRICS_PORT", &cfg.Metrics.Port)
	setDur("GPGGA_HEALTH_CHECK_INTERVAL", &cfg.HealthCheckInterval)

	setStr("GPGGA_MQTT_BROKER", &cfg.MQTT.Broker)
	setStr("GPGGA_MQTT_TOPIC", &cfg.MQTT.Topic)
	setStr("GPGGA_MQTT_CLIENT_ID", &cfg.MQTT.ClientID)

	return firstErr
}

func validate(cfg Config) error {
	if cfg.UDP.Port < 1 || cfg.UDP.Port > 65535 {
		return fmt.Errorf("config: udp.port %d out of range 1-65535", cfg.UDP.Port)
	}
	if cfg.UDP.BufferSize < 256 || cfg.UDP.BufferSize > 1<<20 {
		return fmt.Errorf("config: udp.buffer_size %d out of range 256-1048576", cfg.UDP.BufferSize)
	}

	scheme, _, found := strings.Cut(cfg.TAK.ServerURL, "://")
	if !found {
		return fmt.Errorf("config: tak.server_url %q must start with tcp:// or tls://", cfg.TAK.ServerURL)
	}
	switch scheme {
	case "tcp", "tls":
	case "udp":
		return fmt.Errorf("config: tak.server_url: udp is not a supported downstream transport")
	default:
		return fmt.Errorf("config: tak.server_url: unsupported scheme %q", scheme)
	}

	if (cfg.TAK.CertFile == "") != (cfg.TAK.KeyFile == "") {
		return fmt.Errorf("config: tak.cert_file and tak.key_file must be set together")
	}
	if (cfg.TAK.CertFile != "" || cfg.TAK.CAFile != "") && scheme != "tls" {
		return fmt.Errorf("config: tls certificates configured but tak.server_url does not use tls://")
	}

	if cfg.TAK.ReconnectInterval <= 0 || cfg.TAK.SendTimeout <= 0 || cfg.HealthCheckInterval <= 0 {
		return fmt.Errorf("config: tak intervals must be positive")
	}
	if cfg.TAK.QueueSize < 1 {
		return fmt.Errorf("config: tak.queue_size must be at least 1")
	}
	if cfg.CoT.Stale <= 0 {
		return fmt.Errorf("config: cot.stale must be positive")
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: log.level %q (want debug, info, warn, or error)", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("config: log.format %q (want json or text)", cfg.Log.Format)
	}

	if cfg.Metrics.Enabled && (cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535) {
		return fmt.Errorf("config: metrics.port %d out of range 1-65535", cfg.Metrics.Port)
	}
	return nil
}

// Summary is a compact view of the effective settings for the startup log.
func (c Config) Summary() map[string]any {
	m := map[string]any{
		"udp_listener": fmt.Sprintf("%s:%d", c.UDP.Host, c.UDP.Port),
		"tak_server":   c.TAK.ServerURL,
		"tls_enabled":  strings.HasPrefix(c.TAK.ServerURL, "tls://"),
		"device_type":  c.CoT.DeviceType,
		"stale":        c.CoT.Stale.String(),
		"log_level":    c.Log.Level,
	}
	if c.Metrics.Enabled {
		m["metrics_port"] = c.Metrics.Port
	} else {
		m["metrics_port"] = "disabled"
	}
	if c.MQTT.Broker != "" {
		m["mqtt_tap"] = c.MQTT.Broker
	}
	return m
}
