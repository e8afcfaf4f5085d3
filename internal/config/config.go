// Package config loads the persistent netsdr settings and applies
// environment overrides on top of them.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rjboer/netsdr/internal/logging"
	"github.com/rjboer/netsdr/internal/mdns"
	"github.com/rjboer/netsdr/internal/protocol"
	"github.com/rjboer/netsdr/internal/sink"
	"github.com/rjboer/netsdr/internal/telemetry"
)

// DefaultPath is the config file used when none is given.
const DefaultPath = "netsdr.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "NETSDR_"

// Device describes the receiver and how the IQ stream is decoded.
type Device struct {
	Address        string        `yaml:"address"`
	DataAddress    string        `yaml:"data_address"`
	FrequencyHz    uint64        `yaml:"frequency_hz"`
	Channel        uint8         `yaml:"channel"`
	SampleRate     uint32        `yaml:"sample_rate"`
	SampleBits     int           `yaml:"sample_bits"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	ConnectRetries uint64        `yaml:"connect_retries"`
	ReuseAddr      bool          `yaml:"reuse_addr"`
}

// SSH configures an optional jump host for the control connection.
type SSH struct {
	Host       string `yaml:"host"`
	User       string `yaml:"user"`
	Password   string `yaml:"password,omitempty"`
	KeyPath    string `yaml:"key_path"`
	Port       int    `yaml:"port"`
	KnownHosts string `yaml:"known_hosts"`
}

// Log selects the process logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Telemetry configures the optional web telemetry server.
type Telemetry struct {
	WebAddr      string `yaml:"web_addr"`
	HistoryLimit int    `yaml:"history_limit"`
	SpectrumSize int    `yaml:"spectrum_size"`
}

// Discovery configures mDNS browsing.
type Discovery struct {
	Service string        `yaml:"service"`
	Timeout time.Duration `yaml:"timeout"`
}

// Config is the persistent configuration.
type Config struct {
	Device    Device      `yaml:"device"`
	SSH       SSH         `yaml:"ssh"`
	Sink      sink.Config `yaml:"sink"`
	Log       Log         `yaml:"log"`
	Telemetry Telemetry   `yaml:"telemetry"`
	Discovery Discovery   `yaml:"discovery"`
}

// Default returns the built-in configuration.
func Default() Config {
	tel := telemetry.DefaultConfig()
	return Config{
		Device: Device{
			Address:     "127.0.0.1:50000",
			DataAddress: ":60000",
			FrequencyHz: 14_010_000,
			Channel:     0,
			SampleRate:  100_000,
			SampleBits:  16,
			DialTimeout: 5 * time.Second,
		},
		Sink: sink.Config{Kind: sink.KindFile, Path: sink.DefaultPath},
		Log:  Log{Level: "info", Format: "text"},
		Telemetry: Telemetry{
			HistoryLimit: tel.HistoryLimit,
			SpectrumSize: tel.SpectrumSize,
		},
		Discovery: Discovery{Service: mdns.DefaultService, Timeout: 5 * time.Second},
	}
}

// Load reads path, creating it with defaults when it does not exist.
// Fields missing from the file keep their default values.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := Default()
			if saveErr := Save(path, cfg); saveErr != nil {
				return Config{}, saveErr
			}
			return cfg, nil
		}
		return Config{}, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg as YAML.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(string) (string, bool)

// ApplyEnv overrides cfg from NETSDR_* variables. Unparseable values are
// reported, naming the variable.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	e := envReader{lookup: lookup}
	e.setString("ADDRESS", &cfg.Device.Address)
	e.setString("DATA_ADDRESS", &cfg.Device.DataAddress)
	e.setUint64("FREQUENCY_HZ", &cfg.Device.FrequencyHz)
	e.setUint8("CHANNEL", &cfg.Device.Channel)
	e.setUint32("SAMPLE_RATE", &cfg.Device.SampleRate)
	e.setInt("SAMPLE_BITS", &cfg.Device.SampleBits)
	e.setDuration("REQUEST_TIMEOUT", &cfg.Device.RequestTimeout)
	e.setDuration("DIAL_TIMEOUT", &cfg.Device.DialTimeout)
	e.setUint64("CONNECT_RETRIES", &cfg.Device.ConnectRetries)
	e.setBool("REUSE_ADDR", &cfg.Device.ReuseAddr)

	e.setString("SSH_HOST", &cfg.SSH.Host)
	e.setString("SSH_USER", &cfg.SSH.User)
	e.setString("SSH_PASSWORD", &cfg.SSH.Password)
	e.setString("SSH_KEY_PATH", &cfg.SSH.KeyPath)
	e.setInt("SSH_PORT", &cfg.SSH.Port)
	e.setString("SSH_KNOWN_HOSTS", &cfg.SSH.KnownHosts)

	var kind string
	if e.setString("SINK_KIND", &kind) {
		cfg.Sink.Kind = sink.Kind(kind)
	}
	e.setString("SINK_PATH", &cfg.Sink.Path)
	e.setString("SINK_REDIS_ADDR", &cfg.Sink.RedisAddr)
	e.setString("SINK_REDIS_KEY", &cfg.Sink.RedisKey)

	e.setString("LOG_LEVEL", &cfg.Log.Level)
	e.setString("LOG_FORMAT", &cfg.Log.Format)

	e.setString("WEB_ADDR", &cfg.Telemetry.WebAddr)
	e.setInt("HISTORY_LIMIT", &cfg.Telemetry.HistoryLimit)
	e.setInt("SPECTRUM_SIZE", &cfg.Telemetry.SpectrumSize)

	e.setString("MDNS_SERVICE", &cfg.Discovery.Service)
	e.setDuration("MDNS_TIMEOUT", &cfg.Discovery.Timeout)

	return errors.Join(e.errs...)
}

// Validate checks values that would otherwise fail deep inside a session.
func (c Config) Validate() error {
	var errs []error
	if _, _, err := net.SplitHostPort(c.Device.Address); err != nil {
		errs = append(errs, fmt.Errorf("device.address: %w", err))
	}
	if _, _, err := net.SplitHostPort(c.Device.DataAddress); err != nil {
		errs = append(errs, fmt.Errorf("device.data_address: %w", err))
	}
	if !protocol.ValidSampleWidth(c.Device.SampleBits) {
		errs = append(errs, fmt.Errorf("device.sample_bits: %w: %d", protocol.ErrSampleWidth, c.Device.SampleBits))
	}
	if c.Device.FrequencyHz >= 1<<40 {
		errs = append(errs, fmt.Errorf("device.frequency_hz: %d does not fit in 40 bits", c.Device.FrequencyHz))
	}
	if c.Device.SampleRate == 0 {
		errs = append(errs, errors.New("device.sample_rate must be positive"))
	}
	if c.Device.RequestTimeout < 0 || c.Device.DialTimeout < 0 {
		errs = append(errs, errors.New("device timeouts must not be negative"))
	}
	if c.SSH.Port < 0 || c.SSH.Port > 65535 {
		errs = append(errs, fmt.Errorf("ssh.port: %d out of range", c.SSH.Port))
	}
	if _, err := sink.ParseKind(string(c.Sink.Kind)); err != nil {
		errs = append(errs, fmt.Errorf("sink.kind: %w", err))
	}
	if maxBits := c.Sink.Kind.MaxSampleBits(); c.Device.SampleBits > maxBits {
		errs = append(errs, fmt.Errorf("device.sample_bits: %d-bit samples do not fit the %d-bit %s sink", c.Device.SampleBits, maxBits, c.Sink.Kind))
	}
	if c.Sink.Kind == sink.KindRedis && c.Sink.RedisAddr == "" {
		errs = append(errs, errors.New("sink.redis_addr is required for the redis sink"))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		errs = append(errs, fmt.Errorf("log.format: %w", err))
	}
	if c.Telemetry.HistoryLimit < 0 || c.Telemetry.SpectrumSize < 0 {
		errs = append(errs, errors.New("telemetry sizes must not be negative"))
	}
	return errors.Join(errs...)
}

// TelemetryConfig converts the telemetry section for telemetry.NewHub.
func (c Config) TelemetryConfig() telemetry.Config {
	return telemetry.Config{
		SampleBits:   c.Device.SampleBits,
		SpectrumSize: c.Telemetry.SpectrumSize,
		HistoryLimit: c.Telemetry.HistoryLimit,
	}
}

type envReader struct {
	lookup LookupFunc
	errs   []error
}

func (e *envReader) get(name string) (string, bool) {
	if e.lookup == nil {
		return "", false
	}
	return e.lookup(EnvPrefix + name)
}

func (e *envReader) fail(name string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
}

func (e *envReader) setString(name string, dst *string) bool {
	v, ok := e.get(name)
	if ok {
		*dst = v
	}
	return ok
}

func (e *envReader) setInt(name string, dst *int) {
	if v, ok := e.get(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) parseUint(name string, bits int) (uint64, bool) {
	v, ok := e.get(name)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, bits)
	if err != nil {
		e.fail(name, err)
		return 0, false
	}
	return n, true
}

func (e *envReader) setUint64(name string, dst *uint64) {
	if n, ok := e.parseUint(name, 64); ok {
		*dst = n
	}
}

func (e *envReader) setUint32(name string, dst *uint32) {
	if n, ok := e.parseUint(name, 32); ok {
		*dst = uint32(n)
	}
}

func (e *envReader) setUint8(name string, dst *uint8) {
	if n, ok := e.parseUint(name, 8); ok {
		*dst = uint8(n)
	}
}

func (e *envReader) setBool(name string, dst *bool) {
	if v, ok := e.get(name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) setDuration(name string, dst *time.Duration) {
	if v, ok := e.get(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = d
	}
}
