// Package config handles global configuration loading using viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/afring/internal/ring"
	"firestige.xyz/afring/pkg/tpacket"
)

// ErrConfigInvalid wraps every validation failure.
var ErrConfigInvalid = errors.New("afring: invalid configuration")

// GlobalConfig represents the top-level configuration.
// Maps to the `afring:` root key in YAML.
type GlobalConfig struct {
	Capture CaptureConfig `mapstructure:"capture"`
	Ring    RingConfig    `mapstructure:"ring"`
	Output  OutputConfig  `mapstructure:"output"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     LogConfig     `mapstructure:"log"`
}

// ─── Capture ───

// CaptureConfig selects the interface and how the ring is polled.
type CaptureConfig struct {
	Interface     string `mapstructure:"interface"`
	BPFFilter     string `mapstructure:"bpf_filter"`
	FanoutID      uint16 `mapstructure:"fanout_id"` // 0 = no fanout group
	PollTimeout   string `mapstructure:"poll_timeout"`
	StatsInterval string `mapstructure:"stats_interval"`
	StrictVersion bool   `mapstructure:"strict_version"` // reject blocks not tagged TPACKET_V3
	MaxPackets    int    `mapstructure:"max_packets"`    // 0 = unlimited
}

// ─── Ring geometry ───

// RingConfig mirrors tpacket_req3. When BufferSizeMB is set the geometry is
// derived from it and SnapLen instead of the explicit fields.
type RingConfig struct {
	BufferSizeMB  int    `mapstructure:"buffer_size_mb"`
	SnapLen       int    `mapstructure:"snap_len"`
	BlockSize     uint32 `mapstructure:"block_size"`
	BlockCount    uint32 `mapstructure:"block_count"`
	FrameSize     uint32 `mapstructure:"frame_size"`
	FrameCount    uint32 `mapstructure:"frame_count"`
	RetireTimeout uint32 `mapstructure:"retire_timeout_ms"`
	PrivSize      uint32 `mapstructure:"priv_size"`
	FillRxHash    bool   `mapstructure:"fill_rxhash"`
}

// ─── Output ───

// OutputConfig selects what happens to captured frames.
type OutputConfig struct {
	PcapFile string `mapstructure:"pcap_file"` // empty = no pcap output
	Summary  bool   `mapstructure:"summary"`   // log per-packet metadata
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug / info / warn / error
	Format  string           `mapstructure:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains log output destinations besides stdout.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Loading ───

type configRoot struct {
	Afring GlobalConfig `mapstructure:"afring"`
}

// Load loads configuration from file. An empty path yields defaults plus
// environment overrides (e.g. AFRING_CAPTURE_INTERFACE).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Afring

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default values. Every key is registered so AutomaticEnv
// can override it.
func setDefaults(v *viper.Viper) {
	req := tpacket.DefaultRingRequest()

	v.SetDefault("afring.capture.interface", "")
	v.SetDefault("afring.capture.bpf_filter", "")
	v.SetDefault("afring.capture.fanout_id", 0)
	v.SetDefault("afring.capture.poll_timeout", "100ms")
	v.SetDefault("afring.capture.stats_interval", "5s")
	v.SetDefault("afring.capture.strict_version", false)
	v.SetDefault("afring.capture.max_packets", 0)

	v.SetDefault("afring.ring.buffer_size_mb", 0)
	v.SetDefault("afring.ring.snap_len", 65535)
	v.SetDefault("afring.ring.block_size", req.BlockSize)
	v.SetDefault("afring.ring.block_count", req.BlockCount)
	v.SetDefault("afring.ring.frame_size", req.FrameSize)
	v.SetDefault("afring.ring.frame_count", req.FrameCount)
	v.SetDefault("afring.ring.retire_timeout_ms", req.RetireTimeout)
	v.SetDefault("afring.ring.priv_size", req.PrivSize)
	v.SetDefault("afring.ring.fill_rxhash", true)

	v.SetDefault("afring.output.pcap_file", "")
	v.SetDefault("afring.output.summary", false)

	v.SetDefault("afring.metrics.enabled", false)
	v.SetDefault("afring.metrics.listen", ":9091")
	v.SetDefault("afring.metrics.path", "/metrics")

	v.SetDefault("afring.log.level", "info")
	v.SetDefault("afring.log.format", "text")
	v.SetDefault("afring.log.outputs.file.enabled", false)
	v.SetDefault("afring.log.outputs.file.path", "/var/log/afring/afring.log")
	v.SetDefault("afring.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("afring.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("afring.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("afring.log.outputs.file.rotation.compress", true)
}

// ValidateAndApplyDefaults validates configuration. The capture interface
// is checked by the capture command, since decode and validate run without
// one.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: log level %q (must be debug/info/warn/error)", ErrConfigInvalid, cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("%w: log format %q (must be json/text)", ErrConfigInvalid, cfg.Log.Format)
	}
	if cfg.Log.Outputs.File.Enabled && cfg.Log.Outputs.File.Path == "" {
		return fmt.Errorf("%w: log.outputs.file.path is required when file output is enabled", ErrConfigInvalid)
	}

	if _, err := cfg.Capture.PollTimeoutDuration(); err != nil {
		return err
	}
	if _, err := cfg.Capture.StatsIntervalDuration(); err != nil {
		return err
	}
	if cfg.Capture.MaxPackets < 0 {
		return fmt.Errorf("%w: capture.max_packets must not be negative", ErrConfigInvalid)
	}

	if cfg.Ring.BufferSizeMB < 0 {
		return fmt.Errorf("%w: ring.buffer_size_mb must not be negative", ErrConfigInvalid)
	}
	if cfg.Ring.BufferSizeMB == 0 {
		if err := cfg.Ring.explicitRequest().Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrConfigInvalid, err)
		}
	} else if cfg.Ring.SnapLen <= 0 {
		return fmt.Errorf("%w: ring.snap_len must be positive when buffer_size_mb is set", ErrConfigInvalid)
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("%w: metrics.listen is required when metrics are enabled", ErrConfigInvalid)
	}
	return nil
}

// PollTimeoutDuration parses PollTimeout.
func (c CaptureConfig) PollTimeoutDuration() (time.Duration, error) {
	return parsePositiveDuration("capture.poll_timeout", c.PollTimeout)
}

// StatsIntervalDuration parses StatsInterval.
func (c CaptureConfig) StatsIntervalDuration() (time.Duration, error) {
	return parsePositiveDuration("capture.stats_interval", c.StatsInterval)
}

func parsePositiveDuration(key, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrConfigInvalid, key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: %s must be positive, got %s", ErrConfigInvalid, key, s)
	}
	return d, nil
}

// Request resolves the ring request, sizing it from BufferSizeMB when set.
func (r RingConfig) Request(pageSize int) (tpacket.RingRequest, error) {
	if r.BufferSizeMB == 0 {
		req := r.explicitRequest()
		return req, req.Validate()
	}
	req, err := ring.RequestForBuffer(r.BufferSizeMB, r.SnapLen, pageSize)
	if err != nil {
		return tpacket.RingRequest{}, err
	}
	req.RetireTimeout = r.RetireTimeout
	req.PrivSize = r.PrivSize
	req.FeatureReq = r.featureReq()
	return req, nil
}

func (r RingConfig) explicitRequest() tpacket.RingRequest {
	return tpacket.RingRequest{
		BlockSize:     r.BlockSize,
		BlockCount:    r.BlockCount,
		FrameSize:     r.FrameSize,
		FrameCount:    r.FrameCount,
		RetireTimeout: r.RetireTimeout,
		PrivSize:      r.PrivSize,
		FeatureReq:    r.featureReq(),
	}
}

func (r RingConfig) featureReq() uint32 {
	if r.FillRxHash {
		return tpacket.FeatureReqFillRxHash
	}
	return 0
}
