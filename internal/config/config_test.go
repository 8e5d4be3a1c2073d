package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"firestige.xyz/afring/pkg/tpacket"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return configPath
}

func TestLoadValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
afring:
  capture:
    interface: "eth0"
    bpf_filter: "udp port 5060"
    fanout_id: 42
    poll_timeout: "250ms"
    strict_version: true
  ring:
    block_size: 65536
    block_count: 64
    frame_size: 2048
    frame_count: 2048
    fill_rxhash: false
  output:
    pcap_file: "/tmp/out.pcap"
  log:
    level: "debug"
    format: "json"
  metrics:
    enabled: true
    listen: "127.0.0.1:9100"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Capture.Interface != "eth0" {
		t.Errorf("Expected interface eth0, got %s", cfg.Capture.Interface)
	}
	if cfg.Capture.FanoutID != 42 {
		t.Errorf("Expected fanout id 42, got %d", cfg.Capture.FanoutID)
	}
	if !cfg.Capture.StrictVersion {
		t.Error("Expected strict_version true")
	}
	if d, _ := cfg.Capture.PollTimeoutDuration(); d != 250*time.Millisecond {
		t.Errorf("Expected poll timeout 250ms, got %v", d)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Unexpected log config: %+v", cfg.Log)
	}
	if cfg.Output.PcapFile != "/tmp/out.pcap" {
		t.Errorf("Expected pcap file /tmp/out.pcap, got %s", cfg.Output.PcapFile)
	}

	req, err := cfg.Ring.Request(4096)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	want := tpacket.RingRequest{
		BlockSize:     65536,
		BlockCount:    64,
		FrameSize:     2048,
		FrameCount:    2048,
		RetireTimeout: 100,
	}
	if req != want {
		t.Errorf("Expected request %+v, got %+v", want, req)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load defaults: %v", err)
	}

	req, err := cfg.Ring.Request(4096)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if req != tpacket.DefaultRingRequest() {
		t.Errorf("Expected default request, got %+v", req)
	}
	if d, _ := cfg.Capture.StatsIntervalDuration(); d != 5*time.Second {
		t.Errorf("Expected stats interval 5s, got %v", d)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Expected log level info, got %s", cfg.Log.Level)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("AFRING_CAPTURE_INTERFACE", "lo")
	t.Setenv("AFRING_LOG_LEVEL", "warn")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Capture.Interface != "lo" {
		t.Errorf("Expected interface lo from env, got %s", cfg.Capture.Interface)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Expected log level warn from env, got %s", cfg.Log.Level)
	}
}

func TestLoadSizedRing(t *testing.T) {
	configPath := writeConfig(t, `
afring:
  ring:
    buffer_size_mb: 64
    snap_len: 1500
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	req, err := cfg.Ring.Request(4096)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if err := req.Validate(); err != nil {
		t.Errorf("Sized request invalid: %v", err)
	}
	if req.FeatureReq != tpacket.FeatureReqFillRxHash {
		t.Errorf("Expected rxhash feature kept, got %d", req.FeatureReq)
	}
	if req.RingSize() > 64*1024*1024 {
		t.Errorf("Ring of %d bytes exceeds budget", req.RingSize())
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"log level", `
afring:
  log:
    level: "invalid"
`},
		{"log format", `
afring:
  log:
    format: "xml"
`},
		{"poll timeout", `
afring:
  capture:
    poll_timeout: "soon"
`},
		{"ring invariant", `
afring:
  ring:
    frame_count: 1
`},
		{"snap len", `
afring:
  ring:
    buffer_size_mb: 16
    snap_len: 0
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if !errors.Is(err, ErrConfigInvalid) {
				t.Errorf("Expected ErrConfigInvalid, got %v", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	if err == nil {
		t.Error("Expected error for missing config file")
	}
}
