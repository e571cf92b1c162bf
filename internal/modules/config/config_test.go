package config

import (
	"os"
	"testing"
)

func TestSplitEndpoints(t *testing.T) {
	cases := []struct {
		raw  string
		want []string
	}{
		{"wss://a,wss://b", []string{"wss://a", "wss://b"}},
		{" wss://a/ , wss://b ", []string{"wss://a", "wss://b"}},
		{"wss://a,wss://a,wss://b", []string{"wss://a", "wss://b"}},
		{"wss://a,,", []string{"wss://a"}},
		{"", nil},
	}
	for _, c := range cases {
		got := splitEndpoints(c.raw)
		if len(got) != len(c.want) {
			t.Fatalf("splitEndpoints(%q) = %v, want %v", c.raw, got, c.want)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Fatalf("splitEndpoints(%q) = %v, want %v", c.raw, got, c.want)
			}
		}
	}
}

func TestNewConfigDefaults(t *testing.T) {
	for _, key := range []string{"CONFIG_FILE", "DATABASE_DSN", "WS_ENDPOINTS", "REST_BASE_URL", "HEARTBEAT_INTERVAL", "REST_POLL_INTERVAL", "LOG_LEVEL", "HEALTH_ADDR"} {
		_ = os.Unsetenv(key)
	}

	cfg, err := NewConfig()
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	if len(cfg.WSEndpoints) != 2 || cfg.WSEndpoints[0] != "wss://stream.binance.com:9443" {
		t.Fatalf("ws endpoints = %v", cfg.WSEndpoints)
	}
	if cfg.RestBaseURL != "https://api.binance.com" {
		t.Fatalf("rest base = %q", cfg.RestBaseURL)
	}
	if cfg.HeartbeatInterval.Seconds() != 30 || cfg.RestPollInterval.Seconds() != 10 {
		t.Fatalf("intervals: heartbeat=%s poll=%s", cfg.HeartbeatInterval, cfg.RestPollInterval)
	}
	if cfg.LogLevel != "info" || cfg.HealthAddr != ":8080" {
		t.Fatalf("log=%q health=%q", cfg.LogLevel, cfg.HealthAddr)
	}
}
