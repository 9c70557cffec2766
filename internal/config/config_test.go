package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

var envKeys = []string{
	"NATS_URL", "TELEGRAM_SUBJECT", "NATS_QUEUE_GROUP", "REPUBLISH_SUBJECT_PREFIX",
	"TOPOLOGY_FILE", "STOPS_FILE", "DATABASE_URL", "PG_DSN", "HTTP_HOST", "HTTP_PORT",
	"WEBSOCKET_HOST", "METRICS_ADDR", "SUBSCRIBER_WRITE_TIMEOUT_MS",
	"SUBSCRIBER_READ_TIMEOUT_MS", "VEHICLE_TTL_SEC", "PENDING_MAX_AGE_SEC",
	"PENDING_MAX_DEPTH", "LOG_TELEGRAMS",
}

// clearEnv blanks every variable Load reads. An empty value counts as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	// no .env; equivalent of t.Chdir (Go 1.24+) for the go1.21 toolchain
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := Config{
		NATSURL:                "nats://127.0.0.1:4222",
		TelegramSubject:        "dvb.telegrams",
		QueueGroup:             "sink",
		TopologyFile:           "all.json",
		HTTPHost:               "127.0.0.1",
		HTTPPort:               9002,
		WebsocketHost:          "127.0.0.1:9001",
		SubscriberWriteTimeout: time.Second,
		SubscriberReadTimeout:  time.Second,
		VehicleTTL:             300 * time.Second,
		PendingMaxAge:          900 * time.Second,
		PendingMaxDepth:        64,
	}
	if *cfg != want {
		t.Errorf("Load() = %+v, want %+v", *cfg, want)
	}
	if got := cfg.HTTPAddr(); got != "127.0.0.1:9002" {
		t.Errorf("HTTPAddr() = %q", got)
	}
}

func TestLoadEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("STOPS_FILE", "stops.yaml")
	t.Setenv("HTTP_PORT", "8080")
	t.Setenv("SUBSCRIBER_WRITE_TIMEOUT_MS", "250")
	t.Setenv("VEHICLE_TTL_SEC", "60")
	t.Setenv("PENDING_MAX_DEPTH", "0")
	t.Setenv("LOG_TELEGRAMS", "yes")
	t.Setenv("REPUBLISH_SUBJECT_PREFIX", "sink.vehicles")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TopologyFile != "stops.yaml" {
		t.Errorf("TopologyFile = %q, want the STOPS_FILE alias", cfg.TopologyFile)
	}
	if cfg.HTTPPort != 8080 || cfg.SubscriberWriteTimeout != 250*time.Millisecond || cfg.VehicleTTL != time.Minute {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.PendingMaxDepth != 0 || !cfg.LogTelegrams || cfg.RepublishSubjectPrefix != "sink.vehicles" {
		t.Errorf("cfg = %+v", cfg)
	}

	t.Setenv("TOPOLOGY_FILE", "all.yaml")
	cfg, err = Load(nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TopologyFile != "all.yaml" {
		t.Errorf("TOPOLOGY_FILE should win over STOPS_FILE, got %q", cfg.TopologyFile)
	}
}

func TestLoadFlagsOverrideEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_PORT", "8080")
	t.Setenv("NATS_URL", "nats://env:4222")

	cfg, err := Load([]string{
		"--http-host", "0.0.0.0",
		"--http-port=9100",
		"--websocket-host", "0.0.0.0:9101",
		"--topology", "/etc/sink/all.yaml",
		"--nats-url", "nats://flag:4222",
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTPAddr() != "0.0.0.0:9100" || cfg.WebsocketHost != "0.0.0.0:9101" {
		t.Errorf("listen = %s / %s", cfg.HTTPAddr(), cfg.WebsocketHost)
	}
	if cfg.TopologyFile != "/etc/sink/all.yaml" || cfg.NATSURL != "nats://flag:4222" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		args []string
		want string
	}{
		{name: "port not a number", env: map[string]string{"HTTP_PORT": "http"}, want: "HTTP_PORT"},
		{name: "port out of range", args: []string{"--http-port", "70000"}, want: "HTTPPort"},
		{name: "negative depth", env: map[string]string{"PENDING_MAX_DEPTH": "-1"}, want: "PENDING_MAX_DEPTH"},
		{name: "zero write timeout", env: map[string]string{"SUBSCRIBER_WRITE_TIMEOUT_MS": "0"}, want: "SubscriberWriteTimeout"},
		{name: "websocket host without port", env: map[string]string{"WEBSOCKET_HOST": "localhost"}, want: "WebsocketHost"},
		{name: "unknown flag", args: []string{"--verbose"}, want: "verbose"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(tt.args)
			if err == nil {
				t.Fatal("Load() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want mention of %s", err, tt.want)
			}
		})
	}
}
