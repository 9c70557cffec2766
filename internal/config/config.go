package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

type Config struct {
	NATSURL                string `validate:"required"`
	TelegramSubject        string `validate:"required"`
	QueueGroup             string
	RepublishSubjectPrefix string // empty disables re-publishing
	TopologyFile           string `validate:"required"`
	DatabaseURL            string // optional point metadata source
	HTTPHost               string `validate:"required"`
	HTTPPort               int    `validate:"gt=0,lte=65535"`
	WebsocketHost          string `validate:"required,hostname_port"`
	MetricsAddr            string // e.g. ":9102"; empty disables the metrics server

	SubscriberWriteTimeout time.Duration `validate:"gt=0"`
	SubscriberReadTimeout  time.Duration `validate:"gt=0"`
	VehicleTTL             time.Duration `validate:"gt=0"`
	PendingMaxAge          time.Duration `validate:"gte=0"`
	PendingMaxDepth        int           `validate:"gte=0"`
	LogTelegrams           bool
}

// HTTPAddr is the listen address of the query server.
func (c *Config) HTTPAddr() string {
	return net.JoinHostPort(c.HTTPHost, strconv.Itoa(c.HTTPPort))
}

// Load reads .env, the environment and then the command-line flags in
// args (without the program name). Flags override the environment.
func Load(args []string) (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{
		NATSURL:                getenvDefault("NATS_URL", "nats://127.0.0.1:4222"),
		TelegramSubject:        getenvDefault("TELEGRAM_SUBJECT", "dvb.telegrams"),
		QueueGroup:             getenvDefault("NATS_QUEUE_GROUP", "sink"),
		RepublishSubjectPrefix: os.Getenv("REPUBLISH_SUBJECT_PREFIX"),
		TopologyFile:           firstNonEmpty(os.Getenv("TOPOLOGY_FILE"), os.Getenv("STOPS_FILE"), "all.json"),
		DatabaseURL:            firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN")),
		HTTPHost:               getenvDefault("HTTP_HOST", "127.0.0.1"),
		WebsocketHost:          getenvDefault("WEBSOCKET_HOST", "127.0.0.1:9001"),
		MetricsAddr:            os.Getenv("METRICS_ADDR"),
		LogTelegrams:           parseBool(os.Getenv("LOG_TELEGRAMS")),
	}

	var err error
	if cfg.HTTPPort, err = intEnv("HTTP_PORT", 9002); err != nil {
		return nil, err
	}
	if cfg.SubscriberWriteTimeout, err = durationEnv("SUBSCRIBER_WRITE_TIMEOUT_MS", time.Millisecond, time.Second); err != nil {
		return nil, err
	}
	if cfg.SubscriberReadTimeout, err = durationEnv("SUBSCRIBER_READ_TIMEOUT_MS", time.Millisecond, time.Second); err != nil {
		return nil, err
	}
	if cfg.VehicleTTL, err = durationEnv("VEHICLE_TTL_SEC", time.Second, 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.PendingMaxAge, err = durationEnv("PENDING_MAX_AGE_SEC", time.Second, 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.PendingMaxDepth, err = intEnv("PENDING_MAX_DEPTH", 64); err != nil {
		return nil, err
	}

	fs := pflag.NewFlagSet("sink", pflag.ContinueOnError)
	fs.StringVar(&cfg.HTTPHost, "http-host", cfg.HTTPHost, "query server host")
	fs.IntVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "query server port")
	fs.StringVar(&cfg.WebsocketHost, "websocket-host", cfg.WebsocketHost, "websocket listen address (host:port)")
	fs.StringVar(&cfg.TopologyFile, "topology", cfg.TopologyFile, "topology file (.json, .yaml)")
	fs.StringVar(&cfg.NATSURL, "nats-url", cfg.NATSURL, "NATS server URL")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	}
	return false
}

func intEnv(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return n, nil
}

// durationEnv reads an integer count of unit.
func durationEnv(k string, unit, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return time.Duration(n) * unit, nil
}
