package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAddr is the default TCP address the experiment server listens on.
	DefaultAddr = ":43127"
	// DefaultPingInterval controls the keepalive cadence for participant WebSocket connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes limits inbound WebSocket frame size.
	DefaultMaxPayloadBytes int64 = 64 << 10
	// DefaultMaxSessions bounds concurrently running experiment sessions. Zero disables the limit.
	DefaultMaxSessions = 32

	// DefaultTickHz is the real-time rate at which sessions are advanced.
	DefaultTickHz = 50.0
	// DefaultSnapshotHz is the rate at which world snapshots are pushed to participants.
	DefaultSnapshotHz = 10.0

	// DefaultBundleDir is where per-session experiment bundles are written.
	DefaultBundleDir = "bundles"
	// DefaultResultsDir is where the gRPC collector persists received submissions.
	DefaultResultsDir = "results"
	// DefaultBundleMaxAge controls how long finished bundles are kept on disk.
	DefaultBundleMaxAge = 30 * 24 * time.Hour

	// DefaultResumeTTL bounds how long a participant may reconnect to an interrupted session.
	DefaultResumeTTL = 2 * time.Hour
	// DefaultInputRate caps inbound participant messages per second on a single connection.
	DefaultInputRate = 120.0

	// GRPCAuthModeNone leaves the results collector unauthenticated (local studies only).
	GRPCAuthModeNone = "none"
	// GRPCAuthModeSharedSecret requires submitters to present a shared secret in metadata.
	GRPCAuthModeSharedSecret = "shared_secret"
	// GRPCAuthModeMTLS requires submitters to present a client certificate.
	GRPCAuthModeMTLS = "mtls"

	// DefaultLogLevel controls verbosity for server logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "chicken.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// Config captures all runtime tunables for the experiment server.
type Config struct {
	Address         string
	AllowedOrigins  []string
	MaxPayloadBytes int64
	PingInterval    time.Duration
	MaxSessions     int
	TickHz          float64
	SnapshotHz      float64
	BundleDir       string
	BundleMaxAge    time.Duration
	SubmitURL       string
	SubmitGRPC      string
	GRPCAddr        string
	ResultsDir      string

	GRPCAuthMode       string
	GRPCSharedSecret   string
	GRPCServerCertPath string
	GRPCServerKeyPath  string
	GRPCClientCAPath   string

	ResumeSecret string
	ResumeTTL    time.Duration
	InputRate    float64

	ProtocolPath string
	AdminToken   string
	Debug        bool
	Seed         int64
	SeedSet      bool
	Logging      LoggingConfig
	Protocol     Protocol
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load reads the server configuration from environment variables, applying sane defaults
// and returning descriptive errors for invalid overrides. The experiment protocol is read
// from CHICKEN_PROTOCOL_PATH when set, otherwise the built-in protocol is used.
func Load() (*Config, error) {
	cfg := &Config{
		Address:            getString("CHICKEN_ADDR", DefaultAddr),
		AllowedOrigins:     parseList(os.Getenv("CHICKEN_ALLOWED_ORIGINS")),
		MaxPayloadBytes:    DefaultMaxPayloadBytes,
		PingInterval:       DefaultPingInterval,
		MaxSessions:        DefaultMaxSessions,
		TickHz:             DefaultTickHz,
		SnapshotHz:         DefaultSnapshotHz,
		BundleDir:          getString("CHICKEN_BUNDLE_DIR", DefaultBundleDir),
		BundleMaxAge:       DefaultBundleMaxAge,
		SubmitURL:          strings.TrimSpace(os.Getenv("CHICKEN_SUBMIT_URL")),
		SubmitGRPC:         strings.TrimSpace(os.Getenv("CHICKEN_SUBMIT_GRPC")),
		GRPCAddr:           strings.TrimSpace(os.Getenv("CHICKEN_GRPC_ADDR")),
		ResultsDir:         getString("CHICKEN_RESULTS_DIR", DefaultResultsDir),
		ProtocolPath:       strings.TrimSpace(os.Getenv("CHICKEN_PROTOCOL_PATH")),
		GRPCAuthMode:       strings.ToLower(getString("CHICKEN_GRPC_AUTH_MODE", GRPCAuthModeNone)),
		GRPCSharedSecret:   strings.TrimSpace(os.Getenv("CHICKEN_GRPC_SHARED_SECRET")),
		GRPCServerCertPath: strings.TrimSpace(os.Getenv("CHICKEN_GRPC_SERVER_CERT")),
		GRPCServerKeyPath:  strings.TrimSpace(os.Getenv("CHICKEN_GRPC_SERVER_KEY")),
		GRPCClientCAPath:   strings.TrimSpace(os.Getenv("CHICKEN_GRPC_CLIENT_CA")),
		AdminToken:         strings.TrimSpace(os.Getenv("CHICKEN_ADMIN_TOKEN")),
		ResumeSecret:       strings.TrimSpace(os.Getenv("CHICKEN_RESUME_SECRET")),
		ResumeTTL:          DefaultResumeTTL,
		InputRate:          DefaultInputRate,
		Logging: LoggingConfig{
			Level:      strings.TrimSpace(getString("CHICKEN_LOG_LEVEL", DefaultLogLevel)),
			Path:       strings.TrimSpace(getString("CHICKEN_LOG_PATH", DefaultLogPath)),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
		Protocol: DefaultProtocol(),
	}

	var problems []string

	if raw := strings.TrimSpace(os.Getenv("CHICKEN_MAX_PAYLOAD_BYTES")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("CHICKEN_MAX_PAYLOAD_BYTES must be a positive integer, got %q", raw))
		} else {
			cfg.MaxPayloadBytes = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CHICKEN_PING_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("CHICKEN_PING_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.PingInterval = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CHICKEN_MAX_SESSIONS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("CHICKEN_MAX_SESSIONS must be a non-negative integer, got %q", raw))
		} else {
			cfg.MaxSessions = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CHICKEN_TICK_HZ")); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("CHICKEN_TICK_HZ must be a positive number, got %q", raw))
		} else {
			cfg.TickHz = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CHICKEN_SNAPSHOT_HZ")); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("CHICKEN_SNAPSHOT_HZ must be a positive number, got %q", raw))
		} else {
			cfg.SnapshotHz = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CHICKEN_BUNDLE_MAX_AGE")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration < 0 {
			problems = append(problems, fmt.Sprintf("CHICKEN_BUNDLE_MAX_AGE must be a non-negative duration, got %q", raw))
		} else {
			cfg.BundleMaxAge = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CHICKEN_RESUME_TTL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("CHICKEN_RESUME_TTL must be a positive duration, got %q", raw))
		} else {
			cfg.ResumeTTL = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CHICKEN_INPUT_RATE")); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("CHICKEN_INPUT_RATE must be a positive number, got %q", raw))
		} else {
			cfg.InputRate = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CHICKEN_DEBUG")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("CHICKEN_DEBUG must be a boolean value, got %q", raw))
		} else {
			cfg.Debug = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CHICKEN_SEED")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			problems = append(problems, fmt.Sprintf("CHICKEN_SEED must be an integer, got %q", raw))
		} else {
			cfg.Seed = value
			cfg.SeedSet = true
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CHICKEN_LOG_MAX_SIZE_MB")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("CHICKEN_LOG_MAX_SIZE_MB must be a positive integer, got %q", raw))
		} else {
			cfg.Logging.MaxSizeMB = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CHICKEN_LOG_MAX_BACKUPS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("CHICKEN_LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxBackups = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CHICKEN_LOG_MAX_AGE_DAYS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("CHICKEN_LOG_MAX_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxAgeDays = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CHICKEN_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("CHICKEN_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	switch cfg.GRPCAuthMode {
	case GRPCAuthModeNone:
	case GRPCAuthModeSharedSecret:
		if cfg.GRPCSharedSecret == "" {
			problems = append(problems, "CHICKEN_GRPC_SHARED_SECRET must be set when CHICKEN_GRPC_AUTH_MODE=shared_secret")
		}
	case GRPCAuthModeMTLS:
		if cfg.GRPCServerCertPath == "" || cfg.GRPCServerKeyPath == "" || cfg.GRPCClientCAPath == "" {
			problems = append(problems, "CHICKEN_GRPC_SERVER_CERT, CHICKEN_GRPC_SERVER_KEY and CHICKEN_GRPC_CLIENT_CA must be set when CHICKEN_GRPC_AUTH_MODE=mtls")
		}
	default:
		problems = append(problems, fmt.Sprintf("CHICKEN_GRPC_AUTH_MODE must be one of none, shared_secret, mtls, got %q", cfg.GRPCAuthMode))
	}

	if cfg.ProtocolPath != "" {
		protocol, err := LoadProtocol(cfg.ProtocolPath)
		if err != nil {
			problems = append(problems, fmt.Sprintf("CHICKEN_PROTOCOL_PATH: %v", err))
		} else {
			cfg.Protocol = protocol
		}
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(problems, "; "))
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}
