package gatekeep

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds configuration for the engine and server.
type Config struct {
	// DatabaseURL is the PostgreSQL connection string. Empty selects the
	// in-memory store (development only).
	DatabaseURL string

	// ListenAddr is the HTTP listen address for the API server.
	ListenAddr string

	// Production enables fail-closed behaviour: checkpoint reads and
	// writes refuse to proceed without an encryption key.
	Production bool

	// EncryptionKey is the base64-encoded 32-byte AES-256 key for
	// checkpoint payloads. Never defaulted.
	EncryptionKey string

	// JWTSecret is the HMAC signing secret for the authorization gate.
	JWTSecret string

	// JWTIssuer is the required iss claim.
	JWTIssuer string

	// JWTAudience is the required aud claim.
	JWTAudience string

	// ApprovalTTL is how long a pending approval remains decidable
	// before the sweeper expires it.
	ApprovalTTL time.Duration

	// SweepInterval is how often the expiry sweeper runs.
	SweepInterval time.Duration

	// TaskMaxAttempts is the retry ceiling before dead-lettering.
	TaskMaxAttempts int

	// RetryBase is the base delay for exponential retry backoff.
	RetryBase time.Duration

	// Concurrency is the number of task worker goroutines.
	Concurrency int

	// PollInterval is how often workers poll for claimable tasks.
	PollInterval time.Duration

	// HeartbeatInterval is how often claimed tasks send heartbeats.
	HeartbeatInterval time.Duration

	// StaleClaimThreshold is how long a claimed task may go without a
	// heartbeat before the reaper returns it to pending.
	StaleClaimThreshold time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
// Security-sensitive fields (EncryptionKey, JWTSecret) have no default.
func DefaultConfig() Config {
	return Config{
		ListenAddr:          ":8080",
		JWTIssuer:           "zakops-auth",
		JWTAudience:         "zakops-agent",
		ApprovalTTL:         time.Hour,
		SweepInterval:       30 * time.Second,
		TaskMaxAttempts:     5,
		RetryBase:           30 * time.Second,
		Concurrency:         10,
		PollInterval:        time.Second,
		HeartbeatInterval:   10 * time.Second,
		StaleClaimThreshold: 5 * time.Minute,
		ShutdownTimeout:     30 * time.Second,
	}
}

// ConfigFromEnv builds a Config from GATEKEEP_* environment variables,
// starting from DefaultConfig.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	cfg.DatabaseURL = os.Getenv("GATEKEEP_DATABASE_URL")
	cfg.EncryptionKey = os.Getenv("GATEKEEP_CHECKPOINT_ENCRYPTION_KEY")
	cfg.JWTSecret = os.Getenv("GATEKEEP_JWT_SECRET")

	if v := os.Getenv("GATEKEEP_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("GATEKEEP_JWT_ISSUER"); v != "" {
		cfg.JWTIssuer = v
	}
	if v := os.Getenv("GATEKEEP_JWT_AUDIENCE"); v != "" {
		cfg.JWTAudience = v
	}
	if v := os.Getenv("GATEKEEP_PRODUCTION"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("gatekeep: parse GATEKEEP_PRODUCTION: %w", err)
		}
		cfg.Production = b
	}
	if v := os.Getenv("GATEKEEP_TASK_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return cfg, fmt.Errorf("gatekeep: invalid GATEKEEP_TASK_MAX_ATTEMPTS %q", v)
		}
		cfg.TaskMaxAttempts = n
	}
	if v := os.Getenv("GATEKEEP_RETRY_BASE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("gatekeep: parse GATEKEEP_RETRY_BASE: %w", err)
		}
		cfg.RetryBase = d
	}
	if v := os.Getenv("GATEKEEP_APPROVAL_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("gatekeep: parse GATEKEEP_APPROVAL_TTL: %w", err)
		}
		cfg.ApprovalTTL = d
	}

	return cfg, nil
}

// Validate checks invariants that cannot wait until first use.
// In production mode a missing encryption key fails closed here as well
// as at every checkpoint read and write.
func (c Config) Validate() error {
	if c.Production && c.EncryptionKey == "" {
		return ErrEncryptionKeyMissing
	}
	if c.TaskMaxAttempts < 1 {
		return fmt.Errorf("%w: task max attempts must be >= 1", ErrValidation)
	}
	return nil
}
