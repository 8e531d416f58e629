package occupd

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Defaults applied by Config.Validate.
const (
	DefaultListen           = ":9650"
	DefaultStore            = "mem://"
	DefaultBus              = "mem://"
	DefaultLockTTL          = 30 * time.Second
	DefaultRepairCycleLimit = 3
	DefaultJSONMaxBytes     = 1 << 20
	DefaultSSEHeartbeat     = 15 * time.Second
	DefaultShutdownTimeout  = 10 * time.Second

	DefaultStoreRetryMaxAttempts = 3
	DefaultStoreRetryBaseDelay   = 100 * time.Millisecond
	DefaultStoreRetryMaxDelay    = 2 * time.Second
	DefaultStoreRetryMultiplier  = 2.0
)

// Config carries the server configuration.
type Config struct {
	// Listen is the server bind address (for example ":9650").
	Listen string
	// MetricsListen is the metrics endpoint bind address; empty disables metrics.
	MetricsListen string
	// Store is the unit store DSN (mem:// or sheet://<spreadsheet-id>).
	Store string
	// Bus is the event bus DSN (mem:// or nats://host:4222/subject).
	Bus string
	// SheetCredentialsFile points at the Google service-account JSON used
	// by sheet:// stores; empty falls back to application default
	// credentials.
	SheetCredentialsFile string
	// LockTTL is the crash backstop on unit locks, not a work-session
	// duration.
	LockTTL time.Duration
	// RepairCycleLimit is the reject-after-repair count that blocks a unit.
	RepairCycleLimit int
	// JSONMaxBytes caps incoming JSON payload size.
	JSONMaxBytes int64
	// SSEHeartbeat is the keep-alive interval on the event stream.
	SSEHeartbeat time.Duration
	// ShutdownTimeout bounds graceful drain on Shutdown.
	ShutdownTimeout time.Duration

	// StoreRetryMaxAttempts bounds retries of transient store failures.
	StoreRetryMaxAttempts int
	// StoreRetryBaseDelay is the initial retry backoff delay.
	StoreRetryBaseDelay time.Duration
	// StoreRetryMaxDelay caps the retry backoff delay.
	StoreRetryMaxDelay time.Duration
	// StoreRetryMultiplier is the backoff growth factor.
	StoreRetryMultiplier float64
}

// Validate normalizes the configuration, applying defaults for zero values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		c.Listen = DefaultListen
	}
	if strings.TrimSpace(c.Store) == "" {
		c.Store = DefaultStore
	}
	if strings.TrimSpace(c.Bus) == "" {
		c.Bus = DefaultBus
	}
	for _, dsn := range []struct {
		name  string
		value string
	}{
		{"store", c.Store},
		{"bus", c.Bus},
	} {
		if _, err := url.Parse(dsn.value); err != nil {
			return fmt.Errorf("config: invalid %s dsn %q: %w", dsn.name, dsn.value, err)
		}
	}
	if c.LockTTL <= 0 {
		c.LockTTL = DefaultLockTTL
	}
	if c.RepairCycleLimit <= 0 {
		c.RepairCycleLimit = DefaultRepairCycleLimit
	}
	if c.JSONMaxBytes <= 0 {
		c.JSONMaxBytes = DefaultJSONMaxBytes
	}
	if c.SSEHeartbeat <= 0 {
		c.SSEHeartbeat = DefaultSSEHeartbeat
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.StoreRetryMaxAttempts <= 0 {
		c.StoreRetryMaxAttempts = DefaultStoreRetryMaxAttempts
	}
	if c.StoreRetryBaseDelay <= 0 {
		c.StoreRetryBaseDelay = DefaultStoreRetryBaseDelay
	}
	if c.StoreRetryMaxDelay <= 0 {
		c.StoreRetryMaxDelay = DefaultStoreRetryMaxDelay
	}
	if c.StoreRetryMultiplier <= 1 {
		c.StoreRetryMultiplier = DefaultStoreRetryMultiplier
	}
	return nil
}
