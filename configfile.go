package occupd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML schema for a config file. Durations are written as
// Go duration strings ("30s", "1m30s").
type fileConfig struct {
	Listen               string  `yaml:"listen"`
	MetricsListen        string  `yaml:"metrics_listen"`
	Store                string  `yaml:"store"`
	Bus                  string  `yaml:"bus"`
	SheetCredentialsFile string  `yaml:"sheet_credentials"`
	LockTTL              string  `yaml:"lock_ttl"`
	RepairCycleLimit     int     `yaml:"repair_cycle_limit"`
	JSONMaxBytes         int64   `yaml:"json_max_bytes"`
	SSEHeartbeat         string  `yaml:"sse_heartbeat"`
	ShutdownTimeout      string  `yaml:"shutdown_timeout"`
	StoreRetryAttempts   int     `yaml:"store_retry_attempts"`
	StoreRetryBaseDelay  string  `yaml:"store_retry_base_delay"`
	StoreRetryMaxDelay   string  `yaml:"store_retry_max_delay"`
	StoreRetryMultiplier float64 `yaml:"store_retry_multiplier"`
}

// LoadConfigFile reads a YAML config file. Missing fields keep their zero
// values, so the result composes with Validate's defaulting.
func LoadConfigFile(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	var fc fileConfig
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Listen = fc.Listen
	cfg.MetricsListen = fc.MetricsListen
	cfg.Store = fc.Store
	cfg.Bus = fc.Bus
	cfg.SheetCredentialsFile = fc.SheetCredentialsFile
	cfg.RepairCycleLimit = fc.RepairCycleLimit
	cfg.JSONMaxBytes = fc.JSONMaxBytes
	cfg.StoreRetryMaxAttempts = fc.StoreRetryAttempts
	cfg.StoreRetryMultiplier = fc.StoreRetryMultiplier
	for _, d := range []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"lock_ttl", fc.LockTTL, &cfg.LockTTL},
		{"sse_heartbeat", fc.SSEHeartbeat, &cfg.SSEHeartbeat},
		{"shutdown_timeout", fc.ShutdownTimeout, &cfg.ShutdownTimeout},
		{"store_retry_base_delay", fc.StoreRetryBaseDelay, &cfg.StoreRetryBaseDelay},
		{"store_retry_max_delay", fc.StoreRetryMaxDelay, &cfg.StoreRetryMaxDelay},
	} {
		if strings.TrimSpace(d.value) == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return cfg, fmt.Errorf("config: %s: %w", d.name, err)
		}
		*d.dst = parsed
	}
	return cfg, nil
}
