// Package config holds the recognized configuration options
// and a thin viper-backed loader. Loading itself is an external-collaborator
// concern; this package exists so cmd/replicated is runnable.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/moisa13/file-copy/internal/hash"
)

// Config is the recognized option set, plus the operational knobs the
// scheduler and store need that aren't part of the external contract
// (poll/idle intervals, claim lease, shutdown timeout).
type Config struct {
	WorkerDefaultCount int
	WorkerMaxCount     int
	DatabasePath       string
	HashAlgorithm      hash.Algorithm
	CopyBufferSize     int
	ScanIgnorePatterns []string
	ScanRecursive      bool

	ClaimBatchLimit         int
	ActiveInterval          time.Duration
	IdleInterval            time.Duration
	ClaimLease              time.Duration
	GracefulShutdownTimeout time.Duration
	FolderStatsTTL          time.Duration

	// FastPathDedup enables an opt-in scanner fast path: pre-existing
	// same-size destinations are marked completed without a hash check.
	// Off by default.
	FastPathDedup bool

	Development bool
}

// Default returns the service's out-of-the-box configuration.
func Default() Config {
	return Config{
		WorkerDefaultCount:      2,
		WorkerMaxCount:          16,
		DatabasePath:            "./replicated.db",
		HashAlgorithm:           hash.SHA256,
		CopyBufferSize:          32 * 1024,
		ScanRecursive:           true,
		ClaimBatchLimit:         50,
		ActiveInterval:          200 * time.Millisecond,
		IdleInterval:            time.Second,
		ClaimLease:              2 * time.Minute,
		GracefulShutdownTimeout: 30 * time.Second,
		FolderStatsTTL:          2 * time.Second,
		FastPathDedup:           false,
	}
}

// FromViper loads a Config from flags/env via viper, falling back to
// Default() for anything unset. v is typically a *viper.Viper that the
// caller has already bound to a pflag.FlagSet in cmd/replicated.
func FromViper(v *viper.Viper) (Config, error) {
	cfg := Default()

	if v.IsSet("worker-default-count") {
		cfg.WorkerDefaultCount = v.GetInt("worker-default-count")
	}
	if v.IsSet("worker-max-count") {
		cfg.WorkerMaxCount = v.GetInt("worker-max-count")
	}
	if v.IsSet("database-path") {
		cfg.DatabasePath = v.GetString("database-path")
	}
	if v.IsSet("hash-algorithm") {
		cfg.HashAlgorithm = hash.Algorithm(v.GetString("hash-algorithm"))
	}
	if v.IsSet("copy-buffer-size") {
		cfg.CopyBufferSize = v.GetInt("copy-buffer-size")
	}
	if v.IsSet("scan-ignore-patterns") {
		cfg.ScanIgnorePatterns = v.GetStringSlice("scan-ignore-patterns")
	}
	if v.IsSet("scan-recursive") {
		cfg.ScanRecursive = v.GetBool("scan-recursive")
	}
	if v.IsSet("fast-path-dedup") {
		cfg.FastPathDedup = v.GetBool("fast-path-dedup")
	}
	if v.IsSet("development") {
		cfg.Development = v.GetBool("development")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate rejects configurations the rest of the system cannot honor.
func (c Config) Validate() error {
	if c.WorkerDefaultCount < 1 {
		return fmt.Errorf("config: worker-default-count must be >= 1, got %d", c.WorkerDefaultCount)
	}
	if c.WorkerMaxCount < c.WorkerDefaultCount {
		return fmt.Errorf("config: worker-max-count (%d) must be >= worker-default-count (%d)", c.WorkerMaxCount, c.WorkerDefaultCount)
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("config: database-path must not be empty")
	}
	switch c.HashAlgorithm {
	case hash.SHA256, hash.XXHash64, hash.XXHash3:
	default:
		return fmt.Errorf("config: unrecognized hash-algorithm %q", c.HashAlgorithm)
	}
	if c.CopyBufferSize < 1024 {
		return fmt.Errorf("config: copy-buffer-size must be >= 1024, got %d", c.CopyBufferSize)
	}

	return nil
}
