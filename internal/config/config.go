// Package config loads the proof coordinator service configuration from a
// TOML file.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the coordinator service configuration.
type Config struct {
	Coordinator CoordinatorConfig `toml:"coordinator"`
	Keeper      KeeperConfig      `toml:"keeper"`
}

// CoordinatorConfig configures the prover coordinator.
type CoordinatorConfig struct {
	ListenAddr    string   `toml:"listen_addr"`
	StorePath     string   `toml:"store_path"`
	ProverTimeout duration `toml:"prover_timeout"`
	PollInterval  duration `toml:"poll_interval"`
	SweepInterval duration `toml:"sweep_interval"`

	MaxBlockBatchSize   int     `toml:"max_block_batch_size"`
	IdleProvers         int     `toml:"idle_provers"`
	JobsPerProver       int     `toml:"jobs_per_prover"`
	MaxProverReplicas   int     `toml:"max_prover_replicas"`
	GetJobRatePerSecond float64 `toml:"get_job_rate_per_second"`
}

// KeeperConfig configures block formation.
type KeeperConfig struct {
	FeeAccount     uint32 `toml:"fee_account"`
	CapacityChunks int    `toml:"capacity_chunks"`
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Coordinator: CoordinatorConfig{
			ListenAddr:          ":8088",
			StorePath:           "prover.db",
			ProverTimeout:       duration{5 * time.Minute},
			PollInterval:        duration{time.Second},
			SweepInterval:       duration{10 * time.Second},
			MaxBlockBatchSize:   10,
			IdleProvers:         1,
			JobsPerProver:       2,
			MaxProverReplicas:   16,
			GetJobRatePerSecond: 2,
		},
		Keeper: KeeperConfig{
			FeeAccount:     0,
			CapacityChunks: 320,
		},
	}
}

// Load reads a TOML config file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config %s: %w", path, err)
	}
	if cfg.Keeper.CapacityChunks < 1 {
		return cfg, fmt.Errorf("capacity_chunks must be positive")
	}
	return cfg, nil
}

// Timeout returns the lease duration.
func (c CoordinatorConfig) Timeout() time.Duration { return c.ProverTimeout.Duration }

// Poll returns the job generation interval.
func (c CoordinatorConfig) Poll() time.Duration { return c.PollInterval.Duration }

// Sweep returns the stale-lease sweep interval.
func (c CoordinatorConfig) Sweep() time.Duration { return c.SweepInterval.Duration }
