package main

import (
	"flag"
	"fmt"
)

// Config holds the certifier configuration.
type Config struct {
	// DataPath is the directory for persistent certificate storage.
	DataPath string

	// Signers is the number of simulated signing parties.
	Signers int

	// Epochs is the number of certification rounds to run.
	Epochs int

	// ThresholdNum and ThresholdDen form the quorum stake fraction.
	ThresholdNum uint64
	ThresholdDen uint64

	// SecurityParameter is the lottery index count per message.
	SecurityParameter uint64

	// StakeSeed seeds the simulated stake assignment for reproducibility.
	StakeSeed int64

	// Verbose enables debug logging.
	Verbose bool
}

// parseFlags parses command-line flags into Config.
func parseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.DataPath, "data", "./data", "Data directory path")
	flag.IntVar(&cfg.Signers, "signers", 16, "Number of simulated signers")
	flag.IntVar(&cfg.Epochs, "epochs", 3, "Number of certification rounds")
	flag.Uint64Var(&cfg.ThresholdNum, "threshold-num", 2, "Quorum threshold numerator")
	flag.Uint64Var(&cfg.ThresholdDen, "threshold-den", 3, "Quorum threshold denominator")
	flag.Uint64Var(&cfg.SecurityParameter, "security-parameter", 100, "Lottery index count per message")
	flag.Int64Var(&cfg.StakeSeed, "stake-seed", 42, "Seed for simulated stake assignment")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "Enable debug logging")
	flag.Parse()

	return cfg
}

// validate checks flag values before the run starts.
func (cfg *Config) validate() error {
	if cfg.Signers <= 0 {
		return fmt.Errorf("signers must be positive, got %d", cfg.Signers)
	}

	if cfg.Epochs <= 0 {
		return fmt.Errorf("epochs must be positive, got %d", cfg.Epochs)
	}

	if cfg.SecurityParameter == 0 {
		return fmt.Errorf("security parameter must be positive")
	}

	return nil
}
