package main

import (
	"fmt"
	"log/slog"
	"os"

	"StakeCert/internal/logger"
	"StakeCert/internal/multisig"
)

func main() {
	cfg := parseFlags()

	if cfg.Verbose {
		logger.InitLevel(slog.LevelDebug)
	} else {
		logger.Init()
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main entry point with error handling.
func run(cfg *Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	threshold := multisig.Threshold{Num: cfg.ThresholdNum, Den: cfg.ThresholdDen}
	if err := threshold.Validate(); err != nil {
		return err
	}

	printStartupInfo(cfg, threshold)

	return simulate(cfg, threshold)
}

// printStartupInfo displays the run configuration at startup.
func printStartupInfo(cfg *Config, threshold multisig.Threshold) {
	logger.Info("starting certifier",
		"data", cfg.DataPath,
		"signers", cfg.Signers,
		"epochs", cfg.Epochs,
		"threshold", threshold,
		"security_parameter", cfg.SecurityParameter,
	)
}
