package main

import (
	"fmt"
	"os"

	"photomatch/internal/cli"
	"photomatch/internal/config"
	"photomatch/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.Setup(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	rootCmd := cli.NewRootCmd(cfg, log)
	if err := rootCmd.Execute(); err != nil {
		log.Error("command failed", "error", err.Error())
		os.Exit(1)
	}
}
