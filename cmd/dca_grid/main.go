package main

import (
	"flag"
	"fmt"
	"os"

	"dca_grid/internal/bootstrap"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/dca_grid.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("dca_grid version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	// A missing config file is not fatal; the environment carries the
	// settings then.
	path := *configPath
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintf(os.Stderr, "Config file %s not found, configuring from environment\n", path)
		path = ""
	}

	app, err := bootstrap.New(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		app.Logger.Error("dca_grid exited with error", "error", err)
		os.Exit(1)
	}
}
