// Package main is the entry point for the syndication engine daemon: the
// distribution worker, the scheduled loops and the HTTP API in one process.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/northpress/syndicate/internal/app"
)

var (
	// version can be set at build time via -ldflags
	version = "dev"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yml", "Path to configuration file")
	flag.Parse()

	// A missing .env is fine; the config loader falls back to real env vars.
	_ = godotenv.Load()

	application, err := app.New(app.Options{
		ConfigPath:   configPath,
		Version:      version,
		EnableWorker: true,
		EnableAPI:    true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := application.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to close application: %v\n", closeErr)
		}
	}()

	if runErr := application.Run(context.Background()); runErr != nil {
		application.Logger().Error("Application error")
		os.Exit(1)
	}
}
