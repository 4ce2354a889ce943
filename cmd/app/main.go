package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"SignalDesk/internal/di"
	"SignalDesk/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to YAML config")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Printf("signaldesk: %v", err)
		os.Exit(1)
	}
}

// run wires the application and blocks until shutdown.
func run(configPath string) error {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log.Printf("signaldesk starting env=%s port=%d feed=%v symbols=%d",
		cfg.Environment, cfg.Server.Port, cfg.Feed.Enabled, len(cfg.Feed.Symbols))

	app, err := di.InitializeApp(cfg)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	return app.Run()
}
