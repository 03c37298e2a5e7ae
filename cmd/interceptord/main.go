// Command interceptord is the intrusion-prevention daemon entrypoint: it
// loads configuration, wires the Supervisor, and runs until signalled.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/adator85/interceptor/internal/config"
	"github.com/adator85/interceptor/internal/logging"
	"github.com/adator85/interceptor/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "/etc/interceptor/config.json", "path to the daemon configuration file")
	flag.StringVar(configPath, "c", "/etc/interceptor/config.json", "path to the daemon configuration file (short)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("interceptord: %w", err)
	}

	level := logging.LevelInfo
	if cfg.Debug {
		level = logging.LevelDebug
	}
	logger := logging.New(logging.Config{Level: level})
	logging.SetDefault(logger)

	if os.Geteuid() != 0 {
		logger.Error("interceptord must run with sufficient privilege to modify firewall state")
		os.Exit(1)
	}

	sup := supervisor.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("interceptord: startup failed: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")
	sup.Stop()
	return nil
}
