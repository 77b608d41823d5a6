package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"slideshow/internal/app"
)

func main() {
	configPath := flag.String("config", os.Getenv("SLIDESHOW_CONFIG"), "YAML config file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: slideshow-server [-config file]\n\n")
		flag.PrintDefaults()
		fmt.Fprintln(flag.CommandLine.Output())
		app.Usage(flag.CommandLine.Output())
	}
	flag.Parse()

	cfg, err := app.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	logger, closer, err := app.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, err := app.RunServer(ctx, cfg, logger)
	if err != nil {
		logger.Error("server failed to start", "error", err)
		os.Exit(1)
	}
	if err := handle.Wait(); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}
