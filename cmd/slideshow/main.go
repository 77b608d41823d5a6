package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"slideshow/internal"
	"slideshow/internal/app"
)

const (
	modeServer = "server"
	modeViewer = "viewer"
	modeLocal  = "local"
)

func main() {
	mode, args := parseMode(os.Args[1:])
	flagSet := flag.NewFlagSet("slideshow", flag.ExitOnError)
	configPath := flagSet.String("config", envOrDefault("SLIDESHOW_CONFIG", ""), "YAML config file")
	addr := flagSet.String("addr", "", "server listen address (overrides config)")
	serverURL := flagSet.String("server-url", envOrDefault("SLIDESHOW_SERVER", "http://wedding.local:8000"), "server address (viewer mode)")
	showVersion := flagSet.Bool("version", false, "print the version and exit")
	quiet := flagSet.Bool("quiet", false, "only log warnings and errors")
	flagSet.Usage = func() {
		fmt.Fprintf(flagSet.Output(), "usage: slideshow [server|viewer|local] [flags]\n\n")
		flagSet.PrintDefaults()
		fmt.Fprintln(flagSet.Output())
		app.Usage(flagSet.Output())
	}
	flagSet.Parse(args)

	if *showVersion {
		fmt.Println("slideshow", internal.Version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch mode {
	case modeViewer:
		err = app.RunViewer(app.ViewerConfig{ServerURL: *serverURL})
	default:
		var cfg app.Config
		cfg, err = app.Load(*configPath)
		if err != nil {
			break
		}
		if *addr != "" {
			cfg.Addr = *addr
		}
		if *quiet {
			cfg.Log.Level = "warn"
		}
		if mode == modeLocal {
			err = runLocalMode(ctx, cfg)
		} else {
			err = runServerMode(ctx, cfg)
		}
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "slideshow: %v\n", err)
		os.Exit(1)
	}
}

func runServerMode(ctx context.Context, cfg app.Config) error {
	logger, closer, err := app.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	defer closer.Close()

	handle, err := app.RunServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return handle.Wait()
}

// runLocalMode serves on a loopback port and opens the viewer against it.
// The terminal belongs to the viewer, so logs go to the configured file or
// nowhere.
func runLocalMode(ctx context.Context, cfg app.Config) error {
	cfg.Addr = "127.0.0.1:0"
	cfg.Hostname = "127.0.0.1"
	cfg.Port = 0

	var logger *slog.Logger
	if cfg.Log.File != "" {
		fileLogger, closer, err := app.NewLogger(cfg.Log, io.Discard)
		if err != nil {
			return err
		}
		defer closer.Close()
		logger = fileLogger
	} else {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	handle, err := app.RunServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stopServer(handle)

	if err := waitForServer(handle.Addr(), 5*time.Second); err != nil {
		return err
	}
	if err := app.RunViewer(app.ViewerConfig{ServerURL: "http://" + handle.Addr()}); err != nil {
		return err
	}
	stopServer(handle)
	return handle.Wait()
}

func waitForServer(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server did not become ready: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func parseMode(args []string) (string, []string) {
	if len(args) == 0 {
		return modeServer, args
	}
	switch strings.ToLower(args[0]) {
	case modeServer, modeViewer, modeLocal:
		return strings.ToLower(args[0]), args[1:]
	case "client":
		return modeViewer, args[1:]
	}
	return modeServer, args
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func stopServer(handle *app.ServerHandle) {
	if handle == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = handle.Stop(shutdownCtx)
}
