package main

import (
	"flag"
	"fmt"
	"os"

	"slideshow/internal/app"
)

func main() {
	defaultServer := envOrDefault("SLIDESHOW_SERVER", "http://wedding.local:8000")
	serverURL := flag.String("server", defaultServer, "server address (e.g., http://localhost:8000 or ws://localhost:8000/live)")
	flag.Parse()

	if err := app.RunViewer(app.ViewerConfig{ServerURL: *serverURL}); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
