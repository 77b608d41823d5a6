package app

import (
	"errors"

	intrnl "slideshow/internal"
)

// RunViewer launches the Bubble Tea display with the provided configuration.
func RunViewer(cfg ViewerConfig) error {
	if cfg.ServerURL == "" {
		return errors.New("server URL is required")
	}
	return intrnl.RunViewer(cfg.ServerURL)
}
