package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	intrnl "slideshow/internal"
	"slideshow/internal/mqttmirror"
	"slideshow/internal/storage"
)

const shutdownTimeout = 5 * time.Second

// ServerHandle represents a running slideshow server: HTTP, live hub and
// the refresh broadcaster.
type ServerHandle struct {
	addr     string
	imageDir string
	cancel   context.CancelFunc
	done     chan struct{}
	err      error
}

// Addr returns the actual listen address (after the OS allocated a port).
func (h *ServerHandle) Addr() string {
	return h.addr
}

// ImageDir returns where uploaded photos are stored.
func (h *ServerHandle) ImageDir() string {
	return h.imageDir
}

// Stop triggers shutdown and waits for it to finish or for ctx to expire.
func (h *ServerHandle) Stop(ctx context.Context) error {
	if h == nil || h.cancel == nil {
		return nil
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
	}
	h.cancel()
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the server exits.
func (h *ServerHandle) Wait() error {
	if h == nil {
		return nil
	}
	<-h.done
	return h.err
}

// RunServer opens the store, wires the live pipeline and starts serving in
// the background. Cancel ctx or call Stop to shut it down; Wait reports how
// it ended.
func RunServer(ctx context.Context, cfg Config, logger *slog.Logger) (*ServerHandle, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fill, _ := intrnl.ParseFillPolicy(cfg.SampleFill)

	if err := os.MkdirAll(cfg.ImageDir, 0o755); err != nil {
		return nil, fmt.Errorf("create image directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	store, err := storage.NewStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("listen: %w", err)
	}
	if cfg.Port == 0 {
		cfg.Port = listener.Addr().(*net.TCPAddr).Port
	}

	var mirrors []intrnl.Mirror
	var mirror *mqttmirror.Mirror
	if cfg.MQTT.Broker != "" {
		mirror, err = mqttmirror.Connect(ctx, mqttmirror.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Prefix:   cfg.MQTT.Topic,
			QoS:      byte(cfg.MQTT.QoS),
		}, logger)
		if err != nil {
			// the mirror is optional; the wall keeps working without it.
			logger.Warn("mqtt mirror disabled", "broker", cfg.MQTT.Broker, "error", err)
		} else {
			mirrors = append(mirrors, mirror)
		}
	}

	hub := intrnl.NewHub(logger, mirrors...)
	metrics := intrnl.NewMetrics(hub)
	sampler := intrnl.NewSampler(store, fill)
	ingestor := intrnl.NewIngestor(store, hub, cfg.ImageDir, cfg.ImageURL,
		intrnl.WithMaxDimension(cfg.MaxImageDim),
		intrnl.WithIngestLogger(logger),
	)
	broadcaster := intrnl.NewBroadcaster(sampler, hub, cfg.RefreshInterval, cfg.ImageURL,
		intrnl.WithFireHook(metrics.ObserveRefresh),
		intrnl.WithBroadcasterLogger(logger),
	)
	server := intrnl.NewServer(store, hub, sampler, ingestor, cfg.ImageURL,
		intrnl.WithMetrics(metrics),
		intrnl.WithGalleryCount(cfg.GalleryCount),
		intrnl.WithMaxUploadBytes(cfg.MaxUploadBytes),
		intrnl.WithUploadLimiter(intrnl.NewRateLimiter(cfg.UploadLimit, cfg.UploadWindow)),
		intrnl.WithServerLogger(logger),
	)
	httpServer := &http.Server{
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)

	group.Go(func() error {
		hub.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		return broadcaster.Run(groupCtx)
	})
	group.Go(func() error {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
		return nil
	})

	handle := &ServerHandle{
		addr:     listener.Addr().String(),
		imageDir: cfg.ImageDir,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	logger.Info("slideshow server started",
		"addr", handle.addr,
		"db", cfg.DBPath,
		"images", cfg.ImageDir,
		"image_base_url", cfg.ImageBaseURL(),
		"refresh_interval", cfg.RefreshInterval.String(),
		"mqtt", strconv.FormatBool(mirror != nil),
	)

	go func() {
		defer close(handle.done)
		err := group.Wait()
		cancel()
		if mirror != nil {
			mirror.Close()
		}
		if closeErr := store.Close(); closeErr != nil {
			logger.Error("store close", "error", closeErr)
		}
		handle.err = err
		logger.Info("slideshow server stopped")
	}()

	return handle, nil
}
