package internal

import (
	"bufio"
	"context"
	"embed"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// ItemStore is everything the HTTP surface needs from the item store.
type ItemStore interface {
	ItemReader
	ItemWriter
	MaxID(ctx context.Context) (int64, bool, error)
	DeleteUpTo(ctx context.Context, maxID int64) (int64, error)
}

// Server owns the HTTP surface of the slideshow.
type Server struct {
	store          ItemStore
	hub            *Hub
	sampler        *Sampler
	ingestor       *Ingestor
	metrics        *Metrics
	uploadLimiter  *RateLimiter
	imageURL       func(name string) string
	galleryCount   int
	maxUploadBytes int64
	logger         *slog.Logger
}

type ServerOption func(*Server)

func WithUploadLimiter(limiter *RateLimiter) ServerOption {
	return func(s *Server) {
		s.uploadLimiter = limiter
	}
}

func WithGalleryCount(count int) ServerOption {
	return func(s *Server) {
		if count > 0 {
			s.galleryCount = count
		}
	}
}

func WithMaxUploadBytes(limit int64) ServerOption {
	return func(s *Server) {
		if limit > 0 {
			s.maxUploadBytes = limit
		}
	}
}

func WithMetrics(metrics *Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = metrics
	}
}

func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

const (
	defaultGalleryCount   = 5
	defaultMaxUploadBytes = 32 << 20
)

func NewServer(store ItemStore, hub *Hub, sampler *Sampler, ingestor *Ingestor, imageURL func(string) string, opts ...ServerOption) *Server {
	s := &Server{
		store:          store,
		hub:            hub,
		sampler:        sampler,
		ingestor:       ingestor,
		imageURL:       imageURL,
		galleryCount:   defaultGalleryCount,
		maxUploadBytes: defaultMaxUploadBytes,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(hub)
	}
	s.logger = s.logger.With("component", "http")
	return s
}

func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// every endpoint lives here
func (s *Server) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(s.logRequests)

	router.Get("/", s.HandleIndex)
	router.Get("/posts", s.HandleListPosts)
	router.Post("/posts", s.HandleCreatePost)
	router.Get("/images/{name}", s.HandleImage)
	router.Get("/gallery", s.HandleGallery)
	router.Get("/live", s.hub.ServeWS)
	router.Get("/database_clear", s.HandleDatabaseClear)
	router.Get("/database_show", s.HandleDatabaseShow)
	router.Method(http.MethodGet, "/metrics", s.metrics)
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		methodNotAllowed(w, allowedMethods(r.URL.Path))
	})
	return router
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrade through the logging wrapper.
func (rec *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	rec.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
			"remote", s.clientIP(r),
		)
	})
}

// LAN only, no proxies in front, so the peer address is the client
func (s *Server) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func allowedMethods(path string) string {
	if strings.TrimSuffix(path, "/") == "/posts" {
		return "GET, POST"
	}
	return http.MethodGet
}
