// Package http serves the record endpoints, schema metadata and operational
// routes for every entity in the live schema snapshot.
//
// Routes are not generated per entity: /api/{module}/{entity} is resolved
// against the current snapshot on each request, so schema reloads take
// effect without rebuilding the router.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/artpar/kalita/adapters/metrics"
	"github.com/artpar/kalita/core/openapi"
	"github.com/artpar/kalita/core/registry"
	"github.com/artpar/kalita/core/runtime"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	httpSwagger "github.com/swaggo/http-swagger"
)

const defaultMaxBodyBytes = 10 << 20

// Reloader rebuilds and swaps the schema snapshot.
type Reloader interface {
	Reload() (*registry.Snapshot, error)
}

// Config holds optional channel settings.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxBodyBytes bounds request bodies; zero means 10 MiB.
	MaxBodyBytes int64

	// Metrics enables request metrics and the metrics endpoint.
	Metrics *metrics.Collector
	// MetricsPath defaults to /metrics.
	MetricsPath string

	// OpenAPI serves /api/openapi.json and the Swagger UI at /api/docs/.
	OpenAPI bool

	// Reloader backs POST /api/admin/reload; nil disables the route.
	Reloader Reloader

	// Version is reported in the OpenAPI document.
	Version string
}

// Channel is the HTTP transport over a runtime.
type Channel struct {
	router  chi.Router
	runtime *runtime.Runtime
	cfg     Config
	logger  zerolog.Logger
	server  *http.Server
	openapi *openapi.Service
}

// New creates the channel and registers its routes.
func New(rt *runtime.Runtime, logger zerolog.Logger, cfg Config) *Channel {
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	gen := openapi.NewGenerator()
	gen.SetInfo(openapi.Info{
		Title:       "Kalita API",
		Description: "Record API generated from the loaded schemas",
		Version:     version,
	})
	gen.AddServer("/", "")

	c := &Channel{
		router:  chi.NewRouter(),
		runtime: rt,
		cfg:     cfg,
		logger:  logger,
		openapi: openapi.NewService(gen, logger),
	}
	c.routes()
	return c
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return "http"
}

// Handler returns the HTTP handler.
func (c *Channel) Handler() http.Handler {
	return c.router
}

func (c *Channel) maxBodyBytes() int64 {
	if c.cfg.MaxBodyBytes > 0 {
		return c.cfg.MaxBodyBytes
	}
	return defaultMaxBodyBytes
}

func (c *Channel) metricsPath() string {
	if c.cfg.MetricsPath != "" {
		return c.cfg.MetricsPath
	}
	return "/metrics"
}

func (c *Channel) routes() {
	r := c.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewLoggingMiddleware(c.logger, c.metricsPath()))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	if c.cfg.Metrics != nil {
		r.Use(NewMetricsMiddleware(c.cfg.Metrics, c.metricsPath()))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		c.writeError(w, r, fmt.Errorf("%w: no route for %s", runtime.ErrNotFound, r.URL.Path))
	})

	r.Get("/health", c.handleLiveness)
	r.Get("/health/live", c.handleLiveness)
	r.Get("/health/ready", c.handleReadiness)

	if c.cfg.Metrics != nil {
		r.Handle(c.metricsPath(), c.cfg.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		if c.cfg.OpenAPI {
			r.Get("/openapi.json", c.handleOpenAPI)
			r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, "/api/docs/index.html", http.StatusMovedPermanently)
			})
			r.Get("/docs/*", httpSwagger.Handler(
				httpSwagger.URL("/api/openapi.json"),
			))
		}

		r.Route("/meta", func(r chi.Router) {
			r.Get("/", c.handleMetaList)
			r.Get("/catalogs", c.handleCatalogs)
			r.Get("/catalogs/{name}", c.handleCatalog)
			r.Get("/lookup/{module}/{entity}", c.handleLookup)
			r.Get("/{module}/{entity}", c.handleMetaEntity)
		})

		if c.cfg.Reloader != nil {
			r.Post("/admin/reload", c.handleReload)
		}

		r.Route("/{module}/{entity}", func(r chi.Router) {
			r.Get("/", c.handleList)
			r.Post("/", c.handleCreate)

			r.Get("/_count", c.handleCount)
			r.Post("/_count", c.handleCount)
			r.Get("/count", c.handleCount)
			r.Post("/count", c.handleCount)

			r.Post("/_bulk", c.handleBulkCreate)
			r.Patch("/_bulk", c.handleBulkPatch)
			r.Post("/_bulk_delete", c.handleBulkDelete)
			r.Post("/_bulk_restore", c.handleBulkRestore)

			r.Get("/{id}", c.handleGet)
			r.Patch("/{id}", c.handlePatch)
			r.Put("/{id}", c.handleReplace)
			r.Delete("/{id}", c.handleDelete)
			r.Post("/{id}/restore", c.handleRestore)
		})
	})
}

// Start listens on the configured address and serves in the background.
// Listen errors are returned; serve errors after startup are logged.
func (c *Channel) Start(ctx context.Context) error {
	if c.cfg.Addr == "" {
		return nil
	}

	ln, err := net.Listen("tcp", c.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", c.cfg.Addr, err)
	}

	c.server = &http.Server{
		Handler:      c.router,
		ReadTimeout:  c.cfg.ReadTimeout,
		WriteTimeout: c.cfg.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error().Err(err).Msg("http server error")
		}
	}()

	c.logger.Info().Str("addr", ln.Addr().String()).Msg("http server listening")
	return nil
}

// Stop gracefully shuts the server down.
func (c *Channel) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

func (c *Channel) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (c *Channel) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := c.runtime.Ready(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (c *Channel) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	doc, err := c.openapi.Document(c.runtime.Registry().Snapshot())
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	w.Header().Set("ETag", doc.ETag)
	if etagMatch(r.Header.Get("If-None-Match"), doc.ETag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	_, _ = w.Write(doc.JSON)
}
