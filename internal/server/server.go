// Package server exposes the claim flow, compatibility reports and archive
// downloads over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/git-pkgs/comfyregistry/fetch"
	"github.com/git-pkgs/comfyregistry/internal/compat"
	"github.com/git-pkgs/comfyregistry/internal/core"
)

// BreakerReporter reports circuit breaker states by host.
type BreakerReporter interface {
	BreakerStates() map[string]string
}

// Options wires the server's dependencies. Nil handlers leave their routes
// unregistered.
type Options struct {
	Nodes      core.NodeFetcher
	Resolver   *fetch.Resolver
	Downloader fetch.Downloader
	Breakers   BreakerReporter

	Authorize http.Handler
	Callback  http.Handler

	Logger   *zap.Logger
	Registry *prometheus.Registry
}

// Server is the HTTP surface.
type Server struct {
	opts    Options
	logger  *zap.Logger
	router  chi.Router
	metrics *Metrics
}

func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	s := &Server{
		opts:    opts,
		logger:  opts.Logger,
		metrics: NewMetrics(opts.Registry),
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(instrument(s.metrics, s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.opts.Registry, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		if s.opts.Authorize != nil {
			r.Method(http.MethodGet, "/auth/github/authorize", s.opts.Authorize)
		}
		if s.opts.Callback != nil {
			r.Method(http.MethodGet, "/auth/github/callback", s.opts.Callback)
		}
		if s.opts.Nodes != nil {
			r.Get("/nodes/{nodeId}/compatibility", s.handleCompatibility)
		}
		if s.opts.Resolver != nil && s.opts.Downloader != nil {
			r.Get("/nodes/{nodeId}/versions/{version}/download", s.handleDownload)
		}
	})
	return r
}

type healthResponse struct {
	Status   string            `json:"status"`
	Breakers map[string]string `json:"breakers,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.opts.Breakers != nil {
		resp.Breakers = s.opts.Breakers.BreakerStates()
		for _, state := range resp.Breakers {
			if state == fetch.StateOpen {
				resp.Status = "degraded"
				break
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type compatibilityResponse struct {
	NodeID        string            `json:"nodeId"`
	LatestVersion string            `json:"latestVersion,omitempty"`
	Outdated      bool              `json:"outdated"`
	Mismatches    []compat.Mismatch `json:"mismatches"`
}

func (s *Server) handleCompatibility(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeId")

	node, err := s.opts.Nodes.FetchNode(r.Context(), nodeID)
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}

	resp := compatibilityResponse{
		NodeID:     node.ID,
		Mismatches: compat.Diff(node),
	}
	if resp.Mismatches == nil {
		resp.Mismatches = []compat.Mismatch{}
	}
	resp.Outdated = len(resp.Mismatches) > 0
	if node.LatestVersion != nil {
		resp.LatestVersion = node.LatestVersion.Number
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	nodeID, version := chi.URLParam(r, "nodeId"), chi.URLParam(r, "version")

	info, err := s.opts.Resolver.Resolve(r.Context(), nodeID, version)
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}

	archive, err := s.opts.Downloader.Fetch(r.Context(), info.URL)
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}
	defer func() { _ = archive.Body.Close() }()

	name := info.Filename
	if archive.Filename != "" {
		name = archive.Filename
	}
	contentType := archive.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	if archive.Size >= 0 {
		h.Set("Content-Length", strconv.FormatInt(archive.Size, 10))
	}
	if archive.ETag != "" {
		h.Set("ETag", archive.ETag)
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, archive.Body); err != nil {
		s.logger.Warn("streaming archive", zap.String("node_id", nodeID), zap.String("version", info.Version), zap.Error(err))
	}
}

func (s *Server) writeUpstreamError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound), errors.Is(err, fetch.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, fetch.ErrNoDownloadURL):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, fetch.ErrUpstreamDown), errors.Is(err, fetch.ErrRateLimited):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, context.Canceled):
		// client went away
	default:
		s.logger.Error("upstream request failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "upstream request failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Run serves handler on addr until ctx is done, then shuts down gracefully
// within shutdownTimeout.
func Run(ctx context.Context, addr string, handler http.Handler, readHeaderTimeout, shutdownTimeout time.Duration, logger *zap.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return Serve(ctx, ln, handler, readHeaderTimeout, shutdownTimeout, logger)
}

// Serve is Run on an existing listener.
func Serve(ctx context.Context, ln net.Listener, handler http.Handler, readHeaderTimeout, shutdownTimeout time.Duration, logger *zap.Logger) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", ln.Addr().String()))
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
