// Package server exposes the slideshow session over HTTP: asset uploads,
// playback and export actions, state events and a live preview.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ivlev/slideshow/internal/config"
	"github.com/ivlev/slideshow/internal/engine"
	"github.com/ivlev/slideshow/internal/logger"
)

const (
	maxUploadMemory = 64 << 20
	pdfDPI          = 150
	previewQuality  = 85
	mjpegInterval   = time.Second / 15
)

type Server struct {
	cfg    *config.Config
	ctrl   *engine.Controller
	router *mux.Router
}

func New(cfg *config.Config, ctrl *engine.Controller) *Server {
	s := &Server{cfg: cfg, ctrl: ctrl, router: mux.NewRouter()}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(cors, accessLog)
	// Any preflight matches here so that cors can answer it.
	r.Methods(http.MethodOptions).HandlerFunc(func(http.ResponseWriter, *http.Request) {})

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	api.HandleFunc("/images", s.handleAddImages).Methods(http.MethodPost)
	api.HandleFunc("/images/{id}", s.handleRemoveImage).Methods(http.MethodDelete)
	api.HandleFunc("/audio", s.handleSetAudio).Methods(http.MethodPut, http.MethodPost)
	api.HandleFunc("/transition", s.handleSetTransition).Methods(http.MethodPut)
	api.HandleFunc("/play", s.handlePlay).Methods(http.MethodPost)
	api.HandleFunc("/pause", s.handlePause).Methods(http.MethodPost)
	api.HandleFunc("/toggle", s.handleToggle).Methods(http.MethodPost)
	api.HandleFunc("/export", s.handleExport).Methods(http.MethodPost)

	r.HandleFunc("/preview.jpg", s.handlePreview).Methods(http.MethodGet)
	r.HandleFunc("/preview.mjpeg", s.handleMJPEG).Methods(http.MethodGet)
	r.HandleFunc("/artifacts/{name}", s.handleArtifact).Methods(http.MethodGet, http.MethodHead)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:        s.cfg.Listen,
		Handler:     s.router,
		ReadTimeout: 60 * time.Second,
		IdleTimeout: 120 * time.Second,
		// No WriteTimeout: the MJPEG and event streams are long-lived.
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", logger.String("addr", s.cfg.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("http request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Duration("elapsed", time.Since(start)))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("encode response", logger.ErrorField(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
