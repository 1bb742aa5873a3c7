// Package web serves the pre-built single-page application and places build
// output into the served directory.
package web

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Cache policies.
const (
	cacheImmutable = "public, max-age=31536000, immutable"
	cacheNoCache   = "no-cache"
)

const indexFile = "index.html"

// NewRouter returns the routes of the static server: /healthz and the SPA
// under every other GET path.
func NewRouter(root string, logger *zap.Logger) *mux.Router {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", healthz).Methods(http.MethodGet, http.MethodHead)
	r.PathPrefix("/").Handler(NewSPAHandler(root)).Methods(http.MethodGet, http.MethodHead)
	r.Use(accessLog(logger))
	return r
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// SPAHandler serves files below root. Paths with no file extension that do
// not exist fall back to index.html, so client-side routes resolve.
type SPAHandler struct {
	root string
}

// NewSPAHandler creates a handler serving root.
func NewSPAHandler(root string) *SPAHandler {
	return &SPAHandler{root: root}
}

func (h *SPAHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	for _, seg := range strings.Split(r.URL.Path, "/") {
		if seg == ".." {
			http.Error(w, "invalid path", http.StatusBadRequest)
			return
		}
	}

	urlPath := path.Clean("/" + r.URL.Path)
	name, ok := h.resolve(urlPath)
	if !ok {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}

	info, err := os.Stat(name)
	switch {
	case err == nil && !info.IsDir():
		h.serveFile(w, r, urlPath, name)
	case err == nil && info.IsDir(), path.Ext(urlPath) == "":
		h.serveFile(w, r, "/"+indexFile, filepath.Join(h.root, indexFile))
	default:
		http.NotFound(w, r)
	}
}

// resolve maps urlPath to a file name, refusing anything outside root.
func (h *SPAHandler) resolve(urlPath string) (string, bool) {
	name := filepath.Join(h.root, filepath.FromSlash(urlPath))
	rel, err := filepath.Rel(h.root, name)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return name, true
}

func (h *SPAHandler) serveFile(w http.ResponseWriter, r *http.Request, urlPath, name string) {
	f, err := os.Open(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	switch {
	case strings.HasPrefix(urlPath, "/assets/"):
		w.Header().Set("Cache-Control", cacheImmutable)
	case path.Base(urlPath) == indexFile:
		w.Header().Set("Cache-Control", cacheNoCache)
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func accessLog(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("latency", time.Since(start)),
			)
		})
	}
}
