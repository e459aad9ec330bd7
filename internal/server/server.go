// Package server serves frozen graphs over HTTP: upload, inspection,
// download and prediction.
package server

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/born-ml/graphfreeze/internal/config"
	"github.com/born-ml/graphfreeze/internal/graph"
	"github.com/born-ml/graphfreeze/internal/importer"
	"github.com/born-ml/graphfreeze/internal/registry"
	"github.com/gorilla/mux"
	logs "github.com/sirupsen/logrus"
	stdlib "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
)

// Server holds the state shared by all handlers.
type Server struct {
	config   *config.Configuration
	registry *registry.Registry
	cache    *graphCache
	limiter  *stdlib.Middleware
	start    time.Time

	stats struct {
		get, post, del atomic.Uint64
	}
}

// New prepares a server for c: it creates the model directory and opens the
// registry. Unset fields of c take their defaults.
func New(c *config.Configuration) (*Server, error) {
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(c.ModelDir, 0o750); err != nil {
		return nil, fmt.Errorf("unable to create model dir: %w", err)
	}
	lim, err := newLimiter(c.LimiterRate)
	if err != nil {
		return nil, fmt.Errorf("invalid limiter rate %q: %w", c.LimiterRate, err)
	}
	reg, err := registry.Open(c.RegistryDB)
	if err != nil {
		return nil, err
	}
	s := &Server{config: c, registry: reg, limiter: lim, start: time.Now()}
	s.cache = newGraphCache(c.CacheLimit, s.loadGraph)
	return s, nil
}

// Close releases the registry.
func (s *Server) Close() error {
	return s.registry.Close()
}

func (s *Server) modelPath(name string) string {
	return filepath.Join(s.config.ModelDir, name+".pb")
}

// loadGraph imports a stored model for the cache.
func (s *Server) loadGraph(name string) (*graph.Graph, error) {
	rec, err := s.registry.Get(name)
	if err != nil {
		return nil, err
	}
	g, err := importer.ImportFile(rec.Path, importer.Options{})
	if err != nil {
		return nil, err
	}
	logs.WithFields(logs.Fields{"model": name, "path": rec.Path}).Debug("loaded graph into cache")
	return g, nil
}

func (s *Server) basePath(p string) string {
	base := s.config.Base
	if base == "" || base == "/" {
		return p
	}
	p = strings.TrimPrefix(p, "/")
	if strings.HasPrefix(base, "/") {
		return fmt.Sprintf("%s/%s", strings.TrimSuffix(base, "/"), p)
	}
	return fmt.Sprintf("/%s/%s", strings.TrimSuffix(base, "/"), p)
}

// Handler returns the router with every route and middleware attached.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc(s.basePath("/upload"), s.UploadHandler).Methods("POST")
	router.HandleFunc(s.basePath("/models"), s.ModelsHandler).Methods("GET")
	router.HandleFunc(s.basePath("/models/{name}"), s.ModelHandler).Methods("GET")
	router.HandleFunc(s.basePath("/models/{name}"), s.DeleteHandler).Methods("DELETE")
	router.HandleFunc(s.basePath("/data/{name}"), s.DataHandler).Methods("GET")
	router.HandleFunc(s.basePath("/predict/{name}"), s.PredictHandler).Methods("POST")
	router.HandleFunc(s.basePath("/status"), s.StatusHandler).Methods("GET")

	router.Use(s.loggingMiddleware)
	router.Use(s.limitMiddleware)
	return router
}

// ListenAndServe runs the server until it fails. HTTPS is used when both
// ServerKey and ServerCrt are configured.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
	}
	logs.Info(s.config.String())
	if s.config.ServerKey != "" && s.config.ServerCrt != "" {
		srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		logs.WithFields(logs.Fields{"Addr": addr}).Info("Starting HTTPs server")
		return srv.ListenAndServeTLS(s.config.ServerCrt, s.config.ServerKey)
	}
	logs.WithFields(logs.Fields{"Addr": addr}).Info("Starting HTTP server")
	return srv.ListenAndServe()
}
