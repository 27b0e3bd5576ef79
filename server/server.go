// Package server exposes program evaluation over Connect (HTTP/JSON and
// binary protobuf) and editor support over the Language Server Protocol.
package server

import (
	"errors"
	"net/http"
	"sync"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"

	"github.com/chazu/synapse/store"
	"github.com/chazu/synapse/vm"
)

var log = commonlog.GetLogger("synapse.server")

// Server serves the eval service over HTTP.
type Server struct {
	pool *WorkerPool
	mux  *http.ServeMux

	mu         sync.Mutex
	httpServer *http.Server
}

// ServerOption configures a Server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	workers int
	vm      vm.Config
	cache   *store.Cache
}

// WithWorkers sets how many programs may run at once.
func WithWorkers(n int) ServerOption {
	return func(c *serverConfig) { c.workers = n }
}

// WithVMConfig sets the limits applied to every run.
func WithVMConfig(cfg vm.Config) ServerOption {
	return func(c *serverConfig) { c.vm = cfg }
}

// WithCache compiles through the given program cache. The server does not
// close it.
func WithCache(cache *store.Cache) ServerOption {
	return func(c *serverConfig) { c.cache = cache }
}

// New creates a Server and starts its workers.
func New(opts ...ServerOption) *Server {
	cfg := &serverConfig{workers: 4, vm: vm.DefaultConfig()}
	for _, opt := range opts {
		opt(cfg)
	}

	s := &Server{
		pool: NewWorkerPool(cfg.workers),
		mux:  http.NewServeMux(),
	}

	evalSvc := NewEvalService(s.pool, cfg.cache, cfg.vm)
	s.mux.Handle(EvalProcedure, connect.NewUnaryHandler(EvalProcedure, evalSvc.Eval))
	s.mux.Handle(CheckProcedure, connect.NewUnaryHandler(CheckProcedure, evalSvc.Check))

	return s
}

// Handler returns the HTTP handler serving every procedure.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the HTTP server on the given address, which should
// be in the form "host:port" or ":port". It returns nil after Stop.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.mux}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	log.Infof("listening on %s (%d workers)", addr, s.pool.Size())
	log.Infof("  Connect (HTTP/JSON): http://%s%s", addr, EvalProcedure)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop closes the listener, if any, and shuts down the workers.
func (s *Server) Stop() {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv != nil {
		if err := srv.Close(); err != nil {
			log.Warningf("closing listener: %s", err)
		}
	}
	s.pool.Stop()
}
