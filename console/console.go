/*
Package console serves the crawler's JSON status API: queue totals, the most
recently updated domains, and the most recent collection log rows. It is
read-only; seeding and sweeping go through the CLI.
*/
package console

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/unrolled/render"
	"go.uber.org/zap"

	crawler "github.com/Rabenherz112/map-the-net-crawler"
)

// Every response is JSON. A successful request returns 200; anything else
// carries an errorResponse body with a stable tag the caller can switch on.
type errorResponse struct {
	Version int    `json:"version"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

func buildError(tag string, format string, args ...interface{}) *errorResponse {
	return &errorResponse{
		Version: 1,
		Tag:     tag,
		Message: fmt.Sprintf(format, args...),
	}
}

type statusResponse struct {
	Version string             `json:"version"`
	Agent   string             `json:"agent"`
	Queue   crawler.QueueStats `json:"queue"`
}

// Server is the console HTTP server. Build one with New and run it with
// Start, or mount Routes on an existing server.
type Server struct {
	queue   crawler.QueueStore
	domains crawler.DomainStore
	logger  *zap.Logger
	render  *render.Render

	httpSrv *http.Server
}

// New builds a console server over the given stores.
func New(queue crawler.QueueStore, domains crawler.DomainStore, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		queue:   queue,
		domains: domains,
		logger:  logger,
		render:  render.New(),
	}
}

// Routes returns the console's HTTP handler.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.status).Methods("GET")
	api.HandleFunc("/domains", s.recentDomains).Methods("GET")
	api.HandleFunc("/logs", s.recentLogs).Methods("GET")
	return r
}

// Start listens on the configured console port and blocks until Stop is
// called or the listener fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%v", crawler.Config.Console.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	s.logger.Info("console listening", zap.String("addr", addr))
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts the listener down, letting in-flight requests finish.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) status(w http.ResponseWriter, req *http.Request) {
	stats, err := s.queue.Stats(req.Context())
	if err != nil {
		s.logger.Error("console failed to read queue stats", zap.Error(err))
		s.render.JSON(w, http.StatusInternalServerError, buildError("queue-stats", "%v", err))
		return
	}
	s.render.JSON(w, http.StatusOK, statusResponse{
		Version: crawler.Version,
		Agent:   crawler.AgentName(),
		Queue:   stats,
	})
}

func (s *Server) recentDomains(w http.ResponseWriter, req *http.Request) {
	limit, err := limitParam(req)
	if err != nil {
		s.render.JSON(w, http.StatusBadRequest, buildError("bad-limit", "%v", err))
		return
	}
	domains, err := s.domains.RecentDomains(req.Context(), limit)
	if err != nil {
		s.logger.Error("console failed to read recent domains", zap.Error(err))
		s.render.JSON(w, http.StatusInternalServerError, buildError("recent-domains", "%v", err))
		return
	}
	if domains == nil {
		domains = []crawler.Domain{}
	}
	s.render.JSON(w, http.StatusOK, domains)
}

func (s *Server) recentLogs(w http.ResponseWriter, req *http.Request) {
	limit, err := limitParam(req)
	if err != nil {
		s.render.JSON(w, http.StatusBadRequest, buildError("bad-limit", "%v", err))
		return
	}
	logs, err := s.domains.RecentLogs(req.Context(), limit)
	if err != nil {
		s.logger.Error("console failed to read recent logs", zap.Error(err))
		s.render.JSON(w, http.StatusInternalServerError, buildError("recent-logs", "%v", err))
		return
	}
	if logs == nil {
		logs = []crawler.CollectionLog{}
	}
	s.render.JSON(w, http.StatusOK, logs)
}

const (
	defaultLimit = 20
	maxLimit     = 200
)

func limitParam(req *http.Request) (int, error) {
	raw := req.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("limit must be a positive integer, got %q", raw)
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, nil
}
