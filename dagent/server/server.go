// Package server exposes the conversation runtime over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/deck-agent/dagent/conversation"
	"github.com/ZanzyTHEbar/deck-agent/dagent/harness"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const maxSignalBytes = 1 << 20

// Conversations is the part of the runtime served over HTTP.
type Conversations interface {
	Signal(ctx context.Context, id string, sig conversation.Signal) (uint64, error)
	Query(ctx context.Context, id string) ([]conversation.Turn, error)
	Status(ctx context.Context, id string) (harness.Status, error)
	Resume(ctx context.Context, id string) error
}

// Server serves the signal, query, status and resume endpoints plus /metrics.
type Server struct {
	conversations Conversations
	gatherer      prometheus.Gatherer
	logger        zerolog.Logger

	mu         sync.Mutex
	httpServer *http.Server
}

// New creates a server. A nil gatherer serves the default registry.
func New(conversations Conversations, gatherer prometheus.Gatherer, logger zerolog.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		conversations: conversations,
		gatherer:      gatherer,
		logger:        logger.With().Str("component", "server").Logger(),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("POST /v1/conversations/{id}/signals", s.handleSignal)
	mux.HandleFunc("GET /v1/conversations/{id}/log", s.handleLog)
	mux.HandleFunc("GET /v1/conversations/{id}/status", s.handleStatus)
	mux.HandleFunc("POST /v1/conversations/{id}/resume", s.handleResume)
	return s.logRequests(mux)
}

// ListenAndServe serves on addr until Shutdown is called.
func (s *Server) ListenAndServe(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()
	s.logger.Info().Str("addr", listener.Addr().String()).Msg("starting http server")
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

type signalResponse struct {
	ConversationID string `json:"conversation_id"`
	Seq            uint64 `json:"seq"`
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSignalBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var sig conversation.Signal
	if len(body) > 0 {
		if err := json.Unmarshal(body, &sig); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("decode signal: %w", err))
			return
		}
	}
	seq, err := s.conversations.Signal(r.Context(), id, sig)
	if err != nil {
		s.writeRuntimeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, signalResponse{ConversationID: id, Seq: seq})
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	turns, err := s.conversations.Query(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeRuntimeError(w, err)
		return
	}
	if turns == nil {
		turns = []conversation.Turn{}
	}
	writeJSON(w, http.StatusOK, turns)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.conversations.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeRuntimeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.conversations.Resume(r.Context(), r.PathValue("id")); err != nil {
		s.writeRuntimeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeRuntimeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, harness.ErrUnknownConversation):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, harness.ErrInstanceExists):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, harness.ErrRuntimeClosed):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		s.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
