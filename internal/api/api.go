// Package api implements the read-only Query API: escrow lookups by
// role, full rows, approval/event history, global stats, and health.
package api

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ocx/escrow-indexer/internal/cache"
)

// Server wires handlers to the projection database and an optional cache.
type Server struct {
	db     *sql.DB
	cache  *cache.Redis
	health HealthChecker
	router *mux.Router
}

// HealthChecker reports broker/subscriber liveness for /health; the API
// package doesn't know about the bus subscription directly.
type HealthChecker interface {
	BrokerHealthy() bool
	LastAppliedAge() (time.Duration, bool)
}

func NewServer(db *sql.DB, redisCache *cache.Redis, health HealthChecker, staleThreshold time.Duration) *Server {
	s := &Server{db: db, cache: redisCache, health: health}
	s.router = mux.NewRouter()
	s.routes(staleThreshold)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes(staleThreshold time.Duration) {
	s.router.HandleFunc("/escrows/by-payer/{addr}", s.handleByRole("payer")).Methods(http.MethodGet)
	s.router.HandleFunc("/escrows/by-payee/{addr}", s.handleByRole("payee")).Methods(http.MethodGet)
	s.router.HandleFunc("/escrows/by-arbiter/{addr}", s.handleByRole("arbiter")).Methods(http.MethodGet)
	s.router.HandleFunc("/escrows/by-role/{addr}", s.handleByRoleAggregate).Methods(http.MethodGet)
	s.router.HandleFunc("/escrows/stats", s.handleStats).Methods(http.MethodGet)
	s.router.HandleFunc("/escrows/{addr}/approvals", s.handleApprovals).Methods(http.MethodGet)
	s.router.HandleFunc("/escrows/{addr}/events", s.handleEvents).Methods(http.MethodGet)
	s.router.HandleFunc("/escrows/{addr}", s.handleGetEscrow).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth(staleThreshold)).Methods(http.MethodGet)
}

// envelope is the {data, meta} wrapper every successful response uses.
type envelope struct {
	Data interface{} `json:"data"`
	Meta meta        `json:"meta"`
}

type meta struct {
	QueriedAt  time.Time `json:"queried_at"`
	Count      int       `json:"count"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}, count int) {
	writeJSONCursor(w, status, data, count, "")
}

// writeJSONCursor is writeJSON plus an opaque cursor for keyset pagination;
// callers leave nextCursor empty once a page comes back short of the
// requested limit, since that means there is nothing left to page through.
func writeJSONCursor(w http.ResponseWriter, status int, data interface{}, count int, nextCursor string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{
		Data: data,
		Meta: meta{QueriedAt: time.Now().UTC(), Count: count, NextCursor: nextCursor},
	})
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]apiError{"error": {Code: code, Message: message}})
}
