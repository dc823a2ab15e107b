package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Sternrassler/jsoncache/pkg/cache"
	"github.com/Sternrassler/jsoncache/pkg/fetch"
	"github.com/Sternrassler/jsoncache/pkg/metrics"
	"github.com/Sternrassler/jsoncache/pkg/notify"
	"github.com/Sternrassler/jsoncache/pkg/propagate"
	"github.com/Sternrassler/jsoncache/pkg/reader"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

const (
	headerCacheSource    = "X-Cache-Source"
	headerContentVersion = "X-Content-Version"
)

// server wires the cache components to HTTP.
type server struct {
	manager    *cache.Manager
	reader     *reader.Reader
	fetcher    fetch.Fetcher
	propagator *propagate.Propagator
	subscriber *propagate.Subscriber
	hub        *notify.Hub
	logger     zerolog.Logger
}

func (s *server) routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/json/{name:.+}", s.handleJSON).Methods(http.MethodGet)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/invalidate/{name:.+}", s.handleInvalidate).Methods(http.MethodPost)
	admin.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	admin.HandleFunc("/cache", s.handleClear).Methods(http.MethodDelete)

	r.HandleFunc("/ws", s.hub.ServeWS).Methods(http.MethodGet)

	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// handleJSON serves a resource. Reads never fail: unavailable resources are
// served stale or as {} with the source reported in X-Cache-Source.
// ?revalidate=true compares against the version registry first.
func (s *server) handleJSON(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var res reader.Result
	if r.URL.Query().Get("revalidate") == "true" {
		res = s.reader.CheckForUpdate(r.Context(), name)
	} else {
		res = s.reader.Read(r.Context(), name)
	}

	w.Header().Set(headerCacheSource, string(res.Source))
	if res.Version != "" {
		w.Header().Set(headerContentVersion, res.Version)
	}
	s.writeJSON(w, http.StatusOK, res.Data)
}

func (s *server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	res := s.propagator.InvalidateOnEdit(r.Context(), name)
	s.writeJSON(w, http.StatusOK, res)
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.GetCacheStats())
}

func (s *server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.manager.ClearAll()
	s.logger.Info().Msg("Cache cleared")
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write response")
	}
}
