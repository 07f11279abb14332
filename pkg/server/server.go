package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/jargoneur/carwatch/internal/store"
	"github.com/jargoneur/carwatch/pkg/deal"
	"github.com/sirupsen/logrus"
)

// Server provides the HTTP JSON API.
type Server struct {
	store  store.Store
	engine *deal.Engine
	port   int
	log    *logrus.Logger
}

// New creates a new HTTP server.
func New(s store.Store, engine *deal.Engine, port int, log *logrus.Logger) *Server {
	if port == 0 {
		port = 8080
	}
	if log == nil {
		log = logrus.New()
	}
	return &Server{store: s, engine: engine, port: port, log: log}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/listings", s.handleListings)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/score", s.handleScore)

	addr := fmt.Sprintf(":%d", s.port)
	s.log.WithField("addr", addr).Info("carwatch server listening")
	return http.ListenAndServe(addr, mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	q := r.URL.Query()
	opts := store.ListOpts{
		Brand:      q.Get("brand"),
		Model:      q.Get("model"),
		Query:      q.Get("q"),
		YearMin:    queryInt(q.Get("year_min")),
		YearMax:    queryInt(q.Get("year_max")),
		MinScore:   queryFloat(q.Get("score_min")),
		Sort:       q.Get("sort"),
		Limit:      queryInt(q.Get("limit")),
		Offset:     queryInt(q.Get("offset")),
		ActiveOnly: true,
	}

	listings, err := s.store.ListListings(r.Context(), opts)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  listings,
		"count": len(listings),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	q := r.URL.Query()
	stats, err := s.store.ListStats(r.Context(), store.StatsOpts{
		Brand: q.Get("brand"),
		Model: q.Get("model"),
		Year:  queryInt(q.Get("year")),
		Date:  q.Get("date"),
		Limit: queryInt(q.Get("limit")),
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  stats,
		"count": len(stats),
	})
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	scored, err := s.engine.Run(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"scored": scored})
}

func queryInt(s string) int {
	if s == "" {
		return 0
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}

func queryFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
