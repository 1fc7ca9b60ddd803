// Package api exposes the engine over REST/JSON plus the websocket
// subscription endpoint.
package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/verity/engine/internal/engine"
	"github.com/verity/engine/internal/hub"
	"github.com/verity/engine/internal/middleware"
)

// Server is the HTTP front of the engine.
type Server struct {
	engine *engine.Engine
	http   *http.Server
	logger *log.Logger
}

// NewServer builds the router and wires every endpoint.
func NewServer(eng *engine.Engine, port string) *Server {
	s := &Server{
		engine: eng,
		logger: log.New(log.Writer(), "[API] ", log.LstdFlags),
	}

	r := mux.NewRouter()

	// CORS Middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{})

	api := r.PathPrefix("/api").Subrouter()

	// Ingestion endpoints sit behind the rate limiter.
	ingest := api.NewRoute().Subrouter()
	ingest.Use(limiter.Middleware)
	ingest.HandleFunc("/products", s.handleRegisterProduct).Methods("POST")
	ingest.HandleFunc("/products/{id}/events", s.handleRecordEvent).Methods("POST")
	ingest.HandleFunc("/reviews", s.handleSubmitReview).Methods("POST")
	ingest.HandleFunc("/scan", s.handleScan).Methods("POST")

	api.HandleFunc("/products", s.handleListProducts).Methods("GET")
	api.HandleFunc("/products/{id}", s.handleGetProduct).Methods("GET")
	api.HandleFunc("/products/{id}/events", s.handleListEvents).Methods("GET")
	api.HandleFunc("/products/{id}/graph", s.handleGetGraph).Methods("GET")
	api.HandleFunc("/products/{id}/reviews", s.handleListReviews).Methods("GET")
	api.HandleFunc("/products/{id}/trust", s.handleTrustBreakdown).Methods("GET")
	api.HandleFunc("/products/{id}/verify", s.handleVerifyChain).Methods("GET")

	api.HandleFunc("/sellers", s.handleRegisterSeller).Methods("POST")
	api.HandleFunc("/sellers", s.handleListSellers).Methods("GET")
	api.HandleFunc("/sellers/{id}", s.handleGetSeller).Methods("GET")
	api.HandleFunc("/sellers/{id}/strike", s.handleStrike).Methods("POST")
	api.HandleFunc("/sellers/{id}/status", s.handleSellerStatus).Methods("PUT")

	api.HandleFunc("/manufacturers/{id}/channels", s.handleSetChannels).Methods("PUT")

	api.HandleFunc("/alerts", s.handleListAlerts).Methods("GET")
	api.HandleFunc("/alerts/{id}", s.handleGetAlert).Methods("GET")
	api.HandleFunc("/alerts/{id}/assign", s.handleAssignAlert).Methods("POST")
	api.HandleFunc("/alerts/{id}/resolve", s.handleResolveAlert).Methods("POST")

	api.HandleFunc("/analytics/dashboard", s.handleDashboard).Methods("GET")

	r.HandleFunc("/ws", hub.HandleWebSocket(eng.Hub())).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	s.http = &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Printf("Listening on %s", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
