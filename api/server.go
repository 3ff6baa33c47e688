// Package api exposes the fleet services over HTTP under /api.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/kilianp07/wastefleet/core/bucket"
	"github.com/kilianp07/wastefleet/core/dispatch"
	"github.com/kilianp07/wastefleet/core/fleet"
	"github.com/kilianp07/wastefleet/core/logger"
	"github.com/kilianp07/wastefleet/core/monitoring"
	"github.com/kilianp07/wastefleet/core/technician"
)

// Services are the core services served by the API.
type Services struct {
	Buckets     *bucket.Service
	Collections *dispatch.Coordinator
	Technicians *technician.Manager
	Fleet       *fleet.Service
}

// Options tune the router. Zero values are usable.
type Options struct {
	// AllowedOrigins for CORS. Empty allows any origin.
	AllowedOrigins []string
	// Gatherer backs /metrics. Nil uses the default gatherer.
	Gatherer prometheus.Gatherer
	// Ready backs /healthz. Nil always reports healthy.
	Ready  func(ctx context.Context) error
	Logger logger.Logger
}

// Server routes HTTP requests to the core services.
type Server struct {
	svc   Services
	log   logger.Logger
	ready func(ctx context.Context) error
}

// NewHandler builds the API handler.
func NewHandler(svc Services, opts Options) (http.Handler, error) {
	if svc.Buckets == nil || svc.Collections == nil || svc.Technicians == nil || svc.Fleet == nil {
		return nil, fmt.Errorf("api: nil service provided to NewHandler")
	}
	s := &Server{svc: svc, log: logger.OrNop(opts.Logger), ready: opts.Ready}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router := mux.NewRouter()
	router.Use(s.recover, s.instrument)
	router.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	r := router.PathPrefix("/api").Subrouter()
	r.HandleFunc("/buckets", s.createBucket).Methods(http.MethodPost)
	r.HandleFunc("/buckets/unique/{code}", s.bucketIDUnique).Methods(http.MethodGet)
	r.HandleFunc("/buckets/{id}", s.getBucket).Methods(http.MethodGet)
	r.HandleFunc("/buckets/{id}", s.deleteBucket).Methods(http.MethodDelete)
	r.HandleFunc("/buckets/{id}/fill", s.updateFill).Methods(http.MethodPut)
	r.HandleFunc("/buckets/{id}/health", s.updateHealth).Methods(http.MethodPut)

	r.HandleFunc("/trash", s.addTrash).Methods(http.MethodPost)
	r.HandleFunc("/trash/{id}", s.removeTrash).Methods(http.MethodDelete)

	r.HandleFunc("/users/{userID}/buckets", s.userBuckets).Methods(http.MethodGet)
	r.HandleFunc("/users/{userID}/trash/stats", s.trashStats).Methods(http.MethodGet)
	r.HandleFunc("/users/{userID}/summary", s.summary).Methods(http.MethodGet)
	r.HandleFunc("/map/bins", s.binLocations).Methods(http.MethodGet)
	r.HandleFunc("/map/bins/nearby", s.nearbyBins).Methods(http.MethodGet)

	r.HandleFunc("/collections", s.listCollections).Methods(http.MethodGet)
	r.HandleFunc("/collections/history", s.collectionHistory).Methods(http.MethodGet)
	r.HandleFunc("/collections/{id}", s.getCollection).Methods(http.MethodGet)
	r.HandleFunc("/collections/{id}/start", s.startCollection).Methods(http.MethodPost)
	r.HandleFunc("/collections/{id}/complete", s.completeCollection).Methods(http.MethodPost)

	r.HandleFunc("/technician-requests", s.requestTechnician).Methods(http.MethodPost)
	r.HandleFunc("/technician-requests", s.openTechnicianRequests).Methods(http.MethodGet)
	r.HandleFunc("/technician-requests/{id}", s.getTechnicianRequest).Methods(http.MethodGet)
	r.HandleFunc("/technician-requests/{id}/assign", s.assignTechnician).Methods(http.MethodPost)
	r.HandleFunc("/technician-requests/{id}/resolve", s.resolveTechnician).Methods(http.MethodPost)

	c := cors.New(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(router), nil
}

func (s *Server) recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				err := fmt.Errorf("panic serving %s %s: %v", r.Method, r.URL.Path, rec)
				s.log.Errorf("%v", err)
				monitoring.CaptureException(err, map[string]string{"component": "api"})
				writeJSON(w, http.StatusInternalServerError, ErrorResponse{Code: "internal", Message: "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
