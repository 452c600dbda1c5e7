// Package httpapi is the HTTP surface cmd/api exposes: the WhatsApp webhook
// intake, the image-upload order path, the order action endpoints C6's
// state machine performs, and the health/ready probes. Routing uses chi in
// place of the teacher's net/http ServeMux, with this domain's route set.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/arvind-mehta/orderflow-core/internal/domain"
	"github.com/arvind-mehta/orderflow-core/internal/eventstore"
	platformmetrics "github.com/arvind-mehta/orderflow-core/internal/platform/metrics"
	"github.com/arvind-mehta/orderflow-core/internal/statemachine"
)

// Orders is what the order-read endpoints need.
type Orders interface {
	OrderLookup
	GetOrder(ctx context.Context, id string) (domain.Order, error)
}

// Server holds every collaborator the router's handlers call into.
type Server struct {
	events  *eventstore.Store
	orders  Orders
	sm      *statemachine.StateMachine
	metrics *platformmetrics.HTTP
	log     *slog.Logger
}

func NewServer(events *eventstore.Store, orders Orders, sm *statemachine.StateMachine, metrics *platformmetrics.HTTP, log *slog.Logger) *Server {
	return &Server{events: events, orders: orders, sm: sm, metrics: metrics, log: log.With("component", "httpapi")}
}

// Router builds the chi router for cmd/api.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.recoverer)
	r.Use(s.instrument)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/whatsapp/webhook", s.handleWhatsAppWebhook)
		r.Post("/orders/upload-image", s.handleUploadImage)
		r.Get("/orders/upload-image/{id}", s.handleUploadImageStatus)
		r.Get("/orders/{id}", s.handleGetOrder)
		r.Post("/orders/{id}/confirm", s.handleTransition(domain.OrderConfirmed))
		r.Post("/orders/{id}/assign-vendor", s.handleTransition(domain.OrderVendorAssigned))
		r.Post("/orders/{id}/accept", s.handleTransition(domain.OrderAccepted))
		r.Post("/orders/{id}/dispatch", s.handleTransition(domain.OrderDispatched))
		r.Post("/orders/{id}/deliver", s.handleTransition(domain.OrderDelivered))
		r.Post("/orders/{id}/complete", s.handleTransition(domain.OrderCompleted))
		r.Post("/orders/{id}/cancel", s.handleTransition(domain.OrderCancelled))
	})

	return r
}

// recoverer mirrors chi's built-in Recoverer but logs through the server's
// slog.Logger instead of writing straight to stderr.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("panic recovered", "error", rec, "path", r.URL.Path)
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		if s.metrics != nil {
			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = r.URL.Path
			}
			s.metrics.Observe(r.Method, route, http.StatusText(sw.status), time.Since(start))
		}
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.events.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
