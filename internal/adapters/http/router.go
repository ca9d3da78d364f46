package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tachesure/escrow-service/internal/application"
)

type Handler struct {
	service  *application.Service
	verifier TokenVerifier
	logger   *slog.Logger
	ready    func(ctx context.Context) error
}

// NewHandler wires the escrow service behind bearer auth. ready backs
// /readyz; nil means always ready.
func NewHandler(service *application.Service, verifier TokenVerifier, logger *slog.Logger, ready func(ctx context.Context) error) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, verifier: verifier, logger: logger, ready: ready}
}

func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(handler.recoverMiddleware)
	r.Use(handler.loggingMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { writeMessage(w, http.StatusOK, "ok") })
	r.Get("/readyz", handler.readyz)

	r.Route("/v1", func(r chi.Router) {
		r.Use(handler.authMiddleware)

		r.Route("/payments", func(r chi.Router) {
			r.Post("/", handler.createPayment)
			r.Get("/{payment_id}", handler.getPayment)
			r.Post("/{payment_id}/release", handler.releasePayment)
			r.Post("/{payment_id}/refund", handler.refundPayment)
			r.Post("/{payment_id}/dispute", handler.disputePayment)
			r.Post("/{payment_id}/fail", handler.failPayment)
			r.Post("/{payment_id}/retry", handler.retryPayment)
		})
		r.Route("/tasks/{task_id}", func(r chi.Router) {
			r.Get("/escrow-summary", handler.getTaskSummary)
			r.Get("/milestones", handler.listMilestones)
			r.Post("/milestones", handler.createMilestones)
		})
		r.Route("/milestones/{milestone_id}", func(r chi.Router) {
			r.Post("/fund", handler.fundMilestone)
			r.Post("/release", handler.releaseMilestone)
		})
		r.Route("/parties/{party_id}", func(r chi.Router) {
			r.Get("/trust", handler.getPartyTrust)
			r.Get("/payment-eligibility", handler.getPaymentEligibility)
		})
		r.Post("/trust/score", handler.scoreTrust)
	})
	return r
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.ready(ctx); err != nil {
			h.logger.WarnContext(r.Context(), "readiness check failed",
				"module", "transport.http",
				"layer", "adapter",
				"operation", "readyz",
				"outcome", "failure",
				"error", err,
			)
			writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "not ready")
			return
		}
	}
	writeMessage(w, http.StatusOK, "ready")
}
