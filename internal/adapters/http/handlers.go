package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tachesure/escrow-service/internal/application"
	"github.com/tachesure/escrow-service/internal/domain"
)

const maxBodyBytes = 1 << 20

// decodeBody accepts an empty body as the zero value.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && err != io.EOF {
		return err
	}
	return nil
}

type createPaymentRequest struct {
	TaskID        string `json:"task_id"`
	PayerID       string `json:"payer_id"`
	PayeeID       string `json:"payee_id"`
	Amount        int64  `json:"amount"`
	PaymentMethod string `json:"payment_method"`
}

func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	payment, err := h.service.CreateEscrowPayment(r.Context(), actorFromRequest(r), application.CreateEscrowPaymentInput{
		TaskID:        req.TaskID,
		PayerID:       req.PayerID,
		PayeeID:       req.PayeeID,
		Amount:        req.Amount,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		h.writeDomainError(w, r, "create_escrow_payment", err)
		return
	}
	writeSuccess(w, http.StatusCreated, toPaymentView(payment))
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := h.service.GetEscrowPayment(r.Context(), chi.URLParam(r, "payment_id"))
	if err != nil {
		h.writeDomainError(w, r, "get_escrow_payment", err)
		return
	}
	writeSuccess(w, http.StatusOK, toPaymentView(payment))
}

type settlePaymentRequest struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason"`
}

func (h *Handler) releasePayment(w http.ResponseWriter, r *http.Request) {
	var req settlePaymentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	payment, err := h.service.ReleaseEscrowPayment(r.Context(), actorFromRequest(r), application.ReleaseEscrowInput{
		PaymentID: chi.URLParam(r, "payment_id"),
		TaskID:    req.TaskID,
	})
	if err != nil {
		h.writeDomainError(w, r, "release_escrow_payment", err)
		return
	}
	writeSuccess(w, http.StatusOK, toPaymentView(payment))
}

func (h *Handler) refundPayment(w http.ResponseWriter, r *http.Request) {
	var req settlePaymentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	payment, err := h.service.RefundEscrowPayment(r.Context(), actorFromRequest(r), application.RefundEscrowInput{
		PaymentID: chi.URLParam(r, "payment_id"),
		TaskID:    req.TaskID,
		Reason:    req.Reason,
	})
	if err != nil {
		h.writeDomainError(w, r, "refund_escrow_payment", err)
		return
	}
	writeSuccess(w, http.StatusOK, toPaymentView(payment))
}

func (h *Handler) disputePayment(w http.ResponseWriter, r *http.Request) {
	var req settlePaymentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	payment, err := h.service.DisputeEscrowPayment(r.Context(), actorFromRequest(r), application.DisputeEscrowInput{
		PaymentID: chi.URLParam(r, "payment_id"),
		Reason:    req.Reason,
	})
	if err != nil {
		h.writeDomainError(w, r, "dispute_escrow_payment", err)
		return
	}
	writeSuccess(w, http.StatusOK, toPaymentView(payment))
}

func (h *Handler) failPayment(w http.ResponseWriter, r *http.Request) {
	var req settlePaymentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	payment, err := h.service.FailEscrowPayment(r.Context(), actorFromRequest(r), application.FailEscrowInput{
		PaymentID: chi.URLParam(r, "payment_id"),
		Reason:    req.Reason,
	})
	if err != nil {
		h.writeDomainError(w, r, "fail_escrow_payment", err)
		return
	}
	writeSuccess(w, http.StatusOK, toPaymentView(payment))
}

func (h *Handler) retryPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := h.service.RetryEscrowPayment(r.Context(), actorFromRequest(r), chi.URLParam(r, "payment_id"))
	if err != nil {
		h.writeDomainError(w, r, "retry_escrow_payment", err)
		return
	}
	writeSuccess(w, http.StatusOK, toPaymentView(payment))
}

func (h *Handler) getTaskSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.service.GetTaskEscrowSummary(r.Context(), chi.URLParam(r, "task_id"))
	if err != nil {
		h.writeDomainError(w, r, "get_task_escrow_summary", err)
		return
	}
	writeSuccess(w, http.StatusOK, summaryView{
		TaskID: s.TaskID, HeldAmount: s.HeldAmount, ReleasedGross: s.ReleasedGross,
		ReleasedNet: s.ReleasedNet, RefundedTotal: s.RefundedTotal, FeeTotal: s.FeeTotal,
		PaymentCount: s.PaymentCount, CalculatedAt: s.CalculatedAt,
	})
}

type milestoneDraftBody struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Amount      int64      `json:"amount"`
	DueDate     *time.Time `json:"due_date"`
}

type createMilestonesRequest struct {
	Milestones []milestoneDraftBody `json:"milestones"`
}

func (h *Handler) createMilestones(w http.ResponseWriter, r *http.Request) {
	var req createMilestonesRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	drafts := make([]domain.MilestoneDraft, 0, len(req.Milestones))
	for _, m := range req.Milestones {
		drafts = append(drafts, domain.MilestoneDraft{
			Title: m.Title, Description: m.Description, Amount: m.Amount, DueDate: m.DueDate,
		})
	}
	created, err := h.service.CreateMilestones(r.Context(), actorFromRequest(r), application.CreateMilestonesInput{
		TaskID:     chi.URLParam(r, "task_id"),
		Milestones: drafts,
	})
	if err != nil {
		h.writeDomainError(w, r, "create_milestones", err)
		return
	}
	writeSuccess(w, http.StatusCreated, toMilestoneViews(created))
}

func (h *Handler) listMilestones(w http.ResponseWriter, r *http.Request) {
	ms, err := h.service.GetTaskMilestones(r.Context(), chi.URLParam(r, "task_id"))
	if err != nil {
		h.writeDomainError(w, r, "get_task_milestones", err)
		return
	}
	writeSuccess(w, http.StatusOK, toMilestoneViews(ms))
}

type fundMilestoneRequest struct {
	PayerID       string `json:"payer_id"`
	PayeeID       string `json:"payee_id"`
	Amount        int64  `json:"amount"`
	PaymentMethod string `json:"payment_method"`
}

func (h *Handler) fundMilestone(w http.ResponseWriter, r *http.Request) {
	var req fundMilestoneRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	funded, err := h.service.FundMilestone(r.Context(), actorFromRequest(r), application.FundMilestoneInput{
		MilestoneID:   chi.URLParam(r, "milestone_id"),
		PayerID:       req.PayerID,
		PayeeID:       req.PayeeID,
		Amount:        req.Amount,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		h.writeDomainError(w, r, "fund_milestone", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"milestone": toMilestoneView(funded.Milestone),
		"payment":   toPaymentView(funded.Payment),
	})
}

func (h *Handler) releaseMilestone(w http.ResponseWriter, r *http.Request) {
	m, err := h.service.ReleaseMilestone(r.Context(), actorFromRequest(r), chi.URLParam(r, "milestone_id"))
	if err != nil {
		h.writeDomainError(w, r, "release_milestone", err)
		return
	}
	writeSuccess(w, http.StatusOK, toMilestoneView(m))
}

func (h *Handler) getPartyTrust(w http.ResponseWriter, r *http.Request) {
	trust, err := h.service.GetPartyTrust(r.Context(), chi.URLParam(r, "party_id"))
	if err != nil {
		h.writeDomainError(w, r, "get_party_trust", err)
		return
	}
	writeSuccess(w, http.StatusOK, toTrustView(trust))
}

func (h *Handler) getPaymentEligibility(w http.ResponseWriter, r *http.Request) {
	method := strings.TrimSpace(r.URL.Query().Get("method"))
	if method == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "method query param is required")
		return
	}
	out, err := h.service.EvaluatePaymentEligibility(r.Context(), chi.URLParam(r, "party_id"), method)
	if err != nil {
		h.writeDomainError(w, r, "evaluate_payment_eligibility", err)
		return
	}
	writeSuccess(w, http.StatusOK, toEligibilityView(out))
}

func (h *Handler) scoreTrust(w http.ResponseWriter, r *http.Request) {
	var req trustFactorsBody
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	level, err := domain.ParseVerificationLevel(req.VerificationLevel)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "unknown verification_level")
		return
	}
	trust, err := h.service.ScoreTrust(domain.TrustScoreFactors{
		VerificationLevel:     level,
		CompletedTasksCount:   req.CompletedTasksCount,
		AverageRating:         req.AverageRating,
		ResponseTimeMinutes:   req.ResponseTimeMinutes,
		CancelledTasksCount:   req.CancelledTasksCount,
		TotalTasksCount:       req.TotalTasksCount,
		CommunityEndorsements: req.CommunityEndorsements,
		HasBackgroundCheck:    req.HasBackgroundCheck,
	})
	if err != nil {
		h.writeDomainError(w, r, "score_trust", err)
		return
	}
	writeSuccess(w, http.StatusOK, toTrustView(trust))
}
