package ar

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler exposes the outstanding-balance views over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers AR routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/payments", h.registerPayment)
	r.Delete("/receipts/{no}", h.excludeReceipt)
	r.Get("/invoices/{ref}/payments", h.listPayments)
	r.Get("/invoices/{ref}/outstanding", h.outstanding)
	r.Get("/outstanding", h.listOutstanding)
	r.Get("/aging", h.aging)
}

type paymentRequest struct {
	ReceiptNo  string     `json:"receipt_no" validate:"required"`
	InvoiceRef string     `json:"invoice_ref" validate:"required"`
	Amount     float64    `json:"amount" validate:"required,gt=0"`
	Method     string     `json:"method,omitempty"`
	Note       string     `json:"note,omitempty"`
	PaidAt     *time.Time `json:"paid_at,omitempty"`
	ActorID    int64      `json:"actor_id,omitempty"`
}

func (h *Handler) registerPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.NewValidationError("body", "invalid json"))
		return
	}
	if err := shared.ValidateStruct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := PaymentInput{
		ReceiptNo:  req.ReceiptNo,
		InvoiceRef: req.InvoiceRef,
		Amount:     req.Amount,
		Method:     req.Method,
		Note:       req.Note,
		ActorID:    req.ActorID,
	}
	if req.PaidAt != nil {
		input.PaidAt = *req.PaidAt
	}
	payment, err := h.service.RegisterPayment(r.Context(), input)
	if err != nil {
		h.logger.Error("register payment", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, payment)
}

func (h *Handler) excludeReceipt(w http.ResponseWriter, r *http.Request) {
	affected, err := h.service.ExcludeReceipt(r.Context(), chi.URLParam(r, "no"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"excluded": affected})
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.service.ListPayments(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"payments": payments})
}

func (h *Handler) outstanding(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	invoice, err := h.service.billing.GetDocument(r.Context(), ref)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	balance, err := h.service.Outstanding(r.Context(), invoice)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	open, err := h.service.IsOutstanding(r.Context(), invoice)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"ref_no":      ref,
		"outstanding": balance,
		"settled":     !open,
	})
}

func (h *Handler) listOutstanding(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.ListOutstanding(r.Context())
	if err != nil {
		h.logger.Error("list outstanding", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invoices": rows})
}

func (h *Handler) aging(w http.ResponseWriter, r *http.Request) {
	asOf := time.Time{}
	if v := r.URL.Query().Get("as_of"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			asOf = t
		}
	}
	bucket, err := h.service.Aging(r.Context(), asOf)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bucket)
}
