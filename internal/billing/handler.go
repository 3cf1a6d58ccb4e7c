package billing

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler exposes billing documents over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
	linker  *Linker
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, linker *Linker) *Handler {
	return &Handler{logger: logger, service: service, linker: linker}
}

// MountRoutes registers billing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/documents", h.saveDocument)
	r.Get("/documents/{ref}", h.getDocument)
	r.Post("/documents/{ref}/recalculate", h.recalculate)
	r.Post("/credit-notes/{id}/link", h.link)
	r.Get("/invoices/{ref}/adjusted", h.adjusted)
}

type saveRequest struct {
	RefNo          string      `json:"ref_no" validate:"required"`
	Type           string      `json:"type" validate:"required"`
	CustomerCode   string      `json:"customer_code,omitempty"`
	Date           *time.Time  `json:"date,omitempty"`
	TaxRate        float64     `json:"tax_rate" validate:"gte=0,lte=100"`
	HeaderDiscount float64     `json:"header_discount" validate:"gte=0"`
	OrderRefs      []string    `json:"order_refs,omitempty"`
	Lines          []LineInput `json:"lines" validate:"required,min=1,dive"`
	InvoiceRef     string      `json:"invoice_ref,omitempty"`
	OrderRefID     string      `json:"order_ref_id,omitempty"`
	IdempotencyKey string      `json:"idempotency_key,omitempty"`
	ActorID        int64       `json:"actor_id,omitempty"`
}

type saveResponse struct {
	Document      documentBody `json:"document"`
	Clean         bool         `json:"clean"`
	Degraded      []string     `json:"degraded,omitempty"`
	StockError    string       `json:"stock_error,omitempty"`
	LinkError     string       `json:"link_error,omitempty"`
	LinkOutcome   string       `json:"link_outcome,omitempty"`
	StockWarnings int          `json:"stock_warnings,omitempty"`
}

type documentBody struct {
	ID           int64      `json:"id"`
	RefNo        string     `json:"ref_no"`
	Type         string     `json:"type"`
	CustomerCode string     `json:"customer_code,omitempty"`
	Date         time.Time  `json:"date"`
	Gross        float64    `json:"gross"`
	Tax          float64    `json:"tax"`
	Grand        float64    `json:"grand"`
	Net          float64    `json:"net"`
	Debit        float64    `json:"debit"`
	Credit       float64    `json:"credit"`
	Lines        []lineBody `json:"lines,omitempty"`
}

type lineBody struct {
	ItemCode  string  `json:"item_code"`
	Qty       float64 `json:"qty"`
	UnitPrice float64 `json:"unit_price"`
	IsReturn  bool    `json:"is_return"`
	Amount    float64 `json:"amount"`
}

func (h *Handler) saveDocument(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.NewValidationError("body", "invalid json"))
		return
	}
	if err := shared.ValidateStruct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := SaveInput{
		RefNo:          req.RefNo,
		Type:           DocumentType(req.Type),
		CustomerCode:   req.CustomerCode,
		TaxRate:        req.TaxRate,
		HeaderDiscount: req.HeaderDiscount,
		OrderRefs:      req.OrderRefs,
		Lines:          req.Lines,
		InvoiceRef:     req.InvoiceRef,
		OrderRefID:     req.OrderRefID,
		IdempotencyKey: req.IdempotencyKey,
		ActorID:        req.ActorID,
	}
	if req.Date != nil {
		input.Date = *req.Date
	}
	result, err := h.service.SaveDocument(r.Context(), input)
	if err != nil {
		h.logger.Error("save document", slog.Any("error", err), slog.String("ref_no", req.RefNo))
		httpx.RespondError(w, err)
		return
	}
	resp := saveResponse{
		Document:      toDocumentBody(result.Document),
		Clean:         result.Clean(),
		StockError:    result.StockErr,
		LinkError:     result.LinkErr,
		LinkOutcome:   string(result.LinkOutcome),
		StockWarnings: len(result.StockWarnings),
	}
	for _, step := range result.Degraded {
		resp.Degraded = append(resp.Degraded, string(step))
	}
	httpx.JSON(w, http.StatusCreated, resp)
}

func (h *Handler) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.GetDocument(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDocumentBody(doc))
}

func (h *Handler) recalculate(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.Recalculate(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDocumentBody(doc))
}

type linkRequest struct {
	InvoiceRef string `json:"invoice_ref" validate:"required"`
}

func (h *Handler) link(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, shared.NewValidationError("id", "must be an integer"))
		return
	}
	var req linkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.NewValidationError("body", "invalid json"))
		return
	}
	if err := shared.ValidateStruct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.linker.Link(r.Context(), id, req.InvoiceRef)
	if err != nil {
		h.logger.Error("link credit note", slog.Any("error", err), slog.Int64("credit_note_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"credit_note_id": result.Link.CreditNoteID,
		"invoice_id":     result.Link.InvoiceID,
		"outcome":        string(result.Outcome),
	})
}

func (h *Handler) adjusted(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.GetDocument(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	adj, err := h.linker.AdjustedAmounts(r.Context(), doc)
	if err != nil {
		if errors.Is(err, ErrNotAnInvoice) {
			httpx.RespondError(w, shared.NewValidationError("ref", "document is not an invoice"))
			return
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"ref_no": doc.RefNo,
		"gross":  adj.Gross,
		"tax":    adj.Tax,
		"grand":  adj.Grand,
		"net":    adj.Net,
	})
}

func toDocumentBody(doc Document) documentBody {
	body := documentBody{
		ID:           doc.ID,
		RefNo:        doc.RefNo,
		Type:         string(doc.Type),
		CustomerCode: doc.CustomerCode,
		Date:         doc.Date,
		Gross:        doc.Gross,
		Tax:          doc.Tax,
		Grand:        doc.Grand,
		Net:          doc.Net,
		Debit:        doc.Debit,
		Credit:       doc.Credit,
	}
	for _, line := range doc.Lines {
		body.Lines = append(body.Lines, lineBody{
			ItemCode:  line.ItemCode,
			Qty:       line.Qty,
			UnitPrice: line.UnitPrice,
			IsReturn:  line.IsReturn,
			Amount:    line.Amount,
		})
	}
	return body
}
