package ledger

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler exposes the ledger over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/movements", h.appendMovement)
	r.Get("/items/{code}/stock", h.currentStock)
	r.Get("/items/{code}/history", h.history)
	r.Post("/items/{code}/rebuild", h.rebuild)
	r.Delete("/movements/{id}", h.deleteMovement)
}

type appendRequest struct {
	ItemCode string  `json:"item_code" validate:"required"`
	Quantity float64 `json:"quantity" validate:"required"`
	Kind     string  `json:"kind" validate:"required"`
	RefKind  string  `json:"ref_kind,omitempty"`
	RefID    string  `json:"ref_id,omitempty"`
	Note     string  `json:"note,omitempty"`
	ActorID  int64   `json:"actor_id,omitempty"`
}

type entryResponse struct {
	ID            int64   `json:"id"`
	ItemCode      string  `json:"item_code"`
	Delta         float64 `json:"delta"`
	Kind          string  `json:"kind"`
	RefKind       string  `json:"ref_kind"`
	RefID         string  `json:"ref_id,omitempty"`
	BalanceBefore float64 `json:"balance_before"`
	BalanceAfter  float64 `json:"balance_after"`
	Note          string  `json:"note,omitempty"`
	ActorID       int64   `json:"actor_id,omitempty"`
	PostedAt      string  `json:"posted_at"`
}

type appendResponse struct {
	Entry   entryResponse `json:"entry"`
	Warning *warningBody  `json:"warning,omitempty"`
}

type warningBody struct {
	ItemCode     string  `json:"item_code"`
	BalanceAfter float64 `json:"balance_after"`
}

func (h *Handler) appendMovement(w http.ResponseWriter, r *http.Request) {
	var req appendRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.NewValidationError("body", "invalid json"))
		return
	}
	if err := shared.ValidateStruct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Append(r.Context(), AppendInput{
		ItemCode: req.ItemCode,
		Quantity: req.Quantity,
		Kind:     MovementKind(req.Kind),
		RefKind:  ReferenceKind(req.RefKind),
		RefID:    req.RefID,
		Note:     req.Note,
		ActorID:  req.ActorID,
	})
	if err != nil {
		h.logger.Error("append movement", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	resp := appendResponse{Entry: toEntryResponse(result.Entry)}
	if result.Warning != nil {
		resp.Warning = &warningBody{ItemCode: result.Warning.ItemCode, BalanceAfter: result.Warning.BalanceAfter}
	}
	httpx.JSON(w, http.StatusCreated, resp)
}

func (h *Handler) currentStock(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	qty, err := h.service.CurrentStock(r.Context(), code)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"item_code": code, "quantity": qty})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	filter := HistoryFilter{ItemCode: chi.URLParam(r, "code")}
	if v := r.URL.Query().Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.From = t
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.To = t
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	entries, err := h.service.History(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	resp := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, toEntryResponse(e))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": resp})
}

func (h *Handler) rebuild(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	result, err := h.service.RebuildProjection(r.Context(), code)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"item_code": result.ItemCode,
		"previous":  result.Previous,
		"current":   result.Current,
		"diverged":  result.Diverged,
	})
}

func (h *Handler) deleteMovement(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, shared.NewValidationError("id", "must be an integer"))
		return
	}
	var actorID int64
	if v := r.URL.Query().Get("actor_id"); v != "" {
		actorID, _ = strconv.ParseInt(v, 10, 64)
	}
	if err := h.service.DeleteEntry(r.Context(), id, actorID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toEntryResponse(e Entry) entryResponse {
	return entryResponse{
		ID:            e.ID,
		ItemCode:      e.ItemCode,
		Delta:         e.Delta,
		Kind:          string(e.Kind),
		RefKind:       string(e.RefKind),
		RefID:         e.RefID,
		BalanceBefore: e.BalanceBefore,
		BalanceAfter:  e.BalanceAfter,
		Note:          e.Note,
		ActorID:       e.ActorID,
		PostedAt:      e.PostedAt.Format(time.RFC3339),
	}
}
