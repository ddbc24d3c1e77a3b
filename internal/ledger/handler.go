package ledger

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/atlas-retail/atlas-pos/internal/platform/httpx"
	"github.com/atlas-retail/atlas-pos/internal/shared"
)

// Handler manages cashbook endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers cashbook routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.append)
	r.Get("/balance", h.balance)
	r.Post("/reindex", h.reindex)
	r.Get("/{id}", h.get)
	r.Patch("/{id}", h.update)
	r.Delete("/{id}", h.delete)
}

type appendRequest struct {
	Direction     string `json:"direction" validate:"required,oneof=inflow outflow"`
	Amount        int64  `json:"amount" validate:"required,gt=0"`
	Source        string `json:"money_source" validate:"required,oneof=cash card ewallet"`
	Branch        string `json:"branch" validate:"required"`
	Label         string `json:"label"`
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone"`
	SupplierName  string `json:"supplier_name"`
	OccurredAt    string `json:"occurred_at"`
}

type entryResponse struct {
	ID            int64  `json:"id"`
	Direction     string `json:"direction"`
	Amount        int64  `json:"amount"`
	Source        string `json:"money_source"`
	Branch        string `json:"branch"`
	Label         string `json:"label"`
	CustomerName  string `json:"customer_name,omitempty"`
	CustomerPhone string `json:"customer_phone,omitempty"`
	SupplierName  string `json:"supplier_name,omitempty"`
	RelatedID     int64  `json:"related_id,omitempty"`
	Kind          string `json:"kind"`
	OccurredAt    string `json:"occurred_at"`
	RecordedAt    string `json:"recorded_at"`
	BalanceBefore int64  `json:"balance_before"`
	BalanceAfter  int64  `json:"balance_after"`
	AutoGenerated bool   `json:"auto_generated"`
	Locked        bool   `json:"locked"`
}

func toEntryResponse(e Entry) entryResponse {
	return entryResponse{
		ID:            e.ID,
		Direction:     string(e.Direction),
		Amount:        e.Amount,
		Source:        string(e.Source),
		Branch:        e.Branch,
		Label:         e.Label,
		CustomerName:  e.CustomerName,
		CustomerPhone: e.CustomerPhone,
		SupplierName:  e.SupplierName,
		RelatedID:     e.RelatedID,
		Kind:          string(e.Kind),
		OccurredAt:    e.OccurredAt.Format(time.RFC3339),
		RecordedAt:    e.RecordedAt.Format(time.RFC3339),
		BalanceBefore: e.BalanceBefore,
		BalanceAfter:  e.BalanceAfter,
		AutoGenerated: e.AutoGenerated,
		Locked:        e.Locked,
	}
}

func (h *Handler) append(w http.ResponseWriter, r *http.Request) {
	var req appendRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body", "invalid_amount")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error(), "invalid_amount")
		return
	}
	var occurred time.Time
	if req.OccurredAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.OccurredAt)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "occurred_at must be RFC3339", "invalid_amount")
			return
		}
		occurred = parsed
	}
	ident, _ := shared.IdentityFromContext(r.Context())
	entry, err := h.service.Append(r.Context(), AppendInput{
		Direction:     Direction(req.Direction),
		Amount:        req.Amount,
		Source:        MoneySource(req.Source),
		Branch:        req.Branch,
		Label:         req.Label,
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		SupplierName:  req.SupplierName,
		Kind:          KindManual,
		OccurredAt:    occurred,
		CreatedBy:     ident.UserID,
	})
	if err != nil {
		h.logger.Error("cashbook append", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toEntryResponse(entry))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	filter := ListFilter{
		Source: MoneySource(q.Get("money_source")),
		Branch: q.Get("branch"),
		Limit:  limit,
	}
	if from := q.Get("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			filter.From = t
		}
	}
	if to := q.Get("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filter.To = t
		}
	}
	entries, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("cashbook list", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryResponse(e))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": out})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid entry id", "not_found")
		return
	}
	entry, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toEntryResponse(entry))
}

type updateRequest struct {
	Label      *string `json:"label"`
	Amount     *int64  `json:"amount" validate:"omitempty,gt=0"`
	Direction  *string `json:"direction" validate:"omitempty,oneof=inflow outflow"`
	Source     *string `json:"money_source" validate:"omitempty,oneof=cash card ewallet"`
	Branch     *string `json:"branch"`
	OccurredAt *string `json:"occurred_at"`
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid entry id", "not_found")
		return
	}
	var req updateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body", "invalid_amount")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error(), "invalid_amount")
		return
	}
	in := UpdateInput{Label: req.Label, Amount: req.Amount, Branch: req.Branch}
	if req.Direction != nil {
		d := Direction(*req.Direction)
		in.Direction = &d
	}
	if req.Source != nil {
		src := MoneySource(*req.Source)
		in.Source = &src
	}
	if req.OccurredAt != nil {
		t, err := time.Parse(time.RFC3339, *req.OccurredAt)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "occurred_at must be RFC3339", "invalid_amount")
			return
		}
		in.OccurredAt = &t
	}
	entry, err := h.service.Update(r.Context(), id, in)
	if err != nil {
		h.logger.Error("cashbook update", slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toEntryResponse(entry))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid entry id", "not_found")
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.logger.Error("cashbook delete", slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deleted": id})
}

type pairRequest struct {
	Source string `json:"money_source" validate:"required,oneof=cash card ewallet"`
	Branch string `json:"branch" validate:"required"`
}

func (h *Handler) reindex(w http.ResponseWriter, r *http.Request) {
	var req pairRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body", "invalid_amount")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error(), "invalid_amount")
		return
	}
	balance, err := h.service.Reindex(r.Context(), MoneySource(req.Source), req.Branch)
	if err != nil {
		h.logger.Error("cashbook reindex", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"final_balance": balance})
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	source := MoneySource(r.URL.Query().Get("money_source"))
	branch := r.URL.Query().Get("branch")
	if !source.Valid() || branch == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "money_source and branch are required", "invalid_amount")
		return
	}
	balance, err := h.service.CurrentBalance(r.Context(), source, branch)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"money_source": source,
		"branch":       branch,
		"balance":      balance,
	})
}
