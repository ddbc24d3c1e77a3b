package debt

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/atlas-retail/atlas-pos/internal/ledger"
	"github.com/atlas-retail/atlas-pos/internal/platform/httpx"
	"github.com/atlas-retail/atlas-pos/internal/shared"
)

// Handler manages debt endpoints for one side of the book. The router
// mounts one instance per kind.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	kind     Kind
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, kind Kind) *Handler {
	return &Handler{logger: logger, service: service, kind: kind, validate: validator.New()}
}

// MountRoutes registers debt routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/pay", h.pay)
	r.Post("/increase", h.increase)
	r.Patch("/identity", h.updateIdentity)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		Branch:         q.Get("branch"),
		Search:         q.Get("search"),
		IncludeSettled: q.Get("include_settled") == "true",
	}
	ident, _ := shared.IdentityFromContext(r.Context())
	if filter.Branch == "" && !ident.Unrestricted() {
		filter.Branch = ident.Branch
	}
	if !ident.CanAccessBranch(filter.Branch) {
		httpx.RespondError(w, shared.ErrPermissionDenied)
		return
	}
	debtors, err := h.service.ListDebtors(r.Context(), h.kind, filter)
	if err != nil {
		h.logger.Error("debt list", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"debtors": debtors})
}

type payRequest struct {
	Name   string              `json:"name" validate:"required"`
	Phone  string              `json:"phone"`
	Amount int64               `json:"amount" validate:"omitempty,gt=0"`
	Paid   []ledger.Allocation `json:"paid" validate:"omitempty,min=1,dive"`
}

func (h *Handler) pay(w http.ResponseWriter, r *http.Request) {
	var req payRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body", "invalid_amount")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error(), "invalid_amount")
		return
	}
	result, err := h.service.ApplyPayment(r.Context(), h.kind,
		Identity{Name: req.Name, Phone: req.Phone}, req.Amount, req.Paid)
	if err != nil {
		h.logger.Error("debt pay", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type increaseRequest struct {
	Name   string `json:"name" validate:"required"`
	Phone  string `json:"phone"`
	Amount int64  `json:"amount" validate:"required,gt=0"`
}

func (h *Handler) increase(w http.ResponseWriter, r *http.Request) {
	var req increaseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body", "invalid_amount")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error(), "invalid_amount")
		return
	}
	result, err := h.service.ApplyDebtIncrease(r.Context(), h.kind,
		Identity{Name: req.Name, Phone: req.Phone}, req.Amount)
	if err != nil {
		h.logger.Error("debt increase", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type updateIdentityRequest struct {
	Name      string `json:"name" validate:"required"`
	Phone     string `json:"phone"`
	NewName   string `json:"new_name" validate:"required"`
	NewPhone  string `json:"new_phone"`
	PaidTotal *int64 `json:"paid_total" validate:"omitempty,gte=0"`
}

func (h *Handler) updateIdentity(w http.ResponseWriter, r *http.Request) {
	var req updateIdentityRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body", "invalid_amount")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error(), "invalid_amount")
		return
	}
	err := h.service.UpdateIdentity(r.Context(), h.kind,
		Identity{Name: req.Name, Phone: req.Phone},
		Identity{Name: req.NewName, Phone: req.NewPhone},
		req.PaidTotal)
	if err != nil {
		h.logger.Error("debt identity update", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "updated"})
}
