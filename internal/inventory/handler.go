package inventory

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/atlas-retail/atlas-pos/internal/ledger"
	"github.com/atlas-retail/atlas-pos/internal/platform/httpx"
	"github.com/atlas-retail/atlas-pos/internal/shared"
)

// Handler manages stock endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/intake", h.intake)
	r.Get("/{id}", h.get)
}

type intakeItemRequest struct {
	ProductRef string `json:"product_ref" validate:"required"`
	Serialized bool   `json:"serialized"`
	Quantity   int64  `json:"quantity" validate:"required,gt=0"`
	UnitCost   int64  `json:"unit_cost" validate:"gte=0"`
}

type intakeRequest struct {
	SupplierName  string              `json:"supplier_name" validate:"required"`
	SupplierPhone string              `json:"supplier_phone"`
	Branch        string              `json:"branch" validate:"required"`
	Items         []intakeItemRequest `json:"items" validate:"required,min=1,dive"`
	Paid          []ledger.Allocation `json:"paid" validate:"omitempty,dive"`
}

func (h *Handler) intake(w http.ResponseWriter, r *http.Request) {
	var req intakeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body", "invalid_amount")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error(), "invalid_amount")
		return
	}
	ident, _ := shared.IdentityFromContext(r.Context())
	if !ident.CanAccessBranch(req.Branch) {
		httpx.RespondError(w, shared.ErrPermissionDenied)
		return
	}
	items := make([]IntakeItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, IntakeItem{
			ProductRef: it.ProductRef,
			Serialized: it.Serialized,
			Quantity:   it.Quantity,
			UnitCost:   it.UnitCost,
		})
	}
	lines, err := h.service.Intake(r.Context(), IntakeInput{
		SupplierName:  req.SupplierName,
		SupplierPhone: req.SupplierPhone,
		Branch:        req.Branch,
		Items:         items,
		Paid:          req.Paid,
		ActorID:       ident.UserID,
	})
	if err != nil {
		h.logger.Error("stock intake", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"lines": lines})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	lines, err := h.service.List(r.Context(), ListFilter{
		Branch: q.Get("branch"),
		Status: Status(q.Get("status")),
		Search: q.Get("search"),
		Limit:  limit,
	})
	if err != nil {
		h.logger.Error("stock list", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"lines": lines})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid line id", "not_found")
		return
	}
	line, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, line)
}
