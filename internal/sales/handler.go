package sales

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/atlas-retail/atlas-pos/internal/ledger"
	"github.com/atlas-retail/atlas-pos/internal/platform/httpx"
	"github.com/atlas-retail/atlas-pos/internal/shared"
)

// Handler manages sales endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/checkout", h.checkout)
	r.Get("/batch/{batchID}", h.batch)
	r.Get("/{id}", h.get)
}

type checkoutItemRequest struct {
	ProductRef string `json:"product_ref" validate:"required"`
	Quantity   int64  `json:"quantity" validate:"required,gt=0"`
	UnitPrice  int64  `json:"unit_price" validate:"gte=0"`
}

type checkoutRequest struct {
	CustomerName  string                `json:"customer_name" validate:"required"`
	CustomerPhone string                `json:"customer_phone"`
	Branch        string                `json:"branch" validate:"required"`
	Items         []checkoutItemRequest `json:"items" validate:"required,min=1,dive"`
	Paid          []ledger.Allocation   `json:"paid" validate:"omitempty,dive"`
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
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
	items := make([]CheckoutItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, CheckoutItem{ProductRef: it.ProductRef, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	lines, err := h.service.Checkout(r.Context(), CheckoutInput{
		CustomerName:   req.CustomerName,
		CustomerPhone:  req.CustomerPhone,
		Branch:         req.Branch,
		Items:          items,
		Paid:           req.Paid,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		ActorID:        ident.UserID,
	})
	if err != nil {
		h.logger.Error("checkout", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"lines": lines})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	filter := ListFilter{Branch: q.Get("branch"), Search: q.Get("search"), Limit: limit}
	if v := q.Get("returned"); v != "" {
		returned := v == "true"
		filter.Returned = &returned
	}
	lines, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("sales list", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"lines": lines})
}

func (h *Handler) batch(w http.ResponseWriter, r *http.Request) {
	batchID, err := uuid.Parse(chi.URLParam(r, "batchID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid batch id", "not_found")
		return
	}
	lines, err := h.service.ListBatch(r.Context(), batchID)
	if err != nil {
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
