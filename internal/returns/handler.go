package returns

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

// Handler manages return endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers return routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/sale", h.sale)
	r.Post("/purchase", h.purchase)
	r.Get("/{id}", h.get)
	r.Post("/{id}/cancel", h.cancel)
}

type returnRequest struct {
	OriginalID   int64               `json:"original_id" validate:"required,gt=0"`
	RefundAmount int64               `json:"refund_amount" validate:"required,gt=0"`
	Allocation   []ledger.Allocation `json:"allocation" validate:"omitempty,min=1,dive"`
	Reason       string              `json:"reason"`
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (Input, bool) {
	var req returnRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body", "invalid_amount")
		return Input{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error(), "invalid_amount")
		return Input{}, false
	}
	ident, _ := shared.IdentityFromContext(r.Context())
	return Input{
		OriginalID:   req.OriginalID,
		RefundAmount: req.RefundAmount,
		Allocation:   req.Allocation,
		Reason:       req.Reason,
		ActorID:      ident.UserID,
	}, true
}

func (h *Handler) sale(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decode(w, r)
	if !ok {
		return
	}
	rec, err := h.service.SaleReturn(r.Context(), in)
	if err != nil {
		h.logger.Error("sale return", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rec)
}

func (h *Handler) purchase(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decode(w, r)
	if !ok {
		return
	}
	rec, err := h.service.PurchaseReturn(r.Context(), in)
	if err != nil {
		h.logger.Error("purchase return", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rec)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid return id", "not_found")
		return
	}
	rec, err := h.service.Cancel(r.Context(), id)
	if err != nil {
		h.logger.Error("cancel return", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid return id", "not_found")
		return
	}
	rec, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	records, err := h.service.List(r.Context(), ListFilter{
		Kind:   Kind(q.Get("kind")),
		Branch: q.Get("branch"),
		Status: Status(q.Get("status")),
		Limit:  limit,
	})
	if err != nil {
		h.logger.Error("returns list", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"returns": records})
}
