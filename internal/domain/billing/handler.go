package billing

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/versioning"
	"github.com/hms/hms/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the bill API on api. paymentMW wraps only payment
// submission, which is where the per-actor limiter goes.
func (h *Handler) RegisterRoutes(api *echo.Group, paymentMW ...echo.MiddlewareFunc) {
	g := api.Group("/bills", auth.RequireRole("doctor", "patient"))
	g.POST("", h.CreateBill)
	g.GET("", h.ListBills)
	g.GET("/:id", h.GetBill)
	g.PUT("/:id/consultation-fee", h.SetConsultationFee)
	g.PUT("/:id/hospital-charges", h.SetHospitalCharges)
	g.POST("/:id/items", h.AddItem)
	g.PATCH("/:id/items/:index", h.UpdateItem)
	g.DELETE("/:id/items/:index", h.RemoveItem)
	g.PUT("/:id/adjustments", h.SetAdjustments)
	g.POST("/:id/finalize", h.FinalizeBill)
	g.POST("/:id/cancel", h.CancelBill)
	g.POST("/:id/payments", h.RecordPayment, paymentMW...)
	g.POST("/:id/payments/:paymentId/reversal", h.ReversePayment)
}

// actorFromContext maps the authenticated identity onto a billing actor.
// The system role is reserved for internal callers.
func actorFromContext(c echo.Context) (Actor, error) {
	ctx := c.Request().Context()
	id := auth.UserIDFromContext(ctx)
	role := Role(auth.PrimaryRole(auth.RolesFromContext(ctx)))
	if id == "" || role == "" || role == RoleSystem {
		return Actor{}, echo.NewHTTPError(http.StatusForbidden, "no billing role")
	}
	return Actor{ID: id, Role: role}, nil
}

type errorResponse struct {
	Error          string           `json:"error"`
	Message        string           `json:"message"`
	Field          string           `json:"field,omitempty"`
	Status         Status           `json:"status,omitempty"`
	Balance        *decimal.Decimal `json:"balance,omitempty"`
	CurrentVersion int              `json:"current_version,omitempty"`
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrOverpayment):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrBillLocked), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// respondError renders engine errors with their kind and context. Anything
// else goes to echo's error handler.
func respondError(c echo.Context, err error) error {
	be, ok := AsError(err)
	if !ok {
		return err
	}
	body := errorResponse{
		Error:          KindName(be),
		Message:        be.Error(),
		Field:          be.Field,
		Status:         be.Status,
		Balance:        be.Balance,
		CurrentVersion: be.CurrentVersion,
	}
	if be.Message != "" {
		body.Message = be.Message
	}
	return c.JSON(httpStatus(be), body)
}

func respondBill(c echo.Context, code int, b *Bill) error {
	versioning.SetETag(c, b.Version)
	return c.JSON(code, b)
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func parseIndex(c echo.Context) (int, error) {
	i, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid item index")
	}
	return i, nil
}

func bind(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return nil
}

// writeRequest collects what every mutating endpoint needs before it calls
// the service: the actor, the bill id and the If-Match version.
func writeRequest(c echo.Context) (Actor, uuid.UUID, int, error) {
	actor, err := actorFromContext(c)
	if err != nil {
		return Actor{}, uuid.Nil, 0, err
	}
	id, err := parseID(c, "id")
	if err != nil {
		return Actor{}, uuid.Nil, 0, err
	}
	version, err := versioning.IfMatch(c)
	if err != nil {
		return Actor{}, uuid.Nil, 0, err
	}
	return actor, id, version, nil
}

func (h *Handler) CreateBill(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	var req CreateBillRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	b, err := h.svc.CreateBill(c.Request().Context(), actor, req)
	if err != nil {
		return respondError(c, err)
	}
	c.Response().Header().Set("Location", c.Request().URL.Path+"/"+b.ID.String())
	return respondBill(c, http.StatusCreated, b)
}

func (h *Handler) GetBill(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	b, err := h.svc.GetBill(c.Request().Context(), actor, id)
	if err != nil {
		return respondError(c, err)
	}
	if versioning.NotModified(c, b.Version) {
		versioning.SetETag(c, b.Version)
		return c.NoContent(http.StatusNotModified)
	}
	return respondBill(c, http.StatusOK, b)
}

func (h *Handler) ListBills(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	f := ListFilter{
		PatientRef: c.QueryParam("patient_ref"),
		DoctorRef:  c.QueryParam("doctor_ref"),
	}
	if s := c.QueryParam("status"); s != "" {
		st, err := ParseStatus(s)
		if err != nil {
			return respondError(c, err)
		}
		f.Status = st
	}
	pg := pagination.FromContext(c)
	bills, total, err := h.svc.ListBills(c.Request().Context(), actor, f, pg.Limit, pg.Offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(bills, total, pg))
}

type consultationFeeRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Notes  string          `json:"notes"`
}

func (h *Handler) SetConsultationFee(c echo.Context) error {
	actor, id, version, err := writeRequest(c)
	if err != nil {
		return err
	}
	var req consultationFeeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	b, err := h.svc.SetConsultationFee(c.Request().Context(), actor, id, version, req.Amount, req.Notes)
	if err != nil {
		return respondError(c, err)
	}
	return respondBill(c, http.StatusOK, b)
}

func (h *Handler) SetHospitalCharges(c echo.Context) error {
	actor, id, version, err := writeRequest(c)
	if err != nil {
		return err
	}
	var req HospitalCharges
	if err := bind(c, &req); err != nil {
		return err
	}
	b, err := h.svc.SetHospitalCharges(c.Request().Context(), actor, id, version, req)
	if err != nil {
		return respondError(c, err)
	}
	return respondBill(c, http.StatusOK, b)
}

func (h *Handler) AddItem(c echo.Context) error {
	actor, id, version, err := writeRequest(c)
	if err != nil {
		return err
	}
	var item Item
	if err := bind(c, &item); err != nil {
		return err
	}
	b, err := h.svc.AddItem(c.Request().Context(), actor, id, version, item)
	if err != nil {
		return respondError(c, err)
	}
	return respondBill(c, http.StatusCreated, b)
}

func (h *Handler) UpdateItem(c echo.Context) error {
	actor, id, version, err := writeRequest(c)
	if err != nil {
		return err
	}
	index, err := parseIndex(c)
	if err != nil {
		return err
	}
	var patch ItemPatch
	if err := bind(c, &patch); err != nil {
		return err
	}
	b, err := h.svc.UpdateItem(c.Request().Context(), actor, id, version, index, patch)
	if err != nil {
		return respondError(c, err)
	}
	return respondBill(c, http.StatusOK, b)
}

func (h *Handler) RemoveItem(c echo.Context) error {
	actor, id, version, err := writeRequest(c)
	if err != nil {
		return err
	}
	index, err := parseIndex(c)
	if err != nil {
		return err
	}
	b, err := h.svc.RemoveItem(c.Request().Context(), actor, id, version, index)
	if err != nil {
		return respondError(c, err)
	}
	return respondBill(c, http.StatusOK, b)
}

func (h *Handler) SetAdjustments(c echo.Context) error {
	actor, id, version, err := writeRequest(c)
	if err != nil {
		return err
	}
	var adj Adjustments
	if err := bind(c, &adj); err != nil {
		return err
	}
	b, err := h.svc.SetAdjustments(c.Request().Context(), actor, id, version, adj)
	if err != nil {
		return respondError(c, err)
	}
	return respondBill(c, http.StatusOK, b)
}

func (h *Handler) FinalizeBill(c echo.Context) error {
	actor, id, version, err := writeRequest(c)
	if err != nil {
		return err
	}
	b, err := h.svc.FinalizeBill(c.Request().Context(), actor, id, version)
	if err != nil {
		return respondError(c, err)
	}
	return respondBill(c, http.StatusOK, b)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) CancelBill(c echo.Context) error {
	actor, id, version, err := writeRequest(c)
	if err != nil {
		return err
	}
	var req cancelRequest
	if c.Request().ContentLength != 0 {
		if err := bind(c, &req); err != nil {
			return err
		}
	}
	b, err := h.svc.CancelBill(c.Request().Context(), actor, id, version, req.Reason)
	if err != nil {
		return respondError(c, err)
	}
	return respondBill(c, http.StatusOK, b)
}

func (h *Handler) RecordPayment(c echo.Context) error {
	actor, id, version, err := writeRequest(c)
	if err != nil {
		return err
	}
	var req PaymentRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	b, err := h.svc.RecordPayment(c.Request().Context(), actor, id, version, req)
	if err != nil {
		return respondError(c, err)
	}
	return respondBill(c, http.StatusCreated, b)
}

func (h *Handler) ReversePayment(c echo.Context) error {
	actor, id, version, err := writeRequest(c)
	if err != nil {
		return err
	}
	paymentID, err := parseID(c, "paymentId")
	if err != nil {
		return err
	}
	var req ReversalRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	b, err := h.svc.ReversePayment(c.Request().Context(), actor, id, version, paymentID, req)
	if err != nil {
		return respondError(c, err)
	}
	return respondBill(c, http.StatusCreated, b)
}
