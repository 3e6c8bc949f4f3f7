package directory

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("doctor"))
	read.GET("/patients", h.list(KindPatient))
	read.GET("/patients/:id", h.get(KindPatient))
	read.GET("/doctors", h.list(KindDoctor))
	read.GET("/doctors/:id", h.get(KindDoctor))

	write := api.Group("", auth.RequireRole("admin"))
	write.POST("/patients", h.register(KindPatient))
	write.POST("/doctors", h.register(KindDoctor))
}

func (h *Handler) register(kind Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		var p Person
		if err := c.Bind(&p); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		p.Kind = kind
		if err := h.svc.Register(c.Request().Context(), &p); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				return c.JSON(http.StatusUnprocessableEntity, map[string]string{
					"error": "ValidationError", "message": ve.Message, "field": ve.Field,
				})
			}
			return err
		}
		return c.JSON(http.StatusCreated, p)
	}
}

func (h *Handler) get(kind Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, err := h.svc.Get(c.Request().Context(), kind, c.Param("id"))
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, string(kind)+" not found")
		}
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, p)
	}
}

func (h *Handler) list(kind Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		pg := pagination.FromContext(c)
		people, total, err := h.svc.List(c.Request().Context(), kind, pg.Limit, pg.Offset)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(people, total, pg))
	}
}
