package payment

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/patientx/patientx/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(protected *echo.Group) {
	protected.POST("/payments/orders", h.CreateOrder, auth.RequireRole("researcher"))
	protected.POST("/payments/verify", h.Verify)
	protected.GET("/payments", h.History)
}

func (h *Handler) CreateOrder(c echo.Context) error {
	requesterID := auth.UserIDFromContext(c)
	if requesterID == 0 {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	var in CreateOrderInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	order, err := h.svc.CreateOrder(c.Request().Context(), requesterID, in)
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrConsentRequired):
		return echo.NewHTTPError(http.StatusForbidden, ErrConsentRequired.Error())
	case errors.Is(err, ErrProviderUnavailable):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, order)
}

func (h *Handler) Verify(c echo.Context) error {
	if auth.UserIDFromContext(c) == 0 {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	var in VerifyInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	order, err := h.svc.Verify(c.Request().Context(), in)
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrSignatureMismatch):
		return echo.NewHTTPError(http.StatusBadRequest, ErrSignatureMismatch.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, ErrNotFound.Error())
	case errors.Is(err, ErrAlreadyPaid):
		return echo.NewHTTPError(http.StatusConflict, ErrAlreadyPaid.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, order)
}

func (h *Handler) History(c echo.Context) error {
	requesterID := auth.UserIDFromContext(c)
	if requesterID == 0 {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	orders, err := h.svc.History(c.Request().Context(), requesterID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, orders)
}
