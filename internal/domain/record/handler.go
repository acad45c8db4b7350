package record

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/patientx/patientx/internal/platform/auth"
	"github.com/patientx/patientx/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(protected *echo.Group) {
	protected.POST("/records", h.Store, auth.RequireRole("patient"))
	protected.GET("/records", h.Browse)
	protected.GET("/records/:dataHash", h.Get)
}

func (h *Handler) Store(c echo.Context) error {
	patientID := auth.UserIDFromContext(c)
	if patientID == 0 {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	var in StoreInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rec, err := h.svc.Store(c.Request().Context(), patientID, in)
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrDuplicate):
		return echo.NewHTTPError(http.StatusConflict, ErrDuplicate.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) Get(c echo.Context) error {
	viewerID := auth.UserIDFromContext(c)
	if viewerID == 0 {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	dataHash := c.Param("dataHash")
	if !strings.HasPrefix(dataHash, "0x") {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid data hash")
	}
	rec, err := h.svc.GetByHash(c.Request().Context(), viewerID, dataHash)
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, ErrNotFound.Error())
	case errors.Is(err, ErrAccessDenied):
		return echo.NewHTTPError(http.StatusForbidden, ErrAccessDenied.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Browse(c echo.Context) error {
	pg := pagination.FromContext(c)
	ownerID, _ := strconv.ParseInt(c.QueryParam("ownerId"), 10, 64)
	items, total, err := h.svc.Browse(c.Request().Context(), ownerID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}
