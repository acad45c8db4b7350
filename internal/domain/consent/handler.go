package consent

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
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
	protected.POST("/consents/requests", h.RequestAccess, auth.RequireRole("researcher"))
	protected.POST("/consents/requests/:id/approve", h.Approve)
	protected.POST("/consents/requests/:id/decline", h.Decline)
	protected.POST("/consents/requests/:id/cancel", h.Cancel)
	protected.POST("/consents/requests/:id/withdraw", h.Withdraw)
	protected.GET("/consents/pending", h.ListPending)
	protected.GET("/consents/outgoing", h.ListOutgoing)
	protected.GET("/consents/check", h.Check)
}

// errorBody is the envelope for every consent error response.
type errorBody struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func respondError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	kind := "internal"
	switch {
	case errors.Is(err, ErrInvalidArgument):
		status, kind = http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, ErrNotFound):
		status, kind = http.StatusNotFound, "not_found"
	case errors.Is(err, ErrInvalidState):
		status, kind = http.StatusConflict, "invalid_state"
	case errors.Is(err, ErrDuplicate):
		status, kind = http.StatusConflict, "duplicate"
	case errors.Is(err, ErrOracleUnavailable):
		status, kind = http.StatusBadGateway, "oracle_unavailable"
	case errors.Is(err, ErrReconciliationAnomaly):
		status, kind = http.StatusInternalServerError, "reconciliation_anomaly"
	}
	var body errorBody
	body.Error.Kind = kind
	body.Error.Message = err.Error()
	return c.JSON(status, body)
}

func (h *Handler) RequestAccess(c echo.Context) error {
	requesterID := auth.UserIDFromContext(c)
	if requesterID == 0 {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	var in struct {
		OwnerID  int64  `json:"ownerId"`
		DataHash string `json:"dataHash"`
	}
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req, err := h.svc.RequestAccess(c.Request().Context(), requesterID, in.OwnerID, in.DataHash)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"success": true,
		"request": req,
	})
}

func (h *Handler) requestID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid request id")
	}
	return id, nil
}

func (h *Handler) Approve(c echo.Context) error {
	actorID := auth.UserIDFromContext(c)
	if actorID == 0 {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	id, err := h.requestID(c)
	if err != nil {
		return err
	}
	result, err := h.svc.Approve(c.Request().Context(), id, actorID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":  true,
		"request":  result.Request,
		"txnRef":   result.TxnRef,
		"verified": result.Verified,
	})
}

func (h *Handler) Decline(c echo.Context) error {
	return h.transition(c, h.svc.Decline)
}

func (h *Handler) Cancel(c echo.Context) error {
	return h.transition(c, h.svc.Cancel)
}

func (h *Handler) Withdraw(c echo.Context) error {
	return h.transition(c, h.svc.Withdraw)
}

func (h *Handler) transition(c echo.Context, op func(ctx context.Context, id uuid.UUID, actorID int64) (*Request, error)) error {
	actorID := auth.UserIDFromContext(c)
	if actorID == 0 {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	id, err := h.requestID(c)
	if err != nil {
		return err
	}
	req, err := op(c.Request().Context(), id, actorID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"request": req,
	})
}

func (h *Handler) ListPending(c echo.Context) error {
	ownerID := auth.UserIDFromContext(c)
	if ownerID == 0 {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPending(c.Request().Context(), ownerID, pg.Limit, pg.Offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) ListOutgoing(c echo.Context) error {
	requesterID := auth.UserIDFromContext(c)
	if requesterID == 0 {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByRequester(c.Request().Context(), requesterID, pg.Limit, pg.Offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) Check(c echo.Context) error {
	requesterID := auth.UserIDFromContext(c)
	if requesterID == 0 {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	ownerID, _ := strconv.ParseInt(c.QueryParam("ownerId"), 10, 64)
	dataHash := c.QueryParam("dataHash")
	if ownerID < 1 || dataHash == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "ownerId and dataHash are required")
	}
	allowed, _ := h.svc.CheckAccess(c.Request().Context(), ownerID, requesterID, dataHash)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"allowed": allowed,
	})
}
