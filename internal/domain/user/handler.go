package user

import (
	"errors"
	"net/http"
	"strconv"
	"time"

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

// RegisterRoutes mounts the auth endpoints on the public group and the
// profile/directory endpoints on the authenticated group.
func (h *Handler) RegisterRoutes(public, protected *echo.Group) {
	public.POST("/auth/signup", h.Signup)
	public.POST("/auth/signin", h.Signin)

	protected.POST("/auth/signout", h.Signout)
	protected.GET("/auth/me", h.Me)
	protected.GET("/researchers", h.ListResearchers)
	protected.GET("/users/:id/research", h.GetResearch)
	protected.POST("/users/:id/research", h.UpdateResearch,
		auth.RequireRole(RoleResearcher))
}

type sessionResponse struct {
	User  *User  `json:"user"`
	Token string `json:"token"`
}

func (h *Handler) Signup(c echo.Context) error {
	var in SignupInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	u, token, err := h.svc.Signup(c.Request().Context(), in)
	if errors.Is(err, ErrDuplicateMail) {
		return echo.NewHTTPError(http.StatusConflict, ErrDuplicateMail.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, sessionResponse{User: u, Token: token})
}

func (h *Handler) Signin(c echo.Context) error {
	var in struct {
		Mail     string `json:"mail"`
		Password string `json:"password"`
	}
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	u, token, err := h.svc.Signin(c.Request().Context(), in.Mail, in.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		return echo.NewHTTPError(http.StatusUnauthorized, ErrInvalidCredentials.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, sessionResponse{User: u, Token: token})
}

func (h *Handler) Signout(c echo.Context) error {
	userID := auth.UserIDFromContext(c)
	if userID == 0 {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	jti, _ := c.Get(auth.TokenJTIKey).(string)
	exp, _ := c.Get(auth.TokenExpKey).(time.Time)
	h.svc.Signout(jti, userID, exp)
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) Me(c echo.Context) error {
	userID := auth.UserIDFromContext(c)
	if userID == 0 {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	u, err := h.svc.GetProfile(c.Request().Context(), userID)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, ErrNotFound.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) ListResearchers(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListResearchers(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) GetResearch(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}
	research, err := h.svc.GetOngoingResearch(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, ErrNotFound.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string][]string{"ongoingResearch": research})
}

// UpdateResearch replaces the caller's project list. The path id must match
// the authenticated user.
func (h *Handler) UpdateResearch(c echo.Context) error {
	userID := auth.UserIDFromContext(c)
	if userID == 0 {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}
	if id != userID {
		return echo.NewHTTPError(http.StatusForbidden, "cannot edit another user's research")
	}
	var in struct {
		OngoingResearch []string `json:"ongoingResearch"`
	}
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	err = h.svc.UpdateOngoingResearch(c.Request().Context(), userID, in.OngoingResearch)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, ErrNotFound.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}
