package physician

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/econsult/econsult/internal/platform/auth"
	"github.com/econsult/econsult/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	me := api.Group("/me", auth.RequireSession())
	me.GET("", h.GetMe)
	me.POST("", h.Register)
	me.PUT("", h.UpdateSettings)
	me.PATCH("/notifications", h.SetNotificationPrefs)

	admin := api.Group("/physicians", auth.RequireRole(auth.RoleAdmin, auth.RoleAdminStaff))
	admin.GET("", h.List)
	admin.PATCH("/:id/role", h.SetRole)
}

func session(c echo.Context) (*auth.Session, error) {
	sess, ok := auth.SessionFromContext(c.Request().Context())
	if !ok {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "no session")
	}
	return sess, nil
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "profile not found")
	case errors.Is(err, ErrAlreadyRegistered):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

func (h *Handler) GetMe(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetByID(c.Request().Context(), sess.UserID)
	if err != nil {
		return mapErr(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Register(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	var prof Profile
	if err := c.Bind(&prof); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.Register(c.Request().Context(), sess, prof)
	if err != nil {
		return mapErr(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) UpdateSettings(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	var prof Profile
	if err := c.Bind(&prof); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.UpdateSettings(c.Request().Context(), sess, prof)
	if err != nil {
		return mapErr(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) SetNotificationPrefs(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	var prefs NotificationPrefs
	if err := c.Bind(&prefs); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.SetNotificationPrefs(c.Request().Context(), sess, prefs)
	if err != nil {
		return mapErr(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) List(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), sess, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) SetRole(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var a RoleAssignment
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.SetRole(c.Request().Context(), sess, id, a)
	if err != nil {
		return mapErr(err)
	}
	return c.JSON(http.StatusOK, p)
}
