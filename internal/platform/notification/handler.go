package notification

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/econsult/econsult/internal/platform/auth"
)

// Handler exposes the recent notification log to administrators.
type Handler struct {
	manager *Manager
}

func NewHandler(mgr *Manager) *Handler {
	return &Handler{manager: mgr}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	admin := g.Group("/notifications", auth.RequireRole(auth.RoleAdmin, auth.RoleAdminStaff))
	admin.GET("/stats", h.HandleStats)
	admin.GET("/:id", h.HandleGet)
	admin.GET("", h.HandleList)
	admin.POST("/:id/retry", h.HandleRetry)
}

func (h *Handler) HandleGet(c echo.Context) error {
	n, err := h.manager.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, n)
}

// HandleList handles GET /notifications?recipient=...
func (h *Handler) HandleList(c echo.Context) error {
	recipient := c.QueryParam("recipient")
	if recipient == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "recipient query parameter is required")
	}
	return c.JSON(http.StatusOK, h.manager.ListByRecipient(c.Request().Context(), recipient, 100))
}

func (h *Handler) HandleRetry(c echo.Context) error {
	id := c.Param("id")
	if err := h.manager.Retry(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n, _ := h.manager.Get(c.Request().Context(), id)
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) HandleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.manager.Stats(c.Request().Context()))
}
