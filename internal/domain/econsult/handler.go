package econsult

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/econsult/econsult/internal/platform/aiassist"
	"github.com/econsult/econsult/internal/platform/auth"
	"github.com/econsult/econsult/internal/platform/blobstore"
	"github.com/econsult/econsult/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – every portal role; row access is checked per consult
	read := api.Group("", auth.RequireSession())
	read.GET("/consults", h.ListConsults)
	read.GET("/consults/summary", h.GetSummary)
	read.GET("/consults/:id", h.GetConsult)
	read.GET("/consults/:id/history", h.GetHistory)
	read.GET("/consults/:id/print", h.PrintConsult)
	read.GET("/consults/:id/attachments", h.ListAttachments)
	read.POST("/consults/:id/attachments", h.UploadAttachment)
	read.GET("/attachments/:id/download", h.DownloadAttachment)
	read.GET("/consults/:id/messages", h.ListMessages)
	read.POST("/consults/:id/messages", h.PostMessage)
	read.PATCH("/messages/:id/read", h.MarkMessageRead)

	// Submission – referring physicians
	submit := api.Group("", auth.RequireRole(auth.RolePhysician))
	submit.POST("/consults", h.SubmitConsult)
	submit.POST("/consults/validate", h.ValidateStep)

	// Response – specialists
	respond := api.Group("", auth.RequireRole(auth.RoleSpecialist))
	respond.POST("/consults/:id/draft/generate", h.GenerateDraft)
	respond.PUT("/consults/:id/draft", h.SaveDraft)
	respond.POST("/consults/:id/response", h.SubmitResponse)
	respond.PATCH("/consults/:id/next-step", h.SetNextStep)

	// Export – clinic administrators
	admin := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleAdminStaff))
	admin.GET("/consults/export", h.ExportConsults)
}

func session(c echo.Context) (*auth.Session, error) {
	sess, ok := auth.SessionFromContext(c.Request().Context())
	if !ok {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "no session")
	}
	return sess, nil
}

func paramID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// httpError maps domain and collaborator errors to HTTP responses.
func httpError(err error) error {
	var verr *ValidationError
	var aerr *aiassist.ServiceError
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, verr)
	case errors.Is(err, ErrEmptyResponse), errors.Is(err, ErrEmptyMessage), errors.Is(err, ErrInvalidNextStep):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, blobstore.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrBusy), errors.Is(err, ErrCompleted), errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.As(err, &aerr):
		return echo.NewHTTPError(http.StatusBadGateway, aerr.Error())
	case errors.Is(err, aiassist.ErrNotConfigured):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, blobstore.ErrInvalidContentType):
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, blobstore.ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// -- Submission --

func (h *Handler) SubmitConsult(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	var form SubmissionForm
	if err := c.Bind(&form); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	consult, err := h.svc.Submit(c.Request().Context(), sess, &form)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, consult)
}

// ValidateStep checks one wizard step, or every step when none is named.
func (h *Handler) ValidateStep(c echo.Context) error {
	var form SubmissionForm
	if err := c.Bind(&form); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	name := c.QueryParam("step")
	if name == "" {
		if err := form.Validate(); err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"valid": true, "bmi": form.BMI()})
	}

	step, ok := ParseStep(name)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown step %q", name))
	}
	if err := form.ValidateStep(step); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"valid": true, "step": step, "bmi": form.BMI()})
}

// -- Views --

// ListConsults dispatches on the caller's role. Query params: q (search),
// sort (date|status), order (asc|desc), partition (specialists only).
func (h *Handler) ListConsults(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	q := ListQuery{
		Term:       c.QueryParam("q"),
		Sort:       SortByDate,
		Desc:       c.QueryParam("order") != "asc",
		UrgentOnly: c.QueryParam("urgent") == "true",
	}
	if c.QueryParam("sort") == string(SortByStatus) {
		q.Sort = SortByStatus
	}
	pg := pagination.FromContext(c)

	switch {
	case sess.IsSpecialist():
		parts, err := h.svc.SpecialistConsults(ctx, sess)
		if err != nil {
			return httpError(err)
		}
		if name := c.QueryParam("partition"); name != "" {
			bucket, ok := parts.Get(name)
			if !ok {
				return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown partition %q", name))
			}
			items := q.Arrange(bucket)
			return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Page(items, pg), len(items), pg.Limit, pg.Offset))
		}
		return c.JSON(http.StatusOK, Partitions{
			New:        q.Arrange(parts.New),
			InProgress: q.Arrange(parts.InProgress),
			Completed:  q.Arrange(parts.Completed),
		})

	case sess.IsAdmin():
		rows, err := h.svc.AdminConsults(ctx, sess, q)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Page(rows, pg), len(rows), pg.Limit, pg.Offset))

	default:
		list, err := h.svc.ProviderConsults(ctx, sess)
		if err != nil {
			return httpError(err)
		}
		items := q.Arrange(list)
		return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Page(items, pg), len(items), pg.Limit, pg.Offset))
	}
}

func (h *Handler) GetSummary(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	sum, err := h.svc.Summary(c.Request().Context(), sess)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sum)
}

func (h *Handler) GetConsult(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.View(c.Request().Context(), sess, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) GetHistory(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.History(c.Request().Context(), sess, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) PrintConsult(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := h.svc.Print(c.Request().Context(), sess, id, &buf); err != nil {
		return httpError(err)
	}
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}

func (h *Handler) ExportConsults(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	data, err := h.svc.Export(c.Request().Context(), sess)
	if err != nil {
		return httpError(err)
	}
	name := fmt.Sprintf("econsults_%s.xlsx", h.svc.now().Format("20060102"))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, name))
	return c.Blob(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

// -- Response --

type responseBody struct {
	ResponseNotes string `json:"response_notes"`
}

type nextStepBody struct {
	NextStep *NextStep `json:"next_step"`
}

func (h *Handler) GenerateDraft(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	draft, err := h.svc.GenerateDraft(c.Request().Context(), sess, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"draft_response": draft})
}

func (h *Handler) SaveDraft(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var body responseBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	consult, err := h.svc.SaveDraft(c.Request().Context(), sess, id, body.ResponseNotes)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, consult)
}

func (h *Handler) SubmitResponse(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var body responseBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	consult, err := h.svc.SubmitResponse(c.Request().Context(), sess, id, body.ResponseNotes)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, consult)
}

func (h *Handler) SetNextStep(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var body nextStepBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	consult, err := h.svc.SetNextStep(c.Request().Context(), sess, id, body.NextStep)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, consult)
}

// -- Attachments --

func (h *Handler) UploadAttachment(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	if fh.Size > blobstore.MaxFileSize {
		return httpError(blobstore.ErrFileTooLarge)
	}
	src, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer src.Close()

	a, err := h.svc.UploadAttachment(c.Request().Context(), sess, id, fh.Filename, fh.Header.Get(echo.HeaderContentType), src)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) ListAttachments(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListAttachments(c.Request().Context(), sess, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) DownloadAttachment(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	a, rc, err := h.svc.OpenAttachment(c.Request().Context(), sess, id)
	if err != nil {
		return httpError(err)
	}
	defer rc.Close()
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename=%q`, a.FileName))
	return c.Stream(http.StatusOK, a.FileType, rc)
}

// -- Messages --

type messageBody struct {
	Body string `json:"body"`
}

func (h *Handler) PostMessage(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var body messageBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m, err := h.svc.PostMessage(c.Request().Context(), sess, id, body.Body)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) ListMessages(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListMessages(c.Request().Context(), sess, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) MarkMessageRead(c echo.Context) error {
	sess, err := session(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := h.svc.MarkMessageRead(c.Request().Context(), sess, id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
