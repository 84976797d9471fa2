package econsult

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/econsult/econsult/internal/platform/aiassist"
	"github.com/econsult/econsult/internal/platform/auth"
)

func newTestHandler() (*Handler, *testEnv, *echo.Echo) {
	svc, env := newTestService()
	return NewHandler(svc), env, echo.New()
}

func newRequest(method, target, body string, sess *auth.Session) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if sess != nil {
		req = req.WithContext(auth.WithSession(req.Context(), sess))
	}
	return req
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	return he.Code
}

func TestHandler_SubmitConsult(t *testing.T) {
	h, env, e := newTestHandler()
	body := `{"patient_initials":"JD","patient_age":"12","height_cm":145,"weight_kg":"40",
		"condition_category":"obesity","clinical_question":"Is metformin appropriate?"}`
	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodPost, "/", body, env.physicianSession()), rec)

	if err := h.SubmitConsult(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var got Consult
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Status != StatusSubmitted || got.BMI == nil || *got.BMI != 19.0 {
		t.Errorf("unexpected consult %+v", got)
	}
	h.svc.Wait()
}

func TestHandler_SubmitConsult_Validation(t *testing.T) {
	h, env, e := newTestHandler()
	body := `{"patient_initials":"","patient_age":12}`
	c := e.NewContext(newRequest(http.MethodPost, "/", body, env.physicianSession()), httptest.NewRecorder())

	if code := httpCode(t, h.SubmitConsult(c)); code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", code)
	}
}

func TestHandler_ValidateStep(t *testing.T) {
	h, _, e := newTestHandler()

	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodPost, "/?step=measurements", `{"height_cm":"145","weight_kg":"40"}`, nil), rec)
	if err := h.ValidateStep(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["bmi"] != 19.0 {
		t.Errorf("expected bmi 19, got %v", resp["bmi"])
	}

	c = e.NewContext(newRequest(http.MethodPost, "/?step=condition", `{"condition_category":"cardiology"}`, nil), httptest.NewRecorder())
	if code := httpCode(t, h.ValidateStep(c)); code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", code)
	}

	c = e.NewContext(newRequest(http.MethodPost, "/?step=billing", `{}`, nil), httptest.NewRecorder())
	if code := httpCode(t, h.ValidateStep(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_ListConsults_Specialist(t *testing.T) {
	h, env, e := newTestHandler()
	env.seed(StatusSubmitted)
	env.seed(StatusUnderReview)
	env.seed(StatusCompleted)

	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodGet, "/", "", specialistSession()), rec)
	if err := h.ListConsults(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var parts Partitions
	json.Unmarshal(rec.Body.Bytes(), &parts)
	if len(parts.New) != 1 || len(parts.InProgress) != 1 || len(parts.Completed) != 1 {
		t.Errorf("unexpected partitions %+v", parts)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(newRequest(http.MethodGet, "/?partition=new&q=jd", "", specialistSession()), rec)
	if err := h.ListConsults(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var page struct {
		Data  []Consult `json:"data"`
		Total int       `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Total != 1 || len(page.Data) != 1 {
		t.Errorf("expected one new consult, got %+v", page)
	}

	c = e.NewContext(newRequest(http.MethodGet, "/?partition=archived", "", specialistSession()), httptest.NewRecorder())
	if code := httpCode(t, h.ListConsults(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_ListConsults_Provider(t *testing.T) {
	h, env, e := newTestHandler()
	env.seed(StatusSubmitted)
	env.consults.put(&Consult{PhysicianID: uuid.New(), Status: StatusSubmitted})

	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodGet, "/", "", env.physicianSession()), rec)
	if err := h.ListConsults(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var page struct {
		Data  []Consult `json:"data"`
		Total int       `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Total != 1 {
		t.Fatalf("expected 1, got %d", page.Total)
	}
	if page.Data[0].PhysicianID != env.referrer.UserID {
		t.Error("provider list leaked another physician's consult")
	}
}

func TestHandler_ListConsults_AdminUrgent(t *testing.T) {
	h, env, e := newTestHandler()
	env.seed(StatusSubmitted)
	flagged := env.seed(StatusSubmitted)
	flagged.IsUrgent = true
	env.consults.put(flagged)

	rec := httptest.NewRecorder()
	admin := &auth.Session{UserID: uuid.New(), Role: auth.RoleAdmin}
	c := e.NewContext(newRequest(http.MethodGet, "/?urgent=true", "", admin), rec)
	if err := h.ListConsults(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var page struct {
		Data  []AdminRow `json:"data"`
		Total int        `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Total != 1 || !page.Data[0].Urgent {
		t.Fatalf("expected one urgent row, got %+v", page)
	}
	if page.Data[0].AgeDays != 1 {
		t.Errorf("expected age measured from the service clock, got %d days", page.Data[0].AgeDays)
	}
}

func TestHandler_GetConsult_NotFound(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(newRequest(http.MethodGet, "/", "", specialistSession()), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	if code := httpCode(t, h.GetConsult(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_GetConsult_InvalidID(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(newRequest(http.MethodGet, "/", "", specialistSession()), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("abc")

	if code := httpCode(t, h.GetConsult(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_SubmitResponse(t *testing.T) {
	h, env, e := newTestHandler()
	consult := env.seed(StatusUnderReview)

	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodPost, "/", `{"response_notes":"Start levothyroxine 25mcg"}`, specialistSession()), rec)
	c.SetParamNames("id")
	c.SetParamValues(consult.ID.String())
	if err := h.SubmitResponse(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	h.svc.Wait()

	// completed consults reject a second submit
	c = e.NewContext(newRequest(http.MethodPost, "/", `{"response_notes":"again"}`, specialistSession()), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(consult.ID.String())
	if code := httpCode(t, h.SubmitResponse(c)); code != http.StatusConflict {
		t.Errorf("expected 409, got %d", code)
	}
}

func TestHandler_SubmitResponse_Empty(t *testing.T) {
	h, env, e := newTestHandler()
	consult := env.seed(StatusUnderReview)

	c := e.NewContext(newRequest(http.MethodPost, "/", `{"response_notes":"   "}`, specialistSession()), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(consult.ID.String())
	err := h.SubmitResponse(c)
	if code := httpCode(t, err); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
	if !strings.Contains(err.Error(), "enter a response before submitting") {
		t.Errorf("unexpected message %v", err)
	}
}

func TestHandler_GenerateDraft_UpstreamError(t *testing.T) {
	h, env, e := newTestHandler()
	consult := env.seed(StatusSubmitted)
	env.drafter.processErr = &aiassist.ServiceError{StatusCode: 503, Detail: "model is warming up"}

	c := e.NewContext(newRequest(http.MethodPost, "/", "", specialistSession()), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(consult.ID.String())
	err := h.GenerateDraft(c)
	if code := httpCode(t, err); code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", code)
	}
	if !strings.Contains(err.Error(), "model is warming up") {
		t.Errorf("expected upstream detail, got %v", err)
	}
}

func TestHandler_SetNextStep(t *testing.T) {
	h, env, e := newTestHandler()
	consult := env.seed(StatusUnderReview)

	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodPatch, "/", `{"next_step":"schedule_in_person_visit"}`, specialistSession()), rec)
	c.SetParamNames("id")
	c.SetParamValues(consult.ID.String())
	if err := h.SetNextStep(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ns := env.consults.stored(consult.ID).NextStep; ns == nil || *ns != NextStepScheduleInPersonVisit {
		t.Error("next step not stored")
	}

	c = e.NewContext(newRequest(http.MethodPatch, "/", `{"next_step":"teleport"}`, specialistSession()), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(consult.ID.String())
	if code := httpCode(t, h.SetNextStep(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_UploadAndDownloadAttachment(t *testing.T) {
	h, env, e := newTestHandler()
	consult := env.seed(StatusSubmitted)
	sess := env.physicianSession()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="growth.png"`)
	hdr.Set("Content-Type", "image/png")
	part, _ := mw.CreatePart(hdr)
	part.Write([]byte("\x89PNG"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	req = req.WithContext(auth.WithSession(req.Context(), sess))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(consult.ID.String())
	if err := h.UploadAttachment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var a Attachment
	json.Unmarshal(rec.Body.Bytes(), &a)

	rec = httptest.NewRecorder()
	c = e.NewContext(newRequest(http.MethodGet, "/", "", specialistSession()), rec)
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	if err := h.DownloadAttachment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Body.String() != "\x89PNG" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
	if !strings.Contains(rec.Header().Get(echo.HeaderContentDisposition), "growth.png") {
		t.Error("missing content disposition")
	}
}

func TestHandler_PrintConsult(t *testing.T) {
	h, env, e := newTestHandler()
	consult := env.seed(StatusSubmitted)

	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodGet, "/", "", env.physicianSession()), rec)
	c.SetParamNames("id")
	c.SetParamValues(consult.ID.String())
	if err := h.PrintConsult(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMETextHTML) {
		t.Errorf("expected html, got %s", rec.Header().Get(echo.HeaderContentType))
	}
	if !strings.Contains(rec.Body.String(), "Clinical Question") {
		t.Error("missing clinical question section")
	}
}

func TestHandler_ExportConsults(t *testing.T) {
	h, env, e := newTestHandler()
	env.seed(StatusSubmitted)

	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodGet, "/", "", &auth.Session{UserID: uuid.New(), Role: auth.RoleAdmin}), rec)
	if err := h.ExportConsults(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Header().Get(echo.HeaderContentDisposition), ".xlsx") {
		t.Error("expected xlsx attachment")
	}
	if rec.Body.Len() == 0 {
		t.Error("empty workbook")
	}
}

func TestHandler_NoSession(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(newRequest(http.MethodGet, "/", "", nil), httptest.NewRecorder())
	if code := httpCode(t, h.ListConsults(c)); code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", code)
	}
}
