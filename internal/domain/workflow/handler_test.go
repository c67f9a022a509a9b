package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/consulta/consulta/internal/domain/artifact"
	"github.com/consulta/consulta/internal/domain/session"
	"github.com/consulta/consulta/internal/platform/llm"
	"github.com/consulta/consulta/internal/platform/mail"
	"github.com/consulta/consulta/internal/platform/render"
)

func newTestHandler(client llm.Client, sender mail.Sender) (*Handler, *session.Manager) {
	registry := artifact.NewRegistry("")
	engine := NewEngine(registry, client, render.NewRenderer(), mail.NewDispatcher(sender), zerolog.Nop())
	mgr := session.NewManager()
	return NewHandler(engine, mgr), mgr
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func httpStatus(t *testing.T, err error) int {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T: %v", err, err)
	}
	return he.Code
}

func TestHandler_CreateSession(t *testing.T) {
	h, _ := newTestHandler(&stubClient{}, &mail.MockSender{})
	e := echo.New()

	req := jsonRequest(http.MethodPost, "/api/v1/sessions",
		`{"display_name":"Ana Pérez","external_id":"12.345.678-9","contact_address":"ana@example.com"}`)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.CreateSession(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	var resp sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.ID == "" {
		t.Error("expected a session id")
	}
	if resp.DisplayName != "Ana Pérez" {
		t.Errorf("display_name = %q", resp.DisplayName)
	}
	if resp.ArtifactCount != 0 {
		t.Errorf("artifact_count = %d, want 0", resp.ArtifactCount)
	}
}

func TestHandler_CreateSession_MissingName(t *testing.T) {
	h, _ := newTestHandler(&stubClient{}, &mail.MockSender{})
	e := echo.New()

	req := jsonRequest(http.MethodPost, "/api/v1/sessions", `{"external_id":"12.345.678-9"}`)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.CreateSession(c)
	if status := httpStatus(t, err); status != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", status)
	}
}

func TestHandler_GetSession_NotFound(t *testing.T) {
	h, _ := newTestHandler(&stubClient{}, &mail.MockSender{})
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("2b7cfa36-0d0a-4c0e-8f2f-06f1d51e3c1a")

	err := h.GetSession(c)
	if status := httpStatus(t, err); status != http.StatusNotFound {
		t.Errorf("expected 404, got %d", status)
	}
}

func TestHandler_GenerateArtifact(t *testing.T) {
	client := &stubClient{queue: []stubResult{{content: "Resumen de triaje."}}}
	h, mgr := newTestHandler(client, &mail.MockSender{})
	sess := mgr.Create(artifact.PatientIdentity{DisplayName: "Ana Pérez"})
	e := echo.New()

	req := jsonRequest(http.MethodPost, "/", `{"kind":"triage","input":"dolor abdominal"}`)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(sess.ID.String())

	if err := h.GenerateArtifact(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	var a artifact.EncounterArtifact
	if err := json.Unmarshal(rec.Body.Bytes(), &a); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if a.GeneratedContent != "Resumen de triaje." {
		t.Errorf("content = %q", a.GeneratedContent)
	}
	if a.Kind != artifact.KindTriage {
		t.Errorf("kind = %q", a.Kind)
	}
}

func TestHandler_GenerateArtifact_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		queue      []stubResult
		wantStatus int
	}{
		{
			name:       "unknown kind",
			body:       `{"kind":"prescription","input":"algo"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "empty input",
			body:       `{"kind":"triage","input":"   "}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "missing dependency",
			body:       `{"kind":"diagnosis_suggestion","input":"solicito diagnóstico"}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "rate limited",
			body:       `{"kind":"triage","input":"dolor"}`,
			queue:      rateLimitedQueue(3),
			wantStatus: http.StatusTooManyRequests,
		},
		{
			name:       "auth failure",
			body:       `{"kind":"triage","input":"dolor"}`,
			queue:      []stubResult{{err: fmt.Errorf("%w: bad key", llm.ErrAuth)}},
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, mgr := newTestHandler(&stubClient{queue: tt.queue}, &mail.MockSender{})
			sess := mgr.Create(artifact.PatientIdentity{DisplayName: "Ana Pérez"})
			e := echo.New()

			req := jsonRequest(http.MethodPost, "/", tt.body)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			c.SetParamNames("id")
			c.SetParamValues(sess.ID.String())

			err := h.GenerateArtifact(c)
			if status := httpStatus(t, err); status != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, status)
			}
		})
	}
}

func rateLimitedQueue(n int) []stubResult {
	out := make([]stubResult, n)
	for i := range out {
		out[i] = stubResult{err: fmt.Errorf("%w: slow down", llm.ErrRateLimited)}
	}
	return out
}

func TestHandler_ListArtifacts(t *testing.T) {
	client := &stubClient{queue: []stubResult{
		{content: "Resumen de triaje."},
		{content: "Resumen de exámenes."},
	}}
	h, mgr := newTestHandler(client, &mail.MockSender{})
	sess := mgr.Create(artifact.PatientIdentity{DisplayName: "Ana Pérez"})
	e := echo.New()

	for _, body := range []string{
		`{"kind":"triage","input":"dolor abdominal"}`,
		`{"kind":"lab_summary","input":"hemograma normal"}`,
	} {
		req := jsonRequest(http.MethodPost, "/", body)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("id")
		c.SetParamValues(sess.ID.String())
		if err := h.GenerateArtifact(c); err != nil {
			t.Fatalf("generate: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/?limit=10", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(sess.ID.String())

	if err := h.ListArtifacts(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var resp struct {
		Data  []artifact.EncounterArtifact `json:"data"`
		Total int                          `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Total != 2 {
		t.Errorf("total = %d, want 2", resp.Total)
	}
	if len(resp.Data) != 2 || resp.Data[0].Kind != artifact.KindLabSummary {
		t.Errorf("expected newest first, got %+v", resp.Data)
	}
}

func TestHandler_ListArtifacts_KindFilter(t *testing.T) {
	client := &stubClient{queue: []stubResult{
		{content: "Resumen de triaje."},
		{content: "Resumen de exámenes."},
	}}
	h, mgr := newTestHandler(client, &mail.MockSender{})
	sess := mgr.Create(artifact.PatientIdentity{DisplayName: "Ana Pérez"})
	e := echo.New()

	for _, body := range []string{
		`{"kind":"triage","input":"dolor abdominal"}`,
		`{"kind":"lab_summary","input":"hemograma normal"}`,
	} {
		req := jsonRequest(http.MethodPost, "/", body)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("id")
		c.SetParamValues(sess.ID.String())
		if err := h.GenerateArtifact(c); err != nil {
			t.Fatalf("generate: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/?kind=triage", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(sess.ID.String())

	if err := h.ListArtifacts(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Data  []artifact.EncounterArtifact `json:"data"`
		Total int                          `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Total != 1 || resp.Data[0].Kind != artifact.KindTriage {
		t.Errorf("expected only the triage artifact, got %+v", resp.Data)
	}
}

func TestHandler_DownloadDocument(t *testing.T) {
	client := &stubClient{queue: []stubResult{{content: "Resumen de triaje."}}}
	h, mgr := newTestHandler(client, &mail.MockSender{})
	sess := mgr.Create(artifact.PatientIdentity{DisplayName: "Ana Pérez", ExternalID: "12.345.678-9"})
	e := echo.New()

	req := jsonRequest(http.MethodPost, "/", `{"kind":"triage","input":"dolor abdominal"}`)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(sess.ID.String())
	if err := h.GenerateArtifact(c); err != nil {
		t.Fatalf("generate: %v", err)
	}
	var a artifact.EncounterArtifact
	if err := json.Unmarshal(rec.Body.Bytes(), &a); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("id", "aid")
	c.SetParamValues(sess.ID.String(), a.ID.String())

	if err := h.DownloadDocument(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.Contains(ct, "application/pdf") {
		t.Errorf("content type = %q", ct)
	}
	if cd := rec.Header().Get(echo.HeaderContentDisposition); !strings.Contains(cd, "Resumen_triaje.pdf") {
		t.Errorf("content disposition = %q", cd)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")) {
		t.Error("response body is not a PDF")
	}
}

func TestHandler_DeliverDocument_Failure(t *testing.T) {
	client := &stubClient{queue: []stubResult{{content: "Resumen de triaje."}}}
	sender := &mail.MockSender{ShouldFail: true, FailError: "connection refused"}
	h, mgr := newTestHandler(client, sender)
	sess := mgr.Create(artifact.PatientIdentity{DisplayName: "Ana Pérez"})
	e := echo.New()

	req := jsonRequest(http.MethodPost, "/", `{"kind":"triage","input":"dolor abdominal"}`)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(sess.ID.String())
	if err := h.GenerateArtifact(c); err != nil {
		t.Fatalf("generate: %v", err)
	}
	var a artifact.EncounterArtifact
	if err := json.Unmarshal(rec.Body.Bytes(), &a); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	req = jsonRequest(http.MethodPost, "/", `{"recipient":"doctor@example.com"}`)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("id", "aid")
	c.SetParamValues(sess.ID.String(), a.ID.String())

	err := h.DeliverDocument(c)
	if status := httpStatus(t, err); status != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", status)
	}
}

func TestHandler_AttachReportAndAsk(t *testing.T) {
	client := &stubClient{queue: []stubResult{{content: "La hemoglobina es normal."}}}
	h, mgr := newTestHandler(client, &mail.MockSender{})
	sess := mgr.Create(artifact.PatientIdentity{DisplayName: "Ana Pérez"})
	e := echo.New()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("report", "informe.pdf")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	if _, err := fw.Write(renderFixture(t, "Hemoglobina 13.2 g/dL")); err != nil {
		t.Fatalf("write: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(sess.ID.String())

	if err := h.AttachReport(c); err != nil {
		t.Fatalf("attach report: %v", err)
	}
	var resp reportResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Characters == 0 || !strings.Contains(resp.Preview, "Hemoglobina") {
		t.Errorf("report response = %+v", resp)
	}

	req = jsonRequest(http.MethodPost, "/", `{"question":"¿hemoglobina?"}`)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(sess.ID.String())

	if err := h.AskQuestion(c); err != nil {
		t.Fatalf("ask question: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(sess.ID.String())

	if err := h.ListQuestions(c); err != nil {
		t.Fatalf("list questions: %v", err)
	}
	var turns []session.QATurn
	if err := json.Unmarshal(rec.Body.Bytes(), &turns); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(turns) != 1 || turns[0].Question != "¿hemoglobina?" {
		t.Errorf("transcript = %+v", turns)
	}
}

func TestHandler_AskQuestion_NoReport(t *testing.T) {
	h, mgr := newTestHandler(&stubClient{}, &mail.MockSender{})
	sess := mgr.Create(artifact.PatientIdentity{DisplayName: "Ana Pérez"})
	e := echo.New()

	req := jsonRequest(http.MethodPost, "/", `{"question":"¿qué significa?"}`)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(sess.ID.String())

	err := h.AskQuestion(c)
	if status := httpStatus(t, err); status != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", status)
	}
}

func TestHandler_EndSession(t *testing.T) {
	h, mgr := newTestHandler(&stubClient{}, &mail.MockSender{})
	sess := mgr.Create(artifact.PatientIdentity{DisplayName: "Ana Pérez"})
	e := echo.New()

	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(sess.ID.String())

	if err := h.EndSession(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if _, err := mgr.Get(sess.ID); err == nil {
		t.Error("session still retrievable after end")
	}
}

func TestTruncateRunes(t *testing.T) {
	long := strings.Repeat("á", 300)
	got := truncateRunes(long, 200)
	if !utf8.ValidString(got) {
		t.Error("truncation split a multi-byte sequence")
	}
	if utf8.RuneCountInString(got) != 200 {
		t.Errorf("rune count = %d, want 200", utf8.RuneCountInString(got))
	}

	short := "Hemoglobina 13.2 g/dL"
	if truncateRunes(short, 200) != short {
		t.Error("short text must pass through unchanged")
	}
}
