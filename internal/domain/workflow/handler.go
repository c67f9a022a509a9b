package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/consulta/consulta/internal/domain/artifact"
	"github.com/consulta/consulta/internal/domain/session"
	"github.com/consulta/consulta/internal/platform/docextract"
	"github.com/consulta/consulta/internal/platform/llm"
	"github.com/consulta/consulta/internal/platform/mail"
	"github.com/consulta/consulta/internal/platform/render"
	"github.com/consulta/consulta/pkg/pagination"
)

// maxReportUploadBytes caps the size of an uploaded report PDF.
const maxReportUploadBytes = 10 << 20

// statusClientClosedRequest is the nginx convention for a request whose
// client went away before a response could be written.
const statusClientClosedRequest = 499

// reportPreviewRunes bounds the extracted-text preview in the upload
// response.
const reportPreviewRunes = 200

type Handler struct {
	engine   *Engine
	sessions *session.Manager
}

func NewHandler(engine *Engine, sessions *session.Manager) *Handler {
	return &Handler{engine: engine, sessions: sessions}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/sessions", h.CreateSession)
	api.GET("/sessions/:id", h.GetSession)
	api.DELETE("/sessions/:id", h.EndSession)

	api.POST("/sessions/:id/artifacts", h.GenerateArtifact)
	api.GET("/sessions/:id/artifacts", h.ListArtifacts)
	api.GET("/sessions/:id/artifacts/:aid", h.GetArtifact)
	api.GET("/sessions/:id/artifacts/:aid/document", h.DownloadDocument)
	api.POST("/sessions/:id/artifacts/:aid/deliver", h.DeliverDocument)

	api.POST("/sessions/:id/report", h.AttachReport)
	api.POST("/sessions/:id/questions", h.AskQuestion)
	api.GET("/sessions/:id/questions", h.ListQuestions)
}

// -- Request/Response Types --

type createSessionRequest struct {
	DisplayName    string `json:"display_name"`
	ExternalID     string `json:"external_id"`
	ContactAddress string `json:"contact_address"`
}

type sessionResponse struct {
	ID             string    `json:"id"`
	DisplayName    string    `json:"display_name"`
	ExternalID     string    `json:"external_id"`
	ContactAddress string    `json:"contact_address,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	ArtifactCount  int       `json:"artifact_count"`
	HasReport      bool      `json:"has_report"`
}

type generateRequest struct {
	Kind  string `json:"kind"`
	Input string `json:"input"`
}

type deliverRequest struct {
	Recipient string `json:"recipient"`
}

type questionRequest struct {
	Question string `json:"question"`
}

type reportResponse struct {
	Characters int    `json:"characters"`
	Preview    string `json:"preview"`
}

func newSessionResponse(sess *session.Session) sessionResponse {
	return sessionResponse{
		ID:             sess.ID.String(),
		DisplayName:    sess.Patient.DisplayName,
		ExternalID:     sess.Patient.ExternalID,
		ContactAddress: sess.Patient.ContactAddress,
		CreatedAt:      sess.CreatedAt,
		ArtifactCount:  sess.Store().Len(),
		HasReport:      sess.ReportText() != "",
	}
}

// -- Session Handlers --

func (h *Handler) CreateSession(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.DisplayName) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "display_name is required")
	}
	sess := h.sessions.Create(artifact.PatientIdentity{
		DisplayName:    strings.TrimSpace(req.DisplayName),
		ExternalID:     strings.TrimSpace(req.ExternalID),
		ContactAddress: strings.TrimSpace(req.ContactAddress),
	})
	return c.JSON(http.StatusCreated, newSessionResponse(sess))
}

func (h *Handler) GetSession(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newSessionResponse(sess))
}

func (h *Handler) EndSession(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid session id")
	}
	if err := h.sessions.End(id); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Artifact Handlers --

func (h *Handler) GenerateArtifact(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	var req generateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.engine.Generate(c.Request().Context(), sess, artifact.Kind(req.Kind), req.Input)
	if err != nil {
		return workflowError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) ListArtifacts(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)

	history := h.engine.History(sess)
	if kind := c.QueryParam("kind"); kind != "" {
		filtered := history[:0]
		for _, a := range history {
			if a.Kind == artifact.Kind(kind) {
				filtered = append(filtered, a)
			}
		}
		history = filtered
	}

	total := len(history)
	start := pg.Offset
	if start > total {
		start = total
	}
	end := start + pg.Limit
	if end > total {
		end = total
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(history[start:end], total, pg.Limit, pg.Offset))
}

func (h *Handler) GetArtifact(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	aid, err := uuid.Parse(c.Param("aid"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid artifact id")
	}
	a, ok := sess.Store().Get(aid)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "artifact not found")
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) DownloadDocument(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	aid, err := uuid.Parse(c.Param("aid"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid artifact id")
	}
	doc, err := h.engine.Render(sess, aid)
	if err != nil {
		return workflowError(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", doc.Filename))
	return c.Blob(http.StatusOK, "application/pdf", doc.Data)
}

func (h *Handler) DeliverDocument(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	aid, err := uuid.Parse(c.Param("aid"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid artifact id")
	}
	var req deliverRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.engine.Deliver(c.Request().Context(), sess, aid, req.Recipient); err != nil {
		return workflowError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "delivered"})
}

// -- Report and Question Handlers --

func (h *Handler) AttachReport(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	fh, err := c.FormFile("report")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "report file is required")
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxReportUploadBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(data) > maxReportUploadBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "report exceeds maximum size")
	}
	text, err := h.engine.AttachReport(sess, data)
	if err != nil {
		return workflowError(err)
	}
	return c.JSON(http.StatusOK, reportResponse{
		Characters: len(text),
		Preview:    truncateRunes(text, reportPreviewRunes),
	})
}

func (h *Handler) AskQuestion(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	var req questionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.engine.Generate(c.Request().Context(), sess, artifact.KindDocumentQA, req.Question)
	if err != nil {
		return workflowError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) ListQuestions(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess.Transcript())
}

// -- Helpers --

func (h *Handler) session(c echo.Context) (*session.Session, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid session id")
	}
	sess, err := h.sessions.Get(id)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return sess, nil
}

// truncateRunes cuts text to at most n runes, never splitting a multi-byte
// sequence.
func truncateRunes(text string, n int) string {
	count := 0
	for i := range text {
		if count == n {
			return text[:i]
		}
		count++
	}
	return text
}

// workflowError maps domain errors onto HTTP status codes.
func workflowError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, artifact.ErrUnknownKind):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case artifact.IsValidation(err):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrArtifactNotFound), errors.Is(err, session.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, llm.ErrRateLimited):
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
	case errors.Is(err, llm.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, context.Canceled):
		return echo.NewHTTPError(statusClientClosedRequest, err.Error())
	case errors.Is(err, llm.ErrAuth), errors.Is(err, llm.ErrProvider):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case errors.Is(err, mail.ErrDelivery):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case errors.Is(err, docextract.ErrExtract):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, render.ErrRender):
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
