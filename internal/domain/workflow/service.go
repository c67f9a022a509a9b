// Package workflow orchestrates the encounter workflow: it validates input,
// builds the prompt, invokes generation, appends the artifact to the
// session's store, and renders or delivers documents on demand. It owns the
// chaining rule for dependent artifact kinds.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/consulta/consulta/internal/domain/artifact"
	"github.com/consulta/consulta/internal/domain/session"
	"github.com/consulta/consulta/internal/platform/docextract"
	"github.com/consulta/consulta/internal/platform/llm"
	"github.com/consulta/consulta/internal/platform/mail"
	"github.com/consulta/consulta/internal/platform/render"
)

// ErrArtifactNotFound is returned when a render or delivery request names an
// artifact the session's store does not hold.
var ErrArtifactNotFound = errors.New("artifact not found")

const (
	// maxGenerateAttempts bounds the retry loop for retryable generation
	// failures (rate limit, timeout). Auth and provider errors abort on the
	// first attempt.
	maxGenerateAttempts = 3
	retryBackoffBase    = 250 * time.Millisecond
)

// Engine runs the encounter workflow for a session.
type Engine struct {
	registry   *artifact.Registry
	builder    *artifact.PromptBuilder
	client     llm.Client
	renderer   *render.Renderer
	dispatcher *mail.Dispatcher
	logger     zerolog.Logger
}

// NewEngine wires the workflow engine.
func NewEngine(registry *artifact.Registry, client llm.Client, renderer *render.Renderer, dispatcher *mail.Dispatcher, logger zerolog.Logger) *Engine {
	return &Engine{
		registry:   registry,
		builder:    artifact.NewPromptBuilder(registry),
		client:     client,
		renderer:   renderer,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Generate runs one submit interaction: prompt build, provider call, store
// append. On any failure nothing is stored and the session's state for the
// kind stays where it was. At most one artifact is appended per successful
// call.
func (e *Engine) Generate(ctx context.Context, sess *session.Session, kind artifact.Kind, rawInput string) (artifact.EncounterArtifact, error) {
	if !kind.Valid() {
		return artifact.EncounterArtifact{}, fmt.Errorf("%w: %s", artifact.ErrUnknownKind, kind)
	}

	sess.Lock()
	defer sess.Unlock()

	var prior *artifact.EncounterArtifact
	if dep, ok := kind.DependsOn(); ok {
		if p, found := sess.Store().MostRecent(dep); found {
			prior = &p
		}
	}

	req, err := e.builder.Build(kind, rawInput, prior, sess.ReportText())
	if err != nil {
		return artifact.EncounterArtifact{}, err
	}

	content, err := e.generateWithRetry(ctx, req)
	if err != nil {
		e.logger.Warn().Err(err).Str("session_id", sess.ID.String()).Str("kind", string(kind)).Msg("generation failed")
		return artifact.EncounterArtifact{}, err
	}
	// A cancelled context must never result in a stored artifact. The
	// context error is wrapped as-is so callers can tell client
	// cancellation from a provider timeout.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return artifact.EncounterArtifact{}, fmt.Errorf("generation aborted: %w", ctxErr)
	}

	a := artifact.EncounterArtifact{
		Kind:             kind,
		RawInput:         rawInput,
		GeneratedContent: content,
	}
	if prior != nil {
		a.DerivedFrom = &prior.ID
	}
	stored := sess.Store().Append(a)

	if kind == artifact.KindDocumentQA {
		sess.AddTurn(session.QATurn{
			Question: rawInput,
			Answer:   content,
			AskedAt:  stored.CreatedAt,
		})
	}

	e.logger.Info().
		Str("session_id", sess.ID.String()).
		Str("artifact_id", stored.ID.String()).
		Str("kind", string(kind)).
		Msg("artifact generated")
	return stored, nil
}

// generateWithRetry calls the provider, retrying rate-limit and timeout
// failures with exponential backoff up to maxGenerateAttempts total calls.
func (e *Engine) generateWithRetry(ctx context.Context, req artifact.GenerationRequest) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= maxGenerateAttempts; attempt++ {
		content, err := e.client.Generate(ctx, llm.Request{
			Prompt:      req.Prompt,
			Model:       req.Model,
			Temperature: req.Temperature,
		})
		if err == nil {
			return content, nil
		}
		lastErr = err
		if !llm.Retryable(err) || attempt == maxGenerateAttempts {
			break
		}

		backoff := retryBackoffBase << (attempt - 1)
		e.logger.Debug().Err(err).Int("attempt", attempt).Dur("backoff", backoff).Msg("retrying generation")
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("generation aborted: %w", ctx.Err())
		case <-time.After(backoff):
		}
	}
	return "", lastErr
}

// Render produces the PDF for a stored artifact. Always available once the
// artifact exists; the document is transient and never cached.
func (e *Engine) Render(sess *session.Session, artifactID uuid.UUID) (render.Document, error) {
	a, ok := sess.Store().Get(artifactID)
	if !ok {
		return render.Document{}, fmt.Errorf("%w: %s", ErrArtifactNotFound, artifactID)
	}

	tpl, err := e.registry.TemplateFor(a.Kind)
	if err != nil {
		return render.Document{}, err
	}

	content := a.GeneratedContent
	// A triage summary is rendered together with the diagnosis that was
	// derived from it, when one exists.
	if a.Kind == artifact.KindTriage {
		if dx, found := sess.Store().MostRecent(artifact.KindDiagnosisSuggestion); found && dx.DerivedFrom != nil && *dx.DerivedFrom == a.ID {
			content = content + "\n\n---\n\nDiagnóstico sugerido:\n" + dx.GeneratedContent
		}
	}

	return e.renderer.Render(render.Input{
		Content:     content,
		PatientName: sess.Patient.DisplayName,
		PatientID:   sess.Patient.ExternalID,
		CreatedAt:   a.CreatedAt,
		Filename:    tpl.Filename,
	})
}

// Deliver renders an artifact and emails it to recipient. An empty recipient
// falls back to the session's patient contact address. Delivery failure
// leaves the rendered document retrievable; nothing is rolled back.
func (e *Engine) Deliver(ctx context.Context, sess *session.Session, artifactID uuid.UUID, recipient string) error {
	if strings.TrimSpace(recipient) == "" {
		recipient = sess.Patient.ContactAddress
	}

	doc, err := e.Render(sess, artifactID)
	if err != nil {
		return err
	}

	if err := e.dispatcher.Deliver(ctx, mail.Attachment{Filename: doc.Filename, Data: doc.Data}, recipient); err != nil {
		e.logger.Warn().Err(err).Str("session_id", sess.ID.String()).Str("artifact_id", artifactID.String()).Msg("delivery failed")
		return err
	}

	e.logger.Info().
		Str("session_id", sess.ID.String()).
		Str("artifact_id", artifactID.String()).
		Str("recipient", recipient).
		Msg("document delivered")
	return nil
}

// AttachReport extracts the text of an uploaded PDF report and installs it
// as the session's question-answering context, replacing any previous report.
func (e *Engine) AttachReport(sess *session.Session, pdfData []byte) (string, error) {
	text, err := docextract.Text(pdfData)
	if err != nil {
		return "", err
	}
	sess.SetReportText(text)
	e.logger.Info().Str("session_id", sess.ID.String()).Int("chars", len(text)).Msg("report attached")
	return text, nil
}

// History returns the session's artifacts newest first.
func (e *Engine) History(sess *session.Session) []artifact.EncounterArtifact {
	return sess.Store().History()
}
