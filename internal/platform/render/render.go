// Package render turns a generated artifact into a paginated PDF document
// with a standard patient header. Documents are produced on demand and
// never cached.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
)

// ErrRender reports a rendering failure, including empty content.
var ErrRender = errors.New("document render failed")

// idPlaceholder stands in for a missing external patient identifier.
const idPlaceholder = "---"

// Input is everything the renderer needs for one document.
type Input struct {
	Content     string
	PatientName string
	PatientID   string
	CreatedAt   time.Time
	Filename    string
}

// Document is a rendered PDF. Transient; delivery does not consume it.
type Document struct {
	Filename string
	Header   string
	Data     []byte
}

// Renderer lays out artifacts as A4 PDF pages.
type Renderer struct{}

// NewRenderer creates a Renderer.
func NewRenderer() *Renderer {
	return &Renderer{}
}

// Render produces the PDF for the given input. The header carries the
// patient name, external id (or a placeholder) and the artifact's creation
// date; the body is one paragraph per content line, paginating
// automatically.
func (r *Renderer) Render(in Input) (Document, error) {
	if strings.TrimSpace(in.Content) == "" {
		return Document{}, fmt.Errorf("%w: artifact has no generated content", ErrRender)
	}

	externalID := in.PatientID
	if externalID == "" {
		externalID = idPlaceholder
	}
	header := fmt.Sprintf("Paciente: %s\nRUT: %s\nFecha: %s",
		in.PatientName, externalID, in.CreatedAt.Format("02-01-2006"))

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()
	pdf.SetFont("Arial", "", 12)

	// Core fonts are cp1252; the translator keeps accented letters intact.
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.MultiCell(0, 10, tr(Sanitize(header)), "", "L", false)
	pdf.Ln(5)
	for _, line := range strings.Split(Sanitize(in.Content), "\n") {
		pdf.MultiCell(0, 10, tr(line), "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrRender, err)
	}

	return Document{
		Filename: in.Filename,
		Header:   header,
		Data:     buf.Bytes(),
	}, nil
}
