// Package docextract pulls plain text out of an uploaded PDF report so the
// workflow engine can answer questions grounded on it.
package docextract

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrExtract reports an unreadable or empty uploaded document.
var ErrExtract = errors.New("report text extraction failed")

// Text concatenates the text of every page in page order. The result is
// treated as read-only context; callers re-extract only when a new document
// is uploaded.
func Text(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty upload", ErrExtract)
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtract, err)
	}

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("%w: page %d: %v", ErrExtract, i, err)
		}
		b.WriteString(text)
	}

	out := b.String()
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("%w: document contains no extractable text", ErrExtract)
	}
	return out, nil
}
