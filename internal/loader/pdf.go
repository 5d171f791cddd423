package loader

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/dslipak/pdf"
)

// parsePDF extracts the text of every page, joined with a newline between
// pages. Pages whose text cannot be extracted are skipped rather than
// failing the whole document — scanned pages simply contribute nothing.
func parsePDF(data []byte) (text string, err error) {
	// The underlying reader panics on some malformed cross-reference tables;
	// surface those as ordinary parse errors.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(pageText)
	}

	return b.String(), nil
}
