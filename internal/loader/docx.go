package loader

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/nguyenthenguyen/docx"
)

// reXMLTag matches any XML tag in the extracted document body.
var reXMLTag = regexp.MustCompile(`<[^>]+>`)

// reBlankLines collapses runs of blank lines left behind by structural tags.
var reBlankLines = regexp.MustCompile(`\n{3,}`)

// xmlEntities decodes the five predefined XML entities the word processor
// escapes in run text.
var xmlEntities = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
	"&amp;", "&",
)

// parseDOCX extracts paragraph text from a Word document. The reader exposes
// the raw document XML; paragraph closers become newlines before the
// remaining markup is stripped.
func parseDOCX(data []byte) (string, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	defer r.Close()

	content := r.Editable().GetContent()

	content = strings.ReplaceAll(content, "</w:p>", "\n")
	content = reXMLTag.ReplaceAllString(content, "")
	content = xmlEntities.Replace(content)
	content = reBlankLines.ReplaceAllString(content, "\n\n")

	return content, nil
}
