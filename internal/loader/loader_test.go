package loader

import (
	"errors"
	"strings"
	"testing"
)

// testExts mirrors the default upload allow-list.
var testExts = []string{".pdf", ".md", ".txt", ".docx"}

func newTestLoader() *Loader {
	return New(10<<20, testExts)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	l := newTestLoader()

	if err := l.Validate("notes.txt", 1024); err != nil {
		t.Errorf("valid upload rejected: %v", err)
	}
	if err := l.Validate("README.MD", 1024); err != nil {
		t.Errorf("extension check must be case-insensitive: %v", err)
	}

	err := l.Validate("payload.exe", 1024)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("error = %v, want ErrUnsupportedFormat", err)
	}

	err = l.Validate("big.pdf", 20<<20)
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("error = %v, want ErrTooLarge", err)
	}
}

func TestParse_PlainText(t *testing.T) {
	t.Parallel()

	l := newTestLoader()

	text, id, err := l.Parse("notes.txt", []byte("  hello world  \n"))
	if err != nil {
		t.Fatal(err)
	}
	if text != "hello world" {
		t.Errorf("text = %q", text)
	}
	if len(id) != idPrefixLen {
		t.Errorf("document id %q has length %d, want %d", id, len(id), idPrefixLen)
	}
}

func TestParse_MarkdownKeptVerbatim(t *testing.T) {
	t.Parallel()

	l := newTestLoader()
	src := "# Title\n\n- item one\n- item two"
	text, _, err := l.Parse("doc.md", []byte(src))
	if err != nil {
		t.Fatal(err)
	}
	if text != src {
		t.Errorf("markdown must be treated as plain text, got %q", text)
	}
}

func TestParse_EmptyIsParseFailed(t *testing.T) {
	t.Parallel()

	l := newTestLoader()
	for _, data := range [][]byte{nil, []byte("   \n\t ")} {
		_, _, err := l.Parse("empty.txt", data)
		if !errors.Is(err, ErrParseFailed) {
			t.Errorf("Parse(%q) error = %v, want ErrParseFailed", data, err)
		}
	}
}

func TestParse_InvalidUTF8IsParseFailed(t *testing.T) {
	t.Parallel()

	l := newTestLoader()
	_, _, err := l.Parse("bad.txt", []byte{0xff, 0xfe, 0x00, 0x80})
	if !errors.Is(err, ErrParseFailed) {
		t.Errorf("error = %v, want ErrParseFailed", err)
	}
}

func TestParse_GarbagePDFIsParseFailed(t *testing.T) {
	t.Parallel()

	l := newTestLoader()
	_, _, err := l.Parse("broken.pdf", []byte("this is not a pdf at all"))
	if !errors.Is(err, ErrParseFailed) {
		t.Errorf("error = %v, want ErrParseFailed", err)
	}
}

func TestParse_GarbageDOCXIsParseFailed(t *testing.T) {
	t.Parallel()

	l := newTestLoader()
	_, _, err := l.Parse("broken.docx", []byte("this is not a zip archive"))
	if !errors.Is(err, ErrParseFailed) {
		t.Errorf("error = %v, want ErrParseFailed", err)
	}
}

func TestDocumentID_Deterministic(t *testing.T) {
	t.Parallel()

	data := []byte("stable content")

	a := DocumentID("resume.pdf", data)
	b := DocumentID("resume.pdf", data)
	if a != b {
		t.Errorf("same (filename, bytes) produced different IDs: %q vs %q", a, b)
	}

	if DocumentID("other.pdf", data) == a {
		t.Error("different filename must change the ID")
	}
	if DocumentID("resume.pdf", []byte("different content")) == a {
		t.Error("different content must change the ID")
	}
}

func TestDocumentID_NoSeparatorCollisions(t *testing.T) {
	t.Parallel()

	// Hashing the content before joining with the filename prevents crafted
	// filename/content pairs from colliding.
	a := DocumentID("a:b", []byte("c"))
	b := DocumentID("a", []byte("b:c"))
	if a == b {
		t.Error("filename/content boundary must be unambiguous")
	}
}

func TestParse_StripXMLHelpers(t *testing.T) {
	t.Parallel()

	in := "<w:document><w:p><w:r><w:t>First &amp; foremost</w:t></w:r></w:p>" +
		"<w:p><w:r><w:t>Second line</w:t></w:r></w:p></w:document>"
	out := strings.ReplaceAll(in, "</w:p>", "\n")
	out = reXMLTag.ReplaceAllString(out, "")
	out = xmlEntities.Replace(out)

	want := "First & foremost\nSecond line\n"
	if out != want {
		t.Errorf("stripped = %q, want %q", out, want)
	}
}
