// Package loader validates uploaded documents and parses their bytes into
// plain UTF-8 text. Formats are dispatched by file extension through a
// registry of parser variants, each with the same narrow bytes→text
// contract; new formats are added by registering a variant.
package loader

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ErrUnsupportedFormat is returned when a filename's extension is not in the
// configured allow-list or has no registered parser.
var ErrUnsupportedFormat = errors.New("loader: unsupported file format")

// ErrTooLarge is returned when an upload exceeds the configured size bound.
var ErrTooLarge = errors.New("loader: file too large")

// ErrParseFailed is returned when a document's bytes cannot be turned into
// text, or yield no extractable text at all.
var ErrParseFailed = errors.New("loader: parse failed")

// parseFunc is the narrow contract every format variant implements.
type parseFunc func(data []byte) (string, error)

// parsers maps a lowercase extension to its format variant.
var parsers = map[string]parseFunc{
	".pdf":  parsePDF,
	".md":   parseText,
	".txt":  parseText,
	".docx": parseDOCX,
}

// idPrefixLen is the number of hex characters kept from the identity hash.
// 12 characters (48 bits) keeps IDs readable while making accidental
// collisions across a single-admin corpus implausible.
const idPrefixLen = 12

// Loader validates upload envelopes and parses documents.
type Loader struct {
	// maxBytes is the upload size bound.
	maxBytes int64
	// allowed is the lowercase extension allow-list.
	allowed map[string]bool
}

// New constructs a Loader. maxBytes bounds upload sizes; allowedExts is the
// extension allow-list (entries include the leading dot).
func New(maxBytes int64, allowedExts []string) *Loader {
	allowed := make(map[string]bool, len(allowedExts))
	for _, ext := range allowedExts {
		allowed[strings.ToLower(ext)] = true
	}
	return &Loader{maxBytes: maxBytes, allowed: allowed}
}

// Validate rejects uploads whose extension is not allowed or whose size
// exceeds the configured bound. It is called before any bytes are parsed.
func (l *Loader) Validate(filename string, size int64) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if !l.allowed[ext] {
		return fmt.Errorf("%w: %q (allowed: %s)", ErrUnsupportedFormat, ext, l.allowedList())
	}
	if _, ok := parsers[ext]; !ok {
		return fmt.Errorf("%w: no parser registered for %q", ErrUnsupportedFormat, ext)
	}
	if size > l.maxBytes {
		return fmt.Errorf("%w: %d bytes exceeds the %d byte limit", ErrTooLarge, size, l.maxBytes)
	}
	return nil
}

// Parse turns an upload's bytes into text and assigns its document identity.
// The identity is derived from filename and content hash, so re-uploading
// identical bytes under the same name yields the same ID.
func (l *Loader) Parse(filename string, data []byte) (text, documentID string, err error) {
	ext := strings.ToLower(filepath.Ext(filename))
	parse, ok := parsers[ext]
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	text, err = parse(data)
	if err != nil {
		return "", "", fmt.Errorf("%w: %s: %v", ErrParseFailed, filename, err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", "", fmt.Errorf("%w: %s: no extractable text", ErrParseFailed, filename)
	}

	return text, DocumentID(filename, data), nil
}

// DocumentID derives the stable document identity from filename and content.
// Hashing the content hash together with the filename makes the ID change
// when either does, and keeps byte-identical re-uploads idempotent.
func DocumentID(filename string, data []byte) string {
	content := sha256.Sum256(data)
	identity := sha256.Sum256([]byte(filename + ":" + hex.EncodeToString(content[:])))
	return hex.EncodeToString(identity[:])[:idPrefixLen]
}

// allowedList renders the allow-list for error messages, sorted for
// deterministic output.
func (l *Loader) allowedList() string {
	exts := make([]string, 0, len(l.allowed))
	for ext := range l.allowed {
		exts = append(exts, ext)
	}
	// Small fixed set; insertion sort keeps the import list short.
	for i := 1; i < len(exts); i++ {
		for j := i; j > 0 && exts[j] < exts[j-1]; j-- {
			exts[j], exts[j-1] = exts[j-1], exts[j]
		}
	}
	return strings.Join(exts, ", ")
}

// parseText decodes plain text and Markdown uploads. Markdown is kept as-is
// for retrieval — heading and list markers carry meaning for the reader and
// embed fine.
func parseText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", errors.New("content is not valid UTF-8")
	}
	return string(data), nil
}
