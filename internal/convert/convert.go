// Package convert turns uploaded files into Markdown.
//
// These converters run in-process and cover the text-like formats. PDF goes
// through the provider layer (layout engine, plain-text extractor, OCR) and
// is dispatched by the conversion worker.
package convert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/docuforge/kbase/internal/kberrors"
)

// Kind is the conversion route for a file.
type Kind int

const (
	// KindUnsupported is a file type the system cannot convert.
	KindUnsupported Kind = iota
	// KindDirect converts synchronously in-process (text-like formats).
	KindDirect
	// KindPDF goes through the PDF pipeline (layout engine, fallback, OCR).
	KindPDF
	// KindDOCX is extracted in-process by the worker.
	KindDOCX
)

// Classify routes a file by extension and content type.
func Classify(filename, contentType string) Kind {
	name := strings.ToLower(filename)
	ctype := strings.ToLower(contentType)

	switch {
	case strings.HasSuffix(name, ".pdf") || ctype == "application/pdf":
		return KindPDF
	case strings.HasSuffix(name, ".docx") || strings.Contains(ctype, "wordprocessingml"):
		return KindDOCX
	case strings.HasSuffix(name, ".md") || strings.HasSuffix(name, ".markdown") || ctype == "text/markdown":
		return KindDirect
	case strings.HasSuffix(name, ".txt") || strings.HasPrefix(ctype, "text/plain"):
		return KindDirect
	case strings.HasSuffix(name, ".json") || ctype == "application/json":
		return KindDirect
	case strings.HasSuffix(name, ".csv") || ctype == "text/csv":
		return KindDirect
	case strings.HasSuffix(name, ".xlsx") || strings.Contains(ctype, "spreadsheetml"):
		return KindDirect
	case strings.HasSuffix(name, ".html") || strings.HasSuffix(name, ".htm") || ctype == "text/html":
		return KindDirect
	default:
		return KindUnsupported
	}
}

// Direct converts a text-like file to Markdown.
// Callers must have classified the file as KindDirect.
func Direct(filename, contentType string, data []byte) (string, error) {
	name := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(name, ".md") || strings.HasSuffix(name, ".markdown") || strings.ToLower(contentType) == "text/markdown":
		md := strings.TrimSpace(DecodeText(data))
		if md == "" {
			md = "# (Empty Markdown)"
		}
		return md + "\n", nil
	case strings.HasSuffix(name, ".json") || strings.ToLower(contentType) == "application/json":
		return jsonToMarkdown(filename, data), nil
	case strings.HasSuffix(name, ".csv") || strings.ToLower(contentType) == "text/csv":
		return csvToMarkdown(filename, data)
	case strings.HasSuffix(name, ".xlsx") || strings.Contains(strings.ToLower(contentType), "spreadsheetml"):
		return xlsxToMarkdown(filename, data)
	case strings.HasSuffix(name, ".html") || strings.HasSuffix(name, ".htm") || strings.ToLower(contentType) == "text/html":
		return htmlToMarkdown(data)
	case strings.HasSuffix(name, ".txt") || strings.HasPrefix(strings.ToLower(contentType), "text/plain"):
		return textToMarkdown(filename, data), nil
	default:
		return "", kberrors.Validation("unsupported file type: %s", filepath.Base(filename))
	}
}

// DecodeText decodes bytes to a string, trying UTF-8 first and falling back
// to GB18030, then to lossy UTF-8.
func DecodeText(data []byte) string {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	if utf8.Valid(data) {
		return string(data)
	}
	if decoded, err := simplifiedchinese.GB18030.NewDecoder().Bytes(data); err == nil {
		return string(decoded)
	}
	return strings.ToValidUTF8(string(data), "�")
}

// textToMarkdown wraps plain text in a fenced block under a filename heading.
func textToMarkdown(filename string, data []byte) string {
	text := strings.TrimSpace(DecodeText(data))
	return fmt.Sprintf("# %s\n\n```text\n%s\n```\n", filepath.Base(filename), text)
}

// jsonToMarkdown pretty-prints JSON inside a fenced block labeled json.
// Malformed JSON is fenced as-is.
func jsonToMarkdown(filename string, data []byte) string {
	text := strings.TrimSpace(DecodeText(data))

	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err == nil {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(parsed); err == nil {
			text = strings.TrimRight(buf.String(), "\n")
		}
	}

	return fmt.Sprintf("# %s\n\n```json\n%s\n```\n", filepath.Base(filename), text)
}

// Preview returns a whitespace-normalized excerpt of text.
func Preview(text string, maxChars int) string {
	cleaned := strings.Join(strings.Fields(text), " ")
	runes := []rune(cleaned)
	if len(runes) > maxChars {
		return string(runes[:maxChars])
	}
	return cleaned
}

// StripNUL removes NUL bytes, which Postgres TEXT columns reject.
func StripNUL(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}
