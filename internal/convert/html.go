package convert

import (
	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/docuforge/kbase/internal/kberrors"
)

// htmlToMarkdown converts an HTML document to Markdown.
func htmlToMarkdown(data []byte) (string, error) {
	md, err := htmltomarkdown.ConvertString(DecodeText(data))
	if err != nil {
		return "", kberrors.New(kberrors.CodeConversionFailed, "HTML conversion", err)
	}
	return md + "\n", nil
}
