package worker

import (
	"context"

	"github.com/docuforge/kbase/internal/kberrors"
	"github.com/docuforge/kbase/internal/provider"
)

// PDFPipeline converts PDFs with a cascade: layout engine, then embedded
// plain text, then OCR when the extracted text is too short to be
// anything but a scan.
type PDFPipeline struct {
	// Engine is the layout-aware converter. Nil skips straight to
	// plain-text extraction.
	Engine provider.PDFConverter
	// Extractor reads embedded text.
	Extractor provider.OCR
	// OCR handles scanned documents. Nil disables the fallback.
	OCR provider.OCR
	// MinTextChars is the floor below which extracted text triggers OCR.
	MinTextChars int
}

// Convert runs the cascade and returns Markdown.
// When the fallbacks fail after a transient engine error, the engine's
// error is returned so the job stays retryable.
func (p PDFPipeline) Convert(ctx context.Context, filename string, data []byte) (string, error) {
	var engineErr error
	if p.Engine != nil {
		markdown, err := p.Engine.Convert(ctx, filename, data)
		if err == nil {
			return markdown, nil
		}
		if kberrors.IsFatal(err) {
			return "", err
		}
		engineErr = err
	}

	text, err := p.Extractor.ExtractText(ctx, filename, data)
	if err != nil && p.OCR == nil {
		return "", firstErr(engineErr, err)
	}

	var ocrErr error
	if len([]rune(text)) < p.MinTextChars && p.OCR != nil {
		var ocrText string
		ocrText, ocrErr = p.OCR.ExtractText(ctx, filename, data)
		if ocrErr == nil && len(ocrText) > len(text) {
			return ocrText, nil
		}
		if err != nil {
			// Both extraction paths failed.
			return "", firstErr(engineErr, err)
		}
	}
	if text == "" {
		// Extraction itself succeeded. A blank document converts to empty
		// Markdown (and zero chunks downstream) unless a higher-fidelity
		// path failed transiently and deserves another attempt.
		if e := firstErr(engineErr, ocrErr); e != nil && kberrors.IsRetryable(e) {
			return "", e
		}
		return "", nil
	}
	return text, nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
