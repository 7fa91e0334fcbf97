package worker

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuforge/kbase/internal/kberrors"
)

type fakeEngine struct {
	markdown string
	err      error
	calls    int
}

func (f *fakeEngine) Convert(context.Context, string, []byte) (string, error) {
	f.calls++
	return f.markdown, f.err
}

type fakeOCR struct {
	text  string
	err   error
	calls int
}

func (f *fakeOCR) ExtractText(context.Context, string, []byte) (string, error) {
	f.calls++
	return f.text, f.err
}

func TestPipelineEngineWins(t *testing.T) {
	extractor := &fakeOCR{text: "embedded text"}
	p := PDFPipeline{
		Engine:    &fakeEngine{markdown: "# Converted"},
		Extractor: extractor,
	}

	got, err := p.Convert(context.Background(), "a.pdf", nil)
	require.NoError(t, err)
	assert.Equal(t, "# Converted", got)
	assert.Equal(t, 0, extractor.calls)
}

func TestPipelineFatalEngineErrorStops(t *testing.T) {
	extractor := &fakeOCR{text: "embedded text"}
	p := PDFPipeline{
		Engine:    &fakeEngine{err: kberrors.Newf(kberrors.CodeDimensionMismatch, "bad setup")},
		Extractor: extractor,
	}

	_, err := p.Convert(context.Background(), "a.pdf", nil)
	assert.Equal(t, kberrors.CodeDimensionMismatch, kberrors.GetCode(err))
	assert.Equal(t, 0, extractor.calls)
}

func TestPipelineFallsBackToExtraction(t *testing.T) {
	longText := strings.Repeat("plenty of embedded text ", 20)
	p := PDFPipeline{
		Engine:       &fakeEngine{err: kberrors.Newf(kberrors.CodeProviderUnavailable, "down")},
		Extractor:    &fakeOCR{text: longText},
		MinTextChars: 200,
	}

	got, err := p.Convert(context.Background(), "a.pdf", nil)
	require.NoError(t, err)
	assert.Equal(t, longText, got)
}

func TestPipelineShortTextTriggersOCR(t *testing.T) {
	ocr := &fakeOCR{text: strings.Repeat("recognized text from the scan ", 10)}
	p := PDFPipeline{
		Extractor:    &fakeOCR{text: "scan"},
		OCR:          ocr,
		MinTextChars: 200,
	}

	got, err := p.Convert(context.Background(), "scan.pdf", nil)
	require.NoError(t, err)
	assert.Equal(t, ocr.text, got)
	assert.Equal(t, 1, ocr.calls)
}

func TestPipelineKeepsExtractionWhenOCRWorse(t *testing.T) {
	p := PDFPipeline{
		Extractor:    &fakeOCR{text: "short but real"},
		OCR:          &fakeOCR{text: "x"},
		MinTextChars: 200,
	}

	got, err := p.Convert(context.Background(), "scan.pdf", nil)
	require.NoError(t, err)
	assert.Equal(t, "short but real", got)
}

func TestPipelineNoOCRLongEnoughText(t *testing.T) {
	ocr := &fakeOCR{text: "ocr text"}
	p := PDFPipeline{
		Extractor:    &fakeOCR{text: strings.Repeat("embedded ", 50)},
		OCR:          ocr,
		MinTextChars: 200,
	}

	_, err := p.Convert(context.Background(), "a.pdf", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, ocr.calls)
}

func TestPipelineTransientEngineErrorSurvivesFallbackFailure(t *testing.T) {
	p := PDFPipeline{
		Engine:    &fakeEngine{err: kberrors.Newf(kberrors.CodeProviderUnavailable, "down")},
		Extractor: &fakeOCR{err: kberrors.Newf(kberrors.CodeConversionFailed, "broken xref")},
	}

	_, err := p.Convert(context.Background(), "a.pdf", nil)
	assert.Equal(t, kberrors.CodeProviderUnavailable, kberrors.GetCode(err))
	assert.True(t, kberrors.IsRetryable(err))
}

func TestPipelineBlankDocumentNoOCRSucceedsEmpty(t *testing.T) {
	p := PDFPipeline{
		Extractor: &fakeOCR{text: ""},
	}

	got, err := p.Convert(context.Background(), "blank.pdf", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPipelineBlankDocumentEmptyOCRSucceedsEmpty(t *testing.T) {
	p := PDFPipeline{
		Extractor: &fakeOCR{text: ""},
		OCR:       &fakeOCR{text: ""},
	}

	got, err := p.Convert(context.Background(), "blank.pdf", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPipelineBlankTextTransientOCRErrorRetries(t *testing.T) {
	p := PDFPipeline{
		Extractor: &fakeOCR{text: ""},
		OCR:       &fakeOCR{err: kberrors.Newf(kberrors.CodeProviderUnavailable, "ocr down")},
	}

	_, err := p.Convert(context.Background(), "scan.pdf", nil)
	assert.True(t, kberrors.IsRetryable(err))
}
