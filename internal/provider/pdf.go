package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/docuforge/kbase/internal/kberrors"
)

// LayoutEngine is an HTTP PDF-to-Markdown conversion service that
// understands document layout (tables, headings, reading order).
type LayoutEngine struct {
	client  *http.Client
	baseURL string
}

var _ PDFConverter = (*LayoutEngine)(nil)

// NewLayoutEngine builds a client for the conversion service.
func NewLayoutEngine(baseURL string) *LayoutEngine {
	return &LayoutEngine{
		client:  newHTTPClient(),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

type layoutResponse struct {
	Markdown string `json:"markdown"`
}

// Convert uploads the PDF and returns the engine's Markdown.
func (l *LayoutEngine) Convert(ctx context.Context, filename string, data []byte) (string, error) {
	body, contentType, err := multipartFile(filename, data)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		l.baseURL+"/convert", body)
	if err != nil {
		return "", kberrors.Internal("building convert request", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := l.client.Do(req)
	if err != nil {
		return "", kberrors.New(kberrors.CodeProviderUnavailable, "calling conversion engine", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError("convert", resp.StatusCode, drainBody(resp.Body))
	}

	var result layoutResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", kberrors.New(kberrors.CodeProviderBadResponse, "decoding convert response", err)
	}
	return result.Markdown, nil
}

// Probe checks the engine's health endpoint.
func (l *LayoutEngine) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/health", nil)
	if err != nil {
		return kberrors.Internal("building health request", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return kberrors.New(kberrors.CodeProviderUnavailable, "calling conversion engine", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError("health", resp.StatusCode, drainBody(resp.Body))
	}
	return nil
}

// PlainTextExtractor pulls embedded text straight out of the PDF without
// layout analysis. Cheap and local; useless for scanned documents.
type PlainTextExtractor struct{}

// ExtractText returns the concatenated page text.
func (PlainTextExtractor) ExtractText(_ context.Context, _ string, data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", kberrors.New(kberrors.CodeConversionFailed, "opening pdf", err)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single broken page should not sink the document.
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// OCRClient sends documents to an OCR HTTP service. Used when a PDF has
// too little embedded text to be anything but a scan.
type OCRClient struct {
	client  *http.Client
	baseURL string
}

var _ OCR = (*OCRClient)(nil)

// NewOCRClient builds a client for the OCR service.
func NewOCRClient(baseURL string) *OCRClient {
	return &OCRClient{
		client:  newHTTPClient(),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

type ocrResponse struct {
	Text string `json:"text"`
}

func (o *OCRClient) ExtractText(ctx context.Context, filename string, data []byte) (string, error) {
	body, contentType, err := multipartFile(filename, data)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/ocr", body)
	if err != nil {
		return "", kberrors.Internal("building ocr request", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", kberrors.New(kberrors.CodeProviderUnavailable, "calling ocr", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError("ocr", resp.StatusCode, drainBody(resp.Body))
	}

	var result ocrResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", kberrors.New(kberrors.CodeProviderBadResponse, "decoding ocr response", err)
	}
	return result.Text, nil
}

func multipartFile(filename string, data []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", kberrors.Internal("building multipart body", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", kberrors.Internal("writing multipart body", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", kberrors.Internal("closing multipart body", err)
	}
	return &buf, writer.FormDataContentType(), nil
}
