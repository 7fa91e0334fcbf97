package convert

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"github.com/docuforge/kbase/internal/kberrors"
)

// DOCX extracts paragraph text from a .docx file and joins non-empty
// paragraphs with blank lines.
func DOCX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", kberrors.New(kberrors.CodeConversionFailed, "malformed DOCX archive", err)
	}

	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", kberrors.New(kberrors.CodeConversionFailed, "DOCX missing word/document.xml", nil)
	}

	rc, err := doc.Open()
	if err != nil {
		return "", kberrors.New(kberrors.CodeConversionFailed, "reading DOCX document", err)
	}
	defer rc.Close()

	paragraphs, err := docxParagraphs(rc)
	if err != nil {
		return "", kberrors.New(kberrors.CodeConversionFailed, "parsing DOCX document", err)
	}

	return strings.Join(paragraphs, "\n\n"), nil
}

// docxParagraphs streams WordprocessingML, collecting w:t runs per w:p.
func docxParagraphs(r io.Reader) ([]string, error) {
	dec := xml.NewDecoder(r)

	var paragraphs []string
	var current strings.Builder
	inText := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "br", "cr":
				current.WriteString("\n")
			case "tab":
				current.WriteString("\t")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if text := strings.TrimSpace(current.String()); text != "" {
					paragraphs = append(paragraphs, text)
				}
				current.Reset()
			}
		case xml.CharData:
			if inText {
				current.Write(t)
			}
		}
	}

	if text := strings.TrimSpace(current.String()); text != "" {
		paragraphs = append(paragraphs, text)
	}
	return paragraphs, nil
}
