package convert

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/docuforge/kbase/internal/kberrors"
)

// csvToMarkdown renders a CSV file as a single Markdown table.
func csvToMarkdown(filename string, data []byte) (string, error) {
	reader := csv.NewReader(strings.NewReader(DecodeText(data)))
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return "", kberrors.New(kberrors.CodeConversionFailed, "malformed CSV", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", filepath.Base(filename))
	writeTable(&b, rows)
	return b.String(), nil
}

// xlsxToMarkdown renders an XLSX workbook as one Markdown table per sheet,
// each under a sheet-name heading.
func xlsxToMarkdown(filename string, data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", kberrors.New(kberrors.CodeConversionFailed, "malformed XLSX", err)
	}
	defer f.Close()

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", filepath.Base(filename))

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", kberrors.New(kberrors.CodeConversionFailed, fmt.Sprintf("reading sheet %s", sheet), err)
		}
		if len(rows) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n\n", sheet)
		writeTable(&b, rows)
	}

	return b.String(), nil
}

// writeTable writes rows as a Markdown table: first row is the header,
// followed by a |---| separator row. Rows are padded to the widest row.
func writeTable(b *strings.Builder, rows [][]string) {
	rows = dropEmptyRows(rows)
	if len(rows) == 0 {
		return
	}

	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}

	writeRow := func(row []string) {
		b.WriteString("|")
		for i := 0; i < width; i++ {
			cell := ""
			if i < len(row) {
				cell = escapeCell(row[i])
			}
			b.WriteString(" ")
			b.WriteString(cell)
			b.WriteString(" |")
		}
		b.WriteString("\n")
	}

	writeRow(rows[0])
	b.WriteString("|")
	for i := 0; i < width; i++ {
		b.WriteString("---|")
	}
	b.WriteString("\n")
	for _, row := range rows[1:] {
		writeRow(row)
	}
}

// escapeCell makes a cell value safe inside a Markdown table.
// Newlines become <br/>, pipes are backslash-escaped.
func escapeCell(cell string) string {
	cell = strings.TrimSpace(cell)
	cell = strings.ReplaceAll(cell, "\r\n", "\n")
	cell = strings.ReplaceAll(cell, "\n", "<br/>")
	cell = strings.ReplaceAll(cell, "|", "\\|")
	return cell
}

func dropEmptyRows(rows [][]string) [][]string {
	var out [][]string
	for _, row := range rows {
		empty := true
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				empty = false
				break
			}
		}
		if !empty {
			out = append(out, row)
		}
	}
	return out
}
