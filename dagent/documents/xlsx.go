package documents

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// SheetNames lists the worksheets of the workbook at p in workbook order.
func SheetNames(p string) ([]string, error) {
	f, err := excelize.OpenFile(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.GetSheetList(), nil
}

// SheetMarkdown renders a worksheet as a markdown table. The first row is the
// header; short rows are padded to the widest row.
func SheetMarkdown(p, sheet string) (string, error) {
	f, err := excelize.OpenFile(p)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return "", fmt.Errorf("worksheet named %q not found", sheet)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return "", err
	}
	return markdownTable(rows), nil
}

func markdownTable(rows [][]string) string {
	width := 0
	for _, r := range rows {
		width = max(width, len(r))
	}
	if width == 0 {
		return ""
	}

	var b strings.Builder
	writeRow := func(cells []string) {
		b.WriteString("|")
		for i := 0; i < width; i++ {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			b.WriteString(" ")
			b.WriteString(escapeCell(cell))
			b.WriteString(" |")
		}
		b.WriteString("\n")
	}

	header := rows[0]
	writeRow(header)
	b.WriteString("|")
	for i := 0; i < width; i++ {
		b.WriteString(" --- |")
	}
	b.WriteString("\n")
	for _, r := range rows[1:] {
		writeRow(r)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

var cellEscaper = strings.NewReplacer("|", `\|`, "\r\n", "<br>", "\n", "<br>")

func escapeCell(s string) string { return cellEscaper.Replace(s) }
