// Package documentstest writes small decks and workbooks for tests.
package documentstest

import (
	"archive/zip"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

// Slide describes one fixture slide.
type Slide struct {
	Title string
	Body  []string
	Table [][]string
}

// Sheet describes one fixture worksheet.
type Sheet struct {
	Name string
	Rows [][]string
}

const (
	nsP      = `xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships" xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"`
	relsNS   = `http://schemas.openxmlformats.org/package/2006/relationships`
	slideRel = `http://schemas.openxmlformats.org/officeDocument/2006/relationships/slide`
)

// WriteDeck writes a presentation with the given slides to dir/name and returns its path.
func WriteDeck(t testing.TB, dir, name string, slides ...Slide) string {
	t.Helper()
	p := filepath.Join(dir, name)
	f, err := os.Create(p)
	if err != nil {
		t.Fatalf("create deck: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	write := func(part, body string) {
		w, err := zw.Create(part)
		if err != nil {
			t.Fatalf("create part %s: %v", part, err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("write part %s: %v", part, err)
		}
	}

	var ct, ids, rels strings.Builder
	ct.WriteString(`<?xml version="1.0" encoding="UTF-8"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">`)
	ct.WriteString(`<Default Extension="xml" ContentType="application/xml"/>`)
	ct.WriteString(`<Override PartName="/ppt/presentation.xml" ContentType="application/vnd.openxmlformats-officedocument.presentationml.presentation.main+xml"/>`)
	fmt.Fprintf(&rels, `<?xml version="1.0" encoding="UTF-8"?><Relationships xmlns="%s">`, relsNS)
	for i, s := range slides {
		n := i + 1
		fmt.Fprintf(&ct, `<Override PartName="/ppt/slides/slide%d.xml" ContentType="application/vnd.openxmlformats-officedocument.presentationml.slide+xml"/>`, n)
		fmt.Fprintf(&ids, `<p:sldId id="%d" r:id="rId%d"/>`, 255+n, n+1)
		fmt.Fprintf(&rels, `<Relationship Id="rId%d" Type="%s" Target="slides/slide%d.xml"/>`, n+1, slideRel, n)
		write(fmt.Sprintf("ppt/slides/slide%d.xml", n), slideXML(s))
	}
	ct.WriteString(`</Types>`)
	rels.WriteString(`</Relationships>`)

	write("[Content_Types].xml", ct.String())
	write("ppt/presentation.xml", fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?><p:presentation %s><p:sldIdLst>%s</p:sldIdLst></p:presentation>`, nsP, ids.String()))
	write("ppt/_rels/presentation.xml.rels", rels.String())

	if err := zw.Close(); err != nil {
		t.Fatalf("close deck: %v", err)
	}
	return p
}

func slideXML(s Slide) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<?xml version="1.0" encoding="UTF-8"?><p:sld %s><p:cSld><p:spTree>`, nsP)
	b.WriteString(`<p:nvGrpSpPr><p:cNvPr id="1" name=""/><p:cNvGrpSpPr/><p:nvPr/></p:nvGrpSpPr><p:grpSpPr/>`)
	b.WriteString(`<p:sp><p:nvSpPr><p:cNvPr id="2" name="Title"/><p:cNvSpPr/><p:nvPr><p:ph type="title"/></p:nvPr></p:nvSpPr><p:spPr/>`)
	b.WriteString(`<p:txBody><a:bodyPr/>`)
	fmt.Fprintf(&b, `<a:p><a:r><a:t>%s</a:t></a:r></a:p>`, escape(s.Title))
	b.WriteString(`</p:txBody></p:sp>`)
	if len(s.Body) > 0 {
		b.WriteString(`<p:sp><p:nvSpPr><p:cNvPr id="3" name="Body"/><p:cNvSpPr/><p:nvPr/></p:nvSpPr><p:spPr/><p:txBody><a:bodyPr/>`)
		for _, line := range s.Body {
			fmt.Fprintf(&b, `<a:p><a:r><a:t>%s</a:t></a:r></a:p>`, escape(line))
		}
		b.WriteString(`</p:txBody></p:sp>`)
	}
	if len(s.Table) > 0 {
		b.WriteString(`<p:graphicFrame><p:nvGraphicFramePr><p:cNvPr id="4" name="Table"/><p:cNvGraphicFramePr/><p:nvPr/></p:nvGraphicFramePr><p:xfrm/>`)
		b.WriteString(`<a:graphic><a:graphicData uri="http://schemas.openxmlformats.org/drawingml/2006/table"><a:tbl>`)
		for _, row := range s.Table {
			b.WriteString(`<a:tr h="0">`)
			for _, cell := range row {
				fmt.Fprintf(&b, `<a:tc><a:txBody><a:bodyPr/><a:p><a:r><a:t>%s</a:t></a:r></a:p></a:txBody></a:tc>`, escape(cell))
			}
			b.WriteString(`</a:tr>`)
		}
		b.WriteString(`</a:tbl></a:graphicData></a:graphic></p:graphicFrame>`)
	}
	b.WriteString(`</p:spTree></p:cSld></p:sld>`)
	return b.String()
}

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escape(s string) string { return escaper.Replace(s) }

// WriteWorkbook writes a workbook with the given sheets to dir/name and returns its path.
func WriteWorkbook(t testing.TB, dir, name string, sheets ...Sheet) string {
	t.Helper()
	p := filepath.Join(dir, name)
	f := excelize.NewFile()
	defer f.Close()

	for i, s := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", s.Name); err != nil {
				t.Fatalf("rename sheet: %v", err)
			}
		} else if _, err := f.NewSheet(s.Name); err != nil {
			t.Fatalf("new sheet: %v", err)
		}
		for r, row := range s.Rows {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			if err != nil {
				t.Fatalf("cell name: %v", err)
			}
			vals := make([]any, len(row))
			for c, v := range row {
				vals[c] = v
			}
			if err := f.SetSheetRow(s.Name, cell, &vals); err != nil {
				t.Fatalf("set row: %v", err)
			}
		}
	}
	if err := f.SaveAs(p); err != nil {
		t.Fatalf("save workbook: %v", err)
	}
	return p
}
