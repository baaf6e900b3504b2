package documents

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"
)

// xmlNode is a generic, order-preserving XML element tree.
type xmlNode struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Nodes   []xmlNode  `xml:",any"`
	Text    string     `xml:",chardata"`
}

func (n *xmlNode) child(local string) *xmlNode {
	for i := range n.Nodes {
		if n.Nodes[i].XMLName.Local == local {
			return &n.Nodes[i]
		}
	}
	return nil
}

func (n *xmlNode) children(local string) []*xmlNode {
	var out []*xmlNode
	for i := range n.Nodes {
		if n.Nodes[i].XMLName.Local == local {
			out = append(out, &n.Nodes[i])
		}
	}
	return out
}

// find walks a path of local names.
func (n *xmlNode) find(locals ...string) *xmlNode {
	cur := n
	for _, l := range locals {
		if cur = cur.child(l); cur == nil {
			return nil
		}
	}
	return cur
}

func (n *xmlNode) attr(local string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// relID returns the r:id attribute of a relationship reference.
func (n *xmlNode) relID() string {
	for _, a := range n.Attrs {
		if a.Name.Local == "id" && strings.Contains(a.Name.Space, "relationships") {
			return a.Value
		}
	}
	return ""
}

// deck is an opened presentation package.
type deck struct {
	zr     *zip.ReadCloser
	files  map[string]*zip.File
	slides []string // part names in presentation order
}

func openDeck(p string) (*deck, error) {
	zr, err := zip.OpenReader(p)
	if err != nil {
		return nil, err
	}
	d := &deck{zr: zr, files: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		d.files[f.Name] = f
	}
	if err := d.loadSlideOrder(); err != nil {
		zr.Close()
		return nil, err
	}
	return d, nil
}

func (d *deck) Close() error { return d.zr.Close() }

func (d *deck) readNode(name string) (*xmlNode, error) {
	f, ok := d.files[name]
	if !ok {
		return nil, fmt.Errorf("package part %s not found", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var n xmlNode
	if err := xml.NewDecoder(io.LimitReader(rc, 64<<20)).Decode(&n); err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return &n, nil
}

func (d *deck) loadSlideOrder() error {
	pres, err := d.readNode("ppt/presentation.xml")
	if err != nil {
		return fmt.Errorf("file is not a PowerPoint presentation: %w", err)
	}
	rels, err := d.readNode("ppt/_rels/presentation.xml.rels")
	if err != nil {
		return err
	}
	targets := make(map[string]string)
	for _, r := range rels.children("Relationship") {
		targets[r.attr("Id")] = r.attr("Target")
	}

	list := pres.child("sldIdLst")
	if list == nil {
		return nil
	}
	for _, id := range list.children("sldId") {
		target, ok := targets[id.relID()]
		if !ok {
			return fmt.Errorf("slide relationship %q not found", id.relID())
		}
		if strings.HasPrefix(target, "/") {
			target = strings.TrimPrefix(target, "/")
		} else {
			target = path.Join("ppt", target)
		}
		d.slides = append(d.slides, target)
	}
	return nil
}

// SlideLabels returns "Slide 1" … "Slide N" for the deck at p.
func SlideLabels(p string) ([]string, error) {
	d, err := openDeck(p)
	if err != nil {
		return nil, err
	}
	defer d.Close()

	labels := make([]string, len(d.slides))
	for i := range d.slides {
		labels[i] = fmt.Sprintf("Slide %d", i+1)
	}
	return labels, nil
}

// SlideCount returns the number of slides in the deck at p.
func SlideCount(p string) (int, error) {
	labels, err := SlideLabels(p)
	return len(labels), err
}

// ErrSlideOutOfRange is the tool-facing message for an index outside the deck.
func ErrSlideOutOfRange(index int) string {
	return fmt.Sprintf("Error: Slide index %d out of range.", index)
}

// SlideXML renders slide index of the deck at p in the simplified shape format.
// ok is false when the index is out of range.
func SlideXML(p string, index int) (out string, ok bool, err error) {
	d, err := openDeck(p)
	if err != nil {
		return "", false, err
	}
	defer d.Close()

	if index < 0 || index >= len(d.slides) {
		return "", false, nil
	}
	slide, err := d.readNode(d.slides[index])
	if err != nil {
		return "", false, err
	}
	return renderSlide(slide), true, nil
}

func shapeType(n *xmlNode) string {
	switch n.XMLName.Local {
	case "sp":
		if n.find("nvSpPr", "nvPr", "ph") != nil {
			return "SlidePlaceholder"
		}
		return "Shape"
	case "pic":
		return "Picture"
	case "graphicFrame":
		return "GraphicFrame"
	case "grpSp":
		return "GroupShape"
	case "cxnSp":
		return "Connector"
	}
	return ""
}

func renderSlide(slide *xmlNode) string {
	var b strings.Builder
	b.WriteString("<slide>\n  <shapes>\n")

	var shapes []*xmlNode
	if tree := slide.find("cSld", "spTree"); tree != nil {
		for i := range tree.Nodes {
			if shapeType(&tree.Nodes[i]) != "" {
				shapes = append(shapes, &tree.Nodes[i])
			}
		}
	}

	for i, s := range shapes {
		fmt.Fprintf(&b, "    <shape id='%d' type='%s'>\n", i, shapeType(s))
		if s.XMLName.Local == "sp" {
			b.WriteString("      <text_frame>\n")
			paras := paragraphs(s.child("txBody"))
			if len(paras) == 0 {
				paras = []string{""}
			}
			for _, p := range paras {
				b.WriteString("        <paragraph>")
				writeEscaped(&b, p)
				b.WriteString("</paragraph>\n")
			}
			b.WriteString("      </text_frame>\n")
		}
		if tbl := s.find("graphic", "graphicData", "tbl"); tbl != nil {
			b.WriteString("      <table>\n")
			for _, row := range tbl.children("tr") {
				b.WriteString("        <row>\n")
				for _, cell := range row.children("tc") {
					b.WriteString("          <cell>")
					writeEscaped(&b, strings.Join(paragraphs(cell.child("txBody")), "\n"))
					b.WriteString("</cell>\n")
				}
				b.WriteString("        </row>\n")
			}
			b.WriteString("      </table>\n")
		}
		b.WriteString("    </shape>\n")
	}

	b.WriteString("  </shapes>\n</slide>")
	return b.String()
}

// paragraphs returns the plain text of each a:p under a text body.
func paragraphs(body *xmlNode) []string {
	if body == nil {
		return nil
	}
	var out []string
	for _, p := range body.children("p") {
		var sb strings.Builder
		for _, run := range p.Nodes {
			switch run.XMLName.Local {
			case "r", "fld":
				if t := run.child("t"); t != nil {
					sb.WriteString(t.Text)
				}
			case "br":
				sb.WriteString("\n")
			}
		}
		out = append(out, sb.String())
	}
	return out
}

var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func writeEscaped(b *strings.Builder, s string) {
	_, _ = textEscaper.WriteString(b, s)
}
