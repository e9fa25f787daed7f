package docx

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	documentPart    = "word/document.xml"
	maxDocumentPart = 64 << 20
	wordNS          = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
)

// ErrMalformed is returned for input that is not a readable .docx package.
var ErrMalformed = errors.New("docx: malformed document")

type blockKind int

const (
	paragraphBlock blockKind = iota
	tableBlock
)

type block struct {
	kind  blockKind
	index int
}

// Document is the text content of a .docx body. Tables are rows of cells;
// a cell's paragraphs are joined with newlines.
type Document struct {
	Paragraphs []string
	Tables     [][][]string
	body       []block
}

// Text joins paragraphs and table cells in document order, one fragment per
// line, skipping blank fragments.
func (d Document) Text() string {
	var lines []string
	add := func(s string) {
		if strings.TrimSpace(s) != "" {
			lines = append(lines, s)
		}
	}
	for _, b := range d.body {
		switch b.kind {
		case paragraphBlock:
			add(d.Paragraphs[b.index])
		case tableBlock:
			for _, row := range d.Tables[b.index] {
				for _, cell := range row {
					add(cell)
				}
			}
		}
	}
	return strings.Join(lines, "\n")
}

// Parse reads the main document part of a .docx file.
func Parse(data []byte) (Document, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var part *zip.File
	for _, f := range zr.File {
		if f.Name == documentPart {
			part = f
			break
		}
	}
	if part == nil {
		return Document{}, fmt.Errorf("%w: missing %s", ErrMalformed, documentPart)
	}
	rc, err := part.Open()
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	defer rc.Close()

	doc, err := decode(io.LimitReader(rc, maxDocumentPart))
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return doc, nil
}

type tableState struct {
	rows [][]string
	row  []string
	cell []string
}

func decode(r io.Reader) (Document, error) {
	var (
		doc    Document
		tables []*tableState
		para   strings.Builder
		inPara bool
		inText bool
		inTabs bool
	)
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Document{}, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space != wordNS {
				continue
			}
			switch t.Name.Local {
			case "p":
				inPara = true
				para.Reset()
			case "t":
				inText = true
			case "tabs":
				inTabs = true
			case "tab":
				if inPara && !inTabs {
					para.WriteByte('\t')
				}
			case "br", "cr":
				if inPara {
					para.WriteByte('\n')
				}
			case "tbl":
				tables = append(tables, &tableState{})
			case "tr":
				if n := len(tables); n > 0 {
					tables[n-1].row = nil
				}
			case "tc":
				if n := len(tables); n > 0 {
					tables[n-1].cell = nil
				}
			}
		case xml.CharData:
			if inPara && inText {
				para.Write(t)
			}
		case xml.EndElement:
			if t.Name.Space != wordNS {
				continue
			}
			switch t.Name.Local {
			case "t":
				inText = false
			case "tabs":
				inTabs = false
			case "p":
				inPara = false
				text := para.String()
				if n := len(tables); n > 0 {
					tables[n-1].cell = append(tables[n-1].cell, text)
				} else {
					doc.body = append(doc.body, block{kind: paragraphBlock, index: len(doc.Paragraphs)})
					doc.Paragraphs = append(doc.Paragraphs, text)
				}
			case "tc":
				if n := len(tables); n > 0 {
					ts := tables[n-1]
					ts.row = append(ts.row, strings.Join(ts.cell, "\n"))
				}
			case "tr":
				if n := len(tables); n > 0 {
					ts := tables[n-1]
					ts.rows = append(ts.rows, ts.row)
				}
			case "tbl":
				n := len(tables)
				if n == 0 {
					continue
				}
				done := tables[n-1]
				tables = tables[:n-1]
				if n > 1 {
					// Nested tables contribute their cell text to the enclosing cell.
					parent := tables[n-2]
					for _, row := range done.rows {
						parent.cell = append(parent.cell, row...)
					}
					continue
				}
				doc.body = append(doc.body, block{kind: tableBlock, index: len(doc.Tables)})
				doc.Tables = append(doc.Tables, done.rows)
			}
		}
	}
	return doc, nil
}
