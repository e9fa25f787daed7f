package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hadesus/analyzerforCP/internal/model"
)

// Format is an export target. The document export is PDF rendered from the
// Markdown report; there is no .docx writer.
type Format string

const (
	FormatJSON     Format = "json"
	FormatXLSX     Format = "xlsx"
	FormatMarkdown Format = "md"
	FormatPDF      Format = "pdf"
)

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	case "pdf":
		return FormatPDF, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

func (f Format) ContentType() string {
	switch f {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case FormatPDF:
		return "application/pdf"
	default:
		return "application/json"
	}
}

func (f Format) Extension() string {
	return "." + string(f)
}

// Renderer turns an analysis into PDF bytes.
type Renderer interface {
	Render(ctx context.Context, doc model.DocumentAnalysis, language string) ([]byte, error)
}

// Exporter writes a finished analysis in any supported format.
type Exporter struct {
	language string
	pdf      Renderer
}

func NewExporter(language string, pdf Renderer) *Exporter {
	return &Exporter{language: language, pdf: pdf}
}

func (e *Exporter) Export(ctx context.Context, w io.Writer, doc model.DocumentAnalysis, format Format) error {
	switch format {
	case FormatJSON:
		return WriteJSON(w, doc)
	case FormatXLSX:
		return WriteXLSX(w, doc, e.language)
	case FormatMarkdown:
		_, err := io.WriteString(w, Markdown(doc, e.language))
		return err
	case FormatPDF:
		if e.pdf == nil {
			return fmt.Errorf("pdf export not configured")
		}
		out, err := e.pdf.Render(ctx, doc, e.language)
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	}
	return fmt.Errorf("unsupported export format %q", format)
}

// Bytes is Export into memory, so a failed render never leaves a partial
// response behind.
func (e *Exporter) Bytes(ctx context.Context, doc model.DocumentAnalysis, format Format) ([]byte, error) {
	var buf bytes.Buffer
	if err := e.Export(ctx, &buf, doc, format); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func WriteJSON(w io.Writer, doc model.DocumentAnalysis) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// Filename builds the download name for an analysis.
func Filename(doc model.DocumentAnalysis, format Format) string {
	id := doc.ID
	if len(id) > 8 {
		id = id[:8]
	}
	if id == "" {
		return "protocol_analysis" + format.Extension()
	}
	return "protocol_analysis_" + id + format.Extension()
}
