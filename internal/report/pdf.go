package report

import (
	"context"
	"encoding/base64"
	"fmt"
	"html"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/hadesus/analyzerforCP/internal/model"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

const pdfTimeout = 30 * time.Second

var drugHeadingRe = regexp.MustCompile(`(?i)<h3([^>]*)>\s*([0-9]+\.[^<]*)\s*</h3>`)

// PDFRenderer prints the Markdown report through a headless Chromium.
type PDFRenderer struct {
	chromePath string
	timeout    time.Duration
}

func NewPDFRenderer(chromePath string) *PDFRenderer {
	if strings.TrimSpace(chromePath) == "" {
		chromePath = detectChromePath()
	}
	return &PDFRenderer{chromePath: chromePath, timeout: pdfTimeout}
}

func (r *PDFRenderer) Render(ctx context.Context, doc model.DocumentAnalysis, language string) ([]byte, error) {
	htmlDoc, err := buildHTML(doc, language)
	if err != nil {
		return nil, err
	}
	l := labelsFor(language)

	timeoutCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	}
	if r.chromePath != "" {
		opts = append(opts, chromedp.ExecPath(r.chromePath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(timeoutCtx, append(chromedp.DefaultExecAllocatorOptions[:], opts...)...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	var pdf []byte
	dataURL := "data:text/html;base64," + base64.StdEncoding.EncodeToString([]byte(htmlDoc))
	if err := chromedp.Run(taskCtx,
		chromedp.Navigate(dataURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			out, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithLandscape(true).
				WithDisplayHeaderFooter(true).
				WithHeaderTemplate(`<div></div>`).
				WithFooterTemplate(footerTemplate(l)).
				WithPaperWidth(11.69).
				WithPaperHeight(8.27).
				WithMarginTop(0.5).
				WithMarginBottom(0.6).
				WithMarginLeft(0.4).
				WithMarginRight(0.4).
				Do(ctx)
			if err != nil {
				return err
			}
			pdf = out
			return nil
		}),
	); err != nil {
		return nil, fmt.Errorf("print pdf: %w", err)
	}
	return pdf, nil
}

func footerTemplate(l labels) string {
	return `<div style="width:100%;text-align:center;font-size:8px;color:#666;">` +
		html.EscapeString(l.page) + ` <span class="pageNumber"></span> ` + html.EscapeString(l.of) +
		` <span class="totalPages"></span></div>`
}

func buildHTML(doc model.DocumentAnalysis, language string) (string, error) {
	l := labelsFor(language)
	var content strings.Builder
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := md.Convert([]byte(Markdown(doc, language)), &content); err != nil {
		return "", fmt.Errorf("markdown convert: %w", err)
	}
	body := applyPrintLayoutHooks(content.String(), l.details)

	return "<!doctype html><html><head><meta charset='utf-8'><title>" + html.EscapeString(l.title) + "</title>" +
		"<style>" +
		"html,body,*{-webkit-print-color-adjust:exact !important;print-color-adjust:exact !important;} " +
		"body{font-family:'DejaVu Sans',Arial,sans-serif;font-size:9pt;color:#1c1917;background:#fff;margin:0;} " +
		"h1{font-size:16pt;margin:0 0 0.4rem;} h2{font-size:12pt;border-bottom:1px solid #a8a29e;padding-bottom:0.15rem;} " +
		"h3[data-drug-heading='true']{font-size:10.5pt;background:#f1f5f9;padding:0.25rem 0.4rem;break-after:avoid;} " +
		"a{color:#1d4ed8;text-decoration:underline;word-break:break-all;} " +
		"table{width:100%;border-collapse:collapse;border:1px solid #a8a29e;font-size:7.5pt;} " +
		"th,td{border:1px solid #a8a29e;padding:0.2rem 0.3rem;text-align:left;vertical-align:top;} " +
		"thead th{background:#f1f5f9;font-weight:700;} tr{break-inside:avoid;} " +
		`h2[data-page-break-before="true"]{break-before:page;page-break-before:always;} ` +
		"</style></head><body>" + body + "</body></html>", nil
}

// applyPrintLayoutHooks starts the details section on a new page and marks
// each numbered drug heading for styling.
func applyPrintLayoutHooks(contentHTML, detailsHeading string) string {
	reDetails := regexp.MustCompile(`(?i)<h2([^>]*)>\s*` + regexp.QuoteMeta(html.EscapeString(detailsHeading)) + `\s*</h2>`)
	out := reDetails.ReplaceAllString(contentHTML, `<h2$1 data-page-break-before="true">`+detailsHeading+`</h2>`)
	return drugHeadingRe.ReplaceAllString(out, `<h3$1 data-drug-heading="true">$2</h3>`)
}

func detectChromePath() string {
	candidates := []string{
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/usr/bin/google-chrome",
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
