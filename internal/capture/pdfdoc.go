package capture

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"
)

const (
	bodyFont     = "Helvetica"
	bodySize     = 11.0
	bodyLeading  = 5.5
	pageMarginMM = 18.0
)

// pdfDoc lays text blocks out on A4 pages with the core PDF fonts.
// Text is translated to cp1252, so the synthesized fallbacks carry Latin-1
// text only; runes outside it (CJK, Devanagari and so on) print as '.'.
// Pages in those scripts rely on the rendered strategy.
type pdfDoc struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
}

func newPDFDoc(title, source string, created time.Time) *pdfDoc {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMarginMM, pageMarginMM, pageMarginMM)
	pdf.SetAutoPageBreak(true, pageMarginMM)
	pdf.SetCreator("sitecapture", false)
	if title != "" {
		pdf.SetTitle(title, true)
	}
	if !created.IsZero() {
		pdf.SetCreationDate(created)
	}
	pdf.AddPage()

	d := &pdfDoc{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}
	if source != "" {
		pdf.SetFont(bodyFont, "I", 8)
		pdf.SetTextColor(110, 110, 110)
		pdf.MultiCell(0, 4, d.tr(source), "", "L", false)
		pdf.SetTextColor(0, 0, 0)
		pdf.Ln(3)
	}
	return d
}

func (d *pdfDoc) heading(level int, text string) {
	size := 12.0
	switch level {
	case 1:
		size = 18
	case 2:
		size = 15
	case 3:
		size = 13
	}
	d.pdf.Ln(1)
	d.pdf.SetFont(bodyFont, "B", size)
	d.pdf.MultiCell(0, size*0.5, d.tr(text), "", "L", false)
	d.pdf.Ln(2)
}

func (d *pdfDoc) paragraph(text string) {
	d.pdf.SetFont(bodyFont, "", bodySize)
	d.pdf.MultiCell(0, bodyLeading, d.tr(text), "", "L", false)
	d.pdf.Ln(2)
}

func (d *pdfDoc) quote(text string) {
	d.indented(8, func() {
		d.pdf.SetFont(bodyFont, "I", bodySize)
		d.pdf.MultiCell(0, bodyLeading, d.tr(text), "", "L", false)
	})
	d.pdf.Ln(2)
}

func (d *pdfDoc) listItem(depth int, text string) {
	d.indented(4+float64(depth)*6, func() {
		d.pdf.SetFont(bodyFont, "", bodySize)
		d.pdf.MultiCell(0, bodyLeading, d.tr("- "+text), "", "L", false)
	})
	d.pdf.Ln(1)
}

func (d *pdfDoc) code(text string) {
	d.pdf.SetFont("Courier", "", 9)
	d.pdf.SetFillColor(242, 242, 242)
	d.pdf.MultiCell(0, 4.5, d.tr(text), "", "L", true)
	d.pdf.Ln(2)
}

func (d *pdfDoc) rule() {
	left, _, right, _ := d.pdf.GetMargins()
	width, _ := d.pdf.GetPageSize()
	y := d.pdf.GetY() + 1
	d.pdf.SetDrawColor(180, 180, 180)
	d.pdf.Line(left, y, width-right, y)
	d.pdf.Ln(4)
}

// plain writes each paragraph as wrapped fixed-leading lines. Page breaks
// fall wherever the next line no longer fits.
func (d *pdfDoc) plain(paragraphs []string) {
	d.pdf.SetFont(bodyFont, "", bodySize)
	for _, para := range paragraphs {
		d.pdf.MultiCell(0, bodyLeading, d.tr(para), "", "L", false)
		d.pdf.Ln(bodyLeading / 2)
	}
}

func (d *pdfDoc) indented(by float64, fn func()) {
	left, top, right, _ := d.pdf.GetMargins()
	d.pdf.SetMargins(left+by, top, right)
	d.pdf.SetX(left + by)
	fn()
	d.pdf.SetMargins(left, top, right)
	d.pdf.SetX(left)
}

func (d *pdfDoc) bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}
