// Package render turns invoice text content into PDF documents.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrRender indicates the document could not be produced.
var ErrRender = errors.New("render document")

// Renderer produces document bytes from text content. Implementations must be
// deterministic and free of side effects.
type Renderer interface {
	Render(ctx context.Context, content string) ([]byte, error)
}

// documentEpoch is stamped as the creation date so identical content yields identical bytes.
var documentEpoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// PDFRenderer lays content out as wrapped Helvetica text on A4 pages.
type PDFRenderer struct {
	Title    string
	FontSize float64
}

// NewPDFRenderer returns a renderer with default layout settings.
func NewPDFRenderer() *PDFRenderer {
	return &PDFRenderer{Title: "Invoice", FontSize: 12}
}

// Render implements Renderer.
func (r *PDFRenderer) Render(ctx context.Context, content string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fontSize := r.FontSize
	if fontSize <= 0 {
		fontSize = 12
	}

	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetCreationDate(documentEpoch)
	doc.SetCatalogSort(true)
	doc.SetCompression(true)
	if r.Title != "" {
		doc.SetTitle(r.Title, true)
	}
	tr := doc.UnicodeTranslatorFromDescriptor("")

	doc.SetMargins(20, 20, 20)
	doc.SetAutoPageBreak(true, 20)
	doc.AddPage()
	doc.SetFont("Helvetica", "", fontSize)
	doc.MultiCell(0, fontSize*0.5, tr(content), "", "L", false)

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRender, err)
	}
	return buf.Bytes(), nil
}

// PageCount reports the number of pages in a PDF document.
func (r *PDFRenderer) PageCount(data []byte) (int, error) {
	return PageCount(data)
}

// PageCount reports the number of pages in a PDF document.
func PageCount(data []byte) (int, error) {
	count, err := api.PageCount(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		return 0, fmt.Errorf("count pages: %w", err)
	}
	return count, nil
}

var _ Renderer = (*PDFRenderer)(nil)
