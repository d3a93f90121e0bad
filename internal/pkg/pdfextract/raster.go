package pdfextract

import (
	"fmt"
	"image"
	"sync"

	"github.com/gen2brain/go-fitz"
)

// RasterDocument renders PDF pages to images through MuPDF. Page numbers are
// 1-based. MuPDF contexts are not safe for concurrent use, so Render is
// serialised.
type RasterDocument struct {
	mu  sync.Mutex
	doc *fitz.Document
}

func OpenRaster(path string) (*RasterDocument, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf for rendering failed: %w", err)
	}
	return &RasterDocument{doc: doc}, nil
}

func (d *RasterDocument) NumPages() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.NumPage()
}

func (d *RasterDocument) Render(page int, dpi float64) (image.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, err := d.doc.ImageDPI(page-1, dpi)
	if err != nil {
		return nil, fmt.Errorf("render page %d failed: %w", page, err)
	}
	return img, nil
}

// Release drops the pixel buffer of an image returned by Render so the
// collector can reclaim it before the next batch is rendered.
func (d *RasterDocument) Release(img image.Image) {
	if rgba, ok := img.(*image.RGBA); ok {
		rgba.Pix = nil
	}
}

func (d *RasterDocument) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Close()
}
