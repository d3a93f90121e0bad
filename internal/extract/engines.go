package extract

import (
	"context"
	"image"
	"strings"
)

// NativeTextFunc reads embedded PDF text from at most maxPages pages and
// reports how many pages it read.
type NativeTextFunc func(ctx context.Context, path string, maxPages int) (string, int, error)

// PageCountFunc returns the number of pages in a PDF, failing on documents
// that cannot be parsed.
type PageCountFunc func(path string) (int, error)

// OpenRasterFunc opens a PDF for page rendering.
type OpenRasterFunc func(path string) (RasterDocument, error)

// RasterDocument renders 1-based pages to images.
type RasterDocument interface {
	NumPages() int
	Render(page int, dpi float64) (image.Image, error)
	Close() error
}

// releaser is implemented by raster documents that can drop a rendered
// page's pixel buffer early.
type releaser interface {
	Release(img image.Image)
}

// Recognizer turns an image into text lines in reading order.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image) ([]string, error)
}

// FilterTokens drops recognizer output that is one character or less after
// trimming, keeping the original order.
func FilterTokens(tokens []string) []string {
	kept := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if len([]rune(tok)) > 1 {
			kept = append(kept, tok)
		}
	}
	return kept
}
