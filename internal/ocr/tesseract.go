package ocr

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/SEK-11/OCR/internal/vision"
)

// Tesseract recognises text lines with libtesseract. A fresh client is used
// per call because gosseract clients are not safe for concurrent use.
type Tesseract struct {
	languages      []string
	tessdataPrefix string
}

func NewTesseract(languages []string, tessdataPrefix string) *Tesseract {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	return &Tesseract{languages: languages, tessdataPrefix: tessdataPrefix}
}

func (t *Tesseract) Recognize(ctx context.Context, img image.Image) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := vision.EncodePNG(img)
	if err != nil {
		return nil, err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if t.tessdataPrefix != "" {
		if err := client.SetTessdataPrefix(t.tessdataPrefix); err != nil {
			return nil, fmt.Errorf("set tessdata prefix failed: %w", err)
		}
	}
	if err := client.SetLanguage(t.languages...); err != nil {
		return nil, fmt.Errorf("set ocr language failed: %w", err)
	}
	if err := client.SetImageFromBytes(data); err != nil {
		return nil, fmt.Errorf("load ocr image failed: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("ocr recognition failed: %w", err)
	}
	lines := make([]string, 0, len(boxes))
	for _, box := range boxes {
		if text := strings.TrimSpace(box.Word); text != "" {
			lines = append(lines, text)
		}
	}
	return lines, nil
}
