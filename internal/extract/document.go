package extract

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"code.sajari.com/docconv/v2"
)

// DocumentExtractor reads paragraph text from word-processor files.
type DocumentExtractor interface {
	ExtractDocument(ctx context.Context, path string) (string, error)
}

// WordExtractor reads .docx bodies and legacy .doc files through docconv,
// one line per paragraph.
type WordExtractor struct{}

func (WordExtractor) ExtractDocument(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".docx":
		return extractDocx(path)
	case ".doc":
		return extractLegacyDoc(path)
	default:
		return "", newError(UnsupportedFormat, "extract document", fmt.Errorf("not a word document: %s", filepath.Base(path)))
	}
}

func extractDocx(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", newError(DecodeFailure, "open docx", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", newError(DecodeFailure, "open docx body", err)
		}
		defer rc.Close()
		body, err := docconv.DocxXMLToText(rc)
		if err != nil {
			return "", newError(DecodeFailure, "parse docx body", err)
		}
		return nonBlankLines(body), nil
	}
	return "", newError(DecodeFailure, "open docx body", errors.New("word/document.xml not found"))
}

func extractLegacyDoc(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", newError(DecodeFailure, "open doc", err)
	}
	defer f.Close()

	body, _, err := docconv.ConvertDoc(f)
	if err != nil {
		return "", newError(DecodeFailure, "convert doc", err)
	}
	return nonBlankLines(body), nil
}

// nonBlankLines trims every line and drops the empty ones.
func nonBlankLines(body string) string {
	lines := strings.Split(body, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
