package extract

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Format is the extractor family selected for an upload.
type Format string

const (
	FormatPDF      Format = "pdf"
	FormatDocument Format = "document"
	FormatImage    Format = "image"
)

var extensionFormats = map[string]Format{
	".pdf":  FormatPDF,
	".docx": FormatDocument,
	".doc":  FormatDocument,
	".png":  FormatImage,
	".jpg":  FormatImage,
	".jpeg": FormatImage,
	".gif":  FormatImage,
	".bmp":  FormatImage,
	".tif":  FormatImage,
	".tiff": FormatImage,
}

// DetectFormat maps a filename to its extractor family using only the
// declared extension. It never touches the filesystem.
func DetectFormat(filename string) (Format, string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	format, ok := extensionFormats[ext]
	if !ok {
		return "", ext, newError(UnsupportedFormat, "detect format", fmt.Errorf("extension %q is not supported", ext))
	}
	return format, strings.TrimPrefix(ext, "."), nil
}

// SupportedExtensions lists accepted extensions in a stable order.
func SupportedExtensions() []string {
	return []string{".pdf", ".docx", ".doc", ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff"}
}
