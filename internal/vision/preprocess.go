package vision

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
)

// MaxPixels bounds the declared width times height of an image accepted by
// DecodeImage, roughly 200MB of RGBA.
const MaxPixels = 50_000_000

var (
	ErrEmptyImage    = errors.New("image is empty")
	ErrImageTooLarge = errors.New("image dimensions exceed the pixel budget")
)

// DecodeImage decodes PNG, JPEG, GIF, BMP and TIFF input. The header is
// checked against MaxPixels before any pixel data is decoded.
func DecodeImage(r io.Reader) (image.Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if cfg, ok := decodeConfig(data); ok {
		if cfg.Width <= 0 || cfg.Height <= 0 {
			return nil, ErrEmptyImage
		}
		if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
			return nil, fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)
		}
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		// Some encoders write headers image.Decode does not sniff; try the
		// common decoders explicitly.
		if img, jpegErr := jpeg.Decode(bytes.NewReader(data)); jpegErr == nil {
			return img, nil
		}
		if img, pngErr := png.Decode(bytes.NewReader(data)); pngErr == nil {
			return img, nil
		}
		if img, bmpErr := bmp.Decode(bytes.NewReader(data)); bmpErr == nil {
			return img, nil
		}
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

func decodeConfig(data []byte) (image.Config, bool) {
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		return cfg, true
	}
	for _, fn := range []func(io.Reader) (image.Config, error){jpeg.DecodeConfig, png.DecodeConfig, bmp.DecodeConfig} {
		if cfg, err := fn(bytes.NewReader(data)); err == nil {
			return cfg, true
		}
	}
	return image.Config{}, false
}

// FitWithin scales img down so its longest edge is at most maxDim, keeping
// the aspect ratio. Images already inside the bound are returned as is.
func FitWithin(img image.Image, maxDim int) image.Image {
	if img == nil || maxDim <= 0 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	longest := w
	if h > longest {
		longest = h
	}
	if longest <= maxDim {
		return img
	}

	nw := w * maxDim / longest
	nh := h * maxDim / longest
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// Preprocess converts img to grayscale and applies a 3x3 median filter to
// remove speckle noise before recognition. It returns an error instead of a
// degraded image; the caller picks the fallback.
func Preprocess(img image.Image) (*image.Gray, error) {
	if img == nil {
		return nil, ErrEmptyImage
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, ErrEmptyImage
	}

	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			gray.SetGray(x-b.Min.X, y-b.Min.Y, color.GrayModel.Convert(img.At(x, y)).(color.Gray))
		}
	}
	return medianFilter(gray), nil
}

func medianFilter(src *image.Gray) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewGray(b)
	var window [9]uint8
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			n := 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					window[n] = src.Pix[clamp(y+dy, h)*src.Stride+clamp(x+dx, w)]
					n++
				}
			}
			dst.Pix[y*dst.Stride+x] = median9(window)
		}
	}
	return dst
}

func median9(v [9]uint8) uint8 {
	for i := 1; i < len(v); i++ {
		for j := i; j > 0 && v[j-1] > v[j]; j-- {
			v[j-1], v[j] = v[j], v[j-1]
		}
	}
	return v[4]
}

func clamp(v, n int) int {
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}

// EncodePNG serialises img for engines that only accept encoded bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
