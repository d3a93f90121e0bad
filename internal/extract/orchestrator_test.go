package extract

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// pageImage encodes the page number in the image width so a fake
// recognizer can tell pages apart after preprocessing.
func pageImage(page int) image.Image {
	return image.NewRGBA(image.Rect(0, 0, page+2, 3))
}

func pageOf(img image.Image) int {
	return img.Bounds().Dx() - 2
}

type fakeRaster struct {
	pages      int
	failRender map[int]bool

	mu       sync.Mutex
	live     int
	maxLive  int
	rendered []int
	closed   bool
}

func (f *fakeRaster) NumPages() int { return f.pages }

func (f *fakeRaster) Render(page int, _ float64) (image.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRender[page] {
		return nil, fmt.Errorf("render page %d: broken", page)
	}
	f.live++
	if f.live > f.maxLive {
		f.maxLive = f.live
	}
	f.rendered = append(f.rendered, page)
	return pageImage(page), nil
}

func (f *fakeRaster) Release(image.Image) {
	f.mu.Lock()
	f.live--
	f.mu.Unlock()
}

func (f *fakeRaster) Close() error {
	f.closed = true
	return nil
}

type recognizerFunc func(ctx context.Context, img image.Image) ([]string, error)

func (fn recognizerFunc) Recognize(ctx context.Context, img image.Image) ([]string, error) {
	return fn(ctx, img)
}

func pageRecognizer(failPages map[int]bool) recognizerFunc {
	return func(_ context.Context, img image.Image) ([]string, error) {
		page := pageOf(img)
		if failPages[page] {
			return nil, errors.New("engine failure")
		}
		return []string{fmt.Sprintf("page %d text", page), "x"}, nil
	}
}

func nativeText(text string, pages int, calls *int32) NativeTextFunc {
	return func(context.Context, string, int) (string, int, error) {
		atomic.AddInt32(calls, 1)
		return text, pages, nil
	}
}

func rasterOpener(doc *fakeRaster, calls *int32) OpenRasterFunc {
	return func(string) (RasterDocument, error) {
		atomic.AddInt32(calls, 1)
		return doc, nil
	}
}

func TestExtractPDFFastPath(t *testing.T) {
	var nativeCalls, rasterCalls int32
	text := strings.Repeat("native text ", 20)
	o := NewOrchestrator(DefaultPolicy(), Engines{
		NativeText: nativeText(text, 3, &nativeCalls),
		OpenRaster: rasterOpener(&fakeRaster{pages: 3}, &rasterCalls),
		Recognizer: pageRecognizer(nil),
	}, discardLogger)

	res, err := o.Extract(context.Background(), Input{Path: "doc.pdf", Filename: "doc.pdf"})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if res.Strategy != StrategyNative {
		t.Fatalf("strategy = %s, want native", res.Strategy)
	}
	if res.Text != text || res.PagesProcessed != 3 {
		t.Fatalf("result = %+v", res)
	}
	if rasterCalls != 0 {
		t.Fatalf("ocr path opened %d times on fast path", rasterCalls)
	}
}

func TestExtractPDFFallbackReplacesNativeText(t *testing.T) {
	var nativeCalls, rasterCalls int32
	doc := &fakeRaster{pages: 3}
	o := NewOrchestrator(DefaultPolicy(), Engines{
		NativeText: nativeText("short native", 1, &nativeCalls),
		OpenRaster: rasterOpener(doc, &rasterCalls),
		Recognizer: pageRecognizer(nil),
	}, discardLogger)

	res, err := o.Extract(context.Background(), Input{Path: "scan.pdf", Filename: "scan.PDF"})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if res.Strategy != StrategyOCR {
		t.Fatalf("strategy = %s, want ocr", res.Strategy)
	}
	want := "page 1 text\npage 2 text\npage 3 text"
	if res.Text != want {
		t.Fatalf("text = %q, want %q", res.Text, want)
	}
	if strings.Contains(res.Text, "short native") {
		t.Fatal("ocr output must replace native text")
	}
	if !doc.closed {
		t.Fatal("raster document not closed")
	}
}

func TestExtractPDFNativeErrorEscalates(t *testing.T) {
	var rasterCalls int32
	o := NewOrchestrator(DefaultPolicy(), Engines{
		NativeText: func(context.Context, string, int) (string, int, error) {
			return "", 0, errors.New("malformed xref")
		},
		OpenRaster: rasterOpener(&fakeRaster{pages: 1}, &rasterCalls),
		Recognizer: pageRecognizer(nil),
	}, discardLogger)

	res, err := o.Extract(context.Background(), Input{Path: "a.pdf", Filename: "a.pdf"})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if res.Strategy != StrategyOCR || rasterCalls != 1 {
		t.Fatalf("strategy = %s, raster calls = %d", res.Strategy, rasterCalls)
	}
}

func TestOCRBatchesBoundLiveImages(t *testing.T) {
	var nativeCalls, rasterCalls int32
	doc := &fakeRaster{pages: 40}
	policy := DefaultPolicy()
	policy.OCRPageCap = 9
	policy.OCRBatchSize = 2
	o := NewOrchestrator(policy, Engines{
		NativeText: nativeText("", 0, &nativeCalls),
		OpenRaster: rasterOpener(doc, &rasterCalls),
		Recognizer: pageRecognizer(nil),
	}, discardLogger)

	res, err := o.Extract(context.Background(), Input{Path: "big.pdf", Filename: "big.pdf"})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if res.PagesProcessed != 9 {
		t.Fatalf("pages processed = %d, want page cap 9", res.PagesProcessed)
	}
	if doc.maxLive > policy.OCRBatchSize {
		t.Fatalf("max live images = %d, want <= %d", doc.maxLive, policy.OCRBatchSize)
	}
	if doc.live != 0 {
		t.Fatalf("live images after extraction = %d, want 0", doc.live)
	}
	for i, page := range doc.rendered {
		if page != i+1 {
			t.Fatalf("rendered order = %v", doc.rendered)
		}
	}
}

func TestOCRPageCountBoundsRange(t *testing.T) {
	var nativeCalls, rasterCalls int32
	doc := &fakeRaster{pages: 8}
	o := NewOrchestrator(DefaultPolicy(), Engines{
		NativeText: nativeText("", 0, &nativeCalls),
		PageCount:  func(string) (int, error) { return 3, nil },
		OpenRaster: rasterOpener(doc, &rasterCalls),
		Recognizer: pageRecognizer(nil),
	}, discardLogger)

	res, err := o.Extract(context.Background(), Input{Path: "a.pdf", Filename: "a.pdf"})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if res.PagesProcessed != 3 {
		t.Fatalf("pages processed = %d, want 3", res.PagesProcessed)
	}
}

func TestOCRSkipsFailedPages(t *testing.T) {
	var nativeCalls, rasterCalls int32
	doc := &fakeRaster{pages: 4, failRender: map[int]bool{2: true}}
	o := NewOrchestrator(DefaultPolicy(), Engines{
		NativeText: nativeText("", 0, &nativeCalls),
		OpenRaster: rasterOpener(doc, &rasterCalls),
		Recognizer: pageRecognizer(map[int]bool{3: true}),
	}, discardLogger)

	res, err := o.Extract(context.Background(), Input{Path: "a.pdf", Filename: "a.pdf"})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if res.Text != "page 1 text\npage 4 text" {
		t.Fatalf("text = %q", res.Text)
	}
}

func TestOCRNoRenderablePagesIsDecodeFailure(t *testing.T) {
	var nativeCalls, rasterCalls int32
	doc := &fakeRaster{pages: 2, failRender: map[int]bool{1: true, 2: true}}
	o := NewOrchestrator(DefaultPolicy(), Engines{
		NativeText: nativeText("", 0, &nativeCalls),
		OpenRaster: rasterOpener(doc, &rasterCalls),
		Recognizer: pageRecognizer(nil),
	}, discardLogger)

	_, err := o.Extract(context.Background(), Input{Path: "a.pdf", Filename: "a.pdf"})
	if !IsKind(err, DecodeFailure) {
		t.Fatalf("error = %v, want decode failure", err)
	}
}

func TestOCRInsufficientContent(t *testing.T) {
	var nativeCalls, rasterCalls int32
	o := NewOrchestrator(DefaultPolicy(), Engines{
		NativeText: nativeText("", 0, &nativeCalls),
		OpenRaster: rasterOpener(&fakeRaster{pages: 2}, &rasterCalls),
		Recognizer: recognizerFunc(func(context.Context, image.Image) ([]string, error) {
			return []string{"a", "b", "ok"}, nil
		}),
	}, discardLogger)

	_, err := o.Extract(context.Background(), Input{Path: "a.pdf", Filename: "a.pdf"})
	if !IsKind(err, InsufficientContent) {
		t.Fatalf("error = %v, want insufficient content", err)
	}
}

func TestExtractTimeout(t *testing.T) {
	var nativeCalls, rasterCalls int32
	policy := DefaultPolicy()
	policy.Timeout = 50 * time.Millisecond
	o := NewOrchestrator(policy, Engines{
		NativeText: nativeText("", 0, &nativeCalls),
		OpenRaster: rasterOpener(&fakeRaster{pages: 10}, &rasterCalls),
		Recognizer: recognizerFunc(func(ctx context.Context, _ image.Image) ([]string, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}),
	}, discardLogger)

	start := time.Now()
	_, err := o.Extract(context.Background(), Input{Path: "a.pdf", Filename: "a.pdf"})
	if !IsKind(err, Timeout) {
		t.Fatalf("error = %v, want timeout", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout took %s", elapsed)
	}
}

func TestUnsupportedFormatTouchesNothing(t *testing.T) {
	var nativeCalls, rasterCalls int32
	var recognized int32
	o := NewOrchestrator(DefaultPolicy(), Engines{
		NativeText: nativeText("x", 1, &nativeCalls),
		OpenRaster: rasterOpener(&fakeRaster{pages: 1}, &rasterCalls),
		Recognizer: recognizerFunc(func(context.Context, image.Image) ([]string, error) {
			atomic.AddInt32(&recognized, 1)
			return nil, nil
		}),
	}, discardLogger)

	for _, name := range []string{"notes.txt", "archive.zip", "noext", "sheet.xlsx"} {
		t.Run(name, func(t *testing.T) {
			_, err := o.Extract(context.Background(), Input{Path: "/does/not/exist/" + name, Filename: name})
			if !IsKind(err, UnsupportedFormat) {
				t.Fatalf("error = %v, want unsupported format", err)
			}
		})
	}
	if nativeCalls+rasterCalls+recognized != 0 {
		t.Fatal("unsupported format reached an extractor")
	}
}

func writePNG(t *testing.T, w, h int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scan.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExtractImageResizesAndRetriesRaw(t *testing.T) {
	path := writePNG(t, 3000, 1500)
	var calls []string
	var mu sync.Mutex
	policy := DefaultPolicy()
	policy.ImageMaxDimension = 300
	o := NewOrchestrator(policy, Engines{
		Recognizer: recognizerFunc(func(_ context.Context, img image.Image) ([]string, error) {
			mu.Lock()
			defer mu.Unlock()
			if b := img.Bounds(); b.Dx() > 300 || b.Dy() > 300 {
				return nil, fmt.Errorf("image not resized: %v", b)
			}
			if _, gray := img.(*image.Gray); gray {
				calls = append(calls, "gray")
				return nil, errors.New("engine rejected gray input")
			}
			calls = append(calls, "raw")
			return []string{"Invoice 2024", "-", "Total 42"}, nil
		}),
	}, discardLogger)

	res, err := o.Extract(context.Background(), Input{Path: path, Filename: "scan.png"})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if strings.Join(calls, ",") != "gray,raw" {
		t.Fatalf("recognizer calls = %v, want preprocessed then raw", calls)
	}
	if res.Text != "Invoice 2024\nTotal 42" || res.Strategy != StrategyOCR || res.FileType != "png" {
		t.Fatalf("result = %+v", res)
	}
}

func TestExtractImageDecodeFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.jpg")
	if err := os.WriteFile(path, []byte("not a jpeg"), 0o600); err != nil {
		t.Fatal(err)
	}
	o := NewOrchestrator(DefaultPolicy(), Engines{Recognizer: pageRecognizer(nil)}, discardLogger)

	_, err := o.Extract(context.Background(), Input{Path: path, Filename: "broken.jpg"})
	if !IsKind(err, DecodeFailure) {
		t.Fatalf("error = %v, want decode failure", err)
	}
}

type documentFunc func(ctx context.Context, path string) (string, error)

func (fn documentFunc) ExtractDocument(ctx context.Context, path string) (string, error) {
	return fn(ctx, path)
}

func TestExtractDocumentDelegates(t *testing.T) {
	var rasterCalls int32
	o := NewOrchestrator(DefaultPolicy(), Engines{
		OpenRaster: rasterOpener(&fakeRaster{pages: 1}, &rasterCalls),
		Documents: documentFunc(func(context.Context, string) (string, error) {
			return "short", nil
		}),
	}, discardLogger)

	res, err := o.Extract(context.Background(), Input{Path: "memo.docx", Filename: "memo.docx"})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if res.Text != "short" || res.Format != FormatDocument || rasterCalls != 0 {
		t.Fatalf("result = %+v, raster calls = %d", res, rasterCalls)
	}
}

func TestYieldAndUsable(t *testing.T) {
	if SufficientYield(strings.Repeat("a", 100), 100) {
		t.Fatal("exactly threshold must not be sufficient")
	}
	if !SufficientYield("  "+strings.Repeat("a", 101)+"  ", 100) {
		t.Fatal("101 chars should pass a threshold of 100")
	}
	if Usable(" a b \n c d ", 5) {
		t.Fatal("four non-whitespace chars are not usable")
	}
	if !Usable("a b c d e", 5) {
		t.Fatal("five non-whitespace chars are usable")
	}
}

func TestFilterTokens(t *testing.T) {
	got := FilterTokens([]string{"a", " ", "ok", " b ", "Total 42", "é"})
	if strings.Join(got, "|") != "ok|Total 42" {
		t.Fatalf("FilterTokens() = %v", got)
	}
}
