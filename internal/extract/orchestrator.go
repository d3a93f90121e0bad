package extract

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/SEK-11/OCR/internal/vision"
)

type Strategy string

const (
	StrategyNative Strategy = "native"
	StrategyOCR    Strategy = "ocr"
)

// Policy bounds how much work a single extraction may do.
type Policy struct {
	NativePageCap     int
	MinNativeYield    int
	OCRPageCap        int
	OCRBatchSize      int
	DPI               float64
	Timeout           time.Duration
	MinUsableChars    int
	ImageMaxDimension int
}

func DefaultPolicy() Policy {
	return Policy{
		NativePageCap:     5,
		MinNativeYield:    100,
		OCRPageCap:        10,
		OCRBatchSize:      2,
		DPI:               200,
		Timeout:           300 * time.Second,
		MinUsableChars:    5,
		ImageMaxDimension: 2000,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.NativePageCap <= 0 {
		p.NativePageCap = d.NativePageCap
	}
	if p.MinNativeYield <= 0 {
		p.MinNativeYield = d.MinNativeYield
	}
	if p.OCRPageCap <= 0 {
		p.OCRPageCap = d.OCRPageCap
	}
	if p.OCRBatchSize <= 0 {
		p.OCRBatchSize = d.OCRBatchSize
	}
	if p.DPI <= 0 {
		p.DPI = d.DPI
	}
	if p.Timeout <= 0 {
		p.Timeout = d.Timeout
	}
	if p.MinUsableChars <= 0 {
		p.MinUsableChars = d.MinUsableChars
	}
	if p.ImageMaxDimension <= 0 {
		p.ImageMaxDimension = d.ImageMaxDimension
	}
	return p
}

// Engines are the format-specific backends the orchestrator sequences.
// NativeText and PageCount are optional.
type Engines struct {
	NativeText NativeTextFunc
	PageCount  PageCountFunc
	OpenRaster OpenRasterFunc
	Recognizer Recognizer
	Documents  DocumentExtractor
}

type Orchestrator struct {
	policy  Policy
	engines Engines
	logger  *slog.Logger
}

func NewOrchestrator(policy Policy, engines Engines, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if engines.Documents == nil {
		engines.Documents = WordExtractor{}
	}
	return &Orchestrator{
		policy:  policy.withDefaults(),
		engines: engines,
		logger:  logger,
	}
}

func (o *Orchestrator) Policy() Policy {
	return o.policy
}

type Input struct {
	Path     string
	Filename string
}

type Result struct {
	Text           string        `json:"text"`
	Strategy       Strategy      `json:"strategy"`
	PagesProcessed int           `json:"pages_processed"`
	Format         Format        `json:"format"`
	FileType       string        `json:"file_type"`
	Duration       time.Duration `json:"-"`
}

// SufficientYield reports whether a native extraction produced enough text
// to skip OCR.
func SufficientYield(text string, threshold int) bool {
	return utf8.RuneCountInString(strings.TrimSpace(text)) > threshold
}

// Usable reports whether text carries at least minChars non-whitespace
// characters.
func Usable(text string, minChars int) bool {
	n := 0
	for _, r := range text {
		if !unicode.IsSpace(r) {
			n++
			if n >= minChars {
				return true
			}
		}
	}
	return n >= minChars
}

// Extract selects the extractor family from the declared filename, runs it
// under the policy deadline and checks the result is usable.
func (o *Orchestrator) Extract(ctx context.Context, in Input) (*Result, error) {
	format, fileType, err := DetectFormat(in.Filename)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.policy.Timeout)
	defer cancel()

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := o.run(ctx, format, in.Path)
		done <- outcome{res: res, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out.err = ctx.Err()
	}
	if out.err != nil {
		if errors.Is(out.err, context.DeadlineExceeded) {
			return nil, newError(Timeout, "extract", fmt.Errorf("exceeded %s", o.policy.Timeout))
		}
		if errors.Is(out.err, context.Canceled) {
			return nil, fmt.Errorf("extraction canceled: %w", out.err)
		}
		return nil, out.err
	}

	res := out.res
	res.Format = format
	res.FileType = fileType
	res.Duration = time.Since(start)
	if !Usable(res.Text, o.policy.MinUsableChars) {
		return nil, newError(InsufficientContent, "extract",
			fmt.Errorf("fewer than %d non-whitespace characters recovered", o.policy.MinUsableChars))
	}

	o.logger.Info("extraction finished",
		"file", in.Filename,
		"strategy", res.Strategy,
		"pages", res.PagesProcessed,
		"chars", utf8.RuneCountInString(res.Text),
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, format Format, path string) (*Result, error) {
	switch format {
	case FormatPDF:
		return o.extractPDF(ctx, path)
	case FormatDocument:
		return o.extractDocument(ctx, path)
	case FormatImage:
		return o.extractImage(ctx, path)
	default:
		return nil, newError(UnsupportedFormat, "extract", fmt.Errorf("no extractor for %q", format))
	}
}

// extractPDF is a two-state machine: the native fast path, then OCR over
// rendered pages when the fast path fails or yields too little.
func (o *Orchestrator) extractPDF(ctx context.Context, path string) (*Result, error) {
	if o.engines.NativeText != nil {
		text, pages, err := o.engines.NativeText(ctx, path, o.policy.NativePageCap)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			o.logger.Warn("native pdf extraction failed, falling back to ocr", "error", err)
		case SufficientYield(text, o.policy.MinNativeYield):
			return &Result{Text: text, Strategy: StrategyNative, PagesProcessed: pages}, nil
		default:
			o.logger.Info("native pdf yield below threshold, falling back to ocr",
				"chars", utf8.RuneCountInString(strings.TrimSpace(text)),
				"threshold", o.policy.MinNativeYield,
			)
		}
	}
	return o.ocrPDF(ctx, path)
}

func (o *Orchestrator) ocrPDF(ctx context.Context, path string) (*Result, error) {
	if o.engines.OpenRaster == nil || o.engines.Recognizer == nil {
		return nil, newError(DecodeFailure, "ocr pdf", errors.New("ocr is not configured"))
	}

	counted := -1
	if o.engines.PageCount != nil {
		n, err := o.engines.PageCount(path)
		if err != nil {
			o.logger.Warn("pdf page count failed, using renderer page count", "error", err)
		} else {
			counted = n
		}
	}

	doc, err := o.engines.OpenRaster(path)
	if err != nil {
		return nil, newError(DecodeFailure, "open pdf for ocr", err)
	}
	defer doc.Close()

	total := doc.NumPages()
	if counted >= 0 && counted < total {
		total = counted
	}
	if total > o.policy.OCRPageCap {
		total = o.policy.OCRPageCap
	}
	if total <= 0 {
		return nil, newError(DecodeFailure, "ocr pdf", errors.New("document has no pages"))
	}

	var (
		lines    []string
		rendered int
	)
	for first := 1; first <= total; first += o.policy.OCRBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		last := first + o.policy.OCRBatchSize - 1
		if last > total {
			last = total
		}
		batchLines, n, err := o.ocrBatch(ctx, doc, first, last)
		if err != nil {
			return nil, err
		}
		rendered += n
		lines = append(lines, batchLines...)
	}
	if rendered == 0 {
		return nil, newError(DecodeFailure, "ocr pdf", errors.New("no page could be rendered"))
	}
	return &Result{Text: strings.Join(lines, "\n"), Strategy: StrategyOCR, PagesProcessed: rendered}, nil
}

// ocrBatch renders pages first..last, recognises them concurrently and
// releases every rendered image before returning. Pages that fail are
// skipped. The only error returned is context expiry.
func (o *Orchestrator) ocrBatch(ctx context.Context, doc RasterDocument, first, last int) ([]string, int, error) {
	images := make([]image.Image, 0, last-first+1)
	defer func() {
		if r, ok := doc.(releaser); ok {
			for _, img := range images {
				r.Release(img)
			}
		}
		clear(images)
	}()

	for page := first; page <= last; page++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		img, err := doc.Render(page, o.policy.DPI)
		if err != nil {
			o.logger.Warn("skipping page that failed to render", "page", page, "error", err)
			continue
		}
		images = append(images, img)
	}

	results := make([][]string, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.policy.OCRBatchSize)
	for i, img := range images {
		g.Go(func() error {
			lines, err := o.recognize(gctx, img)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				o.logger.Warn("skipping page that failed recognition", "page", first+i, "error", err)
				return nil
			}
			results[i] = lines
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	var lines []string
	for _, r := range results {
		lines = append(lines, r...)
	}
	return lines, len(images), nil
}

// recognize preprocesses img and runs the recognizer. If preprocessing
// fails the raw image is used; if recognition of the preprocessed image
// fails it is retried once on the raw image.
func (o *Orchestrator) recognize(ctx context.Context, img image.Image) ([]string, error) {
	prepared, err := vision.Preprocess(img)
	if err != nil {
		o.logger.Debug("preprocess failed, recognising raw image", "error", err)
		lines, err := o.engines.Recognizer.Recognize(ctx, img)
		if err != nil {
			return nil, err
		}
		return FilterTokens(lines), nil
	}

	lines, err := o.engines.Recognizer.Recognize(ctx, prepared)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		o.logger.Debug("recognition of preprocessed image failed, retrying raw image", "error", err)
		lines, err = o.engines.Recognizer.Recognize(ctx, img)
		if err != nil {
			return nil, err
		}
	}
	return FilterTokens(lines), nil
}

func (o *Orchestrator) extractImage(ctx context.Context, path string) (*Result, error) {
	if o.engines.Recognizer == nil {
		return nil, newError(DecodeFailure, "ocr image", errors.New("ocr is not configured"))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, newError(DecodeFailure, "open image", err)
	}
	img, err := vision.DecodeImage(f)
	f.Close()
	if err != nil {
		return nil, newError(DecodeFailure, "decode image", err)
	}

	img = vision.FitWithin(img, o.policy.ImageMaxDimension)
	lines, err := o.recognize(ctx, img)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, newError(DecodeFailure, "recognize image", err)
	}
	return &Result{Text: strings.Join(lines, "\n"), Strategy: StrategyOCR, PagesProcessed: 1}, nil
}

func (o *Orchestrator) extractDocument(ctx context.Context, path string) (*Result, error) {
	text, err := o.engines.Documents.ExtractDocument(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var extractErr *Error
		if errors.As(err, &extractErr) {
			return nil, err
		}
		return nil, newError(DecodeFailure, "extract document", err)
	}
	return &Result{Text: text, Strategy: StrategyNative, PagesProcessed: 1}, nil
}
