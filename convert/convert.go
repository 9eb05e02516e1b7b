// Package convert turns document pages into other formats: raster images,
// plain text, Markdown and HTML.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/wudi/pdfstudio/document"
	"github.com/wudi/pdfstudio/filters"
	"github.com/wudi/pdfstudio/observability"
	"github.com/wudi/pdfstudio/render"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported output format")
	ErrInvalidPage       = errors.New("page number out of range")
	ErrInvalidOptions    = errors.New("invalid conversion options")
)

// Format is an image output format.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

// ParseFormat accepts png, jpeg and jpg. The empty string selects PNG.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "png":
		return FormatPNG, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// Ext is the file extension without the dot.
func (f Format) Ext() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return string(f)
}

const (
	DefaultDPI     = 150
	DefaultQuality = 92
	maxDPI         = 600
)

// ImageOptions controls Images. Zero values select the defaults.
type ImageOptions struct {
	Format Format
	DPI    float64
	// Quality is the JPEG quality, 1-100.
	Quality int
	// Pages are 1-based page numbers; empty means every page.
	Pages []int
}

func (o ImageOptions) normalized() (ImageOptions, error) {
	if o.Format == "" {
		o.Format = FormatPNG
	}
	if o.Format != FormatPNG && o.Format != FormatJPEG {
		return o, fmt.Errorf("%w: %q", ErrUnsupportedFormat, o.Format)
	}
	if o.DPI == 0 {
		o.DPI = DefaultDPI
	}
	if o.Quality == 0 {
		o.Quality = DefaultQuality
	}
	switch {
	case o.DPI < 0 || o.DPI > maxDPI:
		return o, fmt.Errorf("%w: dpi %g outside (0,%d]", ErrInvalidOptions, o.DPI, maxDPI)
	case o.Quality < 1 || o.Quality > 100:
		return o, fmt.Errorf("%w: quality %d outside [1,100]", ErrInvalidOptions, o.Quality)
	}
	return o, nil
}

// PageImage is one encoded page.
type PageImage struct {
	PageNumber int
	Format     Format
	Width      int
	Height     int
	Data       []byte
}

// Status names the phase of a progress report.
type Status string

const (
	StatusConverting Status = "converting"
	StatusComplete   Status = "complete"
)

type Progress struct {
	Status   Status
	Fraction float64
	Page     int
	Total    int
	Message  string
}

type Converter struct {
	Renderer render.Renderer
	Pipeline *filters.Pipeline
	Logger   observability.Logger
	Metrics  *observability.Metrics
}

func New(logger observability.Logger) *Converter {
	logger = observability.OrNop(logger)
	return &Converter{
		Renderer: render.NewRasterizer(logger),
		Pipeline: filters.Default(filters.DefaultLimits()),
		Logger:   logger,
	}
}

// Images renders and encodes the requested pages in page order. Only
// scanned content survives: text drawn with fonts is not rasterized.
func (c *Converter) Images(ctx context.Context, doc *document.Document, opts ImageOptions, onProgress func(Progress)) (out []PageImage, err error) {
	start := time.Now()
	defer func() { c.Metrics.ObserveOperation("convert", time.Since(start), err) }()

	opts, err = opts.normalized()
	if err != nil {
		return nil, err
	}
	targets, err := targetPages(doc, opts.Pages)
	if err != nil {
		return nil, err
	}
	for i, pg := range targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		emit(onProgress, Progress{
			Status:   StatusConverting,
			Fraction: float64(i) / float64(len(targets)),
			Page:     pg.Number,
			Total:    doc.PageCount(),
			Message:  fmt.Sprintf("Rendering page %d", pg.Number),
		})
		img, err := c.page(ctx, pg, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	emit(onProgress, Progress{Status: StatusComplete, Fraction: 1, Total: doc.PageCount(), Message: "Conversion complete"})
	c.Logger.Debug("pages converted",
		observability.String("format", string(opts.Format)),
		observability.Int("pages", len(out)),
		observability.Duration("elapsed", time.Since(start)),
	)
	return out, nil
}

// PageToImage renders the single page number.
func (c *Converter) PageToImage(ctx context.Context, doc *document.Document, number int, opts ImageOptions) (PageImage, error) {
	opts.Pages = []int{number}
	out, err := c.Images(ctx, doc, opts, nil)
	if err != nil {
		return PageImage{}, err
	}
	return out[0], nil
}

func (c *Converter) page(ctx context.Context, pg *document.Page, opts ImageOptions) (PageImage, error) {
	img, err := c.Renderer.Render(ctx, pg.Source, render.Options{Scale: render.DPI(opts.DPI), Rotation: pg.Rotation})
	if err != nil {
		return PageImage{}, fmt.Errorf("render page %d: %w", pg.Number, err)
	}
	data, err := encode(img, opts)
	if err != nil {
		return PageImage{}, fmt.Errorf("encode page %d: %w", pg.Number, err)
	}
	b := img.Bounds()
	return PageImage{PageNumber: pg.Number, Format: opts.Format, Width: b.Dx(), Height: b.Dy(), Data: data}, nil
}

func encode(img image.Image, opts ImageOptions) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	if opts.Format == FormatJPEG {
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: opts.Quality})
	} else {
		err = png.Encode(&buf, img)
	}
	return buf.Bytes(), err
}

func emit(fn func(Progress), p Progress) {
	if fn != nil {
		fn(p)
	}
}

func targetPages(doc *document.Document, numbers []int) ([]*document.Page, error) {
	if doc == nil || doc.PageCount() == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidPage)
	}
	if len(numbers) == 0 {
		return slices.Clone(doc.Pages), nil
	}
	seen := make(map[int]bool, len(numbers))
	var out []*document.Page
	for _, n := range numbers {
		if n < 1 || n > doc.PageCount() {
			return nil, fmt.Errorf("%w: %d of %d", ErrInvalidPage, n, doc.PageCount())
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, doc.Pages[n-1])
		}
	}
	slices.SortFunc(out, func(a, b *document.Page) int { return a.Number - b.Number })
	return out, nil
}

// FileName is the name a page image is saved under, e.g. "report_page_3.jpg".
func FileName(base string, img PageImage) string {
	return fmt.Sprintf("%s_page_%d.%s", base, img.PageNumber, img.Format.Ext())
}

// WriteZip stores the images in one archive named by FileName. The images
// are already compressed, so entries are stored as is.
func WriteZip(w io.Writer, base string, images []PageImage) error {
	zw := zip.NewWriter(w)
	for _, img := range images {
		f, err := zw.CreateHeader(&zip.FileHeader{Name: FileName(base, img), Method: zip.Store})
		if err != nil {
			zw.Close()
			return fmt.Errorf("zip %s: %w", FileName(base, img), err)
		}
		if _, err := f.Write(img.Data); err != nil {
			zw.Close()
			return fmt.Errorf("zip %s: %w", FileName(base, img), err)
		}
	}
	return zw.Close()
}
