package render

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/math/fixed"

	"github.com/wudi/pdfstudio/contentstream"
	"github.com/wudi/pdfstudio/coords"
	"github.com/wudi/pdfstudio/filters"
	"github.com/wudi/pdfstudio/ir/raw"
	"github.com/wudi/pdfstudio/observability"
	"github.com/wudi/pdfstudio/pages"
)

var ErrTooLarge = errors.New("raster exceeds pixel limit")

// Options controls one rasterization.
type Options struct {
	// Scale is device pixels per PDF point; 1 is 72 DPI.
	Scale float64
	// Rotation is added to the page's own /Rotate.
	Rotation int
	// Label is drawn in the lower-left corner when set.
	Label string
}

// DPI converts a resolution to a Scale.
func DPI(dpi float64) float64 { return dpi / 72 }

// Renderer rasterizes one page.
type Renderer interface {
	Render(ctx context.Context, src *pages.Source, opts Options) (image.Image, error)
}

const (
	maxFormDepth     = 8
	defaultMaxPixels = 64 * 1024 * 1024
)

// Rasterizer is the built-in Renderer. It paints filled rectangles and image
// XObjects, including those nested in forms and inline images. Text is not
// drawn.
type Rasterizer struct {
	Pipeline  *filters.Pipeline
	Logger    observability.Logger
	MaxPixels int
	// Interpolator scales images; CatmullRom when nil.
	Interpolator xdraw.Interpolator
}

func NewRasterizer(logger observability.Logger) *Rasterizer {
	return &Rasterizer{
		Pipeline: filters.Default(filters.DefaultLimits()),
		Logger:   observability.OrNop(logger),
	}
}

func (r *Rasterizer) Render(ctx context.Context, src *pages.Source, opts Options) (image.Image, error) {
	if opts.Scale <= 0 {
		opts.Scale = 1
	}
	rot := pages.NormalizeRotation(src.Rotate + opts.Rotation)
	w, h := src.DisplaySize(opts.Rotation)
	pw, ph := int(w*opts.Scale+0.5), int(h*opts.Scale+0.5)
	if pw < 1 {
		pw = 1
	}
	if ph < 1 {
		ph = 1
	}
	limit := r.MaxPixels
	if limit <= 0 {
		limit = defaultMaxPixels
	}
	if pw*ph > limit {
		return nil, ErrTooLarge
	}
	dst := image.NewRGBA(image.Rect(0, 0, pw, ph))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)

	device := DeviceMatrix(src.CropBox, rot, opts.Scale)
	data, err := src.Contents(ctx, r.pipeline())
	if err != nil {
		return nil, err
	}
	p := &painter{r: r, doc: src.Doc, dst: dst}
	if err := p.paint(ctx, data, src.Resources(), device, 0); err != nil {
		return nil, err
	}
	if opts.Label != "" {
		drawLabel(dst, opts.Label)
	}
	return dst, nil
}

func (r *Rasterizer) pipeline() *filters.Pipeline {
	if r.Pipeline == nil {
		r.Pipeline = filters.Default(filters.DefaultLimits())
	}
	return r.Pipeline
}

func (r *Rasterizer) interpolator() xdraw.Interpolator {
	if r.Interpolator != nil {
		return r.Interpolator
	}
	return xdraw.CatmullRom
}

// DeviceMatrix maps page space inside crop to raster pixels for a page
// displayed with the given clockwise rotation.
func DeviceMatrix(crop pages.Rect, rotation int, scale float64) coords.Matrix {
	w, h := crop.Width(), crop.Height()
	m := coords.Translate(-crop.LLX, -crop.LLY)
	dispH := h
	switch pages.NormalizeRotation(rotation) {
	case 90:
		m = m.Multiply(coords.Matrix{0, -1, 1, 0, 0, w})
		dispH = w
	case 180:
		m = m.Multiply(coords.Matrix{-1, 0, 0, -1, w, h})
	case 270:
		m = m.Multiply(coords.Matrix{0, 1, -1, 0, h, 0})
		dispH = w
	}
	return m.Multiply(coords.Matrix{scale, 0, 0, -scale, 0, dispH * scale})
}

type painter struct {
	r   *Rasterizer
	doc *raw.Document
	dst *image.RGBA
}

func (p *painter) paint(ctx context.Context, content []byte, res *raw.DictObj, base coords.Matrix, depth int) error {
	ops, err := contentstream.Parse(content)
	if err != nil {
		// Paint what parsed.
		p.r.Logger.Debug("content stream truncated", observability.Error("error", err))
	}
	for _, mark := range contentstream.Trace(ops, base) {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch mark.Kind {
		case contentstream.MarkRect:
			p.fillRect(mark)
		case contentstream.MarkInlineImage:
			dict, _ := mark.Inline.Operands[0].(*raw.DictObj)
			if dict != nil {
				p.drawImage(ctx, InlineStream(dict, mark.Inline.InlineData), mark)
			}
		case contentstream.MarkXObject:
			p.xobject(ctx, res, mark, depth)
		}
	}
	return nil
}

func (p *painter) xobject(ctx context.Context, res *raw.DictObj, mark contentstream.Mark, depth int) {
	if res == nil {
		return
	}
	xobjs, ok := p.doc.Resolve(res.KV["XObject"]).(*raw.DictObj)
	if !ok {
		return
	}
	st, ok := p.doc.Resolve(xobjs.KV[mark.Name]).(*raw.StreamObj)
	if !ok {
		return
	}
	switch sub, _ := raw.NameOf(st.Dict.KV["Subtype"]); sub {
	case "Image":
		p.drawImage(ctx, st, mark)
	case "Form":
		if depth >= maxFormDepth {
			return
		}
		m := coords.Identity()
		if v, ok := raw.Floats(p.doc.Resolve(st.Dict.KV["Matrix"])); ok && len(v) == 6 {
			m = coords.Matrix{v[0], v[1], v[2], v[3], v[4], v[5]}
		}
		data, err := p.r.pipeline().DecodeStream(ctx, st)
		if err != nil {
			p.r.Logger.Debug("form undecodable", observability.String("name", mark.Name), observability.Error("error", err))
			return
		}
		formRes, ok := p.doc.Resolve(st.Dict.KV["Resources"]).(*raw.DictObj)
		if !ok {
			formRes = res
		}
		_ = p.paint(ctx, data, formRes, m.Multiply(mark.CTM), depth+1)
	}
}

func (p *painter) fillRect(mark contentstream.Mark) {
	r := mark.Rect
	rect := image.Rect(int(r[0]), int(r[1]), int(r[2]+0.5), int(r[3]+0.5))
	draw.Draw(p.dst, rect.Intersect(p.dst.Bounds()), image.NewUniform(mark.Fill), image.Point{}, draw.Over)
}

func (p *painter) drawImage(ctx context.Context, st *raw.StreamObj, mark contentstream.Mark) {
	img, err := DecodeImage(ctx, p.doc, p.r.pipeline(), st)
	if err != nil {
		p.r.Logger.Debug("image skipped", observability.String("name", mark.Name), observability.Error("error", err))
		return
	}
	b := img.Img.Bounds()
	// Image space puts row 0 at the top of the unit square.
	toUnit := coords.Matrix{1 / float64(b.Dx()), 0, 0, -1 / float64(b.Dy()), 0, 1}
	m := coords.Translate(-float64(b.Min.X), -float64(b.Min.Y)).Multiply(toUnit).Multiply(mark.CTM)
	aff := f64.Aff3{m[0], m[2], m[4], m[1], m[3], m[5]}
	if img.Stencil {
		fill := image.NewUniform(mark.Fill)
		mask := img.Img
		opts := &xdraw.Options{SrcMask: mask, SrcMaskP: b.Min}
		p.r.interpolator().Transform(p.dst, aff, fill, b, xdraw.Over, opts)
		return
	}
	p.r.interpolator().Transform(p.dst, aff, img.Img, b, xdraw.Over, nil)
}

func drawLabel(dst *image.RGBA, label string) {
	face := basicfont.Face7x13
	d := &font.Drawer{Dst: dst, Src: image.NewUniform(color.RGBA{0x44, 0x44, 0x44, 0xff}), Face: face}
	width := d.MeasureString(label).Ceil()
	b := dst.Bounds()
	x, y := b.Min.X+4, b.Max.Y-4
	bg := image.Rect(x-2, y-face.Ascent-2, x+width+2, y+face.Descent+2).Intersect(b)
	draw.Draw(dst, bg, image.NewUniform(color.RGBA{0xee, 0xee, 0xee, 0xff}), image.Point{}, draw.Src)
	d.Dot = fixed.P(x, y)
	d.DrawString(label)
}
