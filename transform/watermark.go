package transform

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"

	"github.com/wudi/pdfstudio/contentstream"
	"github.com/wudi/pdfstudio/coords"
	"github.com/wudi/pdfstudio/document"
	"github.com/wudi/pdfstudio/entitlement"
	"github.com/wudi/pdfstudio/filters"
	"github.com/wudi/pdfstudio/fonts"
	"github.com/wudi/pdfstudio/ir/raw"
	"github.com/wudi/pdfstudio/observability"
	"github.com/wudi/pdfstudio/pages"
)

type WatermarkKind int

const (
	WatermarkText WatermarkKind = iota
	WatermarkImage
)

func (k WatermarkKind) String() string {
	if k == WatermarkImage {
		return "image"
	}
	return "text"
}

// Anchor places a watermark on the page.
type Anchor int

const (
	AnchorCenter Anchor = iota
	AnchorTopLeft
	AnchorTopCenter
	AnchorTopRight
	AnchorBottomLeft
	AnchorBottomCenter
	AnchorBottomRight
	AnchorDiagonal
	AnchorTile
)

var anchorNames = []string{
	"center", "top-left", "top-center", "top-right",
	"bottom-left", "bottom-center", "bottom-right", "diagonal", "tile",
}

func (a Anchor) String() string {
	if a < 0 || int(a) >= len(anchorNames) {
		return "anchor(" + strconv.Itoa(int(a)) + ")"
	}
	return anchorNames[a]
}

// ParseAnchor accepts the names printed by Anchor.String. The empty string
// selects AnchorCenter.
func ParseAnchor(s string) (Anchor, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return AnchorCenter, nil
	}
	for i, name := range anchorNames {
		if name == s {
			return Anchor(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown anchor %q", ErrInvalidParams, s)
}

// RGB is a DeviceRGB color with components in [0,1].
type RGB struct {
	R, G, B float64
}

// WatermarkSpec describes one watermark. Zero values select the defaults.
type WatermarkSpec struct {
	Kind  WatermarkKind
	Text  string
	Image []byte

	Anchor  Anchor
	Opacity float64
	// Rotation in degrees, counter-clockwise. Ignored for AnchorDiagonal.
	Rotation float64
	// Scale applies to image watermarks.
	Scale float64
	// Color applies to text watermarks; nil is 50% gray.
	Color    *RGB
	FontSize float64
	// Font is a TrueType program used instead of Helvetica.
	Font []byte

	TileSpacing float64
	TileRows    int
	TileCols    int

	// Preset fills unset fields from a named stamp such as "draft".
	Preset string
	// AllPages marks every page instead of the selection.
	AllPages bool
}

const (
	defaultOpacity   = 0.3
	defaultFontSize  = 50
	defaultGray      = 0.5
	defaultScale     = 0.2
	watermarkMargin  = 50
	diagonalRotation = 45
)

type preset struct {
	text     string
	color    RGB
	fontSize float64
	opacity  float64
}

var presets = map[string]preset{
	"confidential": {"CONFIDENTIAL", RGB{0.8, 0.1, 0.1}, 60, 0.25},
	"draft":        {"DRAFT", RGB{0.5, 0.5, 0.5}, 70, 0.2},
	"approved":     {"APPROVED", RGB{0.1, 0.6, 0.1}, 55, 0.25},
	"sample":       {"SAMPLE", RGB{0.5, 0.5, 0.5}, 65, 0.2},
	"copy":         {"COPY", RGB{0.5, 0.5, 0.5}, 70, 0.2},
	"do-not-copy":  {"DO NOT COPY", RGB{0.8, 0.1, 0.1}, 50, 0.25},
	"for-review":   {"FOR REVIEW ONLY", RGB{0.8, 0.5, 0.0}, 45, 0.25},
	"final":        {"FINAL", RGB{0.1, 0.3, 0.7}, 70, 0.2},
	"internal":     {"INTERNAL USE ONLY", RGB{0.5, 0.5, 0.5}, 40, 0.2},
}

// Presets returns the preset names in a stable order.
func Presets() []string {
	return []string{"confidential", "draft", "approved", "sample", "copy", "do-not-copy", "for-review", "final", "internal"}
}

// Watermark stamps text or an image onto the selected pages, or onto every
// page when Spec.AllPages is set.
type Watermark struct {
	Spec WatermarkSpec
}

func (Watermark) Tool() entitlement.Tool               { return entitlement.ToolWatermark }
func (op Watermark) accept(v visitor) (*Result, error) { return v.visitWatermark(op) }

func (r *run) visitWatermark(op Watermark) (*Result, error) {
	if err := r.current(); err != nil {
		return nil, err
	}
	if !op.Spec.AllPages && len(r.doc.Selected()) == 0 {
		return nil, ErrEmptySelection
	}
	mark, err := prepareWatermark(op.Spec)
	if err != nil {
		return nil, err
	}

	stamps := make(map[*pages.Overlay]*stamp)
	target := func(p *document.Page) bool { return op.Spec.AllPages || p.Selected }
	next, marked, err := r.overlayEach(target, func(ov *pages.Overlay, i int, src *pages.Source) *pages.Source {
		st, ok := stamps[ov]
		if !ok {
			st = newStamp(mark, ov)
			stamps[ov] = st
		}
		text := expandPlaceholders(mark.spec.Text, i+1, len(r.doc.Pages), r.engine.now())
		return st.apply(src, text)
	})
	if err != nil {
		return nil, err
	}
	r.engine.logger.Debug("watermark applied",
		observability.String("kind", mark.spec.Kind.String()),
		observability.String("anchor", mark.spec.Anchor.String()),
		observability.Int("pages", marked),
	)
	return unchanged(r.doc.Derive(next)), nil
}

// overlayEach rewrites the target pages through one overlay per source
// graph. Untouched pages sharing a rewritten graph move to the extended copy
// so one export sees a single graph per source.
func (r *run) overlayEach(target func(*document.Page) bool, edit func(ov *pages.Overlay, i int, src *pages.Source) *pages.Source) ([]*document.Page, int, error) {
	overlays := make(map[*raw.Document]*pages.Overlay)
	next := make([]*document.Page, len(r.doc.Pages))
	edited := 0
	for i, p := range r.doc.Pages {
		if err := r.ctx.Err(); err != nil {
			return nil, 0, err
		}
		next[i] = p
		if !target(p) {
			continue
		}
		ov, ok := overlays[p.Source.Doc]
		if !ok {
			ov = pages.NewOverlay(p.Source.Doc)
			overlays[p.Source.Doc] = ov
		}
		next[i] = p.WithSource(edit(ov, i, p.Source))
		edited++
	}
	for i, p := range next {
		if ov, ok := overlays[p.Source.Doc]; ok && !target(r.doc.Pages[i]) {
			cp := p.Clone()
			cp.Source = p.Source.WithDoc(ov.Doc())
			next[i] = cp
		}
	}
	return next, edited, nil
}

type watermark struct {
	spec WatermarkSpec
	font fonts.Font

	img  image.Image
	jpeg []byte
}

// prepareWatermark applies the preset and defaults and validates the result.
// It does no page work, so a bad spec leaves the document untouched.
func prepareWatermark(spec WatermarkSpec) (*watermark, error) {
	if name := strings.ToLower(strings.TrimSpace(spec.Preset)); name != "" && name != "custom" {
		p, ok := presets[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown watermark preset %q", ErrInvalidParams, spec.Preset)
		}
		if spec.Text == "" {
			spec.Text = p.text
		}
		if spec.Color == nil {
			c := p.color
			spec.Color = &c
		}
		if spec.FontSize == 0 {
			spec.FontSize = p.fontSize
		}
		if spec.Opacity == 0 {
			spec.Opacity = p.opacity
		}
		if spec.Anchor == AnchorCenter {
			spec.Anchor = AnchorDiagonal
		}
	}
	switch {
	case spec.Opacity < 0 || spec.Opacity > 1:
		return nil, fmt.Errorf("%w: opacity %g outside [0,1]", ErrInvalidParams, spec.Opacity)
	case spec.FontSize < 0, spec.Scale < 0, spec.TileSpacing < 0, spec.TileRows < 0, spec.TileCols < 0:
		return nil, fmt.Errorf("%w: negative watermark size", ErrInvalidParams)
	case spec.Anchor < AnchorCenter || spec.Anchor > AnchorTile:
		return nil, fmt.Errorf("%w: unknown anchor %d", ErrInvalidParams, spec.Anchor)
	}
	if spec.Opacity == 0 {
		spec.Opacity = defaultOpacity
	}
	if spec.Anchor == AnchorDiagonal {
		spec.Rotation = diagonalRotation
	}

	w := &watermark{spec: spec}
	switch spec.Kind {
	case WatermarkText:
		if strings.TrimSpace(spec.Text) == "" {
			return nil, fmt.Errorf("%w: watermark text is empty", ErrInvalidParams)
		}
		if w.spec.FontSize == 0 {
			w.spec.FontSize = defaultFontSize
		}
		if w.spec.Color == nil {
			w.spec.Color = &RGB{defaultGray, defaultGray, defaultGray}
		}
		w.font = fonts.Helvetica{}
		if len(spec.Font) > 0 {
			tt, err := fonts.ParseTrueType(spec.Font)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidParams, err)
			}
			w.font = tt
		}
		w.setTileDefaults(5, 3, 150)
	case WatermarkImage:
		if len(spec.Image) == 0 {
			return nil, fmt.Errorf("%w: watermark image is empty", ErrInvalidParams)
		}
		img, isJPEG, err := decodeWatermarkImage(spec.Image)
		if err != nil {
			return nil, err
		}
		w.img = img
		if _, cmyk := img.(*image.CMYK); isJPEG && !cmyk {
			w.jpeg = spec.Image
		}
		if w.spec.Scale == 0 {
			w.spec.Scale = defaultScale
		}
		w.setTileDefaults(3, 3, 200)
	default:
		return nil, fmt.Errorf("%w: unknown watermark kind %d", ErrInvalidParams, spec.Kind)
	}
	return w, nil
}

func (w *watermark) setTileDefaults(rows, cols int, spacing float64) {
	if w.spec.TileRows == 0 {
		w.spec.TileRows = rows
	}
	if w.spec.TileCols == 0 {
		w.spec.TileCols = cols
	}
	if w.spec.TileSpacing == 0 {
		w.spec.TileSpacing = spacing
	}
}

// decodeWatermarkImage tries PNG, then JPEG, then the formats x/image reads.
func decodeWatermarkImage(data []byte) (image.Image, bool, error) {
	if img, err := png.Decode(bytes.NewReader(data)); err == nil {
		return img, false, nil
	}
	if img, err := jpeg.Decode(bytes.NewReader(data)); err == nil {
		return img, true, nil
	}
	for _, decode := range []func(io.Reader) (image.Image, error){webp.Decode, bmp.Decode, tiff.Decode} {
		if img, err := decode(bytes.NewReader(data)); err == nil {
			return img, false, nil
		}
	}
	return nil, false, ErrUnsupportedImageFormat
}

// stamp holds the shared watermark resources of one raw document.
type stamp struct {
	mark    *watermark
	overlay *pages.Overlay
	gs      raw.RefObj
	res     raw.RefObj
}

func newStamp(mark *watermark, ov *pages.Overlay) *stamp {
	gs := raw.Dict()
	gs.Put("Type", raw.NameLiteral("ExtGState"))
	gs.Put("ca", raw.NumberFloat(mark.spec.Opacity))
	gs.Put("CA", raw.NumberFloat(mark.spec.Opacity))
	st := &stamp{mark: mark, overlay: ov, gs: ov.Add(gs)}
	if mark.spec.Kind == WatermarkText {
		st.res = ov.Add(mark.font.Resource(ov))
	} else {
		st.res = ov.Add(imageXObject(ov, mark.img, mark.jpeg))
	}
	return st
}

func (st *stamp) apply(src *pages.Source, text string) *pages.Source {
	edit := st.overlay.Edit(src)
	gsName := edit.AddResource("ExtGState", "GSwm", st.gs)
	spec := st.mark.spec

	var w, h float64
	var resName string
	if spec.Kind == WatermarkText {
		resName = edit.AddResource("Font", "Fwm", st.res)
		w, h = st.mark.font.Width(text, spec.FontSize), st.mark.font.Height(spec.FontSize)
	} else {
		resName = edit.AddResource("XObject", "Imwm", st.res)
		b := st.mark.img.Bounds()
		w, h = float64(b.Dx())*spec.Scale, float64(b.Dy())*spec.Scale
	}

	box := src.CropBox
	ops := []contentstream.Operation{
		op("q"),
		op("gs", raw.NameLiteral(gsName)),
	}
	for _, m := range placements(spec, box, w, h) {
		ops = append(ops, op("q"), cm(m))
		if spec.Kind == WatermarkText {
			c := spec.Color
			ops = append(ops,
				op("BT"),
				op("Tf", raw.NameLiteral(resName), num(spec.FontSize)),
				op("rg", num(c.R), num(c.G), num(c.B)),
				op("Td", num(0), num(0)),
				op("Tj", raw.Str(st.mark.font.Encode(text))),
				op("ET"),
			)
		} else {
			ops = append(ops,
				cm(coords.Scale(w, h)),
				op("Do", raw.NameLiteral(resName)),
			)
		}
		ops = append(ops, op("Q"))
	}
	ops = append(ops, op("Q"))
	return edit.Finish(contentstream.Serialize(ops))
}

// placements returns one matrix per drawn copy, mapping the mark's local
// space, origin at its lower-left corner, onto the page.
func placements(spec WatermarkSpec, box pages.Rect, w, h float64) []coords.Matrix {
	pw, ph := box.Width(), box.Height()
	rot := coords.RotateDegrees(spec.Rotation)
	at := func(x, y float64) coords.Matrix {
		return rot.Multiply(coords.Translate(box.LLX+x, box.LLY+y))
	}
	switch spec.Anchor {
	case AnchorDiagonal:
		return []coords.Matrix{coords.Translate(-w/2, -h/2).
			Multiply(rot).
			Multiply(coords.Translate(box.LLX+pw/2, box.LLY+ph/2))}
	case AnchorTile:
		rows, cols, gap := spec.TileRows, spec.TileCols, spec.TileSpacing
		startX := (pw - (float64(cols-1)*gap + w)) / 2
		startY := (ph - (float64(rows-1)*gap + h)) / 2
		out := make([]coords.Matrix, 0, rows*cols)
		for row := 0; row < rows; row++ {
			offset := 0.0
			if row%2 == 1 {
				offset = gap / 2
			}
			for col := 0; col < cols; col++ {
				out = append(out, at(startX+float64(col)*gap+offset, startY+float64(row)*gap))
			}
		}
		return out
	}
	x, y := anchorPosition(spec.Anchor, pw, ph, w, h)
	return []coords.Matrix{at(x, y)}
}

func anchorPosition(a Anchor, pw, ph, w, h float64) (float64, float64) {
	const m = watermarkMargin
	switch a {
	case AnchorTopLeft:
		return m, ph - m - h
	case AnchorTopCenter:
		return (pw - w) / 2, ph - m - h
	case AnchorTopRight:
		return pw - w - m, ph - m - h
	case AnchorBottomLeft:
		return m, m
	case AnchorBottomCenter:
		return (pw - w) / 2, m
	case AnchorBottomRight:
		return pw - w - m, m
	}
	return (pw - w) / 2, (ph - h) / 2
}

var placeholderRE = regexp.MustCompile(`(?i)\{(datetime|date|time|page|total|year|month|day|n)\}`)

func expandPlaceholders(text string, page, total int, now time.Time) string {
	return placeholderRE.ReplaceAllStringFunc(text, func(m string) string {
		switch strings.ToLower(m[1 : len(m)-1]) {
		case "date":
			return now.Format("2006-01-02")
		case "time":
			return now.Format("15:04")
		case "datetime":
			return now.Format("2006-01-02 15:04")
		case "page", "n":
			return strconv.Itoa(page)
		case "total":
			return strconv.Itoa(total)
		case "year":
			return now.Format("2006")
		case "month":
			return now.Format("01")
		case "day":
			return now.Format("02")
		}
		return m
	})
}

// imageXObject embeds img. jpegData, when set, is passed through as is;
// otherwise the pixels become Flate-compressed RGB with an SMask for alpha.
func imageXObject(alloc fonts.Allocator, img image.Image, jpegData []byte) *raw.StreamObj {
	b := img.Bounds()
	d := raw.Dict()
	d.Put("Type", raw.NameLiteral("XObject"))
	d.Put("Subtype", raw.NameLiteral("Image"))
	d.Put("Width", raw.NumberInt(int64(b.Dx())))
	d.Put("Height", raw.NumberInt(int64(b.Dy())))
	d.Put("BitsPerComponent", raw.NumberInt(8))

	if jpegData != nil {
		cs := "DeviceRGB"
		if _, gray := img.(*image.Gray); gray {
			cs = "DeviceGray"
		}
		d.Put("ColorSpace", raw.NameLiteral(cs))
		d.Put("Filter", raw.NameLiteral("DCTDecode"))
		return raw.NewStream(d, jpegData)
	}

	rgb := make([]byte, 0, b.Dx()*b.Dy()*3)
	alpha := make([]byte, 0, b.Dx()*b.Dy())
	opaque := true
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			rgb = append(rgb, c.R, c.G, c.B)
			alpha = append(alpha, c.A)
			if c.A != 0xff {
				opaque = false
			}
		}
	}
	d.Put("ColorSpace", raw.NameLiteral("DeviceRGB"))
	if !opaque {
		m := raw.Dict()
		m.Put("Type", raw.NameLiteral("XObject"))
		m.Put("Subtype", raw.NameLiteral("Image"))
		m.Put("Width", raw.NumberInt(int64(b.Dx())))
		m.Put("Height", raw.NumberInt(int64(b.Dy())))
		m.Put("BitsPerComponent", raw.NumberInt(8))
		m.Put("ColorSpace", raw.NameLiteral("DeviceGray"))
		d.Put("SMask", alloc.Add(raw.NewStream(m, putFlate(m, alpha))))
	}
	return raw.NewStream(d, putFlate(d, rgb))
}

// putFlate compresses data and records the filter on d. It falls back to
// the raw bytes if compression fails.
func putFlate(d *raw.DictObj, data []byte) []byte {
	enc, err := filters.Flate(data)
	if err != nil {
		d.Delete("Filter")
		return data
	}
	d.Put("Filter", raw.NameLiteral("FlateDecode"))
	return enc
}

func op(name string, operands ...raw.Object) contentstream.Operation {
	return contentstream.Operation{Operator: name, Operands: operands}
}

func cm(m coords.Matrix) contentstream.Operation {
	return op("cm", num(m[0]), num(m[1]), num(m[2]), num(m[3]), num(m[4]), num(m[5]))
}

func num(f float64) raw.Object { return raw.NumberFloat(f) }
