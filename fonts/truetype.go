package fonts

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"github.com/go-text/typesetting/di"
	gotext "github.com/go-text/typesetting/font"
	"github.com/go-text/typesetting/language"
	xfont "golang.org/x/image/font"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"

	"github.com/wudi/pdfstudio/ir/raw"
)

const (
	firstChar = 32
	lastChar  = 255
)

// TrueType is an embedded TrueType font used with WinAnsi encoding. Widths
// come from the shaper so kerning and ligatures are reflected.
type TrueType struct {
	data   []byte
	name   string
	face   *gotext.Face
	sfnt   *sfnt.Font
	widths []int
	desc   descriptor
}

type descriptor struct {
	ascent, descent, capHeight float64
	italicAngle                float64
	bbox                       [4]float64
}

// ParseTrueType reads TTF bytes.
func ParseTrueType(data []byte) (*TrueType, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty font data", ErrInvalidFont)
	}
	f, err := sfnt.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFont, err)
	}
	upem := f.UnitsPerEm()
	if upem == 0 {
		return nil, fmt.Errorf("%w: unitsPerEm is zero", ErrInvalidFont)
	}
	face, err := gotext.ParseTTF(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFont, err)
	}

	buf := &sfnt.Buffer{}
	ppem := fixed.Int26_6(upem << 6)
	t := &TrueType{data: data, face: face, sfnt: f, name: "EmbeddedTT"}
	if ps, _ := f.Name(buf, sfnt.NameIDPostScript); ps != "" {
		t.name = strings.ReplaceAll(ps, " ", "")
	}
	t.widths = make([]int, lastChar-firstChar+1)
	for c := firstChar; c <= lastChar; c++ {
		if c >= 0x7F && c < 0xA0 {
			continue
		}
		gid, err := f.GlyphIndex(buf, rune(c))
		if err != nil || gid == 0 {
			continue
		}
		adv, err := f.GlyphAdvance(buf, gid, ppem, xfont.HintingNone)
		if err != nil {
			continue
		}
		t.widths[c-firstChar] = int(math.Round(scaleFixed(adv, upem)))
	}
	metrics, _ := f.Metrics(buf, ppem, xfont.HintingNone)
	bounds, _ := f.Bounds(buf, ppem, xfont.HintingNone)
	t.desc = descriptor{
		ascent:    scaleFixed(metrics.Ascent, upem),
		descent:   -scaleFixed(metrics.Descent, upem),
		capHeight: scaleFixed(metrics.CapHeight, upem),
		bbox: [4]float64{
			scaleFixed(bounds.Min.X, upem),
			-scaleFixed(bounds.Max.Y, upem),
			scaleFixed(bounds.Max.X, upem),
			-scaleFixed(bounds.Min.Y, upem),
		},
	}
	if post := f.PostTable(); post != nil {
		t.desc.italicAngle = post.ItalicAngle
	}
	if t.desc.capHeight == 0 {
		t.desc.capHeight = t.desc.ascent
	}
	return t, nil
}

func (t *TrueType) Name() string { return t.name }

// Width shapes text and sums the advances.
func (t *TrueType) Width(text string, size float64) float64 {
	var total float64
	for _, g := range ShapeText(t.face, text) {
		total += g.XAdvance
	}
	return total * size / 1000
}

func (t *TrueType) Height(size float64) float64 {
	return (t.desc.ascent - t.desc.descent) * size / 1000
}

// Encode maps text to WinAnsi codes. Runes the font cannot show become '?'.
func (t *TrueType) Encode(text string) []byte {
	out := Encode(text)
	for i, c := range out {
		if c >= firstChar && t.widths[c-firstChar] == 0 && c != ' ' {
			out[i] = '?'
		}
	}
	return out
}

// Resource embeds the whole font program as /FontFile2.
func (t *TrueType) Resource(alloc Allocator) raw.Object {
	file := raw.Dict()
	file.Put("Length1", raw.NumberInt(int64(len(t.data))))
	fileRef := alloc.Add(raw.NewStream(file, bytes.Clone(t.data)))

	fd := raw.Dict()
	fd.Put("Type", raw.NameLiteral("FontDescriptor"))
	fd.Put("FontName", raw.NameLiteral(t.name))
	fd.Put("Flags", raw.NumberInt(32))
	fd.Put("FontBBox", raw.Rect(t.desc.bbox[0], t.desc.bbox[1], t.desc.bbox[2], t.desc.bbox[3]))
	fd.Put("ItalicAngle", raw.NumberFloat(t.desc.italicAngle))
	fd.Put("Ascent", raw.NumberFloat(math.Round(t.desc.ascent)))
	fd.Put("Descent", raw.NumberFloat(math.Round(t.desc.descent)))
	fd.Put("CapHeight", raw.NumberFloat(math.Round(t.desc.capHeight)))
	fd.Put("StemV", raw.NumberInt(80))
	fd.Put("FontFile2", fileRef)

	widths := raw.NewArray()
	for _, w := range t.widths {
		widths.Append(raw.NumberInt(int64(w)))
	}
	d := simpleFontDict("TrueType", t.name)
	d.Put("FirstChar", raw.NumberInt(firstChar))
	d.Put("LastChar", raw.NumberInt(lastChar))
	d.Put("Widths", widths)
	d.Put("FontDescriptor", alloc.Add(fd))
	return d
}

func scaleFixed(val fixed.Int26_6, unitsPerEm sfnt.Units) float64 {
	return float64(val) * 1000.0 / (64.0 * float64(unitsPerEm))
}

// scriptDirection is needed for the shaper input.
func scriptDirection(script language.Script) di.Direction {
	switch script {
	case language.Arabic, language.Hebrew, language.Syriac, language.Thaana, language.Nko:
		return di.DirectionRTL
	default:
		return di.DirectionLTR
	}
}
