// Package fonts measures and embeds the fonts used for generated page text.
package fonts

import (
	"errors"

	"github.com/wudi/pdfstudio/ir/raw"
)

var ErrInvalidFont = errors.New("invalid font")

// Font is a simple (single byte) font that can be placed on a page.
type Font interface {
	// Name is the PostScript name written as /BaseFont.
	Name() string
	// Width returns the advance of text in points at size.
	Width(text string, size float64) float64
	// Height is the distance from descender to ascender at size.
	Height(size float64) float64
	// Encode converts text to the byte codes shown with Tj.
	Encode(text string) []byte
	// Resource builds the font dictionary, adding supporting objects to alloc.
	Resource(alloc Allocator) raw.Object
}

// Allocator stores an object and returns a reference to it.
type Allocator interface {
	Add(obj raw.Object) raw.RefObj
}

// Encode maps text to WinAnsi codes. ASCII and Latin-1 letters map to
// themselves, anything else to '?'.
func Encode(text string) []byte {
	out := make([]byte, 0, len(text))
	for _, r := range text {
		switch {
		case r >= 0x20 && r < 0x7F, r >= 0xA0 && r <= 0xFF:
			out = append(out, byte(r))
		default:
			out = append(out, '?')
		}
	}
	return out
}

func simpleFontDict(subtype, name string) *raw.DictObj {
	d := raw.Dict()
	d.Put("Type", raw.NameLiteral("Font"))
	d.Put("Subtype", raw.NameLiteral(subtype))
	d.Put("BaseFont", raw.NameLiteral(name))
	d.Put("Encoding", raw.NameLiteral("WinAnsiEncoding"))
	return d
}
