package fonts

import "github.com/wudi/pdfstudio/ir/raw"

// Helvetica advances in 1/1000 em for WinAnsi codes 32..126.
var helveticaWidths = [...]int{
	278, 278, 355, 556, 556, 889, 667, 191, 333, 333, 389, 584, 278, 333, 278, 278,
	556, 556, 556, 556, 556, 556, 556, 556, 556, 556, 278, 278, 584, 584, 584, 556,
	1015, 667, 667, 722, 722, 667, 611, 778, 722, 278, 500, 667, 556, 833, 722, 778,
	667, 778, 722, 667, 611, 722, 667, 944, 667, 667, 611, 278, 278, 278, 469, 556,
	333, 556, 556, 500, 556, 556, 278, 556, 556, 222, 222, 500, 222, 833, 556, 556,
	556, 556, 333, 500, 278, 556, 500, 722, 500, 500, 500, 334, 260, 334, 584,
}

const (
	helveticaDefaultWidth = 556
	helveticaAscender     = 718
	helveticaDescender    = -207
)

// Helvetica is the standard 14 font. It needs no embedding.
type Helvetica struct{}

func (Helvetica) Name() string { return "Helvetica" }

func (Helvetica) Width(text string, size float64) float64 {
	total := 0
	for _, c := range Encode(text) {
		total += helveticaWidth(c)
	}
	return float64(total) * size / 1000
}

func (Helvetica) Height(size float64) float64 {
	return float64(helveticaAscender-helveticaDescender) * size / 1000
}

func (Helvetica) Encode(text string) []byte { return Encode(text) }

func (h Helvetica) Resource(Allocator) raw.Object {
	return simpleFontDict("Type1", h.Name())
}

func helveticaWidth(c byte) int {
	if c >= 32 && int(c-32) < len(helveticaWidths) {
		return helveticaWidths[c-32]
	}
	return helveticaDefaultWidth
}
