package ocr

import (
	"image"
	"image/color"
	"math"

	xdraw "golang.org/x/image/draw"
)

// Preprocess adjusts a raster before recognition. Contrast and Brightness
// are multipliers where 1 leaves the image unchanged; zero also means 1.
type Preprocess struct {
	Grayscale  bool
	Contrast   float64
	Brightness float64
}

func DefaultPreprocess() Preprocess {
	return Preprocess{Grayscale: true, Contrast: 1.2, Brightness: 1.0}
}

func (p Preprocess) identity() bool {
	return !p.Grayscale && unit(p.Contrast) == 1 && unit(p.Brightness) == 1
}

func unit(v float64) float64 {
	if v == 0 {
		return 1
	}
	return v
}

// Apply returns the adjusted raster: *image.Gray when Grayscale is set,
// otherwise *image.RGBA. img is not modified.
func (p Preprocess) Apply(img image.Image) image.Image {
	if p.identity() {
		return img
	}
	src := toRGBA(img)
	lut := p.table()
	b := src.Bounds()
	if p.Grayscale {
		dst := image.NewGray(b)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := src.Pix[(y-b.Min.Y)*src.Stride:]
			out := dst.Pix[(y-b.Min.Y)*dst.Stride:]
			for x := 0; x < b.Dx(); x++ {
				px := row[x*4 : x*4+4]
				g := luma(px[0], px[1], px[2])
				out[x] = lut[g]
			}
		}
		return dst
	}
	dst := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := src.Pix[(y-b.Min.Y)*src.Stride:]
		out := dst.Pix[(y-b.Min.Y)*dst.Stride:]
		for i := 0; i < b.Dx()*4; i += 4 {
			out[i] = lut[row[i]]
			out[i+1] = lut[row[i+1]]
			out[i+2] = lut[row[i+2]]
			out[i+3] = row[i+3]
		}
	}
	return dst
}

// table maps every channel value through contrast then brightness.
func (p Preprocess) table() [256]uint8 {
	// Contrast uses the common 259 form with c expressed on the -255..255
	// scale, so a multiplier of 1 yields factor 1.
	c := math.Min((unit(p.Contrast)-1)*255, 258)
	factor := (259 * (c + 255)) / (255 * (259 - c))
	shift := (unit(p.Brightness) - 1) * 255
	var lut [256]uint8
	for v := range lut {
		out := factor*(float64(v)-128) + 128 + shift
		lut[v] = clamp8(out)
	}
	return lut
}

func luma(r, g, b uint8) uint8 {
	return clamp8(0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b))
}

func clamp8(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(math.Round(v))
}

// toRGBA returns img as an opaque *image.RGBA, compositing onto white.
func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && opaque(rgba) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(b)
	xdraw.Draw(dst, b, image.NewUniform(color.White), image.Point{}, xdraw.Src)
	xdraw.Draw(dst, b, img, b.Min, xdraw.Over)
	return dst
}

func opaque(img *image.RGBA) bool {
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0xff {
			return false
		}
	}
	return true
}
