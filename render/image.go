package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/wudi/pdfstudio/filters"
	"github.com/wudi/pdfstudio/ir/raw"
)

var ErrUnsupportedImage = errors.New("unsupported image encoding")

// Image is a decoded image XObject. Stencil masks come back as an
// *image.Alpha that marks painted samples opaque.
type Image struct {
	Img     image.Image
	Stencil bool
}

// DecodeImage turns an image XObject into a Go image. DCT payloads go
// through image/jpeg; other supported payloads are raw samples in Gray, RGB,
// CMYK, ICCBased or Indexed color spaces at 1, 2, 4, 8 or 16 bits.
func DecodeImage(ctx context.Context, doc *raw.Document, p *filters.Pipeline, s *raw.StreamObj) (*Image, error) {
	data, codec, err := p.DecodeImageStream(ctx, s)
	if err != nil {
		return nil, err
	}
	switch codec {
	case "":
	case "DCTDecode":
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
		}
		return &Image{Img: img}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedImage, codec)
	}

	d := s.Dict
	w, _ := raw.IntOf(doc.Resolve(d.KV["Width"]))
	h, _ := raw.IntOf(doc.Resolve(d.KV["Height"]))
	if err := filters.ValidateImageBounds(int(w), int(h)); err != nil {
		return nil, err
	}
	asset := sampled{width: int(w), height: int(h), bpc: 8, data: data}
	if v, ok := raw.IntOf(doc.Resolve(d.KV["BitsPerComponent"])); ok {
		asset.bpc = int(v)
	}
	if m, ok := doc.Resolve(d.KV["ImageMask"]).(raw.BoolObj); ok && m.V {
		asset.bpc = 1
		asset.invert = decodeInverted(doc, d)
		return &Image{Img: asset.stencil(), Stencil: true}, nil
	}
	asset.space, asset.palette, asset.base = colorSpace(doc, doc.Resolve(d.KV["ColorSpace"]))
	asset.invert = asset.space == "DeviceGray" && decodeInverted(doc, d)
	img, err := asset.toImage()
	if err != nil {
		return nil, err
	}
	return &Image{Img: img}, nil
}

func decodeInverted(doc *raw.Document, d *raw.DictObj) bool {
	v, ok := raw.Floats(doc.Resolve(d.KV["Decode"]))
	return ok && len(v) >= 2 && v[0] > v[1]
}

// colorSpace reduces a color space to a device family. For Indexed it also
// returns the lookup table and the base family.
func colorSpace(doc *raw.Document, cs raw.Object) (string, []byte, string) {
	switch v := cs.(type) {
	case raw.NameObj:
		switch v.Val {
		case "DeviceRGB", "CalRGB", "RGB":
			return "DeviceRGB", nil, ""
		case "DeviceCMYK", "CMYK":
			return "DeviceCMYK", nil, ""
		}
		return "DeviceGray", nil, ""
	case *raw.ArrayObj:
		if v.Len() == 0 {
			return "DeviceGray", nil, ""
		}
		family, _ := raw.NameOf(v.Items[0])
		switch family {
		case "ICCBased":
			if v.Len() > 1 {
				if st, ok := doc.Resolve(v.Items[1]).(*raw.StreamObj); ok {
					switch n, _ := raw.IntOf(st.Dict.KV["N"]); n {
					case 3:
						return "DeviceRGB", nil, ""
					case 4:
						return "DeviceCMYK", nil, ""
					}
				}
			}
			return "DeviceGray", nil, ""
		case "Indexed", "I":
			if v.Len() < 4 {
				return "DeviceGray", nil, ""
			}
			base, _, _ := colorSpace(doc, doc.Resolve(v.Items[1]))
			var lookup []byte
			switch l := doc.Resolve(v.Items[3]).(type) {
			case raw.StringObj:
				lookup = l.Bytes
			case *raw.StreamObj:
				lookup = l.Data
			}
			return "Indexed", lookup, base
		case "CalRGB", "Lab":
			return "DeviceRGB", nil, ""
		case "CalGray":
			return "DeviceGray", nil, ""
		}
	}
	return "DeviceGray", nil, ""
}

type sampled struct {
	width, height int
	bpc           int
	space         string
	base          string
	palette       []byte
	invert        bool
	data          []byte
}

func (s sampled) components() int {
	switch s.space {
	case "DeviceRGB":
		return 3
	case "DeviceCMYK":
		return 4
	}
	return 1
}

// sample returns component c of pixel (x, y) scaled to 0..255, or the raw
// index for Indexed images.
func (s sampled) sample(x, y, c int) uint8 {
	n := s.components()
	rowBits := s.width * n * s.bpc
	rowBytes := (rowBits + 7) / 8
	bit := (x*n + c) * s.bpc
	off := y*rowBytes + bit/8
	if off >= len(s.data) {
		return 0
	}
	switch s.bpc {
	case 8:
		return s.data[off]
	case 16:
		return s.data[off]
	}
	shift := 8 - s.bpc - bit%8
	v := (s.data[off] >> uint(shift)) & (1<<uint(s.bpc) - 1)
	if s.space == "Indexed" {
		return v
	}
	return uint8(int(v) * 255 / (1<<uint(s.bpc) - 1))
}

func (s sampled) toImage() (image.Image, error) {
	switch s.bpc {
	case 1, 2, 4, 8, 16:
	default:
		return nil, fmt.Errorf("%w: %d bits per component", ErrUnsupportedImage, s.bpc)
	}
	rect := image.Rect(0, 0, s.width, s.height)
	switch s.space {
	case "DeviceRGB":
		img := image.NewRGBA(rect)
		for y := 0; y < s.height; y++ {
			for x := 0; x < s.width; x++ {
				img.SetRGBA(x, y, color.RGBA{R: s.sample(x, y, 0), G: s.sample(x, y, 1), B: s.sample(x, y, 2), A: 0xff})
			}
		}
		return img, nil
	case "DeviceCMYK":
		img := image.NewCMYK(rect)
		for y := 0; y < s.height; y++ {
			for x := 0; x < s.width; x++ {
				img.SetCMYK(x, y, color.CMYK{C: s.sample(x, y, 0), M: s.sample(x, y, 1), Y: s.sample(x, y, 2), K: s.sample(x, y, 3)})
			}
		}
		return img, nil
	case "Indexed":
		pal := s.colorPalette()
		if len(pal) == 0 {
			return nil, fmt.Errorf("%w: empty palette", ErrUnsupportedImage)
		}
		img := image.NewPaletted(rect, pal)
		for y := 0; y < s.height; y++ {
			for x := 0; x < s.width; x++ {
				idx := s.sample(x, y, 0)
				if int(idx) >= len(pal) {
					idx = 0
				}
				img.SetColorIndex(x, y, idx)
			}
		}
		return img, nil
	}
	img := image.NewGray(rect)
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			v := s.sample(x, y, 0)
			if s.invert {
				v = 255 - v
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img, nil
}

func (s sampled) colorPalette() color.Palette {
	n := 1
	switch s.base {
	case "DeviceRGB":
		n = 3
	case "DeviceCMYK":
		n = 4
	}
	var pal color.Palette
	for i := 0; i+n <= len(s.palette) && len(pal) < 256; i += n {
		e := s.palette[i : i+n]
		switch n {
		case 3:
			pal = append(pal, color.RGBA{R: e[0], G: e[1], B: e[2], A: 0xff})
		case 4:
			pal = append(pal, color.CMYK{C: e[0], M: e[1], Y: e[2], K: e[3]})
		default:
			pal = append(pal, color.Gray{Y: e[0]})
		}
	}
	return pal
}

// stencil maps samples to coverage. With the default Decode array a 0
// sample paints.
func (s sampled) stencil() *image.Alpha {
	img := image.NewAlpha(image.Rect(0, 0, s.width, s.height))
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			paint := s.sample(x, y, 0) == 0
			if s.invert {
				paint = !paint
			}
			if paint {
				img.SetAlpha(x, y, color.Alpha{A: 0xff})
			}
		}
	}
	return img
}

var inlineKeys = map[string]string{
	"BPC": "BitsPerComponent",
	"CS":  "ColorSpace",
	"D":   "Decode",
	"DP":  "DecodeParms",
	"F":   "Filter",
	"H":   "Height",
	"IM":  "ImageMask",
	"I":   "Interpolate",
	"W":   "Width",
}

var inlineNames = map[string]string{
	"G":    "DeviceGray",
	"RGB":  "DeviceRGB",
	"CMYK": "DeviceCMYK",
	"I":    "Indexed",
}

// InlineStream expands an inline image dictionary to an image XObject.
func InlineStream(dict *raw.DictObj, data []byte) *raw.StreamObj {
	out := raw.Dict()
	for k, v := range dict.KV {
		if full, ok := inlineKeys[k]; ok {
			k = full
		}
		if k == "ColorSpace" {
			if n, ok := v.(raw.NameObj); ok {
				if full, ok := inlineNames[n.Val]; ok {
					v = raw.NameLiteral(full)
				}
			}
		}
		if k == "Filter" {
			v = expandFilters(v)
		}
		out.Put(k, v)
	}
	out.Put("Subtype", raw.NameLiteral("Image"))
	return raw.NewStream(out, data)
}

func expandFilters(v raw.Object) raw.Object {
	switch f := v.(type) {
	case raw.NameObj:
		return raw.NameLiteral(filters.Canonical(f.Val))
	case *raw.ArrayObj:
		arr := raw.NewArray()
		for _, it := range f.Items {
			arr.Append(expandFilters(it))
		}
		return arr
	}
	return v
}
