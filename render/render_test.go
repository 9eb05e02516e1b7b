package render

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/wudi/pdfstudio/coords"
	"github.com/wudi/pdfstudio/filters"
	"github.com/wudi/pdfstudio/ir/raw"
	"github.com/wudi/pdfstudio/pages"
)

func pageWith(content string, box pages.Rect, xobjects map[string]raw.Object) *pages.Source {
	doc := raw.NewDocument("1.7")
	doc.Objects[raw.ObjectRef{Num: 10}] = raw.NewStream(raw.Dict(), []byte(content))
	dict := raw.Dict()
	dict.Put("Contents", raw.Ref(10, 0))
	res := raw.Dict()
	if len(xobjects) > 0 {
		xo := raw.Dict()
		n := 20
		for name, obj := range xobjects {
			doc.Objects[raw.ObjectRef{Num: n}] = obj
			xo.Put(name, raw.Ref(n, 0))
			n++
		}
		res.Put("XObject", xo)
	}
	dict.Put("Resources", res)
	return &pages.Source{Doc: doc, Dict: dict, MediaBox: box, CropBox: box}
}

func grayImage(samples []byte, w, h int) *raw.StreamObj {
	d := raw.Dict()
	d.Put("Subtype", raw.NameLiteral("Image"))
	d.Put("Width", raw.NumberInt(int64(w)))
	d.Put("Height", raw.NumberInt(int64(h)))
	d.Put("BitsPerComponent", raw.NumberInt(8))
	d.Put("ColorSpace", raw.NameLiteral("DeviceGray"))
	return raw.NewStream(d, samples)
}

func rgbaAt(img image.Image, x, y int) color.RGBA {
	return color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
}

func TestDeviceMatrix(t *testing.T) {
	crop := pages.Rect{LLX: 10, LLY: 20, URX: 210, URY: 120}
	cases := []struct {
		rot  int
		in   coords.Point
		want coords.Point
	}{
		{0, coords.Point{X: 10, Y: 120}, coords.Point{X: 0, Y: 0}},
		{0, coords.Point{X: 210, Y: 20}, coords.Point{X: 400, Y: 200}},
		{90, coords.Point{X: 10, Y: 120}, coords.Point{X: 200, Y: 0}},
		{180, coords.Point{X: 10, Y: 120}, coords.Point{X: 400, Y: 200}},
		{270, coords.Point{X: 10, Y: 120}, coords.Point{X: 0, Y: 400}},
	}
	for _, tc := range cases {
		got := DeviceMatrix(crop, tc.rot, 2).Transform(tc.in)
		if got != tc.want {
			t.Fatalf("rotation %d: %+v maps to %+v, want %+v", tc.rot, tc.in, got, tc.want)
		}
	}
}

func TestRenderFilledRect(t *testing.T) {
	src := pageWith("1 0 0 rg 0 0 306 396 re f", pages.Rect{URX: 612, URY: 792}, nil)
	img, err := NewRasterizer(nil).Render(context.Background(), src, Options{Scale: 0.5})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 306 || b.Dy() != 396 {
		t.Fatalf("size %v", b)
	}
	if c := rgbaAt(img, 10, 390); c.R != 0xff || c.G != 0 {
		t.Fatalf("expected red in lower-left, got %v", c)
	}
	if c := rgbaAt(img, 300, 10); c != (color.RGBA{0xff, 0xff, 0xff, 0xff}) {
		t.Fatalf("expected white background, got %v", c)
	}
}

func TestRenderImageXObject(t *testing.T) {
	xo := map[string]raw.Object{"Im0": grayImage([]byte{0x00, 0xff}, 2, 1)}
	src := pageWith("q 100 0 0 50 0 0 cm /Im0 Do Q", pages.Rect{URX: 200, URY: 100}, xo)
	img, err := NewRasterizer(nil).Render(context.Background(), src, Options{Scale: 1})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if c := rgbaAt(img, 25, 75); c.R > 64 {
		t.Fatalf("left half should be dark, got %v", c)
	}
	if c := rgbaAt(img, 75, 75); c.R < 192 {
		t.Fatalf("right half should be light, got %v", c)
	}
	if c := rgbaAt(img, 25, 25); c.R != 0xff {
		t.Fatalf("above the image should be untouched, got %v", c)
	}
}

func TestRenderRotationSwapsSize(t *testing.T) {
	src := pageWith("", pages.Rect{URX: 200, URY: 100}, nil)
	src.Rotate = 90
	img, err := NewRasterizer(nil).Render(context.Background(), src, Options{Scale: 1, Rotation: 180})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 100 || b.Dy() != 200 {
		t.Fatalf("size %v", b)
	}
}

func TestRenderLimit(t *testing.T) {
	r := NewRasterizer(nil)
	r.MaxPixels = 100
	src := pageWith("", pages.Rect{URX: 200, URY: 100}, nil)
	if _, err := r.Render(context.Background(), src, Options{Scale: 1}); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestRenderLabel(t *testing.T) {
	src := pageWith("", pages.Rect{URX: 100, URY: 100}, nil)
	img, err := NewRasterizer(nil).Render(context.Background(), src, Options{Scale: 1, Label: "3"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	changed := false
	for y := 80; y < 100 && !changed; y++ {
		for x := 0; x < 20; x++ {
			if rgbaAt(img, x, y) != (color.RGBA{0xff, 0xff, 0xff, 0xff}) {
				changed = true
				break
			}
		}
	}
	if !changed {
		t.Fatalf("label not drawn")
	}
}

func TestRenderCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := pageWith("0 0 1 1 re f", pages.Rect{URX: 10, URY: 10}, nil)
	if _, err := NewRasterizer(nil).Render(ctx, src, Options{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDecodeImageVariants(t *testing.T) {
	ctx := context.Background()
	doc := raw.NewDocument("1.7")
	p := filters.Default(filters.DefaultLimits())

	indexed := grayImage([]byte{0x01, 0x00}, 2, 1)
	indexed.Dict.Put("ColorSpace", raw.NewArray(raw.NameLiteral("Indexed"), raw.NameLiteral("DeviceRGB"), raw.NumberInt(1), raw.Str([]byte{0, 0, 0, 0xff, 0, 0})))
	img, err := DecodeImage(ctx, doc, p, indexed)
	if err != nil {
		t.Fatalf("indexed: %v", err)
	}
	if c := rgbaAt(img.Img, 0, 0); c.R != 0xff {
		t.Fatalf("indexed lookup: %v", c)
	}

	bits := grayImage([]byte{0xA0}, 4, 1)
	bits.Dict.Put("BitsPerComponent", raw.NumberInt(1))
	img, err = DecodeImage(ctx, doc, p, bits)
	if err != nil {
		t.Fatalf("1-bit: %v", err)
	}
	if rgbaAt(img.Img, 0, 0).R != 0xff || rgbaAt(img.Img, 1, 0).R != 0 || rgbaAt(img.Img, 2, 0).R != 0xff {
		t.Fatalf("1-bit unpacking wrong")
	}

	mask := grayImage([]byte{0x40}, 2, 1)
	mask.Dict.Put("ImageMask", raw.Bool(true))
	img, err = DecodeImage(ctx, doc, p, mask)
	if err != nil || !img.Stencil {
		t.Fatalf("stencil: %v", err)
	}
	if a := img.Img.(*image.Alpha); a.AlphaAt(0, 0).A != 0xff || a.AlphaAt(1, 0).A != 0 {
		t.Fatalf("stencil coverage wrong")
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 8)), nil); err != nil {
		t.Fatalf("jpeg: %v", err)
	}
	dct := grayImage(buf.Bytes(), 8, 8)
	dct.Dict.Put("Filter", raw.NameLiteral("DCTDecode"))
	if img, err := DecodeImage(ctx, doc, p, dct); err != nil || img.Img.Bounds().Dx() != 8 {
		t.Fatalf("dct: %v", err)
	}

	jpx := grayImage([]byte{0}, 1, 1)
	jpx.Dict.Put("Filter", raw.NameLiteral("JPXDecode"))
	if _, err := DecodeImage(ctx, doc, p, jpx); !errors.Is(err, ErrUnsupportedImage) {
		t.Fatalf("jpx: expected ErrUnsupportedImage, got %v", err)
	}
}

func TestInlineStreamExpandsAbbreviations(t *testing.T) {
	d := raw.Dict()
	d.Put("W", raw.NumberInt(1))
	d.Put("CS", raw.NameLiteral("RGB"))
	d.Put("F", raw.NameLiteral("AHx"))
	st := InlineStream(d, []byte("ff0000>"))
	if cs, _ := raw.NameOf(st.Dict.KV["ColorSpace"]); cs != "DeviceRGB" {
		t.Fatalf("color space: %q", cs)
	}
	if f, _ := raw.NameOf(st.Dict.KV["Filter"]); f != "ASCIIHexDecode" {
		t.Fatalf("filter: %q", f)
	}
}
