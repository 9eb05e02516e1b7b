package optimize

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"math"

	"golang.org/x/image/draw"

	"github.com/wudi/pdfstudio/contentstream"
	"github.com/wudi/pdfstudio/coords"
	"github.com/wudi/pdfstudio/ir/raw"
	"github.com/wudi/pdfstudio/pages"
	"github.com/wudi/pdfstudio/render"
)

type imageUsage struct {
	maxWidth  float64 // in points
	maxHeight float64 // in points
}

func (o *Optimizer) optimizeImages(ctx context.Context, doc *raw.Document, srcs []*pages.Source, st *Stats) error {
	usage := o.collectImageUsage(ctx, srcs)
	for _, ref := range doc.Refs() {
		if err := ctx.Err(); err != nil {
			return err
		}
		s, ok := doc.Objects[ref].(*raw.StreamObj)
		if !ok || !isImage(s) {
			continue
		}
		st.Images++
		next, resized, err := o.processImage(ctx, doc, s, usage[ref])
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		if next != nil {
			doc.Objects[ref] = next
			st.Reencoded++
			if resized {
				st.Resized++
			}
		}
	}
	return nil
}

// collectImageUsage records the largest size, in points, each indirect image
// is drawn at directly from a page.
func (o *Optimizer) collectImageUsage(ctx context.Context, srcs []*pages.Source) map[raw.ObjectRef]imageUsage {
	usage := make(map[raw.ObjectRef]imageUsage)
	for _, src := range srcs {
		data, err := src.Contents(ctx, o.pipeline)
		if err != nil {
			continue
		}
		ops, err := contentstream.Parse(data)
		if err != nil {
			continue
		}
		res := src.Resources()
		if res == nil {
			continue
		}
		xobjects, _ := src.Doc.Resolve(res.KV["XObject"]).(*raw.DictObj)
		if xobjects == nil {
			continue
		}
		for _, m := range contentstream.Trace(ops, coords.Identity()) {
			if m.Kind != contentstream.MarkXObject {
				continue
			}
			ref, ok := xobjects.KV[m.Name].(raw.RefObj)
			if !ok {
				continue
			}
			w := math.Hypot(m.CTM[0], m.CTM[1])
			h := math.Hypot(m.CTM[2], m.CTM[3])
			cur := usage[ref.R]
			cur.maxWidth = math.Max(cur.maxWidth, w)
			cur.maxHeight = math.Max(cur.maxHeight, h)
			usage[ref.R] = cur
		}
	}
	return usage
}

var errSkip = errors.New("image kept as is")

// processImage returns a JPEG replacement for s, or nil when the original is
// already as small.
func (o *Optimizer) processImage(ctx context.Context, doc *raw.Document, s *raw.StreamObj, use imageUsage) (*raw.StreamObj, bool, error) {
	if m, ok := doc.Resolve(s.Dict.KV["ImageMask"]).(raw.BoolObj); ok && m.V {
		return nil, false, errSkip
	}
	w, _ := raw.IntOf(doc.Resolve(s.Dict.KV["Width"]))
	h, _ := raw.IntOf(doc.Resolve(s.Dict.KV["Height"]))
	targetW, targetH, resize := o.targetSize(int(w), int(h), use)
	isJPEG := hasFilter(s.Dict, "DCTDecode")
	if isJPEG && !resize && o.config.ImageQuality >= 90 {
		return nil, false, errSkip
	}

	dec, err := render.DecodeImage(ctx, doc, o.pipeline, s)
	if err != nil {
		return nil, false, err
	}
	img := dec.Img
	if resize {
		dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
		img = dst
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: o.config.ImageQuality}); err != nil {
		return nil, false, err
	}
	if buf.Len() >= len(s.Data) {
		return nil, false, nil
	}

	d := s.Dict.Copy()
	for _, k := range []string{"Filter", "DecodeParms", "Decode", "Length", "ColorSpace", "BitsPerComponent"} {
		d.Delete(k)
	}
	d.Put("Filter", raw.NameLiteral("DCTDecode"))
	d.Put("Width", raw.NumberInt(int64(img.Bounds().Dx())))
	d.Put("Height", raw.NumberInt(int64(img.Bounds().Dy())))
	d.Put("BitsPerComponent", raw.NumberInt(8))
	if isGray(img) {
		d.Put("ColorSpace", raw.NameLiteral("DeviceGray"))
	} else {
		d.Put("ColorSpace", raw.NameLiteral("DeviceRGB"))
	}
	return raw.NewStream(d, buf.Bytes()), resize, nil
}

// targetSize caps w×h at ImageUpperPPI for the largest drawn size, with a
// 20% allowance before resampling.
func (o *Optimizer) targetSize(w, h int, use imageUsage) (int, int, bool) {
	if o.config.ImageUpperPPI <= 0 || use.maxWidth <= 0 || use.maxHeight <= 0 || w <= 0 || h <= 0 {
		return w, h, false
	}
	maxW := o.config.ImageUpperPPI * use.maxWidth / 72
	maxH := o.config.ImageUpperPPI * use.maxHeight / 72
	if float64(w) <= maxW*1.2 && float64(h) <= maxH*1.2 {
		return w, h, false
	}
	scale := math.Min(maxW/float64(w), maxH/float64(h))
	return max(1, int(math.Round(float64(w)*scale))), max(1, int(math.Round(float64(h)*scale))), true
}

func isImage(s *raw.StreamObj) bool {
	sub, _ := raw.NameOf(s.Dict.KV["Subtype"])
	return sub == "Image"
}

func hasFilter(d *raw.DictObj, name string) bool {
	switch v := d.KV["Filter"].(type) {
	case raw.NameObj:
		return v.Val == name
	case *raw.ArrayObj:
		for _, it := range v.Items {
			if n, _ := raw.NameOf(it); n == name {
				return true
			}
		}
	}
	return false
}

func isGray(img image.Image) bool {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return true
	}
	return false
}
