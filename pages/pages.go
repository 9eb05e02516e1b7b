package pages

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/wudi/pdfstudio/filters"
	"github.com/wudi/pdfstudio/ir/raw"
)

var (
	ErrNoPageTree = errors.New("document has no page tree")
	ErrTreeCycle  = errors.New("page tree contains a cycle")
)

const maxTreeDepth = 64

// Letter is used when neither a page nor its ancestors declare a MediaBox.
var Letter = Rect{0, 0, 612, 792}

type Rect struct {
	LLX, LLY, URX, URY float64
}

func (r Rect) Width() float64  { return r.URX - r.LLX }
func (r Rect) Height() float64 { return r.URY - r.LLY }

// Array returns r as a PDF rectangle.
func (r Rect) Array() *raw.ArrayObj { return raw.Rect(r.LLX, r.LLY, r.URX, r.URY) }

// RectFrom reads a four-number array, normalizing the corner order.
func RectFrom(obj raw.Object) (Rect, bool) {
	v, ok := raw.Floats(obj)
	if !ok || len(v) != 4 {
		return Rect{}, false
	}
	r := Rect{v[0], v[1], v[2], v[3]}
	if r.LLX > r.URX {
		r.LLX, r.URX = r.URX, r.LLX
	}
	if r.LLY > r.URY {
		r.LLY, r.URY = r.URY, r.LLY
	}
	if r.Width() == 0 || r.Height() == 0 {
		return Rect{}, false
	}
	return r, true
}

// Source is an immutable reference to one page of a loaded object graph.
// Dict is a flattened copy of the page dictionary: inherited attributes are
// explicit and /Parent is removed.
type Source struct {
	Doc      *raw.Document
	Ref      raw.ObjectRef
	Dict     *raw.DictObj
	MediaBox Rect
	CropBox  Rect
	Rotate   int
}

type inherited struct {
	mediaBox  raw.Object
	cropBox   raw.Object
	rotate    raw.Object
	resources raw.Object
}

// Collect flattens the page tree of doc in document order.
func Collect(doc *raw.Document) ([]*Source, error) {
	cat, ok := doc.Catalog()
	if !ok {
		return nil, ErrNoPageTree
	}
	root, ok := cat.KV["Pages"].(raw.RefObj)
	if !ok {
		if _, direct := cat.KV["Pages"].(*raw.DictObj); !direct {
			return nil, ErrNoPageTree
		}
	}
	var out []*Source
	visited := make(map[raw.ObjectRef]bool)
	if err := walk(doc, cat.KV["Pages"], root.R, inherited{}, visited, 0, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func walk(doc *raw.Document, node raw.Object, ref raw.ObjectRef, inh inherited, visited map[raw.ObjectRef]bool, depth int, out *[]*Source) error {
	if depth > maxTreeDepth {
		return fmt.Errorf("%w: deeper than %d", ErrTreeCycle, maxTreeDepth)
	}
	if r, ok := node.(raw.RefObj); ok {
		if visited[r.R] {
			return fmt.Errorf("%w at %s", ErrTreeCycle, r.R)
		}
		visited[r.R] = true
		ref = r.R
	}
	dict, ok := doc.Resolve(node).(*raw.DictObj)
	if !ok {
		return nil
	}
	if v, ok := dict.KV["MediaBox"]; ok {
		inh.mediaBox = v
	}
	if v, ok := dict.KV["CropBox"]; ok {
		inh.cropBox = v
	}
	if v, ok := dict.KV["Rotate"]; ok {
		inh.rotate = v
	}
	if v, ok := dict.KV["Resources"]; ok {
		inh.resources = v
	}

	typ, _ := raw.NameOf(dict.KV["Type"])
	kids, hasKids := raw.ArrayOf(doc.Resolve(dict.KV["Kids"]))
	if typ == "Page" || (typ != "Pages" && !hasKids) {
		*out = append(*out, newSource(doc, ref, dict, inh))
		return nil
	}
	if !hasKids {
		return nil
	}
	for _, kid := range kids.Items {
		if err := walk(doc, kid, raw.ObjectRef{}, inh, visited, depth+1, out); err != nil {
			return err
		}
	}
	return nil
}

func newSource(doc *raw.Document, ref raw.ObjectRef, dict *raw.DictObj, inh inherited) *Source {
	flat := dict.Copy()
	flat.Delete("Parent")
	src := &Source{Doc: doc, Ref: ref, Dict: flat, MediaBox: Letter}

	if r, ok := RectFrom(doc.Resolve(inh.mediaBox)); ok {
		src.MediaBox = r
	}
	flat.Put("MediaBox", src.MediaBox.Array())
	src.CropBox = src.MediaBox
	if r, ok := RectFrom(doc.Resolve(inh.cropBox)); ok {
		src.CropBox = intersect(r, src.MediaBox)
		flat.Put("CropBox", src.CropBox.Array())
	}
	if n, ok := raw.IntOf(doc.Resolve(inh.rotate)); ok {
		src.Rotate = NormalizeRotation(int(n))
	}
	if src.Rotate != 0 {
		flat.Put("Rotate", raw.NumberInt(int64(src.Rotate)))
	} else {
		flat.Delete("Rotate")
	}
	if inh.resources != nil {
		flat.Put("Resources", inh.resources)
	}
	return src
}

func intersect(a, b Rect) Rect {
	r := Rect{max(a.LLX, b.LLX), max(a.LLY, b.LLY), min(a.URX, b.URX), min(a.URY, b.URY)}
	if r.Width() <= 0 || r.Height() <= 0 {
		return b
	}
	return r
}

// NormalizeRotation maps any multiple-of-90 angle into {0, 90, 180, 270}.
// Other values are rounded down to the nearest quarter turn.
func NormalizeRotation(deg int) int {
	deg = ((deg % 360) + 360) % 360
	return deg - deg%90
}

// DisplaySize returns the visible width and height after applying the
// page's own rotation plus extra.
func (s *Source) DisplaySize(extra int) (float64, float64) {
	w, h := s.CropBox.Width(), s.CropBox.Height()
	if r := NormalizeRotation(s.Rotate + extra); r == 90 || r == 270 {
		return h, w
	}
	return w, h
}

// Resources returns the resolved resource dictionary, or nil.
func (s *Source) Resources() *raw.DictObj {
	d, _ := s.Doc.Resolve(s.Dict.KV["Resources"]).(*raw.DictObj)
	return d
}

// ContentStreams returns the page's content streams in order.
func (s *Source) ContentStreams() []*raw.StreamObj {
	var out []*raw.StreamObj
	switch v := s.Doc.Resolve(s.Dict.KV["Contents"]).(type) {
	case *raw.StreamObj:
		out = append(out, v)
	case *raw.ArrayObj:
		for _, it := range v.Items {
			if st, ok := s.Doc.Resolve(it).(*raw.StreamObj); ok {
				out = append(out, st)
			}
		}
	}
	return out
}

// Contents decodes and concatenates the content streams. Streams that fail
// to decode are skipped.
func (s *Source) Contents(ctx context.Context, p *filters.Pipeline) ([]byte, error) {
	var buf bytes.Buffer
	for _, st := range s.ContentStreams() {
		data, err := p.DecodeStream(ctx, st)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// WithDoc returns a copy of s bound to doc, which must contain every object
// s refers to.
func (s *Source) WithDoc(doc *raw.Document) *Source {
	cp := *s
	cp.Doc = doc
	return &cp
}
