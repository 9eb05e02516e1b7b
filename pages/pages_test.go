package pages

import (
	"context"
	"errors"
	"testing"

	"github.com/wudi/pdfstudio/filters"
	"github.com/wudi/pdfstudio/ir/raw"
)

// treeDoc builds catalog 1, root Pages 2 (MediaBox A4, Rotate 90), an
// intermediate node 3 carrying Resources, and leaves 4, 5, 6.
func treeDoc() *raw.Document {
	doc := raw.NewDocument("1.7")
	put := func(n int, o raw.Object) { doc.Objects[raw.ObjectRef{Num: n}] = o }

	cat := raw.Dict()
	cat.Put("Type", raw.NameLiteral("Catalog"))
	cat.Put("Pages", raw.Ref(2, 0))
	put(1, cat)

	root := raw.Dict()
	root.Put("Type", raw.NameLiteral("Pages"))
	root.Put("Kids", raw.NewArray(raw.Ref(3, 0), raw.Ref(6, 0)))
	root.Put("MediaBox", raw.Rect(0, 0, 595, 842))
	root.Put("Rotate", raw.NumberInt(90))
	put(2, root)

	mid := raw.Dict()
	mid.Put("Type", raw.NameLiteral("Pages"))
	mid.Put("Parent", raw.Ref(2, 0))
	mid.Put("Kids", raw.NewArray(raw.Ref(4, 0), raw.Ref(5, 0)))
	res := raw.Dict()
	res.Put("ProcSet", raw.NewArray(raw.NameLiteral("PDF")))
	mid.Put("Resources", res)
	put(3, mid)

	for _, n := range []int{4, 5, 6} {
		p := raw.Dict()
		p.Put("Type", raw.NameLiteral("Page"))
		p.Put("Parent", raw.Ref(2, 0))
		put(n, p)
	}
	leaf5 := doc.Objects[raw.ObjectRef{Num: 5}].(*raw.DictObj)
	leaf5.Put("MediaBox", raw.Rect(0, 0, 200, 100))
	leaf5.Put("Rotate", raw.NumberInt(-90))
	leaf5.Put("Contents", raw.Ref(7, 0))
	put(7, raw.NewStream(raw.Dict(), []byte("0 0 10 10 re f")))

	doc.Trailer.Put("Root", raw.Ref(1, 0))
	return doc
}

func TestCollectInheritance(t *testing.T) {
	doc := treeDoc()
	srcs, err := Collect(doc)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(srcs) != 3 {
		t.Fatalf("expected 3 pages, got %d", len(srcs))
	}
	wantNums := []int{4, 5, 6}
	for i, s := range srcs {
		if s.Ref.Num != wantNums[i] {
			t.Fatalf("page %d: ref %v", i, s.Ref)
		}
		if _, ok := s.Dict.KV["Parent"]; ok {
			t.Fatalf("page %d still has /Parent", i)
		}
	}
	if srcs[0].MediaBox != (Rect{0, 0, 595, 842}) || srcs[0].Rotate != 90 {
		t.Fatalf("inherited attrs: %+v rotate %d", srcs[0].MediaBox, srcs[0].Rotate)
	}
	if srcs[0].Resources() == nil || srcs[2].Resources() != nil {
		t.Fatalf("resources should come from the intermediate node only")
	}
	if srcs[1].MediaBox != (Rect{0, 0, 200, 100}) || srcs[1].Rotate != 270 {
		t.Fatalf("own attrs: %+v rotate %d", srcs[1].MediaBox, srcs[1].Rotate)
	}
	if _, ok := doc.Objects[raw.ObjectRef{Num: 4}].(*raw.DictObj).KV["MediaBox"]; ok {
		t.Fatalf("source page dictionary was modified")
	}
}

func TestCollectDetectsCycle(t *testing.T) {
	doc := treeDoc()
	mid := doc.Objects[raw.ObjectRef{Num: 3}].(*raw.DictObj)
	mid.Put("Kids", raw.NewArray(raw.Ref(2, 0)))
	if _, err := Collect(doc); !errors.Is(err, ErrTreeCycle) {
		t.Fatalf("expected ErrTreeCycle, got %v", err)
	}
}

func TestCollectWithoutPages(t *testing.T) {
	doc := raw.NewDocument("1.4")
	cat := raw.Dict()
	doc.Objects[raw.ObjectRef{Num: 1}] = cat
	doc.Trailer.Put("Root", raw.Ref(1, 0))
	if _, err := Collect(doc); !errors.Is(err, ErrNoPageTree) {
		t.Fatalf("expected ErrNoPageTree, got %v", err)
	}
}

func TestDisplaySize(t *testing.T) {
	s := &Source{CropBox: Rect{0, 0, 200, 100}}
	cases := []struct {
		own, extra int
		w, h       float64
	}{
		{0, 0, 200, 100},
		{0, 90, 100, 200},
		{90, 90, 200, 100},
		{270, 0, 100, 200},
	}
	for _, tc := range cases {
		s.Rotate = tc.own
		if w, h := s.DisplaySize(tc.extra); w != tc.w || h != tc.h {
			t.Fatalf("own %d extra %d: got %vx%v", tc.own, tc.extra, w, h)
		}
	}
}

func TestNormalizeRotation(t *testing.T) {
	for in, want := range map[int]int{0: 0, 90: 90, 360: 0, -90: 270, 450: 90, -720: 0, 100: 90} {
		if got := NormalizeRotation(in); got != want {
			t.Fatalf("%d: got %d want %d", in, got, want)
		}
	}
}

func TestRectFromNormalizes(t *testing.T) {
	r, ok := RectFrom(raw.Rect(100, 200, 0, 0))
	if !ok || r != (Rect{0, 0, 100, 200}) {
		t.Fatalf("got %+v %v", r, ok)
	}
	if _, ok := RectFrom(raw.Rect(0, 0, 0, 10)); ok {
		t.Fatalf("degenerate rect accepted")
	}
}

func TestContents(t *testing.T) {
	srcs, err := Collect(treeDoc())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	data, err := srcs[1].Contents(context.Background(), filters.Default(filters.DefaultLimits()))
	if err != nil {
		t.Fatalf("contents: %v", err)
	}
	if string(data) != "0 0 10 10 re f\n" {
		t.Fatalf("contents: %q", data)
	}
}

func TestOverlayEdit(t *testing.T) {
	doc := treeDoc()
	before := len(doc.Objects)
	srcs, _ := Collect(doc)

	ov := NewOverlay(doc)
	edit := ov.Edit(srcs[1])
	gs := raw.Dict()
	name := edit.AddResource("ExtGState", "GS", ov.Add(gs))
	if again := edit.AddResource("ExtGState", "GS", raw.Dict()); again == name {
		t.Fatalf("resource name reused: %s", again)
	}
	out := edit.Finish([]byte("/GS gs\n"))

	if len(doc.Objects) != before {
		t.Fatalf("base document gained objects")
	}
	if out.Doc != ov.Doc() || out.Ref != srcs[1].Ref {
		t.Fatalf("edited page not bound to overlay document")
	}
	arr := out.Dict.KV["Contents"].(*raw.ArrayObj)
	if arr.Len() != 3 {
		t.Fatalf("expected q, original, overlay streams; got %d", arr.Len())
	}
	data, err := out.Contents(context.Background(), filters.Default(filters.DefaultLimits()))
	if err != nil {
		t.Fatalf("contents: %v", err)
	}
	if string(data) != "q\n\n0 0 10 10 re f\nQ\n/GS gs\n\n" {
		t.Fatalf("wrapped contents: %q", data)
	}
	if _, ok := srcs[1].Dict.KV["Contents"].(raw.RefObj); !ok {
		t.Fatalf("original page dictionary changed")
	}
}

func TestOverlaySplicesReferencedContentArray(t *testing.T) {
	doc := treeDoc()
	leaf := doc.Objects[raw.ObjectRef{Num: 5}].(*raw.DictObj)
	leaf.Put("Contents", raw.Ref(8, 0))
	doc.Objects[raw.ObjectRef{Num: 8}] = raw.NewArray(raw.Ref(7, 0), raw.Ref(9, 0))
	doc.Objects[raw.ObjectRef{Num: 9}] = raw.NewStream(raw.Dict(), []byte("1 0 0 rg"))
	srcs, err := Collect(doc)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}

	out := NewOverlay(doc).Edit(srcs[1]).Finish([]byte("0 g\n"))
	arr := out.Dict.KV["Contents"].(*raw.ArrayObj)
	if arr.Len() != 4 {
		t.Fatalf("expected q, two original streams and overlay; got %d items", arr.Len())
	}
	for i, it := range arr.Items {
		if _, ok := out.Doc.Resolve(it).(*raw.StreamObj); !ok {
			t.Fatalf("contents[%d] is %T, not a stream", i, out.Doc.Resolve(it))
		}
	}
	data, err := out.Contents(context.Background(), filters.Default(filters.DefaultLimits()))
	if err != nil {
		t.Fatalf("contents: %v", err)
	}
	if string(data) != "q\n\n0 0 10 10 re f\n1 0 0 rg\nQ\n0 g\n\n" {
		t.Fatalf("wrapped contents: %q", data)
	}
}
