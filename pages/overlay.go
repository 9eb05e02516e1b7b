package pages

import (
	"fmt"

	"github.com/wudi/pdfstudio/ir/raw"
)

// Overlay adds objects to a private copy of a source document so pages can
// gain new content without touching the loaded graph.
type Overlay struct {
	doc  *raw.Document
	next int
}

func NewOverlay(base *raw.Document) *Overlay {
	return &Overlay{doc: base.ShallowCopy(), next: base.MaxObjectNum() + 1}
}

// Doc returns the extended document.
func (o *Overlay) Doc() *raw.Document { return o.doc }

// Add stores obj under a fresh object number.
func (o *Overlay) Add(obj raw.Object) raw.RefObj {
	ref := raw.Ref(o.next, 0)
	o.next++
	o.doc.Objects[ref.R] = obj
	return ref
}

// PageEdit accumulates resources and content for one page.
type PageEdit struct {
	o   *Overlay
	src *Source
	res *raw.DictObj
}

// Edit starts editing src, which must belong to the overlay's base document.
func (o *Overlay) Edit(src *Source) *PageEdit {
	res := raw.Dict()
	if r := src.WithDoc(o.doc).Resources(); r != nil {
		res = r.Copy()
	}
	return &PageEdit{o: o, src: src, res: res}
}

// AddResource registers obj in the given resource category under an unused
// name starting with prefix and returns the name.
func (e *PageEdit) AddResource(category, prefix string, obj raw.Object) string {
	sub := raw.Dict()
	if existing, ok := e.o.doc.Resolve(e.res.KV[category]).(*raw.DictObj); ok {
		sub = existing.Copy()
	}
	name := prefix
	for i := 1; ; i++ {
		if _, taken := sub.KV[name]; !taken {
			break
		}
		name = fmt.Sprintf("%s%d", prefix, i)
	}
	sub.Put(name, obj)
	e.res.Put(category, sub)
	return name
}

// Finish wraps the existing content in q/Q, appends content after it and
// returns the edited page.
func (e *PageEdit) Finish(content []byte) *Source {
	open := e.o.Add(raw.NewStream(raw.Dict(), []byte("q\n")))
	closeAndDraw := append([]byte("Q\n"), content...)
	tail := e.o.Add(raw.NewStream(raw.Dict(), closeAndDraw))

	arr := raw.NewArray(open)
	contents := e.src.Dict.KV["Contents"]
	if ref, ok := contents.(raw.RefObj); ok {
		if items, ok := e.o.doc.Resolve(ref).(*raw.ArrayObj); ok {
			contents = items
		}
	}
	switch v := contents.(type) {
	case raw.RefObj:
		arr.Append(v)
	case *raw.StreamObj:
		arr.Append(e.o.Add(v))
	case *raw.ArrayObj:
		for _, it := range v.Items {
			if st, ok := it.(*raw.StreamObj); ok {
				arr.Append(e.o.Add(st))
				continue
			}
			arr.Append(it)
		}
	}
	arr.Append(tail)

	dict := e.src.Dict.Copy()
	dict.Put("Contents", arr)
	dict.Put("Resources", e.res)
	out := e.src.WithDoc(e.o.doc)
	out.Dict = dict
	return out
}
