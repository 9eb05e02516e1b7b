package document

import (
	"context"
	"strings"
	"unicode/utf16"

	"github.com/wudi/pdfstudio/ir/raw"
	"github.com/wudi/pdfstudio/observability"
	"github.com/wudi/pdfstudio/pages"
	"github.com/wudi/pdfstudio/security"
	"github.com/wudi/pdfstudio/writer"
)

const defaultProducer = "pdfstudio"

type exportOptions struct {
	algorithm *security.Algorithm
	compress  bool
	producer  string
	tracer    observability.Tracer
}

// ExportOption configures Export.
type ExportOption func(*exportOptions)

// WithEncryptionAlgorithm overrides the algorithm of doc.Protection.
func WithEncryptionAlgorithm(a security.Algorithm) ExportOption {
	return func(o *exportOptions) { o.algorithm = &a }
}

// WithoutCompression leaves streams as they are.
func WithoutCompression() ExportOption {
	return func(o *exportOptions) { o.compress = false }
}

func WithProducer(p string) ExportOption {
	return func(o *exportOptions) { o.producer = p }
}

func WithExportTracer(t observability.Tracer) ExportOption {
	return func(o *exportOptions) { o.tracer = t }
}

// Export serializes doc to PDF bytes. Only objects reachable from the
// exported pages are written, under a new catalog and a flat page tree.
func Export(ctx context.Context, doc *Document, opts ...ExportOption) ([]byte, error) {
	o := exportOptions{compress: true, producer: defaultProducer, tracer: observability.NopTracer()}
	for _, opt := range opts {
		opt(&o)
	}
	ctx, span := o.tracer.StartSpan(ctx, observability.SpanExport)
	defer span.Finish()
	span.SetTag("pages", len(doc.Pages))

	if len(doc.Pages) == 0 {
		return nil, ErrEmptyDocument
	}
	graph := BuildGraph(doc, o.producer)

	cfg := writer.Config{Version: doc.Version, Compress: o.compress, Deterministic: true}
	if doc.Protection != nil {
		alg := doc.Protection.Algorithm
		if o.algorithm != nil {
			alg = *o.algorithm
		}
		enc, err := doc.Protection.encryption(alg)
		if err != nil {
			span.SetError(err)
			return nil, err
		}
		cfg.Encryption = enc
		minVersion := "1.6"
		if alg == security.AlgorithmAES256 {
			minVersion = "1.7"
		}
		cfg.Version = atLeast(doc.Version, minVersion)
		span.SetTag("encryption", alg.String())
	}
	out, err := writer.New(cfg).Bytes(ctx, graph)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	span.SetTag("bytes", len(out))
	return out, nil
}

func atLeast(v, floor string) string {
	if v == "" || v < floor {
		return floor
	}
	return v
}

type objKey struct {
	doc *raw.Document
	ref raw.ObjectRef
}

type exporter struct {
	out      *raw.Document
	next     int
	pageRefs map[objKey]raw.RefObj
	copied   map[objKey]raw.RefObj
}

func (e *exporter) alloc() raw.RefObj {
	r := raw.Ref(e.next, 0)
	e.next++
	return r
}

// BuildGraph assembles the object graph Export writes.
func BuildGraph(doc *Document, producer string) *raw.Document {
	e := &exporter{
		out:      raw.NewDocument(doc.Version),
		next:     1,
		pageRefs: make(map[objKey]raw.RefObj),
		copied:   make(map[objKey]raw.RefObj),
	}
	catRef, rootRef := e.alloc(), e.alloc()

	refs := make([]raw.RefObj, len(doc.Pages))
	for i, p := range doc.Pages {
		refs[i] = e.alloc()
		k := objKey{p.Source.Doc, p.Source.Ref}
		if _, seen := e.pageRefs[k]; !seen && !p.Source.Ref.IsZero() {
			e.pageRefs[k] = refs[i]
		}
	}

	kids := raw.NewArray()
	for i, p := range doc.Pages {
		e.out.Objects[refs[i].R] = e.pageDict(p, rootRef)
		kids.Append(refs[i])
	}
	root := raw.Dict()
	root.Put("Type", raw.NameLiteral("Pages"))
	root.Put("Kids", kids)
	root.Put("Count", raw.NumberInt(int64(len(doc.Pages))))
	e.out.Objects[rootRef.R] = root

	cat := raw.Dict()
	cat.Put("Type", raw.NameLiteral("Catalog"))
	cat.Put("Pages", rootRef)
	e.out.Objects[catRef.R] = cat
	e.out.Trailer.Put("Root", catRef)

	if info := infoDict(doc.Info, producer); info != nil {
		ref := e.alloc()
		e.out.Objects[ref.R] = info
		e.out.Trailer.Put("Info", ref)
	}
	return e.out
}

func (e *exporter) pageDict(p *Page, parent raw.RefObj) *raw.DictObj {
	src := p.Source
	d := raw.Dict()
	for k, v := range src.Dict.KV {
		if k == "Parent" {
			continue
		}
		if c := e.copy(src.Doc, v); !isNull(c) {
			d.Put(k, c)
		}
	}
	d.Put("Type", raw.NameLiteral("Page"))
	d.Put("Parent", parent)
	if rot := pages.NormalizeRotation(src.Rotate + p.Rotation); rot != 0 {
		d.Put("Rotate", raw.NumberInt(int64(rot)))
	} else {
		d.Delete("Rotate")
	}
	return d
}

func (e *exporter) copy(doc *raw.Document, obj raw.Object) raw.Object {
	switch v := obj.(type) {
	case raw.RefObj:
		k := objKey{doc, v.R}
		if r, ok := e.pageRefs[k]; ok {
			return r
		}
		if r, ok := e.copied[k]; ok {
			return r
		}
		target := doc.Resolve(v)
		if isNull(target) || isPageNode(target) {
			return raw.NullObj{}
		}
		r := e.alloc()
		e.copied[k] = r
		e.out.Objects[r.R] = e.copyDirect(doc, target)
		return r
	case *raw.StreamObj:
		r := e.alloc()
		e.out.Objects[r.R] = e.copyDirect(doc, v)
		return r
	}
	return e.copyDirect(doc, obj)
}

func (e *exporter) copyDirect(doc *raw.Document, obj raw.Object) raw.Object {
	switch v := obj.(type) {
	case *raw.DictObj:
		if v == nil {
			return raw.NullObj{}
		}
		if isPageNode(v) {
			return raw.NullObj{}
		}
		return e.copyDict(doc, v)
	case *raw.ArrayObj:
		out := raw.NewArray()
		for _, it := range v.Items {
			out.Append(e.copy(doc, it))
		}
		return out
	case *raw.StreamObj:
		dict := raw.Dict()
		if v.Dict != nil {
			dict = e.copyDict(doc, v.Dict)
		}
		return raw.NewStream(dict, v.Data)
	case nil:
		return raw.NullObj{}
	}
	return raw.Clone(obj)
}

func (e *exporter) copyDict(doc *raw.Document, d *raw.DictObj) *raw.DictObj {
	out := raw.Dict()
	for k, val := range d.KV {
		if c := e.copy(doc, val); !isNull(c) {
			out.Put(k, c)
		}
	}
	return out
}

func isNull(o raw.Object) bool {
	_, ok := o.(raw.NullObj)
	return ok || o == nil
}

func isPageNode(o raw.Object) bool {
	d, ok := o.(*raw.DictObj)
	if !ok {
		return false
	}
	typ, _ := raw.NameOf(d.KV["Type"])
	return typ == "Page" || typ == "Pages"
}

func infoDict(info Info, producer string) *raw.DictObj {
	d := raw.Dict()
	put := func(key, val string) {
		if val != "" {
			d.Put(key, raw.Str(EncodeTextString(val)))
		}
	}
	put("Title", info.Title)
	put("Author", info.Author)
	put("Subject", info.Subject)
	put("Keywords", strings.Join(info.Keywords, ", "))
	put("Creator", info.Creator)
	if producer != "" {
		put("Producer", producer)
	} else {
		put("Producer", info.Producer)
	}
	if d.Len() == 0 {
		return nil
	}
	return d
}

// EncodeTextString encodes s as PDFDocEncoding when it is printable
// Latin-1, and as UTF-16BE with a byte order mark otherwise.
func EncodeTextString(s string) []byte {
	latin := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xFF || (r < 0x20 && r != '\n' && r != '\r' && r != '\t') {
			latin = nil
			break
		}
		latin = append(latin, byte(r))
	}
	if latin != nil || s == "" {
		return latin
	}
	u := utf16.Encode([]rune(s))
	out := make([]byte, 2, 2+2*len(u))
	out[0], out[1] = 0xFE, 0xFF
	for _, c := range u {
		out = append(out, byte(c>>8), byte(c))
	}
	return out
}
