package optimize

import (
	"context"

	"github.com/wudi/pdfstudio/filters"
	"github.com/wudi/pdfstudio/ir/raw"
)

// compressStreams Flate-encodes streams stored without a filter. The result
// replaces the original only when it is smaller.
func (o *Optimizer) compressStreams(ctx context.Context, doc *raw.Document, st *Stats) error {
	for _, ref := range doc.Refs() {
		if err := ctx.Err(); err != nil {
			return err
		}
		s, ok := doc.Objects[ref].(*raw.StreamObj)
		if !ok || s.Dict == nil {
			continue
		}
		if _, filtered := s.Dict.KV["Filter"]; filtered {
			continue
		}
		packed, err := filters.Flate(s.Data)
		if err != nil || len(packed) >= len(s.Data) {
			continue
		}
		d := s.Dict.Copy()
		d.Put("Filter", raw.NameLiteral("FlateDecode"))
		d.Put("Length", raw.NumberInt(int64(len(packed))))
		d.Delete("DecodeParms")
		doc.Objects[ref] = raw.NewStream(d, packed)
		st.Compressed++
	}
	return nil
}

// stripMetadata drops XMP metadata streams and their references.
func stripMetadata(doc *raw.Document) {
	drop := make(map[raw.ObjectRef]bool)
	for _, ref := range doc.Refs() {
		if s, ok := doc.Objects[ref].(*raw.StreamObj); ok {
			if typ, _ := raw.NameOf(s.Dict.KV["Type"]); typ == "Metadata" {
				drop[ref] = true
			}
		}
	}
	for ref := range drop {
		delete(doc.Objects, ref)
	}
	for _, ref := range doc.Refs() {
		switch v := doc.Objects[ref].(type) {
		case *raw.DictObj:
			if hasMetadataKeys(v) {
				doc.Objects[ref] = stripKeys(v)
			}
		case *raw.StreamObj:
			if hasMetadataKeys(v.Dict) {
				doc.Objects[ref] = raw.NewStream(stripKeys(v.Dict), v.Data)
			}
		}
	}
}

var metadataKeys = []string{"Metadata", "PieceInfo"}

func hasMetadataKeys(d *raw.DictObj) bool {
	if d == nil {
		return false
	}
	for _, k := range metadataKeys {
		if _, ok := d.KV[k]; ok {
			return true
		}
	}
	return false
}

func stripKeys(d *raw.DictObj) *raw.DictObj {
	if !hasMetadataKeys(d) {
		return d
	}
	out := d.Copy()
	for _, k := range metadataKeys {
		out.Delete(k)
	}
	return out
}
