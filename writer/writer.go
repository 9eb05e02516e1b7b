package writer

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/wudi/pdfstudio/filters"
	"github.com/wudi/pdfstudio/ir/raw"
	"github.com/wudi/pdfstudio/security"
)

var ErrNoCatalog = errors.New("document has no catalog")

type Config struct {
	// Version defaults to the document's header version, then "1.7".
	Version string
	// Compress Flate-encodes unfiltered streams when that makes them smaller.
	Compress bool
	// Deterministic derives /ID from content instead of random bytes.
	Deterministic bool
	// ID overrides the trailer /ID pair.
	ID [2][]byte
	// Encryption protects the output with the standard security handler.
	Encryption *security.EncryptionConfig
}

type Writer struct {
	cfg Config
}

func New(cfg Config) *Writer { return &Writer{cfg: cfg} }

// Bytes serializes doc into a new buffer.
func (w *Writer) Bytes(ctx context.Context, doc *raw.Document) ([]byte, error) {
	var buf bytes.Buffer
	if err := w.Write(ctx, doc, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write emits doc with a classic xref table. Objects are written in object
// number order; doc is not modified.
func (w *Writer) Write(ctx context.Context, doc *raw.Document, out io.Writer) error {
	rootRef, ok := doc.Trailer.KV["Root"].(raw.RefObj)
	if !ok {
		return ErrNoCatalog
	}
	if _, ok := doc.Objects[rootRef.R].(*raw.DictObj); !ok {
		return ErrNoCatalog
	}

	refs := doc.Refs()
	prepared := make(map[raw.ObjectRef]raw.Object, len(refs))
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return err
		}
		obj, err := w.prepare(doc.Objects[ref])
		if err != nil {
			return fmt.Errorf("prepare %s: %w", ref, err)
		}
		prepared[ref] = obj
	}

	ids := w.cfg.ID
	if len(ids[0]) == 0 {
		var err error
		if ids, err = w.fileID(refs, prepared); err != nil {
			return err
		}
	}

	var (
		handler security.Handler
		encRef  raw.ObjectRef
	)
	if enc := w.cfg.Encryption; enc != nil && enc.Retain != nil {
		ids[0] = enc.Retain.FileID
	}
	if w.cfg.Encryption != nil {
		ecfg := *w.cfg.Encryption
		ecfg.FileID = ids[0]
		h, dict, err := security.NewEncryption(ecfg)
		if err != nil {
			return fmt.Errorf("encryption setup: %w", err)
		}
		handler = h
		encRef = raw.ObjectRef{Num: doc.MaxObjectNum() + 1}
		prepared[encRef] = dict
		refs = append(refs, encRef)
	}

	version := w.cfg.Version
	if version == "" {
		version = doc.Version
	}
	if version == "" {
		version = "1.7"
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%%PDF-%s\n%%\xE2\xE3\xCF\xD3\n", version)
	offsets := make(map[int]int64, len(refs))
	maxNum := 0
	for _, ref := range refs {
		obj := prepared[ref]
		if handler != nil && ref != encRef {
			var err error
			if obj, err = encryptObject(handler, ref, obj); err != nil {
				return fmt.Errorf("encrypt %s: %w", ref, err)
			}
		}
		offsets[ref.Num] = int64(buf.Len())
		fmt.Fprintf(&buf, "%d %d obj\n", ref.Num, ref.Gen)
		buf.Write(appendObject(nil, obj, handler != nil))
		buf.WriteString("\nendobj\n")
		if ref.Num > maxNum {
			maxNum = ref.Num
		}
	}

	xrefOffset := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", maxNum+1)
	buf.WriteString("0000000000 65535 f \n")
	gens := make(map[int]int, len(refs))
	for _, ref := range refs {
		gens[ref.Num] = ref.Gen
	}
	for i := 1; i <= maxNum; i++ {
		if off, ok := offsets[i]; ok {
			fmt.Fprintf(&buf, "%010d %05d n \n", off, gens[i])
		} else {
			buf.WriteString("0000000000 00001 f \n")
		}
	}

	trailer := raw.Dict()
	trailer.Put("Size", raw.NumberInt(int64(maxNum+1)))
	trailer.Put("Root", rootRef)
	if info, ok := doc.Trailer.KV["Info"].(raw.RefObj); ok {
		if _, exists := doc.Objects[info.R]; exists {
			trailer.Put("Info", info)
		}
	}
	trailer.Put("ID", raw.NewArray(raw.HexStr(ids[0]), raw.HexStr(ids[1])))
	if handler != nil {
		trailer.Put("Encrypt", raw.RefObj{R: encRef})
	}
	buf.WriteString("trailer\n")
	buf.Write(appendObject(nil, trailer, false))
	fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)

	_, err := out.Write(buf.Bytes())
	return err
}

// prepare returns the object as it will be written: streams get an exact
// /Length and, when configured, Flate compression.
func (w *Writer) prepare(obj raw.Object) (raw.Object, error) {
	s, ok := obj.(*raw.StreamObj)
	if !ok {
		return obj, nil
	}
	dict := s.Dict.Copy()
	data := s.Data
	if w.cfg.Compress && len(data) > 0 {
		if _, filtered := dict.KV["Filter"]; !filtered {
			comp, err := filters.Flate(data)
			if err != nil {
				return nil, err
			}
			if len(comp) < len(data) {
				data = comp
				dict.Put("Filter", raw.NameLiteral("FlateDecode"))
				dict.Delete("DecodeParms")
			}
		}
	}
	dict.Put("Length", raw.NumberInt(int64(len(data))))
	return raw.NewStream(dict, data), nil
}

func (w *Writer) fileID(refs []raw.ObjectRef, objs map[raw.ObjectRef]raw.Object) ([2][]byte, error) {
	if w.cfg.Deterministic {
		h := sha256.New()
		for _, ref := range refs {
			fmt.Fprintf(h, "%d %d obj ", ref.Num, ref.Gen)
			h.Write(appendObject(nil, objs[ref], false))
		}
		sum := h.Sum(nil)[:16]
		return [2][]byte{sum, append([]byte(nil), sum...)}, nil
	}
	id := make([]byte, 16)
	if _, err := rand.Read(id); err != nil {
		return [2][]byte{}, err
	}
	return [2][]byte{id, append([]byte(nil), id...)}, nil
}

func encryptObject(h security.Handler, ref raw.ObjectRef, obj raw.Object) (raw.Object, error) {
	switch v := obj.(type) {
	case raw.StringObj:
		b, err := h.Encrypt(ref, v.Bytes, security.DataClassString)
		if err != nil {
			return nil, err
		}
		return raw.HexStr(b), nil
	case *raw.ArrayObj:
		arr := &raw.ArrayObj{Items: make([]raw.Object, len(v.Items))}
		for i, it := range v.Items {
			e, err := encryptObject(h, ref, it)
			if err != nil {
				return nil, err
			}
			arr.Items[i] = e
		}
		return arr, nil
	case *raw.DictObj:
		d := raw.Dict()
		for k, it := range v.KV {
			e, err := encryptObject(h, ref, it)
			if err != nil {
				return nil, err
			}
			d.KV[k] = e
		}
		return d, nil
	case *raw.StreamObj:
		class := security.DataClassStream
		if typ, _ := raw.NameOf(v.Dict.KV["Type"]); typ == "Metadata" {
			class = security.DataClassMetadataStream
		}
		data, err := h.Encrypt(ref, v.Data, class)
		if err != nil {
			return nil, err
		}
		dictObj, err := encryptObject(h, ref, v.Dict)
		if err != nil {
			return nil, err
		}
		dict := dictObj.(*raw.DictObj)
		dict.Put("Length", raw.NumberInt(int64(len(data))))
		return raw.NewStream(dict, data), nil
	}
	return obj, nil
}
