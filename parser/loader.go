package parser

import (
	"context"
	"errors"
	"fmt"

	"github.com/wudi/pdfstudio/filters"
	"github.com/wudi/pdfstudio/ir/raw"
	"github.com/wudi/pdfstudio/scanner"
	"github.com/wudi/pdfstudio/security"
	"github.com/wudi/pdfstudio/xref"
)

var errOffsetMismatch = errors.New("xref offset does not point at object")

// objectLoader reads objects named by an xref table. Objects are decrypted as
// they are read; members of object streams are decrypted with their stream.
type objectLoader struct {
	data     []byte
	table    *xref.Table
	pipeline *filters.Pipeline
	handler  security.Handler
	skip     raw.ObjectRef // the encryption dictionary

	objstm map[int]map[int]raw.Object
}

func newObjectLoader(data []byte, table *xref.Table, pipeline *filters.Pipeline) *objectLoader {
	return &objectLoader{
		data:     data,
		table:    table,
		pipeline: pipeline,
		objstm:   make(map[int]map[int]raw.Object),
	}
}

func (l *objectLoader) load(ctx context.Context, num int) (raw.ObjectRef, raw.Object, error) {
	e, ok := l.table.Lookup(num)
	if !ok || e.Kind == xref.EntryFree {
		return raw.ObjectRef{}, nil, fmt.Errorf("object %d not in xref", num)
	}
	if e.Kind == xref.EntryCompressed {
		members, err := l.objectStream(ctx, e.Stream)
		if err != nil {
			return raw.ObjectRef{}, nil, fmt.Errorf("object stream %d: %w", e.Stream, err)
		}
		obj, ok := members[num]
		if !ok {
			return raw.ObjectRef{}, nil, fmt.Errorf("object %d missing from object stream %d", num, e.Stream)
		}
		return raw.ObjectRef{Num: num}, obj, nil
	}
	ref, obj, err := l.readAt(e.Offset)
	if err != nil || ref.Num != num {
		return raw.ObjectRef{}, nil, fmt.Errorf("%w: object %d at offset %d", errOffsetMismatch, num, e.Offset)
	}
	if s, ok := obj.(*raw.StreamObj); ok {
		s.Data = append([]byte(nil), s.Data...)
	}
	obj, err = l.decrypt(ref, obj)
	if err != nil {
		return raw.ObjectRef{}, nil, fmt.Errorf("decrypt %s: %w", ref, err)
	}
	return ref, obj, nil
}

func (l *objectLoader) readAt(off int64) (raw.ObjectRef, raw.Object, error) {
	or := scanner.NewObjectReader(scanner.New(l.data, scanner.Config{}))
	or.LengthOf = l.indirectLength
	if err := or.SeekTo(off); err != nil {
		return raw.ObjectRef{}, nil, err
	}
	return or.ReadIndirect()
}

// indirectLength resolves "/Length n 0 R" without decryption; lengths are
// plain integers.
func (l *objectLoader) indirectLength(obj raw.Object) (int64, bool) {
	ref, ok := obj.(raw.RefObj)
	if !ok {
		return 0, false
	}
	e, ok := l.table.Lookup(ref.R.Num)
	if !ok || e.Kind != xref.EntryInUse {
		return 0, false
	}
	or := scanner.NewObjectReader(scanner.New(l.data, scanner.Config{}))
	if err := or.SeekTo(e.Offset); err != nil {
		return 0, false
	}
	_, v, err := or.ReadIndirect()
	if err != nil {
		return 0, false
	}
	return raw.IntOf(v)
}

func (l *objectLoader) objectStream(ctx context.Context, num int) (map[int]raw.Object, error) {
	if m, ok := l.objstm[num]; ok {
		return m, nil
	}
	_, obj, err := l.load(ctx, num)
	if err != nil {
		return nil, err
	}
	s, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, errors.New("not a stream")
	}
	n, _ := raw.IntOf(s.Dict.KV["N"])
	first, _ := raw.IntOf(s.Dict.KV["First"])
	decoded, err := l.pipeline.DecodeStream(ctx, s)
	if err != nil {
		return nil, err
	}

	type slot struct {
		num int
		off int64
	}
	header := scanner.New(decoded, scanner.Config{})
	slots := make([]slot, 0, n)
	for i := int64(0); i < n; i++ {
		numTok, err1 := header.Next()
		offTok, err2 := header.Next()
		if err1 != nil || err2 != nil || numTok.Type != scanner.TokenNumber || offTok.Type != scanner.TokenNumber {
			break
		}
		slots = append(slots, slot{int(numTok.Int), offTok.Int})
	}

	members := make(map[int]raw.Object, len(slots))
	or := scanner.NewObjectReader(scanner.New(decoded, scanner.Config{}))
	for _, sl := range slots {
		if err := or.SeekTo(first + sl.off); err != nil {
			continue
		}
		obj, err := or.ReadObject()
		if err != nil {
			continue
		}
		members[sl.num] = obj
	}
	l.objstm[num] = members
	return members, nil
}

func (l *objectLoader) decrypt(ref raw.ObjectRef, obj raw.Object) (raw.Object, error) {
	if l.handler == nil || ref == l.skip {
		return obj, nil
	}
	if s, ok := obj.(*raw.StreamObj); ok {
		typ, _ := raw.NameOf(s.Dict.KV["Type"])
		if typ == "XRef" {
			return obj, nil
		}
		class := security.DataClassStream
		if typ == "Metadata" {
			class = security.DataClassMetadataStream
		}
		if !identityCrypt(s.Dict) {
			data, err := l.handler.Decrypt(ref, s.Data, class)
			if err != nil {
				return nil, err
			}
			s.Data = data
		}
		if _, err := l.decryptStrings(ref, s.Dict); err != nil {
			return nil, err
		}
		return s, nil
	}
	return l.decryptStrings(ref, obj)
}

func (l *objectLoader) decryptStrings(ref raw.ObjectRef, obj raw.Object) (raw.Object, error) {
	switch v := obj.(type) {
	case raw.StringObj:
		b, err := l.handler.Decrypt(ref, v.Bytes, security.DataClassString)
		if err != nil {
			return nil, err
		}
		return raw.StringObj{Bytes: b, Hex: v.Hex}, nil
	case *raw.ArrayObj:
		for i, it := range v.Items {
			d, err := l.decryptStrings(ref, it)
			if err != nil {
				return nil, err
			}
			v.Items[i] = d
		}
	case *raw.DictObj:
		for k, it := range v.KV {
			d, err := l.decryptStrings(ref, it)
			if err != nil {
				return nil, err
			}
			v.KV[k] = d
		}
	}
	return obj, nil
}

// identityCrypt reports a stream whose own /Crypt filter selects Identity.
func identityCrypt(d *raw.DictObj) bool {
	names, params := filters.ExtractFilters(d)
	for i, n := range names {
		if n != "Crypt" {
			continue
		}
		if i < len(params) && params[i] != nil {
			if name, ok := raw.NameOf(params[i].KV["Name"]); ok && name != "Identity" {
				return false
			}
		}
		return true
	}
	return false
}
