package xref

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"strconv"

	"github.com/wudi/pdfstudio/ir/raw"
	"github.com/wudi/pdfstudio/scanner"
)

var ErrRepairFailed = errors.New("repair failed: no objects found")

var objHeader = regexp.MustCompile(`(\d{1,10})[\x00\t\n\f\r ]+(\d{1,5})[\x00\t\n\f\r ]+obj\b`)

// Repair rebuilds a table by scanning the whole file for "n g obj" headers.
// Later definitions win, matching incremental-update semantics. Objects held
// in object streams are discovered by parsing every /Type /ObjStm found.
func (r *Resolver) Repair(ctx context.Context, data []byte) (*Table, error) {
	found := make(map[int]Entry)
	for _, m := range objHeader.FindAllSubmatchIndex(data, -1) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// The header must start a token.
		if m[0] > 0 && !isSpaceOrDelim(data[m[0]-1]) {
			continue
		}
		num, err1 := strconv.Atoi(string(data[m[2]:m[3]]))
		gen, err2 := strconv.Atoi(string(data[m[4]:m[5]]))
		if err1 != nil || err2 != nil {
			continue
		}
		found[num] = Entry{Kind: EntryInUse, Offset: int64(m[0]), Gen: gen}
	}
	if len(found) == 0 {
		return nil, ErrRepairFailed
	}

	t := newTable()
	t.Repaired = true
	for num, e := range found {
		t.entries[num] = e
	}

	or := scanner.NewObjectReader(scanner.New(data, scanner.Config{}))
	var catalog raw.ObjectRef
	var catalogOff int64 = -1
	var info raw.Object
	for num, e := range found {
		if err := or.SeekTo(e.Offset); err != nil {
			continue
		}
		ref, obj, err := or.ReadIndirect()
		if err != nil || ref.Num != num {
			continue
		}
		dict, ok := raw.DictOf(obj)
		if !ok {
			continue
		}
		switch typ, _ := raw.NameOf(dict.KV["Type"]); typ {
		case "Catalog":
			if e.Offset > catalogOff {
				catalog, catalogOff = ref, e.Offset
			}
		case "ObjStm":
			r.indexObjectStream(ctx, ref.Num, obj.(*raw.StreamObj), t)
		case "XRef":
			if info == nil {
				info = dict.KV["Info"]
			}
		}
	}

	t.Trailer = lastTrailer(data)
	if t.Trailer == nil {
		t.Trailer = raw.Dict()
	}
	if catalog.Num != 0 {
		if _, ok := t.Trailer.KV["Root"]; !ok || !t.validRoot() {
			t.Trailer.Put("Root", raw.RefObj{R: catalog})
		}
	}
	if _, ok := t.Trailer.KV["Info"]; !ok && info != nil {
		t.Trailer.Put("Info", info)
	}
	t.Trailer.Delete("Prev")
	t.Trailer.Delete("XRefStm")
	return t, nil
}

func (t *Table) validRoot() bool {
	ref, ok := t.Trailer.KV["Root"].(raw.RefObj)
	if !ok {
		return false
	}
	_, ok = t.entries[ref.R.Num]
	return ok
}

func (r *Resolver) indexObjectStream(ctx context.Context, streamNum int, s *raw.StreamObj, t *Table) {
	n, _ := raw.IntOf(s.Dict.KV["N"])
	if n <= 0 {
		return
	}
	data, err := r.pipeline.DecodeStream(ctx, s)
	if err != nil {
		return
	}
	sc := scanner.New(data, scanner.Config{})
	for i := 0; i < int(n); i++ {
		numTok, err1 := sc.Next()
		_, err2 := sc.Next()
		if err1 != nil || err2 != nil || numTok.Type != scanner.TokenNumber {
			return
		}
		num := int(numTok.Int)
		if _, ok := t.entries[num]; !ok {
			t.entries[num] = Entry{Kind: EntryCompressed, Stream: streamNum, Index: i}
		}
	}
}

// lastTrailer parses the final "trailer" dictionary in the file, if any.
func lastTrailer(data []byte) *raw.DictObj {
	idx := bytes.LastIndex(data, []byte("trailer"))
	if idx < 0 {
		return nil
	}
	or := scanner.NewObjectReader(scanner.New(data, scanner.Config{}))
	if err := or.SeekTo(int64(idx + len("trailer"))); err != nil {
		return nil
	}
	obj, err := or.ReadObject()
	if err != nil {
		return nil
	}
	dict, _ := obj.(*raw.DictObj)
	return dict
}

func isSpaceOrDelim(c byte) bool {
	switch c {
	case 0, '\t', '\n', '\f', '\r', ' ', '>', ']', ')', '}':
		return true
	}
	return false
}
