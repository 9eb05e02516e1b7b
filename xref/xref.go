package xref

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/wudi/pdfstudio/filters"
	"github.com/wudi/pdfstudio/ir/raw"
	"github.com/wudi/pdfstudio/scanner"
)

var (
	ErrNoStartXRef = errors.New("startxref not found")
	ErrBadXRef     = errors.New("malformed cross-reference section")
)

// EntryKind distinguishes where an object lives.
type EntryKind int

const (
	EntryFree EntryKind = iota
	EntryInUse
	EntryCompressed
)

// Entry locates one object. InUse entries carry a byte offset; compressed
// entries name the object stream and the index inside it.
type Entry struct {
	Kind   EntryKind
	Offset int64
	Gen    int
	Stream int
	Index  int
}

// Table is the merged view over every cross-reference section of a file.
type Table struct {
	entries  map[int]Entry
	Trailer  *raw.DictObj
	Repaired bool
	Sections int

	hybrid bool
}

func newTable() *Table { return &Table{entries: make(map[int]Entry)} }

func (t *Table) Lookup(objNum int) (Entry, bool) {
	e, ok := t.entries[objNum]
	return e, ok
}

// Objects returns the numbers of all in-use and compressed objects, sorted.
func (t *Table) Objects() []int {
	out := make([]int, 0, len(t.entries))
	for k, e := range t.entries {
		if e.Kind != EntryFree {
			out = append(out, k)
		}
	}
	sort.Ints(out)
	return out
}

func (t *Table) Len() int { return len(t.entries) }

// addIfAbsent records e unless a newer section already described num. While
// reading a hybrid file's XRefStm, free entries of the table may be replaced.
func (t *Table) addIfAbsent(num int, e Entry) {
	if old, ok := t.entries[num]; ok && !(t.hybrid && old.Kind == EntryFree) {
		return
	}
	t.entries[num] = e
}

type ResolverConfig struct {
	MaxXRefDepth int
	Limits       filters.Limits
}

// Resolver locates and parses cross-reference information.
type Resolver struct {
	cfg      ResolverConfig
	pipeline *filters.Pipeline
}

// NewResolver returns a resolver handling tables, streams and hybrid files.
func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.MaxXRefDepth <= 0 {
		cfg.MaxXRefDepth = 64
	}
	return &Resolver{cfg: cfg, pipeline: filters.Default(cfg.Limits)}
}

// Resolve walks the startxref / Prev chain, newest section first.
func (r *Resolver) Resolve(ctx context.Context, data []byte) (*Table, error) {
	offset, err := findStartXRef(data)
	if err != nil {
		return nil, err
	}
	t := newTable()
	visited := make(map[int64]bool)
	for depth := 0; ; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if depth >= r.cfg.MaxXRefDepth {
			return nil, fmt.Errorf("%w: Prev chain deeper than %d", ErrBadXRef, r.cfg.MaxXRefDepth)
		}
		if visited[offset] {
			break
		}
		visited[offset] = true
		if offset < 0 || offset >= int64(len(data)) {
			return nil, fmt.Errorf("%w: offset %d out of range", ErrBadXRef, offset)
		}

		trailer, err := r.readSection(ctx, data, offset, t)
		if err != nil {
			return nil, err
		}
		t.Sections++
		mergeTrailer(t, trailer)

		// Hybrid files carry extra entries in a stream named by XRefStm.
		if stm, ok := raw.IntOf(trailer.KV["XRefStm"]); ok && !visited[stm] && stm > 0 && stm < int64(len(data)) {
			visited[stm] = true
			t.hybrid = true
			_, err := r.readStream(ctx, data, stm, t)
			t.hybrid = false
			if err != nil {
				return nil, err
			}
		}
		prev, ok := raw.IntOf(trailer.KV["Prev"])
		if !ok || prev <= 0 {
			break
		}
		offset = prev
	}
	if t.Trailer == nil || t.Trailer.KV["Root"] == nil {
		return nil, fmt.Errorf("%w: trailer has no Root", ErrBadXRef)
	}
	return t, nil
}

// mergeTrailer keeps the newest value of every trailer key.
func mergeTrailer(t *Table, trailer *raw.DictObj) {
	if t.Trailer == nil {
		t.Trailer = trailer.Copy()
		for _, k := range []string{"Prev", "XRefStm", "Type", "W", "Index", "Filter", "DecodeParms", "Length"} {
			t.Trailer.Delete(k)
		}
		return
	}
	for _, k := range []string{"Root", "Info", "Encrypt", "ID", "Size"} {
		if _, ok := t.Trailer.KV[k]; !ok {
			if v, ok := trailer.KV[k]; ok {
				t.Trailer.Put(k, v)
			}
		}
	}
}

func findStartXRef(data []byte) (int64, error) {
	tail := data
	if len(tail) > 2048 {
		tail = tail[len(tail)-2048:]
	}
	idx := bytes.LastIndex(tail, []byte("startxref"))
	if idx < 0 {
		return 0, ErrNoStartXRef
	}
	s := scanner.New(tail[idx+len("startxref"):], scanner.Config{})
	tok, err := s.Next()
	if err != nil || tok.Type != scanner.TokenNumber || !tok.IsInt {
		return 0, fmt.Errorf("%w: startxref offset unreadable", ErrBadXRef)
	}
	return tok.Int, nil
}

func (r *Resolver) readSection(ctx context.Context, data []byte, offset int64, t *Table) (*raw.DictObj, error) {
	s := scanner.New(data, scanner.Config{})
	if err := s.SeekTo(offset); err != nil {
		return nil, err
	}
	tok, err := s.Next()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadXRef, err)
	}
	if tok.IsKeyword("xref") {
		return readTable(s, t)
	}
	return r.readStream(ctx, data, offset, t)
}

// readTable parses a classic "xref" section and the trailer that follows it.
func readTable(s *scanner.Scanner, t *Table) (*raw.DictObj, error) {
	or := scanner.NewObjectReader(s)
	for {
		tok, err := or.Next()
		if err != nil {
			return nil, fmt.Errorf("%w: unexpected end of table", ErrBadXRef)
		}
		if tok.IsKeyword("trailer") {
			obj, err := or.ReadObject()
			if err != nil {
				return nil, fmt.Errorf("%w: trailer: %v", ErrBadXRef, err)
			}
			dict, ok := obj.(*raw.DictObj)
			if !ok {
				return nil, fmt.Errorf("%w: trailer is not a dictionary", ErrBadXRef)
			}
			return dict, nil
		}
		countTok, err := or.Next()
		if err != nil || tok.Type != scanner.TokenNumber || countTok.Type != scanner.TokenNumber {
			return nil, fmt.Errorf("%w: invalid subsection header", ErrBadXRef)
		}
		start, count := int(tok.Int), int(countTok.Int)
		for i := 0; i < count; i++ {
			offTok, err1 := or.Next()
			genTok, err2 := or.Next()
			kindTok, err3 := or.Next()
			if err1 != nil || err2 != nil || err3 != nil || offTok.Type != scanner.TokenNumber || genTok.Type != scanner.TokenNumber {
				return nil, fmt.Errorf("%w: truncated subsection at object %d", ErrBadXRef, start+i)
			}
			switch {
			case kindTok.IsKeyword("n"):
				t.addIfAbsent(start+i, Entry{Kind: EntryInUse, Offset: offTok.Int, Gen: int(genTok.Int)})
			case kindTok.IsKeyword("f"):
				t.addIfAbsent(start+i, Entry{Kind: EntryFree, Gen: int(genTok.Int)})
			default:
				return nil, fmt.Errorf("%w: entry type %q", ErrBadXRef, kindTok.Str)
			}
		}
	}
}

// readStream parses a cross-reference stream object at offset.
func (r *Resolver) readStream(ctx context.Context, data []byte, offset int64, t *Table) (*raw.DictObj, error) {
	or := scanner.NewObjectReader(scanner.New(data, scanner.Config{}))
	if err := or.SeekTo(offset); err != nil {
		return nil, err
	}
	_, obj, err := or.ReadIndirect()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadXRef, err)
	}
	stream, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, fmt.Errorf("%w: no xref table or stream at %d", ErrBadXRef, offset)
	}
	if typ, _ := raw.NameOf(stream.Dict.KV["Type"]); typ != "XRef" {
		return nil, fmt.Errorf("%w: stream at %d is not /Type /XRef", ErrBadXRef, offset)
	}
	decoded, err := r.pipeline.DecodeStream(ctx, stream)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadXRef, err)
	}
	if err := parseStreamEntries(stream.Dict, decoded, t); err != nil {
		return nil, err
	}
	return stream.Dict, nil
}

func parseStreamEntries(dict *raw.DictObj, data []byte, t *Table) error {
	w, ok := raw.Floats(dict.KV["W"])
	if !ok || len(w) != 3 {
		return fmt.Errorf("%w: bad /W", ErrBadXRef)
	}
	widths := [3]int{int(w[0]), int(w[1]), int(w[2])}
	rowLen := widths[0] + widths[1] + widths[2]
	if rowLen <= 0 {
		return fmt.Errorf("%w: zero-width rows", ErrBadXRef)
	}

	var index []float64
	if idx, ok := raw.Floats(dict.KV["Index"]); ok && len(idx)%2 == 0 {
		index = idx
	} else {
		size, _ := raw.IntOf(dict.KV["Size"])
		index = []float64{0, float64(size)}
	}

	pos := 0
	for i := 0; i+1 < len(index); i += 2 {
		start, count := int(index[i]), int(index[i+1])
		for j := 0; j < count; j++ {
			if pos+rowLen > len(data) {
				return nil // truncated; keep what we have
			}
			row := data[pos : pos+rowLen]
			pos += rowLen
			f1 := readField(row[:widths[0]], 1)
			f2 := readField(row[widths[0]:widths[0]+widths[1]], 0)
			f3 := readField(row[widths[0]+widths[1]:], 0)
			num := start + j
			switch f1 {
			case 0:
				t.addIfAbsent(num, Entry{Kind: EntryFree, Gen: int(f3)})
			case 1:
				t.addIfAbsent(num, Entry{Kind: EntryInUse, Offset: f2, Gen: int(f3)})
			case 2:
				t.addIfAbsent(num, Entry{Kind: EntryCompressed, Stream: int(f2), Index: int(f3)})
			}
		}
	}
	return nil
}

// readField decodes a big-endian field; an absent field takes def.
func readField(b []byte, def int64) int64 {
	if len(b) == 0 {
		return def
	}
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}
