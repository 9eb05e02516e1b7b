package scanner

import (
	"fmt"
	"io"

	"github.com/wudi/pdfstudio/ir/raw"
)

const maxNesting = 256

// ObjectReader assembles raw objects from tokens. It understands indirect
// references ("n g R") and stream bodies.
type ObjectReader struct {
	s   *Scanner
	buf []Token

	// LengthOf resolves an indirect /Length value. When nil or when it fails,
	// stream payloads are delimited by searching for endstream.
	LengthOf func(raw.Object) (int64, bool)
}

// NewObjectReader wraps s.
func NewObjectReader(s *Scanner) *ObjectReader { return &ObjectReader{s: s} }

// Scanner returns the underlying scanner.
func (r *ObjectReader) Scanner() *Scanner { return r.s }

// Next returns the next token, honouring pushed-back tokens.
func (r *ObjectReader) Next() (Token, error) {
	if n := len(r.buf); n > 0 {
		tok := r.buf[n-1]
		r.buf = r.buf[:n-1]
		return tok, nil
	}
	return r.s.Next()
}

// Unread pushes tok back; tokens are returned in LIFO order.
func (r *ObjectReader) Unread(tok Token) { r.buf = append(r.buf, tok) }

// SeekTo discards buffered tokens and repositions the scanner.
func (r *ObjectReader) SeekTo(off int64) error {
	r.buf = r.buf[:0]
	return r.s.SeekTo(off)
}

// ReadObject reads one direct object.
func (r *ObjectReader) ReadObject() (raw.Object, error) {
	return r.readObject(0)
}

func (r *ObjectReader) readObject(depth int) (raw.Object, error) {
	if depth > maxNesting {
		return nil, fmt.Errorf("object nesting deeper than %d: %w", maxNesting, ErrLimit)
	}
	tok, err := r.Next()
	if err != nil {
		return nil, err
	}
	switch tok.Type {
	case TokenDict:
		return r.readDict(depth + 1)
	case TokenArray:
		return r.readArray(depth + 1)
	case TokenName:
		return raw.NameLiteral(tok.Str), nil
	case TokenString:
		return raw.StringObj{Bytes: tok.Bytes, Hex: tok.Hex}, nil
	case TokenBoolean:
		return raw.Bool(tok.Bool), nil
	case TokenNull:
		return raw.NullObj{}, nil
	case TokenNumber:
		if !tok.IsInt || tok.Int < 0 {
			return numberOf(tok), nil
		}
		return r.maybeRef(tok)
	}
	return nil, &SyntaxError{Pos: tok.Pos, Msg: fmt.Sprintf("unexpected token %q", tok.Str)}
}

// maybeRef looks two tokens ahead for "g R".
func (r *ObjectReader) maybeRef(num Token) (raw.Object, error) {
	gen, err := r.Next()
	if err != nil {
		if err == io.EOF {
			return numberOf(num), nil
		}
		return nil, err
	}
	if gen.Type != TokenNumber || !gen.IsInt || gen.Int < 0 {
		r.Unread(gen)
		return numberOf(num), nil
	}
	kw, err := r.Next()
	if err != nil {
		r.Unread(gen)
		if err == io.EOF {
			return numberOf(num), nil
		}
		return nil, err
	}
	if kw.IsKeyword("R") {
		return raw.Ref(int(num.Int), int(gen.Int)), nil
	}
	r.Unread(kw)
	r.Unread(gen)
	return numberOf(num), nil
}

func numberOf(tok Token) raw.Object {
	if tok.IsInt {
		return raw.NumberInt(tok.Int)
	}
	return raw.NumberFloat(tok.Float)
}

func (r *ObjectReader) readArray(depth int) (raw.Object, error) {
	arr := raw.NewArray()
	for {
		tok, err := r.Next()
		if err != nil {
			return nil, fmt.Errorf("unterminated array: %w", err)
		}
		if tok.Type == TokenArrayEnd {
			return arr, nil
		}
		r.Unread(tok)
		item, err := r.readObject(depth)
		if err != nil {
			return nil, err
		}
		arr.Append(item)
	}
}

func (r *ObjectReader) readDict(depth int) (raw.Object, error) {
	dict := raw.Dict()
	for {
		tok, err := r.Next()
		if err != nil {
			return nil, fmt.Errorf("unterminated dictionary: %w", err)
		}
		if tok.Type == TokenDictEnd {
			return dict, nil
		}
		if tok.Type != TokenName {
			return nil, &SyntaxError{Pos: tok.Pos, Msg: "dictionary key is not a name"}
		}
		next, err := r.Next()
		if err != nil {
			return nil, fmt.Errorf("unterminated dictionary: %w", err)
		}
		if next.Type == TokenDictEnd {
			// Key without a value; treat as null and stop.
			dict.Put(tok.Str, raw.NullObj{})
			return dict, nil
		}
		r.Unread(next)
		val, err := r.readObject(depth)
		if err != nil {
			return nil, err
		}
		dict.Put(tok.Str, val)
	}
}

// ReadIndirect reads "n g obj <object> [stream ... endstream] endobj" at the
// current position.
func (r *ObjectReader) ReadIndirect() (raw.ObjectRef, raw.Object, error) {
	numTok, err := r.Next()
	if err != nil {
		return raw.ObjectRef{}, nil, err
	}
	genTok, err := r.Next()
	if err != nil {
		return raw.ObjectRef{}, nil, err
	}
	objTok, err := r.Next()
	if err != nil {
		return raw.ObjectRef{}, nil, err
	}
	if numTok.Type != TokenNumber || !numTok.IsInt || genTok.Type != TokenNumber || !genTok.IsInt || !objTok.IsKeyword("obj") {
		return raw.ObjectRef{}, nil, &SyntaxError{Pos: numTok.Pos, Msg: "expected object header"}
	}
	ref := raw.ObjectRef{Num: int(numTok.Int), Gen: int(genTok.Int)}

	// Empty objects ("1 0 obj endobj") are null.
	if tok, err := r.Next(); err == nil && tok.IsKeyword("endobj") {
		return ref, raw.NullObj{}, nil
	} else if err == nil {
		r.Unread(tok)
	}

	obj, err := r.ReadObject()
	if err != nil {
		return ref, nil, fmt.Errorf("object %s: %w", ref, err)
	}
	tok, err := r.Next()
	if err != nil {
		// Missing endobj at EOF is tolerated.
		return ref, obj, nil
	}
	if tok.IsKeyword("stream") {
		dict, ok := obj.(*raw.DictObj)
		if !ok {
			return ref, nil, &SyntaxError{Pos: tok.Pos, Msg: "stream without dictionary"}
		}
		length := int64(-1)
		switch l := dict.KV["Length"].(type) {
		case raw.NumberObj:
			length = l.Int()
		case raw.RefObj:
			if r.LengthOf != nil {
				if n, ok := r.LengthOf(l); ok {
					length = n
				}
			}
		}
		// Stream data follows the keyword directly, not the buffered tokens.
		r.buf = r.buf[:0]
		r.s.pos = tok.Pos + int64(len("stream"))
		data, err := r.s.ReadStream(length)
		if err != nil {
			return ref, nil, fmt.Errorf("object %s: %w", ref, err)
		}
		if end, err := r.Next(); err == nil && !end.IsKeyword("endstream") {
			r.Unread(end)
		}
		obj = raw.NewStream(dict, data)
		tok, err = r.Next()
		if err != nil {
			return ref, obj, nil
		}
	}
	if !tok.IsKeyword("endobj") {
		r.Unread(tok)
	}
	return ref, obj, nil
}
