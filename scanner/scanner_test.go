package scanner

import (
	"errors"
	"io"
	"testing"

	"github.com/wudi/pdfstudio/ir/raw"
)

func nextToken(t *testing.T, s *Scanner) Token {
	t.Helper()
	tok, err := s.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return tok
}

func TestScanner_BasicTokens(t *testing.T) {
	s := New([]byte("%PDF-1.7\n1 0 obj\n<< /Name /Value /Nums [1 2.5 -3] /Flag true /Null null >>\nendobj"), Config{})

	if tok := nextToken(t, s); tok.Type != TokenNumber || !tok.IsInt || tok.Int != 1 {
		t.Fatalf("expected number 1, got %+v", tok)
	}
	if tok := nextToken(t, s); tok.Type != TokenNumber || tok.Int != 0 {
		t.Fatalf("expected generation 0, got %+v", tok)
	}
	if tok := nextToken(t, s); !tok.IsKeyword("obj") {
		t.Fatalf("expected obj keyword, got %+v", tok)
	}
	if tok := nextToken(t, s); tok.Type != TokenDict {
		t.Fatalf("expected dict start, got %+v", tok)
	}
	if tok := nextToken(t, s); tok.Type != TokenName || tok.Str != "Name" {
		t.Fatalf("expected /Name, got %+v", tok)
	}
	if tok := nextToken(t, s); tok.Type != TokenName || tok.Str != "Value" {
		t.Fatalf("expected /Value, got %+v", tok)
	}
	nextToken(t, s) // /Nums
	if tok := nextToken(t, s); tok.Type != TokenArray {
		t.Fatalf("expected array start, got %+v", tok)
	}
	if tok := nextToken(t, s); tok.Int != 1 {
		t.Fatalf("expected 1, got %+v", tok)
	}
	if tok := nextToken(t, s); tok.IsInt || tok.Float != 2.5 {
		t.Fatalf("expected 2.5, got %+v", tok)
	}
	if tok := nextToken(t, s); tok.Int != -3 {
		t.Fatalf("expected -3, got %+v", tok)
	}
	if tok := nextToken(t, s); tok.Type != TokenArrayEnd {
		t.Fatalf("expected array end, got %+v", tok)
	}
	nextToken(t, s) // /Flag
	if tok := nextToken(t, s); tok.Type != TokenBoolean || !tok.Bool {
		t.Fatalf("expected true, got %+v", tok)
	}
	nextToken(t, s) // /Null
	if tok := nextToken(t, s); tok.Type != TokenNull {
		t.Fatalf("expected null, got %+v", tok)
	}
	if tok := nextToken(t, s); tok.Type != TokenDictEnd {
		t.Fatalf("expected dict end, got %+v", tok)
	}
	if tok := nextToken(t, s); !tok.IsKeyword("endobj") {
		t.Fatalf("expected endobj, got %+v", tok)
	}
	if _, err := s.Next(); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestScanner_Strings(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
		hex  bool
	}{
		{"plain", "(hello)", "hello", false},
		{"nested", "(a (b) c)", "a (b) c", false},
		{"escapes", `(line\nnext\051)`, "line\nnext)", false},
		{"octal", `(\101\102C)`, "ABC", false},
		{"continuation", "(ab\\\ncd)", "abcd", false},
		{"crlf normalized", "(a\r\nb)", "a\nb", false},
		{"hex", "<48 65 6c6C6f>", "Hello", true},
		{"hex odd", "<414>", "A@", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tok := nextToken(t, New([]byte(tc.src), Config{}))
			if tok.Type != TokenString || string(tok.Bytes) != tc.want || tok.Hex != tc.hex {
				t.Fatalf("got %+v (%q), want %q", tok, tok.Bytes, tc.want)
			}
		})
	}
}

func TestScanner_NameEscapes(t *testing.T) {
	tok := nextToken(t, New([]byte("/A#20B"), Config{}))
	if tok.Str != "A B" {
		t.Fatalf("expected decoded name, got %q", tok.Str)
	}
}

func TestScanner_StringLimit(t *testing.T) {
	_, err := New([]byte("(abcdef)"), Config{MaxStringLength: 3}).Next()
	if !errors.Is(err, ErrLimit) {
		t.Fatalf("expected limit error, got %v", err)
	}
}

func TestObjectReader_IndirectWithStream(t *testing.T) {
	src := "4 0 obj\n<< /Length 5 /Ref 7 0 R /Arr [1 0 R 2] >>\nstream\nhello\nendstream\nendobj\n"
	r := NewObjectReader(New([]byte(src), Config{}))
	ref, obj, err := r.ReadIndirect()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if ref.Num != 4 {
		t.Fatalf("unexpected ref %v", ref)
	}
	st, ok := obj.(*raw.StreamObj)
	if !ok || string(st.Data) != "hello" {
		t.Fatalf("expected stream payload, got %#v", obj)
	}
	if rr, ok := st.Dict.KV["Ref"].(raw.RefObj); !ok || rr.R.Num != 7 {
		t.Fatalf("expected reference, got %#v", st.Dict.KV["Ref"])
	}
	arr := st.Dict.KV["Arr"].(*raw.ArrayObj)
	if arr.Len() != 2 {
		t.Fatalf("expected 2 array items, got %d", arr.Len())
	}
}

func TestObjectReader_WrongLengthFallsBack(t *testing.T) {
	src := "1 0 obj << /Length 99 >> stream\r\nabc\r\nendstream endobj"
	r := NewObjectReader(New([]byte(src), Config{}))
	_, obj, err := r.ReadIndirect()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := string(obj.(*raw.StreamObj).Data); got != "abc" {
		t.Fatalf("expected abc, got %q", got)
	}
}

func TestReadInlineImage(t *testing.T) {
	s := New([]byte("ID \x01\x02EIx EI Q"), Config{})
	nextToken(t, s) // ID
	data, err := s.ReadInlineImage()
	if err != nil {
		t.Fatalf("inline image: %v", err)
	}
	if string(data) != "\x01\x02EIx" {
		t.Fatalf("unexpected inline data %q", data)
	}
	if tok := nextToken(t, s); !tok.IsKeyword("Q") {
		t.Fatalf("expected Q after EI, got %+v", tok)
	}
}
