package scanner

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
)

type TokenType int

const (
	TokenDict     TokenType = iota // '<<'
	TokenDictEnd                   // '>>'
	TokenArray                     // '['
	TokenArrayEnd                  // ']'
	TokenName                      // '/Name'
	TokenString                    // literal or hex string
	TokenNumber                    // numeric value
	TokenBoolean                   // true/false
	TokenNull                      // null
	TokenKeyword                   // obj, endobj, stream, R, content operators...
)

// Token is one lexical item. Only the fields relevant to Type are set.
type Token struct {
	Type  TokenType
	Pos   int64
	Str   string // names and keywords
	Bytes []byte // strings
	Hex   bool
	Int   int64
	Float float64
	IsInt bool
	Bool  bool
}

// IsKeyword reports whether t is the given keyword.
func (t Token) IsKeyword(kw string) bool { return t.Type == TokenKeyword && t.Str == kw }

// Config bounds what the scanner accepts.
type Config struct {
	MaxStringLength int64
	MaxStreamLength int64
}

// SyntaxError reports malformed input at a byte offset.
type SyntaxError struct {
	Pos int64
	Msg string
}

func (e *SyntaxError) Error() string { return fmt.Sprintf("syntax error at offset %d: %s", e.Pos, e.Msg) }

var ErrLimit = errors.New("scanner limit exceeded")

// Scanner tokenizes an in-memory PDF buffer.
type Scanner struct {
	data []byte
	pos  int64
	cfg  Config
}

// New returns a scanner positioned at the start of data. data is never modified.
func New(data []byte, cfg Config) *Scanner {
	return &Scanner{data: data, cfg: cfg}
}

func (s *Scanner) Position() int64 { return s.pos }
func (s *Scanner) Len() int64      { return int64(len(s.data)) }

// Data exposes the underlying buffer for callers that need to slice it.
func (s *Scanner) Data() []byte { return s.data }

// SeekTo moves the read position.
func (s *Scanner) SeekTo(offset int64) error {
	if offset < 0 || offset > int64(len(s.data)) {
		return &SyntaxError{Pos: offset, Msg: "seek out of range"}
	}
	s.pos = offset
	return nil
}

// Next returns the next token or io.EOF.
func (s *Scanner) Next() (Token, error) {
	s.skipWSAndComments()
	if s.pos >= int64(len(s.data)) {
		return Token{}, io.EOF
	}
	start := s.pos
	c := s.data[s.pos]
	switch c {
	case '<':
		if s.peek(1) == '<' {
			s.pos += 2
			return Token{Type: TokenDict, Pos: start}, nil
		}
		return s.scanHexString()
	case '>':
		if s.peek(1) == '>' {
			s.pos += 2
			return Token{Type: TokenDictEnd, Pos: start}, nil
		}
		s.pos++
		return Token{Type: TokenKeyword, Str: ">", Pos: start}, nil
	case '[':
		s.pos++
		return Token{Type: TokenArray, Pos: start}, nil
	case ']':
		s.pos++
		return Token{Type: TokenArrayEnd, Pos: start}, nil
	case '(':
		return s.scanLiteralString()
	case '/':
		return s.scanName()
	case '{', '}', ')':
		s.pos++
		return Token{Type: TokenKeyword, Str: string(c), Pos: start}, nil
	}
	if isNumberStart(c) {
		return s.scanNumber()
	}
	return s.scanKeyword()
}

func (s *Scanner) peek(n int64) byte {
	if s.pos+n >= int64(len(s.data)) {
		return 0
	}
	return s.data[s.pos+n]
}

func (s *Scanner) skipWSAndComments() {
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if isWhitespace(c) {
			s.pos++
			continue
		}
		if c == '%' {
			for s.pos < int64(len(s.data)) && s.data[s.pos] != '\n' && s.data[s.pos] != '\r' {
				s.pos++
			}
			continue
		}
		return
	}
}

func (s *Scanner) scanName() (Token, error) {
	start := s.pos
	s.pos++ // '/'
	var out bytes.Buffer
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if isWhitespace(c) || isDelimiter(c) {
			break
		}
		if c == '#' && s.pos+2 < int64(len(s.data)) && isHex(s.data[s.pos+1]) && isHex(s.data[s.pos+2]) {
			out.WriteByte(fromHex(s.data[s.pos+1])<<4 | fromHex(s.data[s.pos+2]))
			s.pos += 3
			continue
		}
		out.WriteByte(c)
		s.pos++
	}
	return Token{Type: TokenName, Str: out.String(), Pos: start}, nil
}

func (s *Scanner) scanLiteralString() (Token, error) {
	start := s.pos
	s.pos++ // '('
	var buf bytes.Buffer
	depth := 1
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		s.pos++
		switch c {
		case '\\':
			if s.pos >= int64(len(s.data)) {
				break
			}
			esc := s.data[s.pos]
			s.pos++
			switch {
			case esc == '\r':
				if s.pos < int64(len(s.data)) && s.data[s.pos] == '\n' {
					s.pos++
				}
			case esc == '\n':
			case esc >= '0' && esc <= '7':
				val := int(esc - '0')
				for k := 0; k < 2 && s.pos < int64(len(s.data)); k++ {
					d := s.data[s.pos]
					if d < '0' || d > '7' {
						break
					}
					val = val<<3 + int(d-'0')
					s.pos++
				}
				buf.WriteByte(byte(val))
			default:
				buf.WriteByte(translateEscape(esc))
			}
		case '(':
			depth++
			buf.WriteByte(c)
		case ')':
			depth--
			if depth == 0 {
				return Token{Type: TokenString, Bytes: buf.Bytes(), Pos: start}, nil
			}
			buf.WriteByte(c)
		case '\r':
			// EOL inside a literal string normalizes to LF.
			if s.pos < int64(len(s.data)) && s.data[s.pos] == '\n' {
				s.pos++
			}
			buf.WriteByte('\n')
		default:
			buf.WriteByte(c)
		}
		if s.cfg.MaxStringLength > 0 && int64(buf.Len()) > s.cfg.MaxStringLength {
			return Token{}, fmt.Errorf("literal string at %d: %w", start, ErrLimit)
		}
	}
	return Token{}, &SyntaxError{Pos: start, Msg: "unterminated literal string"}
}

func (s *Scanner) scanHexString() (Token, error) {
	start := s.pos
	s.pos++ // '<'
	var nibbles []byte
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		s.pos++
		if c == '>' {
			if len(nibbles)%2 == 1 {
				nibbles = append(nibbles, '0')
			}
			out := make([]byte, len(nibbles)/2)
			for i := range out {
				out[i] = fromHex(nibbles[2*i])<<4 | fromHex(nibbles[2*i+1])
			}
			return Token{Type: TokenString, Bytes: out, Hex: true, Pos: start}, nil
		}
		if isWhitespace(c) {
			continue
		}
		if !isHex(c) {
			return Token{}, &SyntaxError{Pos: s.pos - 1, Msg: "invalid hex digit"}
		}
		nibbles = append(nibbles, c)
		if s.cfg.MaxStringLength > 0 && int64(len(nibbles)/2) > s.cfg.MaxStringLength {
			return Token{}, fmt.Errorf("hex string at %d: %w", start, ErrLimit)
		}
	}
	return Token{}, &SyntaxError{Pos: start, Msg: "unterminated hex string"}
}

func (s *Scanner) scanNumber() (Token, error) {
	start := s.pos
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if isWhitespace(c) || isDelimiter(c) {
			break
		}
		s.pos++
	}
	text := string(s.data[start:s.pos])
	if i, err := strconv.ParseInt(text, 10, 64); err == nil {
		return Token{Type: TokenNumber, Int: i, Float: float64(i), IsInt: true, Pos: start}, nil
	}
	if f, ok := parseReal(text); ok {
		return Token{Type: TokenNumber, Float: f, Pos: start}, nil
	}
	return Token{Type: TokenKeyword, Str: text, Pos: start}, nil
}

// parseReal accepts the lenient real syntax seen in the wild ("--1", "1.2.3"
// are rejected; "-.5", "5." and "+3" are accepted).
func parseReal(text string) (float64, bool) {
	if text == "" {
		return 0, false
	}
	t := text
	if t[0] == '+' {
		t = t[1:]
	}
	if t == "" || t == "-" || t == "." || t == "-." {
		return 0, false
	}
	f, err := strconv.ParseFloat(t, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func (s *Scanner) scanKeyword() (Token, error) {
	start := s.pos
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if isWhitespace(c) || isDelimiter(c) {
			break
		}
		s.pos++
	}
	if s.pos == start {
		// Stray delimiter not handled above.
		s.pos++
	}
	word := string(s.data[start:s.pos])
	switch word {
	case "true":
		return Token{Type: TokenBoolean, Bool: true, Pos: start}, nil
	case "false":
		return Token{Type: TokenBoolean, Bool: false, Pos: start}, nil
	case "null":
		return Token{Type: TokenNull, Pos: start}, nil
	}
	return Token{Type: TokenKeyword, Str: word, Pos: start}, nil
}

// ReadStream reads the payload that follows a "stream" keyword. When length
// is negative or does not land on "endstream", the payload is found by
// searching for the endstream marker instead.
func (s *Scanner) ReadStream(length int64) ([]byte, error) {
	// The keyword is followed by CRLF or LF; tolerate a lone CR.
	if s.pos < int64(len(s.data)) && s.data[s.pos] == '\r' {
		s.pos++
	}
	if s.pos < int64(len(s.data)) && s.data[s.pos] == '\n' {
		s.pos++
	}
	start := s.pos
	if s.cfg.MaxStreamLength > 0 && length > s.cfg.MaxStreamLength {
		return nil, fmt.Errorf("stream at %d: %w", start, ErrLimit)
	}
	if length >= 0 && start+length <= int64(len(s.data)) && s.endstreamAt(start+length) {
		s.pos = start + length
		return s.data[start : start+length], nil
	}
	idx := bytes.Index(s.data[start:], []byte("endstream"))
	if idx < 0 {
		return nil, &SyntaxError{Pos: start, Msg: "endstream not found"}
	}
	end := start + int64(idx)
	s.pos = end
	// Drop the EOL that precedes endstream.
	if end > start && s.data[end-1] == '\n' {
		end--
	}
	if end > start && s.data[end-1] == '\r' {
		end--
	}
	if s.cfg.MaxStreamLength > 0 && end-start > s.cfg.MaxStreamLength {
		return nil, fmt.Errorf("stream at %d: %w", start, ErrLimit)
	}
	return s.data[start:end], nil
}

func (s *Scanner) endstreamAt(off int64) bool {
	for off < int64(len(s.data)) && isWhitespace(s.data[off]) {
		off++
	}
	return bytes.HasPrefix(s.data[off:], []byte("endstream"))
}

// ReadInlineImage returns the raw bytes between an inline image's ID operator
// and its EI operator, leaving the scanner after EI.
func (s *Scanner) ReadInlineImage() ([]byte, error) {
	// A single whitespace byte separates ID from the data.
	if s.pos < int64(len(s.data)) && isWhitespace(s.data[s.pos]) {
		s.pos++
	}
	start := s.pos
	for i := start; i+1 < int64(len(s.data)); i++ {
		if s.data[i] != 'E' || s.data[i+1] != 'I' {
			continue
		}
		before := i == start || isWhitespace(s.data[i-1])
		after := i+2 >= int64(len(s.data)) || isWhitespace(s.data[i+2]) || isDelimiter(s.data[i+2])
		if before && after {
			end := i
			if end > start && isWhitespace(s.data[end-1]) {
				end--
			}
			s.pos = i + 2
			return s.data[start:end], nil
		}
	}
	return nil, &SyntaxError{Pos: start, Msg: "inline image without EI"}
}

func isWhitespace(c byte) bool {
	return c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func isNumberStart(c byte) bool { return c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') }

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func fromHex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}

func translateEscape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	}
	return c
}
