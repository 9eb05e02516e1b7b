package writer

import (
	"math"
	"strconv"

	"github.com/wudi/pdfstudio/ir/raw"
)

const hexDigits = "0123456789ABCDEF"

// AppendObject appends the PDF syntax for obj to buf. Dictionary keys are
// written in sorted order so output is stable.
func AppendObject(buf []byte, obj raw.Object) []byte {
	return appendObject(buf, obj, false)
}

// appendObject writes strings as hex when forceHex is set, which keeps
// encrypted bytes out of literal-string escaping.
func appendObject(buf []byte, obj raw.Object, forceHex bool) []byte {
	switch v := obj.(type) {
	case nil, raw.NullObj:
		return append(buf, "null"...)
	case raw.NameObj:
		return AppendName(buf, v.Val)
	case raw.NumberObj:
		if v.IsInt {
			return strconv.AppendInt(buf, v.I, 10)
		}
		return AppendReal(buf, v.F)
	case raw.BoolObj:
		return strconv.AppendBool(buf, v.V)
	case raw.StringObj:
		if forceHex || v.Hex || !printable(v.Bytes) {
			return appendHexString(buf, v.Bytes)
		}
		return appendLiteralString(buf, v.Bytes)
	case raw.RefObj:
		buf = strconv.AppendInt(buf, int64(v.R.Num), 10)
		buf = append(buf, ' ')
		buf = strconv.AppendInt(buf, int64(v.R.Gen), 10)
		return append(buf, " R"...)
	case *raw.ArrayObj:
		buf = append(buf, '[')
		for i, it := range v.Items {
			if i > 0 {
				buf = append(buf, ' ')
			}
			buf = appendObject(buf, it, forceHex)
		}
		return append(buf, ']')
	case *raw.DictObj:
		buf = append(buf, "<<"...)
		for _, k := range v.SortedKeys() {
			buf = append(buf, ' ')
			buf = AppendName(buf, k)
			buf = append(buf, ' ')
			buf = appendObject(buf, v.KV[k], forceHex)
		}
		return append(buf, " >>"...)
	case *raw.StreamObj:
		buf = appendObject(buf, v.Dict, forceHex)
		buf = append(buf, "\nstream\n"...)
		buf = append(buf, v.Data...)
		return append(buf, "\nendstream"...)
	}
	return append(buf, "null"...)
}

// AppendName writes /name, escaping delimiters, whitespace and non-ASCII
// bytes as #xx.
func AppendName(buf []byte, name string) []byte {
	buf = append(buf, '/')
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c < 0x21 || c > 0x7E || c == '#' || isDelimiter(c) {
			buf = append(buf, '#', hexDigits[c>>4], hexDigits[c&0x0F])
			continue
		}
		buf = append(buf, c)
	}
	return buf
}

// AppendReal writes f with at most five decimals and no trailing zeros.
func AppendReal(buf []byte, f float64) []byte {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return append(buf, '0')
	}
	s := strconv.FormatFloat(f, 'f', 5, 64)
	for len(s) > 0 && s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	if len(s) > 0 && s[len(s)-1] == '.' {
		s = s[:len(s)-1]
	}
	if s == "-0" || s == "" {
		s = "0"
	}
	return append(buf, s...)
}

func appendHexString(buf []byte, b []byte) []byte {
	buf = append(buf, '<')
	for _, c := range b {
		buf = append(buf, hexDigits[c>>4], hexDigits[c&0x0F])
	}
	return append(buf, '>')
}

func appendLiteralString(buf []byte, b []byte) []byte {
	buf = append(buf, '(')
	for _, c := range b {
		switch c {
		case '\\', '(', ')':
			buf = append(buf, '\\', c)
		case '\n':
			buf = append(buf, `\n`...)
		case '\r':
			buf = append(buf, `\r`...)
		case '\t':
			buf = append(buf, `\t`...)
		default:
			buf = append(buf, c)
		}
	}
	return append(buf, ')')
}

// printable reports whether b reads as text; anything else is written as hex.
func printable(b []byte) bool {
	for _, c := range b {
		if c >= 0x80 || (c < 0x20 && c != '\n' && c != '\r' && c != '\t') {
			return false
		}
	}
	return true
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}
