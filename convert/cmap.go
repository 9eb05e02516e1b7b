package convert

import (
	"slices"
	"strings"
	"unicode/utf16"

	"github.com/wudi/pdfstudio/contentstream"
	"github.com/wudi/pdfstudio/ir/raw"
)

// toUnicode maps character codes of one font to text.
type toUnicode struct {
	entries map[string]string
	// lengths are the code widths in bytes, longest first.
	lengths []int
}

// parseToUnicode reads the bfchar and bfrange sections of a ToUnicode
// CMap. The operands of each end* operator are its entries.
func parseToUnicode(data []byte) *toUnicode {
	ops, _ := contentstream.Parse(data)
	m := &toUnicode{entries: make(map[string]string)}
	widths := make(map[int]bool)
	for _, op := range ops {
		args := op.Operands
		switch op.Operator {
		case "endcodespacerange":
			for i := 0; i+1 < len(args); i += 2 {
				if lo, ok := raw.BytesOf(args[i]); ok && len(lo) > 0 {
					widths[len(lo)] = true
				}
			}
		case "endbfchar":
			for i := 0; i+1 < len(args); i += 2 {
				src, ok := raw.BytesOf(args[i])
				dst, ok2 := raw.BytesOf(args[i+1])
				if ok && ok2 && len(src) > 0 {
					m.entries[string(src)] = utf16BE(dst)
					widths[len(src)] = true
				}
			}
		case "endbfrange":
			for i := 0; i+2 < len(args); i += 3 {
				m.addRange(args[i], args[i+1], args[i+2], widths)
			}
		}
	}
	if len(widths) == 0 {
		for k := range m.entries {
			widths[len(k)] = true
		}
	}
	for w := range widths {
		m.lengths = append(m.lengths, w)
	}
	slices.Sort(m.lengths)
	slices.Reverse(m.lengths)
	return m
}

const maxRange = 1 << 16

func (m *toUnicode) addRange(loObj, hiObj, dstObj raw.Object, widths map[int]bool) {
	lo, ok := raw.BytesOf(loObj)
	hi, ok2 := raw.BytesOf(hiObj)
	if !ok || !ok2 || len(lo) == 0 || len(lo) != len(hi) {
		return
	}
	widths[len(lo)] = true
	start, end := codeValue(lo), codeValue(hi)
	if end < start || end-start >= maxRange {
		return
	}
	if arr, ok := dstObj.(*raw.ArrayObj); ok {
		for i, item := range arr.Items {
			if start+i > end {
				break
			}
			if dst, ok := raw.BytesOf(item); ok {
				m.entries[string(codeBytes(start+i, len(lo)))] = utf16BE(dst)
			}
		}
		return
	}
	dst, ok := raw.BytesOf(dstObj)
	if !ok || len(dst) == 0 {
		return
	}
	base := codeValue(dst)
	for i := 0; i <= end-start; i++ {
		m.entries[string(codeBytes(start+i, len(lo)))] = utf16BE(codeBytes(base+i, len(dst)))
	}
}

// decode matches the longest code first and passes unknown bytes through.
func (m *toUnicode) decode(data []byte) string {
	var b strings.Builder
	for len(data) > 0 {
		matched := false
		for _, w := range m.lengths {
			if len(data) < w {
				continue
			}
			if s, ok := m.entries[string(data[:w])]; ok {
				b.WriteString(s)
				data = data[w:]
				matched = true
				break
			}
		}
		if !matched {
			b.WriteRune(rune(data[0]))
			data = data[1:]
		}
	}
	return b.String()
}

func codeValue(b []byte) int {
	v := 0
	for _, c := range b {
		v = v<<8 | int(c)
	}
	return v
}

func codeBytes(v, n int) []byte {
	out := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}
	return out
}

func utf16BE(b []byte) string {
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = uint16(b[2*i])<<8 | uint16(b[2*i+1])
	}
	return string(utf16.Decode(units))
}
