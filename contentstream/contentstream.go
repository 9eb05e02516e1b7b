package contentstream

import (
	"errors"
	"fmt"
	"io"

	"github.com/wudi/pdfstudio/ir/raw"
	"github.com/wudi/pdfstudio/scanner"
	"github.com/wudi/pdfstudio/writer"
)

var ErrInlineImage = errors.New("malformed inline image")

// Operation is one operator with the operands that precede it. Inline images
// are a single "BI" operation whose operand is the image dictionary.
type Operation struct {
	Operator   string
	Operands   []raw.Object
	InlineData []byte
}

// Parse tokenizes a decoded content stream. Trailing operands without an
// operator are dropped.
func Parse(data []byte) ([]Operation, error) {
	r := scanner.NewObjectReader(scanner.New(data, scanner.Config{}))
	var ops []Operation
	var operands []raw.Object
	for {
		tok, err := r.Next()
		if err == io.EOF {
			return ops, nil
		}
		if err != nil {
			return ops, err
		}
		if tok.Type != scanner.TokenKeyword {
			r.Unread(tok)
			obj, err := r.ReadObject()
			if err != nil {
				return ops, err
			}
			operands = append(operands, obj)
			continue
		}
		if tok.Str == "BI" {
			op, err := readInlineImage(r)
			if err != nil {
				return ops, err
			}
			ops = append(ops, op)
			operands = nil
			continue
		}
		ops = append(ops, Operation{Operator: tok.Str, Operands: operands})
		operands = nil
	}
}

func readInlineImage(r *scanner.ObjectReader) (Operation, error) {
	dict := raw.Dict()
	for {
		tok, err := r.Next()
		if err != nil {
			return Operation{}, fmt.Errorf("%w: %v", ErrInlineImage, err)
		}
		if tok.IsKeyword("ID") {
			break
		}
		if tok.Type != scanner.TokenName {
			return Operation{}, fmt.Errorf("%w: key at offset %d", ErrInlineImage, tok.Pos)
		}
		val, err := r.ReadObject()
		if err != nil {
			return Operation{}, fmt.Errorf("%w: %v", ErrInlineImage, err)
		}
		dict.Put(tok.Str, val)
	}
	data, err := r.Scanner().ReadInlineImage()
	if err != nil {
		return Operation{}, fmt.Errorf("%w: %v", ErrInlineImage, err)
	}
	return Operation{Operator: "BI", Operands: []raw.Object{dict}, InlineData: data}, nil
}

// Serialize writes ops back as content stream syntax, one operation per line.
func Serialize(ops []Operation) []byte {
	var buf []byte
	for _, op := range ops {
		if op.Operator == "BI" {
			buf = append(buf, "BI"...)
			if len(op.Operands) == 1 {
				if d, ok := op.Operands[0].(*raw.DictObj); ok {
					for _, k := range d.SortedKeys() {
						buf = append(buf, ' ')
						buf = writer.AppendName(buf, k)
						buf = append(buf, ' ')
						buf = writer.AppendObject(buf, d.KV[k])
					}
				}
			}
			buf = append(buf, " ID "...)
			buf = append(buf, op.InlineData...)
			buf = append(buf, "\nEI\n"...)
			continue
		}
		for _, o := range op.Operands {
			buf = writer.AppendObject(buf, o)
			buf = append(buf, ' ')
		}
		buf = append(buf, op.Operator...)
		buf = append(buf, '\n')
	}
	return buf
}

// Numbers returns the operands as floats, or false if any is not a number.
func (op Operation) Numbers() ([]float64, bool) {
	out := make([]float64, len(op.Operands))
	for i, o := range op.Operands {
		f, ok := raw.FloatOf(o)
		if !ok {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}
