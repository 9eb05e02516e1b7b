package contentstream

import (
	"errors"
	"image/color"

	"github.com/wudi/pdfstudio/coords"
	"github.com/wudi/pdfstudio/ir/raw"
)

var ErrStateUnderflow = errors.New("graphics state stack empty")

// GraphicsState is the subset of the PDF graphics state the tracer follows.
type GraphicsState struct {
	CTM   coords.Matrix
	Fill  color.RGBA
	stack []GraphicsState
}

func (gs *GraphicsState) Save() {
	clone := *gs
	clone.stack = nil
	gs.stack = append(gs.stack, clone)
}

func (gs *GraphicsState) Restore() error {
	n := len(gs.stack)
	if n == 0 {
		return ErrStateUnderflow
	}
	saved := gs.stack[:n-1]
	*gs = gs.stack[n-1]
	gs.stack = saved
	return nil
}

// MarkKind tells what a Mark paints.
type MarkKind int

const (
	MarkXObject MarkKind = iota
	MarkInlineImage
	MarkRect
)

// Mark is something painted on the page. For XObjects and images CTM maps
// the unit square into the space the trace's base matrix targets; Rect is
// an axis-aligned box in that same space.
// Fill is the nonstroking color in effect, used by stencil masks.
type Mark struct {
	Kind   MarkKind
	Name   string
	CTM    coords.Matrix
	Inline *Operation
	Rect   [4]float64
	Fill   color.RGBA
}

// Trace runs ops against base and returns what they paint, in order.
// Unbalanced Q operators are ignored.
func Trace(ops []Operation, base coords.Matrix) []Mark {
	gs := &GraphicsState{CTM: base, Fill: color.RGBA{A: 0xff}}
	var marks []Mark
	var pending [][4]float64
	for i := range ops {
		op := &ops[i]
		switch op.Operator {
		case "q":
			gs.Save()
		case "Q":
			_ = gs.Restore()
		case "cm":
			if v, ok := op.Numbers(); ok && len(v) == 6 {
				gs.CTM = coords.Matrix{v[0], v[1], v[2], v[3], v[4], v[5]}.Multiply(gs.CTM)
			}
		case "g":
			if v, ok := op.Numbers(); ok && len(v) == 1 {
				gs.Fill = gray(v[0])
			}
		case "rg":
			if v, ok := op.Numbers(); ok && len(v) == 3 {
				gs.Fill = color.RGBA{R: unit(v[0]), G: unit(v[1]), B: unit(v[2]), A: 0xff}
			}
		case "k":
			if v, ok := op.Numbers(); ok && len(v) == 4 {
				gs.Fill = color.RGBA{
					R: unit((1 - v[0]) * (1 - v[3])),
					G: unit((1 - v[1]) * (1 - v[3])),
					B: unit((1 - v[2]) * (1 - v[3])),
					A: 0xff,
				}
			}
		case "re":
			if v, ok := op.Numbers(); ok && len(v) == 4 {
				m := coords.Scale(v[2], v[3]).Multiply(coords.Translate(v[0], v[1])).Multiply(gs.CTM)
				x0, y0, x1, y1 := m.Bounds()
				pending = append(pending, [4]float64{x0, y0, x1, y1})
			}
		case "f", "F", "f*", "B", "B*", "b", "b*":
			for _, r := range pending {
				marks = append(marks, Mark{Kind: MarkRect, Rect: r, Fill: gs.Fill})
			}
			pending = pending[:0]
		case "n", "S", "s":
			pending = pending[:0]
		case "Do":
			if len(op.Operands) == 1 {
				if name, ok := raw.NameOf(op.Operands[0]); ok {
					marks = append(marks, Mark{Kind: MarkXObject, Name: name, CTM: gs.CTM, Fill: gs.Fill})
				}
			}
		case "BI":
			marks = append(marks, Mark{Kind: MarkInlineImage, CTM: gs.CTM, Inline: op, Fill: gs.Fill})
		}
	}
	return marks
}

func gray(v float64) color.RGBA {
	c := unit(v)
	return color.RGBA{R: c, G: c, B: c, A: 0xff}
}

func unit(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 0xff
	}
	return uint8(v*255 + 0.5)
}
