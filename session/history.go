package session

import "github.com/wudi/pdfstudio/document"

const (
	DefaultDepth = 30
	MinDepth     = 25
	MaxDepth     = 50
)

// ClampDepth bounds an undo depth to [MinDepth, MaxDepth]; zero selects
// DefaultDepth.
func ClampDepth(depth int) int {
	switch {
	case depth == 0:
		return DefaultDepth
	case depth < MinDepth:
		return MinDepth
	case depth > MaxDepth:
		return MaxDepth
	}
	return depth
}

// History is a fixed ring of document snapshots. Positions are relative to
// the oldest retained entry: [0, undo) are undoable, undo is the present and
// (undo, undo+redo] can be redone.
type History struct {
	ring  []*document.Document
	start int
	undo  int
	redo  int
}

// NewHistory keeps up to depth undo steps behind present.
func NewHistory(present *document.Document, depth int) *History {
	h := &History{ring: make([]*document.Document, ClampDepth(depth)+1)}
	h.ring[0] = present
	return h
}

func (h *History) index(rel int) int { return (h.start + rel) % len(h.ring) }

// Depth is the number of undo steps retained.
func (h *History) Depth() int { return len(h.ring) - 1 }

func (h *History) Present() *document.Document { return h.ring[h.index(h.undo)] }

// Replace swaps the present snapshot without recording a step.
func (h *History) Replace(doc *document.Document) { h.ring[h.index(h.undo)] = doc }

// Push records doc as the new present and discards the redo range. When the
// ring is full the oldest snapshot is dropped.
func (h *History) Push(doc *document.Document) {
	for i := 1; i <= h.redo; i++ {
		h.ring[h.index(h.undo+i)] = nil
	}
	h.redo = 0
	if h.undo+1 == len(h.ring) {
		h.start = (h.start + 1) % len(h.ring)
	} else {
		h.undo++
	}
	h.ring[h.index(h.undo)] = doc
}

func (h *History) CanUndo() bool { return h.undo > 0 }
func (h *History) CanRedo() bool { return h.redo > 0 }

// Undo steps back and returns the new present.
func (h *History) Undo() (*document.Document, error) {
	if h.undo == 0 {
		return nil, ErrNothingToUndo
	}
	h.undo--
	h.redo++
	return h.Present(), nil
}

// Redo steps forward and returns the new present.
func (h *History) Redo() (*document.Document, error) {
	if h.redo == 0 {
		return nil, ErrNothingToRedo
	}
	h.undo++
	h.redo--
	return h.Present(), nil
}

// Reset drops every snapshot and installs doc as the only one.
func (h *History) Reset(doc *document.Document) {
	clear(h.ring)
	h.start, h.undo, h.redo = 0, 0, 0
	h.ring[0] = doc
}
