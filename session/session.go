package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/wudi/pdfstudio/document"
	"github.com/wudi/pdfstudio/observability"
)

var (
	ErrInvalidOrder    = errors.New("order is not a permutation of the current pages")
	ErrUnknownPage     = errors.New("unknown page")
	ErrNothingToUndo   = errors.New("nothing to undo")
	ErrNothingToRedo   = errors.New("nothing to redo")
	ErrInvalidDocument = errors.New("invalid document")
	ErrInvalidRotation = errors.New("rotation must be a multiple of 90 degrees")
)

// Selection is the set of selected page ids.
type Selection map[string]struct{}

func (s Selection) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s Selection) Len() int { return len(s) }

type options struct {
	depth  int
	logger observability.Logger
}

type Option func(*options)

// WithDepth sets the undo depth, clamped to [MinDepth, MaxDepth].
func WithDepth(n int) Option { return func(o *options) { o.depth = n } }

func WithLogger(l observability.Logger) Option { return func(o *options) { o.logger = l } }

// Session owns the document being edited and its history. All methods are
// safe for concurrent use.
type Session struct {
	mu     sync.Mutex
	hist   *History
	logger observability.Logger
}

// New starts a session on doc.
func New(doc *document.Document, opts ...Option) (*Session, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if err := validate(doc); err != nil {
		return nil, err
	}
	return &Session{
		hist:   NewHistory(withPages(doc, document.Renumber(doc.Pages)), o.depth),
		logger: observability.OrNop(o.logger),
	}, nil
}

// Document returns the present snapshot.
func (s *Session) Document() *document.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hist.Present()
}

func (s *Session) Selection() Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel := Selection{}
	for _, p := range s.hist.Present().Pages {
		if p.Selected {
			sel[p.ID] = struct{}{}
		}
	}
	return sel
}

// Select replaces the selection with ids.
func (s *Session) Select(ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	want, err := s.lookup(ids)
	if err != nil {
		return err
	}
	s.setSelection(func(p *document.Page) bool { return want.Has(p.ID) })
	return nil
}

func (s *Session) SelectAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setSelection(func(*document.Page) bool { return true })
}

func (s *Session) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setSelection(func(*document.Page) bool { return false })
}

// Toggle flips the selection state of one page.
func (s *Session) Toggle(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.lookup([]string{id}); err != nil {
		return err
	}
	s.setSelection(func(p *document.Page) bool {
		if p.ID == id {
			return !p.Selected
		}
		return p.Selected
	})
	return nil
}

// Rotate turns the given pages by delta degrees and records the edit.
// Multiples of 360 change nothing and record nothing.
func (s *Session) Rotate(ids []string, delta int) error {
	if delta%90 != 0 {
		return fmt.Errorf("%w: %d", ErrInvalidRotation, delta)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	targets, err := s.lookup(ids)
	if err != nil {
		return err
	}
	if delta%360 == 0 || len(targets) == 0 {
		return nil
	}
	cur := s.hist.Present()
	next := make([]*document.Page, len(cur.Pages))
	for i, p := range cur.Pages {
		if targets.Has(p.ID) {
			p = p.WithRotation(delta)
		}
		next[i] = p
	}
	s.push(cur.Derive(next))
	return nil
}

// Reorder arranges pages in the given id order, which must be a
// permutation of the current ids.
func (s *Session) Reorder(order []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.hist.Present()
	if len(order) != len(cur.Pages) {
		return fmt.Errorf("%w: got %d ids for %d pages", ErrInvalidOrder, len(order), len(cur.Pages))
	}
	next := make([]*document.Page, len(order))
	used := make(map[string]bool, len(order))
	for i, id := range order {
		p, _ := cur.PageByID(id)
		if p == nil || used[id] {
			return fmt.Errorf("%w: %q", ErrInvalidOrder, id)
		}
		used[id] = true
		next[i] = p
	}
	s.push(cur.Derive(next))
	return nil
}

// Commit installs doc as the present and records the previous one. doc is
// validated first; on failure nothing changes.
func (s *Session) Commit(doc *document.Document) error {
	if err := validate(doc); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.push(withPages(doc, document.Renumber(doc.Pages)))
	return nil
}

func (s *Session) Undo() (*document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.hist.Undo()
	if err == nil {
		s.logger.Debug("undo", observability.String("document", doc.ID))
	}
	return doc, err
}

func (s *Session) Redo() (*document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.hist.Redo()
	if err == nil {
		s.logger.Debug("redo", observability.String("document", doc.ID))
	}
	return doc, err
}

func (s *Session) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hist.CanUndo()
}

func (s *Session) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hist.CanRedo()
}

// Reset starts over on doc with an empty history.
func (s *Session) Reset(doc *document.Document) error {
	if err := validate(doc); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hist.Reset(withPages(doc, document.Renumber(doc.Pages)))
	return nil
}

func (s *Session) push(doc *document.Document) {
	s.hist.Push(doc)
	s.logger.Debug("commit",
		observability.String("document", doc.ID),
		observability.Int("pages", len(doc.Pages)),
		observability.Int64("revision", int64(doc.Revision)),
	)
}

func (s *Session) lookup(ids []string) (Selection, error) {
	cur := s.hist.Present()
	out := make(Selection, len(ids))
	for _, id := range ids {
		if p, _ := cur.PageByID(id); p == nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPage, id)
		}
		out[id] = struct{}{}
	}
	return out, nil
}

// setSelection replaces the present snapshot in place with one whose
// selection follows pick. Unchanged pages are shared.
func (s *Session) setSelection(pick func(*document.Page) bool) {
	cur := s.hist.Present()
	next := make([]*document.Page, len(cur.Pages))
	changed := false
	for i, p := range cur.Pages {
		if want := pick(p); want != p.Selected {
			p = p.Clone()
			p.Selected = want
			changed = true
		}
		next[i] = p
	}
	if changed {
		s.hist.Replace(withPages(cur, next))
	}
}

func withPages(doc *document.Document, pgs []*document.Page) *document.Document {
	cp := *doc
	cp.Pages = pgs
	return &cp
}

func validate(doc *document.Document) error {
	if doc == nil {
		return fmt.Errorf("%w: nil document", ErrInvalidDocument)
	}
	if len(doc.Pages) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, document.ErrEmptyDocument)
	}
	seen := make(map[string]bool, len(doc.Pages))
	for i, p := range doc.Pages {
		if p == nil || p.Source == nil {
			return fmt.Errorf("%w: page %d has no source", ErrInvalidDocument, i+1)
		}
		if seen[p.ID] {
			return fmt.Errorf("%w: duplicate page id %q", ErrInvalidDocument, p.ID)
		}
		seen[p.ID] = true
		switch p.Rotation {
		case 0, 90, 180, 270:
		default:
			return fmt.Errorf("%w: page %d rotation %d", ErrInvalidDocument, i+1, p.Rotation)
		}
	}
	return nil
}
