package transform

import (
	"fmt"
	"strings"

	"github.com/wudi/pdfstudio/document"
	"github.com/wudi/pdfstudio/entitlement"
	"github.com/wudi/pdfstudio/ir/raw"
	"github.com/wudi/pdfstudio/optimize"
	"github.com/wudi/pdfstudio/pages"
	"github.com/wudi/pdfstudio/security"
)

// Rotate turns the selected pages by Delta degrees, a multiple of 90.
type Rotate struct {
	Delta int
}

func (Rotate) Tool() entitlement.Tool               { return entitlement.ToolRotate }
func (op Rotate) accept(v visitor) (*Result, error) { return v.visitRotate(op) }

func (r *run) visitRotate(op Rotate) (*Result, error) {
	if err := r.current(); err != nil {
		return nil, err
	}
	if op.Delta%90 != 0 {
		return nil, fmt.Errorf("%w: rotation %d is not a multiple of 90", ErrInvalidParams, op.Delta)
	}
	if op.Delta%360 == 0 || len(r.doc.Selected()) == 0 {
		return unchanged(r.doc), nil
	}
	next := make([]*document.Page, len(r.doc.Pages))
	for i, p := range r.doc.Pages {
		if p.Selected {
			p = p.WithRotation(op.Delta)
		}
		next[i] = p
	}
	return unchanged(r.doc.Derive(next)), nil
}

// Delete removes the selected pages.
type Delete struct{}

func (Delete) Tool() entitlement.Tool               { return entitlement.ToolDelete }
func (op Delete) accept(v visitor) (*Result, error) { return v.visitDelete(op) }

func (r *run) visitDelete(Delete) (*Result, error) {
	if err := r.current(); err != nil {
		return nil, err
	}
	keep := make([]*document.Page, 0, len(r.doc.Pages))
	for _, p := range r.doc.Pages {
		if !p.Selected {
			keep = append(keep, p)
		}
	}
	switch {
	case len(keep) == len(r.doc.Pages):
		return unchanged(r.doc), nil
	case len(keep) == 0:
		return nil, fmt.Errorf("%w: cannot delete every page", document.ErrEmptyDocument)
	}
	return unchanged(r.doc.Derive(keep)), nil
}

// Duplicate inserts a copy after each selected page. Copies get new ids and
// start unselected.
type Duplicate struct{}

func (Duplicate) Tool() entitlement.Tool               { return entitlement.ToolDuplicate }
func (op Duplicate) accept(v visitor) (*Result, error) { return v.visitDuplicate(op) }

func (r *run) visitDuplicate(Duplicate) (*Result, error) {
	if err := r.current(); err != nil {
		return nil, err
	}
	selected := len(r.doc.Selected())
	if selected == 0 {
		return unchanged(r.doc), nil
	}
	next := make([]*document.Page, 0, len(r.doc.Pages)+selected)
	for _, p := range r.doc.Pages {
		next = append(next, p)
		if p.Selected {
			next = append(next, p.Copy())
		}
	}
	return unchanged(r.doc.Derive(next)), nil
}

// Input is one document to merge. Document, when set, is used as is;
// otherwise Data is loaded with Password.
type Input struct {
	Name     string
	Data     []byte
	Password string
	Document *document.Document
}

// Merge concatenates inputs, after the current document when IncludeCurrent
// is set. Every page gets a new id and starts unselected.
type Merge struct {
	Inputs         []Input
	IncludeCurrent bool
}

func (Merge) Tool() entitlement.Tool               { return entitlement.ToolMerge }
func (op Merge) accept(v visitor) (*Result, error) { return v.visitMerge(op) }

func (r *run) visitMerge(op Merge) (*Result, error) {
	if len(op.Inputs) == 0 {
		return nil, fmt.Errorf("%w: nothing to merge", ErrInvalidParams)
	}
	var docs []*document.Document
	if op.IncludeCurrent {
		if err := r.current(); err != nil {
			return nil, err
		}
		docs = append(docs, r.doc)
	}
	for i, in := range op.Inputs {
		name := in.Name
		if name == "" {
			name = fmt.Sprintf("input %d", i+1)
		}
		doc := in.Document
		if doc == nil {
			loaded, err := r.engine.loader.Load(r.ctx, in.Data, document.WithPassword(in.Password))
			if err != nil {
				if r.ctx.Err() != nil {
					return nil, r.ctx.Err()
				}
				return nil, fmt.Errorf("%w %q: %w", ErrIncompatibleInput, name, err)
			}
			doc = loaded
		}
		if len(doc.Pages) == 0 {
			return nil, fmt.Errorf("%w %q: %w", ErrIncompatibleInput, name, document.ErrEmptyDocument)
		}
		docs = append(docs, doc)
	}

	var merged []*document.Page
	for _, d := range docs {
		for _, p := range d.Pages {
			merged = append(merged, p.Copy())
		}
	}
	return unchanged(docs[0].Derive(merged)), nil
}

// SplitMode selects how Split partitions a document.
type SplitMode int

const (
	// SplitExtract makes one part of the selected pages.
	SplitExtract SplitMode = iota
	// SplitRange makes one part per token of Ranges.
	SplitRange
	// SplitSingle makes one part per page.
	SplitSingle
	// SplitEveryN makes parts of Every pages; the last may be shorter.
	SplitEveryN
	SplitEven
	SplitOdd
)

var splitModeNames = [...]string{"extract", "range", "single", "every-n", "even", "odd"}

func (m SplitMode) String() string {
	if m >= 0 && int(m) < len(splitModeNames) {
		return splitModeNames[m]
	}
	return fmt.Sprintf("split(%d)", int(m))
}

func ParseSplitMode(s string) (SplitMode, error) {
	for i, name := range splitModeNames {
		if strings.EqualFold(s, name) {
			return SplitMode(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown split mode %q", ErrInvalidParams, s)
}

// Split partitions the document. The current document is left as is and
// the pieces are returned as Result.Parts.
type Split struct {
	Mode   SplitMode
	Ranges string
	Every  int
}

func (Split) Tool() entitlement.Tool               { return entitlement.ToolSplit }
func (op Split) accept(v visitor) (*Result, error) { return v.visitSplit(op) }

func (r *run) visitSplit(op Split) (*Result, error) {
	if err := r.current(); err != nil {
		return nil, err
	}
	groups, err := r.splitGroups(op)
	if err != nil {
		return nil, err
	}
	res := unchanged(r.doc)
	for _, g := range groups {
		part := make([]*document.Page, len(g))
		for i, p := range g {
			part[i] = p.Copy()
		}
		res.Parts = append(res.Parts, r.doc.Derive(part))
	}
	return res, nil
}

func (r *run) splitGroups(op Split) ([][]*document.Page, error) {
	all := r.doc.Pages
	switch op.Mode {
	case SplitExtract:
		sel := r.doc.Selected()
		if len(sel) == 0 {
			return nil, ErrEmptySelection
		}
		return [][]*document.Page{sel}, nil
	case SplitRange:
		ranges, err := ParseRanges(op.Ranges, len(all))
		if err != nil {
			return nil, err
		}
		out := make([][]*document.Page, len(ranges))
		for i, nums := range ranges {
			for _, n := range nums {
				out[i] = append(out[i], all[n-1])
			}
		}
		return out, nil
	case SplitSingle:
		out := make([][]*document.Page, len(all))
		for i, p := range all {
			out[i] = []*document.Page{p}
		}
		return out, nil
	case SplitEveryN:
		if op.Every < 1 {
			return nil, fmt.Errorf("%w: every-n needs a positive page count, got %d", ErrInvalidParams, op.Every)
		}
		var out [][]*document.Page
		for start := 0; start < len(all); start += op.Every {
			out = append(out, all[start:min(start+op.Every, len(all))])
		}
		return out, nil
	case SplitEven, SplitOdd:
		var part []*document.Page
		first := 0
		if op.Mode == SplitEven {
			first = 1
		}
		for i := first; i < len(all); i += 2 {
			part = append(part, all[i])
		}
		if len(part) == 0 {
			return nil, fmt.Errorf("%w: document has no %s pages", ErrInvalidParams, op.Mode)
		}
		return [][]*document.Page{part}, nil
	}
	return nil, fmt.Errorf("%w: unknown split mode %d", ErrInvalidParams, int(op.Mode))
}

// Compress shrinks images and streams at the given preset.
type Compress struct {
	Level optimize.Level
}

func (Compress) Tool() entitlement.Tool               { return entitlement.ToolCompress }
func (op Compress) accept(v visitor) (*Result, error) { return v.visitCompress(op) }

func (r *run) visitCompress(op Compress) (*Result, error) {
	if err := r.current(); err != nil {
		return nil, err
	}
	if op.Level < optimize.LevelLow || op.Level > optimize.LevelExtreme {
		return nil, fmt.Errorf("%w: compression level %d", ErrInvalidParams, int(op.Level))
	}
	cfg := optimize.ConfigFor(op.Level)
	srcs := make([]*pages.Source, len(r.doc.Pages))
	for i, p := range r.doc.Pages {
		srcs[i] = p.Source
	}
	out, stats, err := optimize.New(cfg, optimize.WithLogger(r.engine.logger)).Optimize(r.ctx, srcs)
	if err != nil {
		return nil, err
	}
	next := make([]*document.Page, len(r.doc.Pages))
	for i, p := range r.doc.Pages {
		next[i] = p.WithSource(out[i])
	}
	doc := r.doc.Derive(next)
	if cfg.StripMetadata {
		doc.Info = document.Info{}
	}
	return &Result{Document: doc, Compression: &stats}, nil
}

// PasswordAction tells Password whether to add or remove protection.
type PasswordAction int

const (
	PasswordAdd PasswordAction = iota
	PasswordRemove
)

// Password protects the whole document or removes its protection. Remove
// requires Current to open the existing protection.
type Password struct {
	Action        PasswordAction
	UserPassword  string
	OwnerPassword string
	Current       string
	Algorithm     security.Algorithm
	// Permissions defaults to everything allowed.
	Permissions *raw.Permissions
}

func (Password) Tool() entitlement.Tool               { return entitlement.ToolPassword }
func (op Password) accept(v visitor) (*Result, error) { return v.visitPassword(op) }

func (r *run) visitPassword(op Password) (*Result, error) {
	if err := r.current(); err != nil {
		return nil, err
	}
	switch op.Action {
	case PasswordAdd:
		if op.UserPassword == "" {
			return nil, fmt.Errorf("%w: user password is empty", ErrInvalidPassword)
		}
		perms := raw.AllowAll()
		if op.Permissions != nil {
			perms = *op.Permissions
		}
		doc := r.doc.Derive(r.doc.Pages)
		doc.Protection = &document.Protection{
			UserPassword:  op.UserPassword,
			OwnerPassword: op.OwnerPassword,
			Permissions:   perms,
			Algorithm:     op.Algorithm,
		}
		return unchanged(doc), nil
	case PasswordRemove:
		if r.doc.Protection == nil {
			return nil, fmt.Errorf("%w: document is not protected", ErrInvalidPassword)
		}
		if !r.doc.Protection.Check(op.Current) {
			return nil, ErrInvalidPassword
		}
		doc := r.doc.Derive(r.doc.Pages)
		doc.Protection = nil
		return unchanged(doc), nil
	}
	return nil, fmt.Errorf("%w: unknown password action %d", ErrInvalidParams, int(op.Action))
}
