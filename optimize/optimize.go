// Package optimize shrinks the object graphs behind page sources.
package optimize

import (
	"context"
	"fmt"
	"strings"

	"github.com/wudi/pdfstudio/filters"
	"github.com/wudi/pdfstudio/ir/raw"
	"github.com/wudi/pdfstudio/observability"
	"github.com/wudi/pdfstudio/pages"
)

// Level is a compression preset.
type Level int

const (
	LevelLow Level = iota
	LevelMedium
	LevelHigh
	LevelExtreme
)

func (l Level) String() string {
	switch l {
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	case LevelExtreme:
		return "extreme"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ParseLevel accepts the names printed by String.
func ParseLevel(s string) (Level, error) {
	for l := LevelLow; l <= LevelExtreme; l++ {
		if strings.EqualFold(s, l.String()) {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown compression level %q", s)
}

// ConfigFor returns the settings for a preset.
func ConfigFor(l Level) Config {
	cfg := Config{CompressStreams: true, CombineDuplicateStreams: true}
	switch l {
	case LevelLow:
		cfg.ImageQuality, cfg.ImageUpperPPI = 90, 300
	case LevelMedium:
		cfg.ImageQuality, cfg.ImageUpperPPI = 75, 200
	case LevelHigh:
		cfg.ImageQuality, cfg.ImageUpperPPI = 60, 150
	default:
		cfg.ImageQuality, cfg.ImageUpperPPI = 40, 72
	}
	cfg.StripMetadata = l >= LevelMedium
	return cfg
}

type Config struct {
	// ImageQuality is the JPEG quality (1-100); 0 leaves images alone.
	ImageQuality int
	// ImageUpperPPI caps image resolution at its largest use on a page.
	ImageUpperPPI float64
	// StripMetadata drops XMP streams and /PieceInfo.
	StripMetadata           bool
	CompressStreams         bool
	CombineDuplicateStreams bool
}

// Stats reports what an Optimize call changed.
type Stats struct {
	Images       int
	Reencoded    int
	Resized      int
	Compressed   int
	Deduplicated int
	BytesBefore  int64
	BytesAfter   int64
}

func (s *Stats) add(o Stats) {
	s.Images += o.Images
	s.Reencoded += o.Reencoded
	s.Resized += o.Resized
	s.Compressed += o.Compressed
	s.Deduplicated += o.Deduplicated
	s.BytesBefore += o.BytesBefore
	s.BytesAfter += o.BytesAfter
}

type Optimizer struct {
	config   Config
	pipeline *filters.Pipeline
	logger   observability.Logger
}

type Option func(*Optimizer)

func WithLogger(l observability.Logger) Option {
	return func(o *Optimizer) { o.logger = observability.OrNop(l) }
}

func WithPipeline(p *filters.Pipeline) Option {
	return func(o *Optimizer) { o.pipeline = p }
}

func New(config Config, opts ...Option) *Optimizer {
	o := &Optimizer{
		config:   config,
		pipeline: filters.Default(filters.DefaultLimits()),
		logger:   observability.NopLogger{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Optimize rewrites the documents behind srcs and returns the sources
// rebound to the rewritten copies, in the same order. The input graphs are
// never modified.
func (o *Optimizer) Optimize(ctx context.Context, srcs []*pages.Source) ([]*pages.Source, Stats, error) {
	var total Stats
	copies := make(map[*raw.Document]*raw.Document)
	moved := make(map[*raw.Document]map[raw.ObjectRef]raw.ObjectRef)
	groups := make(map[*raw.Document][]*pages.Source)
	var order []*raw.Document
	for _, src := range srcs {
		if _, ok := groups[src.Doc]; !ok {
			order = append(order, src.Doc)
		}
		groups[src.Doc] = append(groups[src.Doc], src)
	}

	for _, doc := range order {
		if err := ctx.Err(); err != nil {
			return nil, total, err
		}
		cp := doc.ShallowCopy()
		st, repl, err := o.optimizeDoc(ctx, cp, groups[doc])
		if err != nil {
			return nil, total, fmt.Errorf("failed to optimize document: %w", err)
		}
		copies[doc] = cp
		moved[doc] = repl
		total.add(st)
	}

	out := make([]*pages.Source, len(srcs))
	for i, src := range srcs {
		next := src.WithDoc(copies[src.Doc])
		if d, changed := replaceRefs(next.Dict, moved[src.Doc]); changed {
			next.Dict = d.(*raw.DictObj)
		}
		if o.config.StripMetadata {
			next.Dict = stripKeys(next.Dict)
		}
		out[i] = next
	}
	o.logger.Debug("optimized",
		observability.Int("images", total.Images),
		observability.Int("reencoded", total.Reencoded),
		observability.Int("resized", total.Resized),
		observability.Int("deduplicated", total.Deduplicated),
		observability.Int64("bytes_before", total.BytesBefore),
		observability.Int64("bytes_after", total.BytesAfter),
	)
	return out, total, nil
}

func (o *Optimizer) optimizeDoc(ctx context.Context, doc *raw.Document, srcs []*pages.Source) (Stats, map[raw.ObjectRef]raw.ObjectRef, error) {
	var st Stats
	var repl map[raw.ObjectRef]raw.ObjectRef
	for _, ref := range doc.Refs() {
		if s, ok := doc.Objects[ref].(*raw.StreamObj); ok {
			st.BytesBefore += int64(len(s.Data))
		}
	}
	if o.config.StripMetadata {
		stripMetadata(doc)
	}
	if o.config.ImageQuality > 0 {
		if err := o.optimizeImages(ctx, doc, srcs, &st); err != nil {
			return st, nil, err
		}
	}
	if o.config.CompressStreams {
		if err := o.compressStreams(ctx, doc, &st); err != nil {
			return st, nil, err
		}
	}
	if o.config.CombineDuplicateStreams {
		repl = combineDuplicateStreams(doc)
		st.Deduplicated = len(repl)
	}
	for _, ref := range doc.Refs() {
		if s, ok := doc.Objects[ref].(*raw.StreamObj); ok {
			st.BytesAfter += int64(len(s.Data))
		}
	}
	return st, repl, nil
}
