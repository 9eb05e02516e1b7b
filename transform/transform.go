// Package transform applies structural operations to documents.
package transform

import (
	"context"
	"fmt"
	"time"

	"github.com/wudi/pdfstudio/document"
	"github.com/wudi/pdfstudio/entitlement"
	"github.com/wudi/pdfstudio/observability"
	"github.com/wudi/pdfstudio/optimize"
)

// Operation is one of the operation types of this package: Rotate, Merge,
// Split, Delete, Duplicate, Watermark, Compress, Password, Signature or
// Stamp.
type Operation interface {
	// Tool is the entitlement that gates the operation.
	Tool() entitlement.Tool
	accept(v visitor) (*Result, error)
}

// visitor has one method per operation type.
type visitor interface {
	visitRotate(Rotate) (*Result, error)
	visitMerge(Merge) (*Result, error)
	visitSplit(Split) (*Result, error)
	visitDelete(Delete) (*Result, error)
	visitDuplicate(Duplicate) (*Result, error)
	visitWatermark(Watermark) (*Result, error)
	visitCompress(Compress) (*Result, error)
	visitPassword(Password) (*Result, error)
	visitSignature(Signature) (*Result, error)
	visitStamp(Stamp) (*Result, error)
}

// Result is the outcome of Apply. Document is the successor document, or
// the input itself when nothing changed. Split fills Parts.
type Result struct {
	Document    *document.Document
	Parts       []*document.Document
	Compression *optimize.Stats
}

// Gate decides whether a tool may run.
type Gate interface {
	CanRun(tool entitlement.Tool) error
}

type Engine struct {
	loader  *document.Loader
	gate    Gate
	logger  observability.Logger
	tracer  observability.Tracer
	metrics *observability.Metrics
	now     func() time.Time
}

type Option func(*Engine)

// WithLoader sets the loader used for Merge inputs.
func WithLoader(l *document.Loader) Option { return func(e *Engine) { e.loader = l } }

// WithGate makes every operation check the gate first.
func WithGate(g Gate) Option { return func(e *Engine) { e.gate = g } }

func WithLogger(l observability.Logger) Option {
	return func(e *Engine) { e.logger = observability.OrNop(l) }
}

func WithTracer(t observability.Tracer) Option { return func(e *Engine) { e.tracer = t } }

func WithMetrics(m *observability.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithClock sets the time used for watermark date placeholders.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		logger: observability.NopLogger{},
		tracer: observability.NopTracer(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.loader == nil {
		e.loader = document.NewLoader(document.WithLogger(e.logger))
	}
	return e
}

// Apply checks the gate, validates op against doc and runs it. doc is never
// modified. Failures are *OperationError.
func (e *Engine) Apply(ctx context.Context, doc *document.Document, op Operation) (res *Result, err error) {
	if op == nil {
		return nil, &OperationError{Op: "apply", Err: fmt.Errorf("%w: nil operation", ErrInvalidParams)}
	}
	tool := op.Tool()
	ctx, span := e.tracer.StartSpan(ctx, "transform."+string(tool))
	start := time.Now()
	defer func() {
		e.metrics.ObserveOperation(string(tool), time.Since(start), err)
		if err != nil {
			span.SetError(err)
		}
		span.Finish()
	}()

	if e.gate != nil {
		if err := e.gate.CanRun(tool); err != nil {
			return nil, &OperationError{Op: string(tool), Err: err}
		}
	}
	res, err = op.accept(&run{engine: e, ctx: ctx, doc: doc})
	if err != nil {
		e.logger.Debug("operation failed", observability.String("tool", string(tool)), observability.Error("error", err))
		return nil, &OperationError{Op: string(tool), Err: err}
	}
	span.SetTag("pages", res.Document.PageCount())
	e.logger.Debug("operation applied",
		observability.String("tool", string(tool)),
		observability.Int("pages", res.Document.PageCount()),
		observability.Int("parts", len(res.Parts)),
		observability.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

// run carries one Apply call through the visitor.
type run struct {
	engine *Engine
	ctx    context.Context
	doc    *document.Document
}

func (r *run) current() error {
	if r.doc == nil || len(r.doc.Pages) == 0 {
		return fmt.Errorf("%w: no document", ErrInvalidParams)
	}
	return nil
}

func unchanged(doc *document.Document) *Result { return &Result{Document: doc} }
