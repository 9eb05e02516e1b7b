package document

import (
	"context"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/blake2b"

	"github.com/wudi/pdfstudio/filters"
	"github.com/wudi/pdfstudio/observability"
	"github.com/wudi/pdfstudio/pages"
	"github.com/wudi/pdfstudio/parser"
	"github.com/wudi/pdfstudio/render"
	"github.com/wudi/pdfstudio/security"
)

type loadOptions struct {
	password string
	device   Device
	renderer render.Renderer
	logger   observability.Logger
	tracer   observability.Tracer
	limits   filters.Limits
}

// LoadOption configures a Loader or a single Load call.
type LoadOption func(*loadOptions)

func WithPassword(pwd string) LoadOption {
	return func(o *loadOptions) { o.password = pwd }
}

func WithDevice(d Device) LoadOption {
	return func(o *loadOptions) { o.device = d }
}

// WithRenderer sets the renderer used for thumbnails.
func WithRenderer(r render.Renderer) LoadOption {
	return func(o *loadOptions) { o.renderer = r }
}

func WithLogger(l observability.Logger) LoadOption {
	return func(o *loadOptions) { o.logger = l }
}

func WithTracer(t observability.Tracer) LoadOption {
	return func(o *loadOptions) { o.tracer = t }
}

// WithLimits bounds stream decompression.
func WithLimits(l filters.Limits) LoadOption {
	return func(o *loadOptions) { o.limits = l }
}

// Loader parses PDF bytes into Documents.
type Loader struct {
	defaults []LoadOption
}

// NewLoader returns a loader whose options apply to every Load call before
// the call's own options.
func NewLoader(opts ...LoadOption) *Loader {
	return &Loader{defaults: opts}
}

// Load parses data. data is never modified. Failures are *LoadError values
// whose Kind is one of ErrCorruptDocument, ErrUnsupportedEncryption,
// ErrInvalidPassword or ErrEmptyDocument.
func (l *Loader) Load(ctx context.Context, data []byte, opts ...LoadOption) (*Document, error) {
	o := loadOptions{limits: filters.DefaultLimits()}
	for _, opt := range l.defaults {
		opt(&o)
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = observability.OrNop(o.logger)
	if o.tracer == nil {
		o.tracer = observability.NopTracer()
	}
	if o.renderer == nil {
		o.renderer = &render.Rasterizer{Pipeline: filters.Default(o.limits), Logger: o.logger}
	}

	ctx, span := o.tracer.StartSpan(ctx, observability.SpanLoad)
	defer span.Finish()
	span.SetTag("bytes", len(data))

	doc, err := load(ctx, data, o)
	if err != nil {
		span.SetError(err)
		o.logger.Warn("load failed", observability.Error("error", err), observability.Int("bytes", len(data)))
		return nil, err
	}
	span.SetTag("pages", len(doc.Pages))
	o.logger.Debug("document loaded",
		observability.String("id", doc.ID),
		observability.Int("pages", len(doc.Pages)),
		observability.Bool("encrypted", doc.Protection != nil),
	)
	return doc, nil
}

func load(ctx context.Context, data []byte, o loadOptions) (*Document, error) {
	res, err := parser.NewDocumentParser(parser.Config{
		Password: o.password,
		Limits:   o.limits,
		Logger:   o.logger,
	}).Parse(ctx, data)
	if err != nil {
		return nil, classify(err, o.password)
	}
	srcs, err := pages.Collect(res.Document)
	if err != nil {
		return nil, loadError(ErrCorruptDocument, "page tree unreadable", err)
	}
	if len(srcs) == 0 {
		return nil, loadError(ErrEmptyDocument, "", nil)
	}

	sum := blake2b.Sum256(data)
	meta := res.Document.Metadata
	doc := &Document{
		ID:         hex.EncodeToString(sum[:16]),
		Version:    res.Document.Version,
		SourceSize: int64(len(data)),
		Info: Info{
			Title:    meta.Title,
			Author:   meta.Author,
			Subject:  meta.Subject,
			Keywords: meta.Keywords,
			Creator:  meta.Creator,
			Producer: meta.Producer,
		},
	}
	if res.Handler != nil {
		doc.Protection = protectionFrom(res, o.password)
	}
	scale := o.device.ThumbnailScale()
	doc.Pages = make([]*Page, len(srcs))
	for i, src := range srcs {
		p := NewPage(src, o.renderer, scale)
		p.Number = i + 1
		doc.Pages[i] = p
	}
	return doc, nil
}

func protectionFrom(res *parser.Result, pwd string) *Protection {
	p := &Protection{
		Permissions: res.Document.Permissions,
		source:      &security.Retained{Handler: res.Handler, Dict: res.EncryptDict, FileID: res.FileID},
	}
	switch rev := res.Handler.Revision(); {
	case rev >= 5:
		p.Algorithm = security.AlgorithmAES256
	case rev == 4:
		p.Algorithm = security.AlgorithmAES128
	default:
		p.Algorithm = security.AlgorithmRC4128
	}
	if res.Role == security.RoleOwner {
		p.OwnerPassword = pwd
		p.UserPassword, p.userKnown = security.RecoverUserPassword(res.Handler, pwd)
	} else {
		p.UserPassword, p.userKnown = pwd, true
	}
	return p
}

func classify(err error, pwd string) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, parser.ErrPasswordRequired):
		return loadError(ErrUnsupportedEncryption, "password required", err)
	case errors.Is(err, security.ErrInvalidPassword):
		if pwd == "" {
			return loadError(ErrUnsupportedEncryption, "password required", err)
		}
		return loadError(ErrInvalidPassword, "", err)
	case errors.Is(err, security.ErrUnsupportedEncryption):
		return loadError(ErrUnsupportedEncryption, "", err)
	case errors.Is(err, parser.ErrCorrupt):
		return loadError(ErrCorruptDocument, "", err)
	}
	return loadError(ErrCorruptDocument, "", err)
}
