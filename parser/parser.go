package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wudi/pdfstudio/filters"
	"github.com/wudi/pdfstudio/ir/raw"
	"github.com/wudi/pdfstudio/observability"
	"github.com/wudi/pdfstudio/security"
	"github.com/wudi/pdfstudio/xref"
)

var (
	ErrCorrupt          = errors.New("corrupt document")
	ErrPasswordRequired = errors.New("password required")
)

// Config controls high-level PDF parsing (xref resolution + object loading).
type Config struct {
	Password string
	Limits   filters.Limits
	XRef     xref.ResolverConfig
	Logger   observability.Logger
}

// Result is a fully loaded, decrypted object graph.
type Result struct {
	Document *raw.Document
	// Handler is nil for unencrypted files. It stays authenticated and can
	// re-encrypt with the original key.
	Handler security.Handler
	Role    security.Role
	// EncryptDict and FileID describe the input's protection so a password
	// can be checked again later.
	EncryptDict *raw.DictObj
	FileID      []byte
	Repaired    bool
}

// DocumentParser builds a raw.Document using xref tables/streams and the object loader.
type DocumentParser struct {
	cfg      Config
	pipeline *filters.Pipeline
}

func NewDocumentParser(cfg Config) *DocumentParser {
	if cfg.Limits.MaxDecompressedSize == 0 {
		cfg.Limits = filters.DefaultLimits()
	}
	cfg.XRef.Limits = cfg.Limits
	cfg.Logger = observability.OrNop(cfg.Logger)
	return &DocumentParser{cfg: cfg, pipeline: filters.Default(cfg.Limits)}
}

// Parse loads every object of data eagerly. data is never modified.
func (p *DocumentParser) Parse(ctx context.Context, data []byte) (*Result, error) {
	version, ok := detectHeaderVersion(data)
	if !ok {
		return nil, fmt.Errorf("%w: missing %%PDF- header", ErrCorrupt)
	}

	resolver := xref.NewResolver(p.cfg.XRef)
	table, err := resolver.Resolve(ctx, data)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.cfg.Logger.Warn("xref unreadable, scanning for objects", observability.Error("error", err))
		if table, err = resolver.Repair(ctx, data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
	}

	res, err := p.load(ctx, data, table, version)
	if errors.Is(err, errOffsetMismatch) && !table.Repaired {
		p.cfg.Logger.Warn("xref offsets stale, scanning for objects", observability.Error("error", err))
		if table, err = resolver.Repair(ctx, data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		res, err = p.load(ctx, data, table, version)
	}
	if err != nil {
		if errors.Is(err, errOffsetMismatch) {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return nil, err
	}
	if _, ok := res.Document.Catalog(); !ok {
		return nil, fmt.Errorf("%w: no document catalog", ErrCorrupt)
	}
	p.cfg.Logger.Debug("parsed document",
		observability.Int("objects", len(res.Document.Objects)),
		observability.Int("xref_sections", table.Sections),
		observability.String("version", version),
	)
	return res, nil
}

func (p *DocumentParser) load(ctx context.Context, data []byte, table *xref.Table, version string) (*Result, error) {
	loader := newObjectLoader(data, table, p.pipeline)
	res := &Result{Repaired: table.Repaired}

	trailer := table.Trailer.Copy()
	if err := p.setupSecurity(ctx, loader, trailer, res); err != nil {
		return nil, err
	}

	doc := raw.NewDocument(version)
	doc.Trailer = trailer
	doc.Permissions = raw.AllowAll()
	for _, num := range table.Objects() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if num == 0 || (res.Handler != nil && num == loader.skip.Num) {
			continue
		}
		ref, obj, err := loader.load(ctx, num)
		if err != nil {
			if errors.Is(err, errOffsetMismatch) {
				return nil, err
			}
			p.cfg.Logger.Debug("skipping unreadable object", observability.Int("object", num), observability.Error("error", err))
			continue
		}
		if s, ok := obj.(*raw.StreamObj); ok {
			if typ, _ := raw.NameOf(s.Dict.KV["Type"]); typ == "ObjStm" || typ == "XRef" {
				continue
			}
		}
		doc.Objects[ref] = obj
	}

	if res.Handler != nil {
		doc.Encrypted = true
		doc.Permissions = res.Handler.Permissions()
		doc.MetadataEncrypted = res.Handler.EncryptMetadata()
		doc.Trailer.Delete("Encrypt")
	}
	doc.Metadata = readInfo(doc)
	res.Document = doc
	return res, nil
}

func (p *DocumentParser) setupSecurity(ctx context.Context, loader *objectLoader, trailer *raw.DictObj, res *Result) error {
	encObj, ok := trailer.KV["Encrypt"]
	if !ok {
		return nil
	}
	var encDict *raw.DictObj
	switch v := encObj.(type) {
	case *raw.DictObj:
		encDict = v
	case raw.RefObj:
		ref, obj, err := loader.load(ctx, v.R.Num)
		if err != nil {
			return err
		}
		loader.skip = ref
		encDict, _ = obj.(*raw.DictObj)
	}
	if encDict == nil {
		return fmt.Errorf("%w: /Encrypt is not a dictionary", ErrCorrupt)
	}

	handler, err := (&security.HandlerBuilder{}).
		WithEncryptDict(encDict).
		WithFileID(fileID(trailer)).
		Build()
	if err != nil {
		return err
	}
	role, err := handler.Authenticate(p.cfg.Password)
	if err != nil {
		if errors.Is(err, security.ErrInvalidPassword) && p.cfg.Password == "" {
			return ErrPasswordRequired
		}
		return err
	}
	loader.handler = handler
	res.Handler = handler
	res.Role = role
	res.EncryptDict = encDict
	res.FileID = fileID(trailer)
	return nil
}

func fileID(trailer *raw.DictObj) []byte {
	arr, ok := trailer.KV["ID"].(*raw.ArrayObj)
	if !ok || arr.Len() == 0 {
		return nil
	}
	b, _ := raw.BytesOf(arr.Items[0])
	return b
}

func readInfo(doc *raw.Document) raw.DocumentMetadata {
	info, ok := doc.Resolve(doc.Trailer.KV["Info"]).(*raw.DictObj)
	if !ok {
		return raw.DocumentMetadata{}
	}
	md := raw.DocumentMetadata{
		Title:    textString(doc, info, "Title"),
		Author:   textString(doc, info, "Author"),
		Creator:  textString(doc, info, "Creator"),
		Producer: textString(doc, info, "Producer"),
		Subject:  textString(doc, info, "Subject"),
	}
	if kw := textString(doc, info, "Keywords"); kw != "" {
		for _, k := range strings.Split(kw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				md.Keywords = append(md.Keywords, k)
			}
		}
	}
	return md
}

func textString(doc *raw.Document, d *raw.DictObj, key string) string {
	b, ok := raw.BytesOf(doc.Resolve(d.KV[key]))
	if !ok {
		return ""
	}
	return DecodeTextString(b)
}

// DecodeTextString decodes a PDF text string: UTF-16BE with a byte order
// mark, UTF-8 with a BOM, or PDFDocEncoding (treated as Latin-1).
func DecodeTextString(b []byte) string {
	switch {
	case len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF:
		b = b[2:]
		runes := make([]rune, 0, len(b)/2)
		for i := 0; i+1 < len(b); i += 2 {
			r := rune(b[i])<<8 | rune(b[i+1])
			if r >= 0xD800 && r < 0xDC00 && i+3 < len(b) {
				lo := rune(b[i+2])<<8 | rune(b[i+3])
				if lo >= 0xDC00 && lo < 0xE000 {
					r = (r-0xD800)<<10 + (lo - 0xDC00) + 0x10000
					i += 2
				}
			}
			runes = append(runes, r)
		}
		return string(runes)
	case bytes.HasPrefix(b, []byte{0xEF, 0xBB, 0xBF}):
		return string(b[3:])
	}
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}

// detectHeaderVersion finds "%PDF-x.y" within the first 1024 bytes.
func detectHeaderVersion(data []byte) (string, bool) {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	idx := bytes.Index(head, []byte("%PDF-"))
	if idx < 0 {
		return "", false
	}
	rest := data[idx+5:]
	end := 0
	for end < len(rest) && end < 8 && (rest[end] == '.' || (rest[end] >= '0' && rest[end] <= '9')) {
		end++
	}
	if end == 0 {
		return "1.4", true
	}
	return string(rest[:end]), true
}
