package filters

import (
	"context"
	"errors"
	"fmt"

	"github.com/wudi/pdfstudio/ir/raw"
)

var (
	ErrUnsupportedFilter = errors.New("unsupported filter")
	ErrLimitExceeded     = errors.New("decoded size exceeds limit")
)

type Decoder interface {
	Name() string
	Decode(ctx context.Context, input []byte, params *raw.DictObj) ([]byte, error)
}

type Limits struct {
	MaxDecompressedSize int64
}

// DefaultLimits caps a single decoded stream at 256 MiB.
func DefaultLimits() Limits { return Limits{MaxDecompressedSize: 256 << 20} }

type Pipeline struct {
	decoders map[string]Decoder
	limits   Limits
}

// NewPipeline constructs a pipeline with provided decoders and limits.
func NewPipeline(limits Limits, decoders ...Decoder) *Pipeline {
	p := &Pipeline{decoders: make(map[string]Decoder), limits: limits}
	for _, d := range decoders {
		p.decoders[d.Name()] = d
	}
	return p
}

// Default returns a pipeline with every general-purpose decoder registered.
func Default(limits Limits) *Pipeline {
	return NewPipeline(limits,
		NewFlateDecoder(limits),
		NewLZWDecoder(),
		NewASCII85Decoder(),
		NewASCIIHexDecoder(),
		NewRunLengthDecoder(),
		cryptDecoder{},
	)
}

var abbreviations = map[string]string{
	"Fl":  "FlateDecode",
	"LZW": "LZWDecode",
	"A85": "ASCII85Decode",
	"AHx": "ASCIIHexDecode",
	"RL":  "RunLengthDecode",
	"DCT": "DCTDecode",
	"CCF": "CCITTFaxDecode",
}

// Canonical expands inline-image filter abbreviations.
func Canonical(name string) string {
	if full, ok := abbreviations[name]; ok {
		return full
	}
	return name
}

// IsImageFilter reports whether name is an image codec that this package
// leaves encoded.
func IsImageFilter(name string) bool {
	switch Canonical(name) {
	case "DCTDecode", "JPXDecode", "CCITTFaxDecode", "JBIG2Decode":
		return true
	}
	return false
}

func (p *Pipeline) Decode(ctx context.Context, input []byte, names []string, params []*raw.DictObj) ([]byte, error) {
	data := input
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dec, ok := p.decoders[Canonical(name)]
		if !ok {
			return nil, fmt.Errorf("%s: %w", name, ErrUnsupportedFilter)
		}
		var param *raw.DictObj
		if i < len(params) {
			param = params[i]
		}
		out, err := dec.Decode(ctx, data, param)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if p.limits.MaxDecompressedSize > 0 && int64(len(out)) > p.limits.MaxDecompressedSize {
			return nil, ErrLimitExceeded
		}
		data = out
	}
	return data, nil
}

// DecodeStream fully decodes a stream payload.
func (p *Pipeline) DecodeStream(ctx context.Context, s *raw.StreamObj) ([]byte, error) {
	names, params := ExtractFilters(s.Dict)
	return p.Decode(ctx, s.Data, names, params)
}

// DecodeImageStream decodes every general-purpose filter of an image stream
// and stops at a trailing image codec, which is returned by name so the
// caller can hand the payload to an image decoder.
func (p *Pipeline) DecodeImageStream(ctx context.Context, s *raw.StreamObj) ([]byte, string, error) {
	names, params := ExtractFilters(s.Dict)
	if n := len(names); n > 0 && IsImageFilter(names[n-1]) {
		data, err := p.Decode(ctx, s.Data, names[:n-1], params)
		return data, Canonical(names[n-1]), err
	}
	data, err := p.Decode(ctx, s.Data, names, params)
	return data, "", err
}

// ExtractFilters reads Filter and DecodeParms entries from a stream dictionary.
func ExtractFilters(dict *raw.DictObj) ([]string, []*raw.DictObj) {
	var names []string
	var params []*raw.DictObj
	if dict == nil {
		return nil, nil
	}
	switch f := dict.KV["Filter"].(type) {
	case raw.NameObj:
		names = append(names, f.Val)
	case *raw.ArrayObj:
		for _, item := range f.Items {
			if n, ok := item.(raw.NameObj); ok {
				names = append(names, n.Val)
			}
		}
	}
	if len(names) == 0 {
		return nil, nil
	}
	parms := dict.KV["DecodeParms"]
	if parms == nil {
		parms = dict.KV["DP"]
	}
	switch p := parms.(type) {
	case *raw.DictObj:
		params = append(params, p)
	case *raw.ArrayObj:
		for _, item := range p.Items {
			d, _ := item.(*raw.DictObj)
			params = append(params, d)
		}
	}
	return names, params
}

func intParam(params *raw.DictObj, key string, def int) int {
	if params == nil {
		return def
	}
	if v, ok := raw.IntOf(params.KV[key]); ok {
		return int(v)
	}
	return def
}
