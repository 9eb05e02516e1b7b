package transform

import (
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/wudi/pdfstudio/contentstream"
	"github.com/wudi/pdfstudio/coords"
	"github.com/wudi/pdfstudio/document"
	"github.com/wudi/pdfstudio/entitlement"
	"github.com/wudi/pdfstudio/fonts"
	"github.com/wudi/pdfstudio/ir/raw"
	"github.com/wudi/pdfstudio/observability"
	"github.com/wudi/pdfstudio/pages"
)

type SignatureKind int

const (
	// SignatureText is a typed signature set in Helvetica.
	SignatureText SignatureKind = iota
	// SignatureImage is a drawn or scanned signature.
	SignatureImage
)

func (k SignatureKind) String() string {
	if k == SignatureImage {
		return "image"
	}
	return "text"
}

// Signature signs one page inside the box X, Y, Width, Height, given in
// points from the lower-left corner of the crop box. Name and Title are
// set below the box.
type Signature struct {
	Kind  SignatureKind
	Page  int
	Text  string
	Image []byte

	X, Y, Width, Height float64

	Name  string
	Title string
	// Date adds "Date: " and the current date, formatted by DateFormat.
	Date       bool
	DateFormat string
}

const (
	defaultDateFormat = "MM/DD/YYYY"
	signatureMaxSize  = 24
	dateSize          = 10
)

func (Signature) Tool() entitlement.Tool               { return entitlement.ToolSignature }
func (op Signature) accept(v visitor) (*Result, error) { return v.visitSignature(op) }

func (r *run) visitSignature(sig Signature) (*Result, error) {
	if err := r.current(); err != nil {
		return nil, err
	}
	if sig.Page < 1 || sig.Page > len(r.doc.Pages) {
		return nil, fmt.Errorf("%w: page %d of %d", ErrInvalidRange, sig.Page, len(r.doc.Pages))
	}
	if sig.Width <= 0 || sig.Height <= 0 {
		return nil, fmt.Errorf("%w: signature box %gx%g", ErrInvalidParams, sig.Width, sig.Height)
	}
	var img image.Image
	var jpegData []byte
	switch sig.Kind {
	case SignatureText:
		if strings.TrimSpace(sig.Text) == "" {
			return nil, fmt.Errorf("%w: signature text is empty", ErrInvalidParams)
		}
	case SignatureImage:
		if len(sig.Image) == 0 {
			return nil, fmt.Errorf("%w: signature image is empty", ErrInvalidParams)
		}
		decoded, isJPEG, err := decodeWatermarkImage(sig.Image)
		if err != nil {
			return nil, err
		}
		img = decoded
		if _, cmyk := decoded.(*image.CMYK); isJPEG && !cmyk {
			jpegData = sig.Image
		}
	default:
		return nil, fmt.Errorf("%w: unknown signature kind %d", ErrInvalidParams, sig.Kind)
	}

	date := ""
	if sig.Date {
		date = "Date: " + formatDate(sig.DateFormat, r.engine.now())
	}
	target := func(p *document.Page) bool { return p == r.doc.Pages[sig.Page-1] }
	next, _, err := r.overlayEach(target, func(ov *pages.Overlay, _ int, src *pages.Source) *pages.Source {
		edit := ov.Edit(src)
		box := src.CropBox
		x, y := box.LLX+sig.X, box.LLY+sig.Y
		ops := []contentstream.Operation{op("q")}
		if img != nil {
			name := edit.AddResource("XObject", "Imsig", ov.Add(imageXObject(ov, img, jpegData)))
			ops = append(ops,
				op("q"),
				cm(coords.Scale(sig.Width, sig.Height).Multiply(coords.Translate(x, y))),
				op("Do", raw.NameLiteral(name)),
				op("Q"),
			)
		}
		var font string
		if img == nil || date != "" {
			font = edit.AddResource("Font", "Fsig", ov.Add(fonts.Helvetica{}.Resource(ov)))
		}
		size := min(sig.Height*0.4, signatureMaxSize)
		black, gray := RGB{}, RGB{0.5, 0.5, 0.5}
		if img == nil {
			ops = append(ops, showText(font, sig.Text, size, black, x, y+(sig.Height-size)/2)...)
			if sig.Name != "" {
				ops = append(ops, showText(font, sig.Name, size*0.7, black, x, y-size-5)...)
			}
			if sig.Title != "" {
				ops = append(ops, showText(font, sig.Title, size*0.6, gray, x, y-2*size-10)...)
			}
		}
		if date != "" {
			ops = append(ops, showText(font, date, dateSize, gray, x, y-sig.Height-10)...)
		}
		ops = append(ops, op("Q"))
		return edit.Finish(contentstream.Serialize(ops))
	})
	if err != nil {
		return nil, err
	}
	r.engine.logger.Debug("signature placed",
		observability.String("kind", sig.Kind.String()),
		observability.Int("page", sig.Page),
	)
	return unchanged(r.doc.Derive(next)), nil
}

// formatDate replaces MM, DD, YYYY and YY in layout.
func formatDate(layout string, now time.Time) string {
	if layout == "" {
		layout = defaultDateFormat
	}
	return strings.NewReplacer(
		"YYYY", now.Format("2006"),
		"YY", now.Format("06"),
		"MM", now.Format("01"),
		"DD", now.Format("02"),
	).Replace(layout)
}

var stampTexts = map[string]string{
	"approved":     "APPROVED",
	"rejected":     "REJECTED",
	"reviewed":     "REVIEWED",
	"confidential": "CONFIDENTIAL",
	"draft":        "DRAFT",
	"final":        "FINAL",
}

// StampPresets returns the stamp preset names in a stable order.
func StampPresets() []string {
	return []string{"approved", "rejected", "reviewed", "confidential", "draft", "final", "custom"}
}

// Stamp draws a framed text stamp on the selected pages, or on every page
// when AllPages is set. Text wins over Preset; a custom stamp without text
// reads STAMP.
type Stamp struct {
	Preset string
	Text   string
	// Anchor is one of the corner or center anchors.
	Anchor Anchor
	// Color defaults to red.
	Color    *RGB
	Date     bool
	AllPages bool
}

const (
	stampSize    = 24
	stampPadding = 10
	stampBorder  = 2
	// stampStroke thickens the outline of the stamp glyphs.
	stampStroke = 0.6
)

func (Stamp) Tool() entitlement.Tool               { return entitlement.ToolSignature }
func (op Stamp) accept(v visitor) (*Result, error) { return v.visitStamp(op) }

func (s Stamp) text() (string, error) {
	if s.Text != "" {
		return s.Text, nil
	}
	name := strings.ToLower(strings.TrimSpace(s.Preset))
	if name == "" || name == "custom" {
		return "STAMP", nil
	}
	text, ok := stampTexts[name]
	if !ok {
		return "", fmt.Errorf("%w: unknown stamp preset %q", ErrInvalidParams, s.Preset)
	}
	return text, nil
}

func (r *run) visitStamp(st Stamp) (*Result, error) {
	if err := r.current(); err != nil {
		return nil, err
	}
	if !st.AllPages && len(r.doc.Selected()) == 0 {
		return nil, ErrEmptySelection
	}
	text, err := st.text()
	if err != nil {
		return nil, err
	}
	switch st.Anchor {
	case AnchorDiagonal, AnchorTile:
		return nil, fmt.Errorf("%w: a stamp cannot use anchor %v", ErrInvalidParams, st.Anchor)
	}
	if st.Anchor < AnchorCenter || st.Anchor > AnchorTile {
		return nil, fmt.Errorf("%w: unknown anchor %d", ErrInvalidParams, st.Anchor)
	}
	c := RGB{R: 1}
	if st.Color != nil {
		c = *st.Color
	}
	date := ""
	if st.Date {
		date = r.engine.now().Format("01/02/2006")
	}

	helv := fonts.Helvetica{}
	tw := helv.Width(text, stampSize)
	fontRefs := make(map[*pages.Overlay]raw.RefObj)
	target := func(p *document.Page) bool { return st.AllPages || p.Selected }
	next, stamped, err := r.overlayEach(target, func(ov *pages.Overlay, _ int, src *pages.Source) *pages.Source {
		ref, ok := fontRefs[ov]
		if !ok {
			ref = ov.Add(helv.Resource(ov))
			fontRefs[ov] = ref
		}
		edit := ov.Edit(src)
		font := edit.AddResource("Font", "Fst", ref)
		box := src.CropBox
		x, y := stampOrigin(st.Anchor, box.Width(), box.Height(), tw)
		x, y = x+box.LLX, y+box.LLY
		ops := []contentstream.Operation{
			op("q"),
			op("RG", num(c.R), num(c.G), num(c.B)),
			op("w", num(stampBorder)),
			op("re", num(x-stampPadding), num(y-stampPadding), num(tw+2*stampPadding), num(stampSize+2*stampPadding)),
			op("S"),
			op("w", num(stampStroke)),
			op("Tr", raw.NumberInt(2)),
		}
		ops = append(ops, showText(font, text, stampSize, c, x, y)...)
		if date != "" {
			ops = append(ops, op("Tr", raw.NumberInt(0)))
			ops = append(ops, showText(font, date, dateSize, c, x+(tw-helv.Width(date, dateSize))/2, y-20)...)
		}
		ops = append(ops, op("Q"))
		return edit.Finish(contentstream.Serialize(ops))
	})
	if err != nil {
		return nil, err
	}
	r.engine.logger.Debug("stamp applied",
		observability.String("text", text),
		observability.String("anchor", st.Anchor.String()),
		observability.Int("pages", stamped),
	)
	return unchanged(r.doc.Derive(next)), nil
}

// stampOrigin is the baseline start of a stamp of width tw on a pw×ph page.
func stampOrigin(a Anchor, pw, ph, tw float64) (float64, float64) {
	const m = watermarkMargin
	switch a {
	case AnchorTopLeft:
		return m, ph - m
	case AnchorTopCenter:
		return (pw - tw) / 2, ph - m
	case AnchorTopRight:
		return pw - tw - m, ph - m
	case AnchorBottomLeft:
		return m, m
	case AnchorBottomCenter:
		return (pw - tw) / 2, m
	case AnchorBottomRight:
		return pw - tw - m, m
	}
	return (pw - tw) / 2, ph / 2
}

// showText sets text in the font resource named font, baseline at x, y.
func showText(font, text string, size float64, c RGB, x, y float64) []contentstream.Operation {
	return []contentstream.Operation{
		op("BT"),
		op("Tf", raw.NameLiteral(font), num(size)),
		op("rg", num(c.R), num(c.G), num(c.B)),
		op("Td", num(x), num(y)),
		op("Tj", raw.Str(fonts.Encode(text))),
		op("ET"),
	}
}
