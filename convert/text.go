package convert

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/yuin/goldmark"

	"github.com/wudi/pdfstudio/contentstream"
	"github.com/wudi/pdfstudio/coords"
	"github.com/wudi/pdfstudio/document"
	"github.com/wudi/pdfstudio/ir/raw"
	"github.com/wudi/pdfstudio/observability"
)

// Line is text shown on one baseline.
type Line struct {
	Text string
	// Y is the baseline in default user space.
	Y float64
	// Size is the font size after the text and current matrices.
	Size float64
}

type PageText struct {
	PageNumber int
	Lines      []Line
}

func (p PageText) String() string {
	parts := make([]string, len(p.Lines))
	for i, l := range p.Lines {
		parts[i] = l.Text
	}
	return strings.Join(parts, "\n")
}

const (
	// lineTolerance is how far two baselines may differ and still be one line.
	lineTolerance = 5
	// headingRatio marks a line as a heading when its size exceeds the
	// previous line's by this factor.
	headingRatio = 1.2
	// kernSpace is the TJ adjustment, in thousandths of an em, read as a space.
	kernSpace = -200
	// glyphWidth estimates an average advance in ems when widths are unknown.
	glyphWidth = 0.5

	maxFormDepth = 8
)

// Text reads the text layer of the requested pages, page numbers 1-based
// and empty for all. Glyphs are mapped through ToUnicode CMaps where fonts
// carry them and read as Latin-1 otherwise.
func (c *Converter) Text(ctx context.Context, doc *document.Document, pages []int) (out []PageText, err error) {
	start := time.Now()
	defer func() { c.Metrics.ObserveOperation("convert", time.Since(start), err) }()

	targets, err := targetPages(doc, pages)
	if err != nil {
		return nil, err
	}
	for _, pg := range targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := pg.Source.Contents(ctx, c.Pipeline)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", pg.Number, err)
		}
		ex := &extractor{c: c, ctx: ctx, doc: pg.Source.Doc, fonts: make(map[raw.ObjectRef]*fontDecoder)}
		ex.run(data, pg.Source.Resources(), coords.Identity(), 0)
		out = append(out, PageText{PageNumber: pg.Number, Lines: ex.lines})
	}
	c.Logger.Debug("text extracted", observability.Int("pages", len(out)), observability.Duration("elapsed", time.Since(start)))
	return out, nil
}

type fontDecoder struct {
	cmap    *toUnicode
	twoByte bool
}

func (f *fontDecoder) decode(b []byte) string {
	switch {
	case f != nil && f.cmap != nil:
		return f.cmap.decode(b)
	case len(b) >= 2 && b[0] == 0xfe && b[1] == 0xff:
		return utf16BE(b[2:])
	case f != nil && f.twoByte:
		return utf16BE(b)
	}
	rs := make([]rune, len(b))
	for i, c := range b {
		rs[i] = rune(c)
	}
	return string(rs)
}

type extractor struct {
	c     *Converter
	ctx   context.Context
	doc   *raw.Document
	fonts map[raw.ObjectRef]*fontDecoder
	lines []Line
	// lineEnd estimates where the last line's text ends.
	lineEnd float64
}

type textState struct {
	ctm     coords.Matrix
	tm, tlm coords.Matrix
	leading float64
	size    float64
	font    *fontDecoder
}

func (ex *extractor) run(content []byte, res *raw.DictObj, base coords.Matrix, depth int) {
	ops, err := contentstream.Parse(content)
	if err != nil {
		ex.c.Logger.Debug("content stream truncated", observability.Error("error", err))
	}
	st := textState{ctm: base, tm: coords.Identity(), tlm: coords.Identity()}
	var stack []coords.Matrix
	for _, op := range ops {
		if ex.ctx.Err() != nil {
			return
		}
		args := op.Operands
		nums, _ := op.Numbers()
		switch op.Operator {
		case "q":
			stack = append(stack, st.ctm)
		case "Q":
			if n := len(stack); n > 0 {
				st.ctm, stack = stack[n-1], stack[:n-1]
			}
		case "cm":
			if len(nums) == 6 {
				st.ctm = coords.Matrix(nums).Multiply(st.ctm)
			}
		case "BT":
			st.tm, st.tlm = coords.Identity(), coords.Identity()
		case "Tf":
			if len(args) == 2 {
				name, _ := raw.NameOf(args[0])
				st.size, _ = raw.FloatOf(args[1])
				st.font = ex.font(res, name)
			}
		case "TL":
			if len(nums) == 1 {
				st.leading = nums[0]
			}
		case "Td", "TD":
			if len(nums) == 2 {
				if op.Operator == "TD" {
					st.leading = -nums[1]
				}
				st.tlm = coords.Translate(nums[0], nums[1]).Multiply(st.tlm)
				st.tm = st.tlm
			}
		case "Tm":
			if len(nums) == 6 {
				st.tlm = coords.Matrix(nums)
				st.tm = st.tlm
			}
		case "T*":
			st.nextLine()
		case "Tj":
			if len(args) == 1 {
				ex.show(&st, args[0])
			}
		case "'":
			st.nextLine()
			if len(args) == 1 {
				ex.show(&st, args[0])
			}
		case "\"":
			st.nextLine()
			if len(args) == 3 {
				ex.show(&st, args[2])
			}
		case "TJ":
			if len(args) == 1 {
				ex.showArray(&st, args[0])
			}
		case "Do":
			if len(args) == 1 {
				name, _ := raw.NameOf(args[0])
				ex.form(res, name, st.ctm, depth)
			}
		}
	}
}

func (st *textState) nextLine() {
	st.tlm = coords.Translate(0, -st.leading).Multiply(st.tlm)
	st.tm = st.tlm
}

func (ex *extractor) show(st *textState, obj raw.Object) {
	b, ok := raw.BytesOf(obj)
	if !ok {
		return
	}
	ex.emit(st, st.font.decode(b))
}

func (ex *extractor) showArray(st *textState, obj raw.Object) {
	arr, ok := raw.ArrayOf(obj)
	if !ok {
		return
	}
	var b strings.Builder
	for _, item := range arr.Items {
		if s, ok := raw.BytesOf(item); ok {
			b.WriteString(st.font.decode(s))
		} else if f, ok := raw.FloatOf(item); ok && f <= kernSpace {
			b.WriteByte(' ')
		}
	}
	ex.emit(st, b.String())
}

// emit appends text at the current text position. Text on the baseline of
// the previous line continues it, after a space when it starts past the
// estimated end of that line.
func (ex *extractor) emit(st *textState, text string) {
	if text == "" {
		return
	}
	m := st.tm.Multiply(st.ctm)
	at := m.Transform(coords.Point{})
	size := st.size * math.Hypot(m[2], m[3])
	end := at.X + float64(utf8.RuneCountInString(text))*size*glyphWidth
	if n := len(ex.lines); n > 0 && math.Abs(ex.lines[n-1].Y-at.Y) <= lineTolerance {
		last := &ex.lines[n-1]
		gap := at.X - ex.lineEnd
		if gap > size*glyphWidth/2 && !strings.HasSuffix(last.Text, " ") && !strings.HasPrefix(text, " ") {
			last.Text += " "
		}
		last.Text += text
		last.Size = math.Max(last.Size, size)
		ex.lineEnd = math.Max(ex.lineEnd, end)
		return
	}
	ex.lines = append(ex.lines, Line{Text: text, Y: at.Y, Size: size})
	ex.lineEnd = end
}

func (ex *extractor) font(res *raw.DictObj, name string) *fontDecoder {
	if res == nil {
		return nil
	}
	fonts, ok := ex.doc.Resolve(res.KV["Font"]).(*raw.DictObj)
	if !ok {
		return nil
	}
	entry := fonts.KV[name]
	ref, isRef := entry.(raw.RefObj)
	if isRef {
		if f, ok := ex.fonts[ref.Ref()]; ok {
			return f
		}
	}
	f := ex.parseFont(entry)
	if isRef {
		ex.fonts[ref.Ref()] = f
	}
	return f
}

func (ex *extractor) parseFont(obj raw.Object) *fontDecoder {
	dict, ok := raw.DictOf(ex.doc.Resolve(obj))
	if !ok {
		return nil
	}
	f := &fontDecoder{}
	if sub, _ := raw.NameOf(dict.KV["Subtype"]); sub == "Type0" {
		f.twoByte = true
	}
	if st, ok := ex.doc.Resolve(dict.KV["ToUnicode"]).(*raw.StreamObj); ok {
		data, err := ex.c.Pipeline.DecodeStream(ex.ctx, st)
		if err != nil {
			ex.c.Logger.Debug("ToUnicode undecodable", observability.Error("error", err))
			return f
		}
		f.cmap = parseToUnicode(data)
	}
	return f
}

func (ex *extractor) form(res *raw.DictObj, name string, ctm coords.Matrix, depth int) {
	if res == nil || depth >= maxFormDepth {
		return
	}
	xobjs, ok := ex.doc.Resolve(res.KV["XObject"]).(*raw.DictObj)
	if !ok {
		return
	}
	st, ok := ex.doc.Resolve(xobjs.KV[name]).(*raw.StreamObj)
	if !ok {
		return
	}
	if sub, _ := raw.NameOf(st.Dict.KV["Subtype"]); sub != "Form" {
		return
	}
	m := coords.Identity()
	if v, ok := raw.Floats(ex.doc.Resolve(st.Dict.KV["Matrix"])); ok && len(v) == 6 {
		m = coords.Matrix(v)
	}
	data, err := ex.c.Pipeline.DecodeStream(ex.ctx, st)
	if err != nil {
		ex.c.Logger.Debug("form undecodable", observability.String("name", name), observability.Error("error", err))
		return
	}
	formRes, ok := ex.doc.Resolve(st.Dict.KV["Resources"]).(*raw.DictObj)
	if !ok {
		formRes = res
	}
	ex.run(data, formRes, m.Multiply(ctm), depth+1)
}

// PlainText joins the pages with a blank line between them. With headers
// each page starts with a "=== Page N ===" line.
func PlainText(pages []PageText, headers bool) string {
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = p.String()
		if headers {
			parts[i] = fmt.Sprintf("=== Page %d ===\n%s", p.PageNumber, parts[i])
		}
	}
	return strings.Join(parts, "\n\n")
}

// Markdown titles the document, gives each page a "## Page N" section and
// turns lines set noticeably larger than the one before into "###" headings.
func Markdown(title string, pages []PageText) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# %s\n", title)
	for _, p := range pages {
		fmt.Fprintf(&b, "\n## Page %d\n", p.PageNumber)
		var para []string
		flush := func() {
			if text := strings.TrimSpace(strings.Join(para, "\n")); text != "" {
				b.WriteString(text + "\n")
			}
			para = para[:0]
		}
		last := 0.0
		for _, l := range p.Lines {
			text := strings.TrimSpace(l.Text)
			if text == "" {
				continue
			}
			if last > 0 && l.Size > last*headingRatio {
				flush()
				fmt.Fprintf(&b, "\n### %s\n", text)
			} else {
				para = append(para, text)
			}
			last = l.Size
		}
		flush()
	}
	return b.Bytes()
}

// HTML renders Markdown through goldmark. Raw HTML in the source text is
// not passed through.
func HTML(title string, pages []PageText) ([]byte, error) {
	var b bytes.Buffer
	if err := goldmark.New().Convert(Markdown(title, pages), &b); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	return b.Bytes(), nil
}
