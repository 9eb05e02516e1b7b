package convert

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"

	"github.com/wudi/pdfstudio/document"
	"github.com/wudi/pdfstudio/internal/pdftest"
	"github.com/wudi/pdfstudio/ir/raw"
)

func load(t *testing.T, data []byte) *document.Document {
	t.Helper()
	doc, err := document.NewLoader().Load(context.Background(), data)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return doc
}

func TestImages(t *testing.T) {
	c := New(nil)
	doc := load(t, pdftest.ImageDocument(t, 40, 30))

	var statuses []Status
	out, err := c.Images(context.Background(), doc, ImageOptions{DPI: 72}, func(p Progress) {
		statuses = append(statuses, p.Status)
	})
	if err != nil {
		t.Fatalf("images: %v", err)
	}
	if len(out) != 1 || out[0].PageNumber != 1 || out[0].Format != FormatPNG {
		t.Fatalf("unexpected result: %+v", out)
	}
	if out[0].Width != 612 || out[0].Height != 792 {
		t.Fatalf("size: %dx%d", out[0].Width, out[0].Height)
	}
	img, err := png.Decode(bytes.NewReader(out[0].Data))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if c := color.RGBAModel.Convert(img.At(300, 400)).(color.RGBA); c == (color.RGBA{0xff, 0xff, 0xff, 0xff}) {
		t.Fatalf("image area left blank")
	}
	if !reflect.DeepEqual(statuses, []Status{StatusConverting, StatusComplete}) {
		t.Fatalf("progress: %v", statuses)
	}

	jp, err := c.PageToImage(context.Background(), doc, 1, ImageOptions{Format: FormatJPEG, DPI: 36, Quality: 50})
	if err != nil {
		t.Fatalf("jpeg: %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(jp.Data))
	if err != nil {
		t.Fatalf("decode jpeg: %v", err)
	}
	if cfg.Width != 306 || cfg.Height != 396 {
		t.Fatalf("jpeg size: %dx%d", cfg.Width, cfg.Height)
	}
}

func TestImageOptionsValidation(t *testing.T) {
	c := New(nil)
	doc := load(t, pdftest.Bytes(t, 3))
	cases := []struct {
		opts ImageOptions
		want error
	}{
		{ImageOptions{Format: "webp"}, ErrUnsupportedFormat},
		{ImageOptions{DPI: 1200}, ErrInvalidOptions},
		{ImageOptions{Quality: 101}, ErrInvalidOptions},
		{ImageOptions{Pages: []int{4}}, ErrInvalidPage},
		{ImageOptions{Pages: []int{0}}, ErrInvalidPage},
	}
	for _, tc := range cases {
		if _, err := c.Images(context.Background(), doc, tc.opts, nil); !errors.Is(err, tc.want) {
			t.Fatalf("%+v: got %v want %v", tc.opts, err, tc.want)
		}
	}
	if _, err := ParseFormat("gif"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("gif: %v", err)
	}
	if f, _ := ParseFormat("JPG"); f != FormatJPEG || f.Ext() != "jpg" {
		t.Fatalf("jpg: %v", f)
	}
}

func TestWriteZip(t *testing.T) {
	images := []PageImage{
		{PageNumber: 1, Format: FormatPNG, Data: []byte("one")},
		{PageNumber: 3, Format: FormatJPEG, Data: []byte("three")},
	}
	var buf bytes.Buffer
	if err := WriteZip(&buf, "report", images); err != nil {
		t.Fatalf("zip: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("read zip: %v", err)
	}
	got := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		data, _ := io.ReadAll(rc)
		rc.Close()
		got[f.Name] = string(data)
	}
	want := map[string]string{"report_page_1.png": "one", "report_page_3.jpg": "three"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("entries: %v", got)
	}
}

func TestText(t *testing.T) {
	doc := load(t, pdftest.Bytes(t, 3))
	out, err := New(nil).Text(context.Background(), doc, []int{3, 1, 3})
	if err != nil {
		t.Fatalf("text: %v", err)
	}
	if len(out) != 2 || out[0].PageNumber != 1 || out[1].PageNumber != 3 {
		t.Fatalf("pages: %+v", out)
	}
	want := Line{Text: pdftest.Marker(1), Y: 700, Size: 24}
	if len(out[0].Lines) != 1 || out[0].Lines[0] != want {
		t.Fatalf("lines: %+v", out[0].Lines)
	}
	if got := PlainText(out, true); got != "=== Page 1 ===\npage-1\n\n=== Page 3 ===\npage-3" {
		t.Fatalf("plain text: %q", got)
	}
}

const testCMap = `/CIDInit /ProcSet findresource begin
12 dict begin
begincmap
/CMapName /Adobe-Identity-UCS def
1 begincodespacerange
<0000> <FFFF>
endcodespacerange
2 beginbfchar
<0001> <0048>
<0002> <0069>
endbfchar
2 beginbfrange
<0010> <0012> <0061>
<0020> <0021> [<00E9> <D83DDE00>]
endbfrange
endcmap
CMapName currentdict /CMap defineresource pop
end
end`

func TestParseToUnicode(t *testing.T) {
	m := parseToUnicode([]byte(testCMap))
	if got := m.decode([]byte{0, 1, 0, 2, 0, 0x10, 0, 0x12, 0, 0x20, 0, 0x21}); got != "Hiacé😀" {
		t.Fatalf("decode: %q", got)
	}
	if !reflect.DeepEqual(m.lengths, []int{2}) {
		t.Fatalf("code widths: %v", m.lengths)
	}
}

// cmapDocument shows three lines through a Type0 font whose codes only a
// ToUnicode CMap explains.
func cmapDocument(t *testing.T) []byte {
	t.Helper()
	doc := pdftest.Document(1)
	font := raw.Dict()
	font.Put("Type", raw.NameLiteral("Font"))
	font.Put("Subtype", raw.NameLiteral("Type0"))
	font.Put("BaseFont", raw.NameLiteral("Custom"))
	font.Put("Encoding", raw.NameLiteral("Identity-H"))
	font.Put("ToUnicode", raw.Ref(4, 0))
	doc.Objects[raw.ObjectRef{Num: 3}] = font
	doc.Objects[raw.ObjectRef{Num: 4}] = raw.NewStream(raw.Dict(), []byte(testCMap))
	content := "BT /F1 12 Tf 1 0 0 1 72 700 Tm [<00010002> -400 <0010>] TJ 0 -30 TD <0011> Tj T* <0012> Tj ET"
	doc.Objects[raw.ObjectRef{Num: 12}] = raw.NewStream(raw.Dict(), []byte(content))
	return pdftest.Write(t, doc, nil)
}

func TestTextThroughToUnicode(t *testing.T) {
	out, err := New(nil).Text(context.Background(), load(t, cmapDocument(t)), nil)
	if err != nil {
		t.Fatalf("text: %v", err)
	}
	if got := out[0].String(); got != "Hi a\nb\nc" {
		t.Fatalf("text: %q", got)
	}
}

func TestMarkdownAndHTML(t *testing.T) {
	pages := []PageText{{PageNumber: 2, Lines: []Line{
		{Text: "intro", Size: 12},
		{Text: "Title ", Size: 24},
		{Text: "body a", Size: 12},
		{Text: "  ", Size: 40},
		{Text: "body b", Size: 12},
	}}}
	md := string(Markdown("report", pages))
	want := "# report\n\n## Page 2\nintro\n\n### Title\nbody a\nbody b\n"
	if md != want {
		t.Fatalf("markdown:\n%q\nwant\n%q", md, want)
	}
	html, err := HTML("report", pages)
	if err != nil {
		t.Fatalf("html: %v", err)
	}
	for _, frag := range []string{"<h1>report</h1>", "<h2>Page 2</h2>", "<h3>Title</h3>", "<p>intro</p>"} {
		if !strings.Contains(string(html), frag) {
			t.Fatalf("html misses %s:\n%s", frag, html)
		}
	}
}

func TestCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	doc := load(t, pdftest.Bytes(t, 2))
	if _, err := New(nil).Images(ctx, doc, ImageOptions{}, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("images: %v", err)
	}
	if _, err := New(nil).Text(ctx, doc, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("text: %v", err)
	}
}
