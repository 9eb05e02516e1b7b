// Package pdftest builds small PDF fixtures for tests.
package pdftest

import (
	"context"
	"fmt"
	"regexp"
	"testing"

	"github.com/wudi/pdfstudio/filters"
	"github.com/wudi/pdfstudio/ir/raw"
	"github.com/wudi/pdfstudio/pages"
	"github.com/wudi/pdfstudio/parser"
	"github.com/wudi/pdfstudio/security"
	"github.com/wudi/pdfstudio/writer"
)

// Marker is the text drawn on page i (1-based).
func Marker(i int) string { return fmt.Sprintf("page-%d", i) }

var markerRE = regexp.MustCompile(`page-\d+`)

// Document returns n Letter pages under one Pages node. Every page shows
// Marker(i) in a shared Helvetica font.
func Document(n int) *raw.Document {
	doc := raw.NewDocument("1.7")
	put := func(num int, o raw.Object) raw.RefObj {
		doc.Objects[raw.ObjectRef{Num: num}] = o
		return raw.Ref(num, 0)
	}
	font := raw.Dict()
	font.Put("Type", raw.NameLiteral("Font"))
	font.Put("Subtype", raw.NameLiteral("Type1"))
	font.Put("BaseFont", raw.NameLiteral("Helvetica"))
	fontRef := put(3, font)
	fonts := raw.Dict()
	fonts.Put("F1", fontRef)
	res := raw.Dict()
	res.Put("Font", fonts)

	root := raw.Dict()
	root.Put("Type", raw.NameLiteral("Pages"))
	root.Put("MediaBox", raw.Rect(0, 0, 612, 792))
	root.Put("Resources", res)
	kids := raw.NewArray()
	for i := 1; i <= n; i++ {
		content := fmt.Sprintf("BT /F1 24 Tf 72 700 Td (%s) Tj ET\n0.9 g 72 72 100 50 re f", Marker(i))
		c := put(10+2*i, raw.NewStream(raw.Dict(), []byte(content)))
		p := raw.Dict()
		p.Put("Type", raw.NameLiteral("Page"))
		p.Put("Parent", raw.Ref(2, 0))
		p.Put("Contents", c)
		kids.Append(put(11+2*i, p))
	}
	root.Put("Kids", kids)
	root.Put("Count", raw.NumberInt(int64(n)))
	put(2, root)

	cat := raw.Dict()
	cat.Put("Type", raw.NameLiteral("Catalog"))
	cat.Put("Pages", raw.Ref(2, 0))
	put(1, cat)
	doc.Trailer.Put("Root", raw.Ref(1, 0))
	return doc
}

// Bytes serializes Document(n).
func Bytes(tb testing.TB, n int) []byte {
	tb.Helper()
	return Write(tb, Document(n), nil)
}

// Encrypted serializes Document(n) with the standard security handler.
func Encrypted(tb testing.TB, n int, user, owner string, alg security.Algorithm) []byte {
	tb.Helper()
	return Write(tb, Document(n), &security.EncryptionConfig{
		Algorithm:     alg,
		UserPassword:  user,
		OwnerPassword: owner,
		Permissions:   raw.AllowAll(),
	})
}

// Write serializes doc, optionally encrypted.
func Write(tb testing.TB, doc *raw.Document, enc *security.EncryptionConfig) []byte {
	tb.Helper()
	out, err := writer.New(writer.Config{Compress: true, Deterministic: true, Encryption: enc}).Bytes(context.Background(), doc)
	if err != nil {
		tb.Fatalf("pdftest: write: %v", err)
	}
	return out
}

// ImageDocument returns one Letter page that draws a w×h DeviceRGB image
// stored without compression.
func ImageDocument(tb testing.TB, w, h int) []byte {
	tb.Helper()
	doc := Document(1)
	samples := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * 3
			samples[i] = byte(x * 255 / max(w-1, 1))
			samples[i+1] = byte(y * 255 / max(h-1, 1))
			samples[i+2] = byte((x ^ y) & 0xff)
		}
	}
	img := raw.Dict()
	img.Put("Type", raw.NameLiteral("XObject"))
	img.Put("Subtype", raw.NameLiteral("Image"))
	img.Put("Width", raw.NumberInt(int64(w)))
	img.Put("Height", raw.NumberInt(int64(h)))
	img.Put("ColorSpace", raw.NameLiteral("DeviceRGB"))
	img.Put("BitsPerComponent", raw.NumberInt(8))
	doc.Objects[raw.ObjectRef{Num: 5}] = raw.NewStream(img, samples)

	page := doc.Objects[raw.ObjectRef{Num: 13}].(*raw.DictObj)
	xo := raw.Dict()
	xo.Put("Im0", raw.Ref(5, 0))
	res := raw.Dict()
	res.Put("XObject", xo)
	page.Put("Resources", res)
	doc.Objects[raw.ObjectRef{Num: 12}] = raw.NewStream(raw.Dict(), []byte("q 400 0 0 300 100 200 cm /Im0 Do Q"))
	return Write(tb, doc, nil)
}

// Parse loads data and flattens its page tree.
func Parse(tb testing.TB, data []byte, password string) []*pages.Source {
	tb.Helper()
	res, err := parser.NewDocumentParser(parser.Config{Password: password}).Parse(context.Background(), data)
	if err != nil {
		tb.Fatalf("pdftest: parse: %v", err)
	}
	srcs, err := pages.Collect(res.Document)
	if err != nil {
		tb.Fatalf("pdftest: collect: %v", err)
	}
	return srcs
}

// Markers returns the first marker found on each page of data, or "" for
// pages without one.
func Markers(tb testing.TB, data []byte, password string) []string {
	tb.Helper()
	p := filters.Default(filters.DefaultLimits())
	var out []string
	for _, src := range Parse(tb, data, password) {
		content, err := src.Contents(context.Background(), p)
		if err != nil {
			tb.Fatalf("pdftest: contents: %v", err)
		}
		out = append(out, markerRE.FindString(string(content)))
	}
	return out
}

// Rotations returns the effective /Rotate of each page of data.
func Rotations(tb testing.TB, data []byte, password string) []int {
	tb.Helper()
	var out []int
	for _, src := range Parse(tb, data, password) {
		out = append(out, src.Rotate)
	}
	return out
}
