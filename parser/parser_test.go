package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/wudi/pdfstudio/filters"
	"github.com/wudi/pdfstudio/ir/raw"
	"github.com/wudi/pdfstudio/security"
)

// buildPDF numbers objs from 1 and writes a classic xref table.
func buildPDF(objs []string, trailer string) []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")
	offsets := make([]int, len(objs))
	for i, body := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xrefOff := buf.Len()
	fmt.Fprintf(buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(buf, "trailer\n<< /Size %d %s >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, trailer, xrefOff)
	return buf.Bytes()
}

func onePage() []string {
	return []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R >>",
		"<< /Length 5 0 R >>\nstream\nBT ET\nendstream",
		"5",
	}
}

func TestParseClassic(t *testing.T) {
	data := buildPDF(append(onePage(), "<< /Title (Report) /Keywords (a, b) >>"), "/Root 1 0 R /Info 6 0 R")
	res, err := NewDocumentParser(Config{}).Parse(context.Background(), data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	doc := res.Document
	if doc.Version != "1.7" {
		t.Fatalf("version: %q", doc.Version)
	}
	if len(doc.Objects) != 6 {
		t.Fatalf("expected 6 objects, got %d", len(doc.Objects))
	}
	s, ok := doc.Objects[raw.ObjectRef{Num: 4}].(*raw.StreamObj)
	if !ok || string(s.Data) != "BT ET" {
		t.Fatalf("stream with indirect length: %#v", doc.Objects[raw.ObjectRef{Num: 4}])
	}
	if doc.Metadata.Title != "Report" || len(doc.Metadata.Keywords) != 2 || doc.Metadata.Keywords[1] != "b" {
		t.Fatalf("metadata: %+v", doc.Metadata)
	}
	if res.Handler != nil || doc.Encrypted {
		t.Fatalf("plain file reported as encrypted")
	}
}

func TestParseDoesNotModifyInput(t *testing.T) {
	data := buildPDF(onePage(), "/Root 1 0 R")
	orig := append([]byte(nil), data...)
	res, err := NewDocumentParser(Config{}).Parse(context.Background(), data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	s := res.Document.Objects[raw.ObjectRef{Num: 4}].(*raw.StreamObj)
	s.Data[0] = 'X'
	if !bytes.Equal(data, orig) {
		t.Fatalf("stream data aliases the input buffer")
	}
}

func TestParseObjectStream(t *testing.T) {
	obj3 := "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 100 100] >>"
	obj4 := "(inside)"
	header := fmt.Sprintf("3 0 4 %d ", len(obj3)+1)
	comp, err := filters.Flate([]byte(header + obj3 + " " + obj4))
	if err != nil {
		t.Fatalf("flate: %v", err)
	}

	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.5\n")
	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	off2 := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n")
	off5 := buf.Len()
	fmt.Fprintf(buf, "5 0 obj\n<< /Type /ObjStm /N 2 /First %d /Filter /FlateDecode /Length %d >>\nstream\n", len(header), len(comp))
	buf.Write(comp)
	buf.WriteString("\nendstream\nendobj\n")
	off6 := buf.Len()

	// W [1 2 1]: type, offset or stream number, generation or index.
	row := func(kind byte, f2, f3 int) []byte { return []byte{kind, byte(f2 >> 8), byte(f2), byte(f3)} }
	var rows []byte
	rows = append(rows, row(0, 0, 255)...)
	rows = append(rows, row(1, off1, 0)...)
	rows = append(rows, row(1, off2, 0)...)
	rows = append(rows, row(2, 5, 0)...)
	rows = append(rows, row(2, 5, 1)...)
	rows = append(rows, row(1, off5, 0)...)
	rows = append(rows, row(1, off6, 0)...)
	xs, err := filters.Flate(rows)
	if err != nil {
		t.Fatalf("flate: %v", err)
	}
	fmt.Fprintf(buf, "6 0 obj\n<< /Type /XRef /Size 7 /W [1 2 1] /Root 1 0 R /Filter /FlateDecode /Length %d >>\nstream\n", len(xs))
	buf.Write(xs)
	buf.WriteString("\nendstream\nendobj\n")
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", off6)

	res, err := NewDocumentParser(Config{}).Parse(context.Background(), buf.Bytes())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.Repaired {
		t.Fatalf("xref stream should resolve without repair")
	}
	doc := res.Document
	page, ok := doc.Objects[raw.ObjectRef{Num: 3}].(*raw.DictObj)
	if !ok {
		t.Fatalf("object 3 from object stream missing")
	}
	if typ, _ := raw.NameOf(page.KV["Type"]); typ != "Page" {
		t.Fatalf("object 3: %v", page)
	}
	if s, _ := raw.BytesOf(doc.Objects[raw.ObjectRef{Num: 4}]); string(s) != "inside" {
		t.Fatalf("object 4: %#v", doc.Objects[raw.ObjectRef{Num: 4}])
	}
	for ref, obj := range doc.Objects {
		if s, ok := obj.(*raw.StreamObj); ok {
			if typ, _ := raw.NameOf(s.Dict.KV["Type"]); typ == "ObjStm" || typ == "XRef" {
				t.Fatalf("structural stream %s kept in object graph", ref)
			}
		}
	}
}

func TestParseRepairsStaleOffsets(t *testing.T) {
	data := buildPDF(onePage(), "/Root 1 0 R")
	// Shift every object by prepending junk after the header.
	shifted := bytes.Replace(data, []byte("%PDF-1.7\n"), []byte("%PDF-1.7\n% padding padding padding\n"), 1)
	res, err := NewDocumentParser(Config{}).Parse(context.Background(), shifted)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !res.Repaired {
		t.Fatalf("expected repair")
	}
	if _, ok := res.Document.Catalog(); !ok {
		t.Fatalf("catalog lost")
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want error
	}{
		{"no header", []byte("hello world"), ErrCorrupt},
		{"garbage after header", []byte("%PDF-1.4\nnothing useful here"), ErrCorrupt},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewDocumentParser(Config{}).Parse(context.Background(), tc.data)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func encryptedPDF(t *testing.T, user string) []byte {
	t.Helper()
	id := []byte("fedcba9876543210")
	h, dict, err := security.NewEncryption(security.EncryptionConfig{
		Algorithm:     security.AlgorithmAES128,
		UserPassword:  user,
		OwnerPassword: "owner",
		Permissions:   raw.Permissions{Print: true},
		FileID:        id,
	})
	if err != nil {
		t.Fatalf("encryption: %v", err)
	}
	title, err := h.Encrypt(raw.ObjectRef{Num: 6}, []byte("Secret Title"), security.DataClassString)
	if err != nil {
		t.Fatalf("encrypt string: %v", err)
	}
	content, err := h.Encrypt(raw.ObjectRef{Num: 4}, []byte("BT ET"), security.DataClassStream)
	if err != nil {
		t.Fatalf("encrypt stream: %v", err)
	}
	o, _ := raw.BytesOf(dict.KV["O"])
	u, _ := raw.BytesOf(dict.KV["U"])
	p, _ := raw.IntOf(dict.KV["P"])

	objs := onePage()
	objs[3] = fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content)
	objs[4] = "0"
	objs = append(objs,
		fmt.Sprintf("<< /Title <%x> >>", title),
		fmt.Sprintf("<< /Filter /Standard /V 4 /R 4 /Length 128 /O <%x> /U <%x> /P %d /CF << /StdCF << /CFM /AESV2 /Length 16 >> >> /StmF /StdCF /StrF /StdCF >>", o, u, p),
	)
	return buildPDF(objs, fmt.Sprintf("/Root 1 0 R /Info 6 0 R /Encrypt 7 0 R /ID [<%x> <%x>]", id, id))
}

func TestParseEncrypted(t *testing.T) {
	data := encryptedPDF(t, "pw")

	if _, err := NewDocumentParser(Config{}).Parse(context.Background(), data); !errors.Is(err, ErrPasswordRequired) {
		t.Fatalf("expected ErrPasswordRequired, got %v", err)
	}
	if _, err := NewDocumentParser(Config{Password: "wrong"}).Parse(context.Background(), data); !errors.Is(err, security.ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}

	for pwd, role := range map[string]security.Role{"pw": security.RoleUser, "owner": security.RoleOwner} {
		res, err := NewDocumentParser(Config{Password: pwd}).Parse(context.Background(), data)
		if err != nil {
			t.Fatalf("%s: parse: %v", pwd, err)
		}
		if res.Role != role {
			t.Fatalf("%s: role %v", pwd, res.Role)
		}
		doc := res.Document
		if doc.Metadata.Title != "Secret Title" {
			t.Fatalf("%s: title %q", pwd, doc.Metadata.Title)
		}
		if s := doc.Objects[raw.ObjectRef{Num: 4}].(*raw.StreamObj); string(s.Data) != "BT ET" {
			t.Fatalf("%s: content %q", pwd, s.Data)
		}
		if !doc.Encrypted || doc.Permissions.Copy || !doc.Permissions.Print {
			t.Fatalf("%s: flags encrypted=%v perms=%+v", pwd, doc.Encrypted, doc.Permissions)
		}
		if _, ok := doc.Objects[raw.ObjectRef{Num: 7}]; ok {
			t.Fatalf("encryption dictionary should not be part of the graph")
		}
		if _, ok := doc.Trailer.KV["Encrypt"]; ok {
			t.Fatalf("trailer still names /Encrypt")
		}
	}
}

func TestDecodeTextString(t *testing.T) {
	cases := []struct {
		in   []byte
		want string
	}{
		{[]byte("plain"), "plain"},
		{[]byte{0xFE, 0xFF, 0x00, 'H', 0x00, 'i'}, "Hi"},
		{[]byte{0xFE, 0xFF, 0xD8, 0x3D, 0xDE, 0x00}, "\U0001F600"},
		{[]byte{0xEF, 0xBB, 0xBF, 'o', 'k'}, "ok"},
		{[]byte{0xE9}, "é"},
	}
	for _, tc := range cases {
		if got := DecodeTextString(tc.in); got != tc.want {
			t.Fatalf("%x: got %q want %q", tc.in, got, tc.want)
		}
	}
}
