package ocr

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/parquet-go/parquet-go"
)

func sampleResults() []PageResult {
	return []PageResult{
		{PageNumber: 1, PageID: "a", Text: "Hello <script>alert(1)</script>\n", Confidence: 0.9, Language: "eng"},
		{PageNumber: 2, PageID: "b", Err: errors.New("render failed"), Language: "eng"},
		{PageNumber: 3, PageID: "c", Text: "World", Confidence: 0.5, Language: "eng"},
	}
}

func TestCombineResults(t *testing.T) {
	got := CombineResults(sampleResults())
	want := "=== Page 1 ===\nHello <script>alert(1)</script>\n\n=== Page 3 ===\nWorld"
	if got != want {
		t.Fatalf("combined = %q", got)
	}
	if CombineResults(nil) != "" {
		t.Fatalf("empty results produced text")
	}
	if avg := AverageConfidence(sampleResults()); avg < 0.69 || avg > 0.71 {
		t.Fatalf("average = %v", avg)
	}
}

func TestExportHTML(t *testing.T) {
	md := string(ExportMarkdown(sampleResults()))
	for _, want := range []string{"## Page 1", "_Recognition failed: render failed_", "_Confidence 50%_"} {
		if !strings.Contains(md, want) {
			t.Fatalf("markdown missing %q:\n%s", want, md)
		}
	}
	html, err := ExportHTML(sampleResults())
	if err != nil {
		t.Fatalf("html: %v", err)
	}
	out := string(html)
	if !strings.Contains(out, "<h2>Page 3</h2>") || !strings.Contains(out, "World") {
		t.Fatalf("html = %s", out)
	}
	if strings.Contains(out, "<script>") {
		t.Fatalf("raw html passed through: %s", out)
	}
}

func TestExportParquet(t *testing.T) {
	var buf bytes.Buffer
	if err := ExportParquet(&buf, sampleResults()); err != nil {
		t.Fatalf("export: %v", err)
	}
	rows, err := parquet.Read[PageRow](bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d", len(rows))
	}
	if rows[1].Page != 2 || rows[1].Error != "render failed" || rows[2].Text != "World" {
		t.Fatalf("rows = %+v", rows)
	}
}
