package ocr

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/yuin/goldmark"
)

// CombineResults joins successful pages as "=== Page N ===" blocks separated
// by blank lines.
func CombineResults(results []PageResult) string {
	var parts []string
	for _, r := range results {
		if r.Failed() {
			continue
		}
		parts = append(parts, fmt.Sprintf("=== Page %d ===\n%s", r.PageNumber, strings.TrimRight(r.Text, " \t\r\n")))
	}
	return strings.Join(parts, "\n\n")
}

// AverageConfidence is the mean confidence of the successful pages.
func AverageConfidence(results []PageResult) float64 {
	var sum float64
	var n int
	for _, r := range results {
		if !r.Failed() {
			sum += r.Confidence
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// ExportMarkdown renders results as a markdown document with one section per
// page. Failed pages keep their section with the error.
func ExportMarkdown(results []PageResult) []byte {
	var b bytes.Buffer
	b.WriteString("# OCR text\n")
	for _, r := range results {
		fmt.Fprintf(&b, "\n## Page %d\n\n", r.PageNumber)
		if r.Failed() {
			fmt.Fprintf(&b, "_Recognition failed: %s_\n", r.Err)
			continue
		}
		fmt.Fprintf(&b, "_Confidence %.0f%%_\n\n", r.Confidence*100)
		text := strings.TrimSpace(r.Text)
		if text == "" {
			b.WriteString("_No text found._\n")
			continue
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.Bytes()
}

// ExportHTML renders ExportMarkdown through goldmark. Raw HTML in
// recognized text is not passed through.
func ExportHTML(results []PageResult) ([]byte, error) {
	var b bytes.Buffer
	if err := goldmark.New().Convert(ExportMarkdown(results), &b); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	return b.Bytes(), nil
}

// PageRow is the parquet schema written by ExportParquet.
type PageRow struct {
	Page       int32   `parquet:"page"`
	PageID     string  `parquet:"page_id"`
	Text       string  `parquet:"text"`
	Confidence float64 `parquet:"confidence"`
	Language   string  `parquet:"language"`
	Error      string  `parquet:"error,optional"`
}

func pageRows(results []PageResult) []PageRow {
	rows := make([]PageRow, len(results))
	for i, r := range results {
		rows[i] = PageRow{
			Page:       int32(r.PageNumber),
			PageID:     r.PageID,
			Text:       r.Text,
			Confidence: r.Confidence,
			Language:   r.Language,
		}
		if r.Err != nil {
			rows[i].Error = r.Err.Error()
		}
	}
	return rows
}

// ExportParquet writes one row per page to w.
func ExportParquet(w io.Writer, results []PageResult) error {
	pw := parquet.NewGenericWriter[PageRow](w)
	if _, err := pw.Write(pageRows(results)); err != nil {
		pw.Close()
		return fmt.Errorf("write parquet rows: %w", err)
	}
	return pw.Close()
}
