package ocr

import (
	"bytes"
	"image"
	"image/png"
	"testing"
)

func TestNewInput(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 8, 4))
	meta := map[string]string{"source": "scan"}
	in, err := NewInput("p3", 2, img,
		WithLanguages("deu", "eng"),
		WithDPI(200),
		WithMetadata(meta),
		WithTesseractPSM(6),
		WithTesseractWhitelist("ABC"),
	)
	if err != nil {
		t.Fatalf("NewInput: %v", err)
	}
	if in.ID != "p3" || in.PageIndex != 2 || in.Format != ImageFormatPNG || in.DPI != 200 {
		t.Fatalf("unexpected input header: %+v", in)
	}
	if len(in.Languages) != 2 || in.Languages[0] != "deu" {
		t.Fatalf("languages = %v", in.Languages)
	}
	for key, want := range map[string]string{
		"source":                  "scan",
		"tessedit_pageseg_mode":   "6",
		"tessedit_char_whitelist": "ABC",
	} {
		if got := in.Metadata[key]; got != want {
			t.Fatalf("metadata[%s] = %q, want %q", key, got, want)
		}
	}
	if _, ok := meta["tessedit_pageseg_mode"]; ok {
		t.Fatalf("caller's metadata map was modified")
	}

	decoded, err := png.Decode(bytes.NewReader(in.Image))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := decoded.Bounds(); b.Dx() != 8 || b.Dy() != 4 {
		t.Fatalf("decoded bounds %v", b)
	}
}
