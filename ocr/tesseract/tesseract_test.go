package tesseract

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os/exec"
	"strings"
	"testing"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/wudi/pdfstudio/ocr"
)

// ensureTesseractAvailable checks that the tesseract binary is reachable.
func ensureTesseractAvailable(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tesseract"); err != nil {
		t.Skip("tesseract not installed in PATH")
	}
}

func helloImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 200, 80))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	d := &font.Drawer{
		Dst:  img,
		Src:  image.Black,
		Face: basicfont.Face7x13,
		Dot:  fixed.P(10, 50),
	}
	d.DrawString("Hello PDF")
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestEngineRecognize(t *testing.T) {
	ensureTesseractAvailable(t)

	in := ocr.Input{ID: "hello", Image: helloImage(t), Format: ocr.ImageFormatPNG, Languages: []string{"eng"}, DPI: 300}
	res, err := New().Recognize(context.Background(), in)
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if res.InputID != "hello" || res.Language != "eng" {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(strings.ToLower(res.PlainText), "hello") {
		t.Fatalf("expected OCR text to contain hello, got %q", res.PlainText)
	}
}

func TestWorkerRecognize(t *testing.T) {
	ensureTesseractAvailable(t)

	w, err := New().NewWorker(context.Background(), "eng")
	if err != nil {
		t.Fatalf("NewWorker() error = %v", err)
	}
	defer w.Close()
	res, err := w.Recognize(context.Background(), ocr.Input{ID: "p1", Image: helloImage(t), Format: ocr.ImageFormatPNG})
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if res.Language != "eng" || !strings.Contains(strings.ToLower(res.PlainText), "pdf") {
		t.Fatalf("result = %+v", res)
	}
}

func TestRecognizeCanceled(t *testing.T) {
	ensureTesseractAvailable(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New().NewWorker(ctx, "eng"); !errors.Is(err, context.Canceled) {
		t.Fatalf("NewWorker() error = %v", err)
	}
}

func TestCropImage(t *testing.T) {
	data := helloImage(t)
	same, err := cropImage(data, nil)
	if err != nil || !bytes.Equal(same, data) {
		t.Fatalf("nil region changed the image")
	}
	out, err := cropImage(data, &ocr.Region{X: 150, Y: 60, Width: 100, Height: 100})
	if err != nil {
		t.Fatalf("crop: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 50 || b.Dy() != 20 {
		t.Fatalf("cropped bounds = %v", b)
	}
	if _, err := cropImage(data, &ocr.Region{X: 500, Y: 500, Width: 10, Height: 10}); err == nil {
		t.Fatalf("expected error for region outside image")
	}
}

func TestMergeBounds(t *testing.T) {
	words := []ocr.TextWord{
		{Bounds: ocr.Region{X: 10, Y: 5, Width: 20, Height: 10}},
		{Bounds: ocr.Region{X: 40, Y: 2, Width: 10, Height: 20}},
	}
	got := mergeBounds(words)
	want := ocr.Region{X: 10, Y: 2, Width: 40, Height: 20}
	if got != want {
		t.Fatalf("mergeBounds = %+v, want %+v", got, want)
	}
}
