// Package tesseract is the local OCR engine, backed by libtesseract through
// gosseract.
package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"math"
	"strconv"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/wudi/pdfstudio/ocr"
)

// Engine implements ocr.Engine, ocr.BatchEngine and ocr.WorkerEngine.
type Engine struct {
	clientFactory func() *gosseract.Client
}

func New() *Engine {
	return &Engine{clientFactory: gosseract.NewClient}
}

func (e *Engine) Name() string { return "tesseract" }

// Recognize performs OCR on a single image with a short-lived client.
func (e *Engine) Recognize(ctx context.Context, in ocr.Input) (ocr.Result, error) {
	c := e.clientFactory()
	defer c.Close()
	if err := setLanguages(c, in.Languages); err != nil {
		return ocr.Result{}, err
	}
	return recognizeWithClient(ctx, c, in)
}

// RecognizeBatch processes inputs sequentially on one client per language.
func (e *Engine) RecognizeBatch(ctx context.Context, inputs []ocr.Input) ([]ocr.Result, error) {
	results := make([]ocr.Result, 0, len(inputs))
	clients := make(map[string]*gosseract.Client)
	defer func() {
		for _, c := range clients {
			c.Close()
		}
	}()
	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := strings.Join(in.Languages, "+")
		c, ok := clients[key]
		if !ok {
			c = e.clientFactory()
			clients[key] = c
			if err := setLanguages(c, in.Languages); err != nil {
				return nil, err
			}
		}
		res, err := recognizeWithClient(ctx, c, in)
		if err != nil {
			return nil, fmt.Errorf("recognize %s: %w", in.ID, err)
		}
		results = append(results, res)
	}
	return results, nil
}

// NewWorker returns a worker that owns one client for its whole life. The
// language data is loaded and checked before the first page.
func (e *Engine) NewWorker(ctx context.Context, language string) (ocr.Worker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := e.clientFactory()
	if err := setLanguages(c, []string{language}); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.SetImageFromBytes(blankPNG()); err != nil {
		c.Close()
		return nil, fmt.Errorf("load %s: %w", language, err)
	}
	if _, err := c.Text(); err != nil {
		c.Close()
		return nil, fmt.Errorf("load %s: %w", language, err)
	}
	return &worker{client: c, language: language}, nil
}

type worker struct {
	client   *gosseract.Client
	language string
}

func (w *worker) Recognize(ctx context.Context, in ocr.Input) (ocr.Result, error) {
	in.Languages = nil
	res, err := recognizeWithClient(ctx, w.client, in)
	if err == nil && res.Language == "" {
		res.Language = w.language
	}
	return res, err
}

func (w *worker) Close() error { return w.client.Close() }

func setLanguages(c *gosseract.Client, langs []string) error {
	if len(langs) == 0 {
		return nil
	}
	if err := c.SetLanguage(langs...); err != nil {
		return fmt.Errorf("set languages: %w", err)
	}
	return nil
}

func recognizeWithClient(ctx context.Context, c *gosseract.Client, in ocr.Input) (ocr.Result, error) {
	if err := ctx.Err(); err != nil {
		return ocr.Result{}, err
	}
	imgData, err := cropImage(in.Image, in.Region)
	if err != nil {
		return ocr.Result{}, err
	}
	if err := c.SetImageFromBytes(imgData); err != nil {
		return ocr.Result{}, fmt.Errorf("set image: %w", err)
	}
	if in.DPI > 0 {
		if err := c.SetVariable("user_defined_dpi", strconv.Itoa(in.DPI)); err != nil {
			return ocr.Result{}, fmt.Errorf("set dpi: %w", err)
		}
	}
	for k, v := range in.Metadata {
		if err := c.SetVariable(gosseract.SettableVariable(k), v); err != nil {
			return ocr.Result{}, fmt.Errorf("set variable %s: %w", k, err)
		}
	}
	text, err := c.Text()
	if err != nil {
		return ocr.Result{}, fmt.Errorf("recognize text: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return ocr.Result{}, err
	}
	plain := strings.TrimSpace(text)

	words, avgConf := extractWords(c)
	bounds := mergeBounds(words)
	block := ocr.TextBlock{
		Text:       plain,
		Bounds:     bounds,
		Lines:      []ocr.TextLine{{Text: plain, Bounds: bounds, Words: words, Confidence: avgConf}},
		Confidence: avgConf,
	}

	return ocr.Result{
		InputID:    in.ID,
		PlainText:  plain,
		Blocks:     []ocr.TextBlock{block},
		Language:   firstLanguage(in.Languages),
		Confidence: avgConf,
	}, nil
}

func extractWords(c *gosseract.Client) ([]ocr.TextWord, float64) {
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return nil, 0
	}
	words := make([]ocr.TextWord, 0, len(boxes))
	var sum float64
	for _, b := range boxes {
		conf := b.Confidence / 100.0
		sum += conf
		words = append(words, ocr.TextWord{
			Text:       b.Word,
			Bounds:     ocr.Region{X: float64(b.Box.Min.X), Y: float64(b.Box.Min.Y), Width: float64(b.Box.Dx()), Height: float64(b.Box.Dy())},
			Confidence: conf,
		})
	}
	return words, sum / float64(len(words))
}

func mergeBounds(words []ocr.TextWord) ocr.Region {
	if len(words) == 0 {
		return ocr.Region{}
	}
	minX, minY := math.MaxFloat64, math.MaxFloat64
	var maxX, maxY float64
	for _, w := range words {
		minX = math.Min(minX, w.Bounds.X)
		minY = math.Min(minY, w.Bounds.Y)
		maxX = math.Max(maxX, w.Bounds.X+w.Bounds.Width)
		maxY = math.Max(maxY, w.Bounds.Y+w.Bounds.Height)
	}
	return ocr.Region{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

func firstLanguage(langs []string) string {
	if len(langs) == 0 {
		return ""
	}
	return langs[0]
}

func cropImage(data []byte, region *ocr.Region) ([]byte, error) {
	if region == nil || region.IsEmpty() {
		return data, nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode for region: %w", err)
	}
	rect := image.Rect(
		int(math.Round(region.X)),
		int(math.Round(region.Y)),
		int(math.Round(region.X+region.Width)),
		int(math.Round(region.Y+region.Height)),
	).Intersect(img.Bounds())
	if rect.Empty() {
		return nil, fmt.Errorf("region outside image bounds")
	}
	subImg, ok := img.(interface {
		SubImage(r image.Rectangle) image.Image
	})
	if !ok {
		return nil, fmt.Errorf("image does not support sub-image")
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, subImg.SubImage(rect)); err != nil {
		return nil, fmt.Errorf("encode cropped image: %w", err)
	}
	return buf.Bytes(), nil
}

// blankPNG is a small white image used to force language data to load.
func blankPNG() []byte {
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}

var (
	_ ocr.BatchEngine  = (*Engine)(nil)
	_ ocr.WorkerEngine = (*Engine)(nil)
)
