package cli

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/wudi/pdfstudio/entitlement"
	"github.com/wudi/pdfstudio/observability"
	"github.com/wudi/pdfstudio/ocr"
	"github.com/wudi/pdfstudio/ocr/tesseract"
	"github.com/wudi/pdfstudio/transform"
)

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".tif": true, ".tiff": true, ".webp": true}

func newOCRCmd(a *app) *cobra.Command {
	var (
		password     string
		output       string
		format       string
		language     string
		pages        string
		workers      int
		dpi          int
		noPreprocess bool
		quiet        bool
	)
	cmd := &cobra.Command{
		Use:   "ocr <file.pdf|image>",
		Short: "Recognize the text of a scanned document",
		Long: `OCR rasterizes each page, cleans it up and runs Tesseract over it. Pages
are processed by a small pool of workers; progress is reported on stderr.
Output formats: text, markdown, html and parquet.

Only scanned content is seen: the rasterizer paints images and filled
shapes but not text drawn with fonts, so pages of a born-digital PDF come
out blank.`,
		Example: `  pdfstudio ocr scan.pdf --language deu -o scan.txt
  pdfstudio ocr scan.pdf --pages 1-5 --format parquet -o scan.parquet
  pdfstudio ocr receipt.jpg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			if err := svc.CanRun(entitlement.ToolOCR); err != nil {
				return err
			}
			if language == "" {
				language = a.cfg.OCR.Language
			}
			if language, err = ocr.ValidateLanguage(language); err != nil {
				return err
			}
			var progress io.Writer = cmd.ErrOrStderr()
			if quiet {
				progress = io.Discard
			}

			var results []ocr.PageResult
			if imageExts[strings.ToLower(filepath.Ext(args[0]))] {
				results, err = a.ocrImage(cmd, args[0], language)
			} else {
				results, err = a.ocrDocument(cmd, args[0], password, pages, language, ocrTuning{
					workers:    pick(workers, a.cfg.OCR.Workers),
					dpi:        pick(dpi, a.cfg.OCR.DPI),
					preprocess: !noPreprocess,
				}, progress)
			}
			if err != nil {
				return err
			}
			return writeOCR(cmd.OutOrStdout(), output, format, results)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&password, "password", "p", "", "password of the input document")
	fl.StringVarP(&output, "output", "o", "", "output file (default stdout)")
	fl.StringVarP(&format, "format", "f", "", "text, markdown, html or parquet (default from the output extension)")
	fl.StringVarP(&language, "language", "l", "", "Tesseract language code, e.g. eng or deu")
	fl.StringVar(&pages, "pages", "", `pages to recognize, e.g. "1-3,7" (default all)`)
	fl.IntVarP(&workers, "workers", "w", 0, fmt.Sprintf("parallel workers, 1-%d", ocr.MaxWorkers))
	fl.IntVar(&dpi, "dpi", 0, "rasterization resolution")
	fl.BoolVar(&noPreprocess, "raw", false, "skip grayscale and contrast adjustment")
	fl.BoolVarP(&quiet, "quiet", "q", false, "do not report progress")
	cmd.AddCommand(newOCRLanguagesCmd())
	return cmd
}

func newOCRLanguagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Short: "List the recognition languages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, l := range ocr.Languages() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s %-22s %s\n", l.Code, l.Name, l.NativeName)
			}
			return nil
		},
	}
}

type ocrTuning struct {
	workers    int
	dpi        int
	preprocess bool
}

func pick(flag, configured int) int {
	if flag > 0 {
		return flag
	}
	return configured
}

func (a *app) ocrDocument(cmd *cobra.Command, path, password, pages, language string, t ocrTuning, progress io.Writer) ([]ocr.PageResult, error) {
	ctx := cmd.Context()
	doc, err := a.open(ctx, path, password)
	if err != nil {
		return nil, err
	}
	opts := ocr.Options{Language: language}
	if pages != "" {
		groups, err := transform.ParseRanges(pages, doc.PageCount())
		if err != nil {
			return nil, err
		}
		for _, g := range groups {
			opts.Pages = append(opts.Pages, g...)
		}
	}
	if t.preprocess {
		pre := a.cfg.OCR.Preprocess()
		opts.Preprocess = &pre
	}

	rec := ocr.NewRecognizer(tesseract.New(), a.logger)
	rec.Workers = t.workers
	rec.DPI = t.dpi
	run, err := rec.Start(ctx, doc, opts, func(p ocr.Progress) {
		fmt.Fprintf(progress, "[%3.0f%%] %s\n", p.Fraction*100, p.Message)
	})
	if err != nil {
		return nil, err
	}
	results, err := run.Wait(ctx)
	if err != nil {
		run.Cancel()
		return nil, err
	}
	failed := 0
	for _, r := range results {
		if r.Failed() {
			failed++
			a.logger.Warn("page not recognized", observability.Int("page", r.PageNumber), observability.Error("error", r.Err))
		}
	}
	if failed == len(results) && failed > 0 {
		return nil, fmt.Errorf("no page could be recognized: %w", results[0].Err)
	}
	a.logger.Info("ocr finished",
		observability.Int("pages", len(results)),
		observability.Int("failed", failed),
		observability.Float64("confidence", ocr.AverageConfidence(results)),
	)
	return results, nil
}

func (a *app) ocrImage(cmd *cobra.Command, path, language string) ([]ocr.PageResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	pre := a.cfg.OCR.Preprocess()
	in, err := ocr.NewInput(filepath.Base(path), 0, pre.Apply(img), ocr.WithLanguages(language))
	if err != nil {
		return nil, err
	}
	out, err := ocr.RecognizeImages(cmd.Context(), tesseract.New(), []ocr.Input{in})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.New("engine returned no result")
	}
	res := out[0]
	return []ocr.PageResult{{
		PageNumber: 1,
		PageID:     in.ID,
		Text:       res.PlainText,
		Confidence: res.MeanConfidence(),
		Language:   language,
		Result:     res,
	}}, nil
}

// ocrFormat picks the output format from the flag, then from the output
// file's extension.
func ocrFormat(format, output string) (string, error) {
	if format == "" {
		switch strings.ToLower(filepath.Ext(output)) {
		case ".md", ".markdown":
			format = "markdown"
		case ".html", ".htm":
			format = "html"
		case ".parquet":
			format = "parquet"
		default:
			format = "text"
		}
	}
	switch format {
	case "text", "txt":
		return "text", nil
	case "markdown", "md":
		return "markdown", nil
	case "html", "parquet":
		return format, nil
	}
	return "", fmt.Errorf("unknown output format %q", format)
}

func writeOCR(stdout io.Writer, output, format string, results []ocr.PageResult) error {
	format, err := ocrFormat(format, output)
	if err != nil {
		return err
	}
	if format == "parquet" && output == "" {
		return errors.New("parquet output needs --output")
	}
	w := stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	switch format {
	case "markdown":
		_, err = w.Write(ocr.ExportMarkdown(results))
	case "html":
		var html []byte
		if html, err = ocr.ExportHTML(results); err == nil {
			_, err = w.Write(html)
		}
	case "parquet":
		err = ocr.ExportParquet(w, results)
	default:
		_, err = io.WriteString(w, ocr.CombineResults(results)+"\n")
	}
	if err != nil {
		return err
	}
	if f, ok := w.(*os.File); ok && output != "" {
		return f.Close()
	}
	return nil
}
