package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wudi/pdfstudio/convert"
	"github.com/wudi/pdfstudio/entitlement"
	"github.com/wudi/pdfstudio/observability"
	"github.com/wudi/pdfstudio/transform"
)

func newConvertCmd(a *app) *cobra.Command {
	var (
		password string
		output   string
		to       string
		pages    string
		dpi      float64
		quality  int
		noHeader bool
		quiet    bool
	)
	cmd := &cobra.Command{
		Use:   "convert <file.pdf>",
		Short: "Convert pages to images, text, Markdown or HTML",
		Long: `Convert renders pages to PNG or JPEG images, or reads their text layer
into plain text, Markdown or HTML.

Images are written as <name>_page_<n>.<ext> into the --output directory, or
into one archive when --output ends in .zip. They show scanned content only:
text drawn with fonts is not rasterized. Text formats go to --output or
stdout.`,
		Example: `  pdfstudio convert report.pdf --to png --dpi 200 -o pages/
  pdfstudio convert report.pdf --to jpeg --pages 1-3 -o report.zip
  pdfstudio convert report.pdf --to markdown -o report.md`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			if err := svc.CanRun(entitlement.ToolConvert); err != nil {
				return err
			}
			ctx := cmd.Context()
			doc, err := a.open(ctx, args[0], password)
			if err != nil {
				return err
			}
			var numbers []int
			if pages != "" {
				groups, err := transform.ParseRanges(pages, doc.PageCount())
				if err != nil {
					return err
				}
				for _, g := range groups {
					numbers = append(numbers, g...)
				}
			}
			conv := convert.New(a.logger)
			base := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))

			switch to = strings.ToLower(to); to {
			case "text", "txt", "markdown", "md", "html":
				text, err := conv.Text(ctx, doc, numbers)
				if err != nil {
					return err
				}
				var data []byte
				switch to {
				case "markdown", "md":
					data = convert.Markdown(base, text)
				case "html":
					if data, err = convert.HTML(base, text); err != nil {
						return err
					}
				default:
					data = []byte(convert.PlainText(text, !noHeader) + "\n")
				}
				return writeOutput(cmd.OutOrStdout(), output, data)
			}

			format, err := convert.ParseFormat(to)
			if err != nil {
				return err
			}
			var progress io.Writer = cmd.ErrOrStderr()
			if quiet {
				progress = io.Discard
			}
			images, err := conv.Images(ctx, doc, convert.ImageOptions{Format: format, DPI: dpi, Quality: quality, Pages: numbers}, func(p convert.Progress) {
				fmt.Fprintf(progress, "[%3.0f%%] %s\n", p.Fraction*100, p.Message)
			})
			if err != nil {
				return err
			}
			return a.writeImages(cmd.OutOrStdout(), args[0], base, output, images)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&password, "password", "p", "", "password of the input document")
	fl.StringVarP(&output, "output", "o", "", "output file or directory")
	fl.StringVar(&to, "to", "png", "png, jpeg, text, markdown or html")
	fl.StringVar(&pages, "pages", "", `pages to convert, e.g. "1-3,7" (default all)`)
	fl.Float64Var(&dpi, "dpi", convert.DefaultDPI, "image resolution")
	fl.IntVar(&quality, "quality", convert.DefaultQuality, "JPEG quality, 1-100")
	fl.BoolVar(&noHeader, "no-page-headers", false, `omit the "=== Page N ===" lines of text output`)
	fl.BoolVarP(&quiet, "quiet", "q", false, "do not report progress")
	return cmd
}

func writeOutput(stdout io.Writer, output string, data []byte) error {
	if output == "" {
		_, err := stdout.Write(data)
		return err
	}
	return os.WriteFile(output, data, 0o644)
}

// writeImages stores images as one zip when output names one, otherwise as
// files in output, which defaults to the input's directory.
func (a *app) writeImages(stdout io.Writer, input, base, output string, images []convert.PageImage) error {
	if strings.EqualFold(filepath.Ext(output), ".zip") {
		f, err := os.Create(output)
		if err != nil {
			return err
		}
		if err := convert.WriteZip(f, base, images); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintln(stdout, output)
		return nil
	}
	dir := output
	if dir == "" {
		dir = filepath.Dir(input)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, img := range images {
		path := filepath.Join(dir, convert.FileName(base, img))
		if err := os.WriteFile(path, img.Data, 0o644); err != nil {
			return err
		}
		fmt.Fprintln(stdout, path)
	}
	a.logger.Info("pages converted", observability.String("dir", dir), observability.Int("pages", len(images)))
	return nil
}
