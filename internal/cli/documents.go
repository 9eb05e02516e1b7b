package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wudi/pdfstudio/document"
	"github.com/wudi/pdfstudio/ir/raw"
	"github.com/wudi/pdfstudio/observability"
	"github.com/wudi/pdfstudio/optimize"
	"github.com/wudi/pdfstudio/security"
	"github.com/wudi/pdfstudio/session"
	"github.com/wudi/pdfstudio/transform"
)

const producer = "pdfstudio"

// docFlags are shared by the commands that edit one document.
type docFlags struct {
	output   string
	password string
	pages    string
}

func (f *docFlags) register(cmd *cobra.Command, withPages bool) {
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "output file")
	cmd.Flags().StringVarP(&f.password, "password", "p", "", "password of the input document")
	if withPages {
		cmd.Flags().StringVar(&f.pages, "pages", "", `pages to act on, e.g. "1-3,7" (default all)`)
	}
}

func (a *app) loader() *document.Loader {
	return document.NewLoader(document.WithLogger(a.logger), document.WithTracer(a.tracer))
}

func (a *app) engine() (*transform.Engine, error) {
	svc, err := a.service()
	if err != nil {
		return nil, err
	}
	return transform.NewEngine(
		transform.WithLoader(a.loader()),
		transform.WithGate(svc),
		transform.WithLogger(a.logger),
		transform.WithTracer(a.tracer),
	), nil
}

func (a *app) open(ctx context.Context, path, password string) (*document.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := a.loader().Load(ctx, data, document.WithPassword(password))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

func (a *app) save(ctx context.Context, doc *document.Document, path string) error {
	data, err := document.Export(ctx, doc, document.WithProducer(producer), document.WithExportTracer(a.tracer))
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	a.logger.Info("document written",
		observability.String("path", path),
		observability.Int("pages", doc.PageCount()),
		observability.Int("bytes", len(data)),
	)
	return nil
}

// selectPages returns doc with the pages named by expr selected. An empty
// expr selects every page.
func selectPages(doc *document.Document, expr string, logger observability.Logger) (*document.Document, error) {
	s, err := session.New(doc, session.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(expr) == "" {
		s.SelectAll()
		return s.Document(), nil
	}
	groups, err := transform.ParseRanges(expr, doc.PageCount())
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, g := range groups {
		for _, n := range g {
			ids = append(ids, doc.Pages[n-1].ID)
		}
	}
	if err := s.Select(ids...); err != nil {
		return nil, err
	}
	return s.Document(), nil
}

// outputPath is explicit when set, otherwise input with suffix appended to
// its base name.
func outputPath(input, suffix, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return strings.TrimSuffix(input, filepath.Ext(input)) + "-" + suffix + ".pdf"
}

// edit loads input, selects f.pages, applies op and writes the result.
func (a *app) edit(cmd *cobra.Command, input string, f *docFlags, op transform.Operation, suffix string) (*transform.Result, error) {
	ctx := cmd.Context()
	engine, err := a.engine()
	if err != nil {
		return nil, err
	}
	doc, err := a.open(ctx, input, f.password)
	if err != nil {
		return nil, err
	}
	if doc, err = selectPages(doc, f.pages, a.logger); err != nil {
		return nil, err
	}
	res, err := engine.Apply(ctx, doc, op)
	if err != nil {
		return nil, err
	}
	out := outputPath(input, suffix, f.output)
	if err := a.save(ctx, res.Document, out); err != nil {
		return nil, err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return res, nil
}

func newInfoCmd(a *app) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "info <file.pdf>",
		Short: "Print the pages and properties of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := a.open(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "File:      %s\n", args[0])
			fmt.Fprintf(w, "Version:   %s\n", doc.Version)
			fmt.Fprintf(w, "Size:      %d bytes\n", doc.SourceSize)
			fmt.Fprintf(w, "Pages:     %d\n", doc.PageCount())
			if doc.Protection != nil {
				fmt.Fprintf(w, "Encrypted: %s\n", doc.Protection.Algorithm)
			}
			for _, kv := range [][2]string{
				{"Title", doc.Info.Title},
				{"Author", doc.Info.Author},
				{"Subject", doc.Info.Subject},
				{"Keywords", strings.Join(doc.Info.Keywords, ", ")},
				{"Creator", doc.Info.Creator},
				{"Producer", doc.Info.Producer},
			} {
				if kv[1] != "" {
					fmt.Fprintf(w, "%-10s %s\n", kv[0]+":", kv[1])
				}
			}
			for _, p := range doc.Pages {
				width, height := p.DisplaySize()
				fmt.Fprintf(w, "  page %d: %.0fx%.0f pt, rotated %d\n", p.Number, width, height, p.Rotation)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "password of the document")
	return cmd
}

func newRotateCmd(a *app) *cobra.Command {
	var (
		f       docFlags
		degrees int
	)
	cmd := &cobra.Command{
		Use:   "rotate <file.pdf>",
		Short: "Rotate pages by a multiple of 90 degrees",
		Example: `  pdfstudio rotate report.pdf --degrees 90 --pages 2-4
  pdfstudio rotate scan.pdf --degrees -90 -o upright.pdf`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := a.edit(cmd, args[0], &f, transform.Rotate{Delta: degrees}, "rotated")
			return err
		},
	}
	f.register(cmd, true)
	cmd.Flags().IntVarP(&degrees, "degrees", "d", 90, "clockwise rotation in degrees")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	var f docFlags
	cmd := &cobra.Command{
		Use:   "delete <file.pdf> --pages <ranges>",
		Short: "Remove pages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := a.edit(cmd, args[0], &f, transform.Delete{}, "deleted")
			return err
		},
	}
	f.register(cmd, true)
	_ = cmd.MarkFlagRequired("pages")
	return cmd
}

func newDuplicateCmd(a *app) *cobra.Command {
	var f docFlags
	cmd := &cobra.Command{
		Use:   "duplicate <file.pdf>",
		Short: "Insert a copy of each selected page after it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := a.edit(cmd, args[0], &f, transform.Duplicate{}, "duplicated")
			return err
		},
	}
	f.register(cmd, true)
	return cmd
}

func newMergeCmd(a *app) *cobra.Command {
	var (
		output    string
		passwords []string
	)
	cmd := &cobra.Command{
		Use:     "merge <first.pdf> <second.pdf> [more.pdf...]",
		Short:   "Concatenate documents in the order given",
		Example: `  pdfstudio merge cover.pdf body.pdf appendix.pdf -o book.pdf`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			engine, err := a.engine()
			if err != nil {
				return err
			}
			pwd := func(i int) string {
				if i < len(passwords) {
					return passwords[i]
				}
				return ""
			}
			first, err := a.open(ctx, args[0], pwd(0))
			if err != nil {
				return err
			}
			inputs := make([]transform.Input, 0, len(args)-1)
			for i, path := range args[1:] {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				inputs = append(inputs, transform.Input{Name: filepath.Base(path), Data: data, Password: pwd(i + 1)})
			}
			res, err := engine.Apply(ctx, first, transform.Merge{Inputs: inputs, IncludeCurrent: true})
			if err != nil {
				return err
			}
			out := outputPath(args[0], "merged", output)
			if err := a.save(ctx, res.Document, out); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file")
	cmd.Flags().StringSliceVar(&passwords, "passwords", nil, "passwords of the inputs, in argument order")
	return cmd
}

func newSplitCmd(a *app) *cobra.Command {
	var (
		f      docFlags
		mode   string
		ranges string
		every  int
	)
	cmd := &cobra.Command{
		Use:   "split <file.pdf>",
		Short: "Split a document into several files",
		Long: `Split writes one file per part next to the input, or into the directory
given with --output. Modes: extract (the --pages selection as one file),
range (one file per token of --ranges), single, every-n, even and odd.`,
		Example: `  pdfstudio split book.pdf --mode range --ranges "1-10,11-20"
  pdfstudio split scan.pdf --mode every-n --every 2 -o parts/`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m, err := transform.ParseSplitMode(mode)
			if err != nil {
				return err
			}
			engine, err := a.engine()
			if err != nil {
				return err
			}
			doc, err := a.open(ctx, args[0], f.password)
			if err != nil {
				return err
			}
			if doc, err = selectPages(doc, f.pages, a.logger); err != nil {
				return err
			}
			res, err := engine.Apply(ctx, doc, transform.Split{Mode: m, Ranges: ranges, Every: every})
			if err != nil {
				return err
			}
			dir := f.output
			if dir == "" {
				dir = filepath.Dir(args[0])
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			base := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			for i, part := range res.Parts {
				out := filepath.Join(dir, fmt.Sprintf("%s-part-%02d.pdf", base, i+1))
				if err := a.save(ctx, part, out); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
			}
			return nil
		},
	}
	f.register(cmd, true)
	cmd.Flags().Lookup("output").Usage = "output directory (default: next to the input)"
	cmd.Flags().StringVarP(&mode, "mode", "m", "range", "split mode")
	cmd.Flags().StringVarP(&ranges, "ranges", "r", "", `page ranges for range mode, e.g. "1-3,4-6"`)
	cmd.Flags().IntVarP(&every, "every", "n", 1, "pages per part for every-n mode")
	return cmd
}

func newWatermarkCmd(a *app) *cobra.Command {
	var (
		f         docFlags
		spec      transform.WatermarkSpec
		anchor    string
		color     string
		imagePath string
		fontPath  string
	)
	cmd := &cobra.Command{
		Use:   "watermark <file.pdf>",
		Short: "Stamp text or an image onto pages",
		Long: `Watermark stamps text or an image onto the selected pages. Text may use
the placeholders {page}, {total} and {date}. Presets: ` + strings.Join(transform.Presets(), ", ") + `.`,
		Example: `  pdfstudio watermark contract.pdf --preset confidential
  pdfstudio watermark deck.pdf --text "Page {page} of {total}" --anchor bottom-right --font-size 10
  pdfstudio watermark brochure.pdf --image logo.png --anchor tile --opacity 0.1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if spec.Anchor, err = transform.ParseAnchor(anchor); err != nil {
				return err
			}
			if color != "" {
				if spec.Color, err = parseColor(color); err != nil {
					return err
				}
			}
			if imagePath != "" {
				if spec.Image, err = os.ReadFile(imagePath); err != nil {
					return err
				}
				spec.Kind = transform.WatermarkImage
			}
			if fontPath != "" {
				if spec.Font, err = os.ReadFile(fontPath); err != nil {
					return err
				}
			}
			_, err = a.edit(cmd, args[0], &f, transform.Watermark{Spec: spec}, "watermarked")
			return err
		},
	}
	f.register(cmd, true)
	fl := cmd.Flags()
	fl.StringVarP(&spec.Text, "text", "t", "", "watermark text")
	fl.StringVar(&spec.Preset, "preset", "", "named stamp")
	fl.StringVar(&imagePath, "image", "", "PNG or JPEG image to stamp instead of text")
	fl.StringVar(&fontPath, "font", "", "TrueType font for the text")
	fl.StringVarP(&anchor, "anchor", "a", "center", "position: center, top-left, ..., diagonal or tile")
	fl.Float64Var(&spec.Opacity, "opacity", 0, "opacity in (0,1] (default 0.3)")
	fl.Float64Var(&spec.Rotation, "rotation", 0, "rotation in degrees, counter-clockwise")
	fl.Float64Var(&spec.Scale, "scale", 0, "image scale relative to the page width (default 0.2)")
	fl.Float64Var(&spec.FontSize, "font-size", 0, "font size in points (default 50)")
	fl.StringVar(&color, "color", "", `text color as "r,g,b" in 0-255 or "#rrggbb"`)
	fl.IntVar(&spec.TileRows, "rows", 0, "tile rows")
	fl.IntVar(&spec.TileCols, "cols", 0, "tile columns")
	fl.Float64Var(&spec.TileSpacing, "spacing", 0, "tile spacing in points")
	return cmd
}

// parseColor accepts "#rrggbb" or "r,g,b" with 0-255 components.
func parseColor(s string) (*transform.RGB, error) {
	var c [3]float64
	if hex, ok := strings.CutPrefix(s, "#"); ok {
		if len(hex) != 6 {
			return nil, fmt.Errorf("invalid color %q", s)
		}
		for i := range c {
			v, err := strconv.ParseUint(hex[2*i:2*i+2], 16, 8)
			if err != nil {
				return nil, fmt.Errorf("invalid color %q", s)
			}
			c[i] = float64(v) / 255
		}
		return &transform.RGB{R: c[0], G: c[1], B: c[2]}, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid color %q", s)
	}
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid color %q", s)
		}
		c[i] = float64(v) / 255
	}
	return &transform.RGB{R: c[0], G: c[1], B: c[2]}, nil
}

func newCompressCmd(a *app) *cobra.Command {
	var (
		f     docFlags
		level string
	)
	cmd := &cobra.Command{
		Use:   "compress <file.pdf>",
		Short: "Shrink images and streams",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := optimize.ParseLevel(level)
			if err != nil {
				return err
			}
			res, err := a.edit(cmd, args[0], &f, transform.Compress{Level: l}, "compressed")
			if err != nil {
				return err
			}
			if st := res.Compression; st != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "images %d, re-encoded %d, resized %d, streams compressed %d, deduplicated %d, %d -> %d bytes\n",
					st.Images, st.Reencoded, st.Resized, st.Compressed, st.Deduplicated, st.BytesBefore, st.BytesAfter)
			}
			return nil
		},
	}
	f.register(cmd, false)
	cmd.Flags().StringVarP(&level, "level", "l", optimize.LevelMedium.String(), "low, medium, high or extreme")
	return cmd
}

func newProtectCmd(a *app) *cobra.Command {
	var (
		f         docFlags
		user      string
		owner     string
		algorithm string
		deny      []string
	)
	cmd := &cobra.Command{
		Use:     "protect <file.pdf> --user <password>",
		Short:   "Encrypt a document with a password",
		Example: `  pdfstudio protect offer.pdf --user s3cret --owner admin --algorithm aes-256 --deny print,copy`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			alg, err := security.ParseAlgorithm(algorithm)
			if err != nil {
				return err
			}
			perms, err := permissions(deny)
			if err != nil {
				return err
			}
			op := transform.Password{
				Action:        transform.PasswordAdd,
				UserPassword:  user,
				OwnerPassword: owner,
				Algorithm:     alg,
				Permissions:   perms,
			}
			_, err = a.edit(cmd, args[0], &f, op, "protected")
			return err
		},
	}
	f.register(cmd, false)
	cmd.Flags().StringVar(&user, "user", "", "password required to open the document")
	cmd.Flags().StringVar(&owner, "owner", "", "password that lifts the restrictions")
	cmd.Flags().StringVar(&algorithm, "algorithm", security.AlgorithmAES256.String(), "aes-128, aes-256 or rc4-128")
	cmd.Flags().StringSliceVar(&deny, "deny", nil, "actions to forbid: print, modify, copy, annotate, forms, assemble")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func permissions(deny []string) (*raw.Permissions, error) {
	p := raw.AllowAll()
	for _, d := range deny {
		switch strings.ToLower(strings.TrimSpace(d)) {
		case "print":
			p.Print, p.PrintHighQuality = false, false
		case "modify":
			p.Modify = false
		case "copy":
			p.Copy, p.ExtractAccessible = false, false
		case "annotate":
			p.ModifyAnnotations = false
		case "forms":
			p.FillForms = false
		case "assemble":
			p.Assemble = false
		default:
			return nil, fmt.Errorf("unknown permission %q", d)
		}
	}
	return &p, nil
}

func newUnprotectCmd(a *app) *cobra.Command {
	var f docFlags
	cmd := &cobra.Command{
		Use:   "unprotect <file.pdf> --password <password>",
		Short: "Remove the password from a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			op := transform.Password{Action: transform.PasswordRemove, Current: f.password}
			_, err := a.edit(cmd, args[0], &f, op, "unlocked")
			return err
		},
	}
	f.register(cmd, false)
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
