package cli

import (
	"errors"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wudi/pdfstudio/transform"
)

func newSignCmd(a *app) *cobra.Command {
	var (
		f         docFlags
		sig       transform.Signature
		imagePath string
	)
	cmd := &cobra.Command{
		Use:   "sign <file.pdf>",
		Short: "Place a typed or drawn signature on a page",
		Long: `Sign places a signature in a box on one page. The box is given in points
from the lower-left corner of the page. A typed signature is set in Helvetica
with the optional name and title below it; --image places a PNG or JPEG
signature instead. --date adds "Date: " and today's date, formatted with
MM, DD, YYYY and YY.`,
		Example: `  pdfstudio sign contract.pdf --page 3 --text "Jane Doe" --name "Jane Doe" --title CFO --date
  pdfstudio sign contract.pdf --page 3 --image signature.png --x 350 --y 80 --width 180 --height 60`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case imagePath != "" && sig.Text != "":
				return errors.New("use either --text or --image")
			case imagePath != "":
				data, err := os.ReadFile(imagePath)
				if err != nil {
					return err
				}
				sig.Kind, sig.Image = transform.SignatureImage, data
			}
			_, err := a.edit(cmd, args[0], &f, sig, "signed")
			return err
		},
	}
	f.register(cmd, false)
	fl := cmd.Flags()
	fl.IntVar(&sig.Page, "page", 1, "page to sign")
	fl.StringVarP(&sig.Text, "text", "t", "", "typed signature")
	fl.StringVar(&imagePath, "image", "", "signature image")
	fl.Float64Var(&sig.X, "x", 72, "left edge of the box")
	fl.Float64Var(&sig.Y, "y", 72, "bottom edge of the box")
	fl.Float64Var(&sig.Width, "width", 200, "box width")
	fl.Float64Var(&sig.Height, "height", 50, "box height")
	fl.StringVar(&sig.Name, "name", "", "name printed below the signature")
	fl.StringVar(&sig.Title, "title", "", "title printed below the name")
	fl.BoolVar(&sig.Date, "date", false, "add the signing date")
	fl.StringVar(&sig.DateFormat, "date-format", "MM/DD/YYYY", "date layout")
	return cmd
}

func newStampCmd(a *app) *cobra.Command {
	var (
		f      docFlags
		stamp  transform.Stamp
		anchor string
		color  string
	)
	cmd := &cobra.Command{
		Use:   "stamp <file.pdf>",
		Short: "Frame a status stamp on pages",
		Long: `Stamp draws a framed status word near a corner or in the center of the
selected pages. Presets: ` + strings.Join(transform.StampPresets(), ", ") + `.`,
		Example: `  pdfstudio stamp invoice.pdf --preset approved --date
  pdfstudio stamp draft.pdf --text "FOR REVIEW" --anchor center --color "#1f4fbf" --pages 1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if stamp.Anchor, err = transform.ParseAnchor(anchor); err != nil {
				return err
			}
			if color != "" {
				if stamp.Color, err = parseColor(color); err != nil {
					return err
				}
			}
			_, err = a.edit(cmd, args[0], &f, stamp, "stamped")
			return err
		},
	}
	f.register(cmd, true)
	fl := cmd.Flags()
	fl.StringVar(&stamp.Preset, "preset", "approved", "named stamp")
	fl.StringVarP(&stamp.Text, "text", "t", "", "custom stamp text")
	fl.StringVarP(&anchor, "anchor", "a", "top-right", "center, top-left, top-right, bottom-left or bottom-right")
	fl.StringVar(&color, "color", "", `color as "r,g,b" in 0-255 or "#rrggbb" (default red)`)
	fl.BoolVar(&stamp.Date, "date", false, "add today's date below the stamp")
	return cmd
}
