// Package cli implements the pdfstudio command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/wudi/pdfstudio/config"
	"github.com/wudi/pdfstudio/entitlement"
	"github.com/wudi/pdfstudio/observability"
	"github.com/wudi/pdfstudio/payment"
)

// app carries what every subcommand shares. It is filled by the root
// command's PersistentPreRunE.
type app struct {
	configPath string
	logLevel   string

	cfg      *config.Config
	logger   observability.Logger
	tracer   observability.Tracer
	shutdown func(context.Context) error

	// newService builds the entitlement service; tests replace it.
	newService func(*app) (*entitlement.Service, error)
}

func NewRootCmd() *cobra.Command {
	return newRoot(&app{newService: defaultService})
}

func newRoot(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pdfstudio",
		Short: "Edit, protect and OCR PDF files locally",
		Long: `pdfstudio rotates, merges, splits, watermarks, signs, compresses,
protects and converts PDF files without uploading them anywhere. Premium tools are unlocked with a
license obtained through the payment bridge, which "pdfstudio serve" runs.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.shutdown == nil {
				return nil
			}
			return a.shutdown(context.WithoutCancel(cmd.Context()))
		},
	}
	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default ./"+config.DefaultFile+" when present)")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")

	cmd.AddCommand(
		newInfoCmd(a),
		newRotateCmd(a),
		newDeleteCmd(a),
		newDuplicateCmd(a),
		newMergeCmd(a),
		newSplitCmd(a),
		newWatermarkCmd(a),
		newSignCmd(a),
		newStampCmd(a),
		newCompressCmd(a),
		newProtectCmd(a),
		newUnprotectCmd(a),
		newOCRCmd(a),
		newConvertCmd(a),
		newLicenseCmd(a),
		newToolsCmd(a),
		newServeCmd(a),
	)
	return cmd
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	a.cfg = cfg
	a.logger = newLogger(cmd.ErrOrStderr(), cfg.Log)
	a.tracer = observability.NopTracer()

	tc := cfg.Telemetry.TracingConfig()
	if tc.Enabled {
		shutdown, err := observability.InitTracing(cmd.Context(), tc, a.logger)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		a.shutdown = shutdown
		a.tracer = observability.NewOtelTracer("pdfstudio")
	}
	return nil
}

func newLogger(w io.Writer, c config.LogConfig) observability.Logger {
	if c.Format == "text" {
		h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: observability.ParseLevel(c.Level)})
		return observability.NewSlogLogger(slog.New(h))
	}
	return observability.NewJSONLogger(w, c.Level)
}

func defaultService(a *app) (*entitlement.Service, error) {
	client := payment.NewClient(a.cfg.Payment.BridgeURL,
		payment.WithTimeout(a.cfg.Payment.Timeout),
		payment.WithLogger(a.logger),
	)
	return entitlement.NewService(client,
		entitlement.WithStore(entitlement.NewFileStore(a.cfg.Entitlement.Dir)),
		entitlement.WithProduct(a.cfg.Server.ProductType),
		entitlement.WithLogger(a.logger),
	)
}

func (a *app) service() (*entitlement.Service, error) {
	svc, err := a.newService(a)
	if err != nil {
		return nil, fmt.Errorf("open entitlement state: %w", err)
	}
	return svc, nil
}
