package cli

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/wudi/pdfstudio/payment/stripe"
	"github.com/wudi/pdfstudio/server"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the payment bridge",
		Long: `Serve runs the HTTP bridge between pdfstudio clients and Stripe. It answers
/api/verify-payment, /api/recover-license and /api/create-checkout, and
exposes /healthz and /metrics. The Stripe secret key is read from
STRIPE_SECRET_KEY or the config file.`,
		Example: `  STRIPE_SECRET_KEY=sk_test_... pdfstudio serve --addr :8080`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if addr != "" {
				cfg.Server.Addr = addr
			}
			provider, err := stripe.New(stripe.Config{
				SecretKey:  cfg.Payment.StripeSecretKey,
				BaseURL:    cfg.Payment.StripeBaseURL,
				PriceID:    cfg.Payment.StripePriceID,
				SuccessURL: cfg.Payment.StripeSuccessURL,
				CancelURL:  cfg.Payment.StripeCancelURL,
				Timeout:    cfg.Server.ProviderTimeout,
			}, a.logger)
			if err != nil {
				return fmt.Errorf("stripe: %w", err)
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			app, err := server.New(server.Config{
				Addr:            cfg.Server.Addr,
				ProductType:     cfg.Server.ProductType,
				ProviderTimeout: cfg.Server.ProviderTimeout,
				Tracing:         cfg.Telemetry.Tracing,
			}, provider, a.logger, reg)
			if err != nil {
				return err
			}
			return server.Run(cmd.Context(), app, cfg.Server.Addr, a.logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, :8080)")
	return cmd
}
