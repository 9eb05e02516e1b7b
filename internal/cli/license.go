package cli

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wudi/pdfstudio/entitlement"
)

func newLicenseCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "license",
		Short: "Buy, verify and recover the premium license",
	}
	cmd.AddCommand(
		newLicenseStatusCmd(a),
		newLicenseBuyCmd(a),
		newLicenseVerifyCmd(a),
		newLicenseRecoverCmd(a),
		newLicenseBackupCmd(a),
		newLicenseClearCmd(a),
	)
	return cmd
}

func newLicenseStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the license and the active tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			if _, err := svc.Refresh(time.Now()); err != nil {
				return err
			}
			st := svc.Snapshot()
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Status:    %s\n", st.Phase)
			if l := st.License; l != nil {
				fmt.Fprintf(w, "Product:   %s\n", l.ProductType)
				fmt.Fprintf(w, "Purchased: %s\n", l.PurchasedAt.Format(time.DateOnly))
				if l.Email != "" {
					fmt.Fprintf(w, "Email:     %s\n", l.Email)
				}
				if !l.ExpiresAt.IsZero() {
					fmt.Fprintf(w, "Expires:   %s\n", l.ExpiresAt.Format(time.DateOnly))
				}
				if !l.Active {
					fmt.Fprintln(w, "License:   inactive")
				}
			}
			fmt.Fprintf(w, "Tools:     %s (%d of %d slots)\n", joinTools(st.ActiveTools()), len(st.Slots.Chosen), st.SlotMax())
			return nil
		},
	}
}

func newLicenseBuyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "buy <email>",
		Short: "Start a checkout and print the payment page",
		Long: `Buy asks the payment bridge for a checkout session. Open the printed URL,
complete the payment, then run "pdfstudio license verify <session-id>".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			sess, err := svc.BeginCheckout(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session: %s\nPay at:  %s\n", sess.ID, sess.URL)
			return nil
		},
	}
}

func newLicenseVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [session-id]",
		Short: "Verify a completed payment and activate premium",
		Long: `Verify checks the payment session with the bridge. Without an argument
the session of the last "license buy" is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			id := svc.Snapshot().CheckoutSession
			if len(args) == 1 {
				id = args[0]
			}
			lic, err := svc.VerifyPayment(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Premium active since %s; %d tool slots available.\n",
				lic.PurchasedAt.Format(time.DateOnly), svc.SlotMax())
			return nil
		},
	}
}

func newLicenseRecoverCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "recover <email>",
		Short: "Restore a purchase made with this email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			lic, err := svc.RecoverLicense(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "License recovered for %s (purchased %s).\n",
				lic.Email, lic.PurchasedAt.Format(time.DateOnly))
			return nil
		},
	}
}

func newLicenseBackupCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write the license as a JSON backup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			data, err := svc.ExportBackup()
			if err != nil {
				return err
			}
			if output == "" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return err
			}
			return os.WriteFile(output, data, 0o600)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "backup file (default stdout)")
	return cmd
}

func newLicenseClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Forget the license on this machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			if err := svc.Clear(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "License removed. Active tools: %s\n", joinTools(svc.Snapshot().ActiveTools()))
			return nil
		},
	}
}

func newToolsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List or choose the active tools",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List every tool and whether it is active",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				svc, err := a.service()
				if err != nil {
					return err
				}
				active := svc.Snapshot().ActiveTools()
				for _, t := range entitlement.AllTools() {
					mark := " "
					if slices.Contains(active, t) {
						mark = "*"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", mark, t)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d of %d slots used\n", len(active), svc.SlotMax())
				return nil
			},
		},
		&cobra.Command{
			Use:     "select <tool>...",
			Short:   "Replace the active tools",
			Example: `  pdfstudio tools select rotate merge watermark`,
			Args:    cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				svc, err := a.service()
				if err != nil {
					return err
				}
				tools := make([]entitlement.Tool, 0, len(args))
				for _, arg := range args {
					t, err := entitlement.ParseTool(arg)
					if err != nil {
						return err
					}
					tools = append(tools, t)
				}
				if err := svc.SelectTools(tools...); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Active tools: %s\n", joinTools(svc.Snapshot().ActiveTools()))
				return nil
			},
		},
	)
	return cmd
}

func joinTools(tools []entitlement.Tool) string {
	if len(tools) == 0 {
		return "none"
	}
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
