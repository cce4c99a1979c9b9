package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

// newAuditCommand groups the audit remediation flows. The engine itself
// never clears in-progress guards in bulk; that is this command's job,
// run by an operator after the underlying condition has been fixed.
func newAuditCommand(app Application) *cobra.Command {
	audit := &cobra.Command{
		Use:   "audit",
		Short: "Inspect and reset audit exception state",
	}

	audit.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Print all live audit records as JSON",
			RunE: func(cmd *cobra.Command, _ []string) error {
				defer func() { _ = app.Close() }()
				svc, err := app.Service(cmd.Context())
				if err != nil {
					return err
				}
				records, err := svc.Audit().Records(cmd.Context())
				if err != nil {
					return err
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Clear all in-progress guards so failures report again",
			RunE: func(cmd *cobra.Command, _ []string) error {
				defer func() { _ = app.Close() }()
				svc, err := app.Service(cmd.Context())
				if err != nil {
					return err
				}
				cleared, err := svc.Audit().ResetGuards(cmd.Context())
				if err != nil {
					return err
				}
				app.Logger().Info().Int("cleared", cleared).Msg("Audit guards reset")
				return nil
			},
		},
	)
	return audit
}
