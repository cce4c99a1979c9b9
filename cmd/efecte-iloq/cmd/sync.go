package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/recon"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/pkg/errors"
)

// newSyncCommand runs one reconciliation pass from the command line.
func newSyncCommand(app Application) *cobra.Command {
	sync := &cobra.Command{
		Use:   "sync",
		Short: "Run one reconciliation pass in a single direction",
	}

	var ignoreLeader bool
	sync.PersistentFlags().BoolVar(&ignoreLeader, "ignore-leader", false,
		"run even when this replica is not the leader")

	sync.AddCommand(
		&cobra.Command{
			Use:   "keys-to-iloq",
			Short: "Push Efecte key card changes to iLOQ",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runOnce(cmd.Context(), app, ignoreLeader, func(ctx context.Context, svc *recon.Service) (*recon.Result, error) {
					return svc.SyncKeysToILoq(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "keys-to-efecte",
			Short: "Pull iLOQ key changes into Efecte",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runOnce(cmd.Context(), app, ignoreLeader, func(ctx context.Context, svc *recon.Service) (*recon.Result, error) {
					return svc.SyncKeysToEfecte(ctx)
				})
			},
		},
	)
	return sync
}

// runOnce executes one gated run and prints its summary.
func runOnce(ctx context.Context, app Application, ignoreLeader bool, run func(context.Context, *recon.Service) (*recon.Result, error)) error {
	defer func() { _ = app.Close() }()

	if !ignoreLeader {
		isLeader, err := app.LeaderGate().IsLeader(ctx)
		if err != nil {
			return err
		}
		if !isLeader {
			return errors.ErrNotLeader
		}
	}

	svc, err := app.Service(ctx)
	if err != nil {
		return err
	}

	result, err := run(ctx, svc)
	if err != nil {
		return err
	}

	app.Logger().Info().
		Int("failed", result.Stats.Failed).
		Msg(result.Summary())
	return nil
}
