// Package cmd implements the efecte-iloq command tree. Commands depend on
// the Application interface rather than the concrete app type, keeping the
// dependency direction one-way and the commands testable with mocks.
package cmd

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/leader"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/recon"
)

// Settings carries the runtime settings commands need.
type Settings struct {
	ListenAddr           string
	SyncToILoqInterval   time.Duration
	SyncToEfecteInterval time.Duration
}

// Application is the contract between the application layer and the
// commands.
type Application interface {
	Version() string
	Logger() *zerolog.Logger
	Service(ctx context.Context) (*recon.Service, error)
	LeaderGate() leader.Gate
	Settings() Settings
	Close() error
}

// NewRoot builds the root command and attaches all subcommands.
func NewRoot(app Application) *cobra.Command {
	root := &cobra.Command{
		Use:   "efecte-iloq",
		Short: "Bidirectional key synchronization between Efecte and iLOQ",
		Long: `efecte-iloq reconciles key cards in the Efecte CMDB with electronic
keys in the iLOQ access control system, in both directions. Runs are
idempotent: each run diffs the current state against the last
synchronized snapshot and pushes only the delta.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCommand(app),
		newSyncCommand(app),
		newAuditCommand(app),
		newVersionCommand(app),
	)
	return root
}
