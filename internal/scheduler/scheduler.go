// Package scheduler triggers reconciliation runs on fixed intervals, gated
// by leader election.
package scheduler

import (
	"context"
	"time"

	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/leader"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/recon"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/pkg/logging"
)

// Syncer is the slice of the reconciliation service the scheduler drives.
type Syncer interface {
	SyncKeysToILoq(ctx context.Context) (*recon.Result, error)
	SyncKeysToEfecte(ctx context.Context) (*recon.Result, error)
}

// Scheduler runs both sync directions periodically while this replica
// holds leadership.
type Scheduler struct {
	syncer Syncer
	gate   leader.Gate

	toILoqInterval   time.Duration
	toEfecteInterval time.Duration
}

// New creates a scheduler. Non-positive intervals disable the direction.
func New(syncer Syncer, gate leader.Gate, toILoqInterval, toEfecteInterval time.Duration) *Scheduler {
	return &Scheduler{
		syncer:           syncer,
		gate:             gate,
		toILoqInterval:   toILoqInterval,
		toEfecteInterval: toEfecteInterval,
	}
}

// Run blocks until the context is canceled, firing gated runs on each
// interval tick. A run failure is logged and the schedule keeps going.
func (s *Scheduler) Run(ctx context.Context) {
	log := logging.FromContext(ctx)

	var toILoq, toEfecte <-chan time.Time
	if s.toILoqInterval > 0 {
		t := time.NewTicker(s.toILoqInterval)
		defer t.Stop()
		toILoq = t.C
	}
	if s.toEfecteInterval > 0 {
		t := time.NewTicker(s.toEfecteInterval)
		defer t.Stop()
		toEfecte = t.C
	}

	log.Info().
		Dur("to_iloq_interval", s.toILoqInterval).
		Dur("to_efecte_interval", s.toEfecteInterval).
		Msg("Scheduler started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Scheduler stopped")
			return
		case <-toILoq:
			s.runGated(ctx, recon.DirectionEfecteToILoq, s.syncer.SyncKeysToILoq)
		case <-toEfecte:
			s.runGated(ctx, recon.DirectionILoqToEfecte, s.syncer.SyncKeysToEfecte)
		}
	}
}

// runGated executes one direction if this replica is the leader.
func (s *Scheduler) runGated(ctx context.Context, direction string, run func(context.Context) (*recon.Result, error)) {
	log := logging.FromContext(ctx).With().Str("direction", direction).Logger()

	isLeader, err := s.gate.IsLeader(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Leader check failed, skipping scheduled run")
		return
	}
	if !isLeader {
		log.Debug().Msg("Not the leader, skipping scheduled run")
		return
	}

	if _, err := run(ctx); err != nil {
		log.Error().Err(err).Msg("Scheduled run failed")
	}
}
