// Package app provides the application context and dependency wiring for
// the efecte-iloq sync service: configuration, logging, clients, the
// reconciliation service and its HTTP and scheduler frontends.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/City-of-Helsinki/sotepe-efecte-iloq/cmd/efecte-iloq/cmd"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/config"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/efecte"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/iloq"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/kv"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/leader"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/recon"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/pkg/errors"
)

// App carries the service's dependencies through the command tree.
type App struct {
	version string
	commit  string
	date    string

	config *Config
	logger zerolog.Logger

	mu      sync.Mutex
	redis   *kv.Redis
	service *recon.Service
}

// Ensure App implements cmd.Application at compile time.
var _ cmd.Application = (*App)(nil)

// New creates the application: configuration and logging are initialized
// eagerly, everything else on first use.
func New(version, commit, date string) (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}

	return &App{
		version: version,
		commit:  commit,
		date:    date,
		config:  cfg,
		logger:  NewLogger(cfg),
	}, nil
}

// Version returns the version string.
func (a *App) Version() string {
	return fmt.Sprintf("%s (commit %s, built %s)", a.version, a.commit, a.date)
}

// Config returns the loaded configuration.
func (a *App) Config() *Config {
	return a.config
}

// Settings implements cmd.Application.
func (a *App) Settings() cmd.Settings {
	return cmd.Settings{
		ListenAddr:           a.config.ListenAddr,
		SyncToILoqInterval:   a.config.SyncToILoqInterval,
		SyncToEfecteInterval: a.config.SyncToEfecteInterval,
	}
}

// Logger returns the service logger.
func (a *App) Logger() *zerolog.Logger {
	return &a.logger
}

// KV connects to Redis on first use.
func (a *App) KV(ctx context.Context) (kv.Store, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.redis == nil {
		r := kv.NewRedis(a.config.RedisAddr, a.config.RedisPassword, a.config.RedisDB)
		if err := r.Ping(ctx); err != nil {
			return nil, errors.NewConfigError("redis", "connecting to "+a.config.RedisAddr, err)
		}
		a.redis = r
	}
	return a.redis, nil
}

// Service builds the reconciliation service on first use.
func (a *App) Service(ctx context.Context) (*recon.Service, error) {
	store, err := a.KV(ctx)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.service != nil {
		return a.service, nil
	}

	mappings, err := config.Load(a.config.MappingFile)
	if err != nil {
		return nil, err
	}
	creds, err := ParseILoqCredentials(a.config.ILoqCredentials)
	if err != nil {
		return nil, err
	}
	mappings.SetCredentials(creds)

	efecteClient := efecte.NewClient(a.config.EfecteBaseURL, a.config.EfecteUsername, a.config.EfectePassword)
	iloqClient := iloq.NewClient(a.config.ILoqBaseURL)

	a.service = recon.NewService(store, mappings, efecteClient, iloqClient, recon.Options{
		AuditTTL: a.config.AuditTTL,
	})
	return a.service, nil
}

// LeaderGate builds the leader election gate: the elector sidecar when one
// is configured, otherwise an always-leader gate for single-replica runs.
func (a *App) LeaderGate() leader.Gate {
	if a.config.LeaderElectorURL == "" {
		return leader.StaticGate(true)
	}
	return leader.NewSidecarGate(a.config.LeaderElectorURL, a.config.PodName)
}

// Execute runs the command tree.
func (a *App) Execute(ctx context.Context, args []string) error {
	root := cmd.NewRoot(a)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// Close releases held connections.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.redis != nil {
		return a.redis.Close()
	}
	return nil
}

// ContextWithSignals returns a context canceled on SIGINT or SIGTERM.
func ContextWithSignals(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// ExitOnError prints the error and exits non-zero.
func ExitOnError(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}
