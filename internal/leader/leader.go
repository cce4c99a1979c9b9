// Package leader gates scheduled reconciliation runs behind leader
// election. Multiple service replicas may exist; only the leader executes a
// scheduled run. The check is point-in-time, not a lock held for the run's
// duration.
package leader

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/City-of-Helsinki/sotepe-efecte-iloq/pkg/errors"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/pkg/logging"
)

// Gate answers whether this replica currently holds leadership.
type Gate interface {
	IsLeader(ctx context.Context) (bool, error)
}

// StaticGate always answers the same; used for single-replica deployments
// and tests.
type StaticGate bool

// IsLeader implements Gate.
func (g StaticGate) IsLeader(context.Context) (bool, error) {
	return bool(g), nil
}

// SidecarGate asks a leader-elector sidecar who the leader is and compares
// the answer against this replica's identity. An empty identity treats any
// successful answer as leadership.
type SidecarGate struct {
	url      string
	identity string
	http     *http.Client
}

// NewSidecarGate creates a gate polling the elector endpoint at url.
// identity is typically the pod hostname.
func NewSidecarGate(url, identity string) *SidecarGate {
	return &SidecarGate{
		url:      url,
		identity: identity,
		http:     &http.Client{Timeout: 5 * time.Second},
	}
}

// IsLeader implements Gate.
func (g *SidecarGate) IsLeader(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.url, nil)
	if err != nil {
		return false, errors.WrapAPI("leader-elector", 0, err)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return false, errors.WrapAPI("leader-elector", 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return false, errors.NewAPIError("leader-elector", resp.StatusCode, "unexpected status")
	}

	var answer struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return false, errors.WrapAPI("leader-elector", 0, err)
	}

	isLeader := g.identity == "" || answer.Name == g.identity
	logging.FromContext(ctx).Debug().
		Str("leader", answer.Name).
		Str("identity", g.identity).
		Bool("is_leader", isLeader).
		Msg("Leader election checked")
	return isLeader, nil
}
