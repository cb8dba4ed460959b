package controller

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"
	"time"
)

import (
	"github.com/benbjohnson/clock"
)

import (
	"github.com/nanjiek/relay-sync/internal/config"
	"github.com/nanjiek/relay-sync/internal/metrics"
	"github.com/nanjiek/relay-sync/internal/rcu"
	"github.com/nanjiek/relay-sync/internal/types"
)

// ConfigStore reads the persisted base address.
type ConfigStore interface {
	GetConfig(ctx context.Context, name string) (string, error)
}

// Prober classifies relay reachability.
type Prober interface {
	Probe(ctx context.Context, baseAddress string) types.RelayState
}

// Synchronizer converges the installed rule set.
type Synchronizer interface {
	Apply(ctx context.Context, state types.RelayState, baseAddress string) error
}

// Notifier sends the offline warning.
type Notifier interface {
	NotifyOffline(ctx context.Context, target string)
}

// Config carries the controller's static settings.
type Config struct {
	DefaultBaseAddress string
	Interval           time.Duration
	WatchedDomains     []string
}

// Controller owns the held relay state and serializes its transitions.
// Reconcile is safe to call concurrently from any trigger: it recomputes the
// full desired rule set from scratch every time, so overlapping invocations
// converge instead of needing a lock. The held state lives behind an RCU
// snapshot; the CAS on it makes each Offline transition notify exactly once
// even when reconciles race.
type Controller struct {
	store    ConfigStore
	prober   Prober
	sync     Synchronizer
	notifier Notifier

	defaultBase string
	interval    time.Duration
	watched     []string
	clock       clock.Clock

	held          *rcu.Snapshot[types.RelayState]
	lastReconcile atomic.Int64 // unix ms, 0 until the first pass
	log           *slog.Logger
}

func New(store ConfigStore, prober Prober, sync Synchronizer, notifier Notifier, cfg Config, clk clock.Clock) *Controller {
	if cfg.DefaultBaseAddress == "" {
		cfg.DefaultBaseAddress = config.DefaultBaseAddress
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	initial := types.StateUnknown
	return &Controller{
		store:       store,
		prober:      prober,
		sync:        sync,
		notifier:    notifier,
		defaultBase: cfg.DefaultBaseAddress,
		interval:    cfg.Interval,
		watched:     cfg.WatchedDomains,
		clock:       clk,
		held:        rcu.NewSnapshot(&initial),
		log:         slog.Default(),
	}
}

// State returns the currently held relay state.
func (c *Controller) State() types.RelayState {
	return *c.held.Load()
}

// Status 当前控制器状态（供 /v1/status 使用）
type Status struct {
	State         types.RelayState `json:"state"`
	BaseAddress   string           `json:"baseAddress"`
	LastReconcile time.Time        `json:"lastReconcile,omitzero"`
}

func (c *Controller) Status(ctx context.Context) Status {
	st := Status{
		State:       c.State(),
		BaseAddress: c.baseAddress(ctx),
	}
	if ms := c.lastReconcile.Load(); ms > 0 {
		st.LastReconcile = time.UnixMilli(ms)
	}
	return st
}

// Reconcile is the single transition function:
// read config -> probe -> always converge rules -> notify on the Offline
// edge -> advance held state. Rules are re-applied even when the observed
// state equals the held one; a restart elsewhere may have dropped them, which
// is the whole point of periodic reconciliation. On a rule-install failure
// the held state is not advanced, so the next trigger retries the transition.
func (c *Controller) Reconcile(ctx context.Context, target string) types.RelayState {
	base := c.baseAddress(ctx)
	observed := c.prober.Probe(ctx, base)

	if err := c.sync.Apply(ctx, observed, base); err != nil {
		c.log.Error("rule convergence failed, holding previous state",
			"observed", observed, "base", base, "err", err)
		metrics.ReconcilesTotal.WithLabelValues("install_error").Inc()
		return c.State()
	}

	next := observed
	for {
		prev := c.held.Load()
		if !c.held.CompareAndSwap(prev, &next) {
			continue
		}
		if observed == types.StateOffline && *prev != types.StateOffline {
			c.log.Warn("relay went offline", "base", base)
			c.notifier.NotifyOffline(ctx, target)
		}
		break
	}

	c.lastReconcile.Store(c.clock.Now().UnixMilli())
	metrics.ReconcilesTotal.WithLabelValues(string(observed)).Inc()
	return observed
}

// Start runs the startup reconcile and then the periodic trigger until ctx
// is done.
func (c *Controller) Start(ctx context.Context) {
	c.Reconcile(ctx, "")

	ticker := c.clock.Ticker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Reconcile(ctx, "")
		}
	}
}

// WatchConfig reconciles on every base-address change event.
func (c *Controller) WatchConfig(ctx context.Context, changes <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case name, ok := <-changes:
			if !ok {
				return
			}
			if name != config.BaseAddressKey {
				continue
			}
			c.log.Info("base address changed, reconciling")
			c.Reconcile(ctx, "")
		}
	}
}

// HandleNavigation triggers a reconcile for a navigation event on a watched
// domain; events elsewhere are ignored. The reconcile runs detached so the
// event source is never blocked, and the event's target receives any
// resulting offline notification directly.
func (c *Controller) HandleNavigation(ctx context.Context, ev types.NavigationEvent) bool {
	if !c.watchesDomain(ev.URL) {
		return false
	}
	go c.Reconcile(context.WithoutCancel(ctx), ev.TargetID)
	return true
}

func (c *Controller) watchesDomain(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := u.Hostname()
	for _, d := range c.watched {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// baseAddress reads the configured address, falling back to the default on a
// read failure or an absent key, and normalizes it.
func (c *Controller) baseAddress(ctx context.Context) string {
	val, err := c.store.GetConfig(ctx, config.BaseAddressKey)
	if err != nil {
		c.log.Warn("config read failed, using default address", "err", err)
		val = ""
	}
	base := config.NormalizeBaseAddress(val)
	if base == "" {
		base = config.NormalizeBaseAddress(c.defaultBase)
	}
	return base
}
