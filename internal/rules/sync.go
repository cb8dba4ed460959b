package rules

import (
	"context"
	"fmt"
	"log/slog"
)

import (
	"github.com/nanjiek/relay-sync/internal/metrics"
	"github.com/nanjiek/relay-sync/internal/types"
)

// Installer replaces a category's rule documents atomically: every identifier
// in removeIDs is deleted and every rule in add is installed in one step, so
// a consumer never observes a window with neither or both rule generations.
type Installer interface {
	ReplaceRules(ctx context.Context, category string, removeIDs []int, add []Rule) error
}

// Synchronizer converges the installed rule set onto the desired one for a
// given {relay state, base address}. Apply is idempotent: running it twice
// with the same inputs installs the same documents under the same fixed IDs.
type Synchronizer struct {
	installer Installer
	usherHost string
	log       *slog.Logger
}

func NewSynchronizer(installer Installer, usherHost string) *Synchronizer {
	return &Synchronizer{
		installer: installer,
		usherHost: usherHost,
		log:       slog.Default(),
	}
}

// Apply removes the full fixed session-ID set and installs the set derived
// from the observed state, in a single replace call.
func (s *Synchronizer) Apply(ctx context.Context, state types.RelayState, baseAddress string) error {
	desired := BuildDesired(state, baseAddress, s.usherHost)
	if err := s.installer.ReplaceRules(ctx, CategorySession, SessionRuleIDs, desired); err != nil {
		metrics.RuleInstallsTotal.WithLabelValues(CategorySession, "error").Inc()
		return fmt.Errorf("replace session rules: %w", err)
	}
	metrics.RuleInstallsTotal.WithLabelValues(CategorySession, "ok").Inc()
	s.log.Info("session rules converged",
		"state", state, "base", baseAddress, "revision", Revision(desired), "count", len(desired))
	return nil
}

// EnsureAdBlock installs the persistent ad-block rule. Called once at
// startup; repeat calls replace the document in place.
func (s *Synchronizer) EnsureAdBlock(ctx context.Context) error {
	if err := s.installer.ReplaceRules(ctx, CategoryPersistent, PersistentRuleIDs, []Rule{AdBlockRule()}); err != nil {
		metrics.RuleInstallsTotal.WithLabelValues(CategoryPersistent, "error").Inc()
		return fmt.Errorf("replace persistent rules: %w", err)
	}
	metrics.RuleInstallsTotal.WithLabelValues(CategoryPersistent, "ok").Inc()
	return nil
}
