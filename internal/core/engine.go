package core

import (
	"context"
	"log/slog"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"
)

import (
	"github.com/nanjiek/relay-sync/internal/rcu"
	"github.com/nanjiek/relay-sync/internal/rules"
	"github.com/nanjiek/relay-sync/internal/types"
)

// RuleStore loads installed rule documents by category.
type RuleStore interface {
	LoadRules(ctx context.Context, category string, ids []int) (map[int]rules.Rule, error)
}

// ImmutableRuleSet 不可变规则集，用于 RCU 快照
type ImmutableRuleSet struct {
	Session    map[int]rules.Rule
	Persistent map[int]rules.Rule
	Revision   string

	compiled map[string]*regexp.Regexp
}

// Engine evaluates the installed rule set against request URLs. It is the
// read side of the system: consumers ask it what to do with a request, it
// never mutates rules itself.
type Engine struct {
	store RuleStore
	snap  *rcu.Snapshot[ImmutableRuleSet]
	log   *slog.Logger
}

func NewEngine(store RuleStore) *Engine {
	return &Engine{
		store: store,
		snap:  rcu.NewSnapshot(buildSet(nil, nil)),
		log:   slog.Default(),
	}
}

// ReloadAll 全量加载两个类别的规则并替换本地快照
func (e *Engine) ReloadAll(ctx context.Context) error {
	session, err := e.store.LoadRules(ctx, rules.CategorySession, rules.SessionRuleIDs)
	if err != nil {
		return err
	}
	persistent, err := e.store.LoadRules(ctx, rules.CategoryPersistent, rules.PersistentRuleIDs)
	if err != nil {
		return err
	}
	e.snap.Replace(buildSet(session, persistent))
	e.log.Info("reloaded rules",
		"session", len(session), "persistent", len(persistent), "revision", e.snap.Load().Revision)
	return nil
}

// ReplaceAll swaps the snapshot in directly, bypassing the store.
func (e *Engine) ReplaceAll(session, persistent map[int]rules.Rule) {
	e.snap.Replace(buildSet(session, persistent))
}

// Snapshot 返回当前不可变规则集快照
func (e *Engine) Snapshot() *ImmutableRuleSet {
	return e.snap.Load()
}

// StartWatcher reloads on every update-channel announcement, with a periodic
// fallback reload in case an announcement was missed.
func (e *Engine) StartWatcher(ctx context.Context, updates <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-updates:
			if !ok {
				return
			}
			_ = e.ReloadAll(ctx)
		case <-time.After(60 * time.Second):
			_ = e.ReloadAll(ctx) // 定时兜底
		}
	}
}

// Decide classifies one request URL against the installed rule set.
// Persistent block rules are checked first; session rules are evaluated in
// priority order (desc), so an allow-bypass rule wins over a redirect rule
// even if both are transiently present.
func (e *Engine) Decide(rawURL string) types.Decision {
	set := e.snap.Load()

	if u, err := url.Parse(rawURL); err == nil {
		host := u.Hostname()
		for _, r := range sortedRules(set.Persistent) {
			if r.Action == types.ActionBlock && hostMatches(host, r.HostSuffix) {
				return types.Decision{Action: types.ActionBlock, RuleID: r.Key(), Reason: "blocked_host"}
			}
		}
	}

	for _, r := range sortedRules(set.Session) {
		re := set.compiled[r.Pattern]
		if re == nil || !re.MatchString(rawURL) {
			continue
		}
		switch r.Action {
		case types.ActionAllow:
			return types.Decision{Action: types.ActionAllow, RuleID: r.Key(), Reason: "relay_bypass"}
		case types.ActionRedirect:
			return types.Decision{
				Action:   types.ActionRedirect,
				RuleID:   r.Key(),
				Location: re.ReplaceAllString(rawURL, r.Substitution),
				Reason:   "relay_redirect",
			}
		}
	}

	return types.Decision{Action: types.ActionAllow, Reason: "no_match"}
}

func buildSet(session, persistent map[int]rules.Rule) *ImmutableRuleSet {
	if session == nil {
		session = map[int]rules.Rule{}
	}
	if persistent == nil {
		persistent = map[int]rules.Rule{}
	}
	set := &ImmutableRuleSet{
		Session:    session,
		Persistent: persistent,
		compiled:   make(map[string]*regexp.Regexp),
	}
	all := make([]rules.Rule, 0, len(session)+len(persistent))
	for _, r := range session {
		all = append(all, r)
	}
	for _, r := range persistent {
		all = append(all, r)
	}
	set.Revision = rules.Revision(all)

	for _, r := range all {
		if r.Pattern == "" {
			continue
		}
		if _, ok := set.compiled[r.Pattern]; ok {
			continue
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			slog.Warn("skip rule with invalid pattern", "rule", r.Key(), "err", err)
			continue
		}
		set.compiled[r.Pattern] = re
	}
	return set
}

// sortedRules returns rules ordered by priority (desc), id (asc).
func sortedRules(m map[int]rules.Rule) []rules.Rule {
	out := make([]rules.Rule, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority == out[j].Priority {
			return out[i].ID < out[j].ID
		}
		return out[i].Priority > out[j].Priority
	})
	return out
}

func hostMatches(host, suffix string) bool {
	if suffix == "" || host == "" {
		return false
	}
	return host == suffix || strings.HasSuffix(host, "."+suffix)
}
