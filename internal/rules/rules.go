package rules

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
)

import (
	"github.com/nanjiek/relay-sync/internal/types"
	"github.com/nanjiek/relay-sync/internal/util"
)

// Rule categories. Session rules are scoped to the current relay-sync run and
// re-derived on every reconcile; persistent rules survive until explicitly
// replaced.
const (
	CategorySession    = "session"
	CategoryPersistent = "persistent"
)

// Fixed rule identifiers, reused across installs so that repeated applies are
// install-or-replace rather than append.
const (
	RuleIDRedirectLive = 1
	RuleIDRedirectVod  = 2
	RuleIDAllowLive    = 3
	RuleIDAllowVod     = 4

	RuleIDAdBlock = 1
)

// SessionRuleIDs is the full fixed identifier set for the session category.
// Apply always removes all of them before installing the new set.
var SessionRuleIDs = []int{RuleIDRedirectLive, RuleIDRedirectVod, RuleIDAllowLive, RuleIDAllowVod}

// PersistentRuleIDs is the fixed identifier set for the persistent category.
var PersistentRuleIDs = []int{RuleIDAdBlock}

// Allow rules outrank redirect rules so that a transient overlap can never
// misdirect a request to an unreachable relay. The synchronizer additionally
// never installs both categories for the same route.
const (
	priorityRedirect = 1
	priorityAllow    = 2
	priorityBlock    = 1
)

const adBlockHost = "amazon-adsystem.com"

// Rule 单条声明式拦截规则文档（数据面从 Redis 读取）
type Rule struct {
	ID           int    `json:"id"`
	Category     string `json:"category"`
	Priority     int    `json:"priority"`
	Action       string `json:"action"`                 // redirect | allow | block
	Pattern      string `json:"pattern,omitempty"`      // RE2 filter over the full request URL
	Substitution string `json:"substitution,omitempty"` // redirect target, $1/$2 capture refs
	HostSuffix   string `json:"hostSuffix,omitempty"`   // block: host equals or is a subdomain of this
}

// Key returns the rule's stable identity within its category.
func (r Rule) Key() string {
	return fmt.Sprintf("%s/%d", r.Category, r.ID)
}

// LivePattern matches usher live-playlist requests:
// scheme://<usherHost>/api/channel/hls/<id>.m3u8[?query]
func LivePattern(usherHost string) string {
	return fmt.Sprintf(`^https?://%s/api/channel/hls/([^/?]+)\.m3u8(\?.*)?$`, regexp.QuoteMeta(usherHost))
}

// VodPattern matches usher vod-playlist requests:
// scheme://<usherHost>/vod/<id>.m3u8[?query]
func VodPattern(usherHost string) string {
	return fmt.Sprintf(`^https?://%s/vod/([^/?]+)\.m3u8(\?.*)?$`, regexp.QuoteMeta(usherHost))
}

// BuildDesired computes the full session rule set for the observed relay
// state. Online installs redirect rules only; Offline and Unknown install
// allow-bypass rules only, to defeat redirect rules left over from a prior
// process lifetime. The two categories are never both present for a route.
func BuildDesired(state types.RelayState, baseAddress, usherHost string) []Rule {
	if state == types.StateOnline {
		return []Rule{
			{
				ID:           RuleIDRedirectLive,
				Category:     CategorySession,
				Priority:     priorityRedirect,
				Action:       types.ActionRedirect,
				Pattern:      LivePattern(usherHost),
				Substitution: baseAddress + "/live/$1$2",
			},
			{
				ID:           RuleIDRedirectVod,
				Category:     CategorySession,
				Priority:     priorityRedirect,
				Action:       types.ActionRedirect,
				Pattern:      VodPattern(usherHost),
				Substitution: baseAddress + "/vod/$1$2",
			},
		}
	}
	return []Rule{
		{
			ID:       RuleIDAllowLive,
			Category: CategorySession,
			Priority: priorityAllow,
			Action:   types.ActionAllow,
			Pattern:  LivePattern(usherHost),
		},
		{
			ID:       RuleIDAllowVod,
			Category: CategorySession,
			Priority: priorityAllow,
			Action:   types.ActionAllow,
			Pattern:  VodPattern(usherHost),
		},
	}
}

// AdBlockRule blocks ad-system requests unconditionally, independent of the
// relay state.
func AdBlockRule() Rule {
	return Rule{
		ID:         RuleIDAdBlock,
		Category:   CategoryPersistent,
		Priority:   priorityBlock,
		Action:     types.ActionBlock,
		HostSuffix: adBlockHost,
	}
}

// Revision hashes a rule set into a stable revision string. Consumers use it
// to skip no-op reloads.
func Revision(set []Rule) string {
	sorted := make([]Rule, len(set))
	copy(sorted, set)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Category == sorted[j].Category {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].Category < sorted[j].Category
	})
	b, _ := json.Marshal(sorted)
	return util.FNV64(string(b))
}
