package types

// RelayState 中继可达性状态
// Unknown 是进程启动后的初始状态，区别于 Offline
type RelayState string

const (
	StateUnknown RelayState = "unknown"
	StateOnline  RelayState = "online"
	StateOffline RelayState = "offline"
)

// Decision 规则判定结果
// 原位于core包，移至公共类型包避免循环依赖
type Decision struct {
	Action   string `json:"action"`             // "redirect" | "block" | "allow"
	RuleID   string `json:"ruleId,omitempty"`   // matched rule, e.g. "session/1"
	Location string `json:"location,omitempty"` // rewrite target when Action == "redirect"
	Reason   string `json:"reason"`             // 判定原因
}

const (
	ActionRedirect = "redirect"
	ActionBlock    = "block"
	ActionAllow    = "allow"
)

// NotificationEvent is the payload delivered to consumers when the relay
// transitions to offline. Ephemeral, never persisted.
type NotificationEvent struct {
	EventID string `json:"eventId"`
	Offline bool   `json:"offline"`
	Message string `json:"message"`
}

// NavigationEvent 页面导航事件（顶层导航或页内路由变化）
type NavigationEvent struct {
	URL      string `json:"url"`
	FrameID  int    `json:"frameId"`
	TargetID string `json:"targetId"`
}
