package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

import (
	"github.com/redis/go-redis/v9"
)

import (
	"github.com/nanjiek/relay-sync/internal/config"
	"github.com/nanjiek/relay-sync/internal/rules"
)

// Key templates for better readability and maintainability.
// The rule-key category sits in a hash tag so that one category's keys share
// a slot and the replace script stays single-slot on a cluster.
const (
	keyConfigTmpl = "%s:config:%s"
	keyRuleTmpl   = "%s:rules:{%s}:%d"
)

// ErrNoReceivers reports that a notification was published but nobody was
// subscribed to the target channel.
var ErrNoReceivers = errors.New("no receivers on target channel")

// Repo interface for abstraction (easy to mock/test)
type Repo interface {
	KeyConfig(name string) string
	KeyRule(category string, id int) string
	GetConfig(ctx context.Context, name string) (string, error)
	SetConfig(ctx context.Context, name, value string) error
	ReplaceRules(ctx context.Context, category string, removeIDs []int, add []rules.Rule) error
	LoadRules(ctx context.Context, category string, ids []int) (map[int]rules.Rule, error)
	SendNotification(ctx context.Context, target string, payload []byte) error
	EnumerateTargets(ctx context.Context, pattern string) ([]string, error)
	WatchConfig(ctx context.Context) <-chan string
	WatchRuleUpdates(ctx context.Context) <-chan string
	Close() error
}

type RedisRepo struct {
	Prefix         string
	UpdateChannel  string
	ConfigChannel  string
	NotifyPrefix   string
	Cli            redis.UniversalClient
	logger         *slog.Logger
	defaultTimeout time.Duration // Unified timeout config
}

// NewRedis with functional options for flexibility
func NewRedis(cfg *config.Config, logger *slog.Logger, opts ...Option) (Repo, error) {
	if logger == nil {
		logger = slog.Default()
	}

	r := &RedisRepo{
		Prefix:         cfg.Redis.Prefix,
		UpdateChannel:  cfg.Redis.UpdatesChannel,
		ConfigChannel:  cfg.Redis.ConfigChannel,
		NotifyPrefix:   cfg.Redis.NotifyPrefix,
		logger:         logger,
		defaultTimeout: 100 * time.Millisecond, // Default, can be overridden
	}

	// Apply options
	for _, opt := range opts {
		opt(r)
	}

	addrs := normalizeAddrs(cfg.Redis)
	if len(addrs) == 0 {
		return nil, errors.New("no redis addresses configured")
	}

	r.Cli = redis.NewUniversalClient(buildUniversalOptions(cfg.Redis))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Cli.Ping(ctx).Err(); err != nil {
		logger.Error("redis ping failed", "err", err)
		return nil, fmt.Errorf("redis connect failed: %w", err)
	}

	return r, nil
}

// Option pattern for custom configurations
type Option func(*RedisRepo)

func WithDefaultTimeout(d time.Duration) Option {
	return func(r *RedisRepo) { r.defaultTimeout = d }
}

// withTimeout helper to reduce repetition
func (r *RedisRepo) withTimeout(ctx context.Context, opTimeout time.Duration) (context.Context, context.CancelFunc) {
	if opTimeout == 0 {
		opTimeout = r.defaultTimeout
	}
	return context.WithTimeout(ctx, opTimeout)
}

// Key generation methods (using templates)
func (r *RedisRepo) KeyConfig(name string) string {
	return fmt.Sprintf(keyConfigTmpl, r.Prefix, name)
}

func (r *RedisRepo) KeyRule(category string, id int) string {
	return fmt.Sprintf(keyRuleTmpl, r.Prefix, category, id)
}

func (r *RedisRepo) notifyChannel(target string) string {
	return r.NotifyPrefix + ":" + target
}

// GetConfig returns the stored value, or "" when the key is absent.
func (r *RedisRepo) GetConfig(parentCtx context.Context, name string) (string, error) {
	ctx, cancel := r.withTimeout(parentCtx, 0)
	defer cancel()
	val, err := r.Cli.Get(ctx, r.KeyConfig(name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get config %s failed: %w", name, err)
	}
	return val, nil
}

// SetConfig stores the value and announces the change on the config channel.
func (r *RedisRepo) SetConfig(parentCtx context.Context, name, value string) error {
	ctx, cancel := r.withTimeout(parentCtx, 0)
	defer cancel()
	if err := r.Cli.Set(ctx, r.KeyConfig(name), value, 0).Err(); err != nil {
		return fmt.Errorf("set config %s failed: %w", name, err)
	}
	if err := r.Cli.Publish(ctx, r.ConfigChannel, name).Err(); err != nil {
		return fmt.Errorf("publish config change for %s failed: %w", name, err)
	}
	return nil
}

// ReplaceRules atomically swaps a category's rule documents (single EVAL),
// then announces the new revision on the update channel.
func (r *RedisRepo) ReplaceRules(parentCtx context.Context, category string, removeIDs []int, add []rules.Rule) error {
	keys := make([]string, 0, len(removeIDs))
	slot := make(map[int]int, len(removeIDs)) // rule id -> 1-based KEYS index
	for i, id := range removeIDs {
		keys = append(keys, r.KeyRule(category, id))
		slot[id] = i + 1
	}

	argv := make([]interface{}, 0, len(add)*2)
	for _, rule := range add {
		idx, ok := slot[rule.ID]
		if !ok {
			keys = append(keys, r.KeyRule(category, rule.ID))
			idx = len(keys)
		}
		doc, err := json.Marshal(rule)
		if err != nil {
			return fmt.Errorf("marshal rule %s failed: %w", rule.Key(), err)
		}
		argv = append(argv, idx, string(doc))
	}

	ctx, cancel := r.withTimeout(parentCtx, 200*time.Millisecond)
	defer cancel()
	if err := ScriptReplaceRules.Run(ctx, r.Cli, keys, argv...).Err(); err != nil {
		return fmt.Errorf("replace %s rules failed: %w", category, err)
	}

	payload := category + ":" + rules.Revision(add)
	if err := r.Cli.Publish(ctx, r.UpdateChannel, payload).Err(); err != nil {
		// 规则已落库，广播失败只影响消费者的即时刷新，靠兜底重载补齐
		r.logger.Warn("publish rule update failed", "category", category, "err", err)
	}
	return nil
}

// LoadRules fetches the documents stored under a category's fixed id set.
// Absent ids are simply missing from the result.
func (r *RedisRepo) LoadRules(parentCtx context.Context, category string, ids []int) (map[int]rules.Rule, error) {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, r.KeyRule(category, id))
	}

	ctx, cancel := r.withTimeout(parentCtx, 200*time.Millisecond)
	defer cancel()
	vals, err := r.Cli.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load %s rules failed: %w", category, err)
	}

	out := make(map[int]rules.Rule, len(ids))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var rule rules.Rule
		if err := json.Unmarshal([]byte(s), &rule); err != nil {
			r.logger.Warn("skip unparseable rule document", "key", keys[i], "err", err)
			continue
		}
		out[rule.ID] = rule
	}
	return out, nil
}

// SendNotification publishes a payload to one target's channel. Zero
// subscribers counts as a delivery failure so the caller can retry.
func (r *RedisRepo) SendNotification(parentCtx context.Context, target string, payload []byte) error {
	ctx, cancel := r.withTimeout(parentCtx, 0)
	defer cancel()
	n, err := r.Cli.Publish(ctx, r.notifyChannel(target), payload).Result()
	if err != nil {
		return fmt.Errorf("notify %s failed: %w", target, err)
	}
	if n == 0 {
		return fmt.Errorf("notify %s: %w", target, ErrNoReceivers)
	}
	return nil
}

// EnumerateTargets lists targets with a live subscription matching the
// pattern ("*" for all).
func (r *RedisRepo) EnumerateTargets(parentCtx context.Context, pattern string) ([]string, error) {
	ctx, cancel := r.withTimeout(parentCtx, 0)
	defer cancel()
	channels, err := r.Cli.PubSubChannels(ctx, r.notifyChannel(pattern)).Result()
	if err != nil {
		return nil, fmt.Errorf("enumerate targets failed: %w", err)
	}
	prefix := r.NotifyPrefix + ":"
	out := make([]string, 0, len(channels))
	for _, ch := range channels {
		out = append(out, strings.TrimPrefix(ch, prefix))
	}
	return out, nil
}

// WatchConfig streams config-change events (the changed key name) until ctx
// is done.
func (r *RedisRepo) WatchConfig(ctx context.Context) <-chan string {
	return r.watch(ctx, r.ConfigChannel)
}

// WatchRuleUpdates streams rule-set revision announcements until ctx is done.
func (r *RedisRepo) WatchRuleUpdates(ctx context.Context) <-chan string {
	return r.watch(ctx, r.UpdateChannel)
}

func (r *RedisRepo) watch(ctx context.Context, channel string) <-chan string {
	out := make(chan string)
	sub := r.Cli.Subscribe(ctx, channel)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Close
func (r *RedisRepo) Close() error {
	return r.Cli.Close()
}

// Helper functions
func normalizeAddrs(cfg config.RedisCfg) []string {
	if len(cfg.Addrs) > 0 {
		return cfg.Addrs
	}
	if cfg.Addr == "" {
		return nil
	}
	parts := strings.Split(cfg.Addr, ",")
	var out []string
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func buildUniversalOptions(cfg config.RedisCfg) *redis.UniversalOptions {
	return &redis.UniversalOptions{
		Addrs:        normalizeAddrs(cfg),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     max(cfg.PoolSize, 20),
		MinIdleConns: max(cfg.MinIdleConns, 2),
		DialTimeout:  durationOrDefault(cfg.DialTimeoutMs, 800),
		ReadTimeout:  durationOrDefault(cfg.ReadTimeoutMs, 800),
		WriteTimeout: durationOrDefault(cfg.WriteTimeoutMs, 800),
		MaxRetries:   max(cfg.MaxRetries, 2),
	}
}

func max(val, def int) int {
	if val > def {
		return val
	}
	return def
}

func durationOrDefault(ms int, defMs int) time.Duration {
	if ms <= 0 {
		ms = defMs
	}
	return time.Duration(ms) * time.Millisecond
}
