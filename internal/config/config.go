package config

import (
	"os"
	"strings"
)

import (
	"gopkg.in/yaml.v3"
)

// DefaultBaseAddress 中继的默认本地地址（未配置时使用）
const DefaultBaseAddress = "http://127.0.0.1:9595"

// BaseAddressKey is the single persisted configuration key.
const BaseAddressKey = "base_address"

// ServerCfg —— HTTP 服务端口/地址配置
type ServerCfg struct {
	HTTPAddr string `yaml:"httpAddr"` // 监听地址，例如 ":8080" 或 "0.0.0.0:8080"
}

// RedisCfg —— Redis 连接与命名空间配置
type RedisCfg struct {
	Addr              string   `yaml:"addr"`              // Redis address, e.g. "127.0.0.1:6379"
	Addrs             []string `yaml:"addrs"`             // Optional shard addresses
	Password          string   `yaml:"password"`          // Redis password
	DB                int      `yaml:"db"`                // Redis DB index
	Prefix            string   `yaml:"prefix"`            // Key prefix
	UpdatesChannel    string   `yaml:"updatesChannel"`    // Pub/Sub channel for rule-set updates
	ConfigChannel     string   `yaml:"configChannel"`     // Pub/Sub channel for config changes
	NotifyPrefix      string   `yaml:"notifyPrefix"`      // Pub/Sub channel prefix for consumer notifications
	PoolSize          int      `yaml:"poolSize"`          // Connection pool size
	MinIdleConns      int      `yaml:"minIdleConns"`      // Minimum idle connections
	MaxRetries        int      `yaml:"maxRetries"`        // Command retry count
	ReadTimeoutMs     int      `yaml:"readTimeoutMs"`     // Read timeout (ms)
	WriteTimeoutMs    int      `yaml:"writeTimeoutMs"`    // Write timeout (ms)
	DialTimeoutMs     int      `yaml:"dialTimeoutMs"`     // Dial timeout (ms)
	MinRetryBackoffMs int      `yaml:"minRetryBackoffMs"` // Min retry backoff (ms)
	MaxRetryBackoffMs int      `yaml:"maxRetryBackoffMs"` // Max retry backoff (ms)
}

// RelayCfg —— 中继与被监视站点配置
type RelayCfg struct {
	DefaultBaseAddress string   `yaml:"defaultBaseAddress"` // fallback when the store holds no address
	UsherHost          string   `yaml:"usherHost"`          // HLS usher host to intercept
	WatchedDomains     []string `yaml:"watchedDomains"`     // navigation events outside these are ignored
}

// ProbeCfg —— 健康探测配置
type ProbeCfg struct {
	IntervalMs int `yaml:"intervalMs"` // periodic reconcile interval, default 60000
	TimeoutMs  int `yaml:"timeoutMs"`  // per-probe HTTP timeout, default 5000
}

// Config —— 全量配置
type Config struct {
	Server ServerCfg `yaml:"server"` // 服务配置
	Redis  RedisCfg  `yaml:"redis"`  // Redis 配置
	Relay  RelayCfg  `yaml:"relay"`  // 中继配置
	Probe  ProbeCfg  `yaml:"probe"`  // 探测配置
}

// Load —— 从 YAML 文件加载配置
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	expanded := os.ExpandEnv(string(b))
	var c Config
	if err := yaml.Unmarshal([]byte(expanded), &c); err != nil {
		return nil, err
	}
	c.FillDefaults()
	return &c, nil
}

// FillDefaults 补齐零值字段
func (c *Config) FillDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "relaysync"
	}
	if c.Redis.UpdatesChannel == "" {
		c.Redis.UpdatesChannel = "relaysync_rule_updates"
	}
	if c.Redis.ConfigChannel == "" {
		c.Redis.ConfigChannel = "relaysync_config_updates"
	}
	if c.Redis.NotifyPrefix == "" {
		c.Redis.NotifyPrefix = "relaysync_notify"
	}
	if c.Relay.DefaultBaseAddress == "" {
		c.Relay.DefaultBaseAddress = DefaultBaseAddress
	}
	if c.Relay.UsherHost == "" {
		c.Relay.UsherHost = "usher.ttvnw.net"
	}
	if len(c.Relay.WatchedDomains) == 0 {
		c.Relay.WatchedDomains = []string{"twitch.tv", "www.twitch.tv", "m.twitch.tv"}
	}
	if c.Probe.IntervalMs <= 0 {
		c.Probe.IntervalMs = 60000
	}
	if c.Probe.TimeoutMs <= 0 {
		c.Probe.TimeoutMs = 5000
	}
}

// NormalizeBaseAddress 规范化中继地址：
// - 去除首尾空白
// - 缺失 scheme 时补 "http://"
// - 去除结尾的 "/"
func NormalizeBaseAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return strings.TrimRight(addr, "/")
}
