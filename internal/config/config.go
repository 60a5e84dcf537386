// =============================================================================
// 文件: internal/config/config.go
// 描述: 配置管理 - STCP 参数、链路选择、丢包模拟、监控端口冲突检测
// =============================================================================
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mrcgq/stcp/internal/transport"
	"gopkg.in/yaml.v3"
)

// 运行模式
const (
	ModeActive  = "active"
	ModePassive = "passive"
)

// 链路类型
const (
	TransportUDP       = "udp"
	TransportWebSocket = "websocket"
)

// Config 主配置
type Config struct {
	Listen    string `yaml:"listen"`
	Remote    string `yaml:"remote"`
	Mode      string `yaml:"mode"`
	Transport string `yaml:"transport"`
	LogLevel  string `yaml:"log_level"`

	STCP      STCPConfig      `yaml:"stcp"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Network   NetworkConfig   `yaml:"network"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// STCPConfig 协议参数, 超时以时间单位计
type STCPConfig struct {
	MSS                    int  `yaml:"mss"`
	WindowSize             int  `yaml:"window_size"`
	MaxRetries             int  `yaml:"max_retries"`
	TimeUnitMs             int  `yaml:"time_unit_ms"`
	HandshakeTimeoutUnits  int  `yaml:"handshake_timeout_units"`
	RetransmitTimeoutUnits int  `yaml:"retransmit_timeout_units"`
	FixedISN               bool `yaml:"fixed_isn"`
	SendBackoffMinMs       int  `yaml:"send_backoff_min_ms"`
	SendBackoffMaxMs       int  `yaml:"send_backoff_max_ms"`
}

// WebSocketConfig WebSocket 链路配置
type WebSocketConfig struct {
	Path string `yaml:"path"`
}

// NetworkConfig 出站丢包/重复/乱序模拟
type NetworkConfig struct {
	LossRate      float64 `yaml:"loss_rate"`
	DuplicateRate float64 `yaml:"duplicate_rate"`
	ReorderRate   float64 `yaml:"reorder_rate"`
	Seed          int64   `yaml:"seed"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Listen     string `yaml:"listen"`
	Path       string `yaml:"path"`
	HealthPath string `yaml:"health_path"`
}

// Load 加载配置
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Listen:    ":54321",
		Mode:      ModePassive,
		Transport: TransportUDP,
		LogLevel:  "info",

		STCP: STCPConfig{
			MSS:                    transport.STCPDefaultMSS,
			WindowSize:             transport.STCPDefaultWindowSize,
			MaxRetries:             transport.STCPDefaultMaxRetries,
			TimeUnitMs:             int(transport.STCPDefaultTimeUnit / time.Millisecond),
			HandshakeTimeoutUnits:  transport.STCPHandshakeTimeoutUnits,
			RetransmitTimeoutUnits: transport.STCPRetransmitTimeoutUnits,
			SendBackoffMinMs:       int(transport.STCPDefaultSendBackoffMin / time.Millisecond),
			SendBackoffMaxMs:       int(transport.STCPDefaultSendBackoffMax / time.Millisecond),
		},

		WebSocket: WebSocketConfig{
			Path: "/stcp",
		},

		Metrics: MetricsConfig{
			Enabled:    false,
			Listen:     ":9100",
			Path:       "/metrics",
			HealthPath: "/health",
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeActive, ModePassive:
	default:
		return fmt.Errorf("mode 必须为 active 或 passive: %q", c.Mode)
	}

	switch c.Transport {
	case TransportUDP, TransportWebSocket:
	default:
		return fmt.Errorf("transport 必须为 udp 或 websocket: %q", c.Transport)
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level 无效: %q", c.LogLevel)
	}

	// 主动方需要对端地址, 被动方需要监听地址
	ports := map[int]string{}
	if c.Mode == ModeActive {
		if c.Remote == "" {
			return fmt.Errorf("active 模式必须配置 remote")
		}
		if _, err := parsePort(c.Remote); err != nil {
			return fmt.Errorf("remote 端口格式错误: %w", err)
		}
	} else {
		port, err := parsePort(c.Listen)
		if err != nil {
			return fmt.Errorf("listen 端口格式错误: %w", err)
		}
		ports[port] = "listen"
	}

	if err := c.validateSTCPConfig(); err != nil {
		return fmt.Errorf("stcp 配置错误: %w", err)
	}

	if c.Transport == TransportWebSocket {
		if !strings.HasPrefix(c.WebSocket.Path, "/") {
			return fmt.Errorf("websocket.path 必须以 / 开头")
		}
	}

	if err := c.validateNetworkConfig(); err != nil {
		return fmt.Errorf("network 配置错误: %w", err)
	}

	if c.Metrics.Enabled {
		metricsPort, err := parsePort(c.Metrics.Listen)
		if err != nil {
			return fmt.Errorf("metrics.listen 端口格式错误: %w", err)
		}
		if existing, exists := ports[metricsPort]; exists && metricsPort != 0 {
			return fmt.Errorf("metrics.listen 端口 (%d) 与 %s 冲突", metricsPort, existing)
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") || !strings.HasPrefix(c.Metrics.HealthPath, "/") {
			return fmt.Errorf("metrics.path 和 metrics.health_path 必须以 / 开头")
		}
	}

	return nil
}

// validateSTCPConfig 验证协议参数, 最终由 transport 再次校验
func (c *Config) validateSTCPConfig() error {
	s := c.STCP
	if s.MSS < 1 {
		return fmt.Errorf("stcp.mss 必须为正数")
	}
	if s.WindowSize < s.MSS || s.WindowSize > transport.STCPMaxWindowSize {
		return fmt.Errorf("stcp.window_size 需在 mss(%d)-%d 之间", s.MSS, transport.STCPMaxWindowSize)
	}
	if s.MaxRetries < 1 || s.MaxRetries > 50 {
		return fmt.Errorf("stcp.max_retries 需在 1-50 之间")
	}
	if s.TimeUnitMs < 1 {
		return fmt.Errorf("stcp.time_unit_ms 必须为正数")
	}
	if s.HandshakeTimeoutUnits < 1 || s.RetransmitTimeoutUnits < 1 {
		return fmt.Errorf("stcp 超时单位数必须为正数")
	}
	if s.SendBackoffMinMs < 1 || s.SendBackoffMaxMs < s.SendBackoffMinMs {
		return fmt.Errorf("stcp.send_backoff_max_ms 需不小于 send_backoff_min_ms 且为正数")
	}
	return nil
}

// validateNetworkConfig 概率取值 [0, 1)
func (c *Config) validateNetworkConfig() error {
	rates := map[string]float64{
		"loss_rate":      c.Network.LossRate,
		"duplicate_rate": c.Network.DuplicateRate,
		"reorder_rate":   c.Network.ReorderRate,
	}
	for name, rate := range rates {
		if rate < 0 || rate >= 1 {
			return fmt.Errorf("network.%s 需在 [0, 1) 之间: %v", name, rate)
		}
	}
	return nil
}

// ToSTCPConfig 转换为连接配置
func (c *Config) ToSTCPConfig() *transport.STCPConfig {
	cfg := transport.DefaultSTCPConfig()
	cfg.MSS = c.STCP.MSS
	cfg.WindowSize = c.STCP.WindowSize
	cfg.MaxRetries = c.STCP.MaxRetries
	cfg.TimeUnit = time.Duration(c.STCP.TimeUnitMs) * time.Millisecond
	cfg.HandshakeTimeoutUnits = c.STCP.HandshakeTimeoutUnits
	cfg.RetransmitTimeoutUnits = c.STCP.RetransmitTimeoutUnits
	cfg.FixedISN = c.STCP.FixedISN
	cfg.SendBackoffMin = time.Duration(c.STCP.SendBackoffMinMs) * time.Millisecond
	cfg.SendBackoffMax = time.Duration(c.STCP.SendBackoffMaxMs) * time.Millisecond
	return cfg
}

// ToLossyConfig 转换为丢包模拟配置
func (c *Config) ToLossyConfig() transport.LossyConfig {
	return transport.LossyConfig{
		LossRate:      c.Network.LossRate,
		DuplicateRate: c.Network.DuplicateRate,
		ReorderRate:   c.Network.ReorderRate,
		Seed:          c.Network.Seed,
	}
}

// OpenMode 打开方式
func (c *Config) OpenMode() transport.OpenMode {
	if c.Mode == ModeActive {
		return transport.OpenActive
	}
	return transport.OpenPassive
}

// WebSocketURL 主动方拨号地址
func (c *Config) WebSocketURL() string {
	return "ws://" + c.Remote + c.WebSocket.Path
}

// parsePort 解析端口号
func parsePort(addr string) (int, error) {
	if strings.HasPrefix(addr, ":") {
		return strconv.Atoi(addr[1:])
	}
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return strconv.Atoi(addr)
	}
	return strconv.Atoi(portStr)
}

// GetListenPort 获取监听端口
func (c *Config) GetListenPort() int {
	port, _ := parsePort(c.Listen)
	return port
}

// =============================================================================
// 配置文件示例生成
// =============================================================================

// GenerateExampleConfig 生成示例配置
func GenerateExampleConfig() string {
	return `# STCP 对端配置文件示例
# =============================================================================

# 基础配置
listen: ":54321"                    # 被动方监听地址
remote: "127.0.0.1:54321"           # 主动方连接地址
mode: "passive"                     # 打开方式: active, passive
transport: "udp"                    # 数据报链路: udp, websocket
log_level: "info"                   # 日志级别: debug, info, warn, error

# STCP 协议参数
stcp:
  mss: 536                          # 最大报文段载荷
  window_size: 3072                 # 发送/接收窗口 (字节, 不超过 65535)
  max_retries: 6                    # 握手尝试与重传上限
  time_unit_ms: 1000                # 时间单位 (毫秒)
  handshake_timeout_units: 2        # 握手等待 (时间单位)
  retransmit_timeout_units: 1       # 重传超时 (时间单位)
  fixed_isn: false                  # 使用固定初始序列号, 便于抓包对照
  send_backoff_min_ms: 5            # 网络拒绝发送时的最小退避
  send_backoff_max_ms: 500          # 网络拒绝发送时的最大退避

# WebSocket 链路
websocket:
  path: "/stcp"

# 出站丢包模拟 (概率 0 表示关闭)
network:
  loss_rate: 0
  duplicate_rate: 0
  reorder_rate: 0
  seed: 1

# Prometheus 监控
metrics:
  enabled: false
  listen: ":9100"
  path: "/metrics"
  health_path: "/health"
`
}

// WriteExampleConfig 写入示例配置文件
func WriteExampleConfig(path string) error {
	return os.WriteFile(path, []byte(GenerateExampleConfig()), 0644)
}
