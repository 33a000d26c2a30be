package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"OpenMCP-ChainManager/pkg/logger"
)

// EnvPath 指定配置文件路径的环境变量。
const EnvPath = "CHAINMGR_CONFIG"

// DefaultPath 是未设置环境变量时使用的配置文件。
var DefaultPath = filepath.Join("configs", "chainmgr.json")

// Config 描述了链管理服务在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Chains   ChainsConfig   `json:"chains"`
	Network  NetworkConfig  `json:"network"`
	Monitor  MonitorConfig  `json:"monitor"`
	Events   EventsConfig   `json:"events"`
	Logging  logger.Config  `json:"logging"`
	Metrics  MetricsConfig  `json:"metrics"`
	Alerting AlertingConfig `json:"alerting"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// ChainsConfig 指定链定义文件和默认链。
type ChainsConfig struct {
	// Definitions 为 YAML 链定义文件，留空时使用内置链。
	Definitions  string `json:"definitions"`
	DefaultChain string `json:"default_chain"`
}

// NetworkConfig 控制 RPC 调用的超时、交易确认轮询与故障切换。
type NetworkConfig struct {
	HealthTimeoutMS  int   `json:"health_timeout_ms"`
	RequestTimeoutMS int   `json:"request_timeout_ms"`
	PollIntervalMS   int   `json:"poll_interval_ms"`
	PollAttempts     int   `json:"poll_attempts"`
	Failover         *bool `json:"failover"`
	VerifyChainID    bool  `json:"verify_chain_id"`
}

// HealthTimeout 返回健康检查超时。
func (c NetworkConfig) HealthTimeout() time.Duration {
	return time.Duration(c.HealthTimeoutMS) * time.Millisecond
}

// RequestTimeout 返回普通 RPC 请求超时。
func (c NetworkConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

// PollInterval 返回交易回执轮询间隔。
func (c NetworkConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// FailoverEnabled 报告是否启用 RPC 故障切换。
func (c NetworkConfig) FailoverEnabled() bool {
	return c.Failover == nil || *c.Failover
}

// MonitorConfig 控制后台健康巡检。
type MonitorConfig struct {
	Enabled         bool `json:"enabled"`
	IntervalSeconds int  `json:"interval_seconds"`
	Concurrency     int  `json:"concurrency"`
}

// Interval 返回巡检间隔。
func (c MonitorConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// EventsConfig 描述链事件的外部投递渠道。
type EventsConfig struct {
	Buffer   int            `json:"buffer"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
	MySQL    MySQLConfig    `json:"mysql"`
}

// RedisConfig 描述 Redis pub/sub 投递参数。
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Channel  string `json:"channel"`
}

// RabbitMQConfig 描述 RabbitMQ 交换机投递参数。
type RabbitMQConfig struct {
	Enabled  bool   `json:"enabled"`
	URL      string `json:"url"`
	Exchange string `json:"exchange"`
	Durable  bool   `json:"durable"`
}

// MySQLConfig 描述事件日志表所在的数据库。
type MySQLConfig struct {
	Enabled                bool   `json:"enabled"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// MetricsConfig 控制 Prometheus 指标端口，留空时仅通过 API 的 /metrics 暴露。
type MetricsConfig struct {
	Address string `json:"address"`
}

// AlertingConfig 控制网络故障告警。
type AlertingConfig struct {
	Enabled         bool            `json:"enabled"`
	CooldownSeconds int             `json:"cooldown_seconds"`
	Webhooks        []WebhookConfig `json:"webhooks"`
}

// WebhookConfig 描述一个告警 webhook，format 取值 json、slack 或 dingtalk。
type WebhookConfig struct {
	Name           string `json:"name"`
	URL            string `json:"url"`
	Format         string `json:"format"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Cooldown 返回同类告警的抑制窗口。
func (c AlertingConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// Path 返回配置文件路径，优先读取 CHAINMGR_CONFIG。
func Path() string {
	if p := strings.TrimSpace(os.Getenv(EnvPath)); p != "" {
		return p
	}
	return DefaultPath
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查启用的投递渠道是否填写了连接信息。
func (c *Config) Validate() error {
	var errs []error
	if c.Events.Redis.Enabled && c.Events.Redis.Address == "" {
		errs = append(errs, errors.New("events.redis.address 不能为空"))
	}
	if c.Events.RabbitMQ.Enabled && c.Events.RabbitMQ.URL == "" {
		errs = append(errs, errors.New("events.rabbitmq.url 不能为空"))
	}
	if c.Events.MySQL.Enabled && c.Events.MySQL.DSN == "" {
		errs = append(errs, errors.New("events.mysql.dsn 不能为空"))
	}
	for i, hook := range c.Alerting.Webhooks {
		if hook.URL == "" {
			errs = append(errs, fmt.Errorf("alerting.webhooks[%d].url 不能为空", i))
		}
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		errs = append(errs, errors.New("logging.audit.path 不能为空"))
	}
	return errors.Join(errs...)
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Chains.Definitions != "" && !filepath.IsAbs(c.Chains.Definitions) {
		c.Chains.Definitions = filepath.Join(baseDir, c.Chains.Definitions)
	}

	if c.Network.HealthTimeoutMS <= 0 {
		c.Network.HealthTimeoutMS = 5000
	}
	if c.Network.RequestTimeoutMS <= 0 {
		c.Network.RequestTimeoutMS = 15000
	}
	if c.Network.PollIntervalMS <= 0 {
		c.Network.PollIntervalMS = 1000
	}
	if c.Network.PollAttempts <= 0 {
		c.Network.PollAttempts = 60
	}

	if c.Monitor.IntervalSeconds <= 0 {
		c.Monitor.IntervalSeconds = 30
	}
	if c.Monitor.Concurrency <= 0 {
		c.Monitor.Concurrency = 4
	}

	if c.Events.Buffer <= 0 {
		c.Events.Buffer = 256
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Audit.Path != "" && !filepath.IsAbs(c.Logging.Audit.Path) {
		c.Logging.Audit.Path = filepath.Join(baseDir, c.Logging.Audit.Path)
	}

	if c.Alerting.CooldownSeconds <= 0 {
		c.Alerting.CooldownSeconds = 60
	}
}
