package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	xerrors "OpenMCP-ChainManager/internal/errors"
	"OpenMCP-ChainManager/pkg/logger"
)

// Event 描述一次需要告警的网络故障。
type Event struct {
	Code       xerrors.Code      `json:"code"`
	Message    string            `json:"message"`
	Severity   xerrors.Severity  `json:"severity"`
	ChainID    string            `json:"chainId"`
	Fatal      bool              `json:"fatal"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}

// Summary 渲染单行告警摘要，供日志和聊天类渠道使用。
func (e Event) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] 链 %s %s: %s", e.Severity, e.ChainID, e.Code, e.Message)
	if len(e.Metadata) == 0 {
		return b.String()
	}
	keys := make([]string, 0, len(e.Metadata))
	for k := range e.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, e.Metadata[k])
	}
	return b.String()
}

// Notifier 负责将事件发送到某个渠道。
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 是 Bridge 的投递目标。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 将事件投递到全部通知器，单个渠道失败不影响其他渠道。
type FanoutDispatcher struct {
	notifiers []Notifier
}

func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	d := &FanoutDispatcher{}
	for _, n := range notifiers {
		if n != nil {
			d.notifiers = append(d.notifiers, n)
		}
	}
	return d
}

// Notify 广播事件，返回各渠道错误的合并结果。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, n := range d.notifiers {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// LogNotifier 将告警写入日志，未配置 webhook 时作为兜底渠道。
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	l := logger.L()
	if n != nil && n.Logger != nil {
		l = n.Logger
	}
	level := slog.LevelWarn
	if event.Fatal {
		level = slog.LevelError
	}
	l.Log(context.Background(), level, "网络告警",
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("chain_id", event.ChainID),
		slog.Bool("fatal", event.Fatal),
		slog.String("message", event.Message))
	return nil
}

// WebhookFormat 决定 webhook 请求体的格式。
type WebhookFormat string

const (
	FormatJSON     WebhookFormat = "json"
	FormatSlack    WebhookFormat = "slack"
	FormatDingTalk WebhookFormat = "dingtalk"
)

// WebhookNotifier 以 HTTP POST 推送告警，支持原始 JSON、Slack 和钉钉机器人格式。
type WebhookNotifier struct {
	name   string
	url    string
	format WebhookFormat
	client *resty.Client
}

// NewWebhookNotifier 创建 webhook 通知器，format 为空时发送原始 JSON。
func NewWebhookNotifier(name, url string, format WebhookFormat, timeout time.Duration) (*WebhookNotifier, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("webhook 地址不能为空")
	}
	switch format {
	case "":
		format = FormatJSON
	case FormatJSON, FormatSlack, FormatDingTalk:
	default:
		return nil, fmt.Errorf("不支持的 webhook 格式 %q", format)
	}
	if name == "" {
		name = string(format)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		name:   name,
		url:    url,
		format: format,
		client: resty.New().SetTimeout(timeout).SetHeader("Content-Type", "application/json"),
	}, nil
}

func (n *WebhookNotifier) Name() string { return n.name }

// Notify 发送告警，非 2xx 响应视为失败。
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	resp, err := n.client.R().SetContext(ctx).SetBody(n.body(event)).Post(n.url)
	if err != nil {
		return fmt.Errorf("调用 webhook 失败: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook 返回 %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}

func (n *WebhookNotifier) body(event Event) any {
	switch n.format {
	case FormatSlack:
		return map[string]string{"text": event.Summary()}
	case FormatDingTalk:
		return map[string]any{
			"msgtype": "text",
			"text":    map[string]string{"content": event.Summary()},
		}
	default:
		return event
	}
}
