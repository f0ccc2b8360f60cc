package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const webhookTimeout = 10 * time.Second

// DiscordNotifier 通过 Discord Webhook 发送错误告警。
type DiscordNotifier struct {
	webhookURL string
	client     *http.Client
	logger     *slog.Logger
}

// NewDiscordNotifier 创建一个新的 Discord 通知器。
func NewDiscordNotifier(webhookURL string, logger *slog.Logger) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: webhookTimeout},
		logger:     logger,
	}
}

// Error 发送错误告警到 Webhook。
//
// 通知本身失败只记日志，不再向外传播（告警通道不能反过来影响抓取）。
func (n *DiscordNotifier) Error(ctx context.Context, message string, err error) {
	content := message
	if err != nil {
		content = fmt.Sprintf("%s:\n %s", message, err.Error())
	}
	n.logger.Error(message, slog.Any("error", err))

	if n.webhookURL == "" {
		return
	}

	payload, marshalErr := json.Marshal(map[string]string{"content": content})
	if marshalErr != nil {
		n.logger.Warn("marshal webhook payload failed", slog.String("error", marshalErr.Error()))
		return
	}

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
	if reqErr != nil {
		n.logger.Warn("build webhook request failed", slog.String("error", reqErr.Error()))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, sendErr := n.client.Do(req)
	if sendErr != nil {
		n.logger.Warn("send webhook failed", slog.String("error", sendErr.Error()))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.logger.Warn("webhook rejected", slog.Int("status", resp.StatusCode))
	}
}
