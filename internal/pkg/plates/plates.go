package plates

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const requestTimeout = 60 * time.Second

// Recognizer 定义车牌识别接口（从图片中识别车牌号）。
type Recognizer interface {
	// RecognizePlates 按图片 URL 识别车牌，失败时降级为空列表。
	RecognizePlates(ctx context.Context, images []string) []string
}

// Client 调用 ALPR 识别服务的 HTTP 客户端。
//
// 识别服务是尽力而为的辅助数据源：任何失败只记日志并返回空列表，
// 绝不让详情抓取任务因此失败。
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewClient 创建车牌识别客户端。
func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: requestTimeout},
		logger:  logger,
	}
}

// RecognizePlates 请求识别服务，返回识别出的车牌列表。
func (c *Client) RecognizePlates(ctx context.Context, images []string) []string {
	if c == nil || c.baseURL == "" || len(images) == 0 {
		return nil
	}

	values := url.Values{}
	for _, image := range images {
		values.Add("image_path", image)
	}
	endpoint := fmt.Sprintf("%s/recognize_plate?%s", c.baseURL, values.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		c.logger.Warn("build plates request failed", slog.String("error", err.Error()))
		return nil
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("plates request failed", slog.String("error", err.Error()))
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("plates service returned non-200",
			slog.Int("status", resp.StatusCode),
			slog.Int("images", len(images)))
		return nil
	}

	var payload struct {
		Plates []string `json:"plates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.logger.Warn("decode plates response failed", slog.String("error", err.Error()))
		return nil
	}
	return payload.Plates
}
