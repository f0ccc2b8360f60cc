package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/DevMantelis/autominus/internal/pkg/metrics"
	"github.com/DevMantelis/autominus/internal/pkg/notify"
)

const (
	requestTimeout  = 30 * time.Second // 单次 API 请求超时
	createRetries   = 3                // 创建任务失败后的重试次数
	defaultInitWait = 5 * time.Second  // 创建任务后首次轮询前的等待
	defaultInterval = 2 * time.Second  // 轮询间隔
	defaultBudget   = 60 * time.Second // 轮询总预算
)

// 打码任务类型。
const (
	TypeRecaptchaV3 = "RecaptchaV3TaskProxyless"
	TypeRecaptchaV2 = "RecaptchaV2TaskProxyless"
)

// TaskRequest 描述一个待解的验证码任务。
type TaskRequest struct {
	Type         string  `json:"type"`
	WebsiteURL   string  `json:"websiteURL"`
	WebsiteKey   string  `json:"websiteKey"`
	MinScore     float64 `json:"minScore,omitempty"`
	IsEnterprise bool    `json:"isEnterprise"`
	APIDomain    string  `json:"apiDomain,omitempty"`
	Action       string  `json:"action,omitempty"`
}

type createTaskPayload struct {
	ClientKey string      `json:"clientKey"`
	Task      TaskRequest `json:"task"`
}

type createTaskResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorDescription string `json:"errorDescription"`
	TaskID           int64  `json:"taskId"`
}

type taskResultPayload struct {
	ClientKey string `json:"clientKey"`
	TaskID    int64  `json:"taskId"`
}

type taskResultResponse struct {
	ErrorID  int    `json:"errorId"`
	Status   string `json:"status"`
	Solution struct {
		Token              string `json:"token"`
		GRecaptchaResponse string `json:"gRecaptchaResponse"`
	} `json:"solution"`
}

// Client 打码平台客户端。
//
// 解码是尽力而为的：任何阶段失败都返回空 token，由调用方决定是否重试整个流程。
type Client struct {
	apiKey   string
	baseURL  string
	client   *http.Client
	logger   *slog.Logger
	notifier notify.Notifier

	// 轮询节奏，测试时可缩短
	initialDelay time.Duration
	pollInterval time.Duration
	pollBudget   time.Duration
}

// NewClient 创建打码平台客户端。
func NewClient(apiKey, baseURL string, logger *slog.Logger, notifier notify.Notifier) *Client {
	if baseURL == "" {
		baseURL = "https://api.2captcha.com"
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Client{
		apiKey:       apiKey,
		baseURL:      baseURL,
		client:       &http.Client{Timeout: requestTimeout},
		logger:       logger,
		notifier:     notifier,
		initialDelay: defaultInitWait,
		pollInterval: defaultInterval,
		pollBudget:   defaultBudget,
	}
}

// Solve 创建任务并轮询结果，返回解出的 token。
//
// 创建失败重试 createRetries 次后放弃；轮询超出预算同样返回空串。
func (c *Client) Solve(ctx context.Context, task TaskRequest) string {
	if task.APIDomain == "" {
		task.APIDomain = "google.com"
	}

	taskID := c.createTask(ctx, task)
	if taskID == 0 {
		metrics.CaptchaTasksTotal.WithLabelValues("create_failed").Inc()
		return ""
	}

	start := time.Now()
	token := c.retrieveToken(ctx, taskID)
	if token == "" {
		metrics.CaptchaTasksTotal.WithLabelValues("timeout").Inc()
		return ""
	}
	metrics.CaptchaTasksTotal.WithLabelValues("solved").Inc()
	metrics.CaptchaSolveDuration.Observe(time.Since(start).Seconds())
	return token
}

// createTask 创建打码任务，失败后最多重试 createRetries 次。
func (c *Client) createTask(ctx context.Context, task TaskRequest) int64 {
	var lastErr error
	for attempt := 0; attempt <= createRetries; attempt++ {
		taskID, err := c.doCreateTask(ctx, task)
		if err == nil {
			return taskID
		}
		lastErr = err
		c.logger.Warn("create captcha task failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
		if ctx.Err() != nil {
			break
		}
	}
	c.notifier.Error(ctx, "failed to create captcha task", lastErr)
	return 0
}

func (c *Client) doCreateTask(ctx context.Context, task TaskRequest) (int64, error) {
	payload, err := json.Marshal(createTaskPayload{
		ClientKey: c.apiKey,
		Task:      task,
	})
	if err != nil {
		return 0, fmt.Errorf("marshal create task: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/createTask", bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("build create task request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("create task request: %w", err)
	}
	defer resp.Body.Close()

	var result createTaskResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("decode create task response: %w", err)
	}
	if result.ErrorID != 0 {
		return 0, fmt.Errorf("create task rejected: %s (errorId=%d)", result.ErrorDescription, result.ErrorID)
	}
	if result.TaskID == 0 {
		return 0, errors.New("create task returned empty task id")
	}
	return result.TaskID, nil
}

// retrieveToken 轮询任务结果直到 ready 或超出预算。
func (c *Client) retrieveToken(ctx context.Context, taskID int64) string {
	if !sleepCtx(ctx, c.initialDelay) {
		return ""
	}

	deadline := time.Now().Add(c.pollBudget)
	for time.Now().Before(deadline) {
		token, ready, err := c.doRetrieve(ctx, taskID)
		if err != nil {
			c.logger.Warn("retrieve captcha task failed",
				slog.Int64("task_id", taskID),
				slog.String("error", err.Error()))
			return ""
		}
		if ready {
			return token
		}
		if !sleepCtx(ctx, c.pollInterval) {
			return ""
		}
	}

	c.logger.Warn("captcha solve exceeded budget", slog.Int64("task_id", taskID))
	return ""
}

func (c *Client) doRetrieve(ctx context.Context, taskID int64) (string, bool, error) {
	payload, err := json.Marshal(taskResultPayload{
		ClientKey: c.apiKey,
		TaskID:    taskID,
	})
	if err != nil {
		return "", false, fmt.Errorf("marshal task result: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/getTaskResult", bytes.NewReader(payload))
	if err != nil {
		return "", false, fmt.Errorf("build task result request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("task result request: %w", err)
	}
	defer resp.Body.Close()

	var result taskResultResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", false, fmt.Errorf("decode task result response: %w", err)
	}
	if result.ErrorID != 0 {
		return "", false, fmt.Errorf("task result rejected (errorId=%d)", result.ErrorID)
	}
	if result.Status != "ready" {
		return "", false, nil
	}

	token := result.Solution.Token
	if token == "" {
		token = result.Solution.GRecaptchaResponse
	}
	return token, true, nil
}

// sleepCtx 可取消的 sleep，被取消时返回 false。
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
