package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/DevMantelis/autominus/internal/captcha"
	"github.com/DevMantelis/autominus/internal/pkg/metrics"
	"github.com/DevMantelis/autominus/internal/pkg/notify"
)

const (
	vinRequestTimeout = 30 * time.Second
	vinResolveRetries = 3 // 含验证码失效在内的整体重试次数
)

// Solver 打码接口（由 captcha.Client 实现）。
type Solver interface {
	Solve(ctx context.Context, task captcha.TaskRequest) string
}

// VINResolverConfig VIN 反查接口的端点配置。
type VINResolverConfig struct {
	PageURL    string  // reCAPTCHA 所在页面地址
	SiteKey    string  // reCAPTCHA site key
	BackendURL string  // 反查后端接口地址
	Action     string  // reCAPTCHA action 名称
	MinScore   float64 // reCAPTCHA v3 最低分数
}

// VINResolver 通过登记系统的公开接口按申报单代码反查 VIN。
//
// 接口受 reCAPTCHA v3 保护，每次请求都需要先打码拿 token。
type VINResolver struct {
	cfg      VINResolverConfig
	solver   Solver
	client   *http.Client
	logger   *slog.Logger
	notifier notify.Notifier
}

// NewVINResolver 创建 VIN 反查器。
func NewVINResolver(cfg VINResolverConfig, solver Solver, logger *slog.Logger, notifier notify.Notifier) *VINResolver {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &VINResolver{
		cfg:      cfg,
		solver:   solver,
		client:   &http.Client{Timeout: vinRequestTimeout},
		logger:   logger,
		notifier: notifier,
	}
}

type vinLookupPayload struct {
	OwnerDeclCode        string `json:"ownerDeclCode"`
	GoogleRecaptchaToken string `json:"googleRecaptchaToken"`
}

type vinLookupResponse struct {
	Message    string `json:"message"`
	VehicleVin string `json:"vehicleVin"`
}

// Resolve 按申报单代码反查 VIN。
//
// 返回值 sdkValid 为 false 表示登记系统确认该代码无效（终态，不必再试）；
// vin 为空但 sdkValid 为 true 表示本轮没查到，下一轮可以重试。
func (r *VINResolver) Resolve(ctx context.Context, sdk string) (vin string, sdkValid bool) {
	if !IsValidSDK(sdk) {
		return "", false
	}

	for attempt := 0; attempt < vinResolveRetries; attempt++ {
		result, terminal, err := r.tryResolve(ctx, sdk)
		if err == nil {
			metrics.RegistryVinLookupsTotal.WithLabelValues("resolved").Inc()
			return result, true
		}
		if terminal {
			// 登记系统明确告知申报单不存在
			metrics.RegistryVinLookupsTotal.WithLabelValues("not_found").Inc()
			return "", false
		}
		r.logger.Warn("vin lookup failed",
			slog.String("sdk", sdk),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
		r.notifier.Error(ctx, fmt.Sprintf("vin lookup failed (retry %d/%d)", attempt, vinResolveRetries-1), err)
		if ctx.Err() != nil {
			break
		}
	}

	metrics.RegistryVinLookupsTotal.WithLabelValues("failed").Inc()
	return "", true
}

// tryResolve 执行一次打码 + 接口调用。terminal 为 true 表示不应重试。
func (r *VINResolver) tryResolve(ctx context.Context, sdk string) (vin string, terminal bool, err error) {
	token := r.solver.Solve(ctx, captcha.TaskRequest{
		Type:       captcha.TypeRecaptchaV3,
		WebsiteURL: r.cfg.PageURL,
		WebsiteKey: r.cfg.SiteKey,
		MinScore:   r.cfg.MinScore,
		Action:     r.cfg.Action,
	})
	if token == "" {
		return "", false, fmt.Errorf("failed getting token from captcha")
	}

	payload, err := json.Marshal(vinLookupPayload{
		OwnerDeclCode:        sdk,
		GoogleRecaptchaToken: token,
	})
	if err != nil {
		return "", false, fmt.Errorf("marshal vin lookup: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BackendURL, bytes.NewReader(payload))
	if err != nil {
		return "", false, fmt.Errorf("build vin lookup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://www.eregitra.lt")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("vin lookup request: %w", err)
	}
	defer resp.Body.Close()

	var result vinLookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", false, fmt.Errorf("decode vin lookup response: %w", err)
	}

	if result.Message != "" {
		lower := strings.ToLower(result.Message)
		if strings.Contains(lower, "actual declaration not found") {
			return "", true, fmt.Errorf("declaration not found: %s", result.Message)
		}
		if strings.Contains(result.Message, "INVALID_RECAPTCHA") {
			return "", false, fmt.Errorf("invalid captcha token: %s", result.Message)
		}
		return "", false, fmt.Errorf("unknown registry error: %s", result.Message)
	}

	if !IsValidVIN(result.VehicleVin) {
		return "", false, fmt.Errorf("registry returned malformed vin %q", result.VehicleVin)
	}
	return result.VehicleVin, false, nil
}
