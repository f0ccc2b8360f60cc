package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/DevMantelis/autominus/internal/config"
	"github.com/DevMantelis/autominus/internal/pkg/metrics"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

const (
	pageCreateTimeout    = 30 * time.Second // 页面创建超时
	stealthScriptTimeout = 5 * time.Second  // Stealth 脚本应用超时

	defaultUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
)

// blockedURLs 页面加载时屏蔽的资源。
//
// 两个站点的图片地址都从 DOM 属性或内联脚本里拿，不需要真正加载图片。
var blockedURLs = []string{
	// 高带宽资源 (图片/字体/媒体)
	"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.svg", "*.ico",
	"*.avif", "*.apng", "*.heic", "*.heif", "*.bmp", "*.tif", "*.tiff",
	"*.woff", "*.woff2", "*.ttf", "*.eot", "*.otf",
	"*.mp4", "*.webm", "*.m4v", "*.mov", "*.avi",
	"*.mp3", "*.aac", "*.m4a", "*.ogg", "*.wav", "*.flac",

	// 广告与追踪脚本
	"*google-analytics*",
	"*googletagmanager*",
	"*doubleclick*",
	"*criteo*",
	"*facebook*",
	"*twitter*",
	"*hotjar*",
	"*sentry*",
	"*adform*",
	"*adocean*",
}

// StartBrowser 根据配置启动浏览器。
//
// 它会根据配置决定是否使用 Headless 模式、代理以及是否下载默认浏览器。
// 针对 Docker/容器环境做了适配（NoSandbox）。
func StartBrowser(ctx context.Context, cfg *config.BrowserConfig, logger *slog.Logger) (*rod.Browser, error) {
	bin := cfg.BinPath
	if bin == "" {
		logger.Info("no browser binary specified, downloading default...")
		path, err := launcher.NewBrowser().Get()
		if err != nil {
			return nil, fmt.Errorf("download browser: %w", err)
		}
		bin = path
	}

	l := launcher.New().
		Headless(cfg.Headless).
		Bin(bin).
		NoSandbox(true).
		// 禁用 /dev/shm，防止容器内内存崩溃
		Set("disable-dev-shm-usage", "true").
		// 服务器环境不需要 GPU
		Set("disable-gpu", "true").
		Set("disable-software-rasterizer", "true").
		Set("remote-allow-origins", "*").
		// 缓存与内存优化，减少磁盘写入压力
		Set("disk-cache-size", "1").
		Set("media-cache-size", "1").
		Set("disable-application-cache", "true").
		Set("js-flags", "--max_old_space_size=512")

	var proxyUser, proxyPass string
	if cfg.ProxyURL != "" {
		parsed, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return nil, fmt.Errorf("invalid proxy url: %s", cfg.ProxyURL)
		}
		proxyServer := fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
		if parsed.User != nil {
			proxyUser = parsed.User.Username()
			if pass, ok := parsed.User.Password(); ok {
				proxyPass = pass
			}
		}
		l = l.Proxy(proxyServer)
		logger.Info("using http proxy", slog.String("server", proxyServer))
	}

	wsURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().Context(ctx).ControlURL(wsURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	if proxyUser != "" {
		go browser.MustHandleAuth(proxyUser, proxyPass)()
		logger.Info("proxy authentication handler registered")
	}

	metrics.BrowserInstances.Inc()
	logger.Info("browser started", slog.String("bin", bin), slog.Bool("headless", cfg.Headless))
	return browser, nil
}

// newStealthPage 创建一个注入了反检测脚本和 Cookie 的页面。
//
// 页面对象绑定任务 context，创建本身用独立的短超时保护，
// 避免浏览器卡死时任务永远挂住。
func newStealthPage(ctx context.Context, browser *rod.Browser, pageTimeout time.Duration, cookies []*proto.NetworkCookieParam, logger *slog.Logger) (*rod.Page, error) {
	type pageResult struct {
		page *rod.Page
		err  error
	}
	pageResultCh := make(chan pageResult, 1)
	go func() {
		page, pageErr := browser.Context(ctx).Page(proto.TargetCreateTarget{URL: ""})
		select {
		case pageResultCh <- pageResult{page: page, err: pageErr}:
		default:
			// 主 goroutine 已超时退出，清理迟到的页面
			if page != nil {
				_ = page.Close()
			}
			logger.Warn("page creation completed after timeout, cleaned up")
		}
	}()

	createTimer := time.NewTimer(pageCreateTimeout)
	defer createTimer.Stop()

	var page *rod.Page
	select {
	case result := <-pageResultCh:
		if result.err != nil {
			return nil, fmt.Errorf("create page: %w", result.err)
		}
		page = result.page
	case <-createTimer.C:
		return nil, fmt.Errorf("create page timeout after %v", pageCreateTimeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled during page creation: %w", ctx.Err())
	}

	// Stealth 脚本同样只用 select 做超时保护
	stealthTimer := time.NewTimer(stealthScriptTimeout)
	defer stealthTimer.Stop()
	stealthDone := make(chan error, 1)
	go func() {
		_, evalErr := page.EvalOnNewDocument(stealth.JS)
		stealthDone <- evalErr
	}()

	select {
	case err := <-stealthDone:
		if err != nil {
			_ = page.Close()
			return nil, fmt.Errorf("apply stealth script: %w", err)
		}
	case <-stealthTimer.C:
		_ = page.Close()
		return nil, fmt.Errorf("apply stealth script timeout after %v", stealthScriptTimeout)
	case <-ctx.Done():
		_ = page.Close()
		return nil, fmt.Errorf("context cancelled during stealth script: %w", ctx.Err())
	}

	if err := (proto.NetworkSetBlockedURLs{Urls: blockedURLs}).Call(page); err != nil {
		logger.Warn("set blocked urls failed", slog.String("error", err.Error()))
	}
	if len(cookies) > 0 {
		if err := page.SetCookies(cookies); err != nil {
			logger.Warn("set cookies failed", slog.String("error", err.Error()))
		}
	}

	page = page.Timeout(pageTimeout)
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: defaultUA}); err != nil {
		logger.Warn("set user agent failed", slog.String("error", err.Error()))
	}
	return page, nil
}
