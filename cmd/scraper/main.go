package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DevMantelis/autominus/internal/captcha"
	"github.com/DevMantelis/autominus/internal/config"
	"github.com/DevMantelis/autominus/internal/crawler"
	"github.com/DevMantelis/autominus/internal/orchestrator"
	"github.com/DevMantelis/autominus/internal/pkg/dedup"
	"github.com/DevMantelis/autominus/internal/pkg/logger"
	"github.com/DevMantelis/autominus/internal/pkg/notify"
	"github.com/DevMantelis/autominus/internal/pkg/plates"
	"github.com/DevMantelis/autominus/internal/pkg/ratelimit"
	"github.com/DevMantelis/autominus/internal/registry"
	"github.com/DevMantelis/autominus/internal/source"
	"github.com/DevMantelis/autominus/internal/store"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

const rateLimitKey = "autominus:ratelimit:global"

// main 是采集服务的入口函数。
//
// 它负责：
// 1. 加载配置与初始化日志
// 2. 连接 MySQL / Redis，启动浏览器
// 3. 组装来源爬虫与登记信息补全器
// 4. 启动 Metrics 服务与调度循环
// 5. 优雅关闭
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLogger := logger.New(cfg.App.LogLevel, cfg.App.Env)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	notifier := buildNotifier(cfg, appLogger)

	st, err := store.Open(cfg.MySQL.DSN, appLogger)
	if err != nil {
		appLogger.Error("open store failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(rootCtx).Err(); err != nil {
		appLogger.Error("redis ping failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer rdb.Close()

	browser, err := crawler.StartBrowser(rootCtx, &cfg.Browser, appLogger)
	if err != nil {
		appLogger.Error("start browser failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() { _ = browser.Close() }()

	limiter := ratelimit.NewRedisRateLimiter(rdb, appLogger, rateLimitKey, cfg.App.RateLimit, cfg.App.RateBurst)
	deduper := dedup.NewDeduplicator(rdb, time.Duration(cfg.App.DedupWindow)*time.Second)

	var recognizer plates.Recognizer
	if cfg.Plates.APIURL != "" {
		recognizer = plates.NewClient(cfg.Plates.APIURL, appLogger)
	}

	adapters := source.Gather(appLogger, recognizer, cfg.App.Sources)
	if len(adapters) == 0 {
		appLogger.Error("no sources enabled", slog.Any("configured", cfg.App.Sources))
		os.Exit(1)
	}

	var runners []orchestrator.Runner
	for _, adapter := range adapters {
		runners = append(runners, crawler.New(adapter, st, browser, limiter, deduper, crawler.Options{
			Concurrency:    cfg.App.CrawlConcurrency,
			PageTimeout:    cfg.Browser.PageTimeout,
			ListingRetries: cfg.App.ListingRetries,
			MaxPages:       cfg.App.MaxPagesPerSource,
		}, appLogger, notifier))
	}

	// VIN 反查需要打码平台；未配置密钥时补全只用广告里已有的 VIN
	var resolver *registry.VINResolver
	if cfg.Captcha.APIKey != "" && cfg.Registry.SiteKey != "" {
		solver := captcha.NewClient(cfg.Captcha.APIKey, cfg.Captcha.BaseURL, appLogger, notifier)
		resolver = registry.NewVINResolver(registry.VINResolverConfig{
			PageURL:    cfg.Registry.FindVinPageURL,
			SiteKey:    cfg.Registry.SiteKey,
			BackendURL: cfg.Registry.BackendURL,
			Action:     cfg.Registry.Action,
			MinScore:   cfg.Registry.MinScore,
		}, solver, appLogger, notifier)
	} else {
		appLogger.Warn("captcha or registry site key missing, VIN discovery disabled")
	}

	enricher := registry.NewEnricher(st, resolver, browser, cfg.Registry.LookupURL,
		cfg.Browser.PageTimeout, cfg.App.RegistryConcurrency, appLogger, notifier)

	metricsServer := &http.Server{
		Addr:    cfg.App.MetricsAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		appLogger.Info("metrics server started", slog.String("addr", cfg.App.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("metrics server stopped with error", slog.String("error", err.Error()))
		}
	}()

	o := orchestrator.New(runners, enricher, appLogger, notifier)

	if cfg.App.ScheduleInterval > 0 {
		appLogger.Info("starting scheduled rounds", slog.Duration("interval", cfg.App.ScheduleInterval))
		err = o.RunLoop(rootCtx, cfg.App.ScheduleInterval)
	} else {
		appLogger.Info("running a single round")
		err = o.RunRound(rootCtx)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error("scheduler stopped with error", slog.String("error", err.Error()))
	}

	appLogger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("metrics shutdown error", slog.String("error", err.Error()))
	}
	appLogger.Info("scraper stopped gracefully")
}

// buildNotifier 按配置组装告警渠道，一个都没配时退化为纯日志。
func buildNotifier(cfg *config.Config, appLogger *slog.Logger) notify.Notifier {
	var channels notify.Multi
	if cfg.Notify.DiscordWebhookURL != "" {
		channels = append(channels, notify.NewDiscordNotifier(cfg.Notify.DiscordWebhookURL, appLogger))
	}
	if cfg.Notify.SMTPHost != "" && cfg.Notify.SMTPUser != "" && cfg.Notify.ToEmail != "" {
		channels = append(channels, notify.NewEmailNotifier(notify.EmailConfig{
			SMTPHost:  cfg.Notify.SMTPHost,
			SMTPPort:  cfg.Notify.SMTPPort,
			SMTPUser:  cfg.Notify.SMTPUser,
			SMTPPass:  cfg.Notify.SMTPPass,
			FromEmail: cfg.Notify.FromEmail,
			ToEmail:   cfg.Notify.ToEmail,
		}, appLogger))
	}
	if len(channels) == 0 {
		appLogger.Warn("no notification channel configured, failures will only be logged")
		return notify.NewDiscordNotifier("", appLogger)
	}
	return channels
}
