package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 爬取相关指标
var (
	// CrawlerPagesTotal 按来源与页面类型统计的页面访问次数。
	CrawlerPagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autominus_crawler_pages_total",
		Help: "Total pages visited by the crawler",
	}, []string{"source", "kind", "status"}) // kind: listing / detail

	// CrawlerPageDuration 页面处理耗时分布。
	CrawlerPageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "autominus_crawler_page_duration_seconds",
		Help:    "Page processing duration by source",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	}, []string{"source", "kind"})

	// CrawlerErrorsTotal 按错误类型统计的爬取错误数。
	CrawlerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autominus_crawler_errors_total",
		Help: "Crawler errors by source and type",
	}, []string{"source", "type"})

	// ListingsFoundTotal 解析出的列表项数量。
	ListingsFoundTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autominus_listings_found_total",
		Help: "Listing summaries parsed from listing pages",
	}, []string{"source"})

	// ListingsInsertedTotal / ListingsUpdatedTotal 对账结果统计。
	ListingsInsertedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autominus_listings_inserted_total",
		Help: "New listings inserted into the store",
	}, []string{"source"})
	ListingsUpdatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autominus_listings_updated_total",
		Help: "Existing listings updated in the store",
	}, []string{"source"})

	// ActiveBrowserPages 当前打开的浏览器页面数。
	ActiveBrowserPages = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "autominus_browser_pages_active",
		Help: "Browser pages currently open",
	})

	// BrowserInstances 浏览器实例数。
	BrowserInstances = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "autominus_browser_instances",
		Help: "Running browser instances",
	})
)

// 调度轮次指标
var (
	// RoundPhaseTotal 各阶段（crawl / enrich）的执行结果。
	RoundPhaseTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autominus_round_phase_total",
		Help: "Round phase completions by outcome",
	}, []string{"phase", "status"})

	// RoundDuration 一轮完整采集的耗时。
	RoundDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "autominus_round_duration_seconds",
		Help:    "Full round duration (crawl plus enrichment)",
		Buckets: prometheus.ExponentialBuckets(30, 2, 10),
	})
)

// 限流指标（ratelimit 包依赖）
var (
	RateLimitWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "autominus_ratelimit_wait_seconds",
		Help:    "Time spent waiting for the global rate limiter",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})
	RateLimitTimeoutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autominus_ratelimit_timeouts_total",
		Help: "Rate limiter waits aborted by context cancellation",
	})
)

// 验证码与注册中心指标
var (
	CaptchaTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autominus_captcha_tasks_total",
		Help: "CAPTCHA solving attempts by outcome",
	}, []string{"outcome"}) // solved / create_failed / poll_failed / timeout

	CaptchaSolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "autominus_captcha_solve_seconds",
		Help:    "Wall-clock time to obtain a CAPTCHA token",
		Buckets: prometheus.LinearBuckets(5, 5, 12),
	})

	RegistryLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autominus_registry_lookups_total",
		Help: "Registry portal lookups by outcome",
	}, []string{"outcome"}) // matched / no_match / skipped / failed

	RegistryVinLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autominus_registry_vin_lookups_total",
		Help: "VIN discovery attempts against the registry API by outcome",
	}, []string{"outcome"}) // found / not_found / failed
)
