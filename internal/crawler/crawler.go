package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/DevMantelis/autominus/internal/model"
	"github.com/DevMantelis/autominus/internal/pkg/dedup"
	"github.com/DevMantelis/autominus/internal/pkg/metrics"
	"github.com/DevMantelis/autominus/internal/pkg/notify"
	"github.com/DevMantelis/autominus/internal/pkg/queue"
	"github.com/DevMantelis/autominus/internal/pkg/ratelimit"
	"github.com/DevMantelis/autominus/internal/registry"
	"github.com/DevMantelis/autominus/internal/source"
	"github.com/DevMantelis/autominus/internal/store"

	"github.com/go-rod/rod"
)

// Options 爬虫的运行参数。
type Options struct {
	Concurrency    int           // 任务队列 worker 数
	PageTimeout    time.Duration // 单个页面操作超时
	ListingRetries int           // 列表页解析失败后的重试次数
	MaxPages       int           // 每轮最多翻页数（0 为不限）
}

// Crawler 单个来源站点的抓取器。
//
// 每轮从种子页开始：列表页任务解析出广告摘要并对账，
// 新广告的详情任务和下一页的列表任务递归提交进同一个队列，
// 队列收敛到空闲即一轮结束，随后统一落库。
type Crawler struct {
	adapter  source.Adapter
	store    store.Store
	browser  *rod.Browser
	limiter  *ratelimit.RateLimiter
	deduper  *dedup.Deduplicator
	opts     Options
	logger   *slog.Logger
	notifier notify.Notifier

	mu        sync.Mutex
	toInsert  []model.Vehicle
	toUpdate  []model.Vehicle
	pagesSeen int

	// 可注入的页面抓取实现，默认走浏览器
	fetchListing func(ctx context.Context, url string) (*model.ListingPage, error)
	fetchDetail  func(ctx context.Context, listing model.ListingSummary) (*model.Vehicle, error)
}

// New 创建来源抓取器。
func New(adapter source.Adapter, st store.Store, browser *rod.Browser, limiter *ratelimit.RateLimiter, deduper *dedup.Deduplicator, opts Options, logger *slog.Logger, notifier notify.Notifier) *Crawler {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 6
	}
	if limit := adapter.MaxConcurrency(); limit > 0 && opts.Concurrency > limit {
		opts.Concurrency = limit
	}
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = 60 * time.Second
	}
	if opts.ListingRetries < 0 {
		opts.ListingRetries = 0
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	c := &Crawler{
		adapter:  adapter,
		store:    st,
		browser:  browser,
		limiter:  limiter,
		deduper:  deduper,
		opts:     opts,
		logger:   logger.With(slog.String("source", adapter.Name())),
		notifier: notifier,
	}
	c.fetchListing = c.fetchListingViaBrowser
	c.fetchDetail = c.fetchDetailViaBrowser
	return c
}

// Name 来源站点名。
func (c *Crawler) Name() string {
	return c.adapter.Name()
}

// Run 执行一轮抓取：种子页 -> 翻页链 -> 详情扇出 -> 落库。
func (c *Crawler) Run(ctx context.Context) error {
	c.mu.Lock()
	c.toInsert = nil
	c.toUpdate = nil
	c.pagesSeen = 0
	c.mu.Unlock()

	q := queue.New(c.logger, c.opts.Concurrency)
	q.SetErrorHandler(func(jobErr error, _ queue.Job) {
		metrics.CrawlerErrorsTotal.WithLabelValues(c.adapter.Name(), classifyCrawlError(jobErr)).Inc()
		c.notifier.Error(ctx, fmt.Sprintf("%s crawl task failed", c.adapter.Name()), jobErr)
	})
	q.Start(ctx)
	defer q.Shutdown()

	for _, seed := range c.adapter.Seeds() {
		c.submitListing(ctx, q, seed, 0)
	}
	if err := q.WaitIdle(ctx); err != nil {
		return fmt.Errorf("wait crawl idle: %w", err)
	}

	stats := q.GetStats()
	c.logger.Info("crawl round finished",
		slog.Int64("processed", stats.TotalProcessed),
		slog.Int64("failed", stats.TotalFailed))

	return c.flush(ctx)
}

// submitListing 提交一个列表页任务。
func (c *Crawler) submitListing(ctx context.Context, q *queue.Queue, pageURL string, attempt int) {
	q.Submit(func(jobCtx context.Context) error {
		return c.crawlListing(jobCtx, q, pageURL, attempt)
	})
}

// crawlListing 抓取并对账一个列表页。
//
// 解析失败或解析出零条广告都按失败处理并重试；重试耗尽后该翻页链终止，
// 已入队的其它任务不受影响。
func (c *Crawler) crawlListing(ctx context.Context, q *queue.Queue, pageURL string, attempt int) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}

	start := time.Now()
	page, err := c.fetchListing(ctx, pageURL)
	metrics.CrawlerPageDuration.WithLabelValues(c.adapter.Name(), "listing").Observe(time.Since(start).Seconds())

	if err != nil || len(page.Listings) == 0 {
		metrics.CrawlerPagesTotal.WithLabelValues(c.adapter.Name(), "listing", "error").Inc()
		if attempt < c.opts.ListingRetries {
			c.logger.Warn("listing parse failed, retrying",
				slog.String("url", pageURL),
				slog.Int("attempt", attempt),
				slog.Any("error", err))
			c.submitListing(ctx, q, pageURL, attempt+1)
			return nil
		}
		if err == nil {
			err = fmt.Errorf("no listings found")
		}
		return fmt.Errorf("listing %s failed after %d attempts: %w", pageURL, attempt+1, err)
	}
	metrics.CrawlerPagesTotal.WithLabelValues(c.adapter.Name(), "listing", "success").Inc()
	metrics.ListingsFoundTotal.WithLabelValues(c.adapter.Name()).Add(float64(len(page.Listings)))

	existing, err := c.store.ExistingByExternalIDs(ctx, c.adapter.Name(), listingIDs(page.Listings))
	if err != nil {
		return fmt.Errorf("load existing listings: %w", err)
	}

	result := reconcile(page.Listings, existing)
	if len(result.toUpdate) > 0 {
		c.mu.Lock()
		c.toUpdate = append(c.toUpdate, result.toUpdate...)
		c.mu.Unlock()
	}

	for _, listing := range result.toScrape {
		listing := listing
		if c.deduper != nil {
			dup, dupErr := c.deduper.IsDuplicate(ctx, listing.URL)
			if dupErr != nil {
				c.logger.Warn("dedup check failed, scraping anyway",
					slog.String("url", listing.URL),
					slog.String("error", dupErr.Error()))
			} else if dup {
				c.logger.Debug("skip duplicate listing", slog.String("url", listing.URL))
				continue
			}
		}
		q.Submit(func(jobCtx context.Context) error {
			return c.crawlDetail(jobCtx, listing)
		})
	}

	if page.NextURL != "" && c.allowNextPage() {
		c.submitListing(ctx, q, page.NextURL, 0)
	}

	c.logger.Info("listing page processed",
		slog.String("url", pageURL),
		slog.Int("listings", len(page.Listings)),
		slog.Int("to_scrape", len(result.toScrape)),
		slog.Int("to_update", len(result.toUpdate)))
	return nil
}

// crawlDetail 抓取一条广告的详情。
func (c *Crawler) crawlDetail(ctx context.Context, listing model.ListingSummary) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}

	start := time.Now()
	vehicle, err := c.fetchDetail(ctx, listing)
	metrics.CrawlerPageDuration.WithLabelValues(c.adapter.Name(), "detail").Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.CrawlerPagesTotal.WithLabelValues(c.adapter.Name(), "detail", "error").Inc()
		// 从去重窗口移除，让下一轮还有机会抓到
		if c.deduper != nil {
			if delErr := c.deduper.Delete(ctx, listing.URL); delErr != nil {
				c.logger.Debug("dedup delete failed", slog.String("error", delErr.Error()))
			}
		}
		return fmt.Errorf("detail %s: %w", listing.URL, err)
	}
	metrics.CrawlerPagesTotal.WithLabelValues(c.adapter.Name(), "detail", "success").Inc()

	if vehicle == nil {
		// 适配器放弃了这条广告，什么都不写
		c.logger.Debug("detail yielded no record", slog.String("url", listing.URL))
		return nil
	}
	vehicle.NeedsRegistryLookup = needsRegistryLookup(vehicle)

	c.mu.Lock()
	c.toInsert = append(c.toInsert, *vehicle)
	c.mu.Unlock()
	return nil
}

// allowNextPage 检查翻页配额。
func (c *Crawler) allowNextPage() bool {
	if c.opts.MaxPages <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pagesSeen >= c.opts.MaxPages {
		return false
	}
	c.pagesSeen++
	return true
}

// acquire 等待全局限流令牌。
func (c *Crawler) acquire(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Acquire(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return nil
}

// flush 把本轮累计的新增和更新写入数据库。
func (c *Crawler) flush(ctx context.Context) error {
	c.mu.Lock()
	toInsert := c.toInsert
	toUpdate := c.toUpdate
	c.toInsert = nil
	c.toUpdate = nil
	c.mu.Unlock()

	if len(toInsert) > 0 {
		if err := c.store.InsertVehicles(ctx, toInsert); err != nil {
			return fmt.Errorf("insert vehicles: %w", err)
		}
		metrics.ListingsInsertedTotal.WithLabelValues(c.adapter.Name()).Add(float64(len(toInsert)))
	}
	if len(toUpdate) > 0 {
		if err := c.store.UpdateVehicles(ctx, toUpdate); err != nil {
			return fmt.Errorf("update vehicles: %w", err)
		}
		metrics.ListingsUpdatedTotal.WithLabelValues(c.adapter.Name()).Add(float64(len(toUpdate)))
	}

	c.logger.Info("flushed crawl results",
		slog.Int("inserted", len(toInsert)),
		slog.Int("updated", len(toUpdate)))
	return nil
}

// needsRegistryLookup 判断一辆车是否有条件做登记系统补全。
//
// 需要候选车牌，且有 VIN 或格式正确的申报单代码。
func needsRegistryLookup(vehicle *model.Vehicle) bool {
	var plateList []string
	if len(vehicle.Plates) > 0 {
		_ = json.Unmarshal(vehicle.Plates, &plateList)
	}
	if len(plateList) == 0 {
		return false
	}
	if registry.IsValidVIN(vehicle.VIN) {
		return true
	}
	return registry.IsValidSDK(vehicle.SDK)
}

// fetchListingViaBrowser 用浏览器打开并解析一个列表页。
func (c *Crawler) fetchListingViaBrowser(ctx context.Context, pageURL string) (*model.ListingPage, error) {
	page, err := newStealthPage(ctx, c.browser, c.opts.PageTimeout, c.adapter.Cookies(), c.logger)
	if err != nil {
		return nil, err
	}
	metrics.ActiveBrowserPages.Inc()
	defer func() {
		metrics.ActiveBrowserPages.Dec()
		_ = page.Close()
	}()

	if err := page.Navigate(pageURL); err != nil {
		return nil, fmt.Errorf("navigate listing: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		c.logger.Warn("listing wait load failed, continuing", slog.String("error", err.Error()))
	}
	return c.adapter.ParseListingPage(page, pageURL)
}

// fetchDetailViaBrowser 用浏览器抓取一条广告详情（导航由适配器负责）。
func (c *Crawler) fetchDetailViaBrowser(ctx context.Context, listing model.ListingSummary) (*model.Vehicle, error) {
	page, err := newStealthPage(ctx, c.browser, c.opts.PageTimeout, c.adapter.Cookies(), c.logger)
	if err != nil {
		return nil, err
	}
	metrics.ActiveBrowserPages.Inc()
	defer func() {
		metrics.ActiveBrowserPages.Dec()
		_ = page.Close()
	}()

	return c.adapter.ScrapeDetails(ctx, page, listing)
}

// classifyCrawlError 返回用于 metrics 的错误类型字符串。
func classifyCrawlError(err error) string {
	if err == nil {
		return "unknown"
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return "timeout"
	case strings.Contains(msg, "rate limit"):
		return "rate_limit"
	case strings.Contains(msg, "navigate") || strings.Contains(msg, "connection") || strings.Contains(msg, "net::"):
		return "network_error"
	case strings.Contains(msg, "no listings") || strings.Contains(msg, "parse"):
		return "parse_error"
	default:
		return "unknown"
	}
}
