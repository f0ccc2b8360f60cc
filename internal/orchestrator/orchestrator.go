package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DevMantelis/autominus/internal/pkg/metrics"
	"github.com/DevMantelis/autominus/internal/pkg/notify"
)

// Runner 一个可重复执行的阶段性任务（来源爬虫或登记补全）。
type Runner interface {
	Name() string
	Run(ctx context.Context) error
}

// Orchestrator 调度一轮完整的采集：先并发跑完所有来源爬虫，再跑登记补全。
//
// 单个来源失败不影响其它来源，也不阻止补全阶段执行——
// 补全处理的是库里所有待查车辆，和本轮哪个来源成功无关。
type Orchestrator struct {
	crawlers []Runner
	enricher Runner
	logger   *slog.Logger
	notifier notify.Notifier
}

// New 创建调度器。enricher 可为 nil（未配置登记系统时）。
func New(crawlers []Runner, enricher Runner, logger *slog.Logger, notifier notify.Notifier) *Orchestrator {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Orchestrator{
		crawlers: crawlers,
		enricher: enricher,
		logger:   logger,
		notifier: notifier,
	}
}

// RunRound 执行一轮采集。
//
// 返回 error 仅在 context 取消时；阶段内的失败走日志和通知渠道。
func (o *Orchestrator) RunRound(ctx context.Context) error {
	start := time.Now()
	o.logger.Info("round started", slog.Int("sources", len(o.crawlers)))

	var wg sync.WaitGroup
	for _, c := range o.crawlers {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			crawlStart := time.Now()
			if err := c.Run(ctx); err != nil {
				metrics.RoundPhaseTotal.WithLabelValues("crawl", "error").Inc()
				o.logger.Error("source crawl failed",
					slog.String("source", c.Name()),
					slog.Any("error", err))
				o.notifier.Error(ctx, fmt.Sprintf("%s crawl round failed", c.Name()), err)
				return
			}
			metrics.RoundPhaseTotal.WithLabelValues("crawl", "success").Inc()
			o.logger.Info("source crawl finished",
				slog.String("source", c.Name()),
				slog.Duration("took", time.Since(crawlStart)))
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("round cancelled after crawl phase: %w", err)
	}

	if o.enricher != nil {
		if err := o.enricher.Run(ctx); err != nil {
			metrics.RoundPhaseTotal.WithLabelValues("enrich", "error").Inc()
			o.logger.Error("enrichment failed", slog.Any("error", err))
			o.notifier.Error(ctx, "registry enrichment round failed", err)
		} else {
			metrics.RoundPhaseTotal.WithLabelValues("enrich", "success").Inc()
		}
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("round cancelled: %w", err)
	}

	metrics.RoundDuration.Observe(time.Since(start).Seconds())
	o.logger.Info("round finished", slog.Duration("took", time.Since(start)))
	return nil
}

// RunLoop 按固定间隔循环执行采集轮次，直到 context 取消。
//
// interval 是轮次开始之间的间隔；一轮跑得比间隔长时下一轮立即开始。
func (o *Orchestrator) RunLoop(ctx context.Context, interval time.Duration) error {
	for {
		roundStart := time.Now()
		if err := o.RunRound(ctx); err != nil {
			return err
		}

		wait := interval - time.Since(roundStart)
		if wait <= 0 {
			o.logger.Warn("round overran schedule interval, starting next immediately",
				slog.Duration("interval", interval))
			continue
		}

		o.logger.Info("waiting for next round", slog.Duration("wait", wait))
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
