package source

import (
	"context"
	"log/slog"

	"github.com/DevMantelis/autominus/internal/model"
	"github.com/DevMantelis/autominus/internal/pkg/plates"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Adapter 定义一个广告来源站点的抓取适配器。
//
// 适配器只负责站点相关的逻辑（种子地址、选择器、参数表解析），
// 浏览器管理、并发调度和对账由上层完成。
type Adapter interface {
	// Name 来源站点名（写入 Vehicle.Source）。
	Name() string
	// Host 站点主机名（用于日志和请求过滤）。
	Host() string
	// Seeds 抓取入口地址列表。
	Seeds() []string
	// Cookies 导航前注入的 Cookie（同意横幅等）。
	Cookies() []*proto.NetworkCookieParam
	// MaxConcurrency 站点自身的并发上限，0 表示不限制（用全局配置）。
	MaxConcurrency() int
	// ParseListingPage 解析当前列表页，返回广告摘要和下一页地址。
	ParseListingPage(page *rod.Page, currentURL string) (*model.ListingPage, error)
	// ScrapeDetails 打开详情页并抓取完整车辆信息。
	ScrapeDetails(ctx context.Context, page *rod.Page, listing model.ListingSummary) (*model.Vehicle, error)
}

// Gather 返回启用的来源适配器。
//
// enabled 为空表示启用全部来源。
func Gather(logger *slog.Logger, recognizer plates.Recognizer, enabled []string) []Adapter {
	all := []Adapter{
		NewAutoplius(logger, recognizer),
		NewAutogidas(logger, recognizer),
	}
	if len(enabled) == 0 {
		return all
	}

	allow := make(map[string]bool, len(enabled))
	for _, name := range enabled {
		allow[name] = true
	}

	var out []Adapter
	for _, adapter := range all {
		if allow[adapter.Name()] {
			out = append(out, adapter)
		}
	}
	return out
}
