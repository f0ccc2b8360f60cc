package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/DevMantelis/autominus/internal/model"
	"github.com/DevMantelis/autominus/internal/pkg/metrics"
	"github.com/DevMantelis/autominus/internal/pkg/notify"
	"github.com/DevMantelis/autominus/internal/pkg/queue"
	"github.com/DevMantelis/autominus/internal/store"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

const (
	formSettleDelay  = 1 * time.Second        // 导航后等待表单初始化
	fieldDelay       = 500 * time.Millisecond // 填写动作之间的间隔（模拟人工节奏）
	tableWaitTimeout = 5 * time.Second        // 等待结果表出现的上限
)

// 结果表中的立陶宛语标签和取值。
const (
	labelTrafficParticipation = "Dalyvavimas viešajame eisme"
	labelInsurance            = "Draudimas"
	labelWanted               = "Transporto priemonė"
	labelInspectionUntil      = "Techninės apžiūros galiojimo pabaigos data"

	valueAllowed   = "Leidžiamas"
	valueValid     = "Galioja"
	valueNotWanted = "Neieškoma"
)

// SearchFunc 在已打开的查询页上执行一次 VIN + 车牌查询。
type SearchFunc func(ctx context.Context, page *rod.Page, vin, plate string) (*model.RegistryInfo, error)

// Enricher 用国家登记系统补全车辆状态。
//
// 每辆车只导航一次查询页，然后逐个车牌重填表单提交，
// 第一个返回有效结果的车牌视为命中；没有 VIN 的车先按申报单代码反查。
type Enricher struct {
	store       store.Store
	resolver    *VINResolver
	browser     *rod.Browser
	lookupURL   string
	pageTimeout time.Duration
	concurrency int
	logger      *slog.Logger
	notifier    notify.Notifier

	// 可注入的页面与查询实现，默认走浏览器表单
	openPortal func(ctx context.Context) (*rod.Page, error)
	search     SearchFunc
}

// NewEnricher 创建登记信息补全器。
func NewEnricher(st store.Store, resolver *VINResolver, browser *rod.Browser, lookupURL string, pageTimeout time.Duration, concurrency int, logger *slog.Logger, notifier notify.Notifier) *Enricher {
	if concurrency <= 0 {
		concurrency = 3
	}
	if pageTimeout <= 0 {
		pageTimeout = 60 * time.Second
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	e := &Enricher{
		store:       st,
		resolver:    resolver,
		browser:     browser,
		lookupURL:   lookupURL,
		pageTimeout: pageTimeout,
		concurrency: concurrency,
		logger:      logger.With(slog.String("component", "registry")),
		notifier:    notifier,
	}
	e.openPortal = e.openPortalPage
	e.search = e.searchViaPortal
	return e
}

// Name 阶段名（调度日志用）。
func (e *Enricher) Name() string {
	return "registry"
}

// Run 对所有待补全车辆执行一轮查询。
func (e *Enricher) Run(ctx context.Context) error {
	vehicles, err := e.store.VehiclesNeedingLookup(ctx, 0)
	if err != nil {
		return fmt.Errorf("load vehicles for lookup: %w", err)
	}
	if len(vehicles) == 0 {
		e.logger.Info("no vehicles need registry lookup")
		return nil
	}
	e.logger.Info("starting registry lookups", slog.Int("vehicles", len(vehicles)))

	q := queue.New(e.logger, e.concurrency)
	q.SetErrorHandler(func(jobErr error, _ queue.Job) {
		e.notifier.Error(ctx, "registry lookup failed", jobErr)
	})
	q.Start(ctx)
	defer q.Shutdown()

	for _, vehicle := range vehicles {
		vehicle := vehicle
		q.Submit(func(jobCtx context.Context) error {
			return e.enrichOne(jobCtx, vehicle)
		})
	}
	return q.WaitIdle(ctx)
}

// enrichOne 补全单辆车的登记信息。
func (e *Enricher) enrichOne(ctx context.Context, vehicle model.Vehicle) error {
	var plateList []string
	if len(vehicle.Plates) > 0 {
		if err := json.Unmarshal(vehicle.Plates, &plateList); err != nil {
			e.logger.Warn("malformed plates json",
				slog.Uint64("vehicle_id", uint64(vehicle.ID)),
				slog.String("error", err.Error()))
		}
	}

	vin := vehicle.VIN
	if vin == "" && vehicle.SDK != "" && e.resolver != nil {
		resolved, sdkValid := e.resolver.Resolve(ctx, vehicle.SDK)
		if !sdkValid {
			// 申报单代码无效是终态，不必每轮重查
			e.logger.Info("sdk rejected by registry",
				slog.Uint64("vehicle_id", uint64(vehicle.ID)),
				slog.String("sdk", vehicle.SDK))
			return e.store.ClearLookupFlag(ctx, vehicle.ID)
		}
		if resolved != "" {
			vin = resolved
			if err := e.store.SetVIN(ctx, vehicle.ID, resolved); err != nil {
				return err
			}
			e.logger.Info("vin resolved from declaration code",
				slog.Uint64("vehicle_id", uint64(vehicle.ID)))
		}
	}

	if len(plateList) == 0 || (vin == "" && vehicle.SDK == "") {
		// 没有可用的查询键，永远补不全
		return e.store.ClearLookupFlag(ctx, vehicle.ID)
	}
	if vin == "" {
		// 本轮没拿到 VIN，保留标记等下一轮
		e.logger.Debug("vin still unknown, will retry next round",
			slog.Uint64("vehicle_id", uint64(vehicle.ID)))
		return nil
	}

	// 查询页整车只打开一次，逐个车牌重填表单。
	// 查询过程中的任何异常都降级为"本车无数据"：上报错误、清掉标记，
	// 不影响其它车辆的补全。
	page, err := e.openPortal(ctx)
	if err != nil {
		metrics.RegistryLookupsTotal.WithLabelValues("error").Inc()
		_ = e.store.ClearLookupFlag(ctx, vehicle.ID)
		return fmt.Errorf("open registry portal for %d (vin %s, plates %v): %w", vehicle.ID, vin, plateList, err)
	}
	if page != nil {
		defer func() { _ = page.Close() }()
	}

	for _, plate := range plateList {
		info, err := e.search(ctx, page, vin, plate)
		if err != nil {
			metrics.RegistryLookupsTotal.WithLabelValues("error").Inc()
			_ = e.store.ClearLookupFlag(ctx, vehicle.ID)
			return fmt.Errorf("registry lookup %d (vin %s, plate %s): %w", vehicle.ID, vin, plate, err)
		}
		if info.HasData() {
			info.MatchedPlate = plate
			metrics.RegistryLookupsTotal.WithLabelValues("matched").Inc()
			e.logger.Info("registry lookup matched",
				slog.Uint64("vehicle_id", uint64(vehicle.ID)),
				slog.String("plate", plate))
			return e.store.ApplyRegistryInfo(ctx, vehicle.ID, info)
		}
	}

	// 所有候选车牌都没有结果
	metrics.RegistryLookupsTotal.WithLabelValues("no_match").Inc()
	return e.store.ClearLookupFlag(ctx, vehicle.ID)
}

// openPortalPage 打开并初始化公开查询表单页。
func (e *Enricher) openPortalPage(ctx context.Context) (*rod.Page, error) {
	page, err := e.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("create lookup page: %w", err)
	}
	page = page.Context(ctx).Timeout(e.pageTimeout)

	if err := page.Navigate(e.lookupURL); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("navigate lookup form: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		e.logger.Debug("lookup form wait load failed", slog.String("error", err.Error()))
	}
	if !pause(ctx, formSettleDelay) {
		_ = page.Close()
		return nil, ctx.Err()
	}
	return page, nil
}

// searchViaPortal 在已打开的查询表单上执行一次 VIN + 车牌查询。
func (e *Enricher) searchViaPortal(ctx context.Context, page *rod.Page, vin, plate string) (*model.RegistryInfo, error) {
	if err := e.fillField(ctx, page, "input#vin", vin); err != nil {
		return nil, err
	}
	if err := e.fillField(ctx, page, "input#plateNo", plate); err != nil {
		return nil, err
	}
	if err := e.checkAllBoxes(ctx, page); err != nil {
		return nil, err
	}

	// 提交按钮在页面底部，滚到底再点
	if has, footer, footerErr := page.Has("footer"); footerErr == nil && has {
		if err := footer.ScrollIntoView(); err != nil {
			e.logger.Debug("scroll to footer failed", slog.String("error", err.Error()))
		}
	}
	if !pause(ctx, fieldDelay) {
		return nil, ctx.Err()
	}

	button, err := page.ElementR("button", "^Ieškoti$")
	if err != nil {
		return nil, fmt.Errorf("find search button: %w", err)
	}
	if err := button.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return nil, fmt.Errorf("click search button: %w", err)
	}

	// 结果表不出现视为该车牌无结果，不算错误
	rowSelector := ".MuiTableRow-root:has(td):has(th)"
	if _, err := page.Timeout(tableWaitTimeout).Element(rowSelector); err != nil {
		return &model.RegistryInfo{}, nil
	}

	rows, err := page.Elements(rowSelector)
	if err != nil {
		return nil, fmt.Errorf("read result rows: %w", err)
	}
	return parseResultRows(rows), nil
}

// fillField 清空并填写输入框。
func (e *Enricher) fillField(ctx context.Context, page *rod.Page, selector, value string) error {
	el, err := page.Element(selector)
	if err != nil {
		return fmt.Errorf("find %s: %w", selector, err)
	}
	if err := el.SelectAllText(); err != nil {
		e.logger.Debug("select all failed", slog.String("selector", selector))
	}
	if err := el.Input(value); err != nil {
		return fmt.Errorf("fill %s: %w", selector, err)
	}
	if !pause(ctx, fieldDelay) {
		return ctx.Err()
	}
	return nil
}

// checkAllBoxes 勾选表单中的所有复选框（查询范围选项）。
func (e *Enricher) checkAllBoxes(ctx context.Context, page *rod.Page) error {
	boxes, err := page.Elements(`input[type="checkbox"]`)
	if err != nil {
		return fmt.Errorf("find checkboxes: %w", err)
	}
	for _, box := range boxes {
		checked, propErr := box.Property("checked")
		if propErr == nil && checked.Bool() {
			continue
		}
		if err := box.Click(proto.InputMouseButtonLeft, 1); err != nil {
			e.logger.Debug("check box failed", slog.String("error", err.Error()))
			continue
		}
		if !pause(ctx, fieldDelay) {
			return ctx.Err()
		}
	}
	return nil
}

// parseResultRows 把结果表的行解析为登记信息。
func parseResultRows(rows rod.Elements) *model.RegistryInfo {
	info := &model.RegistryInfo{}
	for _, row := range rows {
		label := rowCellText(row, "th")
		value := rowCellText(row, "td")
		if label == "" || value == "" {
			continue
		}

		switch {
		case strings.EqualFold(label, labelTrafficParticipation):
			info.AllowedToDrive = boolPtr(strings.EqualFold(value, valueAllowed))
		case strings.EqualFold(label, labelInsurance):
			info.Insurance = boolPtr(strings.EqualFold(value, valueValid))
		case strings.EqualFold(label, labelWanted):
			info.WantedByPolice = boolPtr(!strings.EqualFold(value, valueNotWanted))
		case strings.EqualFold(label, labelInspectionUntil):
			fields := strings.Split(value, "-")
			if len(fields) > 0 {
				info.TechnicalInspectionYear = atoiSafe(fields[0])
			}
			if len(fields) > 1 {
				info.TechnicalInspectionMonth = atoiSafe(fields[1])
			}
			if len(fields) > 2 {
				info.TechnicalInspectionDay = atoiSafe(fields[2])
			}
		}
	}
	return info
}

func rowCellText(row *rod.Element, selector string) string {
	has, cell, err := row.Has(selector)
	if err != nil || !has {
		return ""
	}
	txt, err := cell.Text()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(strings.Join(strings.Fields(txt), " "))
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range strings.TrimSpace(s) {
		if r < '0' || r > '9' {
			return n
		}
		n = n*10 + int(r-'0')
	}
	return n
}

func boolPtr(b bool) *bool {
	return &b
}

// pause 可取消的等待，被取消时返回 false。
func pause(ctx context.Context, d time.Duration) bool {
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
