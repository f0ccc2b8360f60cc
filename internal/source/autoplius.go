package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/DevMantelis/autominus/internal/model"
	"github.com/DevMantelis/autominus/internal/pkg/plates"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"gorm.io/datatypes"
)

const autopliusBaseURL = "https://autoplius.lt/skelbimai/naudoti-automobiliai"

// autopliusQuery 固定搜索条件：二手车、价格上限、按时间倒序。
var autopliusQuery = url.Values{
	"category_id":     {"2"},
	"older_not":       {"1"},
	"sell_price_to":   {"2000"},
	"slist":           {"2696778400"},
	"order_by":        {"3"},
	"order_direction": {"DESC"},
}

// Autoplius autoplius.lt 的抓取适配器。
type Autoplius struct {
	logger     *slog.Logger
	recognizer plates.Recognizer
}

// NewAutoplius 创建 autoplius.lt 适配器。
func NewAutoplius(logger *slog.Logger, recognizer plates.Recognizer) *Autoplius {
	return &Autoplius{
		logger:     logger.With(slog.String("source", "autoplius")),
		recognizer: recognizer,
	}
}

func (a *Autoplius) Name() string { return "autoplius" }

func (a *Autoplius) Host() string { return "autoplius.lt" }

func (a *Autoplius) Seeds() []string {
	return []string{autopliusBaseURL + "?" + autopliusQuery.Encode()}
}

func (a *Autoplius) Cookies() []*proto.NetworkCookieParam {
	// 预置同意类 Cookie，避开首屏的隐私弹窗
	return []*proto.NetworkCookieParam{
		{Domain: ".autoplius.lt", Path: "/", Name: "receive-cookie-deprecation", Value: "1"},
		{Domain: ".autoplius.lt", Path: "/", Name: "ap_messenger_push", Value: "1"},
		{Domain: "autoplius.lt", Path: "/", Name: "wide-window", Value: "0"},
	}
}

func (a *Autoplius) MaxConcurrency() int { return 0 }

// autoplius 参数表中的立陶宛语标签。
const (
	apLabelFirstRegistration = "Pirma registracija"
	apLabelMileage           = "Rida"
	apLabelEngine            = "Variklis"
	apLabelDriveWheels       = "Varantieji ratai"
	apLabelFuelType          = "Kuro tipas"
	apLabelBodyType          = "Kėbulo tipas"
	apLabelDoors             = "Durų skaičius"
	apLabelGearbox           = "Pavarų dėžė"
	apLabelColor             = "Spalva"
	apLabelMass              = "Nuosava masė, kg"
	apLabelSeats             = "Sėdimų vietų skaičius"
	apLabelDefects           = "Defektai"
	apLabelInspection        = "Tech. apžiūra iki"
	apLabelCO2               = "CO₂ emisija, g/km"
	apLabelEmissionTax       = "Taršos mokestis"
	apLabelEuroStandard      = "Euro standartas"
	apLabelWheelDiameter     = "Ratlankių skersmuo"
	apLabelClimateControl    = "Klimato valdymas"
	apLabelVIN               = "Kėbulo numeris (VIN)"
	apLabelSDK               = "SDK"
)

// ParseListingPage 解析列表页。
//
// 拍卖广告、无价格或无标题的广告直接跳过。
func (a *Autoplius) ParseListingPage(page *rod.Page, currentURL string) (*model.ListingPage, error) {
	elements, err := page.Elements(".auto-lists > .announcement-item")
	if err != nil {
		return nil, fmt.Errorf("list elements: %w", err)
	}
	a.logger.Info("found listings", slog.String("url", currentURL), slog.Int("count", len(elements)))

	result := &model.ListingPage{}
	for _, el := range elements {
		href := selfAttr(el, "href")
		id := externalIDFromURL(href)
		if href == "" || id == "" {
			continue
		}

		if txt, textErr := el.Text(); textErr == nil && strings.Contains(txt, "Aukcionas") {
			a.logger.Debug("skip auction listing", slog.String("url", href))
			continue
		}

		price := a.listingPrice(el)
		if price == 0 {
			a.logger.Debug("skip listing without price", slog.String("url", href))
			continue
		}

		title := textOf(el, ".announcement-title")
		if title == "" {
			a.logger.Debug("skip listing without title", slog.String("url", href))
			continue
		}

		status := model.StatusActive
		if hasNode(el, "div.badge-sold") {
			status = model.StatusSold
		} else if hasNode(el, "div.badge-reservation") {
			status = model.StatusReserved
		}

		result.Listings = append(result.Listings, model.ListingSummary{
			ExternalID: id,
			URL:        resolveURL(href, currentURL),
			Price:      price,
			PriceOld:   numberOf(el, ".pricing-container span.strike"),
			Title:      title,
			Status:     status,
		})
	}

	if next := attrOf(page, "a.next[href]", "href"); next != "" {
		result.NextURL = resolveURL(next, currentURL)
	}
	return result, nil
}

// listingPrice 按优先级尝试三种价格展示形式。
func (a *Autoplius) listingPrice(el *rod.Element) int {
	if price := numberOf(el, ".pricing-container .announcement-pricing-info > strong"); price > 0 {
		return price
	}
	if price := numberOf(el, ".pricing-container strong.price-changed-down"); price > 0 {
		return price
	}
	return numberOf(el, ".pricing-info span.promo-price")
}

// ScrapeDetails 抓取详情页。
func (a *Autoplius) ScrapeDetails(ctx context.Context, page *rod.Page, listing model.ListingSummary) (*model.Vehicle, error) {
	a.logger.Info("scraping listing", slog.String("url", listing.URL))

	if err := page.Context(ctx).Navigate(listing.URL); err != nil {
		return nil, fmt.Errorf("navigate detail: %w", err)
	}
	if err := page.Context(ctx).WaitLoad(); err != nil {
		a.logger.Warn("wait load failed, continuing", slog.String("error", err.Error()))
	}

	vehicle := &model.Vehicle{
		Source:      a.Name(),
		ExternalID:  listing.ExternalID,
		URL:         listing.URL,
		Price:       listing.Price,
		PriceOld:    listing.PriceOld,
		Title:       listing.Title,
		Status:      listing.Status,
		Description: textOf(page, ".announcement-description"),
		Number:      textOf(page, ".seller-phone-number"),
		Location:    textOf(page, ".owner-location"),
	}

	var vinDeepLink string
	params, err := page.Elements("div:not([class]) > .parameter-row")
	if err != nil {
		return nil, fmt.Errorf("parameter rows: %w", err)
	}
	for _, param := range params {
		label := textOf(param, "div.parameter-label")
		value := textOf(param, "div.parameter-value")
		if label == "" || value == "" {
			continue
		}

		switch label {
		case apLabelFirstRegistration:
			year, _, _ := parseDateParts(value)
			vehicle.FirstRegistrationYear = year
		case apLabelMileage:
			vehicle.Mileage = NormalizeNumber(value)
		case apLabelEngine:
			vehicle.Engine = value
		case apLabelDriveWheels:
			vehicle.DriveWheels = value
		case apLabelFuelType:
			vehicle.FuelType = value
		case apLabelBodyType:
			vehicle.BodyType = value
		case apLabelDoors:
			vehicle.Doors = value
		case apLabelGearbox:
			vehicle.Gearbox = value
		case apLabelColor:
			vehicle.Color = value
		case apLabelMass:
			vehicle.Mass = NormalizeNumber(value)
		case apLabelSeats:
			vehicle.Seats = NormalizeNumber(value)
		case apLabelDefects:
			vehicle.Defects = value
		case apLabelInspection:
			vehicle.TechnicalInspectionYear, vehicle.TechnicalInspectionMonth, vehicle.TechnicalInspectionDay = parseDateParts(value)
		case apLabelCO2:
			vehicle.CO2Emission = NormalizeNumber(value)
		case apLabelEmissionTax:
			vehicle.EmissionTax = value
		case apLabelEuroStandard:
			vehicle.EuroStandard = value
		case apLabelWheelDiameter:
			vehicle.WheelDiameter = value
		case apLabelClimateControl:
			vehicle.ClimateControl = value
		case apLabelVIN:
			vinDeepLink = attrOf(page, "a[href*='autoistorija.lt/summary']", "href")
		case apLabelSDK:
			vehicle.SDK = a.sdkFromMeta(page)
		default:
			a.logger.Debug("unknown parameter", slog.String("label", label))
		}
	}

	images := a.collectImages(page)
	if data, marshalErr := json.Marshal(images); marshalErr == nil {
		vehicle.Images = datatypes.JSON(data)
	}

	if a.recognizer != nil && len(images) > 0 {
		if found := a.recognizer.RecognizePlates(ctx, images); len(found) > 0 {
			if data, marshalErr := json.Marshal(found); marshalErr == nil {
				vehicle.Plates = datatypes.JSON(data)
			}
		}
	}

	if vinDeepLink != "" {
		vehicle.VIN = a.vinFromHistoryPage(ctx, page, vinDeepLink)
	}

	a.logger.Info("listing processed", slog.String("url", listing.URL), slog.Int("images", len(images)))
	return vehicle, nil
}

// sdkFromMeta 从 meta keywords 中提取申报单代码。
//
// SDK 不在参数表里明文展示，但站点会把它塞进 keywords。
func (a *Autoplius) sdkFromMeta(page *rod.Page) string {
	content := attrOf(page, `meta[name="keywords"]`, "content")
	if content == "" {
		return ""
	}
	for _, keyword := range strings.Split(content, ",") {
		if !strings.Contains(keyword, "SDK") {
			continue
		}
		candidate := NormalizeText(strings.ReplaceAll(keyword, "SDK", ""))
		if len(candidate) == 8 && !strings.Contains(strings.ToLower(candidate), "kodas") {
			return candidate
		}
	}
	return ""
}

// collectImages 收集详情页图片地址并改写为高清版本。
func (a *Autoplius) collectImages(page *rod.Page) []string {
	thumbs, err := page.Elements(".media-gallery-thumbnails > .thumbnail > img[data-src]")
	if err != nil {
		return nil
	}

	var images []string
	for _, thumb := range thumbs {
		src := selfAttr(thumb, "data-src")
		if src == "" {
			continue
		}
		src = strings.Replace(src, "ann_4_", "ann_2_", 1)
		src = strings.Replace(src, "https://skelbiu-img.dgn.lt/1_19", "https://skelbiu-img.dgn.lt/1_18", 1)
		images = append(images, src)
	}
	return images
}

// vinFromHistoryPage 沿第三方车史站点的跳转链找出 17 位 VIN。
func (a *Autoplius) vinFromHistoryPage(ctx context.Context, page *rod.Page, deepLink string) string {
	navigate := func(target string) bool {
		if err := page.Context(ctx).Navigate(target); err != nil {
			a.logger.Warn("vin chain navigate failed", slog.String("url", target), slog.String("error", err.Error()))
			return false
		}
		if err := page.Context(ctx).WaitLoad(); err != nil {
			a.logger.Debug("vin chain wait load failed", slog.String("error", err.Error()))
		}
		return true
	}

	if !navigate(deepLink) {
		return ""
	}
	next := attrOf(page, "a.buy-button", "href")
	if next == "" {
		return ""
	}

	if !navigate(next) {
		return ""
	}
	next = attrOf(page, ".js-packet.packet", "data-url")
	if next == "" {
		return ""
	}

	if !navigate(next) {
		return ""
	}
	details, err := page.Elements("div.payment-header-details")
	if err != nil {
		return ""
	}
	for _, detail := range details {
		txt, textErr := detail.Text()
		if textErr != nil {
			continue
		}
		if candidate := NormalizeText(txt); len(candidate) == 17 {
			return candidate
		}
	}
	return ""
}
