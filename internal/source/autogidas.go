package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/DevMantelis/autominus/internal/model"
	"github.com/DevMantelis/autominus/internal/pkg/plates"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"gorm.io/datatypes"
)

const (
	autogidasBaseURL    = "https://autogidas.lt/skelbimai/automobiliai/"
	autogidasListingURL = "https://autogidas.lt/skelbimas"
)

// autogidasQuery 固定搜索条件（价格上限、车辆类别）。
var autogidasQuery = url.Values{
	"f_216": {"2000"},
	"f_60":  {"729"},
}

// 图库脚本里的 gallery.addImage('URL', 'image', ...) 调用。
var autogidasGalleryRe = regexp.MustCompile(`gallery\.addImage\(\s*'([^']+)'\s*,\s*'image'\s*,`)

// Autogidas autogidas.lt 的抓取适配器。
type Autogidas struct {
	logger     *slog.Logger
	recognizer plates.Recognizer
}

// NewAutogidas 创建 autogidas.lt 适配器。
func NewAutogidas(logger *slog.Logger, recognizer plates.Recognizer) *Autogidas {
	return &Autogidas{
		logger:     logger.With(slog.String("source", "autogidas")),
		recognizer: recognizer,
	}
}

func (a *Autogidas) Name() string { return "autogidas" }

func (a *Autogidas) Host() string { return "autogidas.lt" }

func (a *Autogidas) Seeds() []string {
	return []string{autogidasBaseURL + "?" + autogidasQuery.Encode()}
}

func (a *Autogidas) Cookies() []*proto.NetworkCookieParam {
	return nil
}

func (a *Autogidas) MaxConcurrency() int { return 0 }

// autogidas 参数表中的立陶宛语标签。
const (
	agLabelInspection    = "TA iki"
	agLabelDriveWheels   = "Varantieji ratai"
	agLabelDefects       = "Defektai"
	agLabelBodyType      = "Kėbulo tipas"
	agLabelColor         = "Spalva"
	agLabelDoors         = "Durų skaičius"
	agLabelGearbox       = "Pavarų skaičius"
	agLabelSeats         = "Sėdimų vietų skaičius"
	agLabelSDK           = "Savininko deklaravimo kodas"
	agLabelVIN           = "VIN kodas"
	agLabelEuroStandard  = "Euro standartas"
	agLabelWheelDiameter = "Ratlankiai"
	agLabelCO2           = "CO2 emisija, g/km"
)

// ParseListingPage 解析列表页。
func (a *Autogidas) ParseListingPage(page *rod.Page, currentURL string) (*model.ListingPage, error) {
	elements, err := page.Elements("div.ads-container > article.list-item-new > div.article-item > a.item-link")
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

		price := numberOf(el, ".item-price")
		if price == 0 {
			a.logger.Debug("skip listing without price", slog.String("url", href))
			continue
		}

		title := textOf(el, ".item-title")
		if title == "" {
			a.logger.Debug("skip listing without title", slog.String("url", href))
			continue
		}

		status := model.StatusActive
		if hasNode(el, "div.sold-item") {
			status = model.StatusSold
		}

		result.Listings = append(result.Listings, model.ListingSummary{
			ExternalID: id,
			URL:        resolveURL(href, autogidasListingURL),
			Price:      price,
			Title:      title,
			Status:     status,
		})
	}

	if next := attrOf(page, ".page.page-next", "href"); next != "" {
		result.NextURL = resolveURL(next, currentURL)
	}
	return result, nil
}

// ScrapeDetails 抓取详情页。
func (a *Autogidas) ScrapeDetails(ctx context.Context, page *rod.Page, listing model.ListingSummary) (*model.Vehicle, error) {
	a.logger.Info("scraping listing", slog.String("url", listing.URL))

	if err := page.Context(ctx).Navigate(listing.URL); err != nil {
		return nil, fmt.Errorf("navigate detail: %w", err)
	}
	if err := page.Context(ctx).WaitLoad(); err != nil {
		a.logger.Warn("wait load failed, continuing", slog.String("error", err.Error()))
	}

	location := textOf(page, ".sticky-location")
	if location == "" {
		location = textOf(page, ".user-location")
	}

	vehicle := &model.Vehicle{
		Source:      a.Name(),
		ExternalID:  listing.ExternalID,
		URL:         listing.URL,
		Price:       listing.Price,
		Title:       listing.Title,
		Status:      listing.Status,
		Description: textOf(page, ".view-description > .view-section-content .show-more-content"),
		Number:      textOf(page, `[onclick*="captureAdPhone"][data-copy]:not([class*=rel])`),
		Location:    location,
		Mileage:     numberOf(page, ".view-main-info > .params > .param-mileage > div > b"),
		FuelType:    textOf(page, ".view-main-info > .params > .param-fuel-type > div > b"),
		Gearbox:     textOf(page, ".view-main-info > .params > .param-gearbox > div > b"),
		Engine:      textOf(page, ".view-main-info > .params > .param-engine > div > b"),
	}
	if year := textOf(page, ".view-main-info > .params > .param-year > div > b"); year != "" {
		y, _, _ := parseDateParts(year)
		vehicle.FirstRegistrationYear = y
	}

	params, err := page.Elements(".view-section > .list-striped > .list-striped-item")
	if err != nil {
		return nil, fmt.Errorf("parameter rows: %w", err)
	}
	for _, param := range params {
		label := textOf(param, ".list-striped-item-title")
		value := textOf(param, ".list-striped-item-value")
		if label == "" || value == "" {
			continue
		}

		switch label {
		case agLabelInspection:
			vehicle.TechnicalInspectionYear, vehicle.TechnicalInspectionMonth, vehicle.TechnicalInspectionDay = parseDateParts(value)
		case agLabelDriveWheels:
			vehicle.DriveWheels = value
		case agLabelDefects:
			vehicle.Defects = value
		case agLabelBodyType:
			vehicle.BodyType = value
		case agLabelColor:
			vehicle.Color = value
		case agLabelDoors:
			vehicle.Doors = value
		case agLabelGearbox:
			vehicle.Gearbox = value
		case agLabelSeats:
			vehicle.Seats = NormalizeNumber(value)
		case agLabelSDK:
			if len(value) == 8 && !strings.Contains(strings.ToLower(value), "kodas") {
				vehicle.SDK = value
			}
		case agLabelVIN:
			// 站点的 VIN 展示需要点击触发且经常被风控，留给登记系统反查
		case agLabelEuroStandard:
			vehicle.EuroStandard = value
		case agLabelWheelDiameter:
			vehicle.WheelDiameter = value
		case agLabelCO2:
			vehicle.CO2Emission = NormalizeNumber(value)
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

	a.logger.Info("listing processed", slog.String("url", listing.URL), slog.Int("images", len(images)))
	return vehicle, nil
}

// collectImages 从内联图库脚本中抓取图片地址。
//
// autogidas 不在 DOM 里放原图，全部通过 gallery.addImage 注入。
func (a *Autogidas) collectImages(page *rod.Page) []string {
	scripts, err := page.Elements("script[type='text/javascript']:not([src])")
	if err != nil {
		return nil
	}

	var images []string
	for _, script := range scripts {
		content, textErr := script.Text()
		if textErr != nil || content == "" {
			continue
		}
		for _, match := range autogidasGalleryRe.FindAllStringSubmatch(content, -1) {
			if len(match) > 1 && match[1] != "" {
				images = append(images, match[1])
			}
		}
	}
	return images
}
