package model

import (
	"time"

	"gorm.io/datatypes"
)

// Vehicle 表示一条抓取到的车辆广告及其登记信息。
//
// Source + ExternalID 唯一标识一条广告，用于跨轮次去重和对账。
// 登记相关字段（Plates / AllowedToDrive / Insurance 等）由登记系统补全，
// 抓取阶段只填 NeedsRegistryLookup 标记。
type Vehicle struct {
	ID        uint      `gorm:"primaryKey"` // 内部 ID
	CreatedAt time.Time // 首次抓取时间
	UpdatedAt time.Time // 更新时间

	Source     string `gorm:"type:varchar(32);uniqueIndex:idx_source_external;not null"`  // 来源站点名
	ExternalID string `gorm:"type:varchar(191);uniqueIndex:idx_source_external;not null"` // 广告在来源站点的 ID
	URL        string `gorm:"type:varchar(512)"`                                          // 详情页链接
	Status     string `gorm:"type:varchar(16);default:active"`                            // 广告状态: active / removed

	Title       string // 广告标题
	Description string `gorm:"type:text"` // 广告描述
	Price       int    // 当前价格（欧元）
	PriceOld    int    // 上一次看到的价格（价格变动时保留）
	Location    string // 卖家所在地

	// 车辆参数（来自详情页的参数表，缺失为零值）
	Mileage               int    // 里程（公里）
	FirstRegistrationYear int    // 首次注册年份
	BodyType              string // 车身类型
	Engine                string // 发动机描述（排量/功率）
	FuelType              string // 燃料类型
	Gearbox               string // 变速箱
	DriveWheels           string // 驱动形式
	Doors                 string // 车门数
	Seats                 int    // 座位数
	Color                 string // 颜色
	Defects               string // 缺陷说明
	Mass                  int    // 整备质量（公斤）
	CO2Emission           int    // CO2 排放 (g/km)
	EmissionTax           string // 污染税
	EuroStandard          string // 欧标等级
	WheelDiameter         string // 轮毂直径
	ClimateControl        string // 空调类型
	Number                string // 卖家电话号码

	// 年检有效期（来自登记系统或详情页）
	TechnicalInspectionYear  int
	TechnicalInspectionMonth int
	TechnicalInspectionDay   int

	VIN string `gorm:"type:varchar(17);index"` // 车架号
	SDK string `gorm:"type:varchar(8)"`        // 申报单代码（用于 VIN 反查）

	Plates datatypes.JSON `gorm:"type:json"` // 候选车牌号列表（识别 + 广告展示）
	Images datatypes.JSON `gorm:"type:json"` // 图片链接列表

	// 登记系统补全的字段
	AllowedToDrive *bool `gorm:""` // 是否允许上路
	Insurance      *bool `gorm:""` // 保险是否有效
	WantedByPolice *bool `gorm:""` // 是否被警方通缉

	NeedsRegistryLookup bool `gorm:"default:false;index"` // 是否待登记系统补全
}

// TableName 指定表名。
func (Vehicle) TableName() string {
	return "vehicles"
}

// 广告状态。
const (
	StatusActive   = "active"
	StatusSold     = "sold"
	StatusReserved = "reserved"
)

// ListingSummary 列表页中一条广告的摘要。
type ListingSummary struct {
	ExternalID string // 广告在来源站点的 ID
	URL        string // 详情页链接
	Price      int    // 列表页展示的价格
	PriceOld   int    // 划线价（降价前的价格，可能为 0）
	Title      string // 列表页展示的标题
	Status     string // 广告状态: active / sold / reserved
}

// ListingPage 一次列表页解析的结果。
type ListingPage struct {
	Listings []ListingSummary // 本页广告摘要
	NextURL  string           // 下一页链接（空表示已到最后一页）
}

// RegistryInfo 登记系统查询到的车辆状态。
//
// 指针字段为 nil 表示结果表中没有对应的行，写库时跳过。
type RegistryInfo struct {
	MatchedPlate             string // 命中查询的车牌号
	AllowedToDrive           *bool  // 是否允许上路
	Insurance                *bool  // 保险是否有效
	WantedByPolice           *bool  // 是否被警方通缉
	TechnicalInspectionYear  int
	TechnicalInspectionMonth int
	TechnicalInspectionDay   int
}

// HasData 返回登记系统是否给出了任何有效字段。
func (r *RegistryInfo) HasData() bool {
	if r == nil {
		return false
	}
	return r.AllowedToDrive != nil || r.Insurance != nil || r.WantedByPolice != nil ||
		r.TechnicalInspectionYear > 0
}
