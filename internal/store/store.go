package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/DevMantelis/autominus/internal/model"

	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Store 定义车辆数据的持久化接口。
//
// 抓取、对账和登记补全都通过它访问数据库，测试时可以替换为内存实现。
type Store interface {
	// ExistingByExternalIDs 按来源和外部 ID 批量查询已存在的车辆，返回 externalID -> Vehicle。
	ExistingByExternalIDs(ctx context.Context, source string, externalIDs []string) (map[string]model.Vehicle, error)
	// InsertVehicles 批量插入新车辆（冲突时忽略，保证并发轮次下幂等）。
	InsertVehicles(ctx context.Context, vehicles []model.Vehicle) error
	// UpdateVehicles 批量更新已存在车辆的价格和状态。
	UpdateVehicles(ctx context.Context, vehicles []model.Vehicle) error
	// VehiclesNeedingLookup 查询待登记系统补全的车辆。
	VehiclesNeedingLookup(ctx context.Context, limit int) ([]model.Vehicle, error)
	// ApplyRegistryInfo 将登记系统查询结果写回车辆记录并清除待查标记。
	ApplyRegistryInfo(ctx context.Context, vehicleID uint, info *model.RegistryInfo) error
	// SetVIN 补写通过申报单代码反查到的 VIN。
	SetVIN(ctx context.Context, vehicleID uint, vin string) error
	// ClearLookupFlag 对无法补全的车辆清除待查标记，避免每轮重复查询。
	ClearLookupFlag(ctx context.Context, vehicleID uint) error
}

// MySQLStore 基于 gorm 的 MySQL 实现。
type MySQLStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open 连接 MySQL 并执行自动迁移。
func Open(dsn string, logger *slog.Logger) (*MySQLStore, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&model.Vehicle{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	logger.Info("mysql connected")
	return &MySQLStore{db: db, logger: logger}, nil
}

// NewWithDB 用已有的 gorm.DB 创建 Store（测试用）。
func NewWithDB(db *gorm.DB, logger *slog.Logger) *MySQLStore {
	return &MySQLStore{db: db, logger: logger}
}

const idBatchSize = 200

// ExistingByExternalIDs 按来源和外部 ID 批量查询已存在的车辆。
//
// ID 列表可能来自整轮抓取（数千条），按批分片查询避免超长 IN 子句。
func (s *MySQLStore) ExistingByExternalIDs(ctx context.Context, source string, externalIDs []string) (map[string]model.Vehicle, error) {
	result := make(map[string]model.Vehicle, len(externalIDs))
	for start := 0; start < len(externalIDs); start += idBatchSize {
		end := start + idBatchSize
		if end > len(externalIDs) {
			end = len(externalIDs)
		}

		var batch []model.Vehicle
		err := s.db.WithContext(ctx).
			Where("source = ? AND external_id IN ?", source, externalIDs[start:end]).
			Find(&batch).Error
		if err != nil {
			return nil, fmt.Errorf("query existing vehicles: %w", err)
		}
		for _, v := range batch {
			result[v.ExternalID] = v
		}
	}
	return result, nil
}

// InsertVehicles 批量插入新车辆。
//
// 同一轮内去重由对账逻辑保证，这里的 OnConflict DoNothing 兜底
// 并发轮次之间的竞态（同一条广告被两轮同时判定为新增）。
func (s *MySQLStore) InsertVehicles(ctx context.Context, vehicles []model.Vehicle) error {
	if len(vehicles) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source"}, {Name: "external_id"}},
		DoNothing: true,
	}).CreateInBatches(vehicles, 100).Error
	if err != nil {
		return fmt.Errorf("insert vehicles: %w", err)
	}
	return nil
}

// UpdateVehicles 批量更新已存在车辆的价格和状态。
func (s *MySQLStore) UpdateVehicles(ctx context.Context, vehicles []model.Vehicle) error {
	for _, v := range vehicles {
		err := s.db.WithContext(ctx).Model(&model.Vehicle{}).
			Where("id = ?", v.ID).
			Updates(map[string]interface{}{
				"price":     v.Price,
				"price_old": v.PriceOld,
				"status":    v.Status,
			}).Error
		if err != nil {
			return fmt.Errorf("update vehicle %d: %w", v.ID, err)
		}
	}
	return nil
}

// VehiclesNeedingLookup 查询待登记系统补全的车辆。
func (s *MySQLStore) VehiclesNeedingLookup(ctx context.Context, limit int) ([]model.Vehicle, error) {
	var vehicles []model.Vehicle
	q := s.db.WithContext(ctx).Where("needs_registry_lookup = ?", true)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&vehicles).Error; err != nil {
		return nil, fmt.Errorf("query vehicles needing lookup: %w", err)
	}
	return vehicles, nil
}

// ApplyRegistryInfo 将登记系统查询结果写回车辆记录。
func (s *MySQLStore) ApplyRegistryInfo(ctx context.Context, vehicleID uint, info *model.RegistryInfo) error {
	updates := map[string]interface{}{
		"needs_registry_lookup": false,
	}
	if info.AllowedToDrive != nil {
		updates["allowed_to_drive"] = *info.AllowedToDrive
	}
	if info.Insurance != nil {
		updates["insurance"] = *info.Insurance
	}
	if info.WantedByPolice != nil {
		updates["wanted_by_police"] = *info.WantedByPolice
	}
	if info.MatchedPlate != "" {
		// 命中后把候选车牌收敛为确认的那一个
		if plates, err := json.Marshal([]string{info.MatchedPlate}); err == nil {
			updates["plates"] = datatypes.JSON(plates)
		}
	}
	if info.TechnicalInspectionYear > 0 {
		updates["technical_inspection_year"] = info.TechnicalInspectionYear
		updates["technical_inspection_month"] = info.TechnicalInspectionMonth
		updates["technical_inspection_day"] = info.TechnicalInspectionDay
	}

	err := s.db.WithContext(ctx).Model(&model.Vehicle{}).
		Where("id = ?", vehicleID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("apply registry info for vehicle %d: %w", vehicleID, err)
	}
	return nil
}

// SetVIN 补写反查到的 VIN。
func (s *MySQLStore) SetVIN(ctx context.Context, vehicleID uint, vin string) error {
	err := s.db.WithContext(ctx).Model(&model.Vehicle{}).
		Where("id = ?", vehicleID).
		Update("vin", vin).Error
	if err != nil {
		return fmt.Errorf("set vin for vehicle %d: %w", vehicleID, err)
	}
	return nil
}

// ClearLookupFlag 清除待查标记。
func (s *MySQLStore) ClearLookupFlag(ctx context.Context, vehicleID uint) error {
	err := s.db.WithContext(ctx).Model(&model.Vehicle{}).
		Where("id = ?", vehicleID).
		Update("needs_registry_lookup", false).Error
	if err != nil {
		return fmt.Errorf("clear lookup flag for vehicle %d: %w", vehicleID, err)
	}
	return nil
}
