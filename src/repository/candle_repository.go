package repository

import (
	"context"
	"errors"
	"time"

	"marketrouter/src/database"
	"marketrouter/src/model"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormCandleRepository stores hourly candles, unique per (market, hour).
type GormCandleRepository struct {
	db *gorm.DB
}

func NewCandleRepository() *GormCandleRepository {
	return &GormCandleRepository{db: database.MainDB}
}

func (r *GormCandleRepository) WithDB(db *gorm.DB) *GormCandleRepository {
	return &GormCandleRepository{db: db}
}

// CreateIfAbsent inserts the candle unless one already exists for its (market, hour).
// It reports whether a row was inserted.
func (r *GormCandleRepository) CreateIfAbsent(ctx context.Context, candle *model.Candle) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "market_id"}, {Name: "hour"}},
			DoNothing: true,
		}).
		Create(candle)
	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "CandleRepository",
			"op":     "CreateIfAbsent",
			"market": candle.MarketID,
			"hour":   candle.Hour,
		}).WithError(res.Error).Error("Failed to insert candle")

		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// FindByHour returns (nil, nil) if the market has no candle for the hour.
func (r *GormCandleRepository) FindByHour(ctx context.Context, marketID uint, hour time.Time) (*model.Candle, error) {
	var candle model.Candle

	err := r.db.WithContext(ctx).
		Where("market_id = ? AND hour = ?", marketID, hour).
		First(&candle).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &candle, nil
}

// UpdateProvisional corrects a live estimate within its own hour.
func (r *GormCandleRepository) UpdateProvisional(ctx context.Context, candle *model.Candle) error {
	return r.db.WithContext(ctx).
		Model(&model.Candle{}).
		Where("id = ? AND provisional = ?", candle.ID, true).
		Updates(map[string]interface{}{
			"close":      candle.Close,
			"volume":     candle.Volume,
			"volume_avg": candle.VolumeAvg,
			"updated_at": time.Now().UTC(),
		}).Error
}

// LastHour returns the most recent candle hour of a market, or nil when it has none.
func (r *GormCandleRepository) LastHour(ctx context.Context, marketID uint) (*time.Time, error) {
	var candle model.Candle

	err := r.db.WithContext(ctx).
		Where("market_id = ?", marketID).
		Order("hour DESC").
		First(&candle).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.WithFields(map[string]interface{}{
			"repo":   "CandleRepository",
			"op":     "LastHour",
			"market": marketID,
		}).WithError(err).Error("Failed to query latest candle")

		return nil, err
	}

	hour := candle.Hour.UTC()
	return &hour, nil
}

// HoursBetween returns the candle hours of a market in [from, to].
func (r *GormCandleRepository) HoursBetween(ctx context.Context, marketID uint, from, to time.Time) ([]time.Time, error) {
	var candles []model.Candle

	err := r.db.WithContext(ctx).
		Select("hour").
		Where("market_id = ? AND hour >= ? AND hour <= ?", marketID, from, to).
		Find(&candles).Error
	if err != nil {
		return nil, err
	}

	hours := make([]time.Time, 0, len(candles))
	for _, c := range candles {
		hours = append(hours, c.Hour.UTC())
	}
	return hours, nil
}
