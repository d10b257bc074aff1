package repository

import (
	"context"

	"marketrouter/src/database"
	"marketrouter/src/externalmodel"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AllocationRepository reads target allocations from the strategy service database.
type AllocationRepository struct {
	db *gorm.DB
}

func NewAllocationRepository() *AllocationRepository {
	return &AllocationRepository{db: database.ReadOnlyDB}
}

func (r *AllocationRepository) WithDB(db *gorm.DB) *AllocationRepository {
	return &AllocationRepository{db: db}
}

// ByStrategy returns the allocations of one strategy key ordered by currency.
func (r *AllocationRepository) ByStrategy(ctx context.Context, strategyKey string) ([]externalmodel.StrategyAllocation, error) {
	var rows []externalmodel.StrategyAllocation

	err := r.db.WithContext(ctx).
		Where("strategy_key = ?", strategyKey).
		Order("currency").
		Find(&rows).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "AllocationRepository",
			"op":       "ByStrategy",
			"strategy": strategyKey,
		}).WithError(err).Error("Failed to load allocations")

		return nil, err
	}
	return rows, nil
}
