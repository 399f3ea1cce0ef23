package calls

import (
	"errors"
	"fmt"

	"github.com/enerdesk/calls-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateCall(call *types.Call) error {
	if err := d.db.Create(call).Error; err != nil {
		return fmt.Errorf("%w: %v", types.ErrStorage, err)
	}
	return nil
}

// GetCall loads a call with its proposals in submission order.
func (d *Database) GetCall(callID string) (*types.Call, error) {
	var call types.Call
	err := d.db.
		Preload("Proposals", func(db *gorm.DB) *gorm.DB {
			return db.Order("received_at ASC")
		}).
		Where("call_id = ?", callID).
		First(&call).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", types.ErrStorage, err)
	}
	return &call, nil
}

func (d *Database) UpdateCall(call *types.Call) error {
	if err := d.db.Save(call).Error; err != nil {
		return fmt.Errorf("%w: %v", types.ErrStorage, err)
	}
	return nil
}

// ListCalls returns calls newest first, optionally filtered by status.
func (d *Database) ListCalls(status string) ([]types.Call, error) {
	var calls []types.Call
	query := d.db.Order("created_at DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Find(&calls).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStorage, err)
	}
	return calls, nil
}
