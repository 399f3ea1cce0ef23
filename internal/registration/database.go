package registration

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

func (d *Database) GetCall(callID string) (*types.Call, error) {
	var call types.Call
	if err := d.db.Where("call_id = ?", callID).First(&call).Error; err != nil {
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
