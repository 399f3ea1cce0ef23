package resolution

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

// GetCallWithProposals loads the call and every proposal submitted against it,
// in submission order.
func (d *Database) GetCallWithProposals(callID string) (*types.Call, []types.Proposal, error) {
	var call types.Call
	if err := d.db.Where("call_id = ?", callID).First(&call).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, types.ErrNotFound
		}
		return nil, nil, fmt.Errorf("%w: %v", types.ErrStorage, err)
	}

	var proposals []types.Proposal
	err := d.db.Where("call_id = ?", callID).
		Order("received_at ASC").
		Find(&proposals).Error
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", types.ErrStorage, err)
	}

	return &call, proposals, nil
}

// CommitClose persists the closed call together with every changed proposal in
// a single transaction. Either the whole terminal view lands or none of it
// does; a concurrent reader must never observe an open call with an accepted
// proposal, or a rejected proposal under a still-open call.
func (d *Database) CommitClose(call *types.Call, changed []*types.Proposal) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return fmt.Errorf("%w: failed to start transaction: %v", types.ErrStorage, err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	for _, proposal := range changed {
		if err := tx.Save(proposal).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("%w: failed to save proposal %s: %v", types.ErrStorage, proposal.ProposalID, err)
		}
	}

	if err := tx.Save(call).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("%w: failed to save call %s: %v", types.ErrStorage, call.CallID, err)
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("%w: failed to commit close: %v", types.ErrStorage, err)
	}
	return nil
}
