package proposals

import (
	"errors"
	"fmt"
	"time"

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

func (d *Database) CreateProposal(proposal *types.Proposal) error {
	if err := d.db.Create(proposal).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return types.ErrDuplicateProposal
		}
		return fmt.Errorf("%w: %v", types.ErrStorage, err)
	}
	return nil
}

func (d *Database) GetProposal(proposalID string) (*types.Proposal, error) {
	var proposal types.Proposal
	if err := d.db.Where("proposal_id = ?", proposalID).First(&proposal).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", types.ErrStorage, err)
	}
	return &proposal, nil
}

// HasProposal reports whether the counterparty already submitted against the call.
func (d *Database) HasProposal(callID, counterpartyID string) (bool, error) {
	var count int64
	err := d.db.Model(&types.Proposal{}).
		Where("call_id = ? AND counterparty_id = ?", callID, counterpartyID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("%w: %v", types.ErrStorage, err)
	}
	return count > 0, nil
}

// ListByCall returns a call's proposals in submission order. The received_at
// ordering is load-bearing for tie-breaks and audit trails.
func (d *Database) ListByCall(callID string) ([]types.Proposal, error) {
	var proposals []types.Proposal
	err := d.db.Where("call_id = ?", callID).
		Order("received_at ASC").
		Find(&proposals).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStorage, err)
	}
	return proposals, nil
}

// ListByCounterparty returns a counterparty's proposals in submission order.
func (d *Database) ListByCounterparty(counterpartyID string) ([]types.Proposal, error) {
	var proposals []types.Proposal
	err := d.db.Where("counterparty_id = ?", counterpartyID).
		Order("received_at ASC").
		Find(&proposals).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStorage, err)
	}
	return proposals, nil
}

// GetLapsedPending returns pending proposals on open calls whose validity
// deadline has passed.
func (d *Database) GetLapsedPending(now time.Time) ([]types.Proposal, error) {
	var proposals []types.Proposal
	err := d.db.
		Joins("JOIN calls ON calls.call_id = proposals.call_id").
		Where("proposals.status = ? AND calls.status = ?", types.ProposalStatusPending, types.CallStatusOpen).
		Where("proposals.valid_until IS NOT NULL AND proposals.valid_until < ?", now).
		Find(&proposals).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStorage, err)
	}
	return proposals, nil
}

// MarkExpired flips a proposal to EXPIRED only while it is still pending, so a
// sweep racing a close never disturbs an already-resolved proposal.
func (d *Database) MarkExpired(proposalID string, now time.Time) error {
	err := d.db.Model(&types.Proposal{}).
		Where("proposal_id = ? AND status = ?", proposalID, types.ProposalStatusPending).
		Updates(map[string]interface{}{
			"status":     types.ProposalStatusExpired,
			"updated_at": now,
		}).Error
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrStorage, err)
	}
	return nil
}
