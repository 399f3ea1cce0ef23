package migrations

import (
	"gorm.io/gorm"
)

// AddProposalIndexes creates the secondary indexes the ledger queries rely on.
// The (call_id, counterparty_id) unique index backs the one-proposal-per-
// counterparty invariant at the storage layer; received_at backs submission-
// order listing.
func AddProposalIndexes(db *gorm.DB) error {
	indexes := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_proposals_call_counterparty
		 ON proposals(call_id, counterparty_id)`,

		`CREATE INDEX IF NOT EXISTS idx_proposals_received_at
		 ON proposals(received_at)`,

		`CREATE INDEX IF NOT EXISTS idx_proposals_status
		 ON proposals(status)`,

		`CREATE INDEX IF NOT EXISTS idx_calls_status
		 ON calls(status)`,

		`CREATE INDEX IF NOT EXISTS idx_calls_deadline
		 ON calls(deadline)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
