package types

import (
	"time"

	"gorm.io/gorm"
)

// Call statuses
const (
	CallStatusDraft     = "DRAFT"
	CallStatusOpen      = "OPEN"
	CallStatusClosed    = "CLOSED"
	CallStatusCanceled  = "CANCELED"
	CallStatusCompleted = "COMPLETED"
)

// Call types
const (
	CallTypeBuy  = "BUY"
	CallTypeSell = "SELL"
)

// Energy categories
const (
	EnergyConventional = "CONVENTIONAL"
	EnergyIncentivized = "INCENTIVIZED"
	EnergyRenewable    = "RENEWABLE"
)

// Proposal statuses
const (
	ProposalStatusPending  = "PENDING"
	ProposalStatusAccepted = "ACCEPTED"
	ProposalStatusRejected = "REJECTED"
	ProposalStatusExpired  = "EXPIRED"
)

// Call is a buy/sell energy procurement auction published to counterparties.
// Status moves DRAFT -> OPEN -> CLOSED -> COMPLETED, or DRAFT/OPEN -> CANCELED.
// Terminal calls are never deleted.
type Call struct {
	gorm.Model        `json:"-"`
	CallID            string     `gorm:"uniqueIndex" json:"call_id"`
	Type              string     `json:"type"`            // BUY or SELL
	EnergyCategory    string     `json:"energy_category"` // CONVENTIONAL, INCENTIVIZED, RENEWABLE
	Title             string     `json:"title"`
	Description       string     `json:"description"`
	Requirements      string     `json:"requirements"`
	Quantity          float64    `json:"quantity"` // MWh
	SupplyStart       time.Time  `json:"supply_start"`
	SupplyEnd         time.Time  `json:"supply_end"`
	Deadline          time.Time  `json:"deadline"` // proposal submission deadline
	Status            string     `json:"status"`   // DRAFT, OPEN, CLOSED, CANCELED, COMPLETED
	Extraordinary     bool       `json:"extraordinary"`
	CreatedBy         string     `json:"created_by"`
	ClosedBy          string     `json:"closed_by,omitempty"`
	ClosedAt          *time.Time `json:"closed_at,omitempty"`
	WinningProposalID *string    `json:"winning_proposal_id,omitempty"`
	Registered        bool       `json:"registered_externally"`
	RegistrationDate  *time.Time `json:"registration_date,omitempty"`
	Notes             string     `json:"notes,omitempty"`
	Proposals         []Proposal `json:"proposals,omitempty" gorm:"foreignKey:CallID;references:CallID"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Proposal is a counterparty's price/quantity offer against one call. Price,
// quantity and counterparty are immutable after creation; only status and the
// response fields change.
type Proposal struct {
	gorm.Model     `json:"-"`
	ProposalID     string     `gorm:"uniqueIndex" json:"proposal_id"`
	CallID         string     `gorm:"index:idx_proposals_call_counterparty,unique" json:"call_id"`
	CounterpartyID string     `gorm:"index:idx_proposals_call_counterparty,unique" json:"counterparty_id"`
	Price          float64    `json:"price"`    // currency units per MWh
	Quantity       float64    `json:"quantity"` // MWh
	ReceivedAt     time.Time  `json:"received_at"`
	DeliveryDate   *time.Time `json:"delivery_date,omitempty"`
	ValidUntil     *time.Time `json:"valid_until,omitempty"`
	Comments       string     `json:"comments,omitempty"`
	Status         string     `json:"status"` // PENDING, ACCEPTED, REJECTED, EXPIRED
	RespondedAt    *time.Time `json:"responded_at,omitempty"`
	RespondedBy    string     `json:"responded_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// AppendNote adds a line to a free-text audit field without overwriting what is
// already there.
func AppendNote(existing, note string) string {
	if note == "" {
		return existing
	}
	if existing == "" {
		return note
	}
	return existing + "\n" + note
}
