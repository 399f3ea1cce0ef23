package proposals

import (
	"fmt"

	"github.com/enerdesk/calls-api/internal/clock"
	"github.com/enerdesk/calls-api/internal/locks"
	"github.com/enerdesk/calls-api/internal/types"
	"github.com/enerdesk/calls-api/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service is the proposal ledger: it accepts offers against open calls and
// answers submission-ordered listings. It never mutates the call itself.
type Service struct {
	db    *Database
	locks *locks.Registry
	clock clock.Clock
}

// NewService creates a new proposal ledger service
func NewService(gormDB *gorm.DB, registry *locks.Registry, clk clock.Clock) *Service {
	return &Service{
		db:    NewDatabase(gormDB),
		locks: registry,
		clock: clk,
	}
}

// Submit records a counterparty's proposal against an open call.
// Preconditions, all checked before anything is written: the call is OPEN, the
// deadline has not passed, the counterparty has no proposal on this call, and
// price and quantity are positive.
func (s *Service) Submit(callID string, cmd *SubmitProposalCommand, counterpartyID string) (*types.Proposal, error) {
	if cmd.Price <= 0 || cmd.Quantity <= 0 {
		return nil, types.ErrInvalidAmount
	}

	// The call lock serializes submissions against a concurrent close or
	// cancel, and against another submit from the same counterparty.
	unlock := s.locks.Acquire(callID)
	defer unlock()

	call, err := s.db.GetCall(callID)
	if err != nil {
		return nil, err
	}

	if call.Status != types.CallStatusOpen {
		return nil, fmt.Errorf("%w: call is not open for proposals (status %s)", types.ErrInvalidTransition, call.Status)
	}

	now := s.clock.Now()
	if now.After(call.Deadline) {
		return nil, types.ErrDeadlineExpired
	}

	exists, err := s.db.HasProposal(callID, counterpartyID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, types.ErrDuplicateProposal
	}

	proposal := &types.Proposal{
		ProposalID:     "PROP_" + uuid.New().String(),
		CallID:         callID,
		CounterpartyID: counterpartyID,
		Price:          cmd.Price,
		Quantity:       cmd.Quantity,
		ReceivedAt:     now,
		DeliveryDate:   cmd.DeliveryDate,
		ValidUntil:     cmd.ValidUntil,
		Comments:       cmd.Comments,
		Status:         types.ProposalStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.db.CreateProposal(proposal); err != nil {
		return nil, err
	}

	log.Info().
		Str("proposal_id", proposal.ProposalID).
		Str("call_id", callID).
		Str("counterparty_id", counterpartyID).
		Float64("price", proposal.Price).
		Float64("quantity", proposal.Quantity).
		Msg("proposal submitted")

	return proposal, nil
}

// ListByCall returns a call's proposals in submission order.
func (s *Service) ListByCall(callID string) ([]types.Proposal, error) {
	if _, err := s.db.GetCall(callID); err != nil {
		return nil, err
	}
	return s.db.ListByCall(callID)
}

// ListByCounterparty returns a counterparty's proposals in submission order.
func (s *Service) ListByCounterparty(counterpartyID string) ([]types.Proposal, error) {
	return s.db.ListByCounterparty(counterpartyID)
}

// GetProposal retrieves a proposal by its ID.
func (s *Service) GetProposal(proposalID string) (*types.Proposal, error) {
	return s.db.GetProposal(proposalID)
}

// GetDB exposes the ledger repository for the expiry processor.
func (s *Service) GetDB() *Database {
	return s.db
}

// GinHandlers contains HTTP handlers for proposal endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for proposal endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// SubmitProposalHandler handles POST requests submitting a proposal to a call
// URL parameter: call_id; the counterparty is the authenticated actor
func (h *GinHandlers) SubmitProposalHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		counterpartyID := c.GetString("actorID")
		if counterpartyID == "" {
			response.Unauthorized(c, "Missing authenticated actor")
			return
		}

		callID := c.Param("call_id")

		var cmd SubmitProposalCommand
		if err := c.ShouldBindJSON(&cmd); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if err := cmd.Validate(); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		proposal, err := h.service.Submit(callID, &cmd, counterpartyID)
		response.Handle(c, proposal, err)
	}
}

// ListByCallHandler handles GET requests for a call's proposals
func (h *GinHandlers) ListByCallHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		callID := c.Param("call_id")

		proposals, err := h.service.ListByCall(callID)
		response.Handle(c, proposals, err)
	}
}

// ListMineHandler handles GET requests for the acting counterparty's proposals
func (h *GinHandlers) ListMineHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		counterpartyID := c.GetString("actorID")
		if counterpartyID == "" {
			response.Unauthorized(c, "Missing authenticated actor")
			return
		}

		proposals, err := h.service.ListByCounterparty(counterpartyID)
		response.Handle(c, proposals, err)
	}
}
