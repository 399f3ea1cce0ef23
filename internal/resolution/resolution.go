package resolution

import (
	"fmt"

	"github.com/enerdesk/calls-api/internal/clock"
	"github.com/enerdesk/calls-api/internal/locks"
	"github.com/enerdesk/calls-api/internal/types"
	"github.com/enerdesk/calls-api/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Comment appended to proposals rejected as a consequence of winner selection.
const autoRejectComment = "Automatically rejected: another proposal was selected for this call"

// Service performs the close-with-winner operation: the call and every one of
// its proposals end up in a mutually consistent terminal view, or nothing
// changes at all.
type Service struct {
	db    *Database
	locks *locks.Registry
	clock clock.Clock
}

// NewService creates a new resolution service
func NewService(gormDB *gorm.DB, registry *locks.Registry, clk clock.Clock) *Service {
	return &Service{
		db:    NewDatabase(gormDB),
		locks: registry,
		clock: clk,
	}
}

// CloseCallCommand optionally names the winning proposal. An absent id closes
// the call without a winner, leaving every proposal as it stands.
type CloseCallCommand struct {
	WinningProposalID *string `json:"winning_proposal_id"`
}

// CloseCall closes an open call, optionally selecting a winning proposal.
//
// With a winner: the winner becomes ACCEPTED, every other still-pending
// proposal becomes REJECTED with a system comment appended, and proposals
// already rejected or expired are left untouched. Without a winner every
// proposal keeps its current status. Either way the call moves to CLOSED with
// closer and timestamp recorded. All of it commits as one transaction.
func (s *Service) CloseCall(callID string, cmd *CloseCallCommand, actorID string) (*types.Call, error) {
	logger := log.With().
		Str("call_id", callID).
		Str("actor_id", actorID).
		Str("service", "resolution").
		Logger()

	unlock := s.locks.Acquire(callID)
	defer unlock()

	call, proposals, err := s.db.GetCallWithProposals(callID)
	if err != nil {
		return nil, err
	}

	if call.Status != types.CallStatusOpen {
		return nil, fmt.Errorf("%w: cannot close call in status %s", types.ErrInvalidTransition, call.Status)
	}

	now := s.clock.Now()
	var changed []*types.Proposal

	if cmd.WinningProposalID != nil {
		winnerID := *cmd.WinningProposalID

		var winner *types.Proposal
		for i := range proposals {
			if proposals[i].ProposalID == winnerID {
				winner = &proposals[i]
				break
			}
		}
		if winner == nil {
			return nil, fmt.Errorf("%w: %s", types.ErrUnknownProposal, winnerID)
		}

		// Only a pending proposal can be promoted. A proposal already
		// rejected or expired stays dead; resurrecting it would break the
		// proposal lifecycle's own determinism.
		if winner.Status != types.ProposalStatusPending {
			return nil, fmt.Errorf("%w: winning proposal is %s, not PENDING", types.ErrInvalidTransition, winner.Status)
		}

		winner.Status = types.ProposalStatusAccepted
		winner.RespondedAt = &now
		winner.RespondedBy = actorID
		winner.UpdatedAt = now
		changed = append(changed, winner)

		for i := range proposals {
			p := &proposals[i]
			if p.ProposalID == winnerID || p.Status != types.ProposalStatusPending {
				continue
			}
			p.Status = types.ProposalStatusRejected
			p.RespondedAt = &now
			p.RespondedBy = actorID
			p.Comments = types.AppendNote(p.Comments, autoRejectComment)
			p.UpdatedAt = now
			changed = append(changed, p)
		}

		call.WinningProposalID = &winnerID

		logger.Info().
			Str("winning_proposal_id", winnerID).
			Int("rejected_count", len(changed)-1).
			Msg("winner selected, rejecting remaining pending proposals")
	} else {
		logger.Info().Msg("closing call without a winner")
	}

	call.Status = types.CallStatusClosed
	call.ClosedAt = &now
	call.ClosedBy = actorID
	call.UpdatedAt = now

	if err := s.db.CommitClose(call, changed); err != nil {
		logger.Error().Err(err).Msg("failed to commit close")
		return nil, err
	}

	logger.Info().
		Str("status", call.Status).
		Int("proposals_updated", len(changed)).
		Msg("call closed")

	call.Proposals = proposals
	return call, nil
}

// GinHandlers contains HTTP handlers for resolution endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for resolution endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CloseCallHandler handles POST requests closing an open call
// Requires internal authentication
// URL parameter: call_id; body optionally names the winning proposal
func (h *GinHandlers) CloseCallHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID := c.GetString("actorID")
		if actorID == "" {
			response.Unauthorized(c, "Missing authenticated actor")
			return
		}

		callID := c.Param("call_id")

		var cmd CloseCallCommand
		if err := c.ShouldBindJSON(&cmd); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		call, err := h.service.CloseCall(callID, &cmd, actorID)
		response.Handle(c, call, err)
	}
}
