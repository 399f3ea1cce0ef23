package calls

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

// Service owns the call state machine: DRAFT -> OPEN -> CLOSED|CANCELED and
// the descriptive edits allowed before a call reaches a terminal view.
// Closing itself is the resolution engine's job.
type Service struct {
	db    *Database
	locks *locks.Registry
	clock clock.Clock
}

// NewService creates a new call lifecycle service
func NewService(gormDB *gorm.DB, registry *locks.Registry, clk clock.Clock) *Service {
	return &Service{
		db:    NewDatabase(gormDB),
		locks: registry,
		clock: clk,
	}
}

// CreateCall creates a new call in DRAFT for the authenticated actor.
// Commands are validated by the API layer before they reach the service.
func (s *Service) CreateCall(cmd *CreateCallCommand, actorID string) (*types.Call, error) {
	call := &types.Call{
		CallID:         "CALL_" + uuid.New().String(),
		Type:           cmd.Type,
		EnergyCategory: cmd.EnergyCategory,
		Title:          cmd.Title,
		Description:    cmd.Description,
		Requirements:   cmd.Requirements,
		Quantity:       cmd.Quantity,
		SupplyStart:    cmd.SupplyStart,
		SupplyEnd:      cmd.SupplyEnd,
		Deadline:       cmd.Deadline,
		Status:         types.CallStatusDraft,
		Extraordinary:  cmd.Extraordinary,
		CreatedBy:      actorID,
		CreatedAt:      s.clock.Now(),
		UpdatedAt:      s.clock.Now(),
	}

	if err := s.db.CreateCall(call); err != nil {
		return nil, err
	}

	log.Info().
		Str("call_id", call.CallID).
		Str("type", call.Type).
		Str("energy_category", call.EnergyCategory).
		Float64("quantity", call.Quantity).
		Str("created_by", actorID).
		Msg("call created")

	return call, nil
}

// PublishCall opens a draft call for proposals.
func (s *Service) PublishCall(callID, actorID string) (*types.Call, error) {
	unlock := s.locks.Acquire(callID)
	defer unlock()

	call, err := s.db.GetCall(callID)
	if err != nil {
		return nil, err
	}

	if call.Status != types.CallStatusDraft {
		return nil, fmt.Errorf("%w: cannot publish call in status %s", types.ErrInvalidTransition, call.Status)
	}

	call.Status = types.CallStatusOpen
	call.UpdatedAt = s.clock.Now()

	if err := s.db.UpdateCall(call); err != nil {
		return nil, err
	}

	log.Info().
		Str("call_id", call.CallID).
		Str("actor_id", actorID).
		Msg("call published")

	return call, nil
}

// CancelCall withdraws a draft or open call. The reason is appended to the
// call's notes and the closer and timestamp are recorded.
func (s *Service) CancelCall(callID string, cmd *CancelCallCommand, actorID string) (*types.Call, error) {
	unlock := s.locks.Acquire(callID)
	defer unlock()

	call, err := s.db.GetCall(callID)
	if err != nil {
		return nil, err
	}

	if call.Status != types.CallStatusDraft && call.Status != types.CallStatusOpen {
		return nil, fmt.Errorf("%w: cannot cancel call in status %s", types.ErrInvalidTransition, call.Status)
	}

	now := s.clock.Now()
	call.Status = types.CallStatusCanceled
	call.ClosedBy = actorID
	call.ClosedAt = &now
	call.Notes = types.AppendNote(call.Notes, "Canceled: "+cmd.Reason)
	call.UpdatedAt = now

	if err := s.db.UpdateCall(call); err != nil {
		return nil, err
	}

	log.Info().
		Str("call_id", call.CallID).
		Str("actor_id", actorID).
		Str("reason", cmd.Reason).
		Msg("call canceled")

	return call, nil
}

// EditCall updates the mutable descriptive fields of a draft or open call.
// The status is never changed by an edit.
func (s *Service) EditCall(callID string, cmd *EditCallCommand, actorID string) (*types.Call, error) {
	unlock := s.locks.Acquire(callID)
	defer unlock()

	call, err := s.db.GetCall(callID)
	if err != nil {
		return nil, err
	}

	if call.Status != types.CallStatusDraft && call.Status != types.CallStatusOpen {
		return nil, fmt.Errorf("%w: cannot edit call in status %s", types.ErrInvalidTransition, call.Status)
	}

	if cmd.Title != nil {
		call.Title = *cmd.Title
	}
	if cmd.Description != nil {
		call.Description = *cmd.Description
	}
	if cmd.Requirements != nil {
		call.Requirements = *cmd.Requirements
	}
	if cmd.Quantity != nil {
		call.Quantity = *cmd.Quantity
	}
	if cmd.SupplyStart != nil {
		call.SupplyStart = *cmd.SupplyStart
	}
	if cmd.SupplyEnd != nil {
		call.SupplyEnd = *cmd.SupplyEnd
	}
	if !call.SupplyStart.Before(call.SupplyEnd) {
		return nil, fmt.Errorf("%w: supply window start must precede end", types.ErrInvalidAmount)
	}
	if cmd.Deadline != nil {
		call.Deadline = *cmd.Deadline
	}
	if cmd.Extraordinary != nil {
		call.Extraordinary = *cmd.Extraordinary
	}
	call.UpdatedAt = s.clock.Now()

	if err := s.db.UpdateCall(call); err != nil {
		return nil, err
	}

	log.Info().
		Str("call_id", call.CallID).
		Str("actor_id", actorID).
		Msg("call edited")

	return call, nil
}

// GetCall retrieves a call with its proposals in submission order.
func (s *Service) GetCall(callID string) (*types.Call, error) {
	return s.db.GetCall(callID)
}

// ListCalls retrieves calls, optionally filtered by status.
func (s *Service) ListCalls(status string) ([]types.Call, error) {
	return s.db.ListCalls(status)
}

// GinHandlers contains HTTP handlers for call lifecycle endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for call endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

func actorFromContext(c *gin.Context) (string, bool) {
	actorID := c.GetString("actorID")
	if actorID == "" {
		response.Unauthorized(c, "Missing authenticated actor")
		return "", false
	}
	return actorID, true
}

// CreateCallHandler handles POST requests to create draft calls
func (h *GinHandlers) CreateCallHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID, ok := actorFromContext(c)
		if !ok {
			return
		}

		var cmd CreateCallCommand
		if err := c.ShouldBindJSON(&cmd); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if err := cmd.Validate(); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		call, err := h.service.CreateCall(&cmd, actorID)
		response.Handle(c, call, err)
	}
}

// GetCallHandler handles GET requests for a single call with its proposals
func (h *GinHandlers) GetCallHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		callID := c.Param("call_id")

		call, err := h.service.GetCall(callID)
		response.Handle(c, call, err)
	}
}

// ListCallsHandler handles GET requests for the call listing
// Optional query parameter: status
func (h *GinHandlers) ListCallsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		status := c.Query("status")

		calls, err := h.service.ListCalls(status)
		response.Handle(c, calls, err)
	}
}

// EditCallHandler handles PUT requests updating a call's descriptive fields
func (h *GinHandlers) EditCallHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID, ok := actorFromContext(c)
		if !ok {
			return
		}

		callID := c.Param("call_id")

		var cmd EditCallCommand
		if err := c.ShouldBindJSON(&cmd); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if err := cmd.Validate(); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		call, err := h.service.EditCall(callID, &cmd, actorID)
		response.Handle(c, call, err)
	}
}

// PublishCallHandler handles POST requests opening a draft call
func (h *GinHandlers) PublishCallHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID, ok := actorFromContext(c)
		if !ok {
			return
		}

		callID := c.Param("call_id")

		call, err := h.service.PublishCall(callID, actorID)
		response.Handle(c, call, err)
	}
}

// CancelCallHandler handles POST requests withdrawing a call
func (h *GinHandlers) CancelCallHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID, ok := actorFromContext(c)
		if !ok {
			return
		}

		callID := c.Param("call_id")

		var cmd CancelCallCommand
		if err := c.ShouldBindJSON(&cmd); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if err := cmd.Validate(); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		call, err := h.service.CancelCall(callID, &cmd, actorID)
		response.Handle(c, call, err)
	}
}
