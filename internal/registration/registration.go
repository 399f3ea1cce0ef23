package registration

import (
	"fmt"

	"github.com/enerdesk/calls-api/internal/clock"
	"github.com/enerdesk/calls-api/internal/locks"
	"github.com/enerdesk/calls-api/internal/types"
	"github.com/enerdesk/calls-api/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var validate = validator.New()

// Registry is the external clearing body a closed call is filed with.
type Registry interface {
	Confirm(callID, info string) (string, error)
}

// Service records external-registration completion on closed calls, moving
// them to COMPLETED. Re-registration of a completed call fails.
type Service struct {
	db       *Database
	registry Registry
	locks    *locks.Registry
	clock    clock.Clock
}

// NewService creates a new registration tracking service
func NewService(gormDB *gorm.DB, registry Registry, lockRegistry *locks.Registry, clk clock.Clock) *Service {
	return &Service{
		db:       NewDatabase(gormDB),
		registry: registry,
		locks:    lockRegistry,
		clock:    clk,
	}
}

// RegisterCallCommand carries the external registration reference.
type RegisterCallCommand struct {
	Info string `json:"info" validate:"required,max=200"`
}

func (c *RegisterCallCommand) Validate() error {
	return validate.Struct(c)
}

// RegisterCall files a closed call with the clearing body and records the
// completion: registered flag set, registration date stamped, info appended to
// the call's notes, status moved to COMPLETED.
func (s *Service) RegisterCall(callID string, cmd *RegisterCallCommand, actorID string) (*types.Call, error) {
	logger := log.With().
		Str("call_id", callID).
		Str("actor_id", actorID).
		Str("service", "registration").
		Logger()

	unlock := s.locks.Acquire(callID)
	defer unlock()

	call, err := s.db.GetCall(callID)
	if err != nil {
		return nil, err
	}

	if call.Status != types.CallStatusClosed {
		return nil, fmt.Errorf("%w: cannot register call in status %s", types.ErrInvalidTransition, call.Status)
	}

	protocol, err := s.registry.Confirm(call.CallID, cmd.Info)
	if err != nil {
		logger.Error().Err(err).Msg("clearing body filing failed")
		return nil, fmt.Errorf("%w: %v", types.ErrStorage, err)
	}

	now := s.clock.Now()
	call.Registered = true
	call.RegistrationDate = &now
	call.Status = types.CallStatusCompleted
	call.Notes = types.AppendNote(call.Notes, fmt.Sprintf("Registered externally: %s (%s)", cmd.Info, protocol))
	call.UpdatedAt = now

	if err := s.db.UpdateCall(call); err != nil {
		return nil, err
	}

	logger.Info().
		Str("info", cmd.Info).
		Str("protocol", protocol).
		Msg("call registered with clearing body")

	return call, nil
}

// GinHandlers contains HTTP handlers for registration endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for registration endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// RegisterCallHandler handles POST requests registering a closed call
// Requires internal authentication
// URL parameter: call_id
func (h *GinHandlers) RegisterCallHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID := c.GetString("actorID")
		if actorID == "" {
			response.Unauthorized(c, "Missing authenticated actor")
			return
		}

		callID := c.Param("call_id")

		var cmd RegisterCallCommand
		if err := c.ShouldBindJSON(&cmd); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if err := cmd.Validate(); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		call, err := h.service.RegisterCall(callID, &cmd, actorID)
		response.Handle(c, call, err)
	}
}
