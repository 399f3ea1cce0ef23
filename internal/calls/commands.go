package calls

import (
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// CreateCallCommand carries the validated fields for opening a new draft call.
type CreateCallCommand struct {
	Type           string    `json:"type" validate:"required,oneof=BUY SELL"`
	EnergyCategory string    `json:"energy_category" validate:"required,oneof=CONVENTIONAL INCENTIVIZED RENEWABLE"`
	Title          string    `json:"title" validate:"required,max=200"`
	Description    string    `json:"description" validate:"max=2000"`
	Requirements   string    `json:"requirements" validate:"max=2000"`
	Quantity       float64   `json:"quantity" validate:"required,gt=0"`
	SupplyStart    time.Time `json:"supply_start" validate:"required"`
	SupplyEnd      time.Time `json:"supply_end" validate:"required,gtfield=SupplyStart"`
	Deadline       time.Time `json:"deadline" validate:"required"`
	Extraordinary  bool      `json:"extraordinary"`
}

func (c *CreateCallCommand) Validate() error {
	return validate.Struct(c)
}

// EditCallCommand updates the mutable descriptive fields of a draft or open
// call. Nil fields are left unchanged; status is never touched by an edit.
type EditCallCommand struct {
	Title         *string    `json:"title" validate:"omitempty,max=200"`
	Description   *string    `json:"description" validate:"omitempty,max=2000"`
	Requirements  *string    `json:"requirements" validate:"omitempty,max=2000"`
	Quantity      *float64   `json:"quantity" validate:"omitempty,gt=0"`
	SupplyStart   *time.Time `json:"supply_start"`
	SupplyEnd     *time.Time `json:"supply_end"`
	Deadline      *time.Time `json:"deadline"`
	Extraordinary *bool      `json:"extraordinary"`
}

func (c *EditCallCommand) Validate() error {
	return validate.Struct(c)
}

// CancelCallCommand records why a call was withdrawn.
type CancelCallCommand struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (c *CancelCallCommand) Validate() error {
	return validate.Struct(c)
}
