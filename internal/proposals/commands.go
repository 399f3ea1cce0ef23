package proposals

import (
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// SubmitProposalCommand carries a counterparty's offer against an open call.
// Positive-amount enforcement lives in the service; the command only shapes
// and bounds the request.
type SubmitProposalCommand struct {
	Price        float64    `json:"price" validate:"required"`
	Quantity     float64    `json:"quantity" validate:"required"`
	DeliveryDate *time.Time `json:"delivery_date"`
	ValidUntil   *time.Time `json:"valid_until"`
	Comments     string     `json:"comments" validate:"max=2000"`
}

func (c *SubmitProposalCommand) Validate() error {
	return validate.Struct(c)
}
