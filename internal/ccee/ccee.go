package ccee

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// Client is a mock gateway to the external clearing body where closed calls
// are registered. It simulates network latency and occasional rejections the
// way the real registry behaves under load.
type Client struct {
	Name        string
	MinLatency  int // in milliseconds
	MaxLatency  int
	SuccessRate float64 // 0-1, probability of the registry accepting the filing
}

// NewClient returns a client with the default simulated registry profile.
func NewClient() *Client {
	return &Client{
		Name:        "Chamber Registry",
		MinLatency:  20,
		MaxLatency:  120,
		SuccessRate: 0.98,
	}
}

// Confirm files the registration info for a call with the clearing body and
// returns the acknowledgement protocol. A failed filing returns an error and
// must leave the caller's state untouched.
func (c *Client) Confirm(callID, info string) (string, error) {
	logger := log.With().
		Str("registry", c.Name).
		Str("call_id", callID).
		Logger()

	logger.Info().Str("info", info).Msg("filing registration with clearing body")

	latency := rand.Intn(c.MaxLatency-c.MinLatency+1) + c.MinLatency
	time.Sleep(time.Duration(latency) * time.Millisecond)

	if rand.Float64() > c.SuccessRate {
		logger.Warn().Msg("clearing body rejected the filing")
		return "", fmt.Errorf("clearing body rejected registration for call %s", callID)
	}

	protocol := fmt.Sprintf("ACK-%d", rand.Int63())

	logger.Info().
		Str("protocol", protocol).
		Int("latency_ms", latency).
		Msg("registration acknowledged")

	return protocol, nil
}
