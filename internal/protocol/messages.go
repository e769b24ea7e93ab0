// ABOUTME: Berkeley synchronization message type definitions
// ABOUTME: Flat records for time_request, time_response, and time_adjustment
package protocol

import (
	"errors"
	"fmt"
	"math"
)

// Message types
const (
	TypeTimeRequest    = "time_request"
	TypeTimeResponse   = "time_response"
	TypeTimeAdjustment = "time_adjustment"
)

// MaxMessageSize is the largest encoded message either side accepts
const MaxMessageSize = 1024

// UnknownClientID labels a time_response that did not carry a client_id
const UnknownClientID = "Unknown"

var (
	// ErrTooLarge means a frame exceeded MaxMessageSize
	ErrTooLarge = errors.New("message exceeds maximum size")
	// ErrMalformed means a frame could not be decoded at all
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownType means the frame decoded but its type is not recognized
	ErrUnknownType = errors.New("unknown message type")
	// ErrMissingField means a required field was absent
	ErrMissingField = errors.New("missing required field")
	// ErrInvalidField means a field was present but unusable
	ErrInvalidField = errors.New("invalid field value")
)

// Message is the single wire record. Which fields are meaningful
// depends on Type.
type Message struct {
	Type       string   `json:"type" cbor:"type"`
	Time       *float64 `json:"time,omitempty" cbor:"time,omitempty"`
	ClientID   string   `json:"client_id,omitempty" cbor:"client_id,omitempty"`
	Adjustment *float64 `json:"adjustment,omitempty" cbor:"adjustment,omitempty"`
}

// TimeRequest asks a client to report its current time
func TimeRequest() Message {
	return Message{Type: TypeTimeRequest}
}

// TimeResponse carries a client's current time and display id
func TimeResponse(t float64, clientID string) Message {
	return Message{Type: TypeTimeResponse, Time: &t, ClientID: clientID}
}

// TimeAdjustment tells a client to add adjustment seconds to its offset
func TimeAdjustment(adjustment float64) Message {
	return Message{Type: TypeTimeAdjustment, Adjustment: &adjustment}
}

// ReportedTime returns the time field of a time_response
func (m Message) ReportedTime() float64 {
	if m.Time == nil {
		return 0
	}
	return *m.Time
}

// AdjustmentValue returns the adjustment field of a time_adjustment
func (m Message) AdjustmentValue() float64 {
	if m.Adjustment == nil {
		return 0
	}
	return *m.Adjustment
}

// Validate checks field presence for the message's type. Unknown types
// return ErrUnknownType so receivers can ignore them.
func (m *Message) Validate() error {
	switch m.Type {
	case TypeTimeRequest:
		return nil

	case TypeTimeResponse:
		if m.Time == nil {
			return fmt.Errorf("%s: %w: time", m.Type, ErrMissingField)
		}
		if !finite(*m.Time) {
			return fmt.Errorf("%s: %w: time=%v", m.Type, ErrInvalidField, *m.Time)
		}
		if m.ClientID == "" {
			m.ClientID = UnknownClientID
		}
		return nil

	case TypeTimeAdjustment:
		if m.Adjustment == nil {
			return fmt.Errorf("%s: %w: adjustment", m.Type, ErrMissingField)
		}
		if !finite(*m.Adjustment) {
			return fmt.Errorf("%s: %w: adjustment=%v", m.Type, ErrInvalidField, *m.Adjustment)
		}
		return nil

	case "":
		return fmt.Errorf("%w: type", ErrMissingField)

	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
}

// IsConnectionError reports whether a decode error means the stream
// can no longer be trusted and the connection should be dropped
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrMalformed) || errors.Is(err, ErrTooLarge)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
