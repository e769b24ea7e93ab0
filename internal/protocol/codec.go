// ABOUTME: Wire codecs for Berkeley messages
// ABOUTME: JSON text frames by default, CBOR binary frames as an option
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Codec names, also used as WebSocket subprotocols
const (
	CodecJSON = "berkeley.json"
	CodecCBOR = "berkeley.cbor"
)

// Codec turns messages into single frames and back
type Codec interface {
	// Name is the subprotocol this codec is negotiated under
	Name() string
	// Binary reports whether frames are binary rather than text
	Binary() bool
	Marshal(msg Message) ([]byte, error)
	Unmarshal(data []byte, msg *Message) error
}

// JSONCodec encodes messages as flat JSON objects, matching the
// {"type": ..., "time": ..., "client_id": ...} shape
type JSONCodec struct{}

func (JSONCodec) Name() string { return CodecJSON }
func (JSONCodec) Binary() bool { return false }

func (JSONCodec) Marshal(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

func (JSONCodec) Unmarshal(data []byte, msg *Message) error {
	return json.Unmarshal(data, msg)
}

// cborEnc uses core deterministic encoding so the same message always
// produces the same bytes
var cborEnc cbor.EncMode

var cborDec cbor.DecMode

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("protocol: CBOR encoder initialization failed: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{
		MaxMapPairs: 16,
	}.DecMode()
	if err != nil {
		panic("protocol: CBOR decoder initialization failed: " + err.Error())
	}
}

// CBORCodec encodes messages as CBOR maps with the same keys as JSON
type CBORCodec struct{}

func (CBORCodec) Name() string { return CodecCBOR }
func (CBORCodec) Binary() bool { return true }

func (CBORCodec) Marshal(msg Message) ([]byte, error) {
	return cborEnc.Marshal(msg)
}

func (CBORCodec) Unmarshal(data []byte, msg *Message) error {
	return cborDec.Unmarshal(data, msg)
}

// CodecByName resolves a codec name. Short names "json" and "cbor" are
// accepted, and an empty name selects JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json", CodecJSON:
		return JSONCodec{}, nil
	case "cbor", CodecCBOR:
		return CBORCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// Subprotocols lists every supported codec name, preferred first
func Subprotocols() []string {
	return []string{CodecJSON, CodecCBOR}
}

// Encode marshals and size-checks a message
func Encode(c Codec, msg Message) ([]byte, error) {
	data, err := c.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	if len(data) > MaxMessageSize {
		return nil, fmt.Errorf("encode %s: %w (%d bytes)", msg.Type, ErrTooLarge, len(data))
	}
	return data, nil
}

// Decode parses one frame and validates it. Errors wrap ErrTooLarge,
// ErrMalformed, ErrUnknownType, ErrMissingField, or ErrInvalidField.
// For ErrUnknownType the returned message still carries its Type.
func Decode(c Codec, data []byte) (Message, error) {
	var msg Message
	if len(data) > MaxMessageSize {
		return msg, fmt.Errorf("%w (%d bytes)", ErrTooLarge, len(data))
	}
	if err := c.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := msg.Validate(); err != nil {
		return msg, err
	}
	return msg, nil
}
