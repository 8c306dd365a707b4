package serializer

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/roach88/memstate/internal/command"
)

// CBOR is a compact binary serializer (RFC 8949).
//
// Encoding uses core deterministic options so the same command always
// produces the same bytes. Struct fields without a cbor tag fall back to
// their json tag.
type CBOR struct {
	reg *command.Registry
	enc cbor.EncMode
	dec cbor.DecMode
}

type cborEnvelope struct {
	Type    string          `cbor:"1,keyasint"`
	Payload cbor.RawMessage `cbor:"2,keyasint"`
}

// NewCBOR creates a CBOR serializer bound to reg.
func NewCBOR(reg *command.Registry) (*CBOR, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor enc mode: %w", err)
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("cbor dec mode: %w", err)
	}
	return &CBOR{reg: reg, enc: enc, dec: dec}, nil
}

// Name returns "cbor".
func (*CBOR) Name() string { return "cbor" }

// Encode marshals cmd inside a typed envelope.
func (s *CBOR) Encode(cmd command.Command) ([]byte, error) {
	name, err := s.reg.NameOf(cmd)
	if err != nil {
		return nil, fmt.Errorf("cbor encode: %w", err)
	}
	payload, err := s.enc.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("cbor encode %s: %w", name, err)
	}
	data, err := s.enc.Marshal(cborEnvelope{Type: name, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("cbor encode %s: %w", name, err)
	}
	return data, nil
}

// Decode unmarshals an envelope and the command it carries.
func (s *CBOR) Decode(data []byte) (command.Command, error) {
	var env cborEnvelope
	if err := s.dec.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: cbor: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: cbor: missing type", ErrMalformed)
	}
	ptr, err := s.reg.New(env.Type)
	if err != nil {
		return nil, fmt.Errorf("cbor decode: %w", err)
	}
	if len(env.Payload) > 0 {
		if err := s.dec.Unmarshal(env.Payload, ptr); err != nil {
			return nil, fmt.Errorf("%w: cbor payload %s: %v", ErrMalformed, env.Type, err)
		}
	}
	return command.Deref(ptr)
}
