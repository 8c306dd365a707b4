package serializer

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/memstate/internal/command"
)

// JSON is a human-readable serializer.
//
// Wire format:
//
//	{"type":"<registered name>","payload":{...command fields...}}
type JSON struct {
	reg *command.Registry
}

type jsonEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewJSON creates a JSON serializer bound to reg.
func NewJSON(reg *command.Registry) *JSON {
	return &JSON{reg: reg}
}

// Name returns "json".
func (*JSON) Name() string { return "json" }

// Encode marshals cmd inside a typed envelope.
func (s *JSON) Encode(cmd command.Command) ([]byte, error) {
	name, err := s.reg.NameOf(cmd)
	if err != nil {
		return nil, fmt.Errorf("json encode: %w", err)
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("json encode %s: %w", name, err)
	}
	data, err := json.Marshal(jsonEnvelope{Type: name, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("json encode %s: %w", name, err)
	}
	return data, nil
}

// Decode unmarshals an envelope and the command it carries.
func (s *JSON) Decode(data []byte) (command.Command, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: json: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: json: missing type", ErrMalformed)
	}
	ptr, err := s.reg.New(env.Type)
	if err != nil {
		return nil, fmt.Errorf("json decode: %w", err)
	}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, ptr); err != nil {
			return nil, fmt.Errorf("%w: json payload %s: %v", ErrMalformed, env.Type, err)
		}
	}
	return command.Deref(ptr)
}
