package sink

import (
	"encoding/json"
	"fmt"

	"ForgeLedger/internal/event"
	"ForgeLedger/internal/ledger"
)

// message is the wire form published by the broker endpoints.
type message struct {
	Sink         string          `json:"sink"`
	Emitter      string          `json:"emitter"`
	Notification json.RawMessage `json:"notification"`
}

func encode(out event.Outgoing) ([]byte, error) {
	payload, err := event.Marshal(out.Notification)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(message{
		Sink:         out.Sink.String(),
		Emitter:      out.Emitter.String(),
		Notification: payload,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	return data, nil
}

// Decode parses a message published by a broker endpoint.
func Decode(data []byte) (event.Outgoing, error) {
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		return event.Outgoing{}, fmt.Errorf("decode message: %w", err)
	}

	n, err := event.Unmarshal(m.Notification)
	if err != nil {
		return event.Outgoing{}, err
	}

	return event.Outgoing{
		Sink:         ledger.Address(m.Sink),
		Emitter:      ledger.Address(m.Emitter),
		Notification: n,
	}, nil
}
