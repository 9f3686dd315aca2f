package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// CloudEvent is the record the event channel delivers for one publish.
// The Particle stream carries it on the SSE data line (name on the event line);
// the websocket feed carries it whole, name included.
type CloudEvent struct {
	Name        string `json:"name,omitempty"`
	Data        string `json:"data"`
	TTL         int    `json:"ttl,omitempty"`
	PublishedAt string `json:"published_at"`
	CoreID      string `json:"coreid"`
}

// Event is a routed inbound event.
type Event struct {
	DeviceID  string
	Kind      Kind
	Name      string
	Payload   string
	Timestamp string
}

// Names maps published event names to kinds.
type Names struct {
	Location string
	Transfer string
}

// DefaultNames returns the event names used by the stock firmware.
func DefaultNames() Names {
	return Names{Location: DefaultLocationEventName, Transfer: DefaultTransferEventName}
}

// Kind classifies an event name.
func (n Names) Kind(name string) Kind {
	switch name {
	case n.Location:
		return KindLocation
	case n.Transfer:
		return KindTransfer
	default:
		return KindOther
	}
}

// DecodeCloudEvent unmarshals a raw stream record.
func DecodeCloudEvent(raw []byte) (CloudEvent, error) {
	var ce CloudEvent
	if err := json.Unmarshal(raw, &ce); err != nil {
		return CloudEvent{}, fmt.Errorf("%w: unmarshal event: %v", ErrMalformed, err)
	}
	return ce, nil
}

// ValidateBasic performs basic validation on the record.
func (c CloudEvent) ValidateBasic() error {
	if c.CoreID == "" {
		return errors.New("coreid is required")
	}
	if c.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

// Event converts the record into a routed event.
func (c CloudEvent) Event(names Names) Event {
	return Event{
		DeviceID:  c.CoreID,
		Kind:      names.Kind(c.Name),
		Name:      c.Name,
		Payload:   c.Data,
		Timestamp: c.PublishedAt,
	}
}
