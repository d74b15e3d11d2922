package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventEnvelope represents the shared envelope for v1 contracts.
type EventEnvelope struct {
	EventName     string          `json:"eventName"`
	EventVersion  int             `json:"eventVersion"`
	EventID       string          `json:"eventId"`
	CorrelationID string          `json:"correlationId,omitempty"`
	CausationID   string          `json:"causationId,omitempty"`
	Producer      string          `json:"producer"`
	PartitionKey  string          `json:"partitionKey"`
	Sequence      int64           `json:"sequence,omitempty"`
	OccurredAt    time.Time       `json:"occurredAt"`
	Schema        string          `json:"schema"`
	Payload       json.RawMessage `json:"payload"`
}

func (e EventEnvelope) Validate(expectedName string, expectedVersion int) error {
	if e.EventName != expectedName {
		return fmt.Errorf("unexpected eventName %q", e.EventName)
	}
	if e.EventVersion != expectedVersion {
		return fmt.Errorf("unexpected eventVersion %d", e.EventVersion)
	}
	if e.PartitionKey == "" {
		return fmt.Errorf("missing partitionKey")
	}
	if e.EventID == "" {
		return fmt.Errorf("missing eventId")
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("missing payload")
	}
	return nil
}

func parseEnvelope(body []byte) (EventEnvelope, error) {
	var env EventEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return EventEnvelope{}, err
	}
	return env, nil
}

// decodeMessage reads body either as an enveloped v1 event named name or,
// when enveloped is false or the body carries no eventName, as a legacy
// flat payload. The returned envelope is nil for legacy messages.
func decodeMessage(body []byte, name string, enveloped bool, payload any) (*EventEnvelope, error) {
	if enveloped {
		env, err := parseEnvelope(body)
		if err != nil {
			return nil, fmt.Errorf("unmarshal envelope: %w", err)
		}
		if env.EventName != "" {
			if err := env.Validate(name, 1); err != nil {
				return nil, err
			}
			if err := json.Unmarshal(env.Payload, payload); err != nil {
				return nil, fmt.Errorf("unmarshal %s payload: %w", name, err)
			}
			return &env, nil
		}
	}
	if err := json.Unmarshal(body, payload); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", name, err)
	}
	return nil, nil
}
