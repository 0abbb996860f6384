package data

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/devricklin/imessage-feishu-relay/internal/biz/domain"
)

// ErrLockTimeout is returned when the state lock cannot be acquired within the retry budget
var ErrLockTimeout = errors.New("state lock not acquired")

// encodeState renders the state document. Output is deterministic for equal states:
// map keys are sorted by encoding/json.
func encodeState(state *domain.RelayState) ([]byte, error) {
	if state == nil {
		return nil, errors.New("nil relay state")
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode relay state: %w", err)
	}
	return append(data, '\n'), nil
}

// decodeState parses a state document, ignoring unknown fields and defaulting missing ones
func decodeState(data []byte) (*domain.RelayState, error) {
	var state domain.RelayState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	state.Normalize()
	return &state, nil
}
