package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig covers unsupported models, out-of-range parameters and a
	// missing API key. The session keeps its previous state.
	ErrConfig = errors.New("invalid chat configuration")

	// ErrState means the call is not valid in the current session state,
	// e.g. sending before any model was bound.
	ErrState = errors.New("invalid session state")

	ErrInvalidRole   = errors.New("invalid transcript role")
	ErrMediaNotReady = errors.New("media is not ready")
	ErrNoFrames      = errors.New("frame set is empty")
)

// DispatchError is a remote failure other than a safety block.
type DispatchError struct {
	Model string
	Err   error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to %s failed: %v", e.Model, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
