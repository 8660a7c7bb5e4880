package detector

import (
	"errors"
	"fmt"
)

// ErrUnsupportedTriggerMode rejects prepare calls asking for hardware
// triggering; this controller only does software-internal triggers.
var ErrUnsupportedTriggerMode = errors.New("external triggering is not supported for this device")

// BadTerminalStateError reports that acquisition stopped in a state
// outside the configured good states.
type BadTerminalStateError struct {
	State      State
	GoodStates []State
}

func (e *BadTerminalStateError) Error() string {
	return fmt.Sprintf("final detector state %s not in valid end states %v", e.State, e.GoodStates)
}
