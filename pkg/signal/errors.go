package signal

import (
	"errors"
	"fmt"
	"time"
)

// ErrSettlePending means a second settle callback was registered on a
// control point that already holds one. The transport allows a single
// pending registration per point; concurrent stop paths must poll.
var ErrSettlePending = errors.New("settle callback already pending on control point")

// TimeoutError reports a remote operation exceeding its bound.
type TimeoutError struct {
	Signal  string
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s on %s timed out after %s", e.Op, e.Signal, e.Timeout)
}

// IsTimeout reports whether err is (or wraps) a remote timeout.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
