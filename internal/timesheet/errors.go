package timesheet

import (
	"errors"
	"fmt"
)

// ErrNotOpen is returned by Submit before Open or after Close.
var ErrNotOpen = errors.New("timesheet channel is not open")

// ChannelError reports a fault of the submission channel itself, as opposed
// to the rejection of a single entry. Callers recover by reopening.
type ChannelError struct {
	Op  string
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("timesheet channel %s: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// IsChannelFault reports whether err is, or wraps, a ChannelError.
func IsChannelFault(err error) bool {
	var ce *ChannelError
	return errors.As(err, &ce)
}
