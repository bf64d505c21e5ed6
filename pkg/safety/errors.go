package safety

import "errors"

// ErrLockTimeout is returned when the flag could not be acquired in time.
// It is transient: skip the update or action for this cycle and carry on.
var ErrLockTimeout = errors.New("safety: flag lock timeout")
