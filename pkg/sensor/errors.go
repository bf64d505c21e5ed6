package sensor

import "errors"

// ErrNoReading is returned when the echo never rose or never fell inside the
// observation window. Callers must treat the distance as unknown.
var ErrNoReading = errors.New("sensor: no reading")
