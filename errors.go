package slotmap

import "github.com/pkg/errors"

// ErrCapacityExceeded is returned when an insertion or Grow needs a table
// larger than the configured maximum capacity. The map is left unchanged.
var ErrCapacityExceeded = errors.New("slotmap: capacity exceeded")
