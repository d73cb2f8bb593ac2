package worker

import (
	"strconv"
	"sync/atomic"
)

// IDSequence hands out benchmark identifiers unique within a run. The
// counter is shared by every connection, so identifiers from one connection
// are strictly increasing and never collide with another's.
type IDSequence struct {
	next atomic.Uint64
}

// Next returns "<connection>_<counter>".
func (s *IDSequence) Next(connection int) string {
	n := s.next.Add(1) - 1
	return strconv.Itoa(connection) + "_" + strconv.FormatUint(n, 10)
}
