package connection

import "sync/atomic"

// SeqGen is a per-attempt atomic sequence number generator for outbound
// envelopes. It is shared between the caller's send path and the heartbeat
// goroutine, so all operations are atomic.
type SeqGen struct {
	val atomic.Uint64
}

// Next returns the next sequence number (monotonically increasing from 1).
func (s *SeqGen) Next() uint64 {
	return s.val.Add(1)
}
