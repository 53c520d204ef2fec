package connection

import (
	"container/heap"

	"github.com/1ureka/callcore/internal/protocol"
	"github.com/1ureka/callcore/internal/util"
)

// reorderDepth is how many frames may wait behind a missing one before the
// gap is skipped.
const reorderDepth = 8

// reorderBuffer restores the order of one peer's video frames, which travel
// on an unordered channel. It is used only by the inbound goroutine and
// needs no locking.
type reorderBuffer struct {
	expected uint64
	started  bool
	buffer   frameHeap
}

// Feed processes an incoming frame and returns all frames that can now be
// delivered in sequence order. Frames without video metadata pass through.
func (r *reorderBuffer) Feed(mp *protocol.MediaPacket) []*protocol.MediaPacket {
	if mp.Video == nil {
		return []*protocol.MediaPacket{mp}
	}
	seq := mp.Video.Sequence

	switch {
	case !r.started:
		r.expected, r.started = seq, true
	case seq+reorderDepth < r.expected:
		// The sender restarted its encoder.
		util.LogDebug("video sequence restarted at %d (expected %d)", seq, r.expected)
		r.buffer = r.buffer[:0]
		r.expected = seq
	case seq < r.expected:
		util.LogDebug("received video frame with old sequence %d (expected %d), ignoring", seq, r.expected)
		return nil
	}

	heap.Push(&r.buffer, mp)

	if r.buffer.Len() > reorderDepth && r.buffer[0].Video.Sequence != r.expected {
		util.LogDebug("video frame %d lost, skipping to %d", r.expected, r.buffer[0].Video.Sequence)
		r.expected = r.buffer[0].Video.Sequence
	}

	var result []*protocol.MediaPacket
	for r.buffer.Len() > 0 {
		top := r.buffer[0].Video.Sequence
		if top < r.expected {
			heap.Pop(&r.buffer) // duplicate
			continue
		}
		if top != r.expected {
			break
		}
		result = append(result, heap.Pop(&r.buffer).(*protocol.MediaPacket))
		r.expected++
	}
	return result
}

// ---------------------------------------------------------------------------
// frameHeap implements a min-heap sorted by video sequence.
// ---------------------------------------------------------------------------

type frameHeap []*protocol.MediaPacket

func (h frameHeap) Len() int            { return len(h) }
func (h frameHeap) Less(i, j int) bool  { return h[i].Video.Sequence < h[j].Video.Sequence }
func (h frameHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *frameHeap) Push(x interface{}) { *h = append(*h, x.(*protocol.MediaPacket)) }

func (h *frameHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	*h = old[:n-1]
	return item
}
