package connection

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/1ureka/callcore/internal/protocol"
)

func seqs(frames []*protocol.MediaPacket) []uint64 {
	out := make([]uint64, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Video.Sequence)
	}
	return out
}

func feed(r *reorderBuffer, seq ...uint64) []uint64 {
	var out []uint64
	for _, s := range seq {
		out = append(out, seqs(r.Feed(videoChunk(s, "")))...)
	}
	return out
}

func TestReorderInOrder(t *testing.T) {
	r := &reorderBuffer{}
	assert.Equal(t, []uint64{5, 6, 7}, feed(r, 5, 6, 7))
}

func TestReorderOutOfOrder(t *testing.T) {
	r := &reorderBuffer{}
	assert.Equal(t, []uint64{1}, feed(r, 1))
	assert.Empty(t, feed(r, 3))
	assert.Empty(t, feed(r, 4))
	assert.Equal(t, []uint64{2, 3, 4}, feed(r, 2))
}

func TestReorderDropsDuplicatesAndLateFrames(t *testing.T) {
	r := &reorderBuffer{}
	assert.Equal(t, []uint64{1, 2}, feed(r, 1, 2))
	assert.Empty(t, feed(r, 2))
	assert.Empty(t, feed(r, 1))

	assert.Empty(t, feed(r, 4, 4))
	assert.Equal(t, []uint64{3, 4}, feed(r, 3))
}

func TestReorderSkipsLostFrame(t *testing.T) {
	r := &reorderBuffer{}
	assert.Equal(t, []uint64{1}, feed(r, 1))

	// Frame 2 never arrives; once the buffer is over its depth the gap is
	// skipped.
	var got []uint64
	for s := uint64(3); s <= 3+reorderDepth; s++ {
		got = append(got, feed(r, s)...)
	}
	assert.Equal(t, []uint64{3, 4, 5, 6, 7, 8, 9, 10, 11}, got)
	assert.Equal(t, []uint64{12}, feed(r, 12))
}

func TestReorderDetectsRestart(t *testing.T) {
	r := &reorderBuffer{}
	feed(r, 100, 101, 102)

	assert.Equal(t, []uint64{0, 1}, feed(r, 0, 1))
}

func TestReorderPassesFramesWithoutSequence(t *testing.T) {
	r := &reorderBuffer{}
	audio := &protocol.MediaPacket{MediaType: protocol.MediaTypeAudio}
	assert.Equal(t, []*protocol.MediaPacket{audio}, r.Feed(audio))
}

func TestSeqGen(t *testing.T) {
	var g SeqGen
	assert.EqualValues(t, 1, g.Next())
	assert.EqualValues(t, 2, g.Next())
}
