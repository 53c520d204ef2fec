package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "99.0   B", formatBytes(99))
	assert.Equal(t, " 1.5 KiB", formatBytes(1536))
	assert.Equal(t, " 1.0 MiB", formatBytes(1024*1024))
	assert.Len(t, formatBytes(100*1024), 8)
}

func TestStatsSnapshot(t *testing.T) {
	var s Stats
	s.AddSent(100)
	s.AddSent(20)
	s.AddRecv(7)
	s.AddDropped()

	assert.Equal(t, StatsSnapshot{
		BytesSent:   120,
		BytesRecv:   7,
		PacketsSent: 2,
		PacketsRecv: 1,
		Dropped:     1,
	}, s.Snapshot())
}

func TestCanvasIDIsStable(t *testing.T) {
	a := CanvasID("amy@example.com")
	assert.Equal(t, a, CanvasID("amy@example.com"))
	assert.NotEqual(t, a, CanvasID("bob@example.com"))
	assert.Regexp(t, `^peer-[0-9a-f]{8}$`, a)
}
