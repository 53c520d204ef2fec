package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Per-connection counters
// ──────────────────────────────────────────────────────────────────────────────

// Stats counts the traffic of one connection. The zero value is ready to use
// and all methods are safe for concurrent use.
type Stats struct {
	BytesSent   atomic.Int64 // bytes handed to the live transport
	BytesRecv   atomic.Int64 // bytes read from the live transport
	PacketsSent atomic.Int64
	PacketsRecv atomic.Int64
	Dropped     atomic.Int64 // inbound or outbound packets discarded
}

func (s *Stats) AddSent(n int) {
	s.BytesSent.Add(int64(n))
	s.PacketsSent.Add(1)
}

func (s *Stats) AddRecv(n int) {
	s.BytesRecv.Add(int64(n))
	s.PacketsRecv.Add(1)
}

func (s *Stats) AddDropped() { s.Dropped.Add(1) }

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	BytesSent   int64
	BytesRecv   int64
	PacketsSent int64
	PacketsRecv int64
	Dropped     int64
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		BytesSent:   s.BytesSent.Load(),
		BytesRecv:   s.BytesRecv.Load(),
		PacketsSent: s.PacketsSent.Load(),
		PacketsRecv: s.PacketsRecv.Load(),
		Dropped:     s.Dropped.Load(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs the throughput of s
// every interval while there is traffic. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, s *Stats, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		secs := interval.Seconds()
		var prev StatsSnapshot
		for {
			select {
			case <-ticker.C:
				cur := s.Snapshot()

				outS := float64(cur.BytesSent-prev.BytesSent) / secs
				inS := float64(cur.BytesRecv-prev.BytesRecv) / secs
				dropped := cur.Dropped - prev.Dropped

				if inS > 10 || outS > 10 || dropped > 0 {
					pterm.DefaultLogger.Info(formatStats(inS, outS, dropped))
				}

				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(inS, outS float64, dropped int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Dropped: %d",
		formatBytes(inS),
		formatBytes(outS),
		dropped,
	)
}
