// Package util provides shared utility functions.
package util

import (
	"fmt"
	"hash/fnv"
)

// CanvasID derives a stable element id for a peer's video surface. Peer ids
// are often e-mail addresses, which make poor DOM or window identifiers, so
// the id is hashed. The hash is used solely for identification and does not
// need to be reversible.
func CanvasID(peerID string) string {
	h := fnv.New32a()
	h.Write([]byte(peerID))
	return fmt.Sprintf("peer-%08x", h.Sum32())
}
