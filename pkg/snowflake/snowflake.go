// Package snowflake generates server-assigned monotonic message ids.
// Ids are 63-bit: 41 bits of milliseconds since the epoch, 10 bits of node id
// and 12 bits of per-millisecond sequence, so ids sort by creation time and
// the sequence breaks ties within a millisecond.
package snowflake

import (
	"errors"
	"sync"
	"time"
)

const (
	nodeBits        = 10
	stepBits        = 12
	nodeMax         = -1 ^ (-1 << nodeBits)
	stepMask        = -1 ^ (-1 << stepBits)
	timeShift       = nodeBits + stepBits
	nodeShift       = stepBits
	epoch     int64 = 1735689600000 // 2025-01-01 00:00:00 UTC
)

type Node struct {
	mu   sync.Mutex
	time int64
	node int64
	step int64
}

// NewNode returns a generator for the given node id. Each running process
// writing to the same store needs a distinct node id.
func NewNode(node int64) (*Node, error) {
	if node < 0 || node > nodeMax {
		return nil, errors.New("snowflake: node id must be between 0 and 1023")
	}
	return &Node{node: node}, nil
}

// Generate returns the next id. Ids from one node are strictly increasing.
func (n *Node) Generate() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := time.Now().UnixMilli()

	if now < n.time {
		// Clock moved backwards; hold the last observed time rather than
		// emitting an id that sorts before already-issued ones.
		now = n.time
	}

	if n.time == now {
		n.step = (n.step + 1) & stepMask
		if n.step == 0 {
			for now <= n.time {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		n.step = 0
	}

	n.time = now

	return ((now - epoch) << timeShift) | (n.node << nodeShift) | n.step
}

// Time extracts the creation timestamp encoded in an id.
func Time(id int64) time.Time {
	return time.UnixMilli((id >> timeShift) + epoch)
}
