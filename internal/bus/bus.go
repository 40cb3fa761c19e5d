// Package bus holds the most recent snapshot and a bounded history of
// earlier ones.
package bus

import (
	"sync/atomic"

	"codeberg.org/mutker/laptopctl/internal/sensor"
)

const DefaultHistorySize = 3600

// Bus has a single publisher and any number of readers. Readers never
// block and never see a snapshot before it is fully built.
type Bus struct {
	latest atomic.Pointer[sensor.Snapshot]
	slots  []atomic.Pointer[sensor.Snapshot]
	head   atomic.Uint64
}

func New(size int) *Bus {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &Bus{slots: make([]atomic.Pointer[sensor.Snapshot], size)}
}

// Publish stamps snap with the next sequence number and makes it the
// latest snapshot. The oldest history entry is evicted when full.
// Publish must not be called concurrently.
func (b *Bus) Publish(snap sensor.Snapshot) sensor.Snapshot {
	seq := b.head.Load() + 1
	snap.Seq = seq

	p := &snap
	b.slots[(seq-1)%uint64(len(b.slots))].Store(p)
	b.latest.Store(p)
	b.head.Store(seq)

	return snap
}

// Latest returns the most recent snapshot, or a zero snapshot whose
// NoData method reports true before the first Publish.
func (b *Bus) Latest() sensor.Snapshot {
	if p := b.latest.Load(); p != nil {
		return *p
	}
	return sensor.Snapshot{}
}

// History returns up to n snapshots, oldest first.
func (b *Bus) History(n int) []sensor.Snapshot {
	head := b.head.Load()
	size := uint64(len(b.slots))

	count := uint64(n)
	if n <= 0 || count > size {
		count = size
	}
	if count > head {
		count = head
	}

	out := make([]sensor.Snapshot, 0, count)
	for seq := head - count + 1; seq <= head; seq++ {
		p := b.slots[(seq-1)%size].Load()
		// Overwritten by a newer publish while reading.
		if p == nil || p.Seq != seq {
			continue
		}
		out = append(out, *p)
	}

	return out
}

// Size returns the history capacity.
func (b *Bus) Size() int {
	return len(b.slots)
}
