package audio

import "github.com/cantripos/cantripos/internal/constants"

// ringBuffer is a fixed-capacity FIFO of 32-bit samples that overwrites the
// oldest entry once full rather than rejecting new pushes. It carries no
// internal locking; callers hold whatever mutex guards the buffer.
type ringBuffer struct {
	begin, end, size int
	data             [constants.AudioRingCapacity]uint32
}

func (b *ringBuffer) clear() {
	b.begin, b.end, b.size = 0, 0, 0
}

func (b *ringBuffer) isEmpty() bool { return b.size == 0 }

func (b *ringBuffer) availableSpace() int { return len(b.data) - b.size }

func (b *ringBuffer) availableData() int { return b.size }

func (b *ringBuffer) push(item uint32) {
	b.data[b.end] = item
	b.end = advance(b.end)
	if b.size < len(b.data) {
		b.size++
	} else {
		b.begin = advance(b.begin)
	}
}

func (b *ringBuffer) pop() (uint32, bool) {
	if b.isEmpty() {
		return 0, false
	}
	item := b.data[b.begin]
	b.begin = advance(b.begin)
	b.size--
	return item, true
}

func advance(pos int) int { return (pos + 1) % constants.AudioRingCapacity }
