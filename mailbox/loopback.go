package mailbox

import (
	"sync"

	"github.com/cantripos/cantripos/mmio"
)

// LoopbackRegisters is a single FIFO queue addressed through the mailbox
// register offsets: words written to MBOXW are the words read back from
// MBOXR. It stands in for the hardware mailbox FIFO when a Client and
// Server run in the same process with no real Security Coordinator core on
// the other end of a physical link.
type LoopbackRegisters struct {
	mu    sync.Mutex
	queue []uint32
}

// NewLoopbackRegisters builds an empty loopback queue.
func NewLoopbackRegisters() *LoopbackRegisters {
	return &LoopbackRegisters{}
}

func (l *LoopbackRegisters) Load(offset uintptr) uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch offset {
	case mmio.MailboxStatusOffset:
		var v uint32
		if len(l.queue) == 0 {
			v |= 1 // empty
		}
		return v
	case mmio.MailboxMboxROffset:
		if len(l.queue) == 0 {
			return 0
		}
		w := l.queue[0]
		l.queue = l.queue[1:]
		return w
	}
	return 0
}

func (l *LoopbackRegisters) Store(offset uintptr, v uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if offset == mmio.MailboxMboxWOffset {
		l.queue = append(l.queue, v)
	}
}

func (l *LoopbackRegisters) Close() error { return nil }

var _ mmio.Registers = (*LoopbackRegisters)(nil)
