package mmio

// Register offsets for the mailbox FIFO controller.
const (
	MailboxIntrStateOffset  uintptr = 0x00
	MailboxIntrEnableOffset uintptr = 0x04
	MailboxIntrTestOffset   uintptr = 0x08
	MailboxMboxWOffset      uintptr = 0x0c
	MailboxMboxROffset      uintptr = 0x10
	MailboxStatusOffset     uintptr = 0x14
	MailboxErrorOffset      uintptr = 0x18
	MailboxWirqThreshOffset uintptr = 0x1c
	MailboxRirqThreshOffset uintptr = 0x20
	MailboxCtrlOffset       uintptr = 0x24
)

const (
	mailboxIntrWtirqBit = 0
	mailboxIntrRtirqBit = 1
	mailboxIntrEirqBit  = 2
)

// MailboxIntrBits is the interrupt state/enable/test register layout.
type MailboxIntrBits struct {
	Wtirq, Rtirq, Eirq bool
}

func (b MailboxIntrBits) encode() uint32 {
	var v uint32
	if b.Wtirq {
		v |= 1 << mailboxIntrWtirqBit
	}
	if b.Rtirq {
		v |= 1 << mailboxIntrRtirqBit
	}
	if b.Eirq {
		v |= 1 << mailboxIntrEirqBit
	}
	return v
}

func decodeMailboxIntrBits(v uint32) MailboxIntrBits {
	return MailboxIntrBits{
		Wtirq: v&(1<<mailboxIntrWtirqBit) != 0,
		Rtirq: v&(1<<mailboxIntrRtirqBit) != 0,
		Eirq:  v&(1<<mailboxIntrEirqBit) != 0,
	}
}

const (
	mailboxStatusEmptyBit  = 0
	mailboxStatusFullBit   = 1
	mailboxStatusWfifolBit = 2
	mailboxStatusRfifolBit = 3
)

// MailboxStatus reports FIFO empty/full flags, read-only from software.
type MailboxStatus struct {
	Empty, Full, Wfifol, Rfifol bool
}

func decodeMailboxStatus(v uint32) MailboxStatus {
	return MailboxStatus{
		Empty:  v&(1<<mailboxStatusEmptyBit) != 0,
		Full:   v&(1<<mailboxStatusFullBit) != 0,
		Wfifol: v&(1<<mailboxStatusWfifolBit) != 0,
		Rfifol: v&(1<<mailboxStatusRfifolBit) != 0,
	}
}

const (
	mailboxErrorReadBit  = 0
	mailboxErrorWriteBit = 1
)

// MailboxError reports sticky read/write FIFO error flags.
type MailboxError struct {
	Read, Write bool
}

func decodeMailboxError(v uint32) MailboxError {
	return MailboxError{
		Read:  v&(1<<mailboxErrorReadBit) != 0,
		Write: v&(1<<mailboxErrorWriteBit) != 0,
	}
}

const (
	mailboxCtrlFlushRfifoBit = 0
	mailboxCtrlFlushWfifoBit = 1
)

// MailboxCtrl flushes the read and/or write FIFOs.
type MailboxCtrl struct {
	FlushRfifo, FlushWfifo bool
}

func (c MailboxCtrl) encode() uint32 {
	var v uint32
	if c.FlushRfifo {
		v |= 1 << mailboxCtrlFlushRfifoBit
	}
	if c.FlushWfifo {
		v |= 1 << mailboxCtrlFlushWfifoBit
	}
	return v
}

// Mailbox wraps a Registers seam with typed accessors for the mailbox FIFO
// controller.
type Mailbox struct {
	regs Registers
}

func NewMailbox(regs Registers) *Mailbox { return &Mailbox{regs: regs} }

func (m *Mailbox) IntrState() MailboxIntrBits {
	return decodeMailboxIntrBits(m.regs.Load(MailboxIntrStateOffset))
}
func (m *Mailbox) SetIntrState(b MailboxIntrBits) {
	m.regs.Store(MailboxIntrStateOffset, b.encode())
}
func (m *Mailbox) Status() MailboxStatus { return decodeMailboxStatus(m.regs.Load(MailboxStatusOffset)) }
func (m *Mailbox) Error() MailboxError   { return decodeMailboxError(m.regs.Load(MailboxErrorOffset)) }
func (m *Mailbox) SetCtrl(c MailboxCtrl) { m.regs.Store(MailboxCtrlOffset, c.encode()) }

// Enqueue writes one word to the write FIFO (MBOXW).
func (m *Mailbox) Enqueue(word uint32) { m.regs.Store(MailboxMboxWOffset, word) }

// Dequeue reads one word from the read FIFO (MBOXR).
func (m *Mailbox) Dequeue() uint32 { return m.regs.Load(MailboxMboxROffset) }
