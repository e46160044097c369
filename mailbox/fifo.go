// Package mailbox implements the Security Coordinator transport: a word-at-
// a-time FIFO link framed into length-prefixed messages, carrying the
// file-lookup and builtin-package request/response protocol.
package mailbox

import (
	"context"
	"time"

	"github.com/cantripos/cantripos"
	"github.com/cantripos/cantripos/internal/constants"
	"github.com/cantripos/cantripos/mmio"
)

// FIFO is the word-level transport: enqueue/dequeue one uint32 at a time,
// backing off while the hardware FIFO reports full (write) or empty (read).
type FIFO struct {
	mbox *mmio.Mailbox
}

func NewFIFO(regs mmio.Registers) *FIFO {
	return &FIFO{mbox: mmio.NewMailbox(regs)}
}

// send writes one word, polling until the write FIFO has room or ctx is
// canceled.
func (f *FIFO) send(ctx context.Context, word uint32) error {
	deadline := time.Now().Add(constants.MailboxPollTimeout)
	for f.mbox.Status().Full {
		if time.Now().After(deadline) {
			return cantripos.NewError("mailbox.send", cantripos.ErrCodeUnknownError, "write FIFO full timeout")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(constants.MailboxPollInterval):
		}
	}
	f.mbox.Enqueue(word)
	return nil
}

// recv reads one word, polling until the read FIFO has data or ctx is
// canceled.
func (f *FIFO) recv(ctx context.Context) (uint32, error) {
	deadline := time.Now().Add(constants.MailboxPollTimeout)
	for f.mbox.Status().Empty {
		if time.Now().After(deadline) {
			return 0, cantripos.NewError("mailbox.recv", cantripos.ErrCodeUnknownError, "read FIFO empty timeout")
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(constants.MailboxPollInterval):
		}
	}
	return f.mbox.Dequeue(), nil
}

// SendMessage writes a length-framed message: a header word (the payload
// byte count, optionally OR'd with the long-message flag), then for a long
// message one page-address word, then the payload words zero-padded to a
// whole word.
func (f *FIFO) SendMessage(ctx context.Context, payload []byte, longMessage bool) error {
	header := uint32(len(payload))
	if longMessage {
		header |= constants.MailboxHeaderLongMessageFlag
	}
	if err := f.send(ctx, header); err != nil {
		return err
	}
	if longMessage {
		// No physical page address exists on this transport; a zero word
		// keeps the framing that RecvMessage expects.
		if err := f.send(ctx, 0); err != nil {
			return err
		}
	}
	for _, w := range bytesToWords(payload) {
		if err := f.send(ctx, w); err != nil {
			return err
		}
	}
	return nil
}

// RecvMessage reads a length-framed message back, stripping the long-message
// flag and returning the payload bytes (no trailing pad).
func (f *FIFO) RecvMessage(ctx context.Context) ([]byte, error) {
	header, err := f.recv(ctx)
	if err != nil {
		return nil, err
	}
	longMessage := header&constants.MailboxHeaderLongMessageFlag != 0
	byteLen := header &^ constants.MailboxHeaderLongMessageFlag
	if longMessage {
		// Vestige of an older protocol generation: an attached physical
		// page address follows the header. Drained to stay in sync with
		// the sender, but otherwise unused.
		if _, err := f.recv(ctx); err != nil {
			return nil, err
		}
	}
	if byteLen > constants.MailboxMaxRequestBytes {
		return nil, cantripos.NewError("mailbox.RecvMessage", cantripos.ErrCodeDeserializeFailed, "message too large")
	}
	wordCount := (byteLen + 3) / 4
	words := make([]uint32, wordCount)
	for i := range words {
		w, err := f.recv(ctx)
		if err != nil {
			return nil, err
		}
		words[i] = w
	}
	return wordsToBytes(words)[:byteLen], nil
}

func roundUpToWord(n uint32) uint32 { return (n + 3) &^ 3 }

func bytesToWords(b []byte) []uint32 {
	padded := make([]byte, roundUpToWord(uint32(len(b))))
	copy(padded, b)
	words := make([]uint32, len(padded)/4)
	for i := range words {
		words[i] = uint32(padded[i*4]) | uint32(padded[i*4+1])<<8 | uint32(padded[i*4+2])<<16 | uint32(padded[i*4+3])<<24
	}
	return words
}

func wordsToBytes(words []uint32) []byte {
	out := make([]byte, len(words)*4)
	for i, w := range words {
		out[i*4] = byte(w)
		out[i*4+1] = byte(w >> 8)
		out[i*4+2] = byte(w >> 16)
		out[i*4+3] = byte(w >> 24)
	}
	return out
}
