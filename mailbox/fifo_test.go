package mailbox

import (
	"context"
	"testing"
)

func TestFIFOMessageRoundTrip(t *testing.T) {
	regs := NewLoopbackRegisters()
	fifo := NewFIFO(regs)

	payload := []byte("hello mailbox")
	if err := fifo.SendMessage(context.Background(), payload, false); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	got, err := fifo.RecvMessage(context.Background())
	if err != nil {
		t.Fatalf("RecvMessage: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("RecvMessage = %q, want %q", got, payload)
	}
}

func TestFIFOEmptyPayload(t *testing.T) {
	regs := NewLoopbackRegisters()
	fifo := NewFIFO(regs)

	if err := fifo.SendMessage(context.Background(), nil, false); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	got, err := fifo.RecvMessage(context.Background())
	if err != nil {
		t.Fatalf("RecvMessage: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("RecvMessage = %q, want empty", got)
	}
}

func TestFIFORecvFailsOnCanceledContext(t *testing.T) {
	regs := NewLoopbackRegisters()
	fifo := NewFIFO(regs)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := fifo.RecvMessage(ctx); err == nil {
		t.Fatal("expected error receiving from an empty FIFO on a canceled context")
	}
}
