package main

import (
	"testing"

	"github.com/cantripos/cantripos"
)

func TestDemoMLCoordinatorOneshotProducesOutput(t *testing.T) {
	m := newDemoMLCoordinator()
	if err := m.Oneshot("app1", "classifier"); err != nil {
		t.Fatalf("Oneshot: %v", err)
	}
	mask, err := m.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if mask != 1<<31 {
		t.Errorf("Wait mask = %#x, want %#x", mask, uint32(1<<31))
	}
	out, err := m.Output("app1", "classifier")
	if err != nil {
		t.Fatalf("Output: %v", err)
	}
	if len(out) == 0 {
		t.Error("Output returned no bytes")
	}
}

func TestDemoMLCoordinatorOutputBeforeCompletionErrors(t *testing.T) {
	m := newDemoMLCoordinator()
	if _, err := m.Output("app1", "classifier"); !cantripos.IsCode(err, cantripos.ErrCodeNoModelOutput) {
		t.Fatalf("Output before completion = %v, want ErrCodeNoModelOutput", err)
	}
}

func TestDemoMLCoordinatorCancelClearsOutput(t *testing.T) {
	m := newDemoMLCoordinator()
	if err := m.Oneshot("app1", "classifier"); err != nil {
		t.Fatalf("Oneshot: %v", err)
	}
	if _, err := m.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if err := m.Cancel("app1", "classifier"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := m.Output("app1", "classifier"); !cantripos.IsCode(err, cantripos.ErrCodeNoModelOutput) {
		t.Fatalf("Output after cancel = %v, want ErrCodeNoModelOutput", err)
	}
}

func TestDemoMLCoordinatorPollWithoutCompletion(t *testing.T) {
	m := newDemoMLCoordinator()
	mask, err := m.Poll()
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if mask != 0 {
		t.Errorf("Poll mask = %#x, want 0", mask)
	}
}
