package cantripos

import "testing"

func TestMemoryKeyValueStoreRoundTrip(t *testing.T) {
	s := NewMemoryKeyValueStore()
	if err := s.Write("app1", "volume", []byte{7}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("app1", "volume")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 1 || got[0] != 7 {
		t.Errorf("Read = %v, want [7]", got)
	}
}

func TestMemoryKeyValueStoreReadMissing(t *testing.T) {
	s := NewMemoryKeyValueStore()
	if _, err := s.Read("app1", "absent"); !IsCode(err, ErrCodeUnknownError) {
		t.Fatalf("expected ErrCodeUnknownError, got %v", err)
	}
}

func TestMemoryKeyValueStoreIsolatesApps(t *testing.T) {
	s := NewMemoryKeyValueStore()
	s.Write("app1", "k", []byte("one"))
	s.Write("app2", "k", []byte("two"))

	got1, _ := s.Read("app1", "k")
	got2, _ := s.Read("app2", "k")
	if string(got1) != "one" || string(got2) != "two" {
		t.Errorf("got app1=%q app2=%q, want one/two", got1, got2)
	}
}

func TestMemoryKeyValueStoreWriteRejectsOversizedValue(t *testing.T) {
	s := NewMemoryKeyValueStore()
	big := make([]byte, 4096)
	if err := s.Write("app1", "k", big); !IsCode(err, ErrCodeInvalidInputRange) {
		t.Fatalf("expected ErrCodeInvalidInputRange, got %v", err)
	}
}

func TestMemoryKeyValueStoreDeleteThenRead(t *testing.T) {
	s := NewMemoryKeyValueStore()
	s.Write("app1", "k", []byte("v"))
	if err := s.Delete("app1", "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read("app1", "k"); !IsCode(err, ErrCodeUnknownError) {
		t.Fatalf("expected ErrCodeUnknownError after delete, got %v", err)
	}
}

func TestMemoryKeyValueStoreCallCounts(t *testing.T) {
	s := NewMemoryKeyValueStore()
	s.Write("app1", "k", []byte("v"))
	s.Read("app1", "k")
	s.Read("app1", "k")
	s.Delete("app1", "k")

	counts := s.CallCounts()
	if counts["write"] != 1 || counts["read"] != 2 || counts["delete"] != 1 {
		t.Errorf("CallCounts = %v, want write=1 read=2 delete=1", counts)
	}
}
