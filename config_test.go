package cantripos

import "testing"

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.RingCapacity <= 0 {
		t.Errorf("RingCapacity = %d, want positive", cfg.RingCapacity)
	}
	if cfg.MaxApps <= 0 {
		t.Errorf("MaxApps = %d, want positive", cfg.MaxApps)
	}
	if cfg.AudioClockHz <= 0 {
		t.Errorf("AudioClockHz = %d, want positive", cfg.AudioClockHz)
	}
}
