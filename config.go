package cantripos

import "github.com/cantripos/cantripos/internal/constants"

// Config carries the boot-time tunables a CantripOS process is configured
// with: values a real seL4 boot sequence would bake into the rootserver's
// CDL rather than parse from a config file, but exposed here so
// cmd/cantripd and tests can vary them.
type Config struct {
	// RingCapacity is the sample capacity of each audio RX/TX ring.
	RingCapacity int

	// MaxApps bounds the number of concurrently registered SDK Runtime
	// clients.
	MaxApps int

	// AudioClockHz is the fixed peripheral clock the I2S NCO divider is
	// computed from.
	AudioClockHz int
}

// DefaultConfig returns the tunables the reference hardware defaults imply:
// full ring capacity and the documented audio clock.
func DefaultConfig() Config {
	return Config{
		RingCapacity: constants.AudioRingCapacity,
		MaxApps:      32,
		AudioClockHz: constants.AudioClockFreqHz,
	}
}
