package cantripos

import "github.com/cantripos/cantripos/internal/constants"

// Re-exported tunables, for callers that only need the module root import
// rather than internal/constants directly.
const (
	RuntimeIDSpaceBits     = constants.RuntimeIDSpaceBits
	MaxAppLocalTimers      = constants.MaxAppLocalTimers
	AudioRingCapacity      = constants.AudioRingCapacity
	KeyValueMaxBytes       = constants.KeyValueMaxBytes
	MailboxMaxRequestBytes = constants.MailboxMaxRequestBytes
	SharedPageSize         = constants.SharedPageSize
	MaxModelOutputBytes    = constants.MaxModelOutputBytes
	RequestTagBase         = constants.RequestTagBase
)
