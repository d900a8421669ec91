// Package constants holds compiled-in defaults shared across perilib's layers.
package constants

import "time"

// Default configuration constants.
const (
	// DefaultCheckInterval is how often a Manager polls for device changes.
	DefaultCheckInterval = 1 * time.Second

	// DefaultRxQueueCapacity is the initial capacity of a PG's receive queue.
	DefaultRxQueueCapacity = 256

	// DefaultPollBufferSize is the scratch buffer size used when a Stream's
	// PollRX is invoked from a Manager-driven process loop.
	DefaultPollBufferSize = 4096
)

// NoTimeout marks an incoming/waiting packet timeout as disabled.
const NoTimeout time.Duration = 0
