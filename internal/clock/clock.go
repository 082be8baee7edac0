// Package clock and the accompanying id generator are the two
// out-of-scope collaborators the core consumes rather than owns: a
// wall-clock source and a UUID source. Keeping them behind small
// interfaces lets the router and transports stamp events
// deterministically in tests.
package clock

import (
	"time"

	"github.com/google/uuid"
)

// Clock yields the current wall-clock time.
type Clock interface {
	Now() time.Time
}

// IDGenerator yields unique textual identifiers, used for event_id.
type IDGenerator interface {
	NewID() string
}

// System is the production Clock backed by time.Now.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// UUIDGenerator is the production IDGenerator, emitting UUID v4 text.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string { return uuid.NewString() }
