package peripheral

import (
	"time"

	"github.com/google/uuid"
	"github.com/srg/blimp/internal/gatt"
)

// EventKind identifies what an Event reports.
type EventKind int

const (
	EventPowerChanged EventKind = iota
	EventAdvertisingStarted
	EventAdvertisingStopped
	EventServiceAdded
	EventRead
	EventWrite
)

func (k EventKind) String() string {
	switch k {
	case EventPowerChanged:
		return "power-changed"
	case EventAdvertisingStarted:
		return "advertising-started"
	case EventAdvertisingStopped:
		return "advertising-stopped"
	case EventServiceAdded:
		return "service-added"
	case EventRead:
		return "read"
	case EventWrite:
		return "write"
	default:
		return "unknown"
	}
}

// Event is an observer notification emitted after the dispatch goroutine
// has handled a host event. The feed is lossy: slow observers lose the
// oldest events.
type Event struct {
	Kind    EventKind
	Time    time.Time
	Power   PowerState    // EventPowerChanged
	Service uuid.UUID     // EventServiceAdded
	Request *Request      // EventRead, EventWrite
	Status  gatt.ATTError // EventRead, EventWrite
	Err     error         // host-reported failure, if any
}
