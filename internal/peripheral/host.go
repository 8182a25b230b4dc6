package peripheral

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/srg/blimp/internal/gatt"
)

// RequestHandle is an opaque token the host issues per inbound request.
// The core echoes it back in Host.Respond and never interprets it.
type RequestHandle uint64

// Request is one inbound read or write from a connected central.
type Request struct {
	Handle         RequestHandle
	Service        uuid.UUID
	Characteristic uuid.UUID
	Central        string // remote address or identifier, as reported by the host
	Offset         int
	Value          []byte // write payload; nil for reads
}

func (r Request) String() string {
	return fmt.Sprintf("#%d %s/%s from %s offset=%d len=%d",
		r.Handle, gatt.ShortUUID(r.Service), gatt.ShortUUID(r.Characteristic), r.Central, r.Offset, len(r.Value))
}

// EventSink receives the host stack's asynchronous events. Implementations
// must be safe to call from any goroutine.
type EventSink interface {
	PowerStateChanged(state PowerState)
	AdvertisingStarted(err error)
	AdvertisingStopped(err error)
	ServiceAdded(desc *gatt.ServiceDescriptor, err error)
	ReadRequested(req Request)
	WriteRequested(reqs []Request)
}

// Host is the platform BLE stack a Peripheral drives.
//
// Outbound calls must not block on the outcome: results are reported
// through the EventSink passed to Open, at most once per submission and in
// submission order.
type Host interface {
	// Open attaches the sink and starts delivering events. The host reports
	// its initial power state through the sink.
	Open(sink EventSink) error
	StartAdvertising(adv *gatt.Advertisement)
	StopAdvertising()
	// IsAdvertising reports the live radio state, not a cached intent.
	IsAdvertising() bool
	AddService(desc *gatt.ServiceDescriptor)
	// Respond answers one request. It is called exactly once per handle.
	Respond(handle RequestHandle, status gatt.ATTError, value []byte)
	Close() error
}
