package testutils

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/srg/blimp/internal/gatt"
	"github.com/srg/blimp/internal/peripheral"
)

// Response is one answer a Peripheral gave through FakeHost.Respond.
type Response struct {
	Handle peripheral.RequestHandle
	Status gatt.ATTError
	Value  []byte
}

// FakeHost is an in-memory peripheral.Host. Tests drive host events with
// the Emit* and Deliver* methods and inspect what the Peripheral submitted.
//
// With AutoAnswer set, every StartAdvertising and AddService is answered
// immediately with success.
type FakeHost struct {
	OpenErr      error
	CloseErr     error
	InitialPower peripheral.PowerState // reported on Open unless Unknown
	AutoAnswer   bool

	mu             sync.Mutex
	sink           peripheral.EventSink
	advertisements []*gatt.Advertisement
	services       []*gatt.ServiceDescriptor
	responses      []Response
	stops          int
	closed         bool

	advertising atomic.Bool
	nextHandle  atomic.Uint64
}

// NewFakeHost returns a host that powers on when opened.
func NewFakeHost() *FakeHost {
	return &FakeHost{InitialPower: peripheral.PoweredOn}
}

var errFakeNotOpen = errors.New("fake host: not open")

func (h *FakeHost) Open(sink peripheral.EventSink) error {
	if h.OpenErr != nil {
		return h.OpenErr
	}
	h.mu.Lock()
	h.sink = sink
	h.mu.Unlock()

	if h.InitialPower != peripheral.Unknown {
		sink.PowerStateChanged(h.InitialPower)
	}
	return nil
}

func (h *FakeHost) StartAdvertising(adv *gatt.Advertisement) {
	h.mu.Lock()
	h.advertisements = append(h.advertisements, adv)
	sink := h.sink
	h.mu.Unlock()

	if h.AutoAnswer {
		h.advertising.Store(true)
		sink.AdvertisingStarted(nil)
	}
}

func (h *FakeHost) StopAdvertising() {
	h.mu.Lock()
	h.stops++
	h.mu.Unlock()
	h.advertising.Store(false)
}

func (h *FakeHost) IsAdvertising() bool {
	return h.advertising.Load()
}

func (h *FakeHost) AddService(desc *gatt.ServiceDescriptor) {
	h.mu.Lock()
	h.services = append(h.services, desc)
	sink := h.sink
	h.mu.Unlock()

	if h.AutoAnswer {
		sink.ServiceAdded(desc, nil)
	}
}

func (h *FakeHost) Respond(handle peripheral.RequestHandle, status gatt.ATTError, value []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.responses = append(h.responses, Response{Handle: handle, Status: status, Value: value})
}

func (h *FakeHost) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return h.CloseErr
}

// Sink returns the sink passed to Open.
func (h *FakeHost) Sink() (peripheral.EventSink, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sink == nil {
		return nil, errFakeNotOpen
	}
	return h.sink, nil
}

func (h *FakeHost) mustSink() peripheral.EventSink {
	sink, err := h.Sink()
	if err != nil {
		panic(err)
	}
	return sink
}

// EmitPower reports a power state change.
func (h *FakeHost) EmitPower(state peripheral.PowerState) {
	if state != peripheral.PoweredOn {
		h.advertising.Store(false)
	}
	h.mustSink().PowerStateChanged(state)
}

// EmitAdvertisingStarted reports the outcome of the oldest start.
func (h *FakeHost) EmitAdvertisingStarted(err error) {
	h.advertising.Store(err == nil)
	h.mustSink().AdvertisingStarted(err)
}

// EmitAdvertisingStopped reports that the radio stopped advertising.
func (h *FakeHost) EmitAdvertisingStopped(err error) {
	h.advertising.Store(false)
	h.mustSink().AdvertisingStopped(err)
}

// EmitServiceAdded reports the outcome for desc.
func (h *FakeHost) EmitServiceAdded(desc *gatt.ServiceDescriptor, err error) {
	h.mustSink().ServiceAdded(desc, err)
}

// DeliverRead sends a read request and returns the handle assigned to it.
func (h *FakeHost) DeliverRead(req peripheral.Request) peripheral.RequestHandle {
	req.Handle = peripheral.RequestHandle(h.nextHandle.Add(1))
	h.mustSink().ReadRequested(req)
	return req.Handle
}

// DeliverWrites sends one batch of writes and returns the handles in order.
func (h *FakeHost) DeliverWrites(reqs ...peripheral.Request) []peripheral.RequestHandle {
	handles := make([]peripheral.RequestHandle, len(reqs))
	batch := make([]peripheral.Request, len(reqs))
	for i, req := range reqs {
		req.Handle = peripheral.RequestHandle(h.nextHandle.Add(1))
		handles[i] = req.Handle
		batch[i] = req
	}
	h.mustSink().WriteRequested(batch)
	return handles
}

// Advertisements returns every submitted advertising payload.
func (h *FakeHost) Advertisements() []*gatt.Advertisement {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*gatt.Advertisement(nil), h.advertisements...)
}

// Services returns every submitted service descriptor.
func (h *FakeHost) Services() []*gatt.ServiceDescriptor {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*gatt.ServiceDescriptor(nil), h.services...)
}

// Responses returns every answer in the order it was given.
func (h *FakeHost) Responses() []Response {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Response(nil), h.responses...)
}

// Stops is the number of StopAdvertising calls.
func (h *FakeHost) Stops() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stops
}

// Closed reports whether Close was called.
func (h *FakeHost) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

var _ peripheral.Host = (*FakeHost)(nil)
