// Package goble holds testify mocks for go-ble interfaces.
package goble

import (
	"context"
	"sync"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// MockDevice mocks the peripheral side of ble.Device. Methods not
// overridden here panic through the embedded nil interface.
type MockDevice struct {
	ble.Device
	mock.Mock

	mu       sync.Mutex
	services []*ble.Service
}

func (m *MockDevice) AddService(svc *ble.Service) error {
	m.mu.Lock()
	m.services = append(m.services, svc)
	m.mu.Unlock()

	args := m.Called(svc)
	return args.Error(0)
}

// AdvertiseNameAndServices returns the mocked error, or blocks until ctx
// is done when the mock returns nil (like a real radio does).
func (m *MockDevice) AdvertiseNameAndServices(ctx context.Context, name string, uuids ...ble.UUID) error {
	args := m.Called(ctx, name, uuids)
	if err := args.Error(0); err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *MockDevice) Stop() error {
	args := m.Called()
	return args.Error(0)
}

// Services returns every service passed to AddService.
func (m *MockDevice) Services() []*ble.Service {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*ble.Service(nil), m.services...)
}

// MockRequest is a ble.Request from a fixed central.
type MockRequest struct {
	ble.Request
	Addr       string
	Payload    []byte
	ReadOffset int
}

func (r *MockRequest) Conn() ble.Conn { return &mockConn{addr: ble.NewAddr(r.Addr)} }
func (r *MockRequest) Data() []byte { return r.Payload }
func (r *MockRequest) Offset() int { return r.ReadOffset }

type mockConn struct {
	ble.Conn
	addr ble.Addr
}

func (c *mockConn) RemoteAddr() ble.Addr { return c.addr }

// MockResponseWriter records what a handler answered.
type MockResponseWriter struct {
	ble.ResponseWriter
	Capacity int
	status   ble.ATTError
	written  []byte
}

func NewResponseWriter(capacity int) *MockResponseWriter {
	return &MockResponseWriter{Capacity: capacity}
}

func (w *MockResponseWriter) Write(b []byte) (int, error) {
	w.written = append(w.written, b...)
	return len(b), nil
}

func (w *MockResponseWriter) Status() ble.ATTError { return w.status }
func (w *MockResponseWriter) SetStatus(status ble.ATTError) { w.status = status }
func (w *MockResponseWriter) Len() int { return len(w.written) }
func (w *MockResponseWriter) Cap() int { return w.Capacity }

// Written returns the bytes the handler wrote.
func (w *MockResponseWriter) Written() []byte {
	return w.written
}
