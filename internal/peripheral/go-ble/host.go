package goble

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/google/uuid"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blimp/internal/gatt"
	"github.com/srg/blimp/internal/groutine"
	"github.com/srg/blimp/internal/peripheral"
)

// Options configures the go-ble host
type Options struct {
	// RequestTimeout bounds how long a central's request waits for the core.
	RequestTimeout time.Duration `default:"2s"`
	// AdvertiseSettle is how long advertising must run without an error
	// before it is reported as started. go-ble has no start callback.
	AdvertiseSettle time.Duration `default:"250ms"`
}

// DefaultOptions returns the default go-ble host options
func DefaultOptions() *Options {
	opts := &Options{}
	defaults.SetDefaults(opts)
	return opts
}

var errAdvertisingEnded = errors.New("advertising ended immediately")

type response struct {
	status gatt.ATTError
	value  []byte
}

// advertisement is one running AdvertiseNameAndServices call.
type advertisement struct {
	cancel  context.CancelFunc
	stopped atomic.Bool
	done    chan struct{}
}

// Host is a peripheral.Host over a go-ble device.
//
// All outbound submissions run in order on a single worker goroutine. The
// device is opened on that worker; go-ble reports no later power changes,
// so the reported state only follows the open result.
type Host struct {
	logger *logrus.Logger
	opts   Options

	sink peripheral.EventSink
	dev  ble.Device // worker only

	jobs    chan func()
	pending *hashmap.Map[peripheral.RequestHandle, chan response]
	handles atomic.Uint64

	advertising atomic.Bool
	adv         *advertisement // worker only

	ctx       context.Context
	cancel    context.CancelFunc
	workerWG  sync.WaitGroup
	closeOnce sync.Once
}

// NewHost creates a go-ble host. A nil logger gets logrus.New(); nil opts
// get DefaultOptions().
func NewHost(logger *logrus.Logger, opts *Options) *Host {
	if logger == nil {
		logger = logrus.New()
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Host{
		logger:  logger,
		opts:    *opts,
		jobs:    make(chan func(), 32),
		pending: hashmap.New[peripheral.RequestHandle, chan response](),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Open starts the worker and opens the device on it. The power state is
// reported once the device is open or has failed to open. Open must be
// called before any other method.
func (h *Host) Open(sink peripheral.EventSink) error {
	if h.sink != nil {
		return errors.New("goble: host already open")
	}
	h.sink = sink

	h.workerWG.Add(1)
	groutine.Go(h.ctx, "goble-host-worker", func(ctx context.Context) {
		defer h.workerWG.Done()
		h.work(ctx)
	})

	h.submit(func() {
		dev, err := DeviceFactory()
		if err != nil {
			err = NormalizeError(err)
			state := PowerStateFor(err)
			h.logger.WithError(err).WithField("state", state).Warn("Failed to open BLE device")
			sink.PowerStateChanged(state)
			return
		}
		h.dev = dev
		h.logger.Debug("BLE device opened")
		sink.PowerStateChanged(peripheral.PoweredOn)
	})
	return nil
}

func (h *Host) work(ctx context.Context) {
	for {
		select {
		case job := <-h.jobs:
			job()
		case <-ctx.Done():
			h.stopAdvertising()
			return
		}
	}
}

func (h *Host) submit(job func()) {
	select {
	case h.jobs <- job:
	case <-h.ctx.Done():
	}
}

func (h *Host) StartAdvertising(adv *gatt.Advertisement) {
	h.submit(func() { h.startAdvertising(adv) })
}

func (h *Host) startAdvertising(adv *gatt.Advertisement) {
	if h.dev == nil {
		h.sink.AdvertisingStarted(peripheral.ErrNotPoweredOn)
		return
	}
	if h.adv != nil {
		select {
		case <-h.adv.done:
			h.adv = nil
		default:
			h.sink.AdvertisingStarted(peripheral.ErrAlreadyAdvertising)
			return
		}
	}

	services, err := adv.Services()
	if err != nil {
		h.sink.AdvertisingStarted(err)
		return
	}
	uuids := make([]ble.UUID, len(services))
	for i, u := range services {
		uuids[i] = ToBLEUUID(u)
	}

	ctx, cancel := context.WithCancel(h.ctx)
	a := &advertisement{cancel: cancel, done: make(chan struct{})}
	result := make(chan error, 1)
	dev, name := h.dev, adv.LocalName()
	groutine.Go(ctx, "goble-advertise", func(ctx context.Context) {
		result <- dev.AdvertiseNameAndServices(ctx, name, uuids...)
	})

	select {
	case err := <-result:
		cancel()
		if err == nil {
			err = errAdvertisingEnded
		}
		h.sink.AdvertisingStarted(NormalizeError(err))
		return
	case <-time.After(h.opts.AdvertiseSettle):
	}

	h.adv = a
	h.advertising.Store(true)
	h.sink.AdvertisingStarted(nil)

	groutine.Go(h.ctx, "goble-advertise-watch", func(context.Context) {
		err := <-result
		h.advertising.Store(false)
		close(a.done)
		if !a.stopped.Load() && h.ctx.Err() == nil {
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			h.sink.AdvertisingStopped(NormalizeError(err))
		}
	})
}

func (h *Host) StopAdvertising() {
	h.submit(h.stopAdvertising)
}

func (h *Host) stopAdvertising() {
	a := h.adv
	if a == nil {
		return
	}
	h.adv = nil
	a.stopped.Store(true)
	a.cancel()
	<-a.done
	h.advertising.Store(false)
}

func (h *Host) IsAdvertising() bool {
	return h.advertising.Load()
}

func (h *Host) AddService(desc *gatt.ServiceDescriptor) {
	h.submit(func() {
		if h.dev == nil {
			h.sink.ServiceAdded(desc, peripheral.ErrNotPoweredOn)
			return
		}
		err := h.dev.AddService(toBLEService(desc, h))
		h.sink.ServiceAdded(desc, NormalizeError(err))
	})
}

// Respond completes the request waiting on handle. Late answers for
// requests that already timed out are dropped.
func (h *Host) Respond(handle peripheral.RequestHandle, status gatt.ATTError, value []byte) {
	ch, ok := h.pending.Get(handle)
	if !ok {
		h.logger.WithField("handle", handle).Debug("Response for an unknown or expired request")
		return
	}
	select {
	case ch <- response{status: status, value: value}:
	default:
	}
}

// forward posts a request built for a fresh handle and waits for its answer.
func (h *Host) forward(post func(handle peripheral.RequestHandle)) response {
	handle := peripheral.RequestHandle(h.handles.Add(1))
	ch := make(chan response, 1)
	h.pending.Set(handle, ch)
	defer h.pending.Del(handle)

	post(handle)

	timer := time.NewTimer(h.opts.RequestTimeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r
	case <-timer.C:
		h.logger.WithField("handle", handle).Warn("Request timed out waiting for a response")
		return response{status: gatt.ATTUnlikelyError}
	case <-h.ctx.Done():
		return response{status: gatt.ATTUnlikelyError}
	}
}

func centralOf(req ble.Request) string {
	if conn := req.Conn(); conn != nil && conn.RemoteAddr() != nil {
		return conn.RemoteAddr().String()
	}
	return ""
}

func (h *Host) readHandler(service, characteristic uuid.UUID) ble.ReadHandler {
	return ble.ReadHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
		r := h.forward(func(handle peripheral.RequestHandle) {
			h.sink.ReadRequested(peripheral.Request{
				Handle:         handle,
				Service:        service,
				Characteristic: characteristic,
				Central:        centralOf(req),
				Offset:         req.Offset(),
			})
		})
		rsp.SetStatus(ble.ATTError(r.status))
		if !r.status.OK() {
			return
		}
		value := r.value
		if c := rsp.Cap(); c >= 0 && len(value) > c {
			value = value[:c]
		}
		if _, err := rsp.Write(value); err != nil {
			h.logger.WithError(err).Warn("Failed to write read response")
		}
	})
}

func (h *Host) writeHandler(service, characteristic uuid.UUID) ble.WriteHandler {
	return ble.WriteHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
		r := h.forward(func(handle peripheral.RequestHandle) {
			h.sink.WriteRequested([]peripheral.Request{{
				Handle:         handle,
				Service:        service,
				Characteristic: characteristic,
				Central:        centralOf(req),
				Offset:         req.Offset(),
				Value:          append([]byte(nil), req.Data()...),
			}})
		})
		rsp.SetStatus(ble.ATTError(r.status))
	})
}

// Close stops advertising, the worker and the device.
func (h *Host) Close() error {
	var err error
	h.closeOnce.Do(func() {
		h.cancel()
		h.workerWG.Wait()
		if h.dev != nil {
			err = NormalizeError(h.dev.Stop())
		}
	})
	return err
}

var _ peripheral.Host = (*Host)(nil)
