// Package bluez implements peripheral.Host over the BlueZ D-Bus API.
package bluez

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/godbus/dbus/v5"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blimp/internal/gatt"
	"github.com/srg/blimp/internal/groutine"
	"github.com/srg/blimp/internal/peripheral"
)

const (
	bluezService       = "org.bluez"
	ifaceAdapter       = "org.bluez.Adapter1"
	ifaceGattManager   = "org.bluez.GattManager1"
	ifaceAdvertManager = "org.bluez.LEAdvertisingManager1"

	objectRoot = "/org/blimp"
)

// BusFactory opens a private system bus connection (can be overridden in tests)
//
//nolint:revive // BusFactory name is intentional for test mocking
var BusFactory = func() (*dbus.Conn, error) {
	return dbus.ConnectSystemBus()
}

// Options configures the BlueZ host
type Options struct {
	AdapterID string `default:"hci0"`
	// RequestTimeout bounds how long a central's request waits for the core.
	RequestTimeout time.Duration `default:"2s"`
}

// DefaultOptions returns the default BlueZ host options
func DefaultOptions() *Options {
	opts := &Options{}
	defaults.SetDefaults(opts)
	return opts
}

type response struct {
	status gatt.ATTError
	value  []byte
}

// Host is a peripheral.Host over BlueZ.
//
// Outbound submissions run in order on one worker goroutine. Adapter power
// follows the Adapter1.Powered property and its PropertiesChanged signals.
type Host struct {
	logger *logrus.Logger
	opts   Options

	sink    peripheral.EventSink
	conn    *dbus.Conn     // worker only until closed
	adapter dbus.BusObject // worker only
	adv     *advertisement // worker only
	apps    []*application // worker only
	ids     atomic.Uint64

	powered     atomic.Bool
	advertising atomic.Bool

	jobs    chan func()
	pending *hashmap.Map[peripheral.RequestHandle, chan response]
	handles atomic.Uint64

	ctx       context.Context
	cancel    context.CancelFunc
	workerWG  sync.WaitGroup
	closeOnce sync.Once
}

// NewHost creates a BlueZ host. A nil logger gets logrus.New(); nil opts get
// DefaultOptions().
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

func (h *Host) adapterPath() dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + h.opts.AdapterID)
}

// Open starts the worker, connects to the system bus and reports the
// adapter's power state.
func (h *Host) Open(sink peripheral.EventSink) error {
	if h.sink != nil {
		return errors.New("bluez: host already open")
	}
	h.sink = sink

	h.workerWG.Add(1)
	groutine.Go(h.ctx, "bluez-host-worker", func(ctx context.Context) {
		defer h.workerWG.Done()
		h.work(ctx)
	})

	h.submit(func() {
		if err := h.connect(); err != nil {
			state := powerStateFor(err)
			h.logger.WithError(err).WithField("state", state).Warn("Failed to reach BlueZ adapter")
			sink.PowerStateChanged(state)
		}
	})
	return nil
}

func (h *Host) connect() error {
	conn, err := BusFactory()
	if err != nil {
		return normalizeError(err)
	}
	h.conn = conn
	h.adapter = conn.Object(bluezService, h.adapterPath())

	// Subscribe before the first read so no transition is lost in between.
	signals := make(chan *dbus.Signal, 16)
	conn.Signal(signals)
	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(h.adapterPath()),
		dbus.WithMatchInterface(ifaceProperties),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchArg(0, ifaceAdapter),
	); err != nil {
		return normalizeError(fmt.Errorf("bluez: add match PropertiesChanged: %w", err))
	}
	groutine.Go(h.ctx, "bluez-adapter-signals", func(ctx context.Context) {
		h.watchSignals(ctx, signals)
	})

	v, err := h.adapter.GetProperty(ifaceAdapter + ".Powered")
	if err != nil {
		return normalizeError(err)
	}
	powered, _ := v.Value().(bool)
	h.logger.WithFields(logrus.Fields{"adapter": h.adapterPath(), "powered": powered}).Debug("BlueZ adapter found")
	h.setPowered(powered)
	return nil
}

func (h *Host) setPowered(powered bool) {
	h.powered.Store(powered)
	if powered {
		h.sink.PowerStateChanged(peripheral.PoweredOn)
	} else {
		h.sink.PowerStateChanged(peripheral.PoweredOff)
	}
}

func (h *Host) watchSignals(ctx context.Context, signals <-chan *dbus.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			if powered, ok := poweredChange(sig, h.adapterPath()); ok {
				h.setPowered(powered)
			}
		}
	}
}

// poweredChange extracts a Powered transition of the adapter at path.
func poweredChange(sig *dbus.Signal, path dbus.ObjectPath) (bool, bool) {
	if sig == nil || sig.Path != path || sig.Name != ifaceProperties+".PropertiesChanged" || len(sig.Body) < 2 {
		return false, false
	}
	if iface, ok := sig.Body[0].(string); !ok || iface != ifaceAdapter {
		return false, false
	}
	changes, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return false, false
	}
	v, ok := changes["Powered"]
	if !ok {
		return false, false
	}
	powered, ok := v.Value().(bool)
	return powered, ok
}

func (h *Host) work(ctx context.Context) {
	for {
		select {
		case job := <-h.jobs:
			job()
		case <-ctx.Done():
			h.teardown()
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

func (h *Host) nextPath(kind string) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("%s/%s%d", objectRoot, kind, h.ids.Add(1)))
}

func (h *Host) StartAdvertising(adv *gatt.Advertisement) {
	h.submit(func() { h.startAdvertising(adv) })
}

func (h *Host) startAdvertising(adv *gatt.Advertisement) {
	if h.conn == nil || !h.powered.Load() {
		h.sink.AdvertisingStarted(peripheral.ErrNotPoweredOn)
		return
	}
	if h.adv != nil {
		h.sink.AdvertisingStarted(peripheral.ErrAlreadyAdvertising)
		return
	}

	a := newAdvertisement(h.nextPath("advertisement"), adv, h.released)
	if err := a.export(h.conn); err != nil {
		a.unexport(h.conn)
		h.sink.AdvertisingStarted(fmt.Errorf("bluez: export advertisement: %w", err))
		return
	}
	call := h.adapter.Call(ifaceAdvertManager+".RegisterAdvertisement", 0, a.path, map[string]dbus.Variant{})
	if call.Err != nil {
		a.unexport(h.conn)
		h.sink.AdvertisingStarted(normalizeError(call.Err))
		return
	}

	h.adv = a
	h.advertising.Store(true)
	h.logger.WithField("path", a.path).Debug("Advertisement registered")
	h.sink.AdvertisingStarted(nil)
}

// released handles BlueZ dropping the advertisement by itself.
func (h *Host) released(a *advertisement) {
	groutine.Go(h.ctx, "bluez-advertisement-release", func(context.Context) {
		h.submit(func() {
			if h.adv != a {
				return
			}
			h.adv = nil
			h.advertising.Store(false)
			a.unexport(h.conn)
			h.logger.WithField("path", a.path).Debug("Advertisement released by BlueZ")
			h.sink.AdvertisingStopped(nil)
		})
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
	h.advertising.Store(false)
	call := h.adapter.Call(ifaceAdvertManager+".UnregisterAdvertisement", 0, a.path)
	if call.Err != nil {
		if name, _ := dbusErrorName(call.Err); name != errBluezDoesNotExist {
			h.logger.WithError(call.Err).Warn("Failed to unregister advertisement")
		}
	}
	a.unexport(h.conn)
}

func (h *Host) IsAdvertising() bool {
	return h.advertising.Load()
}

func (h *Host) AddService(desc *gatt.ServiceDescriptor) {
	h.submit(func() {
		if h.conn == nil || !h.powered.Load() {
			h.sink.ServiceAdded(desc, peripheral.ErrNotPoweredOn)
			return
		}
		app := newApplication(h.nextPath("app"), desc, h)
		if err := app.export(h.conn); err != nil {
			app.unexport(h.conn)
			h.sink.ServiceAdded(desc, err)
			return
		}
		call := h.adapter.Call(ifaceGattManager+".RegisterApplication", 0, app.root, map[string]dbus.Variant{})
		if call.Err != nil {
			app.unexport(h.conn)
			h.sink.ServiceAdded(desc, normalizeError(call.Err))
			return
		}
		h.apps = append(h.apps, app)
		h.sink.ServiceAdded(desc, nil)
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

func (h *Host) forward(req peripheral.Request, post func(peripheral.Request)) response {
	req.Handle = peripheral.RequestHandle(h.handles.Add(1))
	ch := make(chan response, 1)
	h.pending.Set(req.Handle, ch)
	defer h.pending.Del(req.Handle)

	post(req)

	timer := time.NewTimer(h.opts.RequestTimeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r
	case <-timer.C:
		h.logger.WithField("request", req).Warn("Request timed out waiting for a response")
		return response{status: gatt.ATTUnlikelyError}
	case <-h.ctx.Done():
		return response{status: gatt.ATTUnlikelyError}
	}
}

func (h *Host) forwardRead(req peripheral.Request) (gatt.ATTError, []byte) {
	r := h.forward(req, h.sink.ReadRequested)
	return r.status, r.value
}

func (h *Host) forwardWrite(req peripheral.Request) gatt.ATTError {
	return h.forward(req, func(req peripheral.Request) {
		h.sink.WriteRequested([]peripheral.Request{req})
	}).status
}

// teardown unregisters everything this host put on the bus.
func (h *Host) teardown() {
	if h.conn == nil {
		return
	}
	h.stopAdvertising()
	for _, app := range h.apps {
		if call := h.adapter.Call(ifaceGattManager+".UnregisterApplication", 0, app.root); call.Err != nil {
			h.logger.WithError(call.Err).WithField("path", app.root).Debug("Failed to unregister application")
		}
		app.unexport(h.conn)
	}
	h.apps = nil
}

// Close unregisters advertising and services, stops the worker and closes
// the bus connection.
func (h *Host) Close() error {
	var err error
	h.closeOnce.Do(func() {
		h.cancel()
		h.workerWG.Wait()
		if h.conn != nil {
			err = h.conn.Close()
		}
	})
	return err
}

var _ peripheral.Host = (*Host)(nil)
