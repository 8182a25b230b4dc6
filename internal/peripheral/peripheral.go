package peripheral

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blimp/internal/gatt"
	"github.com/srg/blimp/internal/groutine"
	"github.com/srg/blimp/internal/ringchan"
)

// Options configures a Peripheral
type Options struct {
	SubmissionTimeout time.Duration `default:"5s"` // zero disables the timeout
	EventBuffer       int           `default:"64"`
	QueueSize         int           `default:"256"` // host events waiting for dispatch
}

// DefaultOptions returns the default peripheral options
func DefaultOptions() *Options {
	opts := &Options{}
	defaults.SetDefaults(opts)
	return opts
}

// Peripheral is the peripheral-role state machine over one Host.
//
// Power state and advertising intent are written only by the dispatch
// goroutine and may be read from any goroutine.
type Peripheral struct {
	host     Host
	logger   *logrus.Logger
	opts     Options
	servicer *Servicer

	power         atomic.Int32
	advertising   atomic.Bool
	everPoweredOn atomic.Bool

	powerMu      sync.Mutex
	powerChanged chan struct{} // closed and replaced on every power event

	queue  chan func()
	events *ringchan.RingChannel[Event]

	// dispatch goroutine only
	pendingAdvertising pendingQueue
	pendingServices    pendingQueue

	// postMu guards stopped; inflight counts posts admitted before it was set.
	postMu   sync.Mutex
	stopped  bool
	inflight sync.WaitGroup

	closing   chan struct{}
	closeOnce sync.Once
	closeErr  error
	done      <-chan struct{}
}

// New creates a Peripheral, starts its dispatch goroutine and opens host.
// A nil logger gets logrus.New(); nil opts get DefaultOptions().
func New(host Host, logger *logrus.Logger, opts *Options) (*Peripheral, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	if o.EventBuffer <= 0 {
		o.EventBuffer = 64
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}

	p := &Peripheral{
		host:         host,
		logger:       logger,
		opts:         o,
		servicer:     NewServicer(logger),
		powerChanged: make(chan struct{}),
		queue:        make(chan func(), o.QueueSize),
		events:       ringchan.New[Event](o.EventBuffer),
		closing:      make(chan struct{}),
	}
	p.done = groutine.Go(context.Background(), "peripheral-dispatch", p.run)

	if err := host.Open(&sink{p: p}); err != nil {
		p.shutdown()
		return nil, hostError("open", err)
	}
	return p, nil
}

func (p *Peripheral) run(ctx context.Context) {
	for {
		select {
		case fn := <-p.queue:
			fn()
		case <-p.closing:
			p.flush()
			return
		}
	}
}

// flush runs the commands and events queued before Close, then fails the
// submissions still waiting for a host outcome.
func (p *Peripheral) flush() {
	// No post is admitted any more, so the queue only shrinks.
	for len(p.queue) > 0 {
		fn := <-p.queue
		fn()
	}
	n := p.pendingAdvertising.drain(ErrClosed) + p.pendingServices.drain(ErrClosed)
	if n > 0 {
		p.logger.WithField("pending", n).Debug("Failed pending submissions on close")
	}
}

// post queues fn for the dispatch goroutine. It reports false once Close
// has begun; a post that returns true is run before the goroutine exits.
func (p *Peripheral) post(fn func()) bool {
	p.postMu.Lock()
	if p.stopped {
		p.postMu.Unlock()
		return false
	}
	p.inflight.Add(1)
	p.postMu.Unlock()
	defer p.inflight.Done()

	p.queue <- fn
	return true
}

func (p *Peripheral) emit(ev Event) {
	ev.Time = time.Now()
	if p.events.Send(ev) {
		p.logger.WithField("kind", ev.Kind).Trace("Event feed full, dropped oldest event")
	}
}

// Servicer returns the request servicer, for installing handlers.
func (p *Peripheral) Servicer() *Servicer {
	return p.servicer
}

// Events is the lossy observer feed. It is closed by Close.
func (p *Peripheral) Events() <-chan Event {
	return p.events.C()
}

// PowerState returns the last power state reported by the host.
func (p *Peripheral) PowerState() PowerState {
	return PowerState(p.power.Load())
}

// IsPoweredOn reports whether the last reported power state is PoweredOn.
func (p *Peripheral) IsPoweredOn() bool {
	return p.PowerState() == PoweredOn
}

// IsAdvertising asks the host for the live advertising state.
func (p *Peripheral) IsAdvertising() bool {
	return p.host.IsAdvertising()
}

// AdvertisingIntent returns the locally tracked advertising flag: set by a
// successful start, cleared by stop, power-off, or a host-reported stop.
func (p *Peripheral) AdvertisingIntent() bool {
	return p.advertising.Load()
}

// WaitPoweredOn blocks until the radio is PoweredOn. It fails with a
// *PowerStateError if the host reports Unsupported or Unauthorized.
func (p *Peripheral) WaitPoweredOn(ctx context.Context) error {
	for {
		p.powerMu.Lock()
		changed := p.powerChanged
		p.powerMu.Unlock()

		state := p.PowerState()
		if state == PoweredOn {
			return nil
		}
		if !state.Usable() {
			return &PowerStateError{State: state}
		}

		select {
		case <-changed:
		case <-p.closing:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// StartAdvertising composes the payload and submits it. The submission
// resolves when the host reports the outcome. Starting while already
// advertising or while not powered on is left to the host to judge.
func (p *Peripheral) StartAdvertising(name string, uuids []uuid.UUID) *Submission {
	adv := gatt.ComposeAdvertisement(name, uuids)
	sub := newSubmission(SubmitAdvertising)

	ok := p.post(func() {
		p.track(&p.pendingAdvertising, sub)
		p.logger.WithFields(logrus.Fields{
			"name":     name,
			"services": adv.ServiceUUIDs(),
		}).Debug("Submitting start advertising")
		p.host.StartAdvertising(adv)
	})
	if !ok {
		sub.resolve(ErrClosed)
	}
	return sub
}

// StopAdvertising submits a stop. The host does not acknowledge it.
func (p *Peripheral) StopAdvertising() {
	p.post(func() {
		p.advertising.Store(false)
		p.logger.Debug("Submitting stop advertising")
		p.host.StopAdvertising()
	})
}

// AddService builds the registration descriptor and submits it. On success
// the service's characteristics become addressable by the Servicer.
func (p *Peripheral) AddService(svc gatt.PrimaryService) *Submission {
	desc := gatt.Build(svc)
	sub := newSubmission(SubmitService)
	sub.service = desc

	ok := p.post(func() {
		p.track(&p.pendingServices, sub)
		p.logger.WithFields(logrus.Fields{
			"service":         gatt.ShortUUID(desc.UUID),
			"characteristics": len(desc.Characteristics),
		}).Debug("Submitting add service")
		p.host.AddService(desc)
	})
	if !ok {
		sub.resolve(ErrClosed)
	}
	return sub
}

// track enqueues sub and arms its timeout.
func (p *Peripheral) track(q *pendingQueue, sub *Submission) {
	q.push(sub)
	if p.opts.SubmissionTimeout <= 0 {
		return
	}
	timeout := p.opts.SubmissionTimeout
	sub.setTimer(time.AfterFunc(timeout, func() {
		if sub.resolve(ErrSubmissionTimeout) {
			p.logger.WithFields(logrus.Fields{
				"op":      sub.kind.String(),
				"timeout": timeout,
			}).Warn("Host did not answer submission in time")
		}
	}))
}

// Sync blocks until every event posted before the call has been handled.
func (p *Peripheral) Sync(ctx context.Context) error {
	reached := make(chan struct{})
	if !p.post(func() { close(reached) }) {
		return ErrClosed
	}
	select {
	case <-reached:
		return nil
	case <-p.closing:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the dispatch goroutine, fails pending submissions with
// ErrClosed, closes the host and the event feed.
func (p *Peripheral) Close() error {
	p.closeOnce.Do(func() {
		p.shutdown()
		p.closeErr = hostError("close", p.host.Close())
	})
	return p.closeErr
}

func (p *Peripheral) shutdown() {
	p.postMu.Lock()
	p.stopped = true
	p.postMu.Unlock()

	// The dispatch goroutine keeps consuming, so admitted posts cannot block.
	p.inflight.Wait()
	close(p.closing)
	<-p.done

	if st := p.events.Stats(); st.Dropped > 0 {
		p.logger.WithFields(logrus.Fields{
			"written": st.Written,
			"dropped": st.Dropped,
			"unread":  p.events.Len(),
		}).Debug("Event feed dropped events nobody read")
	}
	p.events.Close()
}

// Event handlers. They run only on the dispatch goroutine.

func (p *Peripheral) onPowerStateChanged(state PowerState) {
	if !state.Valid() {
		p.logger.WithField("state", state).Warn("Ignoring invalid power state from host")
		return
	}
	prev := PowerState(p.power.Swap(int32(state)))
	if state == PoweredOn {
		p.everPoweredOn.Store(true)
	}

	// The host stops advertising by itself when the radio goes off; no stop
	// command is sent, only the local intent is reset. Failed submissions
	// keep their slots so a late host answer still lines up.
	if state == PoweredOff {
		p.advertising.Store(false)
		if n := p.pendingAdvertising.fail(ErrPoweredOff); n > 0 {
			p.logger.WithField("pending", n).Warn("Radio powered off with advertising submissions pending")
		}
	}

	p.powerMu.Lock()
	close(p.powerChanged)
	p.powerChanged = make(chan struct{})
	p.powerMu.Unlock()

	p.logger.WithFields(logrus.Fields{
		"from": prev,
		"to":   state,
	}).Info("Power state changed")
	p.emit(Event{Kind: EventPowerChanged, Power: state})
}

func (p *Peripheral) onAdvertisingStarted(err error) {
	err = hostError(SubmitAdvertising.String(), err)
	if err == nil {
		if p.everPoweredOn.Load() {
			p.advertising.Store(true)
		} else {
			p.logger.Warn("Host reported advertising before the radio was ever powered on")
		}
	}

	p.settle(&p.pendingAdvertising, SubmitAdvertising, err)
	if err != nil {
		p.logger.WithError(err).Error("Failed to start advertising")
	} else {
		p.logger.Info("Advertising started")
	}
	p.emit(Event{Kind: EventAdvertisingStarted, Err: err})
}

func (p *Peripheral) onAdvertisingStopped(err error) {
	err = hostError("stop advertising", err)
	p.advertising.Store(false)

	if err != nil {
		p.logger.WithError(err).Warn("Advertising stopped")
	} else {
		p.logger.Info("Advertising stopped")
	}
	p.emit(Event{Kind: EventAdvertisingStopped, Err: err})
}

func (p *Peripheral) onServiceAdded(desc *gatt.ServiceDescriptor, err error) {
	err = hostError(SubmitService.String(), err)

	sub := p.settle(&p.pendingServices, SubmitService, err)
	if desc == nil && sub != nil {
		desc = sub.service
	}

	var id uuid.UUID
	if desc != nil {
		id = desc.UUID
		if sub != nil && sub.service != nil && sub.service.UUID != desc.UUID {
			p.logger.WithFields(logrus.Fields{
				"submitted": gatt.ShortUUID(sub.service.UUID),
				"reported":  gatt.ShortUUID(desc.UUID),
			}).Warn("Host reported a different service than the oldest pending one")
		}
		if err == nil {
			p.servicer.Register(desc)
		}
	}

	log := p.logger.WithField("service", gatt.ShortUUID(id))
	if err != nil {
		log.WithError(err).Error("Failed to add service")
	} else {
		log.Info("Service added")
	}
	p.emit(Event{Kind: EventServiceAdded, Service: id, Err: err})
}

// settle resolves the oldest pending submission of a kind. A submission
// that already timed out still consumes the outcome.
func (p *Peripheral) settle(q *pendingQueue, kind SubmissionKind, err error) *Submission {
	sub, ok := q.pop()
	if !ok {
		p.logger.WithField("op", kind.String()).Debug("Host outcome with no pending submission")
		return nil
	}
	if !sub.resolve(err) {
		p.logger.WithFields(logrus.Fields{
			"op":       kind.String(),
			"previous": sub.Err(),
		}).Debug("Late host outcome for an already resolved submission")
	}
	return sub
}

func (p *Peripheral) onReadRequested(req Request) {
	value, status := p.servicer.Read(req)
	p.host.Respond(req.Handle, status, value)

	p.logger.WithFields(logrus.Fields{
		"request": req.String(),
		"status":  status,
	}).Debug("Answered read")
	p.emit(Event{Kind: EventRead, Request: &req, Status: status})
}

func (p *Peripheral) onWriteRequested(reqs []Request) {
	for i := range reqs {
		req := reqs[i]
		status := p.servicer.Write(req)
		p.host.Respond(req.Handle, status, nil)

		p.logger.WithFields(logrus.Fields{
			"request": req.String(),
			"status":  status,
		}).Debug("Answered write")
		p.emit(Event{Kind: EventWrite, Request: &req, Status: status})
	}
}

// sink is the EventSink handed to the host. Every call is forwarded to
// the dispatch goroutine; calls after Close are dropped.
type sink struct {
	p *Peripheral
}

func (s *sink) PowerStateChanged(state PowerState) {
	s.p.post(func() { s.p.onPowerStateChanged(state) })
}

func (s *sink) AdvertisingStarted(err error) {
	s.p.post(func() { s.p.onAdvertisingStarted(err) })
}

func (s *sink) AdvertisingStopped(err error) {
	s.p.post(func() { s.p.onAdvertisingStopped(err) })
}

func (s *sink) ServiceAdded(desc *gatt.ServiceDescriptor, err error) {
	s.p.post(func() { s.p.onServiceAdded(desc, err) })
}

func (s *sink) ReadRequested(req Request) {
	s.p.post(func() { s.p.onReadRequested(req) })
}

func (s *sink) WriteRequested(reqs []Request) {
	batch := append([]Request(nil), reqs...)
	s.p.post(func() { s.p.onWriteRequested(batch) })
}
