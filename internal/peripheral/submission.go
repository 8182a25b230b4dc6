package peripheral

import (
	"context"
	"sync"
	"time"

	"github.com/srg/blimp/internal/gatt"
)

// SubmissionKind groups submissions whose outcomes the host reports
// through the same event.
type SubmissionKind int

const (
	SubmitAdvertising SubmissionKind = iota
	SubmitService
)

func (k SubmissionKind) String() string {
	switch k {
	case SubmitAdvertising:
		return "start advertising"
	case SubmitService:
		return "add service"
	default:
		return "unknown"
	}
}

// Submission is the future outcome of an asynchronous host command.
// It resolves exactly once.
type Submission struct {
	kind    SubmissionKind
	service *gatt.ServiceDescriptor

	once sync.Once
	done chan struct{}
	err  error

	timerMu sync.Mutex
	timer   *time.Timer
}

func newSubmission(kind SubmissionKind) *Submission {
	return &Submission{kind: kind, done: make(chan struct{})}
}

// Kind reports which command the submission is for.
func (s *Submission) Kind() SubmissionKind {
	return s.kind
}

// Service returns the descriptor submitted by AddService, nil otherwise.
func (s *Submission) Service() *gatt.ServiceDescriptor {
	return s.service
}

// Done is closed once the outcome is known.
func (s *Submission) Done() <-chan struct{} {
	return s.done
}

// Err returns the outcome. It is nil until Done is closed.
func (s *Submission) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Wait blocks until the submission resolves or ctx is done.
func (s *Submission) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resolve reports whether this call was the one that settled s. The
// timeout timer, if any, is stopped.
func (s *Submission) resolve(err error) bool {
	settled := false
	s.once.Do(func() {
		s.err = err
		close(s.done)
		settled = true
	})
	if settled {
		s.timerMu.Lock()
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		s.timerMu.Unlock()
	}
	return settled
}

// setTimer attaches the timeout timer. A submission that is already
// resolved stops it right away.
func (s *Submission) setTimer(t *time.Timer) {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	select {
	case <-s.done:
		t.Stop()
	default:
		s.timer = t
	}
}

// pendingQueue is a FIFO of submissions awaiting host outcomes. It is only
// touched on the dispatch goroutine. A submission that timed out or was
// failed by a power-off keeps its slot so that the host's late answer is
// matched to it and not to its successor.
type pendingQueue struct {
	items []*Submission
}

func (q *pendingQueue) push(s *Submission) {
	q.items = append(q.items, s)
}

func (q *pendingQueue) pop() (*Submission, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	s := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return s, true
}

// fail resolves every queued submission with err and keeps them queued.
func (q *pendingQueue) fail(err error) int {
	n := 0
	for _, s := range q.items {
		if s.resolve(err) {
			n++
		}
	}
	return n
}

// drain resolves every queued submission with err and empties the queue.
func (q *pendingQueue) drain(err error) int {
	n := 0
	for _, s := range q.items {
		if s.resolve(err) {
			n++
		}
	}
	q.items = nil
	return n
}
