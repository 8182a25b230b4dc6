//go:build test

package testutils

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blimp/internal/peripheral"
	"github.com/stretchr/testify/suite"
)

// PeripheralSuite is a reusable testify suite running a Peripheral over a
// FakeHost. Each test gets a fresh host and peripheral.
//
// Basic usage (host powers on when opened):
//
//	type AdvertisingSuite struct {
//	    testutils.PeripheralSuite
//	}
//
//	func TestAdvertisingSuite(t *testing.T) {
//	    suite.Run(t, new(AdvertisingSuite))
//	}
//
// Custom host behaviour:
//
//	func (s *AdvertisingSuite) SetupTest() {
//	    s.Configure = func(h *testutils.FakeHost, o *peripheral.Options) {
//	        h.InitialPower = peripheral.Unknown
//	        o.SubmissionTimeout = 50 * time.Millisecond
//	    }
//	    s.PeripheralSuite.SetupTest() // call parent last to apply configuration
//	}
type PeripheralSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	Host        *FakeHost
	Peripheral  *peripheral.Peripheral
	TestTimeout time.Duration

	// Configure, if set, runs before the peripheral is created.
	Configure func(h *FakeHost, o *peripheral.Options)
}

func (s *PeripheralSuite) SetupTest() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	if s.TestTimeout == 0 {
		s.TestTimeout = 2 * time.Second
	}

	s.Host = NewFakeHost()
	opts := peripheral.DefaultOptions()
	if s.Configure != nil {
		s.Configure(s.Host, opts)
	}

	p, err := peripheral.New(s.Host, s.Logger, opts)
	s.Require().NoError(err, "peripheral MUST open over the fake host")
	s.Peripheral = p
	s.Sync()
}

func (s *PeripheralSuite) TearDownTest() {
	if s.Peripheral != nil {
		s.NoError(s.Peripheral.Close())
	}
	s.Peripheral = nil
	s.Configure = nil
}

// Context returns a context bounded by TestTimeout.
func (s *PeripheralSuite) Context() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), s.TestTimeout)
	s.T().Cleanup(cancel)
	return ctx
}

// Sync waits until every host event emitted so far has been handled.
func (s *PeripheralSuite) Sync() {
	s.Require().NoError(s.Peripheral.Sync(s.Context()), "dispatch MUST drain")
}

// Wait waits for sub and returns its outcome.
func (s *PeripheralSuite) Wait(sub *peripheral.Submission) error {
	select {
	case <-sub.Done():
		return sub.Err()
	case <-time.After(s.TestTimeout):
		s.FailNow("submission did not resolve", "kind=%s", sub.Kind())
		return nil
	}
}
