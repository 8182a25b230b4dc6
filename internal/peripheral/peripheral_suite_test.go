//go:build test

//go:generate go run github.com/srgg/testify/depend/cmd/dependgen

package peripheral_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/srg/blimp/internal/gatt"
	"github.com/srg/blimp/internal/peripheral"
	"github.com/srg/blimp/internal/testutils"
	"github.com/srgg/testify/depend"
	"github.com/stretchr/testify/suite"
)

type LifecycleSuite struct {
	testutils.PeripheralSuite
}

func (s *LifecycleSuite) SetupTest() {
	s.Configure = func(h *testutils.FakeHost, o *peripheral.Options) {
		h.AutoAnswer = true
	}
	s.PeripheralSuite.SetupTest()
}

func (s *LifecycleSuite) TestServeBatteryProfile() {
	// GOAL: Run the full peripheral flow against an auto-answering host
	//
	// TEST SCENARIO: power on → add service → start advertising → central
	// reads and writes → stop advertising → every step observed in order

	s.Require().NoError(s.Peripheral.WaitPoweredOn(s.Context()))

	svc := s.Helper.BatteryService()
	s.Require().NoError(s.Wait(s.Peripheral.AddService(svc)), "service MUST register")
	s.Require().NoError(s.Wait(s.Peripheral.StartAdvertising("Gopher", []uuid.UUID{svc.UUID})), "advertising MUST start")
	s.True(s.Peripheral.IsAdvertising())

	handle := s.Host.DeliverRead(peripheral.Request{Service: svc.UUID, Characteristic: gatt.UUID16(0x2a1a), Central: "c1"})
	writes := s.Host.DeliverWrites(peripheral.Request{Service: svc.UUID, Characteristic: gatt.UUID16(0x2a19), Value: []byte{1}})
	s.Peripheral.StopAdvertising()
	s.Sync()

	responses := s.Host.Responses()
	s.Require().Len(responses, 2)
	s.Equal(handle, responses[0].Handle)
	s.Equal([]byte{0x64}, responses[0].Value)
	s.Equal(writes[0], responses[1].Handle)
	s.Equal(gatt.ATTSuccess, responses[1].Status)
	s.False(s.Peripheral.IsAdvertising(), "radio MUST be stopped")

	var kinds []peripheral.EventKind
	for len(s.Peripheral.Events()) > 0 {
		kinds = append(kinds, (<-s.Peripheral.Events()).Kind)
	}
	s.Equal([]peripheral.EventKind{
		peripheral.EventPowerChanged,
		peripheral.EventServiceAdded,
		peripheral.EventAdvertisingStarted,
		peripheral.EventRead,
		peripheral.EventWrite,
	}, kinds, "events MUST be emitted in handling order")
}

func TestLifecycleSuite(t *testing.T) {
	suite.Run(t, new(LifecycleSuite))
}

type SlowHostSuite struct {
	testutils.PeripheralSuite
}

func (s *SlowHostSuite) SetupTest() {
	s.Configure = func(h *testutils.FakeHost, o *peripheral.Options) {
		h.InitialPower = peripheral.PoweredOff
		o.SubmissionTimeout = 50 * time.Millisecond
	}
	s.PeripheralSuite.SetupTest()
}

func (s *SlowHostSuite) TestSilentHostTimesOut() {
	// GOAL: A host that never answers MUST NOT leave the caller waiting
	//
	// TEST SCENARIO: add service while the host stays silent → submission
	// resolves with ErrSubmissionTimeout → a later success is absorbed by it

	sub := s.Peripheral.AddService(s.Helper.BatteryService())
	s.ErrorIs(s.Wait(sub), peripheral.ErrSubmissionTimeout)

	s.Host.EmitServiceAdded(sub.Service(), nil)
	s.Sync()
	s.ErrorIs(sub.Err(), peripheral.ErrSubmissionTimeout, "resolved submissions MUST NOT change")
	s.Equal(2, s.Peripheral.Servicer().Len(), "the host still registered the service")
}

// @dependsOn TestSilentHostTimesOut
func (s *SlowHostSuite) TestAdvertisingWhilePoweredOffIsHostJudged() {
	// GOAL: Starting while powered off is accepted locally
	//
	// TEST SCENARIO: start advertising while off → payload is still submitted
	// → host rejection is delivered to the submission

	sub := s.Peripheral.StartAdvertising("Gopher", nil)
	s.Sync()
	s.Len(s.Host.Advertisements(), 1, "submission MUST reach the host")

	s.Host.EmitAdvertisingStarted(peripheral.ErrNotPoweredOn)
	err := s.Wait(sub)
	if !errors.Is(err, peripheral.ErrSubmissionTimeout) {
		s.ErrorIs(err, peripheral.ErrNotPoweredOn)
	}
	s.False(s.Peripheral.AdvertisingIntent())
}

func TestSlowHostSuite(t *testing.T) {
	depend.RunSuite(t, new(SlowHostSuite))
}
