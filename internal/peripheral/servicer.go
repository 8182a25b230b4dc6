package peripheral

import (
	"fmt"

	"github.com/cornelk/hashmap"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/blimp/internal/gatt"
)

// ReadHandler produces the value for a read. A non-success status is
// returned to the central as-is and the value is ignored.
type ReadHandler func(req Request) ([]byte, gatt.ATTError)

// WriteHandler validates or consumes a write.
type WriteHandler func(req Request) gatt.ATTError

// Servicer answers inbound requests against the characteristics of every
// successfully registered service.
//
// Policy, in order:
//   - unknown service/characteristic: InvalidHandle
//   - read without the read capability: ReadNotPermitted
//   - write without a write capability: WriteNotPermitted
//   - registered handler: its result
//   - no handler: Success, with the static value (or empty) for reads
//
// Read offsets past the end of the value answer InvalidOffset.
type Servicer struct {
	logger *logrus.Logger

	// all keyed by charKey
	chars  *hashmap.Map[string, gatt.CharacteristicDescriptor]
	reads  *hashmap.Map[string, ReadHandler]
	writes *hashmap.Map[string, WriteHandler]
}

// NewServicer returns an empty servicer. A nil logger gets logrus.New().
func NewServicer(logger *logrus.Logger) *Servicer {
	if logger == nil {
		logger = logrus.New()
	}
	return &Servicer{
		logger: logger,
		chars:  hashmap.New[string, gatt.CharacteristicDescriptor](),
		reads:  hashmap.New[string, ReadHandler](),
		writes: hashmap.New[string, WriteHandler](),
	}
}

func charKey(service, characteristic uuid.UUID) string {
	return service.String() + "/" + characteristic.String()
}

// Register makes every characteristic of desc addressable.
func (s *Servicer) Register(desc *gatt.ServiceDescriptor) {
	for _, c := range desc.Characteristics {
		s.chars.Set(charKey(desc.UUID, c.UUID), c)
	}
}

// Lookup returns the registered descriptor for a characteristic.
func (s *Servicer) Lookup(service, characteristic uuid.UUID) (gatt.CharacteristicDescriptor, bool) {
	return s.chars.Get(charKey(service, characteristic))
}

// Len is the number of addressable characteristics.
func (s *Servicer) Len() int {
	return s.chars.Len()
}

// HandleRead installs h for reads of one characteristic of one service.
// The same characteristic UUID in another service is not affected. A nil
// h removes the handler.
func (s *Servicer) HandleRead(service, characteristic uuid.UUID, h ReadHandler) {
	key := charKey(service, characteristic)
	if h == nil {
		s.reads.Del(key)
		return
	}
	s.reads.Set(key, h)
}

// HandleWrite installs h for writes to one characteristic of one service.
// A nil h removes the handler.
func (s *Servicer) HandleWrite(service, characteristic uuid.UUID, h WriteHandler) {
	key := charKey(service, characteristic)
	if h == nil {
		s.writes.Del(key)
		return
	}
	s.writes.Set(key, h)
}

// Read resolves a read request to a status and the value slice to return.
func (s *Servicer) Read(req Request) ([]byte, gatt.ATTError) {
	desc, ok := s.Lookup(req.Service, req.Characteristic)
	if !ok {
		return nil, gatt.ATTInvalidHandle
	}
	if !desc.Readable() {
		return nil, gatt.ATTReadNotPermitted
	}

	value := desc.Value
	if h, ok := s.reads.Get(charKey(req.Service, req.Characteristic)); ok {
		v, status := s.callRead(h, req)
		if !status.OK() {
			return nil, status
		}
		value = v
	}

	if req.Offset < 0 || req.Offset > len(value) {
		return nil, gatt.ATTInvalidOffset
	}
	out := make([]byte, len(value)-req.Offset)
	copy(out, value[req.Offset:])
	return out, gatt.ATTSuccess
}

// Write resolves a write request to a status.
func (s *Servicer) Write(req Request) gatt.ATTError {
	desc, ok := s.Lookup(req.Service, req.Characteristic)
	if !ok {
		return gatt.ATTInvalidHandle
	}
	if !desc.Writable() {
		return gatt.ATTWriteNotPermitted
	}

	if h, ok := s.writes.Get(charKey(req.Service, req.Characteristic)); ok {
		return s.callWrite(h, req)
	}
	return gatt.ATTSuccess
}

// callRead shields the dispatch goroutine from a panicking handler.
func (s *Servicer) callRead(h ReadHandler, req Request) (value []byte, status gatt.ATTError) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logrus.Fields{
				"request": req.String(),
				"panic":   fmt.Sprint(r),
			}).Error("Read handler panicked")
			value, status = nil, gatt.ATTUnlikelyError
		}
	}()
	return h(req)
}

func (s *Servicer) callWrite(h WriteHandler, req Request) (status gatt.ATTError) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logrus.Fields{
				"request": req.String(),
				"panic":   fmt.Sprint(r),
			}).Error("Write handler panicked")
			status = gatt.ATTUnlikelyError
		}
	}()
	return h(req)
}
