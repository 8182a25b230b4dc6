package gatt

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrSecureNotSubset is returned when a characteristic declares a secure
// property it does not offer.
var ErrSecureNotSubset = errors.New("secure properties must be a subset of properties")

// Characteristic describes one attribute of a primary service.
//
// A non-nil Value is a static value served by the host stack itself; a nil
// Value delegates reads and writes to the peripheral's request servicer.
// An empty, non-nil Value is a valid static value.
type Characteristic struct {
	UUID       uuid.UUID
	Value      []byte
	Properties Properties
	Secure     Properties
}

// NewCharacteristic validates that secure is a subset of props and returns
// the characteristic with its own copy of value.
func NewCharacteristic(id uuid.UUID, props, secure Properties, value []byte) (Characteristic, error) {
	if !secure.IsSubsetOf(props) {
		return Characteristic{}, fmt.Errorf("characteristic %s: %w (properties=%q secure=%q)", id, ErrSecureNotSubset, props, secure)
	}
	return Characteristic{
		UUID:       id,
		Value:      cloneValue(value),
		Properties: props,
		Secure:     secure,
	}, nil
}

// IsStatic reports whether the host stack serves this characteristic's value.
func (c Characteristic) IsStatic() bool {
	return c.Value != nil
}

// PrimaryService is an ordered group of characteristics. The order is the
// attribute-handle order centrals will discover.
type PrimaryService struct {
	UUID            uuid.UUID
	Characteristics []Characteristic
}

// NewPrimaryService returns a service holding chars in the given order.
func NewPrimaryService(id uuid.UUID, chars ...Characteristic) PrimaryService {
	return PrimaryService{
		UUID:            id,
		Characteristics: append([]Characteristic(nil), chars...),
	}
}

// Characteristic returns the characteristic with the given UUID.
func (s PrimaryService) Characteristic(id uuid.UUID) (Characteristic, bool) {
	for _, c := range s.Characteristics {
		if c.UUID == id {
			return c, true
		}
	}
	return Characteristic{}, false
}

// cloneValue keeps the nil/empty distinction that IsStatic relies on.
func cloneValue(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
