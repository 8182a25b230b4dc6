package gatt

import (
	"fmt"

	"github.com/google/uuid"
)

// CharacteristicDescriptor is the stack-level form of a Characteristic.
type CharacteristicDescriptor struct {
	UUID         uuid.UUID
	Capabilities CapabilityFlags
	Permissions  PermissionFlags
	Value        []byte // nil unless the host serves a static value
}

// IsStatic reports whether the host serves this value without a request.
func (d CharacteristicDescriptor) IsStatic() bool {
	return d.Value != nil
}

// Readable reports whether a central may read the value, with or without encryption.
func (d CharacteristicDescriptor) Readable() bool {
	return d.Capabilities.Has(CapRead)
}

// Writable reports whether a central may write the value with either write type.
func (d CharacteristicDescriptor) Writable() bool {
	return d.Capabilities&(CapWrite|CapWriteWithoutResponse) != 0
}

func (d CharacteristicDescriptor) String() string {
	return fmt.Sprintf("%s %s static=%t", ShortUUID(d.UUID), describeFlags(d.Capabilities, d.Permissions), d.IsStatic())
}

// ServiceDescriptor is what gets submitted to a host stack's registration
// primitive. The host reports the outcome for this exact descriptor.
type ServiceDescriptor struct {
	UUID            uuid.UUID
	Primary         bool
	Characteristics []CharacteristicDescriptor
}

// Characteristic looks up a characteristic descriptor by UUID.
func (s *ServiceDescriptor) Characteristic(id uuid.UUID) (CharacteristicDescriptor, bool) {
	for _, c := range s.Characteristics {
		if c.UUID == id {
			return c, true
		}
	}
	return CharacteristicDescriptor{}, false
}

// Build maps every characteristic of svc through MapCapabilities and wraps
// the result, in order, into a primary service descriptor.
func Build(svc PrimaryService) *ServiceDescriptor {
	desc := &ServiceDescriptor{
		UUID:            svc.UUID,
		Primary:         true,
		Characteristics: make([]CharacteristicDescriptor, 0, len(svc.Characteristics)),
	}
	for _, c := range svc.Characteristics {
		caps, perms := MapCapabilities(c.Properties, c.Secure)
		desc.Characteristics = append(desc.Characteristics, CharacteristicDescriptor{
			UUID:         c.UUID,
			Capabilities: caps,
			Permissions:  perms,
			Value:        cloneValue(c.Value),
		})
	}
	return desc
}
