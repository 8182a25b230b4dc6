// Package gatt holds the peripheral-side GATT model and the pure
// translations a host stack needs before it can register or advertise it:
//
//   - Property sets and their mapping to capability and permission flags
//   - Service and characteristic value objects
//   - Registration descriptors built from a primary service
//   - Advertisement payloads composed from a local name and service UUIDs
//   - ATT status codes returned to centrals
//
// Nothing in this package talks to a radio; see package peripheral for the
// state machine that submits these artifacts to a host.
package gatt
