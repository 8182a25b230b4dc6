// Package peripheral is the BLE peripheral-role core: a power and
// advertising state machine driven by asynchronous host-stack events, and a
// request servicer that answers reads and writes from connected centrals.
//
// A Peripheral sits on top of a Host, the platform BLE stack. Commands
// (StartAdvertising, StopAdvertising, AddService) are submitted to the host
// and return a *Submission immediately. The host reports outcomes back
// through an EventSink; all of those events are handled one at a time on a
// dispatch goroutine private to the Peripheral.
//
// Outcomes carry no correlation id. Each Peripheral keeps one FIFO of
// pending submissions per kind and resolves the oldest one when the host
// reports a result of that kind.
package peripheral
