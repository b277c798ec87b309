// Package session is the central-role core that sits between the blocking
// go-ble API and the action stream.
//
// Manager owns the peripheral registry, scanning and connection lifecycle.
// Each peripheral has a Session holding its state and discovered GATT tree;
// while connected, a Session serializes ATT operations through a FIFO queue
// and demultiplexes notifications through a drop-oldest ring. Every outcome
// is reported through a Delegate, mirroring the callback surface of a native
// BLE framework.
package session
