// Package peripheral exposes the peripheral manager role of the Bluetooth
// stack as actions and effects.
//
// A Manager hosts any number of peripheral manager instances, each
// identified by a comparable key chosen by the caller. Create starts an
// instance and streams its actions until the effect is cancelled or the
// instance is destroyed; every other operation addresses an instance by
// its key.
package peripheral
