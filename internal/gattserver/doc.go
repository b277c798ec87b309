// Package gattserver is the core of the peripheral manager role.
//
// A Server owns the local GATT database published through a platform
// server, the table of ATT requests waiting for an application response,
// the subscribed centrals of every notifying characteristic and the
// advertising loop. Outcomes are reported through a Delegate, mirroring the
// callbacks of a peripheral manager delegate.
package gattserver
