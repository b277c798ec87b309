// Package bluetooth holds the value types shared by the central and
// peripheral clients: identifiers, snapshots of remote and local GATT
// databases, advertisement data, options, manager states and errors.
//
// Every value is a copy. Nothing here aliases state owned by a session.
package bluetooth
