// Package netutil allocates TCP ports for cluster instances.
//
// PortRegistry reserves a port by binding a listener on it, so "port 0" is
// resolved by the kernel and the chosen port stays held until the instance
// takes over the listener or the reservation is released. Reservations are
// tracked per process and, optionally, across processes with flock files.
package netutil
