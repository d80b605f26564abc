// Package broker is the in-process broker service. Each broker serves the
// standard gRPC health protocol and announces itself in the coordination
// tier under /brokers/ids/<index> before it reports SERVING.
package broker
