// Package core implements the lifecycle shared by the coordination, broker
// and worker tiers.
//
// A Tier is either local, owning instances it started through a Launcher on
// ports reserved from a netutil.PortRegistry, or external, holding only a
// caller-supplied connection descriptor. Local startup validates its
// arguments, reserves ports, launches instances and starts them in parallel;
// any failure unwinds everything done so far through an undo stack. Close
// runs exactly once: it stops every instance, releases ports and data
// directories, and finally closes the dependency tier when this tier created
// it.
package core
