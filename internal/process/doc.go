// Package process manages the lifecycle of cluster instances.
//
// BaseProcess runs one child process with log files and a SIGTERM then
// SIGKILL stop sequence. Stoppable and StopCloseAndNil describe teardown for
// any instance, in-process or not. WaitReady polls a ReadinessCheck until the
// instance answers; TCPCheck and HTTPCheck are the two probes the tiers use.
package process
