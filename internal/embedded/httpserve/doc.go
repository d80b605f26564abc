// Package httpserve runs an http.Handler on a listener handed over by the
// port registry, with the same Start, WaitReady and Stop shape as a child
// process. The coordination and worker services are built on it.
package httpserve
