package process

import (
	"time"
)

// Stoppable is anything with a bounded stop and a resource release step.
// Every cluster instance, in-process or child process, satisfies it.
type Stoppable interface {
	Stop(timeout time.Duration) error
	Close()
}
