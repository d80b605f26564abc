package core

import (
	"errors"
	"fmt"
)

// undoStack records cleanup steps in the order resources were acquired and
// replays them in reverse.
type undoStack struct {
	steps []undoStep
}

type undoStep struct {
	name string
	fn   func() error
}

func (u *undoStack) push(name string, fn func() error) {
	u.steps = append(u.steps, undoStep{name: name, fn: fn})
}

func (u *undoStack) len() int {
	return len(u.steps)
}

// run executes every step, newest first, even when some fail, and empties
// the stack.
func (u *undoStack) run() error {
	var errs []error
	for i := len(u.steps) - 1; i >= 0; i-- {
		s := u.steps[i]
		if err := s.fn(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	u.steps = nil
	return errors.Join(errs...)
}
