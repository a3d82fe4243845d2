// Package async starts daemon goroutines and runs units of work so that a
// panic is logged against its owner instead of taking the process down.
package async

import (
	"fmt"
	"runtime/debug"

	"github.com/desduvauchelle/tamias-sub001/internal/shared/logging"
)

// PanicError is a recovered panic from a named unit of work.
type PanicError struct {
	Owner string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s panicked: %v", e.Owner, e.Value)
}

// Go runs fn on a new goroutine owned by owner (for example
// "daemon.drain.<sessionID>"). A panic is logged with its stack.
func Go(logger logging.Logger, owner string, fn func()) {
	go func() { _ = Run(logger, owner, fn) }()
}

// Run calls fn on the current goroutine. A panic is logged and returned as
// a *PanicError so the caller can settle its own state and carry on.
func Run(logger logging.Logger, owner string, fn func()) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		pe := &PanicError{Owner: owner, Value: r, Stack: debug.Stack()}
		logging.OrNop(logger).Error("%v\n%s", pe, pe.Stack)
		err = pe
	}()
	fn()
	return nil
}
