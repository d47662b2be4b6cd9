// Package recovery isolates goroutine panics so a bug in one PTY session's
// reader, writer or sweeper cannot take the whole daemon down with it.
package recovery

import (
	"runtime/debug"

	"github.com/pilotty/pilotty/internal/logger"
)

// SafeGo runs fn in a goroutine with panic recovery. A panic is logged
// with its stack trace and swallowed rather than propagated.
func SafeGo(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("panic recovered in goroutine %q: %v\n%s", name, r, debug.Stack())
			}
		}()
		fn()
	}()
}

// SafeGoWithCleanup runs fn in a goroutine with panic recovery, invoking
// cleanup whether fn returns normally or panics.
func SafeGoWithCleanup(name string, fn func(), cleanup func()) {
	go func() {
		defer func() {
			if cleanup != nil {
				cleanup()
			}
			if r := recover(); r != nil {
				logger.Errorf("panic recovered in goroutine %q: %v\n%s", name, r, debug.Stack())
			}
		}()
		fn()
	}()
}
