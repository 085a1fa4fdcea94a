package ua

import (
	"context"
	"time"
)

// valueOnlyContext inherits values from its parent but ignores the parent's
// deadline and cancellation signal.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{}                   { return nil }
func (valueOnlyContext) Err() error                              { return nil }

// Detach returns a context that inherits values from ctx but is not canceled
// when ctx is. Waiters and teardown work that must outlive the call that
// started them (a popup watch, an overlay teardown) run under a detached
// context. For chromedp-backed environments this also preserves the target
// information the context carries.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
