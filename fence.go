package compute

import (
	"sync"

	"github.com/gogpu/compute/backend"
)

// Fence tracks one async submission. It starts pending and transitions
// exactly once to complete, either with success or with the execution
// error. A Fence is not reusable; every async dispatch or batch produces
// a fresh one.
//
// IsComplete, Wait, Err and ErrorMessage may be called from any goroutine.
type Fence struct {
	mu   sync.Mutex
	comp backend.Completion
	op   string

	// resolved error, cached after first observation so Destroy can
	// detach without losing it.
	err      error
	observed bool
}

func newFence(op string, comp backend.Completion) *Fence {
	return &Fence{comp: comp, op: op}
}

// IsComplete reports whether the submission has finished, without
// blocking. A destroyed fence reports true.
func (f *Fence) IsComplete() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.comp == nil {
		return true
	}
	select {
	case <-f.comp.Done():
		f.resolveLocked()
		return true
	default:
		return false
	}
}

// Wait blocks until the submission completes and returns its error, if
// any. Waiting on a destroyed fence returns immediately.
func (f *Fence) Wait() error {
	f.mu.Lock()
	comp := f.comp
	f.mu.Unlock()
	if comp == nil {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.err
	}

	<-comp.Done()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolveLocked()
	return f.err
}

// Err returns the execution error. Valid once the fence is complete; nil
// before completion and on success.
func (f *Fence) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.comp != nil {
		select {
		case <-f.comp.Done():
			f.resolveLocked()
		default:
			return nil
		}
	}
	return f.err
}

// ErrorMessage returns the execution error text, or "" when the fence is
// pending or completed successfully.
func (f *Fence) ErrorMessage() string {
	if err := f.Err(); err != nil {
		return err.Error()
	}
	return ""
}

// Destroy detaches the fence from its submission. The submission itself
// keeps running; only the handle is released. Safe to call on a pending
// fence and more than once.
func (f *Fence) Destroy() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.comp != nil {
		select {
		case <-f.comp.Done():
			f.resolveLocked()
		default:
		}
		f.comp = nil
	}
}

// resolveLocked caches the completion error, wrapped as a dispatch
// failure. Caller holds f.mu and has seen Done closed.
func (f *Fence) resolveLocked() {
	if f.observed || f.comp == nil {
		return
	}
	f.observed = true
	if err := f.comp.Err(); err != nil {
		f.err = newError(ErrDispatchFailed, f.op, "%v", err)
	}
}
