package cpu

import (
	"fmt"

	"github.com/gogpu/compute/backend"
)

// submission is one unit of queue work: ops run in order, then events
// signal, then done closes. err is written before done closes, so readers
// that wait on Done observe it without a lock.
type submission struct {
	ops     []func() error
	signals []eventSignal
	done    chan struct{}
	err     error
}

type eventSignal struct {
	event backend.EventID
	value uint64
}

func newSubmission(ops []func() error) *submission {
	return &submission{ops: ops, done: make(chan struct{})}
}

// Done implements backend.Completion.
func (s *submission) Done() <-chan struct{} { return s.done }

// Err implements backend.Completion. Valid only after Done is closed.
func (s *submission) Err() error { return s.err }

// enqueue hands a submission to the queue goroutine.
func (d *Device) enqueue(sub *submission) error {
	d.mu.RLock()
	closed := d.closed
	d.mu.RUnlock()
	if closed {
		return backend.ErrNotInitialized
	}

	select {
	case d.queue <- sub:
		return nil
	case <-d.quit:
		return backend.ErrNotInitialized
	}
}

// run is the queue goroutine. Submissions complete strictly in the order
// they were enqueued.
func (d *Device) run() {
	defer d.wg.Done()
	for {
		select {
		case sub := <-d.queue:
			d.process(sub)
		case <-d.quit:
			return
		}
	}
}

// process executes one submission. The first failing op aborts the rest,
// but recorded event signals still fire: completion means "the device is
// done with this submission", not "it succeeded".
func (d *Device) process(sub *submission) {
	for _, op := range sub.ops {
		if err := op(); err != nil {
			sub.err = err
			break
		}
	}
	for _, sig := range sub.signals {
		d.mu.RLock()
		ev, ok := d.events[sig.event]
		d.mu.RUnlock()
		if ok {
			ev.signal(sig.value)
		}
	}
	close(sub.done)
}

// commandList records dispatches for one submission.
type commandList struct {
	dev       *Device
	sub       *submission
	label     string
	submitted bool
}

// NewCommandList opens an empty recording list.
func (d *Device) NewCommandList(label string) (backend.CommandList, error) {
	d.mu.RLock()
	closed := d.closed
	d.mu.RUnlock()
	if closed {
		return nil, backend.ErrNotInitialized
	}
	return &commandList{dev: d, sub: newSubmission(nil), label: label}, nil
}

// Encode appends one dispatch to the list. Resource handles are resolved
// when the submission executes, not here.
func (cl *commandList) Encode(cmd backend.DispatchCommand) error {
	if cl.submitted {
		return fmt.Errorf("cpu: command list already submitted")
	}
	cl.sub.ops = append(cl.sub.ops, func() error {
		return cl.dev.dispatch(cmd)
	})
	return nil
}

// SignalEvent records an event signal that fires when the submission
// completes.
func (cl *commandList) SignalEvent(event backend.EventID, value uint64) error {
	if cl.submitted {
		return fmt.Errorf("cpu: command list already submitted")
	}
	cl.sub.signals = append(cl.sub.signals, eventSignal{event: event, value: value})
	return nil
}

// Submit hands the list to the device queue. The list is consumed.
func (cl *commandList) Submit() (backend.Completion, error) {
	if cl.submitted {
		return nil, fmt.Errorf("cpu: command list already submitted")
	}
	cl.submitted = true
	if err := cl.dev.enqueue(cl.sub); err != nil {
		return nil, err
	}
	return cl.sub, nil
}

// SetLabel attaches a debug label.
func (cl *commandList) SetLabel(label string) { cl.label = label }
