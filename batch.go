package compute

import "github.com/gogpu/compute/backend"

// recording is the Context's batch state while between BeginBatch and
// EndBatch.
type recording struct {
	list  backend.CommandList
	count int
}

func (r *recording) encode(op string, cmd backend.DispatchCommand) error {
	if err := r.list.Encode(cmd); err != nil {
		return newError(ErrDispatchFailed, op, "%v", err)
	}
	r.count++
	return nil
}

// BeginBatch switches the Context from idle to recording. Subsequent
// dispatches encode into one command list instead of submitting
// individually, preserving call order, until EndBatch submits them as a
// single unit.
//
// Beginning a batch while one is already recording is an error; the first
// recording session is untouched.
func (c *Context) BeginBatch() error {
	if err := c.checkOpen("BeginBatch"); err != nil {
		return err
	}
	if c.rec != nil {
		return newError(ErrInvalidArgument, "BeginBatch", "a batch is already recording")
	}

	list, err := c.dev.NewCommandList("batch")
	if err != nil {
		return newError(ErrDeviceFailed, "BeginBatch", "%v", err)
	}
	c.rec = &recording{list: list}
	c.log.Debug("batch recording started")
	return nil
}

// EndBatch submits everything recorded since BeginBatch as one submission
// and returns the Context to idle. The returned fence completes when the
// whole batch has executed; an empty batch submits trivially and its
// fence completes immediately.
func (c *Context) EndBatch() (*Fence, error) {
	if err := c.checkOpen("EndBatch"); err != nil {
		return nil, err
	}
	if c.rec == nil {
		return nil, newError(ErrInvalidArgument, "EndBatch", "no batch is recording")
	}

	rec := c.rec
	c.rec = nil

	comp, err := rec.list.Submit()
	if err != nil {
		return nil, newError(ErrDispatchFailed, "EndBatch", "%v", err)
	}
	c.log.Debug("batch submitted", "dispatches", rec.count)
	c.watchCompletion("EndBatch", comp)
	return newFence("EndBatch", comp), nil
}

// IsBatching reports whether the Context is currently recording a batch.
func (c *Context) IsBatching() bool { return c.rec != nil }
