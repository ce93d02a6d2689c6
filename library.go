package compute

import (
	"sync"
	"sync/atomic"
)

// PipelineLibrary caches compiled kernels by name so hot paths skip
// recompilation. Lookups are cheap (read lock); misses compile under a
// write lock with a double-check so concurrent misses for the same name
// compile once.
type PipelineLibrary struct {
	ctx *Context

	mu      sync.RWMutex
	kernels map[string]*Kernel

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewPipelineLibrary creates an empty kernel cache bound to the Context.
func (c *Context) NewPipelineLibrary() *PipelineLibrary {
	return &PipelineLibrary{
		ctx:     c,
		kernels: make(map[string]*Kernel),
	}
}

// Get returns the cached kernel under name, if any.
func (l *PipelineLibrary) Get(name string) (*Kernel, bool) {
	l.mu.RLock()
	k, ok := l.kernels[name]
	l.mu.RUnlock()
	if ok {
		l.hits.Add(1)
	}
	return k, ok
}

// GetOrCompile returns the kernel cached under name, compiling it from
// source/entry on first use. Compilation errors are not cached; a later
// call retries.
func (l *PipelineLibrary) GetOrCompile(name, source, entry string) (*Kernel, error) {
	l.mu.RLock()
	k, ok := l.kernels[name]
	l.mu.RUnlock()
	if ok {
		l.hits.Add(1)
		return k, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check: another goroutine may have compiled while we waited
	// for the write lock.
	if k, ok := l.kernels[name]; ok {
		l.hits.Add(1)
		return k, nil
	}

	l.misses.Add(1)
	k, err := l.ctx.NewKernelFromSource(source, entry)
	if err != nil {
		return nil, err
	}
	l.kernels[name] = k
	l.ctx.log.Debug("pipeline library miss compiled", "name", name, "entry", entry)
	return k, nil
}

// Put caches an already compiled kernel under name, replacing any
// previous entry. The library does not destroy the replaced kernel; the
// caller owns it.
func (l *PipelineLibrary) Put(name string, k *Kernel) {
	l.mu.Lock()
	l.kernels[name] = k
	l.mu.Unlock()
}

// Len returns the number of cached kernels.
func (l *PipelineLibrary) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.kernels)
}

// Stats returns the cumulative cache hit and miss counts.
func (l *PipelineLibrary) Stats() (hits, misses uint64) {
	return l.hits.Load(), l.misses.Load()
}

// Destroy destroys every cached kernel and empties the library.
func (l *PipelineLibrary) Destroy() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for name, k := range l.kernels {
		k.Destroy()
		delete(l.kernels, name)
	}
}
