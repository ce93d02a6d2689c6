package compute

import "log/slog"

// Option configures a Context during creation.
//
// Example:
//
//	// Default backend selection (wgpu if available, cpu otherwise):
//	ctx, err := compute.NewContext()
//
//	// Pin the backend and enable logging:
//	ctx, err := compute.NewContext(
//	    compute.WithBackend("cpu"),
//	    compute.WithLogger(slog.Default()),
//	)
type Option func(*contextOptions)

// contextOptions holds optional configuration for Context creation.
type contextOptions struct {
	backend string
	logger  *slog.Logger
	label   string
}

// defaultOptions returns the default context options.
func defaultOptions() contextOptions {
	return contextOptions{
		backend: "", // priority-ordered selection
		logger:  nil,
	}
}

// WithBackend pins the Context to a named backend ("wgpu", "cpu").
// NewContext fails with ErrUnsupportedBackend when the name is not
// registered, instead of falling back.
func WithBackend(name string) Option {
	return func(o *contextOptions) {
		o.backend = name
	}
}

// WithLogger attaches a logger to the Context. Diagnostics from the
// Context and every resource created from it go to this logger, one line
// per event. By default a Context produces no log output.
//
// Log levels used:
//   - [slog.LevelDebug]: per-dispatch diagnostics (geometry, cache hits)
//   - [slog.LevelInfo]: lifecycle events (device opened, kernel compiled)
//   - [slog.LevelWarn]: non-fatal issues (async dispatch errors with a
//     discarded fence, resource release errors)
func WithLogger(l *slog.Logger) Option {
	return func(o *contextOptions) {
		o.logger = l
	}
}

// WithLabel sets a debug label for the Context, included as an attribute
// on its log lines.
func WithLabel(label string) Option {
	return func(o *contextOptions) {
		o.label = label
	}
}
