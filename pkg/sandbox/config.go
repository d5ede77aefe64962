package sandbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/sameehj/fence/pkg/lang"
	"github.com/sameehj/fence/pkg/policy"
)

const (
	// DefaultTimeout bounds an evaluation when Config.Timeout is zero.
	DefaultTimeout = 5 * time.Second
	// DefaultStopGrace is how long a cancelled worker gets to exit.
	DefaultStopGrace = 100 * time.Millisecond
)

// Engine parses and runs programs. *lang.Engine implements it; hosts may plug
// in another engine producing lang trees. Run must return once ctx is done.
type Engine interface {
	Parse(src string) (lang.Node, error)
	Run(ctx context.Context, tree lang.Node, bindings map[string]any, out io.Writer) (any, map[string]any, error)
}

// Config describes how code is evaluated. The zero value denies every call;
// use policy.Unrestricted for trusted code.
type Config struct {
	Policy *policy.Policy
	// Timeout is the wall-clock limit of one evaluation. Zero means 5s.
	Timeout time.Duration
	// Output receives what the program prints. The zero value is
	// DefaultOutput.
	Output Output
	// Bindings are the variables in scope when the program starts. They are
	// copied for every evaluation.
	Bindings map[string]any
	// Transform, when set, is applied once to a successful result.
	Transform func(any) any
	// Engine defaults to the bundled lang engine.
	Engine Engine
	Logger *slog.Logger
	// StopGrace is how long to wait for a cancelled worker before logging it
	// as stuck. Zero means 100ms.
	StopGrace time.Duration
	// OnSpawn is called with the correlation id right before a worker starts.
	OnSpawn func(id string)
}

type outputKind int

const (
	outputDefault outputKind = iota
	outputDiscard
	outputHandle
)

// Output selects where a worker's printed output goes.
type Output struct {
	kind   outputKind
	handle LiveWriter
}

// LiveWriter is a writer that can report whether it still accepts output.
type LiveWriter interface {
	io.Writer
	Alive() bool
}

var (
	// DefaultOutput writes to the process's standard output.
	DefaultOutput = Output{kind: outputDefault}
	// DiscardOutput drops all output.
	DiscardOutput = Output{kind: outputDiscard}
)

// HandleOutput writes to h as long as it is alive when the worker starts.
func HandleOutput(h LiveWriter) Output {
	return Output{kind: outputHandle, handle: h}
}

func (o Output) String() string {
	switch o.kind {
	case outputDefault:
		return "default"
	case outputDiscard:
		return "discard"
	case outputHandle:
		return "handle"
	}
	return "unknown"
}

// ErrHandleClosed is returned when writing to a closed Handle.
var ErrHandleClosed = errors.New("output handle closed")

// ConfigError reports a configuration the worker cannot run with.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return "sandbox config: " + e.Message }

// resolve returns the writer for o. A handle must be alive at this point;
// one that dies later drops the rest of the output.
func (o Output) resolve() (io.Writer, error) {
	switch o.kind {
	case outputDefault:
		return os.Stdout, nil
	case outputDiscard:
		return io.Discard, nil
	case outputHandle:
		if o.handle == nil {
			return nil, &ConfigError{Message: "output handle is nil"}
		}
		if !o.handle.Alive() {
			return nil, &ConfigError{Message: "output handle is not alive"}
		}
		return o.handle, nil
	}
	return nil, &ConfigError{Message: "unknown output kind"}
}

// Handle is a shared, closable output writer. Writes are serialized so
// concurrent workers may share one.
type Handle struct {
	mu     sync.Mutex
	w      io.Writer
	closed bool
}

// NewHandle wraps w.
func NewHandle(w io.Writer) *Handle {
	return &Handle{w: w}
}

func (h *Handle) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, ErrHandleClosed
	}
	return h.w.Write(p)
}

// Alive reports whether the handle accepts writes.
func (h *Handle) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.closed
}

// Close stops the handle. It does not close the underlying writer.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

// Code is a program to evaluate, as source text or as a parsed tree.
type Code struct {
	src  string
	tree lang.Node
}

// Source wraps program text.
func Source(src string) Code { return Code{src: src} }

// Tree wraps an already parsed program.
func Tree(n lang.Node) Code { return Code{tree: n} }

func copyBindings(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
