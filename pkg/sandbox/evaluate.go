// Package sandbox evaluates untrusted code under a capability policy with a
// wall-clock deadline. Each evaluation runs in its own worker goroutine that
// is gone by the time the caller gets an answer.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sameehj/fence/pkg/lang"
	"github.com/sameehj/fence/pkg/policy"
)

var activeWorkers atomic.Int64

// ActiveWorkers reports how many workers are running in this process.
func ActiveWorkers() int64 { return activeWorkers.Load() }

var (
	defaultEngineOnce sync.Once
	defaultEngine     *lang.Engine
)

func bundledEngine() *lang.Engine {
	defaultEngineOnce.Do(func() {
		defaultEngine = lang.NewEngine(lang.Options{})
	})
	return defaultEngine
}

// Evaluator is a reusable evaluation entry point bound to one Config.
type Evaluator func(ctx context.Context, code Code) (any, error)

// Result is a successful evaluation.
type Result struct {
	Value any
	// Bindings are the top-level variables when the program finished.
	Bindings map[string]any
}

// Evaluate runs code once. A nil cfg evaluates with policy.Unrestricted.
func Evaluate(ctx context.Context, code Code, cfg *Config) (any, error) {
	var c Config
	if cfg != nil {
		c = *cfg
	} else {
		c.Policy = policy.Unrestricted()
	}
	return NewRunner(c).Evaluate(ctx, code)
}

// NewEvaluator binds cfg into an Evaluator safe for concurrent use.
func NewEvaluator(cfg Config) Evaluator {
	return NewRunner(cfg).Evaluate
}

// Runner holds a validated Config. It is safe for concurrent use.
type Runner struct {
	cfg    Config
	engine Engine
	logger *slog.Logger
	active atomic.Int64
}

// NewRunner applies defaults to cfg and copies its bindings.
func NewRunner(cfg Config) *Runner {
	if cfg.Policy == nil {
		cfg.Policy = policy.New(policy.Spec{})
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}
	cfg.Bindings = copyBindings(cfg.Bindings)

	engine := cfg.Engine
	if engine == nil {
		engine = bundledEngine()
	}
	// Dynamic ranges get the same bound the checker applies to literals.
	if le, ok := engine.(*lang.Engine); ok && cfg.Policy.RangeMax() >= 0 {
		engine = le.WithMaxRange(cfg.Policy.RangeMax())
	}
	return &Runner{cfg: cfg, engine: engine, logger: cfg.Logger}
}

// SetLogger replaces the logger. Call it before the first evaluation.
func (r *Runner) SetLogger(logger *slog.Logger) {
	r.logger = logger
}

// Active reports how many workers this runner has running.
func (r *Runner) Active() int64 { return r.active.Load() }

// Evaluate runs code and returns its transformed value.
func (r *Runner) Evaluate(ctx context.Context, code Code) (any, error) {
	res, err := r.Run(ctx, code)
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

// message is what a worker reports back: a value, or what it terminated with.
type message struct {
	id       string
	ok       bool
	value    any
	bindings map[string]any
	err      error
}

// Run parses, checks and evaluates code. Rejected code never starts a
// worker. When Run returns, the worker has exited or has been cancelled and
// given StopGrace to exit.
func (r *Runner) Run(ctx context.Context, code Code) (Result, error) {
	tree, err := r.parse(code)
	if err != nil {
		return Result{}, err
	}
	if err := r.cfg.Policy.Check(tree); err != nil {
		perr := &Error{Kind: KindPermission, Err: err}
		var v *policy.Violation
		if errors.As(err, &v) {
			perr.Detail, perr.Line, perr.Col = v.Code, v.Line, v.Col
		} else {
			perr.Detail = err.Error()
		}
		r.logInfo("evaluation_rejected", "code", perr.Detail, "policy", r.cfg.Policy.Fingerprint())
		return Result{}, perr
	}

	id := uuid.NewString()
	deadline := time.Now().Add(r.cfg.Timeout)
	workerCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	// Both channels exist before the worker does, so nothing it reports can
	// be missed.
	msgs := make(chan message, 1)
	done := make(chan struct{})
	timer := time.NewTimer(r.cfg.Timeout)
	defer timer.Stop()

	if r.cfg.OnSpawn != nil {
		r.cfg.OnSpawn(id)
	}
	activeWorkers.Add(1)
	r.active.Add(1)
	r.logInfo("worker_spawned", "id", id, "policy", r.cfg.Policy.Fingerprint(), "timeout", r.cfg.Timeout, "output", r.cfg.Output.String())
	go r.worker(workerCtx, id, tree, msgs, done)

	select {
	case m := <-msgs:
		if time.Now().After(deadline) {
			r.stop(id, cancel, ErrTimeout, done)
			return Result{}, r.timeout(id)
		}
		r.stop(id, cancel, context.Canceled, done)
		if m.id != id {
			return Result{}, &Error{Kind: KindOpaque, ID: id, Detail: fmt.Sprintf("reply from unknown worker %s", m.id)}
		}
		if !m.ok {
			cerr := classify(id, m.err)
			r.logInfo("evaluation_failed", "id", id, "kind", cerr.Kind.String(), "error", cerr.Detail)
			return Result{}, cerr
		}
		value := m.value
		if r.cfg.Transform != nil {
			value = r.cfg.Transform(value)
		}
		r.logDebug("evaluation_succeeded", "id", id)
		return Result{Value: value, Bindings: m.bindings}, nil
	case <-timer.C:
		r.stop(id, cancel, ErrTimeout, done)
		return Result{}, r.timeout(id)
	case <-ctx.Done():
		cause := context.Cause(ctx)
		r.stop(id, cancel, cause, done)
		r.logInfo("evaluation_cancelled", "id", id, "error", cause)
		return Result{}, &Error{Kind: KindCancelled, ID: id, Detail: cause.Error(), Payload: cause, Err: cause}
	}
}

func (r *Runner) parse(code Code) (lang.Node, error) {
	if code.tree != nil {
		return code.tree, nil
	}
	tree, err := r.engine.Parse(code.src)
	if err == nil {
		return tree, nil
	}
	serr := &Error{Kind: KindSyntax, Detail: err.Error(), Err: err}
	var se *lang.SyntaxError
	if errors.As(err, &se) {
		serr.Line, serr.Col, serr.Detail, serr.Token = se.Line, se.Col, se.Message, se.Token
	}
	r.logDebug("evaluation_unparsable", "error", err)
	return nil, serr
}

func (r *Runner) timeout(id string) error {
	r.logWarn("worker_timeout", "id", id, "timeout", r.cfg.Timeout)
	return &Error{Kind: KindTimeout, ID: id, Detail: fmt.Sprintf("evaluation exceeded %s", r.cfg.Timeout)}
}

func (r *Runner) worker(ctx context.Context, id string, tree lang.Node, msgs chan<- message, done chan<- struct{}) {
	defer close(done)
	defer r.active.Add(-1)
	defer activeWorkers.Add(-1)
	defer func() {
		if p := recover(); p != nil {
			report(msgs, message{id: id, err: fmt.Errorf("worker panic: %v", p)})
		}
	}()

	out, err := r.cfg.Output.resolve()
	if err != nil {
		report(msgs, message{id: id, err: err})
		return
	}
	value, bindings, err := r.engine.Run(ctx, tree, copyBindings(r.cfg.Bindings), out)
	if err != nil {
		report(msgs, message{id: id, err: err})
		return
	}
	report(msgs, message{id: id, ok: true, value: value, bindings: bindings})
}

// report never blocks: the channel holds the worker's only message.
func report(msgs chan<- message, m message) {
	select {
	case msgs <- m:
	default:
	}
}

// stop cancels the worker and waits up to StopGrace for it to exit.
func (r *Runner) stop(id string, cancel context.CancelCauseFunc, cause error, done <-chan struct{}) {
	cancel(cause)
	grace := time.NewTimer(r.cfg.StopGrace)
	defer grace.Stop()
	select {
	case <-done:
	case <-grace.C:
		r.logWarn("worker_stuck", "id", id, "grace", r.cfg.StopGrace)
	}
}

// classify maps what a worker terminated with to an Error.
func classify(id string, err error) *Error {
	var (
		compileErr   *lang.CompileError
		undefinedErr *lang.UndefinedFunctionError
		exitErr      *lang.ExitError
		syntaxErr    *lang.SyntaxError
	)
	switch {
	case errors.As(err, &compileErr):
		return &Error{Kind: KindUndefinedLocal, ID: id, Detail: compileErr.Message, Line: compileErr.Pos.Line, Col: compileErr.Pos.Col, Err: err}
	case errors.As(err, &undefinedErr) && len(undefinedErr.Frames) > 0:
		top := undefinedErr.Frames[0]
		return &Error{
			Kind:    KindUndefinedRemote,
			ID:      id,
			Detail:  FormatUndefined(top.Namespace, top.Name, top.Args),
			Line:    top.Pos.Line,
			Col:     top.Pos.Col,
			Payload: undefinedErr.Frames,
			Err:     err,
		}
	case errors.As(err, &exitErr):
		detail := ""
		if exitErr.Reason != nil {
			detail = lang.ToString(exitErr.Reason)
		}
		return &Error{Kind: KindCancelled, ID: id, Detail: detail, Payload: exitErr.Reason, Err: err}
	case errors.As(err, &syntaxErr):
		// An engine may parse lazily; report it the same way as an up-front failure.
		return &Error{Kind: KindSyntax, ID: id, Detail: syntaxErr.Message, Line: syntaxErr.Line, Col: syntaxErr.Col, Token: syntaxErr.Token, Err: err}
	}
	return &Error{Kind: KindOpaque, ID: id, Detail: err.Error(), Payload: err, Err: err}
}

func (r *Runner) logDebug(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, args...)
	}
}

func (r *Runner) logInfo(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Info(msg, args...)
	}
}

func (r *Runner) logWarn(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Warn(msg, args...)
	}
}
