package mock

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	sdkexec "github.com/danwilliams/sham/exec"
)

// Wildcard matches any program path in an expectation predicate.
const Wildcard = "*"

var (
	// ErrUnmatched is returned (wrapped in *UnmatchedError) when no
	// registered expectation matches a call. This is a configuration error
	// in the test, never a scripted outcome.
	ErrUnmatched = errors.New("no expectation matched call")

	// ErrOutOfOrder is returned (wrapped in *UnmatchedError) in strict
	// ordering mode when a call does not match the next pending
	// expectation.
	ErrOutOfOrder = errors.New("call out of registered order")

	// ErrExpectationsNotMet is returned by ExpectationsMet when one or more
	// non-persistent expectations were not fully consumed.
	ErrExpectationsNotMet = errors.New("expectations not met")

	// ErrUnknownBackend is returned by Select for an unrecognized Backend.
	ErrUnknownBackend = errors.New("unknown backend")
)

// UnmatchedError reports a call that no expectation served. It wraps
// ErrUnmatched or ErrOutOfOrder so tests can distinguish a missing
// registration from a scripted spawn failure via errors.Is.
type UnmatchedError struct {
	// Path is the program path of the offending call.
	Path string
	// Args holds the arguments of the offending call.
	Args []string
	// Err is ErrUnmatched or ErrOutOfOrder.
	Err error
}

// Error implements the error interface.
func (e *UnmatchedError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, strings.TrimSpace(e.Path+" "+strings.Join(e.Args, " ")))
}

// Unwrap returns the sentinel classifying the mismatch.
func (e *UnmatchedError) Unwrap() error { return e.Err }

// Config controls construction of a mock Runner.
type Config struct {
	// StrictOrder requires calls to match expectations in exact
	// registration order. A mismatch fails immediately instead of falling
	// through to a later expectation.
	StrictOrder bool

	// Logger receives per-call debug logging. When nil, logging is
	// disabled.
	Logger *zerolog.Logger
}

// Runner is the mock adapter for the process-execution capability. It
// matches each call against registered expectations in registration order,
// records the call, and returns the scripted outcome without spawning
// anything.
//
// A Runner is safe for concurrent use: matching and consuming an
// expectation is atomic with producing its outcome.
type Runner struct {
	mu           sync.Mutex
	expectations []*Expectation
	calls        []Call
	strict       bool
	log          zerolog.Logger
}

// Ensure the mock always satisfies the capability interface at compile time.
var _ sdkexec.Runner = (*Runner)(nil)

// New creates a fresh mock Runner. Instances are intended to be scoped to a
// single test case.
func New(config Config) *Runner {
	log := zerolog.Nop()
	if config.Logger != nil {
		log = *config.Logger
	}
	return &Runner{strict: config.StrictOrder, log: log}
}

// Call is an immutable record of one command observed by the mock.
type Call struct {
	// ID uniquely identifies the call and correlates it with log output.
	ID string
	// Path is the program requested.
	Path string
	// Args holds the program arguments.
	Args []string
	// Env holds the requested environment, if set.
	Env []string
	// Dir is the requested working directory, if set.
	Dir string
	// Expectation is the expectation that served the call, or nil if the
	// call went unmatched.
	Expectation *Expectation
}

// Expectation binds a predicate over command requests to a scripted outcome
// and a consumption policy. Expectations are one-shot unless Times or
// Persist is used, and are evaluated in registration order. With no further
// scripting an expectation yields exit code 0 and no output.
type Expectation struct {
	runner *Runner

	path      string
	args      []string
	matchArgs bool
	dir       string
	matchDir  bool
	env       map[string]string
	matchFn   func(*sdkexec.Request) bool

	status sdkexec.Status
	stdout []byte
	stderr []byte
	err    error

	times int // allowed uses; negative means unlimited
	used  int
}

// On registers an expectation matching the given program, which may be
// Wildcard. Arguments, when provided, must match exactly; with none given,
// any arguments match. Expectations may be registered before or between
// calls.
func (m *Runner) On(name string, args ...string) *Expectation {
	e := &Expectation{runner: m, path: name, times: 1}
	if len(args) > 0 {
		e.args = args
		e.matchArgs = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expectations = append(m.expectations, e)
	return e
}

// OnAny registers an expectation matching any command.
func (m *Runner) OnAny() *Expectation {
	return m.On(Wildcard)
}

// MatchArgs requires the arguments to match exactly, including an empty
// argument list.
func (e *Expectation) MatchArgs(args ...string) *Expectation {
	e.runner.mu.Lock()
	defer e.runner.mu.Unlock()
	e.args = args
	e.matchArgs = true
	return e
}

// MatchDir requires the request to use the given working directory.
func (e *Expectation) MatchDir(dir string) *Expectation {
	e.runner.mu.Lock()
	defer e.runner.mu.Unlock()
	e.dir = dir
	e.matchDir = true
	return e
}

// MatchEnv requires the request environment to contain key=value.
func (e *Expectation) MatchEnv(key, value string) *Expectation {
	e.runner.mu.Lock()
	defer e.runner.mu.Unlock()
	if e.env == nil {
		e.env = make(map[string]string)
	}
	e.env[key] = value
	return e
}

// MatchFunc adds a custom predicate over the finalized request.
func (e *Expectation) MatchFunc(fn func(*sdkexec.Request) bool) *Expectation {
	e.runner.mu.Lock()
	defer e.runner.mu.Unlock()
	e.matchFn = fn
	return e
}

// ReturnStatus scripts the exit code for matching calls.
func (e *Expectation) ReturnStatus(code int) *Expectation {
	e.runner.mu.Lock()
	defer e.runner.mu.Unlock()
	e.status = sdkexec.Status{ExitCode: code}
	e.err = nil
	return e
}

// ReturnOutput scripts the captured stdout and stderr for matching calls.
func (e *Expectation) ReturnOutput(stdout, stderr []byte) *Expectation {
	e.runner.mu.Lock()
	defer e.runner.mu.Unlock()
	e.stdout = stdout
	e.stderr = stderr
	e.err = nil
	return e
}

// ReturnSignal scripts termination by the named signal for matching calls.
func (e *Expectation) ReturnSignal(signal string) *Expectation {
	e.runner.mu.Lock()
	defer e.runner.mu.Unlock()
	e.status = sdkexec.Status{ExitCode: -1, Signaled: true, Signal: signal}
	e.err = nil
	return e
}

// ReturnError scripts a spawn failure for matching calls. The error is
// returned to the caller as-is, indistinguishable from a real failure of
// the same shape.
func (e *Expectation) ReturnError(err error) *Expectation {
	e.runner.mu.Lock()
	defer e.runner.mu.Unlock()
	e.err = err
	return e
}

// Times allows the expectation to serve up to n matching calls.
func (e *Expectation) Times(n int) *Expectation {
	e.runner.mu.Lock()
	defer e.runner.mu.Unlock()
	e.times = n
	return e
}

// Once restores the default one-shot consumption policy.
func (e *Expectation) Once() *Expectation {
	return e.Times(1)
}

// Persist makes the expectation reusable for any number of matching calls.
// In strict ordering mode a persistent expectation never exhausts, so
// expectations registered after it are unreachable.
func (e *Expectation) Persist() *Expectation {
	e.runner.mu.Lock()
	defer e.runner.mu.Unlock()
	e.times = -1
	return e
}

// Served reports how many calls this expectation has answered.
func (e *Expectation) Served() int {
	e.runner.mu.Lock()
	defer e.runner.mu.Unlock()
	return e.used
}

// exhausted reports whether the expectation can serve no further calls.
// Callers must hold the runner mutex.
func (e *Expectation) exhausted() bool {
	return e.times >= 0 && e.used >= e.times
}

// matches evaluates the predicate against a finalized request. Callers must
// hold the runner mutex.
func (e *Expectation) matches(req *sdkexec.Request) bool {
	if e.path != Wildcard && e.path != req.Path {
		return false
	}
	if e.matchArgs && !equalArgs(e.args, req.Args) {
		return false
	}
	if e.matchDir && e.dir != req.Dir {
		return false
	}
	for key, value := range e.env {
		if !hasEnv(req.Env, key, value) {
			return false
		}
	}
	if e.matchFn != nil && !e.matchFn(req) {
		return false
	}
	return true
}

func equalArgs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func hasEnv(env []string, key, value string) bool {
	want := key + "=" + value
	for _, kv := range env {
		if kv == want {
			return true
		}
	}
	return false
}

// Command creates a command builder for the given program and arguments.
func (m *Runner) Command(name string, args ...string) *sdkexec.Cmd {
	return sdkexec.NewCommand(m, name, args...)
}

// script is the outcome snapshot handed out by observe. Snapshotting under
// the lock keeps match-and-consume atomic with producing the outcome.
type script struct {
	status sdkexec.Status
	stdout []byte
	stderr []byte
}

// Run matches the request against the expectation registry and returns the
// scripted buffered result. The call is recorded whether or not it matches.
// A cancelled context returns before any registry or log state changes.
func (m *Runner) Run(ctx context.Context, req *sdkexec.Request) (*sdkexec.Result, error) {
	s, err := m.observe(ctx, req)
	if err != nil {
		return nil, err
	}
	return &sdkexec.Result{
		Status: s.status,
		Stdout: s.stdout,
		Stderr: s.stderr,
	}, nil
}

// Start matches the request like Run but returns a streaming handle over
// the scripted output. Spawn failures scripted with ReturnError surface
// here, before a handle exists, exactly as the real facility behaves.
func (m *Runner) Start(ctx context.Context, req *sdkexec.Request) (sdkexec.Process, error) {
	s, err := m.observe(ctx, req)
	if err != nil {
		return nil, err
	}
	return &process{
		stdout: bytes.NewReader(s.stdout),
		stderr: bytes.NewReader(s.stderr),
		status: s.status,
	}, nil
}

// observe runs the per-call state machine: record the call, find and
// consume the serving expectation, and snapshot its script.
func (m *Runner) observe(ctx context.Context, req *sdkexec.Request) (*script, error) {
	if req == nil {
		return nil, sdkexec.ErrNilRequest
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	call := Call{
		ID:   uuid.NewString(),
		Path: req.Path,
		Args: req.Args,
		Env:  req.Env,
		Dir:  req.Dir,
	}
	m.log.Debug().Str("call_id", call.ID).Str("path", call.Path).Strs("args", call.Args).
		Msg("mock runner observed call")

	matched, sentinel := m.findLocked(req)
	if matched == nil {
		m.calls = append(m.calls, call)
		m.log.Debug().Str("call_id", call.ID).Err(sentinel).Msg("call not served")
		return nil, &UnmatchedError{Path: call.Path, Args: call.Args, Err: sentinel}
	}

	matched.used++
	call.Expectation = matched
	m.calls = append(m.calls, call)
	m.log.Debug().Str("call_id", call.ID).Msg("call served by expectation")

	if matched.err != nil {
		return nil, matched.err
	}
	return &script{
		status: matched.status,
		stdout: matched.stdout,
		stderr: matched.stderr,
	}, nil
}

// findLocked locates the expectation for a request, or reports why none
// applies. Callers must hold the mutex.
func (m *Runner) findLocked(req *sdkexec.Request) (*Expectation, error) {
	if m.strict {
		var next *Expectation
		for _, e := range m.expectations {
			if !e.exhausted() {
				next = e
				break
			}
		}
		if next == nil {
			return nil, ErrUnmatched
		}
		if !next.matches(req) {
			return nil, ErrOutOfOrder
		}
		return next, nil
	}

	for _, e := range m.expectations {
		if !e.exhausted() && e.matches(req) {
			return e, nil
		}
	}
	return nil, ErrUnmatched
}

// process streams scripted output from memory and reports the scripted
// termination status.
type process struct {
	stdout io.Reader
	stderr io.Reader
	status sdkexec.Status
}

// Stdout streams the scripted standard output.
func (p *process) Stdout() io.Reader { return p.stdout }

// Stderr streams the scripted standard error.
func (p *process) Stderr() io.Reader { return p.stderr }

// Wait returns the scripted status immediately; there is nothing to wait
// for.
func (p *process) Wait() (*sdkexec.Status, error) {
	status := p.status
	return &status, nil
}

// Calls returns a copy of the call records in the order calls occurred.
func (m *Runner) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallCount reports how many recorded calls ran the given program; name may
// be Wildcard.
func (m *Runner) CallCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if name == Wildcard || c.Path == name {
			count++
		}
	}
	return count
}

// ExpectationsMet returns an error listing every non-persistent expectation
// that has not served its full number of calls.
func (m *Runner) ExpectationsMet() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var unmet []error
	for i, e := range m.expectations {
		if e.times >= 0 && e.used < e.times {
			unmet = append(unmet, fmt.Errorf(
				"expectation %d (%s) served %d of %d calls", i, e.path, e.used, e.times))
		}
	}
	if len(unmet) == 0 {
		return nil
	}
	return errors.Join(append([]error{ErrExpectationsNotMet}, unmet...)...)
}

// Reset discards all expectations and call records, returning the mock to
// its unconfigured state.
func (m *Runner) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expectations = nil
	m.calls = nil
}

// Exiter records requested exit codes instead of terminating the process,
// signalling a recoverable completion that tests assert on afterwards.
type Exiter struct {
	mu    sync.Mutex
	codes []int
}

// Ensure the recording exiter satisfies the capability seam at compile time.
var _ sdkexec.Exiter = (*Exiter)(nil)

// Exit records the requested code and returns control to the caller.
func (e *Exiter) Exit(code int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.codes = append(e.codes, code)
}

// Codes returns every exit code requested so far, in order.
func (e *Exiter) Codes() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.codes...)
}

// LastCode returns the most recently requested exit code, if any.
func (e *Exiter) LastCode() (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.codes) == 0 {
		return 0, false
	}
	return e.codes[len(e.codes)-1], true
}

// Backend selects which Runner implementation the Select factory returns.
type Backend string

// Supported backends.
const (
	// BackendReal yields the real adapter over os/exec.
	BackendReal Backend = "real"
	// BackendMock yields a fresh, unconfigured mock instance.
	BackendMock Backend = "mock"
)

// Select constructs the chosen backend behind the capability interface. The
// choice is always explicit; nothing is sensed from the environment. Tests
// that need to register expectations should construct the mock with New and
// keep the concrete handle.
func Select(backend Backend, config sdkexec.Config) (sdkexec.Runner, error) {
	switch backend {
	case BackendReal:
		return sdkexec.New(config)
	case BackendMock:
		return New(Config{Logger: config.Logger}), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}
