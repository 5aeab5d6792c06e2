package exec

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	osexec "os/exec"
	"syscall"

	"github.com/rs/zerolog"
)

// Runner is the capability interface for child-process execution. Both the
// real adapter returned by New and the mock adapter in the sibling mock
// package satisfy it; code under test should depend on nothing else.
type Runner interface {
	Spawner

	// Command creates a command builder for the given program and
	// arguments.
	Command(name string, args ...string) *Cmd
}

// Spawner executes a finalized Request. It is the minimal surface a Cmd
// builder needs from its bound adapter.
type Spawner interface {
	// Run executes the request to completion and returns its buffered
	// result. Non-zero exits are results, not errors; only spawn failures
	// are errors.
	Run(ctx context.Context, req *Request) (*Result, error)

	// Start spawns the request and returns a handle for incremental reads
	// of the captured output.
	Start(ctx context.Context, req *Request) (Process, error)
}

// Request describes a command after the builder has finalized it. It must
// not be modified once handed to an adapter.
type Request struct {
	// Path is the program to run.
	Path string
	// Args holds the program arguments, excluding the program itself.
	Args []string
	// Env holds the environment in KEY=VALUE form. Nil inherits the
	// parent's environment; the distinction is the real facility's.
	Env []string
	// Dir is the working directory. Empty inherits the parent's.
	Dir string
	// Stdin is the standard input stream, if any.
	Stdin io.Reader
}

// Status describes how a process terminated.
type Status struct {
	// ExitCode is the process exit code. It is -1 when the process was
	// terminated by a signal.
	ExitCode int
	// Signaled reports whether a signal terminated the process.
	Signaled bool
	// Signal names the terminating signal when Signaled is true.
	Signal string
}

// Result is the buffered outcome of a completed command.
type Result struct {
	// Status describes the termination of the process.
	Status Status
	// Stdout is the captured standard output.
	Stdout []byte
	// Stderr is the captured standard error.
	Stderr []byte
}

// Process is a handle to a started command. Callers read Stdout and Stderr
// before calling Wait, matching the contract of the real facility.
type Process interface {
	// Stdout streams the process standard output incrementally.
	Stdout() io.Reader

	// Stderr streams the process standard error incrementally.
	Stderr() io.Reader

	// Wait blocks until the process exits and returns its status.
	Wait() (*Status, error)
}

// Exiter abstracts process termination so that code calling it can be
// tested without ending the test binary. The mock package records requested
// codes instead of exiting.
type Exiter interface {
	Exit(code int)
}

// OSExiter terminates the current process via os.Exit.
type OSExiter struct{}

// Ensure OSExiter always satisfies the Exiter interface at compile time.
var _ Exiter = OSExiter{}

// Exit terminates the current process with the given code.
func (OSExiter) Exit(code int) {
	os.Exit(code)
}

var (
	// ErrNilRequest indicates Run or Start received a nil Request pointer.
	ErrNilRequest = errors.New("request is nil")

	// ErrNoPath indicates a request with no program to run.
	ErrNoPath = errors.New("no program path provided")

	// ErrSpawn wraps failures to start the process at all, as opposed to a
	// process that started and exited non-zero.
	ErrSpawn = errors.New("failed to spawn process")

	// ErrAlreadyExecuted is returned when Run or Start is called on a
	// builder that has already executed. This signals a bug in the calling
	// test and is never recovered internally.
	ErrAlreadyExecuted = errors.New("command builder already executed")
)

// Cmd accumulates command configuration through chained setters and
// finalizes it into an immutable Request on Run or Start. Setting the same
// field twice is last-write-wins. A builder executes at most once.
//
// A Cmd with nothing set beyond the program name still finalizes into a
// well-formed request; stdio and environment defaults are the adapter's
// concern, and the mock adapter accepts any configuration without
// validation.
type Cmd struct {
	spawner  Spawner
	path     string
	args     []string
	env      []string
	dir      string
	stdin    io.Reader
	executed bool
}

// NewCommand creates a builder bound to the given adapter. Adapters use it
// to implement the Runner.Command starter; it is rarely called directly.
func NewCommand(s Spawner, name string, args ...string) *Cmd {
	return &Cmd{spawner: s, path: name, args: args}
}

// Env sets the environment in KEY=VALUE form, replacing any previous value.
func (c *Cmd) Env(env ...string) *Cmd {
	c.env = env
	return c
}

// Dir sets the working directory, replacing any previous value.
func (c *Cmd) Dir(dir string) *Cmd {
	c.dir = dir
	return c
}

// Stdin sets the standard input stream, replacing any previous value.
func (c *Cmd) Stdin(r io.Reader) *Cmd {
	c.stdin = r
	return c
}

// Run finalizes the accumulated state and executes it to completion via the
// bound adapter. A second Run or Start on the same builder returns
// ErrAlreadyExecuted.
func (c *Cmd) Run(ctx context.Context) (*Result, error) {
	req, err := c.finalize()
	if err != nil {
		return nil, err
	}
	return c.spawner.Run(ctx, req)
}

// Start finalizes the accumulated state and spawns it via the bound
// adapter, returning a handle for streaming reads.
func (c *Cmd) Start(ctx context.Context) (Process, error) {
	req, err := c.finalize()
	if err != nil {
		return nil, err
	}
	return c.spawner.Start(ctx, req)
}

func (c *Cmd) finalize() (*Request, error) {
	if c.executed {
		return nil, ErrAlreadyExecuted
	}
	c.executed = true
	return &Request{
		Path:  c.path,
		Args:  c.args,
		Env:   c.env,
		Dir:   c.dir,
		Stdin: c.stdin,
	}, nil
}

// Config configures the real adapter.
type Config struct {
	// Logger receives command-level debug logging. When nil, logging is
	// disabled.
	Logger *zerolog.Logger
}

// OSRunner is the real adapter: a thin pass-through to os/exec. It performs
// no scripting logic and produces outcomes structurally identical to the
// mock adapter's.
type OSRunner struct {
	log zerolog.Logger
}

// Ensure OSRunner always satisfies the Runner interface at compile time.
var _ Runner = (*OSRunner)(nil)

// New creates a real command runner with the provided configuration.
func New(config Config) (*OSRunner, error) {
	log := zerolog.Nop()
	if config.Logger != nil {
		log = *config.Logger
	}
	return &OSRunner{log: log}, nil
}

// Command creates a command builder for the given program and arguments.
func (r *OSRunner) Command(name string, args ...string) *Cmd {
	return NewCommand(r, name, args...)
}

// Run executes the request to completion, capturing stdout and stderr.
func (r *OSRunner) Run(ctx context.Context, req *Request) (*Result, error) {
	cmd, err := r.build(ctx, req)
	if err != nil {
		return nil, err
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.log.Debug().Str("path", req.Path).Strs("args", req.Args).Msg("running command")

	status, err := waitStatus(cmd.Run())
	if err != nil {
		return nil, err
	}

	return &Result{
		Status: *status,
		Stdout: stdout.Bytes(),
		Stderr: stderr.Bytes(),
	}, nil
}

// Start spawns the request and returns a handle streaming its output.
func (r *OSRunner) Start(ctx context.Context, req *Request) (Process, error) {
	cmd, err := r.build(ctx, req)
	if err != nil {
		return nil, err
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Join(ErrSpawn, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.Join(ErrSpawn, err)
	}

	r.log.Debug().Str("path", req.Path).Strs("args", req.Args).Msg("starting command")

	if err := cmd.Start(); err != nil {
		return nil, errors.Join(ErrSpawn, err)
	}

	return &osProcess{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

func (r *OSRunner) build(ctx context.Context, req *Request) (*osexec.Cmd, error) {
	if req == nil {
		return nil, ErrNilRequest
	}
	if req.Path == "" {
		return nil, ErrNoPath
	}
	if ctx == nil {
		ctx = context.Background()
	}

	cmd := osexec.CommandContext(ctx, req.Path, req.Args...)
	cmd.Env = req.Env
	cmd.Dir = req.Dir
	cmd.Stdin = req.Stdin
	return cmd, nil
}

// waitStatus converts the error from (*osexec.Cmd).Run or Wait into a
// Status, keeping non-zero exits and signals as values and reserving errors
// for spawn failures.
func waitStatus(err error) (*Status, error) {
	if err == nil {
		return &Status{ExitCode: 0}, nil
	}

	var exitErr *osexec.ExitError
	if !errors.As(err, &exitErr) {
		return nil, errors.Join(ErrSpawn, err)
	}

	status := &Status{ExitCode: exitErr.ExitCode()}
	if ws, ok := exitErr.Sys().(interface {
		Signaled() bool
		Signal() syscall.Signal
	}); ok && ws.Signaled() {
		status.Signaled = true
		status.Signal = ws.Signal().String()
	}
	return status, nil
}

// osProcess is the streaming handle over a started os/exec command.
type osProcess struct {
	cmd    *osexec.Cmd
	stdout io.Reader
	stderr io.Reader
}

// Stdout streams the process standard output.
func (p *osProcess) Stdout() io.Reader { return p.stdout }

// Stderr streams the process standard error.
func (p *osProcess) Stderr() io.Reader { return p.stderr }

// Wait blocks until the process exits. Output streams must be drained
// first, per the os/exec contract.
func (p *osProcess) Wait() (*Status, error) {
	return waitStatus(p.cmd.Wait())
}
