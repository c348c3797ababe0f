package tool

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir string, command string, env []string) (stdout string, stderr string, exitCode int, err error)
}

// ExecRunner implements CommandRunner by shelling out. Each command runs in
// its own process group so a timeout kills grandchildren too.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, dir string, command string, env []string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()

	// A killed process reports ExitError, not the context error; surface
	// the cancellation so the caller can tell timeout from tool failure.
	if ctx.Err() != nil {
		return stdoutBuf.String(), stderrBuf.String(), -1, ctx.Err()
	}

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec: %w", err)
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// Adapter invokes external tools and optionally parses their structured output.
// It makes no policy decisions; gates belong to the caller.
type Adapter struct {
	cmd     CommandRunner
	parsers map[string]Parser
}

// NewAdapter creates an Adapter with the given command runner and the
// built-in parser registry.
func NewAdapter(cmd CommandRunner) *Adapter {
	a := &Adapter{
		cmd:     cmd,
		parsers: make(map[string]Parser),
	}
	a.parsers["junit"] = &JUnitParser{}
	a.parsers["trivy"] = &TrivyParser{}
	a.parsers["anchore"] = &AnchoreParser{}
	a.parsers["cyclonedx"] = &CycloneDXParser{}
	a.parsers["generic"] = &GenericParser{}
	return a
}

// InvokeOpts configures a single tool invocation.
type InvokeOpts struct {
	Command string
	Dir     string
	Env     []string      // KEY=VALUE pairs appended to the process environment
	Timeout time.Duration // defaults to 10m
	Parser  string        // "" means no structured parsing
	Report  string        // file (relative to Dir) to parse instead of stdout
}

// Invoke runs the command and, when a parser is configured, normalizes its
// output into a Report. A nil error with a non-zero exit code is a normal
// tool failure; ErrTimeout and ErrInvocation are distinct error kinds.
func (a *Adapter) Invoke(ctx context.Context, opts InvokeOpts) (*Result, *Report, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, exitCode, err := a.cmd.Run(cctx, opts.Dir, opts.Command, opts.Env)
	res := &Result{
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
		Duration: time.Since(start),
	}

	if err != nil {
		res.ExitCode = -1
		if cctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return res, nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		if ctx.Err() != nil {
			// External abort, not a tool fault.
			return res, nil, ctx.Err()
		}
		return res, nil, fmt.Errorf("%w: %v", ErrInvocation, err)
	}

	if opts.Parser == "" {
		return res, nil, nil
	}

	raw := stdout
	if opts.Report != "" {
		data, rerr := os.ReadFile(filepath.Join(opts.Dir, opts.Report))
		if rerr != nil {
			return res, &Report{
				Parsed:  false,
				Summary: fmt.Sprintf("report file %s unreadable: %v", opts.Report, rerr),
			}, nil
		}
		raw = string(data)
	}

	parser, ok := a.parsers[opts.Parser]
	if !ok {
		parser = a.parsers["generic"]
	}
	rep := parser.Parse(raw, exitCode)
	return res, &rep, nil
}
