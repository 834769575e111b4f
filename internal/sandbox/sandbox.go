// Package sandbox runs untrusted agent code in a freshly spawned child
// process with a scrubbed environment, a heap cap and a hard wall-clock kill.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"time"
)

// Job is the evaluation request piped to the sandboxd child on stdin.
type Job struct {
	Code         string   `json:"code"`
	FunctionName string   `json:"functionName"`
	Tests        []Test   `json:"tests"`
	TimeoutMs    int      `json:"timeoutMs"` // inner evaluation budget
}

// Test is one hidden test case; results are compared structurally.
type Test struct {
	Input    []any `json:"input"`
	Expected any   `json:"expected"`
}

// Result is the child's answer on stdout. Every failure path still produces
// a Result so callers never see an exception, only zero passes.
type Result struct {
	Passed    int    `json:"passed"`
	Total     int    `json:"total"`
	ElapsedMs int64  `json:"elapsedMs"`
	Error     string `json:"error,omitempty"`
}

const (
	// WallClockTimeout is the parent-enforced kill deadline. The inner
	// evaluation budget is 1s shorter, leaving room for harness overhead.
	WallClockTimeout = 5 * time.Second
	InnerBudget      = 4 * time.Second

	// HeapLimitBytes caps the child's Go heap.
	HeapLimitBytes = 64 << 20

	// stdoutCap truncates runaway child output.
	stdoutCap = 64 << 10
)

// identRe is the strict identifier gate applied before any process is spawned.
var identRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// ValidFunctionName reports whether name passes the identifier gate.
func ValidFunctionName(name string) bool {
	return identRe.MatchString(name)
}

// Executor evaluates a Job and always returns a Result.
type Executor interface {
	Execute(ctx context.Context, job Job) Result
}

// ProcessExecutor spawns the sandboxd binary per job.
type ProcessExecutor struct {
	// BinPath locates the sandboxd binary. When empty, a sibling of the
	// current executable named "sandboxd" is used.
	BinPath string
}

func (p *ProcessExecutor) binPath() (string, error) {
	if p.BinPath != "" {
		return p.BinPath, nil
	}
	self, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(self), "sandboxd"), nil
}

// Execute spawns a child, writes the job to stdin and decodes the capped
// stdout. Timeout, crash, oversized or malformed output all reduce to a
// zero-pass Result with a diagnostic error.
func (p *ProcessExecutor) Execute(ctx context.Context, job Job) Result {
	total := len(job.Tests)
	fail := func(msg string, elapsed time.Duration) Result {
		return Result{Passed: 0, Total: total, ElapsedMs: elapsed.Milliseconds(), Error: msg}
	}

	if !ValidFunctionName(job.FunctionName) {
		return fail("invalid function name", 0)
	}
	bin, err := p.binPath()
	if err != nil {
		return fail(fmt.Sprintf("sandbox binary not found: %v", err), 0)
	}
	if job.TimeoutMs <= 0 {
		job.TimeoutMs = int(InnerBudget / time.Millisecond)
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fail(fmt.Sprintf("encode job: %v", err), 0)
	}

	runCtx, cancel := context.WithTimeout(ctx, WallClockTimeout)
	defer cancel()

	// CommandContext delivers SIGKILL on deadline; the child cannot catch it.
	cmd := exec.CommandContext(runCtx, bin)
	cmd.Env = []string{"PATH=" + os.Getenv("PATH")}
	cmd.Stdin = bytes.NewReader(payload)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fail(fmt.Sprintf("sandbox pipe: %v", err), 0)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return fail(fmt.Sprintf("sandbox spawn: %v", err), 0)
	}

	out, readErr := io.ReadAll(io.LimitReader(stdout, stdoutCap))
	// Keep draining past the cap, or a chatty child blocks on a full pipe
	// until the kill deadline and reports as a timeout.
	_, _ = io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()
	elapsed := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		return fail("Execution timeout", elapsed)
	}
	if readErr != nil {
		return fail(fmt.Sprintf("sandbox read: %v", readErr), elapsed)
	}
	if waitErr != nil {
		return fail(fmt.Sprintf("sandbox exited: %v", waitErr), elapsed)
	}

	var res Result
	if err := json.Unmarshal(out, &res); err != nil {
		return fail("sandbox produced invalid output", elapsed)
	}
	res.Total = total
	if res.ElapsedMs == 0 {
		res.ElapsedMs = elapsed.Milliseconds()
	}
	return res
}
