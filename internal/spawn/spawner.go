// Package spawn launches one external agent process per stage attempt,
// streams its output live, enforces a timeout, and reports a structured
// result. It never retries; retry policy belongs to the retry package.
package spawn

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// Classification labels why an attempt failed.
type Classification string

const (
	// ClassNone means the attempt succeeded (or was skipped).
	ClassNone Classification = ""
	// ClassSpawnError means the agent process exited nonzero or failed to start.
	ClassSpawnError Classification = "spawn_error"
	// ClassTimeout means the agent exceeded the stage timeout and its process
	// tree was killed.
	ClassTimeout Classification = "timeout"
	// ClassInterrupted means an external cancellation terminated the agent.
	ClassInterrupted Classification = "interrupted"
	// ClassRetryExhausted is applied by the retry handler when every attempt
	// of a stage has failed.
	ClassRetryExhausted Classification = "retry_exhausted"
)

// AttemptResult captures the outcome of a single stage attempt.
type AttemptResult struct {
	Stage          string
	Attempt        int
	Success        bool
	Skipped        bool
	Output         string // bounded tail of combined stdout+stderr
	ExitCode       int
	Duration       time.Duration
	Classification Classification
	Message        string
}

// Spawner launches an external agent process for a command.
type Spawner interface {
	Spawn(ctx context.Context, command string, timeout time.Duration) AttemptResult
}

const defaultTailBytes = 64 * 1024

// ExecSpawner runs commands through `sh -c` in their own process group, so a
// timeout or cancellation can terminate the whole tree, not just the shell.
// Output is streamed to Progress as it arrives while the tail is buffered for
// the result.
type ExecSpawner struct {
	Dir       string    // working directory; empty means inherit
	Progress  io.Writer // live output sink; nil = silent
	TailBytes int       // tail buffer size; 0 = 64 KiB
}

// Spawn executes command and blocks until it exits, times out, or ctx is
// cancelled. A secondary reader goroutine services the output stream while
// this call waits.
func (s *ExecSpawner) Spawn(ctx context.Context, command string, timeout time.Duration) AttemptResult {
	start := time.Now()
	res := AttemptResult{ExitCode: -1}

	tailMax := s.TailBytes
	if tailMax <= 0 {
		tailMax = defaultTailBytes
	}
	tail := &tailBuffer{max: tailMax}

	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = s.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	pr, pw, err := os.Pipe()
	if err != nil {
		return s.failed(res, start, fmt.Sprintf("create pipe: %v", err))
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		return s.failed(res, start, fmt.Sprintf("start agent: %v", err))
	}
	pw.Close() // the child holds the write end now

	// Secondary reader: feeds the tail buffer and the live progress sink
	// while the orchestrating goroutine blocks on completion or timeout.
	// Raw reads, not line scanning: the pipe must stay drained no matter how
	// the agent shapes its output, or the child blocks (or dies on EPIPE).
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		defer pr.Close()
		buf := make([]byte, 32*1024)
		for {
			n, err := pr.Read(buf)
			if n > 0 {
				tail.write(buf[:n])
				if s.Progress != nil {
					s.Progress.Write(buf[:n])
				}
			}
			if err != nil {
				return
			}
		}
	}()

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	var waitErr error
	select {
	case waitErr = <-waitCh:
	case <-timeoutCh:
		res.Classification = ClassTimeout
		res.Message = fmt.Sprintf("agent timed out after %s", timeout)
		killTree(cmd)
		waitErr = <-waitCh
	case <-ctx.Done():
		res.Classification = ClassInterrupted
		res.Message = "agent interrupted"
		killTree(cmd)
		waitErr = <-waitCh
	}
	<-readerDone

	res.Duration = time.Since(start)
	res.Output = tail.String()

	if res.Classification != ClassNone {
		res.ExitCode = exitCode(waitErr)
		return res
	}

	if waitErr == nil {
		res.Success = true
		res.ExitCode = 0
		return res
	}

	res.ExitCode = exitCode(waitErr)
	res.Classification = ClassSpawnError
	res.Message = fmt.Sprintf("agent exited with status %d", res.ExitCode)
	return res
}

func (s *ExecSpawner) failed(res AttemptResult, start time.Time, msg string) AttemptResult {
	res.Duration = time.Since(start)
	res.Classification = ClassSpawnError
	res.Message = msg
	return res
}

// killTree terminates the agent's whole process group.
func killTree(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

func exitCode(waitErr error) int {
	if waitErr == nil {
		return 0
	}
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

// tailBuffer retains the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func (t *tailBuffer) write(p []byte) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		// Copy so the discarded prefix can be collected.
		trimmed := make([]byte, t.max)
		copy(trimmed, t.buf[len(t.buf)-t.max:])
		t.buf = trimmed
	}
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}
