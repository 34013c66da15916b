package transcode

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"time"

	"github.com/rhetoric101/morse-voice-trainer/internal/procgroup"
)

type runState int

const (
	stateStarting runState = iota
	stateWaiting
	stateExited
	stateSucceeded
	stateStartFailed
	stateExitedNonZero
	stateTimedOut
	stateInterrupted
	stateOutputMissing
)

var stateNames = map[runState]string{
	stateStarting:      "starting",
	stateWaiting:       "waiting",
	stateExited:        "exited",
	stateSucceeded:     "succeeded",
	stateStartFailed:   "start-failed",
	stateExitedNonZero: "exited-nonzero",
	stateTimedOut:      "timed-out",
	stateInterrupted:   "interrupted",
	stateOutputMissing: "output-missing",
}

func (s runState) String() string { return stateNames[s] }

func (s runState) terminal() bool { return s >= stateSucceeded }

// run drives one converter process through
// starting -> waiting -> exited -> succeeded, with every failure edge ending
// in its own terminal state.
type run struct {
	ctx      context.Context
	cmd      *exec.Cmd
	output   bytes.Buffer
	state    runState
	exitCode int
	err      error
}

type runOutcome struct {
	state    runState
	exitCode int
	output   string
	failure  *Failure
}

func newRun(ctx context.Context, binary string, args []string, dir string, grace time.Duration) *run {
	r := &run{ctx: ctx, state: stateStarting, exitCode: -1}
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec // converter binary comes from configuration
	cmd.Dir = dir
	cmd.Stdout = &r.output
	cmd.Stderr = &r.output
	procgroup.Configure(cmd)
	cmd.WaitDelay = grace
	r.cmd = cmd
	return r
}

func (r *run) drive(outputPath string) runOutcome {
	for !r.state.terminal() {
		switch r.state {
		case stateStarting:
			if err := r.cmd.Start(); err != nil {
				r.err = err
				r.state = stateStartFailed
				if r.ctx.Err() != nil {
					r.state = r.classifyWait(err)
				}
				continue
			}
			r.state = stateWaiting
		case stateWaiting:
			r.state = r.classifyWait(r.cmd.Wait())
		case stateExited:
			info, err := os.Stat(outputPath)
			if err != nil || info.Size() == 0 {
				r.err = err
				r.state = stateOutputMissing
				continue
			}
			r.state = stateSucceeded
		}
	}
	return r.outcome()
}

func (r *run) classifyWait(err error) runState {
	if r.cmd.ProcessState != nil {
		r.exitCode = r.cmd.ProcessState.ExitCode()
	}
	if ctxErr := r.ctx.Err(); ctxErr != nil {
		r.err = ctxErr
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return stateTimedOut
		}
		return stateInterrupted
	}
	if err != nil {
		r.err = err
		return stateExitedNonZero
	}
	return stateExited
}

func (r *run) outcome() runOutcome {
	out := runOutcome{state: r.state, exitCode: r.exitCode, output: r.output.String()}
	var reason Reason
	switch r.state {
	case stateSucceeded:
		return out
	case stateStartFailed:
		reason = ReasonStart
	case stateExitedNonZero:
		reason = ReasonExit
	case stateTimedOut:
		reason = ReasonTimeout
	case stateInterrupted:
		reason = ReasonInterrupted
	case stateOutputMissing:
		reason = ReasonOutputMissing
	}
	out.failure = &Failure{Reason: reason, ExitCode: r.exitCode, Output: out.output, Err: r.err}
	return out
}
