package transcode

import (
	"errors"
	"fmt"
)

// Reason classifies how a conversion ended.
type Reason string

const (
	ReasonSetup         Reason = "setup"
	ReasonStart         Reason = "start"
	ReasonExit          Reason = "exit"
	ReasonTimeout       Reason = "timeout"
	ReasonInterrupted   Reason = "interrupted"
	ReasonOutputMissing Reason = "output-missing"
)

// Failure is returned for every unsuccessful conversion. Output carries the
// combined stdout/stderr of the process when it ran.
type Failure struct {
	Reason   Reason
	ExitCode int
	Output   string
	Err      error
}

func (f *Failure) Error() string {
	switch f.Reason {
	case ReasonExit:
		return fmt.Sprintf("transcoder exited with code %d", f.ExitCode)
	case ReasonTimeout:
		return "transcoder timed out"
	case ReasonInterrupted:
		return "transcoder interrupted"
	case ReasonOutputMissing:
		return "transcoder produced no output"
	}
	if f.Err != nil {
		return fmt.Sprintf("transcoder %s failed: %v", f.Reason, f.Err)
	}
	return fmt.Sprintf("transcoder %s failed", f.Reason)
}

func (f *Failure) Unwrap() error { return f.Err }

// ReasonOf returns the failure reason of err, or "" when err is not a Failure.
func ReasonOf(err error) Reason {
	var f *Failure
	if errors.As(err, &f) {
		return f.Reason
	}
	return ""
}
