package pipeline

import (
	"errors"
	"fmt"
)

// Client-facing outcome messages.
const (
	MessageSuccess      = "Sandbox execution completed successfully"
	MessageFailed       = "Failed to run sandbox"
	MessageCLIFailed    = "Installing Claude Code CLI failed"
	MessageSDKFailed    = "Installing Anthropic SDK failed"
	MessageGitFailed    = "Git configuration failed"
	MessageVerifyFailed = "SDK verification failed"
)

// ErrMissingSecret is returned before any remote call when a required secret
// is not set.
var ErrMissingSecret = errors.New("missing secret")

// StepError reports a sandbox command that exited nonzero. Message is the
// fixed client-facing description of the failed step.
type StepError struct {
	Step     Step
	Message  string
	ExitCode int
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s (step %s, exit code %d)", e.Message, e.Step, e.ExitCode)
}

// ClientError maps err to the error and details fields of a failed outcome.
// Step failures carry their fixed message and no details; everything else is
// reported as MessageFailed with err's text.
func ClientError(err error) (message, details string) {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Message, ""
	}
	return MessageFailed, err.Error()
}
