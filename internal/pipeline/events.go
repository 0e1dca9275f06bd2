package pipeline

import (
	"time"

	"github.com/michaelbrown/sandboxer/internal/agent"
)

// State is a point in the sandbox lifecycle reached by a run.
type State string

const (
	StateCreated            State = "created"
	StateCLIInstalled       State = "cli_installed"
	StateSDKInstalled       State = "sdk_installed"
	StateGitConfigured      State = "git_configured"
	StateCredentialsWritten State = "credentials_written"
	StateScriptWritten      State = "script_written"
	StateVerified           State = "verified"
	StateStopped            State = "stopped"
	StateStoppedFailed      State = "stopped_failed"
)

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateStoppedFailed
}

// Step names a unit of work inside the pipeline.
type Step string

const (
	StepCreate      Step = "create"
	StepInstallCLI  Step = "install_cli"
	StepInstallSDK  Step = "install_sdk"
	StepGitConfig   Step = "git_config"
	StepCredentials Step = "credentials"
	StepScript      Step = "script"
	StepVerify      Step = "verify"
	StepStop        Step = "stop"
)

// EventKind classifies an Event.
type EventKind string

const (
	EventState   EventKind = "state"   // State was reached
	EventOutput  EventKind = "output"  // one line of command output
	EventMessage EventKind = "message" // one decoded agent message
	EventWarning EventKind = "warning" // non-fatal problem, e.g. stop failure
)

// Event is published to the Observer of a run.
type Event struct {
	Kind      EventKind      `json:"kind"`
	Time      time.Time      `json:"time"`
	SandboxID string         `json:"sandbox_id,omitempty"`
	State     State          `json:"state,omitempty"`
	Step      Step           `json:"step,omitempty"`
	Stream    string         `json:"stream,omitempty"`
	Line      string         `json:"line,omitempty"`
	Message   *agent.Message `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Observer receives the events of a run. Calls for one run never overlap, but
// output events may arrive on a backend's output copying goroutine. Observe
// should return quickly.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// Observers fans an event out to several observers in order.
type Observers []Observer

func (o Observers) Observe(e Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(e)
		}
	}
}
