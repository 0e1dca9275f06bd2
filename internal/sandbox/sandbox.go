package sandbox

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrStopped is returned when a sandbox handle is used after it was stopped.
var ErrStopped = errors.New("sandbox already stopped")

// Source describes where the sandbox working directory is populated from.
type Source struct {
	Type     string // only "git" is supported
	URL      string
	Username string
	Password string
	Revision string // optional branch, tag or commit
	Depth    int    // optional shallow clone depth
}

// Resources is the compute allocation of a sandbox.
type Resources struct {
	VCPUs int
}

// CreateOptions describes a sandbox creation request.
type CreateOptions struct {
	Source    *Source
	Resources Resources
	Timeout   time.Duration // idle timeout after which the service reclaims the sandbox
	Runtime   string        // e.g. "node22"
	Ports     []int
}

// Command is a process to run inside a sandbox.
type Command struct {
	Cmd    string
	Args   []string
	Cwd    string // empty means the sandbox working directory
	Env    map[string]string
	Sudo   bool
	Stdout io.Writer // optional, receives streamed stdout
	Stderr io.Writer // optional, receives streamed stderr
}

// CommandResult is the outcome of a finished command.
type CommandResult struct {
	ID       string
	ExitCode int
}

// File is a file to write into a sandbox. Path is absolute.
type File struct {
	Path    string
	Content []byte
}

// Sandbox is a handle to one running remote sandbox.
type Sandbox interface {
	ID() string
	RunCommand(ctx context.Context, cmd Command) (*CommandResult, error)
	WriteFiles(ctx context.Context, files []File) error
	Stop(ctx context.Context) error
}

// Provider creates sandboxes.
type Provider interface {
	Create(ctx context.Context, opts CreateOptions) (Sandbox, error)
}
