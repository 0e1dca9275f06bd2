// Package docker implements sandbox.Provider on top of the local docker CLI.
// It mirrors the hosted sandbox lifecycle closely enough to run the
// provisioning pipeline on a developer machine.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/michaelbrown/sandboxer/internal/sandbox"
)

// DefaultImages maps sandbox runtimes to container images.
var DefaultImages = map[string]string{
	"node22":     "node:22",
	"python3.13": "python:3.13",
}

// DefaultWorkdir matches the working directory of the hosted sandboxes.
const DefaultWorkdir = "/vercel/sandbox"

// Provider creates sandboxes as long-running docker containers.
type Provider struct {
	logger  *zap.Logger
	images  map[string]string
	workdir string
	user    string
	runner  CommandRunner
}

// Option configures a Provider.
type Option func(*Provider)

// WithRunner sets the CommandRunner used to invoke docker.
func WithRunner(r CommandRunner) Option {
	return func(p *Provider) {
		p.runner = r
	}
}

// WithImages overrides the runtime to image mapping.
func WithImages(images map[string]string) Option {
	return func(p *Provider) {
		if len(images) > 0 {
			p.images = images
		}
	}
}

// WithWorkdir sets the container working directory.
func WithWorkdir(dir string) Option {
	return func(p *Provider) {
		if dir != "" {
			p.workdir = dir
		}
	}
}

// WithUser sets the user non-sudo commands run as. Empty keeps the image default.
func WithUser(user string) Option {
	return func(p *Provider) {
		p.user = user
	}
}

// New creates a docker Provider.
func New(logger *zap.Logger, opts ...Option) *Provider {
	p := &Provider{
		logger:  logger,
		images:  DefaultImages,
		workdir: DefaultWorkdir,
		runner:  ExecRunner{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Create(ctx context.Context, opts sandbox.CreateOptions) (sandbox.Sandbox, error) {
	image, ok := p.images[opts.Runtime]
	if !ok {
		return nil, fmt.Errorf("no image configured for runtime %q", opts.Runtime)
	}

	name := "sandboxer-" + uuid.NewString()[:8]
	args := []string{
		"docker", "run", "-d",
		"--name", name,
		"-w", p.workdir,
	}
	if opts.Resources.VCPUs > 0 {
		args = append(args, "--cpus", strconv.Itoa(opts.Resources.VCPUs))
	}
	// The container lives until the idle timeout elapses, like a hosted sandbox.
	args = append(args, image, "sleep", strconv.Itoa(int(opts.Timeout.Seconds())))

	var stdout, stderr bytes.Buffer
	code, err := p.runner.Run(ctx, args, nil, &stdout, &stderr)
	if err != nil {
		return nil, fmt.Errorf("running docker: %w", err)
	}
	if code != 0 {
		return nil, fmt.Errorf("docker run exited with %d: %s", code, strings.TrimSpace(stderr.String()))
	}

	sbx := &Sandbox{
		provider: p,
		id:       strings.TrimSpace(stdout.String()),
		name:     name,
	}
	p.logger.Info("container started",
		zap.String("sandbox_id", sbx.id),
		zap.String("name", name),
		zap.String("image", image))

	if opts.Source != nil {
		if err := sbx.clone(ctx, opts.Source); err != nil {
			if stopErr := sbx.Stop(context.WithoutCancel(ctx)); stopErr != nil {
				p.logger.Warn("failed to remove container after clone error", zap.String("sandbox_id", sbx.id), zap.Error(stopErr))
			}
			return nil, err
		}
	}

	return sbx, nil
}

// Sandbox is a running container.
type Sandbox struct {
	provider *Provider
	id       string
	name     string
}

func (s *Sandbox) ID() string {
	return s.id
}

func (s *Sandbox) RunCommand(ctx context.Context, cmd sandbox.Command) (*sandbox.CommandResult, error) {
	args := []string{"docker", "exec"}
	switch {
	case cmd.Sudo:
		args = append(args, "-u", "root")
	case s.provider.user != "":
		args = append(args, "-u", s.provider.user)
	}
	if cmd.Cwd != "" {
		args = append(args, "-w", cmd.Cwd)
	}

	keys := make([]string, 0, len(cmd.Env))
	for k := range cmd.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", k+"="+cmd.Env[k])
	}

	args = append(args, s.id, cmd.Cmd)
	args = append(args, cmd.Args...)

	stdout, stderr := cmd.Stdout, cmd.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	code, err := s.provider.runner.Run(ctx, args, nil, stdout, stderr)
	if err != nil {
		return nil, fmt.Errorf("running docker exec: %w", err)
	}
	return &sandbox.CommandResult{ExitCode: code}, nil
}

func (s *Sandbox) WriteFiles(ctx context.Context, files []sandbox.File) error {
	for _, f := range files {
		args := []string{
			"docker", "exec", "-i", "-u", "root", s.id,
			"sh", "-c", `mkdir -p "$(dirname "$1")" && cat > "$1"`, "sh", f.Path,
		}
		var stderr bytes.Buffer
		code, err := s.provider.runner.Run(ctx, args, bytes.NewReader(f.Content), io.Discard, &stderr)
		if err != nil {
			return fmt.Errorf("writing %s: %w", f.Path, err)
		}
		if code != 0 {
			return fmt.Errorf("writing %s: exit %d: %s", f.Path, code, strings.TrimSpace(stderr.String()))
		}
	}
	return nil
}

func (s *Sandbox) Stop(ctx context.Context) error {
	var stderr bytes.Buffer
	code, err := s.provider.runner.Run(ctx, []string{"docker", "rm", "-f", s.id}, nil, io.Discard, &stderr)
	if err != nil {
		return fmt.Errorf("removing container: %w", err)
	}
	if code != 0 {
		return fmt.Errorf("docker rm exited with %d: %s", code, strings.TrimSpace(stderr.String()))
	}
	s.provider.logger.Info("container removed", zap.String("sandbox_id", s.id), zap.String("name", s.name))
	return nil
}

// clone populates the working directory from a git source. Clone output is
// discarded because it can echo the credentialed URL.
func (s *Sandbox) clone(ctx context.Context, src *sandbox.Source) error {
	cloneURL, err := credentialedURL(src)
	if err != nil {
		return err
	}

	args := []string{"clone"}
	if src.Depth > 0 {
		args = append(args, "--depth", strconv.Itoa(src.Depth))
	}
	if src.Revision != "" {
		args = append(args, "--branch", src.Revision)
	}
	args = append(args, cloneURL, ".")

	res, err := s.RunCommand(ctx, sandbox.Command{Cmd: "git", Args: args})
	if err != nil {
		return fmt.Errorf("cloning source: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("cloning source: git exited with %d", res.ExitCode)
	}
	return nil
}

func credentialedURL(src *sandbox.Source) (string, error) {
	u, err := url.Parse(src.URL)
	if err != nil {
		return "", fmt.Errorf("parsing source url: %w", err)
	}
	if src.Username != "" || src.Password != "" {
		u.User = url.UserPassword(src.Username, src.Password)
	}
	return u.String(), nil
}
