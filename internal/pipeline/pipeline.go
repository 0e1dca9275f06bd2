// Package pipeline provisions a sandbox for one AI agent run: it creates the
// sandbox from a git repository, installs the agent CLI and SDK, configures
// git credentials, runs the verification script and always stops the
// sandbox again.
package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/michaelbrown/sandboxer/internal/agent"
	"github.com/michaelbrown/sandboxer/internal/sandbox"
	"github.com/michaelbrown/sandboxer/internal/script"
)

// Config is the fixed configuration of every run.
type Config struct {
	RepoURL      string // https URL of the git repository to clone
	RepoUsername string // username paired with the git token
	Revision     string
	Depth        int

	VCPUs   int
	Timeout time.Duration // sandbox idle timeout
	Runtime string

	CLIPackage string
	SDKPackage string

	GitUserName     string
	GitUserEmail    string
	CredentialsPath string
	Workdir         string

	// Names of the secrets read from the SecretSource on every run.
	GitTokenSecret string
	APIKeySecret   string

	// StopTimeout bounds the final stop call, which runs even when the
	// run's context is already cancelled.
	StopTimeout time.Duration
}

// DefaultConfig returns the configuration of the blog verification run.
func DefaultConfig() Config {
	return Config{
		RepoURL:         "https://github.com/codybontecou/blog.git",
		RepoUsername:    "x-access-token",
		VCPUs:           4,
		Timeout:         10 * time.Minute,
		Runtime:         "node22",
		CLIPackage:      "@anthropic-ai/claude-code",
		SDKPackage:      "@anthropic-ai/claude-agent-sdk",
		GitUserName:     "Claude Agent",
		GitUserEmail:    "agent@example.com",
		CredentialsPath: "/tmp/git-credentials",
		Workdir:         "/vercel/sandbox",
		GitTokenSecret:  "GIT_ACCESS_TOKEN",
		APIKeySecret:    "ANTHROPIC_API_KEY",
		StopTimeout:     30 * time.Second,
	}
}

// Result is the outcome of a run. Run returns a non-nil Result whenever a
// sandbox was created, also alongside an error.
type Result struct {
	SandboxID string
	State     State
	// Final is the agent's last result message, if one was emitted.
	Final *agent.Message
}

// Pipeline runs the provisioning steps against a sandbox provider.
type Pipeline struct {
	cfg      Config
	provider sandbox.Provider
	secrets  SecretSource
	profile  *script.Profile
	policy   sandbox.Policy
	logger   *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPolicy sets the policy create options are checked against.
func WithPolicy(p sandbox.Policy) Option {
	return func(pl *Pipeline) {
		pl.policy = p
	}
}

// WithProfile sets the agent profile the verification script is rendered from.
func WithProfile(p *script.Profile) Option {
	return func(pl *Pipeline) {
		if p != nil {
			pl.profile = p
		}
	}
}

// New creates a Pipeline.
func New(cfg Config, provider sandbox.Provider, secrets SecretSource, logger *zap.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:      cfg,
		provider: provider,
		secrets:  secrets,
		profile:  script.DefaultProfile(),
		policy:   sandbox.DefaultPolicy(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cfg.StopTimeout <= 0 {
		p.cfg.StopTimeout = DefaultConfig().StopTimeout
	}
	return p
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Run executes one provisioning run. Events are published to obs, which may
// be nil. The sandbox is stopped on every path once it was created, with a
// context detached from ctx so cancellation does not leak the sandbox.
func (p *Pipeline) Run(ctx context.Context, obs Observer) (res *Result, err error) {
	if obs == nil {
		obs = Observers(nil)
	}

	prep, err := p.prepare()
	if err != nil {
		return nil, err
	}

	lease, err := sandbox.Acquire(ctx, p.provider, prep.opts)
	if err != nil {
		return nil, fmt.Errorf("creating sandbox: %w", err)
	}

	r := &run{
		Pipeline: p,
		prep:     prep,
		lease:    lease,
		obs:      obs,
		logger:   p.logger.With(zap.String("sandbox_id", lease.ID())),
	}
	res = &Result{SandboxID: lease.ID(), State: StateCreated}

	ok := false
	defer func() {
		r.release(ctx)
		res.State = StateStopped
		if !ok {
			res.State = StateStoppedFailed
		}
		res.Final = r.final
		r.enter(res.State)
	}()

	r.logger.Info("sandbox created")
	r.enter(StateCreated)

	steps := []step{
		{StateCLIInstalled, r.installCLI},
		{StateSDKInstalled, r.installSDK},
		{StateGitConfigured, r.configureGit},
		{StateCredentialsWritten, r.writeCredentials},
		{StateScriptWritten, r.writeScript},
		{StateVerified, r.verify},
	}
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("run cancelled before %s: %w", s.state, err)
		}
		if err := s.run(ctx); err != nil {
			r.logger.Error("step failed", zap.String("next_state", string(s.state)), zap.Error(err))
			return res, err
		}
		r.enter(s.state)
	}

	ok = true
	return res, nil
}

// prepared holds everything resolved before the sandbox is created.
type prepared struct {
	opts     sandbox.CreateOptions
	token    string
	apiKey   string
	gitHost  string
	script   *script.Script
	forwards map[string]string
}

// prepare reads secrets, renders the script and checks the create options.
// It makes no remote calls.
func (p *Pipeline) prepare() (*prepared, error) {
	token, ok := p.secrets.Lookup(p.cfg.GitTokenSecret)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingSecret, p.cfg.GitTokenSecret)
	}
	apiKey, ok := p.secrets.Lookup(p.cfg.APIKeySecret)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingSecret, p.cfg.APIKeySecret)
	}

	repo, err := url.Parse(p.cfg.RepoURL)
	if err != nil || repo.Host == "" {
		return nil, fmt.Errorf("invalid repository url %q", p.cfg.RepoURL)
	}

	s, err := script.Render(p.profile)
	if err != nil {
		return nil, err
	}
	forwards := make(map[string]string, len(s.Env))
	for _, name := range s.Env {
		v, ok := p.secrets.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s (referenced by profile %q)", ErrMissingSecret, name, p.profile.Name)
		}
		forwards[name] = v
	}

	opts := sandbox.CreateOptions{
		Source: &sandbox.Source{
			Type:     "git",
			URL:      p.cfg.RepoURL,
			Username: p.cfg.RepoUsername,
			Password: token,
			Revision: p.cfg.Revision,
			Depth:    p.cfg.Depth,
		},
		Resources: sandbox.Resources{VCPUs: p.cfg.VCPUs},
		Timeout:   p.cfg.Timeout,
		Runtime:   p.cfg.Runtime,
	}
	if err := p.policy.Check(opts); err != nil {
		return nil, fmt.Errorf("sandbox request rejected: %w", err)
	}

	return &prepared{
		opts:     opts,
		token:    token,
		apiKey:   apiKey,
		gitHost:  repo.Host,
		script:   s,
		forwards: forwards,
	}, nil
}
