package pipeline

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/michaelbrown/sandboxer/internal/agent"
	"github.com/michaelbrown/sandboxer/internal/sandbox"
	"github.com/michaelbrown/sandboxer/internal/script"
)

type step struct {
	state State // reached when run succeeds
	run   func(ctx context.Context) error
}

// run is the state of one Pipeline.Run invocation.
type run struct {
	*Pipeline
	prep   *prepared
	lease  *sandbox.Lease
	obs    Observer
	logger *zap.Logger

	// outMu serializes output from the stdout and stderr copiers, which some
	// backends run on separate goroutines.
	outMu sync.Mutex
	final *agent.Message
}

func (r *run) emit(e Event) {
	e.Time = time.Now()
	e.SandboxID = r.lease.ID()
	r.obs.Observe(e)
}

func (r *run) enter(s State) {
	r.logger.Info("state reached", zap.String("state", string(s)))
	r.emit(Event{Kind: EventState, State: s})
}

func (r *run) installCLI(ctx context.Context) error {
	return r.exec(ctx, StepInstallCLI, MessageCLIFailed, sandbox.Command{
		Cmd:  "npm",
		Args: []string{"install", "-g", r.cfg.CLIPackage},
		Sudo: true,
	})
}

func (r *run) installSDK(ctx context.Context) error {
	return r.exec(ctx, StepInstallSDK, MessageSDKFailed, sandbox.Command{
		Cmd:  "npm",
		Args: []string{"install", r.cfg.SDKPackage},
	})
}

// configureGit runs the three git config commands, each gated on the one
// before it.
func (r *run) configureGit(ctx context.Context) error {
	settings := [][2]string{
		{"user.name", r.cfg.GitUserName},
		{"user.email", r.cfg.GitUserEmail},
		{"credential.helper", "store --file=" + r.cfg.CredentialsPath},
	}
	for _, kv := range settings {
		err := r.exec(ctx, StepGitConfig, MessageGitFailed, sandbox.Command{
			Cmd:  "git",
			Args: []string{"config", "--global", kv[0], kv[1]},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *run) writeCredentials(ctx context.Context) error {
	line := fmt.Sprintf("https://%s:%s@%s\n", r.cfg.RepoUsername, r.prep.token, r.prep.gitHost)
	if err := r.lease.WriteFiles(ctx, []sandbox.File{{Path: r.cfg.CredentialsPath, Content: []byte(line)}}); err != nil {
		return fmt.Errorf("writing git credentials: %w", err)
	}
	return nil
}

func (r *run) scriptPath() string {
	return path.Join(r.cfg.Workdir, script.FileName)
}

func (r *run) writeScript(ctx context.Context) error {
	if err := r.lease.WriteFiles(ctx, []sandbox.File{{Path: r.scriptPath(), Content: r.prep.script.Content}}); err != nil {
		return fmt.Errorf("writing verification script: %w", err)
	}
	r.logger.Info("verification script written",
		zap.String("path", r.scriptPath()),
		zap.Int("template_version", script.Version),
		zap.String("profile", r.profile.Name))
	return nil
}

func (r *run) verify(ctx context.Context) error {
	env := make(map[string]string, len(r.prep.forwards)+1)
	for k, v := range r.prep.forwards {
		env[k] = v
	}
	env[r.cfg.APIKeySecret] = r.prep.apiKey

	return r.exec(ctx, StepVerify, MessageVerifyFailed, sandbox.Command{
		Cmd:  "node",
		Args: []string{script.FileName},
		Cwd:  r.cfg.Workdir,
		Env:  env,
	})
}

// exec runs cmd with its output streamed to the log and the observer. A
// nonzero exit becomes a StepError carrying failMsg.
func (r *run) exec(ctx context.Context, s Step, failMsg string, cmd sandbox.Command) error {
	stdout := agent.NewLineWriter(func(line []byte) { r.output(s, "stdout", line) })
	stderr := agent.NewLineWriter(func(line []byte) { r.output(s, "stderr", line) })
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	// Env is left out, it carries secrets.
	r.logger.Info("running command",
		zap.String("step", string(s)),
		zap.String("command", shellquote.Join(append([]string{cmd.Cmd}, cmd.Args...)...)),
		zap.Bool("sudo", cmd.Sudo))

	res, err := r.lease.RunCommand(ctx, cmd)
	stdout.Close()
	stderr.Close()
	if err != nil {
		return fmt.Errorf("%s: %w", s, err)
	}

	if res.ExitCode != 0 {
		return &StepError{Step: s, Message: failMsg, ExitCode: res.ExitCode}
	}
	return nil
}

func (r *run) output(s Step, stream string, line []byte) {
	r.outMu.Lock()
	defer r.outMu.Unlock()

	text := string(line)
	r.logger.Info("sandbox output",
		zap.String("step", string(s)),
		zap.String("stream", stream),
		zap.String("line", text))
	r.emit(Event{Kind: EventOutput, Step: s, Stream: stream, Line: text})

	if s != StepVerify || stream != "stdout" {
		return
	}
	msg, ok, err := agent.Parse(line)
	if err != nil {
		r.logger.Debug("undecodable agent line", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	if msg.Type == agent.TypeResult {
		r.final = &msg
	}
	r.emit(Event{Kind: EventMessage, Step: s, Message: &msg})
}

// release stops the sandbox. A stop failure is logged and reported as a
// warning event; it never changes the outcome of the run.
func (r *run) release(ctx context.Context) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.StopTimeout)
	defer cancel()

	if err := r.lease.Release(stopCtx); err != nil {
		r.logger.Warn("failed to stop sandbox", zap.Error(err))
		r.emit(Event{Kind: EventWarning, Step: StepStop, Error: err.Error()})
		return
	}
	r.logger.Info("sandbox stopped")
}
