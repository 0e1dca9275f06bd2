package vercel

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/michaelbrown/sandboxer/internal/sandbox"
)

// Provider creates hosted sandboxes.
type Provider struct {
	client *Client
	logger *zap.Logger
}

// NewProvider creates a Provider backed by client.
func NewProvider(client *Client, logger *zap.Logger) *Provider {
	return &Provider{client: client, logger: logger}
}

func (p *Provider) Create(ctx context.Context, opts sandbox.CreateOptions) (sandbox.Sandbox, error) {
	req := createRequest{
		ProjectID: p.client.projectID,
		Ports:     opts.Ports,
		Timeout:   opts.Timeout.Milliseconds(),
		Runtime:   opts.Runtime,
	}
	if opts.Resources.VCPUs > 0 {
		req.Resources = &resourcesRequest{VCPUs: opts.Resources.VCPUs}
	}
	if src := opts.Source; src != nil {
		req.Source = &sourceRequest{
			Type:     src.Type,
			URL:      src.URL,
			Username: src.Username,
			Password: src.Password,
			Revision: src.Revision,
			Depth:    src.Depth,
		}
	}

	var resp sandboxResponse
	if err := p.client.doJSON(ctx, http.MethodPost, "/v1/sandboxes", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("creating sandbox: %w", err)
	}
	if resp.Sandbox.ID == "" {
		return nil, fmt.Errorf("creating sandbox: response carried no sandbox id")
	}

	p.logger.Info("sandbox created",
		zap.String("sandbox_id", resp.Sandbox.ID),
		zap.String("status", string(resp.Sandbox.Status)),
		zap.String("region", resp.Sandbox.Region))

	return &Sandbox{client: p.client, logger: p.logger, info: resp.Sandbox, routes: resp.Routes}, nil
}

// Sandbox is a handle to one hosted sandbox.
type Sandbox struct {
	client *Client
	logger *zap.Logger
	info   sandboxInfo
	routes []sandboxRoute
}

func (s *Sandbox) ID() string {
	return s.info.ID
}

// Domain returns the public URL routed to port, if the sandbox exposes it.
func (s *Sandbox) Domain(port int) (string, bool) {
	for _, r := range s.routes {
		if r.Port == port {
			return r.URL, true
		}
	}
	return "", false
}

// RunCommand starts cmd, streams its logs to the command's writers and waits
// for it to exit.
func (s *Sandbox) RunCommand(ctx context.Context, cmd sandbox.Command) (*sandbox.CommandResult, error) {
	req := commandRequest{
		Command: cmd.Cmd,
		Args:    cmd.Args,
		Cwd:     cmd.Cwd,
		Env:     cmd.Env,
		Sudo:    cmd.Sudo,
	}
	if req.Args == nil {
		req.Args = []string{}
	}
	if req.Env == nil {
		req.Env = map[string]string{}
	}

	var started commandResponse
	if err := s.client.doJSON(ctx, http.MethodPost, s.path("/cmd"), nil, req, &started); err != nil {
		return nil, fmt.Errorf("starting command %s: %w", cmd.Cmd, err)
	}
	cmdID := started.Command.ID

	if cmd.Stdout != nil || cmd.Stderr != nil {
		if err := s.streamLogs(ctx, cmdID, cmd.Stdout, cmd.Stderr); err != nil {
			return nil, fmt.Errorf("streaming logs of %s: %w", cmd.Cmd, err)
		}
	}

	finished, err := s.wait(ctx, cmdID)
	if err != nil {
		return nil, fmt.Errorf("waiting for %s: %w", cmd.Cmd, err)
	}
	if finished.ExitCode == nil {
		return nil, fmt.Errorf("waiting for %s: command %s finished without an exit code", cmd.Cmd, cmdID)
	}

	return &sandbox.CommandResult{ID: cmdID, ExitCode: *finished.ExitCode}, nil
}

// WriteFiles uploads files as a gzip tarball rooted at "/".
func (s *Sandbox) WriteFiles(ctx context.Context, files []sandbox.File) error {
	body, err := tarball(files)
	if err != nil {
		return fmt.Errorf("packing files: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.client.timeout)
	defer cancel()

	req, err := s.client.newRequest(ctx, http.MethodPost, s.path("/fs/write"), nil, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/gzip")
	req.Header.Set("x-cwd", "/")

	resp, err := s.client.send(req, body)
	if err != nil {
		return fmt.Errorf("writing files: %w", err)
	}
	resp.Body.Close()
	return nil
}

func (s *Sandbox) Stop(ctx context.Context) error {
	if err := s.client.doJSON(ctx, http.MethodPost, s.path("/stop"), nil, nil, nil); err != nil {
		return fmt.Errorf("stopping sandbox %s: %w", s.info.ID, err)
	}
	s.logger.Info("sandbox stopped", zap.String("sandbox_id", s.info.ID))
	return nil
}

func (s *Sandbox) path(suffix string) string {
	return "/v1/sandboxes/" + url.PathEscape(s.info.ID) + suffix
}

func (s *Sandbox) wait(ctx context.Context, cmdID string) (*command, error) {
	req, err := s.client.newRequest(ctx, http.MethodGet, s.path("/cmd/"+url.PathEscape(cmdID)), url.Values{"wait": {"true"}}, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.send(req, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out commandResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out.Command, nil
}

// streamLogs copies the NDJSON log stream of a command into stdout/stderr
// until the command exits and the server closes the stream.
func (s *Sandbox) streamLogs(ctx context.Context, cmdID string, stdout, stderr io.Writer) error {
	req, err := s.client.newRequest(ctx, http.MethodGet, s.path("/cmd/"+url.PathEscape(cmdID)+"/logs"), nil, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.send(req, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var entry logLine
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			s.logger.Debug("skipping malformed log line", zap.String("command_id", cmdID), zap.Error(err))
			continue
		}

		var w io.Writer
		switch entry.Stream {
		case "stdout":
			w = stdout
		case "stderr":
			w = stderr
		}
		if w == nil {
			continue
		}
		if _, err := io.WriteString(w, entry.Data); err != nil {
			return err
		}
	}
	return scanner.Err()
}
