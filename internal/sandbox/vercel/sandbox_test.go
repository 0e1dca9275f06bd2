package vercel

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelbrown/sandboxer/internal/sandbox"
)

// fakeAPI is an in-memory stand-in for the sandbox REST API.
type fakeAPI struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   [][]byte

	exitCode  int
	logs      []logLine
	createErr int // status to fail create with
	stopped   bool
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sandboxes", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		if f.createErr != 0 {
			w.WriteHeader(f.createErr)
			io.WriteString(w, `{"error":{"code":"bad_request","message":"source url is invalid"}}`)
			return
		}
		json.NewEncoder(w).Encode(sandboxResponse{
			Sandbox: sandboxInfo{ID: "sbx_123", Status: StatusRunning, Region: "iad1"},
			Routes:  []sandboxRoute{{URL: "https://sbx-123-3000.vercel.run", Port: 3000}},
		})
	})
	mux.HandleFunc("POST /v1/sandboxes/{id}/cmd", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		json.NewEncoder(w).Encode(commandResponse{Command: command{ID: "cmd_1", SandboxID: r.PathValue("id")}})
	})
	mux.HandleFunc("GET /v1/sandboxes/{id}/cmd/{cmd}/logs", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, l := range f.logs {
			json.NewEncoder(w).Encode(l)
		}
		io.WriteString(w, "not json\n")
	})
	mux.HandleFunc("GET /v1/sandboxes/{id}/cmd/{cmd}", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		assert.Equal(t, "true", r.URL.Query().Get("wait"))
		code := f.exitCode
		json.NewEncoder(w).Encode(commandResponse{Command: command{ID: r.PathValue("cmd"), ExitCode: &code}})
	})
	mux.HandleFunc("POST /v1/sandboxes/{id}/fs/write", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /v1/sandboxes/{id}/stop", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		f.mu.Lock()
		f.stopped = true
		f.mu.Unlock()
		io.WriteString(w, `{}`)
	})
	return mux
}

func (f *fakeAPI) record(r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r)
	f.bodies = append(f.bodies, body)
}

func (f *fakeAPI) last() (*http.Request, []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1], f.bodies[len(f.bodies)-1]
}

func newTestProvider(t *testing.T, api *fakeAPI) *Provider {
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	client := NewClient("tok_abc",
		WithBaseURL(srv.URL),
		WithTeamID("team_1"),
		WithProjectID("prj_1"),
		WithRetryConfig(&RetryConfig{MaxRetries: 1, RetryDelay: time.Millisecond}),
	)
	return NewProvider(client, zaptest.NewLogger(t))
}

func TestProviderCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("SendsSourceAndResources", func(t *testing.T) {
		api := &fakeAPI{}
		p := newTestProvider(t, api)

		sbx, err := p.Create(ctx, sandbox.CreateOptions{
			Source: &sandbox.Source{
				Type:     "git",
				URL:      "https://github.com/example/blog.git",
				Username: "x-access-token",
				Password: "s3cret",
			},
			Resources: sandbox.Resources{VCPUs: 4},
			Timeout:   10 * time.Minute,
			Runtime:   "node22",
			Ports:     []int{3000},
		})
		require.NoError(t, err)
		assert.Equal(t, "sbx_123", sbx.ID())

		domain, ok := sbx.(*Sandbox).Domain(3000)
		assert.True(t, ok)
		assert.Equal(t, "https://sbx-123-3000.vercel.run", domain)

		req, body := api.last()
		assert.Equal(t, "Bearer tok_abc", req.Header.Get("Authorization"))
		assert.Equal(t, "team_1", req.URL.Query().Get("teamId"))

		var got createRequest
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, "prj_1", got.ProjectID)
		assert.Equal(t, int64(600000), got.Timeout)
		assert.Equal(t, "node22", got.Runtime)
		require.NotNil(t, got.Resources)
		assert.Equal(t, 4, got.Resources.VCPUs)
		require.NotNil(t, got.Source)
		assert.Equal(t, "git", got.Source.Type)
		assert.Equal(t, "s3cret", got.Source.Password)
	})

	t.Run("APIErrorIsSurfaced", func(t *testing.T) {
		api := &fakeAPI{createErr: http.StatusBadRequest}
		p := newTestProvider(t, api)

		_, err := p.Create(ctx, sandbox.CreateOptions{Runtime: "node22"})
		require.Error(t, err)

		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
		assert.Equal(t, "bad_request", apiErr.Code)
		assert.Equal(t, "source url is invalid", apiErr.Message)
	})
}

func TestSandboxRunCommand(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{
		exitCode: 3,
		logs: []logLine{
			{Stream: "stdout", Data: "hello\n"},
			{Stream: "stderr", Data: "warn\n"},
			{Stream: "stdout", Data: "world\n"},
		},
	}
	p := newTestProvider(t, api)
	sbx, err := p.Create(ctx, sandbox.CreateOptions{Runtime: "node22"})
	require.NoError(t, err)

	var stdout, stderr bytes.Buffer
	res, err := sbx.RunCommand(ctx, sandbox.Command{
		Cmd:    "node",
		Args:   []string{"verify.mjs"},
		Env:    map[string]string{"ANTHROPIC_API_KEY": "sk-test"},
		Stdout: &stdout,
		Stderr: &stderr,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "cmd_1", res.ID)
	assert.Equal(t, "hello\nworld\n", stdout.String())
	assert.Equal(t, "warn\n", stderr.String())

	api.mu.Lock()
	var cmdBody commandRequest
	require.NoError(t, json.Unmarshal(api.bodies[1], &cmdBody))
	api.mu.Unlock()
	assert.Equal(t, "node", cmdBody.Command)
	assert.Equal(t, "sk-test", cmdBody.Env["ANTHROPIC_API_KEY"])

	t.Run("WithoutWritersSkipsLogs", func(t *testing.T) {
		before := len(api.requests)
		_, err := sbx.RunCommand(ctx, sandbox.Command{Cmd: "git", Args: []string{"config", "--global", "user.name", "x"}})
		require.NoError(t, err)

		api.mu.Lock()
		defer api.mu.Unlock()
		for _, r := range api.requests[before:] {
			assert.False(t, strings.HasSuffix(r.URL.Path, "/logs"))
		}
		var body map[string]any
		require.NoError(t, json.Unmarshal(api.bodies[before], &body))
		assert.Equal(t, map[string]any{}, body["env"])
	})
}

func TestSandboxWriteFiles(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{}
	p := newTestProvider(t, api)
	sbx, err := p.Create(ctx, sandbox.CreateOptions{Runtime: "node22"})
	require.NoError(t, err)

	err = sbx.WriteFiles(ctx, []sandbox.File{
		{Path: "/vercel/sandbox/verify.mjs", Content: []byte("console.log(1)")},
		{Path: "/tmp/git-credentials", Content: []byte("https://u:t@github.com\n")},
	})
	require.NoError(t, err)

	req, body := api.last()
	assert.Equal(t, "application/gzip", req.Header.Get("Content-Type"))
	assert.Equal(t, "/", req.Header.Get("x-cwd"))

	gz, err := gzip.NewReader(bytes.NewReader(body))
	require.NoError(t, err)
	tr := tar.NewReader(gz)
	got := map[string]string{}
	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		got[h.Name] = string(data)
	}
	assert.Equal(t, map[string]string{
		"vercel/sandbox/verify.mjs": "console.log(1)",
		"tmp/git-credentials":       "https://u:t@github.com\n",
	}, got)

	t.Run("RelativePathRejected", func(t *testing.T) {
		err := sbx.WriteFiles(ctx, []sandbox.File{{Path: "verify.mjs"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not absolute")
	})
}

func TestSandboxStop(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{}
	p := newTestProvider(t, api)
	sbx, err := p.Create(ctx, sandbox.CreateOptions{Runtime: "node22"})
	require.NoError(t, err)

	require.NoError(t, sbx.Stop(ctx))
	assert.True(t, api.stopped)

	req, _ := api.last()
	assert.Equal(t, "/v1/sandboxes/sbx_123/stop", req.URL.Path)
}

func TestClientRetriesGetOnServerError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"command":{"id":"cmd_1","exitCode":0}}`)
	}))
	defer srv.Close()

	c := NewClient("tok", WithBaseURL(srv.URL), WithRetryConfig(&RetryConfig{MaxRetries: 2, RetryDelay: time.Millisecond}))
	sbx := &Sandbox{client: c, logger: zaptest.NewLogger(t), info: sandboxInfo{ID: "sbx_1"}}

	cmd, err := sbx.wait(context.Background(), "cmd_1")
	require.NoError(t, err)
	require.NotNil(t, cmd.ExitCode)
	assert.Equal(t, 0, *cmd.ExitCode)
	assert.Equal(t, 2, calls)
}

func TestClientDoesNotRetryPost(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient("tok", WithBaseURL(srv.URL), WithRetryConfig(&RetryConfig{MaxRetries: 3, RetryDelay: time.Millisecond}))
	err := c.doJSON(context.Background(), http.MethodPost, "/v1/sandboxes", nil, createRequest{}, nil)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusText(http.StatusInternalServerError), apiErr.Message)
	assert.Equal(t, 1, calls)
}
