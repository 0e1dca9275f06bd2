package vercel

// Status is the lifecycle status reported by the sandbox API.
type Status string

const (
	StatusPending      Status = "pending"
	StatusRunning      Status = "running"
	StatusStopping     Status = "stopping"
	StatusStopped      Status = "stopped"
	StatusFailed       Status = "failed"
	StatusError        Status = "error"
	StatusSnapshotting Status = "snapshotting"
)

type sandboxInfo struct {
	ID        string `json:"id"`
	Status    Status `json:"status"`
	Memory    int    `json:"memory"`
	VCPUs     int    `json:"vcpus"`
	Region    string `json:"region"`
	Runtime   string `json:"runtime"`
	Timeout   int64  `json:"timeout"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

type sandboxRoute struct {
	URL       string `json:"url"`
	Subdomain string `json:"subdomain"`
	Port      int    `json:"port"`
}

type sandboxResponse struct {
	Sandbox sandboxInfo    `json:"sandbox"`
	Routes  []sandboxRoute `json:"routes"`
}

type sourceRequest struct {
	Type     string `json:"type"`
	URL      string `json:"url"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Revision string `json:"revision,omitempty"`
	Depth    int    `json:"depth,omitempty"`
}

type resourcesRequest struct {
	VCPUs int `json:"vcpus"`
}

type createRequest struct {
	ProjectID string            `json:"projectId,omitempty"`
	Ports     []int             `json:"ports,omitempty"`
	Source    *sourceRequest    `json:"source,omitempty"`
	Timeout   int64             `json:"timeout"` // milliseconds
	Resources *resourcesRequest `json:"resources,omitempty"`
	Runtime   string            `json:"runtime,omitempty"`
}

type commandRequest struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Cwd     string            `json:"cwd,omitempty"`
	Env     map[string]string `json:"env"`
	Sudo    bool              `json:"sudo"`
}

type command struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Args      []string `json:"args"`
	Cwd       string   `json:"cwd"`
	SandboxID string   `json:"sandboxId"`
	ExitCode  *int     `json:"exitCode"` // null while running
	StartedAt int64    `json:"startedAt"`
}

type commandResponse struct {
	Command command `json:"command"`
}

// logLine is one NDJSON entry of a command log stream.
type logLine struct {
	Stream string `json:"stream"` // "stdout" or "stderr"
	Data   string `json:"data"`
}
