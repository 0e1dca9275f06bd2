package script

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default_profile.yaml
var defaultProfile []byte

// Profile defines what the agent is asked to do and which capabilities it
// gets inside the sandbox.
type Profile struct {
	Name           string               `yaml:"name"`
	Prompt         string               `yaml:"prompt"`
	PermissionMode string               `yaml:"permission_mode"`
	MaxTurns       int                  `yaml:"max_turns"`
	AllowedTools   []string             `yaml:"allowed_tools"`
	SystemPrompt   SystemPrompt         `yaml:"system_prompt"`
	MCPServers     map[string]MCPServer `yaml:"mcp_servers"`
}

// SystemPrompt selects a preset system prompt and text appended to it.
type SystemPrompt struct {
	Preset string `yaml:"preset"`
	Append string `yaml:"append"`
}

// MCPServer is a stdio MCP server the agent launches. Env values of the form
// ${NAME} are resolved from the script's environment at run time.
type MCPServer struct {
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
}

// DefaultProfile returns the built-in profile.
func DefaultProfile() *Profile {
	p, err := parseProfile(defaultProfile)
	if err != nil {
		panic(fmt.Sprintf("embedded profile: %v", err))
	}
	return p
}

// LoadProfile reads an agent profile from a YAML file. Fields the file leaves
// empty keep the defaults of the built-in profile.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile %s: %w", path, err)
	}

	p := DefaultProfile()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parsing profile %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return p, nil
}

func parseProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the fields the script cannot run without.
func (p *Profile) Validate() error {
	if p.Prompt == "" {
		return fmt.Errorf("prompt is required")
	}
	if p.MaxTurns <= 0 {
		return fmt.Errorf("max_turns must be positive, got %d", p.MaxTurns)
	}
	switch p.PermissionMode {
	case "default", "acceptEdits", "bypassPermissions", "plan":
	default:
		return fmt.Errorf("unknown permission_mode %q", p.PermissionMode)
	}
	for name, s := range p.MCPServers {
		if s.Command == "" {
			return fmt.Errorf("mcp server %q has no command", name)
		}
	}
	return nil
}
