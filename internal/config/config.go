package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/michaelbrown/sandboxer/internal/pipeline"
	"github.com/michaelbrown/sandboxer/internal/sandbox"
)

type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

type RepositoryConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Revision string `mapstructure:"revision"`
	Depth    int    `mapstructure:"depth"`
	TokenEnv string `mapstructure:"token_env"`
}

type SandboxConfig struct {
	Backend         string        `mapstructure:"backend"`
	VCPUs           int           `mapstructure:"vcpus"`
	Timeout         time.Duration `mapstructure:"timeout"`
	Runtime         string        `mapstructure:"runtime"`
	StopTimeout     time.Duration `mapstructure:"stop_timeout"`
	MaxVCPUs        int           `mapstructure:"max_vcpus"`
	MaxTimeout      time.Duration `mapstructure:"max_timeout"`
	AllowedRuntimes []string      `mapstructure:"allowed_runtimes"`
}

type VercelConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Token          string        `mapstructure:"token"`
	TeamID         string        `mapstructure:"team_id"`
	ProjectID      string        `mapstructure:"project_id"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type DockerConfig struct {
	Images  map[string]string `mapstructure:"images"`
	User    string            `mapstructure:"user"`
	Workdir string            `mapstructure:"workdir"`
}

type AgentConfig struct {
	CLIPackage      string `mapstructure:"cli_package"`
	SDKPackage      string `mapstructure:"sdk_package"`
	GitUserName     string `mapstructure:"git_user_name"`
	GitUserEmail    string `mapstructure:"git_user_email"`
	CredentialsPath string `mapstructure:"credentials_path"`
	Workdir         string `mapstructure:"workdir"`
	APIKeyEnv       string `mapstructure:"api_key_env"`
	ProfilePath     string `mapstructure:"profile"`
}

// TitlesConfig points at an OpenAI-compatible endpoint used to name runs.
type TitlesConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Repository RepositoryConfig `mapstructure:"repository"`
	Sandbox    SandboxConfig    `mapstructure:"sandbox"`
	Vercel     VercelConfig     `mapstructure:"vercel"`
	Docker     DockerConfig     `mapstructure:"docker"`
	Agent      AgentConfig      `mapstructure:"agent"`
	Titles     TitlesConfig     `mapstructure:"titles"`
}

func setDefaults(v *viper.Viper) {
	p := pipeline.DefaultConfig()
	policy := sandbox.DefaultPolicy()

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.shutdown_timeout", "45s")
	v.SetDefault("storage.db_path", filepath.Join(os.Getenv("HOME"), ".sandboxer", "sandboxer.db"))

	v.SetDefault("repository.url", p.RepoURL)
	v.SetDefault("repository.username", p.RepoUsername)
	v.SetDefault("repository.token_env", p.GitTokenSecret)

	v.SetDefault("sandbox.backend", "vercel")
	v.SetDefault("sandbox.vcpus", p.VCPUs)
	v.SetDefault("sandbox.timeout", p.Timeout.String())
	v.SetDefault("sandbox.runtime", p.Runtime)
	v.SetDefault("sandbox.stop_timeout", p.StopTimeout.String())
	v.SetDefault("sandbox.max_vcpus", policy.MaxVCPUs)
	v.SetDefault("sandbox.max_timeout", policy.MaxTimeout.String())
	v.SetDefault("sandbox.allowed_runtimes", policy.Runtimes)

	v.SetDefault("vercel.base_url", "https://api.vercel.com")
	v.SetDefault("vercel.token", "${VERCEL_TOKEN}")
	v.SetDefault("vercel.team_id", "${VERCEL_TEAM_ID}")
	v.SetDefault("vercel.project_id", "${VERCEL_PROJECT_ID}")
	v.SetDefault("vercel.request_timeout", "60s")

	v.SetDefault("docker.workdir", p.Workdir)

	v.SetDefault("agent.cli_package", p.CLIPackage)
	v.SetDefault("agent.sdk_package", p.SDKPackage)
	v.SetDefault("agent.git_user_name", p.GitUserName)
	v.SetDefault("agent.git_user_email", p.GitUserEmail)
	v.SetDefault("agent.credentials_path", p.CredentialsPath)
	v.SetDefault("agent.workdir", p.Workdir)
	v.SetDefault("agent.api_key_env", p.APIKeySecret)

	v.SetDefault("titles.enabled", false)
	v.SetDefault("titles.base_url", "http://localhost:11434/v1/")
	v.SetDefault("titles.api_key", "${TITLES_API_KEY}")
	v.SetDefault("titles.model", "qwen3:4b")
}

// Load reads configuration from path, or from sandboxer.yaml in the usual
// locations when path is empty. A missing config file is not an error; a .env
// file in the working directory is loaded into the environment first.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("sandboxer")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.sandboxer")
	}
	v.SetEnvPrefix("SANDBOXER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.Vercel.Token = expandEnv(cfg.Vercel.Token)
	cfg.Vercel.TeamID = expandEnv(cfg.Vercel.TeamID)
	cfg.Vercel.ProjectID = expandEnv(cfg.Vercel.ProjectID)
	cfg.Titles.APIKey = expandEnv(cfg.Titles.APIKey)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}
	return &cfg, nil
}

var envRef = regexp.MustCompile(`^\$\{([A-Za-z_][A-Za-z0-9_]*)\}$`)

// expandEnv resolves a value of the form ${NAME} from the environment.
// Anything else is returned unchanged.
func expandEnv(s string) string {
	if m := envRef.FindStringSubmatch(s); m != nil {
		return os.Getenv(m[1])
	}
	return s
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got: %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive, got: %s", c.Server.ShutdownTimeout)
	}
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if !strings.HasPrefix(c.Repository.URL, "https://") {
		return fmt.Errorf("repository.url must be an https URL, got: %q", c.Repository.URL)
	}
	if c.Repository.TokenEnv == "" || c.Agent.APIKeyEnv == "" {
		return fmt.Errorf("repository.token_env and agent.api_key_env must name environment variables")
	}

	switch c.Sandbox.Backend {
	case "vercel":
		if c.Vercel.RequestTimeout <= 0 {
			return fmt.Errorf("vercel.request_timeout must be positive, got: %s", c.Vercel.RequestTimeout)
		}
	case "docker":
	default:
		return fmt.Errorf("invalid sandbox.backend: %s, must be 'vercel' or 'docker'", c.Sandbox.Backend)
	}

	if c.Sandbox.VCPUs <= 0 {
		return fmt.Errorf("sandbox.vcpus must be positive, got: %d", c.Sandbox.VCPUs)
	}
	if c.Sandbox.Timeout <= 0 {
		return fmt.Errorf("sandbox.timeout must be positive, got: %s", c.Sandbox.Timeout)
	}
	if !slices.Contains(c.Sandbox.AllowedRuntimes, c.Sandbox.Runtime) {
		return fmt.Errorf("sandbox.runtime %q is not in sandbox.allowed_runtimes %v", c.Sandbox.Runtime, c.Sandbox.AllowedRuntimes)
	}
	if c.Titles.Enabled && c.Titles.Model == "" {
		return fmt.Errorf("titles.model is required when titles are enabled")
	}
	return nil
}

// Pipeline returns the pipeline configuration.
func (c *Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		RepoURL:         c.Repository.URL,
		RepoUsername:    c.Repository.Username,
		Revision:        c.Repository.Revision,
		Depth:           c.Repository.Depth,
		VCPUs:           c.Sandbox.VCPUs,
		Timeout:         c.Sandbox.Timeout,
		Runtime:         c.Sandbox.Runtime,
		CLIPackage:      c.Agent.CLIPackage,
		SDKPackage:      c.Agent.SDKPackage,
		GitUserName:     c.Agent.GitUserName,
		GitUserEmail:    c.Agent.GitUserEmail,
		CredentialsPath: c.Agent.CredentialsPath,
		Workdir:         c.Agent.Workdir,
		GitTokenSecret:  c.Repository.TokenEnv,
		APIKeySecret:    c.Agent.APIKeyEnv,
		StopTimeout:     c.Sandbox.StopTimeout,
	}
}

// Policy returns the limits sandbox create requests are checked against.
func (c *Config) Policy() sandbox.Policy {
	return sandbox.Policy{
		MaxVCPUs:   c.Sandbox.MaxVCPUs,
		MaxTimeout: c.Sandbox.MaxTimeout,
		Runtimes:   c.Sandbox.AllowedRuntimes,
	}
}
