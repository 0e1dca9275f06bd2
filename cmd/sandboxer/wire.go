package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/michaelbrown/sandboxer/internal/config"
	"github.com/michaelbrown/sandboxer/internal/llm"
	"github.com/michaelbrown/sandboxer/internal/logger"
	"github.com/michaelbrown/sandboxer/internal/pipeline"
	"github.com/michaelbrown/sandboxer/internal/runs"
	"github.com/michaelbrown/sandboxer/internal/sandbox"
	"github.com/michaelbrown/sandboxer/internal/sandbox/docker"
	"github.com/michaelbrown/sandboxer/internal/sandbox/vercel"
	"github.com/michaelbrown/sandboxer/internal/script"
	"github.com/michaelbrown/sandboxer/internal/storage"
	"github.com/michaelbrown/sandboxer/internal/storage/sqlite"
)

// The constructors below are shared by the fx graph of serve and the direct
// wiring of run and mcp.

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func newStore(cfg *config.Config) (storage.Store, error) {
	store, err := sqlite.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return store, nil
}

func newProvider(cfg *config.Config, log *zap.Logger) sandbox.Provider {
	switch cfg.Sandbox.Backend {
	case "docker":
		return docker.New(log,
			docker.WithImages(cfg.Docker.Images),
			docker.WithUser(cfg.Docker.User),
			docker.WithWorkdir(cfg.Docker.Workdir),
		)
	default:
		client := vercel.NewClient(cfg.Vercel.Token,
			vercel.WithBaseURL(cfg.Vercel.BaseURL),
			vercel.WithTeamID(cfg.Vercel.TeamID),
			vercel.WithProjectID(cfg.Vercel.ProjectID),
			vercel.WithTimeout(cfg.Vercel.RequestTimeout),
		)
		return vercel.NewProvider(client, log)
	}
}

func loadProfile(cfg *config.Config) (*script.Profile, error) {
	if cfg.Agent.ProfilePath == "" {
		return script.DefaultProfile(), nil
	}
	p, err := script.LoadProfile(cfg.Agent.ProfilePath)
	if err != nil {
		return nil, fmt.Errorf("loading agent profile: %w", err)
	}
	return p, nil
}

func newPipeline(cfg *config.Config, provider sandbox.Provider, profile *script.Profile, log *zap.Logger) *pipeline.Pipeline {
	return pipeline.New(cfg.Pipeline(), provider, pipeline.EnvSecrets{}, log,
		pipeline.WithPolicy(cfg.Policy()),
		pipeline.WithProfile(profile),
	)
}

func newTitler(cfg *config.Config, log *zap.Logger) runs.Titler {
	if !cfg.Titles.Enabled {
		return nil
	}
	client := llm.NewClient(cfg.Titles.BaseURL, cfg.Titles.APIKey, cfg.Titles.Model, log)
	return llm.NewTitler(client, log)
}

func newService(p *pipeline.Pipeline, store storage.Store, titler runs.Titler, profile *script.Profile, log *zap.Logger) *runs.Service {
	return runs.NewService(p, store, log,
		runs.WithTitler(titler),
		runs.WithProfileName(profile.Name),
	)
}

// app is the directly wired object graph used by the one-shot commands.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   storage.Store
	service *runs.Service
}

func buildApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logger.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	profile, err := loadProfile(cfg)
	if err != nil {
		return nil, err
	}
	store, err := newStore(cfg)
	if err != nil {
		return nil, err
	}

	p := newPipeline(cfg, newProvider(cfg, log), profile, log)
	return &app{
		cfg:     cfg,
		logger:  log,
		store:   store,
		service: newService(p, store, newTitler(cfg, log), profile, log),
	}, nil
}

func (a *app) Close() {
	a.store.Close()
	a.logger.Sync()
}
