package sandbox

import (
	"fmt"
	"slices"
	"time"
)

// Policy defines the limits a sandbox creation request must stay within.
type Policy struct {
	MaxVCPUs   int
	MaxTimeout time.Duration
	Runtimes   []string // allowed runtime identifiers
}

// DefaultPolicy returns the limits of the hosted sandbox service.
func DefaultPolicy() Policy {
	return Policy{
		MaxVCPUs:   8,
		MaxTimeout: 45 * time.Minute,
		Runtimes: []string{
			"node22",
			"python3.13",
		},
	}
}

// IsRuntimeAllowed checks if a runtime is on the allowlist.
func (p Policy) IsRuntimeAllowed(runtime string) bool {
	return slices.Contains(p.Runtimes, runtime)
}

// Check validates opts against the policy.
func (p Policy) Check(opts CreateOptions) error {
	if opts.Resources.VCPUs <= 0 || opts.Resources.VCPUs > p.MaxVCPUs {
		return fmt.Errorf("vcpus must be between 1 and %d, got %d", p.MaxVCPUs, opts.Resources.VCPUs)
	}
	if opts.Timeout <= 0 || opts.Timeout > p.MaxTimeout {
		return fmt.Errorf("timeout must be between 1ms and %s, got %s", p.MaxTimeout, opts.Timeout)
	}
	if !p.IsRuntimeAllowed(opts.Runtime) {
		return fmt.Errorf("runtime %q not in allowlist", opts.Runtime)
	}
	if opts.Source != nil {
		if opts.Source.Type != "git" {
			return fmt.Errorf("unsupported source type %q", opts.Source.Type)
		}
		if opts.Source.URL == "" {
			return fmt.Errorf("source url is required")
		}
	}
	return nil
}
