package pipeline

import "os"

// SecretSource resolves secrets by name. It is consulted on every run so
// rotated values take effect without a restart.
type SecretSource interface {
	Lookup(name string) (string, bool)
}

// EnvSecrets reads secrets from the process environment.
type EnvSecrets struct{}

func (EnvSecrets) Lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(name)
	if v == "" {
		return "", false
	}
	return v, ok
}

// MapSecrets is a fixed set of secrets.
type MapSecrets map[string]string

func (m MapSecrets) Lookup(name string) (string, bool) {
	v, ok := m[name]
	if v == "" {
		return "", false
	}
	return v, ok
}
