// Package script renders the verification script that runs the AI agent
// inside a sandbox.
//
// The script prints one {"type", "data"} JSON line per agent message, a final
// {"type": "complete"} line, and exits 1 when the agent reports an error
// result. Secrets are never rendered into the script: MCP server env values
// written as ${NAME} become process.env.NAME, and NAME is reported in
// Script.Env so the caller can pass its value in the command environment.
package script

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"text/template"
)

// Version identifies the template revision. Bump it whenever the output
// contract of verify.mjs.tmpl changes.
const Version = 1

// FileName is the name the script is written under in the working directory.
const FileName = "verify.mjs"

//go:embed verify.mjs.tmpl
var verifyTemplate string

var tmpl = template.Must(template.New(FileName).Funcs(template.FuncMap{
	"json": jsonLiteral,
}).Parse(verifyTemplate))

var envRef = regexp.MustCompile(`^\$\{([A-Za-z_][A-Za-z0-9_]*)\}$`)

// Script is a rendered verification script.
type Script struct {
	Content []byte
	// Env lists the environment variables the script reads, sorted.
	Env []string
}

type envEntry struct {
	Key   string
	Value string // JavaScript expression
}

type serverView struct {
	Name    string
	Command string
	Args    []string
	Env     []envEntry
}

type view struct {
	Version      int
	Profile      *Profile
	AllowedTools []string
	MCPServers   []serverView
}

// Render produces the verification script for p.
func Render(p *Profile) (*Script, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}

	v := view{Version: Version, Profile: p, AllowedTools: p.AllowedTools}
	if v.AllowedTools == nil {
		v.AllowedTools = []string{}
	}

	refs := map[string]bool{}
	for _, name := range sortedKeys(p.MCPServers) {
		s := p.MCPServers[name]
		sv := serverView{Name: name, Command: s.Command, Args: s.Args}
		if sv.Args == nil {
			sv.Args = []string{}
		}
		for _, key := range sortedKeys(s.Env) {
			value := s.Env[key]
			expr, ref := envExpression(value)
			if ref != "" {
				refs[ref] = true
			}
			sv.Env = append(sv.Env, envEntry{Key: key, Value: expr})
		}
		v.MCPServers = append(v.MCPServers, sv)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, v); err != nil {
		return nil, fmt.Errorf("rendering %s: %w", FileName, err)
	}

	return &Script{Content: buf.Bytes(), Env: sortedKeys(refs)}, nil
}

// envExpression returns the JavaScript expression for an MCP env value and,
// if the value references an environment variable, its name.
func envExpression(value string) (expr, ref string) {
	if m := envRef.FindStringSubmatch(value); m != nil {
		return "process.env." + m[1], m[1]
	}
	return jsonLiteral(value), ""
}

// jsonLiteral encodes v as JSON, which is also a valid JavaScript literal.
func jsonLiteral(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("encoding %T: %v", v, err))
	}
	return string(data)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
