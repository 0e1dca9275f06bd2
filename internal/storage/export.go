package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/michaelbrown/sandboxer/internal/agent"
)

// ExportMarkdown renders a run and its agent messages as a markdown document.
func ExportMarkdown(run *Run, messages []agent.Message) string {
	var b strings.Builder

	title := run.Title
	if title == "" {
		title = "Run " + run.ID
	}
	b.WriteString(fmt.Sprintf("# %s\n\n", title))
	b.WriteString(fmt.Sprintf("- **Run:** %s\n", run.ID))
	if run.SandboxID != "" {
		b.WriteString(fmt.Sprintf("- **Sandbox:** %s\n", run.SandboxID))
	}
	if run.Profile != "" {
		b.WriteString(fmt.Sprintf("- **Profile:** %s\n", run.Profile))
	}
	b.WriteString(fmt.Sprintf("- **Created:** %s\n", run.CreatedAt.Format("2006-01-02 15:04:05")))
	b.WriteString(fmt.Sprintf("- **Status:** %s (%s)\n", run.Status, run.State))
	if run.Error != "" {
		b.WriteString(fmt.Sprintf("- **Error:** %s\n", run.Error))
	}
	if run.Details != "" {
		b.WriteString(fmt.Sprintf("- **Details:** %s\n", run.Details))
	}
	b.WriteString("\n---\n\n")

	for _, m := range messages {
		switch m.Type {
		case agent.TypeComplete:
			continue
		case agent.TypeResult:
			b.WriteString(fmt.Sprintf("## Result\n\n%s\n\n", m.Summary()))
			if text := m.ResultText(); text != "" {
				b.WriteString(text + "\n\n")
			}
		default:
			b.WriteString(fmt.Sprintf("<details>\n<summary>%s</summary>\n\n```json\n%s\n```\n</details>\n\n", m.Summary(), string(m.Data)))
		}
	}

	return b.String()
}

// ExportJSON renders a run and its agent messages as formatted JSON.
func ExportJSON(run *Run, messages []agent.Message) ([]byte, error) {
	if messages == nil {
		messages = []agent.Message{}
	}
	export := struct {
		Run      *Run            `json:"run"`
		Messages []agent.Message `json:"messages"`
	}{
		Run:      run,
		Messages: messages,
	}
	return json.MarshalIndent(export, "", "  ")
}
