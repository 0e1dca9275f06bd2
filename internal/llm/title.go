package llm

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

const maxTitleLen = 80

const titlePrompt = "You name records of automated coding agent runs. Reply with a title of at most eight words " +
	"describing what the agent did, based on its final report. Output only the title, no quotes or punctuation at the end."

// Titler derives short run titles from an agent's final report.
type Titler struct {
	client  Client
	logger  *zap.Logger
	timeout time.Duration
}

// NewTitler creates a Titler. A nil client makes Title fall back to
// truncating the report.
func NewTitler(client Client, logger *zap.Logger) *Titler {
	return &Titler{client: client, logger: logger, timeout: 20 * time.Second}
}

// Title returns a title for report. It never fails: when the LLM is
// unavailable the report itself is truncated.
func (t *Titler) Title(ctx context.Context, report string) string {
	report = strings.TrimSpace(report)
	if report == "" {
		return ""
	}
	if t == nil || t.client == nil {
		return TruncateTitle(report)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	resp, err := t.client.ChatCompletion(ctx, []Message{
		SystemMessage(titlePrompt),
		UserMessage(report),
	})
	if err != nil {
		t.logger.Warn("title generation failed, truncating report", zap.Error(err))
		return TruncateTitle(report)
	}

	title := strings.Trim(strings.TrimSpace(resp.Message.Content), `"'`)
	if title == "" {
		return TruncateTitle(report)
	}
	return TruncateTitle(title)
}

// TruncateTitle shortens s to its first line of at most 80 characters.
func TruncateTitle(s string) string {
	t := strings.TrimSpace(s)
	if i := strings.IndexByte(t, '\n'); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	if r := []rune(t); len(r) > maxTitleLen {
		t = string(r[:maxTitleLen]) + "..."
	}
	return t
}
