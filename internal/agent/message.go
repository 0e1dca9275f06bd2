// Package agent decodes the structured message stream an AI agent writes to
// stdout while it runs inside a sandbox.
package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Message types emitted by the verification script.
const (
	TypeSystem    = "system"
	TypeAssistant = "assistant"
	TypeUser      = "user"
	TypeResult    = "result"
	TypeComplete  = "complete"
)

// Message is one {type, data} line of agent output.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Parse decodes a single output line. ok is false for lines that are not
// agent messages (plain log output, blank lines).
func Parse(line []byte) (msg Message, ok bool, err error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return Message{}, false, nil
	}
	if err := json.Unmarshal(line, &msg); err != nil {
		return Message{}, false, fmt.Errorf("decoding agent message: %w", err)
	}
	if msg.Type == "" {
		return Message{}, false, nil
	}
	return msg, true, nil
}

type resultData struct {
	Subtype   string  `json:"subtype"`
	IsError   bool    `json:"is_error"`
	Result    string  `json:"result"`
	NumTurns  int     `json:"num_turns"`
	TotalCost float64 `json:"total_cost_usd"`
}

func (m Message) result() (resultData, bool) {
	if m.Type != TypeResult {
		return resultData{}, false
	}
	var r resultData
	if err := json.Unmarshal(m.Data, &r); err != nil {
		return resultData{}, false
	}
	return r, true
}

// IsErrorResult reports whether m is a result message flagged as an error.
func (m Message) IsErrorResult() bool {
	r, ok := m.result()
	return ok && r.IsError
}

// ResultText returns the agent's final answer carried by a result message.
func (m Message) ResultText() string {
	r, _ := m.result()
	return r.Result
}

// Summary is a one-line description of m for logs and terminal output.
func (m Message) Summary() string {
	switch m.Type {
	case TypeResult:
		r, _ := m.result()
		status := "ok"
		if r.IsError {
			status = "error"
		}
		return fmt.Sprintf("result %s (%s, %d turns, $%.4f)", status, r.Subtype, r.NumTurns, r.TotalCost)
	case TypeAssistant:
		if text := assistantText(m.Data); text != "" {
			return "assistant: " + truncate(text, 120)
		}
	}
	return m.Type
}

// assistantText extracts the first text block of an assistant message.
func assistantText(data json.RawMessage) string {
	var a struct {
		Message struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
				Name string `json:"name"`
			} `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return ""
	}
	for _, c := range a.Message.Content {
		switch c.Type {
		case "text":
			if c.Text != "" {
				return c.Text
			}
		case "tool_use":
			return "tool " + c.Name
		}
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
