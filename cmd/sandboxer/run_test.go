package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/michaelbrown/sandboxer/internal/agent"
	"github.com/michaelbrown/sandboxer/internal/pipeline"
)

func TestStepPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := &stepPrinter{w: &buf}

	data, _ := json.Marshal(map[string]any{"subtype": "success", "is_error": false, "result": "done", "num_turns": 3})
	p.Observe(pipeline.Event{Kind: pipeline.EventState, State: pipeline.StateCreated, SandboxID: "sbx_1"})
	p.Observe(pipeline.Event{Kind: pipeline.EventOutput, Line: "added 12 packages"})
	p.Observe(pipeline.Event{Kind: pipeline.EventMessage, Message: &agent.Message{Type: agent.TypeResult, Data: data}})
	p.Observe(pipeline.Event{Kind: pipeline.EventWarning, Step: pipeline.StepStop, Error: "stop failed"})

	out := buf.String()
	assert.Contains(t, out, "created sbx_1")
	assert.NotContains(t, out, "added 12 packages")
	assert.Contains(t, out, "result ok")
	assert.Contains(t, out, "stop: stop failed")

	buf.Reset()
	p.verbose = true
	p.Observe(pipeline.Event{Kind: pipeline.EventOutput, Line: "added 12 packages"})
	assert.Contains(t, buf.String(), "added 12 packages")
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "abcdefgh", shortID("abcdefgh-1234"))
	assert.Equal(t, "abc", shortID("abc"))
	assert.Equal(t, "héllo...", truncate("  héllo world ", 5))
	assert.Equal(t, "ok", truncate("ok", 5))
}
