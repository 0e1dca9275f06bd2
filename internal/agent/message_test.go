package agent

import (
	"fmt"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wantOK   bool
		wantType string
		wantErr  bool
	}{
		{name: "plain log line", line: "SDK imported successfully", wantOK: false},
		{name: "blank", line: "   ", wantOK: false},
		{name: "system message", line: `{"type":"system","data":{"subtype":"init"}}`, wantOK: true, wantType: TypeSystem},
		{name: "complete", line: `{"type":"complete","data":{"success":true}}` + "\r", wantOK: true, wantType: TypeComplete},
		{name: "json without type", line: `{"foo":1}`, wantOK: false},
		{name: "broken json", line: `{"type":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok, err := Parse([]byte(tt.line))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if ok != tt.wantOK {
				t.Fatalf("Parse() ok = %v, want %v", ok, tt.wantOK)
			}
			if msg.Type != tt.wantType {
				t.Errorf("Parse() type = %q, want %q", msg.Type, tt.wantType)
			}
		})
	}
}

func TestResultMessages(t *testing.T) {
	failed, _, _ := Parse([]byte(`{"type":"result","data":{"type":"result","subtype":"error_max_turns","is_error":true,"num_turns":20}}`))
	if !failed.IsErrorResult() {
		t.Error("expected error result")
	}
	if got := failed.Summary(); !strings.Contains(got, "result error (error_max_turns, 20 turns") {
		t.Errorf("Summary() = %q", got)
	}

	ok, _, _ := Parse([]byte(`{"type":"result","data":{"subtype":"success","is_error":false,"result":"Opened PR #12"}}`))
	if ok.IsErrorResult() {
		t.Error("success result flagged as error")
	}
	if got := ok.ResultText(); got != "Opened PR #12" {
		t.Errorf("ResultText() = %q", got)
	}

	assistant, _, _ := Parse([]byte(`{"type":"assistant","data":{"message":{"content":[{"type":"text","text":"Reading the repo"}]}}}`))
	if assistant.IsErrorResult() {
		t.Error("assistant message flagged as error result")
	}
	if got := assistant.ResultText(); got != "" {
		t.Errorf("ResultText() of assistant = %q, want empty", got)
	}
	if got := assistant.Summary(); got != "assistant: Reading the repo" {
		t.Errorf("Summary() = %q", got)
	}
}

func TestLineWriter(t *testing.T) {
	var lines []string
	w := NewLineWriter(func(line []byte) {
		lines = append(lines, string(line))
	})

	fmt.Fprint(w, "first\nsec")
	fmt.Fprint(w, "ond\r\nthi")
	if len(lines) != 2 {
		t.Fatalf("got %d lines before close, want 2: %q", len(lines), lines)
	}

	w.Close()
	want := []string{"first", "second", "thi"}
	if strings.Join(lines, "|") != strings.Join(want, "|") {
		t.Errorf("lines = %q, want %q", lines, want)
	}

	w.Close()
	if len(lines) != 3 {
		t.Errorf("second Close emitted a line: %q", lines)
	}
}
