package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	minSecretLen = 6
	redacted     = "[redacted]"
)

// redactCore masks secret values in messages, string fields and errors.
type redactCore struct {
	zapcore.Core
	replacer *strings.Replacer
}

func newRedactCore(core zapcore.Core, secrets []string) zapcore.Core {
	pairs := make([]string, 0, 2*len(secrets))
	for _, s := range secrets {
		pairs = append(pairs, s, redacted)
	}
	return &redactCore{Core: core, replacer: strings.NewReplacer(pairs...)}
}

func (c *redactCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactCore{Core: c.Core.With(c.fields(fields)), replacer: c.replacer}
}

func (c *redactCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(e.Level) {
		return ce.AddCore(e, c)
	}
	return ce
}

func (c *redactCore) Write(e zapcore.Entry, fields []zapcore.Field) error {
	e.Message = c.replacer.Replace(e.Message)
	return c.Core.Write(e, c.fields(fields))
}

func (c *redactCore) fields(fields []zapcore.Field) []zapcore.Field {
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		switch f.Type {
		case zapcore.StringType:
			f.String = c.replacer.Replace(f.String)
		case zapcore.ErrorType:
			if err, ok := f.Interface.(error); ok && err != nil {
				f = zap.String(f.Key, c.replacer.Replace(err.Error()))
			}
		}
		out[i] = f
	}
	return out
}
