package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Redacted replaces the value of every sensitive field.
const Redacted = "[REDACTED]"

// sensitiveKeys contains field name fragments whose values are never logged.
var sensitiveKeys = []string{
	"password",
	"passwd",
	"token",
	"secret",
	"apikey",
	"api_key",
	"credential",
	"auth",
	"private_key",
}

// IsSensitive reports whether a field named key must be redacted.
func IsSensitive(key string) bool {
	keyLower := strings.ToLower(key)
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(keyLower, sensitive) {
			return true
		}
	}
	return false
}

type redactingCore struct {
	zapcore.Core
}

// NewRedactingCore wraps core so sensitive field values are replaced.
func NewRedactingCore(core zapcore.Core) zapcore.Core {
	return &redactingCore{Core: core}
}

func (c *redactingCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactingCore{Core: c.Core.With(redactFields(fields))}
}

func (c *redactingCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return ce.AddCore(entry, c)
	}
	return ce
}

func (c *redactingCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	return c.Core.Write(entry, redactFields(fields))
}

func redactFields(fields []zapcore.Field) []zapcore.Field {
	var out []zapcore.Field
	for i, field := range fields {
		if !IsSensitive(field.Key) {
			if out != nil {
				out = append(out, field)
			}
			continue
		}
		if out == nil {
			out = make([]zapcore.Field, i, len(fields))
			copy(out, fields[:i])
		}
		out = append(out, zap.String(field.Key, Redacted))
	}
	if out == nil {
		return fields
	}
	return out
}
