package logging

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/pcdimport/internal/config"
)

const (
	redactedKey     = "[REDACTED]"
	redactedPattern = "[REDACTED:pattern]"
)

// Secret logs a config.Secret as its length only.
func Secret(key string, val config.Secret) zap.Field {
	return RedactedString(key, val.Value())
}

// RedactedString logs val as its length only.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val))+"]")
}

// redactor holds the compiled redaction rules.
type redactor struct {
	keys     map[string]bool
	patterns []*regexp.Regexp
}

func newRedactor(cfg RedactionConfig) (*redactor, error) {
	r := &redactor{keys: make(map[string]bool, len(cfg.Fields))}
	for _, f := range cfg.Fields {
		r.keys[strings.ToLower(f)] = true
	}
	for _, p := range cfg.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		r.patterns = append(r.patterns, re)
	}
	return r, nil
}

func (r *redactor) key(k string) bool {
	return r != nil && r.keys[strings.ToLower(k)]
}

// value returns the replacement for a string value, if any rule matches.
func (r *redactor) value(k, v string) (string, bool) {
	if r == nil {
		return "", false
	}
	if r.key(k) {
		return redactedKey, true
	}
	for _, re := range r.patterns {
		if re.MatchString(v) {
			return redactedPattern, true
		}
	}
	return "", false
}

// field rewrites a field passed to a log call.
func (r *redactor) field(f zapcore.Field) zapcore.Field {
	if r.key(f.Key) {
		return zap.String(f.Key, redactedKey)
	}
	if f.Type == zapcore.StringType {
		if masked, ok := r.value(f.Key, f.String); ok {
			return zap.String(f.Key, masked)
		}
	}
	return f
}

// RedactingEncoder masks API tokens and auth headers before they are
// written. Fields given to With reach the Add* methods; fields given to a
// log call reach EncodeEntry.
type RedactingEncoder struct {
	zapcore.Encoder
	rules *redactor
}

// NewRedactingEncoder wraps base. A disabled config passes everything through.
func NewRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) (*RedactingEncoder, error) {
	if !cfg.Enabled {
		return &RedactingEncoder{Encoder: base}, nil
	}
	rules, err := newRedactor(cfg)
	if err != nil {
		return nil, err
	}
	return &RedactingEncoder{Encoder: base, rules: rules}, nil
}

func (e *RedactingEncoder) AddString(key, val string) {
	if masked, ok := e.rules.value(key, val); ok {
		val = masked
	}
	e.Encoder.AddString(key, val)
}

func (e *RedactingEncoder) AddByteString(key string, val []byte) {
	if masked, ok := e.rules.value(key, string(val)); ok {
		val = []byte(masked)
	}
	e.Encoder.AddByteString(key, val)
}

func (e *RedactingEncoder) AddReflected(key string, val interface{}) error {
	if e.rules.key(key) {
		e.Encoder.AddString(key, redactedKey)
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *RedactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.rules.key(key) {
		e.Encoder.AddString(key, redactedKey)
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

func (e *RedactingEncoder) Clone() zapcore.Encoder {
	return &RedactingEncoder{Encoder: e.Encoder.Clone(), rules: e.rules}
}

func (e *RedactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	if e.rules == nil {
		return e.Encoder.EncodeEntry(ent, fields)
	}
	masked := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		masked[i] = e.rules.field(f)
	}
	return e.Encoder.EncodeEntry(ent, masked)
}
