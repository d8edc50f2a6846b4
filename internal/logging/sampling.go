package logging

import (
	"go.uber.org/zap/zapcore"
)

// newSampledCore thins out repeated entries below Error, such as the
// per-file trace lines of a large dataset upload. Errors always pass.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}
	sampled := zapcore.NewSamplerWithOptions(
		levelRange{Core: core, min: TraceLevel, max: zapcore.WarnLevel},
		cfg.Tick.Duration(),
		cfg.Initial,
		cfg.Thereafter,
	)
	return zapcore.NewTee(
		levelRange{Core: core, min: zapcore.ErrorLevel, max: zapcore.FatalLevel},
		sampled,
	)
}

// levelRange passes entries with min <= level <= max to the wrapped core.
type levelRange struct {
	zapcore.Core
	min, max zapcore.Level
}

func (r levelRange) Enabled(lvl zapcore.Level) bool {
	return lvl >= r.min && lvl <= r.max && r.Core.Enabled(lvl)
}

func (r levelRange) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !r.Enabled(e.Level) {
		return ce
	}
	return r.Core.Check(e, ce)
}

func (r levelRange) With(fields []zapcore.Field) zapcore.Core {
	return levelRange{Core: r.Core.With(fields), min: r.min, max: r.max}
}
