package log

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"moul.io/zapfilter"
)

type (
	Level  = zapcore.Level
	Field  = zap.Field
	Option = zap.Option
)

const (
	DebugLevel Level = zap.DebugLevel
	InfoLevel  Level = zap.InfoLevel
	WarnLevel  Level = zap.WarnLevel
	ErrorLevel Level = zap.ErrorLevel
	FatalLevel Level = zap.FatalLevel
)

var (
	WithCaller    = zap.WithCaller
	AddCallerSkip = zap.AddCallerSkip
)

type Logger struct {
	l     *zap.Logger
	level zap.AtomicLevel
}

var std = New(os.Stderr, InfoLevel)

func Default() *Logger {
	return std
}

// ResetDefault replaces the logger used by the package level functions.
// Not safe for concurrent use with the package level functions.
func ResetDefault(l *Logger) {
	std = l
}

func ParseLevel(text string) (Level, error) {
	return zapcore.ParseLevel(text)
}

// New creates a logger writing json to out.
func New(out io.Writer, level Level, opts ...Option) *Logger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.RFC3339TimeEncoder
	return newLogger(zapcore.NewJSONEncoder(cfg), out, level, "", opts...)
}

// DevLogger creates a logger writing human readable output to out.
func DevLogger(out io.Writer, level Level, opts ...Option) *Logger {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	return newLogger(zapcore.NewConsoleEncoder(cfg), out, level, "", opts...)
}

// NewFiltered is like New/DevLogger but applies zapfilter rules
// (for example "info+:* debug:*,-features") to the written entries.
//
//nolint:whitespace // editor/linter issue
func NewFiltered(
	out io.Writer,
	level Level,
	format, rules string,
	opts ...Option,
) (*Logger, error) {
	var enc zapcore.Encoder
	if format == "json" {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.RFC3339TimeEncoder
		enc = zapcore.NewJSONEncoder(cfg)
	} else {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		enc = zapcore.NewConsoleEncoder(cfg)
	}
	if _, err := zapfilter.ParseRules(rules); err != nil {
		return nil, err
	}
	return newLogger(enc, out, level, rules, opts...), nil
}

//nolint:whitespace // editor/linter issue
func newLogger(
	enc zapcore.Encoder,
	out io.Writer,
	level Level,
	rules string,
	opts ...Option,
) *Logger {
	if out == nil {
		out = os.Stderr
	}
	atomic := zap.NewAtomicLevelAt(level)
	var core zapcore.Core = zapcore.NewCore(enc, zapcore.AddSync(out), atomic)
	if rules != "" {
		core = zapfilter.NewFilteringCore(core, zapfilter.MustParseRules(rules))
	}
	return &Logger{l: zap.New(core, opts...), level: atomic}
}

func (l *Logger) Named(name string) *Logger {
	return &Logger{l: l.l.Named(name), level: l.level}
}

func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{l: l.l.With(fields...), level: l.level}
}

func (l *Logger) WithOptions(opts ...Option) *Logger {
	return &Logger{l: l.l.WithOptions(opts...), level: l.level}
}

// SetLevel changes the level of this logger and all loggers derived from it.
func (l *Logger) SetLevel(level Level) {
	l.level.SetLevel(level)
}

func (l *Logger) Level() Level {
	return l.level.Level()
}

func (l *Logger) Enabled(level Level) bool {
	return l.level.Enabled(level)
}

func (l *Logger) Debug(msg string, fields ...Field) {
	l.l.Debug(msg, fields...)
}

func (l *Logger) Info(msg string, fields ...Field) {
	l.l.Info(msg, fields...)
}

func (l *Logger) Warn(msg string, fields ...Field) {
	l.l.Warn(msg, fields...)
}

func (l *Logger) Error(msg string, fields ...Field) {
	l.l.Error(msg, fields...)
}

func (l *Logger) Fatal(msg string, fields ...Field) {
	l.l.Fatal(msg, fields...)
}

// Debugw logs with loosely typed key value pairs
func (l *Logger) Debugw(msg string, keysAndValues ...any) {
	l.l.Sugar().Debugw(msg, keysAndValues...)
}

func (l *Logger) Sync() error {
	return l.l.Sync()
}

// ZapLogger gives access to the underlying zap logger (used by adapters)
func (l *Logger) ZapLogger() *zap.Logger {
	return l.l
}

func Debug(msg string, fields ...Field) {
	std.l.WithOptions(zap.AddCallerSkip(1)).Debug(msg, fields...)
}

func Info(msg string, fields ...Field) {
	std.l.WithOptions(zap.AddCallerSkip(1)).Info(msg, fields...)
}

func Warn(msg string, fields ...Field) {
	std.l.WithOptions(zap.AddCallerSkip(1)).Warn(msg, fields...)
}

func Error(msg string, fields ...Field) {
	std.l.WithOptions(zap.AddCallerSkip(1)).Error(msg, fields...)
}

func Fatal(msg string, fields ...Field) {
	std.l.WithOptions(zap.AddCallerSkip(1)).Fatal(msg, fields...)
}

func Sync() error {
	return std.Sync()
}
