// Package observability holds the logging and metrics plumbing shared by the
// sastrank commands.
package observability

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/xkilldash9x/sastrank/internal/config"
)

var (
	globalLogger atomic.Pointer[zap.Logger]
	once         sync.Once
)

// -- Initialization --

// Initialize sets up the global logger with console output going to the
// given writer. Only the first call has any effect.
func Initialize(cfg config.LoggerConfig, consoleWriter zapcore.WriteSyncer) {
	once.Do(func() {
		level := zap.NewAtomicLevel()
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			level.SetLevel(zap.InfoLevel)
		}

		consoleEncoder := jsonEncoder()
		if cfg.Format == "console" {
			consoleEncoder = consoleEncoderFor(cfg.Colors)
		}
		cores := []zapcore.Core{zapcore.NewCore(consoleEncoder, consoleWriter, level)}

		if cfg.LogFile != "" {
			// The file always gets JSON so CI can ship it to a log store.
			rotated := &lumberjack.Logger{
				Filename:   cfg.LogFile,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   cfg.Compress,
			}
			cores = append(cores, zapcore.NewCore(jsonEncoder(), zapcore.AddSync(rotated), level))
		}

		opts := []zap.Option{zap.AddStacktrace(zap.ErrorLevel), zap.Fields(ciFields()...)}
		if cfg.AddSource {
			opts = append(opts, zap.AddCaller())
		}

		logger := zap.New(zapcore.NewTee(cores...), opts...).Named(cfg.ServiceName)
		globalLogger.Store(logger)
		zap.ReplaceGlobals(logger)
		zap.RedirectStdLog(logger)
	})
}

// InitializeLogger is the production entry point. Console output goes to
// stderr so that stdout stays free for report output.
func InitializeLogger(cfg config.LoggerConfig) {
	Initialize(cfg, zapcore.Lock(os.Stderr))
}

// ResetForTest clears the global logger so the next Initialize call takes
// effect. Tests only.
func ResetForTest() {
	globalLogger.Store(nil)
	once = sync.Once{}
}

// GetLogger returns the global logger, or a development logger named
// "fallback" when Initialize has not run yet.
func GetLogger() *zap.Logger {
	if logger := globalLogger.Load(); logger != nil {
		return logger
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	l.Warn("Global logger requested before initialization; using fallback.")
	return l.Named("fallback")
}

// Sync flushes buffered entries. Call it before the process exits.
func Sync() {
	logger := globalLogger.Load()
	if logger == nil {
		return
	}
	if err := logger.Sync(); err != nil && !ignorableSyncError(err) {
		fmt.Fprintln(os.Stderr, "Error: failed to sync logger:", err)
	}
}

// ignorableSyncError reports whether err comes from syncing a terminal or a
// pipe, which fails on several platforms.
func ignorableSyncError(err error) bool {
	if errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) || errors.Is(err, syscall.ENOTSUP) {
		return true
	}
	return strings.Contains(err.Error(), "sync /dev/std")
}

// -- CI and run scoped fields --

// ciVariables maps CI job variables to the field attached to every entry.
// The first variable set for a field wins.
var ciVariables = []struct{ env, field string }{
	{"GITHUB_RUN_ID", "ci_run_id"},
	{"CI_PIPELINE_ID", "ci_run_id"},
	{"GITHUB_SHA", "ci_commit"},
	{"CI_COMMIT_SHA", "ci_commit"},
}

func ciFields() []zap.Field {
	var fields []zap.Field
	seen := make(map[string]bool)
	for _, v := range ciVariables {
		if seen[v.field] {
			continue
		}
		if value := os.Getenv(v.env); value != "" {
			fields = append(fields, zap.String(v.field, value))
			seen[v.field] = true
		}
	}
	return fields
}

type runFieldsKey struct{}

// ContextWithRun records the identity of a ranking run in ctx.
func ContextWithRun(ctx context.Context, runID, source string) context.Context {
	fields := []zap.Field{zap.String("run_id", runID)}
	if source != "" {
		fields = append(fields, zap.String("source", source))
	}
	return context.WithValue(ctx, runFieldsKey{}, fields)
}

// ForContext tags logger with the run recorded in ctx. Without a run it
// returns logger unchanged.
func ForContext(ctx context.Context, logger *zap.Logger) *zap.Logger {
	fields, _ := ctx.Value(runFieldsKey{}).([]zap.Field)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}

// -- Encoders --

const ansiReset = "\x1b[0m"

var ansiColors = map[string]string{
	"red":     "\x1b[31m",
	"green":   "\x1b[32m",
	"yellow":  "\x1b[33m",
	"blue":    "\x1b[34m",
	"magenta": "\x1b[35m",
	"cyan":    "\x1b[36m",
}

// levelColors resolves the configured color name of every level. Blank
// entries use the default palette; unknown names disable coloring.
func levelColors(c config.ColorConfig) map[zapcore.Level]string {
	pick := func(name, fallback string) string {
		if name == "" {
			name = fallback
		}
		return ansiColors[strings.ToLower(name)]
	}
	return map[zapcore.Level]string{
		zapcore.DebugLevel:  pick(c.Debug, "cyan"),
		zapcore.InfoLevel:   pick(c.Info, "green"),
		zapcore.WarnLevel:   pick(c.Warn, "yellow"),
		zapcore.ErrorLevel:  pick(c.Error, "red"),
		zapcore.DPanicLevel: pick(c.DPanic, "magenta"),
		zapcore.PanicLevel:  pick(c.Panic, "magenta"),
		zapcore.FatalLevel:  pick(c.Fatal, "magenta"),
	}
}

func baseEncoderConfig() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	return ec
}

func jsonEncoder() zapcore.Encoder {
	return zapcore.NewJSONEncoder(baseEncoderConfig())
}

// consoleEncoderFor builds the single line console encoder with colored
// levels. Names get a trailing dot, e.g. "sastrank.assessor.live.".
func consoleEncoderFor(colors config.ColorConfig) zapcore.Encoder {
	palette := levelColors(colors)

	ec := baseEncoderConfig()
	ec.EncodeLevel = func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		if c := palette[l]; c != "" {
			enc.AppendString(c + l.CapitalString() + ansiReset)
			return
		}
		enc.AppendString(l.CapitalString())
	}
	ec.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(name + ".")
	}
	return zapcore.NewConsoleEncoder(ec)
}
