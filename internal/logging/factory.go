package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the logging backend and output.
type Options struct {
	Level   string // debug, info, warn, error
	Format  string // text or json
	Backend string // slog or zap
	File    string // optional path; rotated with lumberjack
	Service string

	// Output overrides the destination when File is empty (defaults to stderr).
	Output io.Writer
}

// New builds a Logger from opts. Unknown levels fall back to info, unknown
// backends to slog.
func New(opts Options) Logger {
	w := opts.Output
	if w == nil {
		w = os.Stderr
	}
	if opts.File != "" {
		w = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		}
	}

	var l Logger
	if strings.EqualFold(opts.Backend, "zap") {
		l = newZap(w, opts)
	} else {
		l = newSlog(w, opts)
	}
	if opts.Service != "" {
		l = l.With("service", opts.Service)
	}
	return l
}

func newSlog(w io.Writer, opts Options) Logger {
	hopts := &slog.HandlerOptions{Level: slogLevel(opts.Level)}

	var h slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		h = slog.NewJSONHandler(w, hopts)
	} else {
		h = slog.NewTextHandler(w, hopts)
	}
	return NewSlogLogger(slog.New(h))
}

func newZap(w io.Writer, opts Options) Logger {
	var enc zapcore.Encoder
	if strings.EqualFold(opts.Format, "json") {
		cfg := zap.NewProductionEncoderConfig()
		cfg.TimeKey = "timestamp"
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(cfg)
	} else {
		enc = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}
	core := zapcore.NewCore(enc, zapcore.AddSync(w), zapLevel(opts.Level))
	return NewZapLogger(zap.New(core))
}

func slogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func zapLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
