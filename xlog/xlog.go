package xlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

var output io.Writer = os.Stdout

type Options struct {
	Level  string
	Format string
	// File is a strftime pattern (e.g. logs/server.%Y%m%d.log). Empty logs to stdout only.
	File         string
	RotationTime time.Duration
	MaxAge       time.Duration
}

// Setup replaces the process logger. It is meant to be called once from main before any
// goroutine logs.
func Setup(opts Options) error {
	w := io.Writer(os.Stdout)
	if opts.File != "" {
		rl, err := rotatelogs.New(
			opts.File,
			rotatelogs.WithRotationTime(opts.RotationTime),
			rotatelogs.WithMaxAge(opts.MaxAge),
		)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", opts.File, err)
		}
		w = io.MultiWriter(os.Stdout, rl)
	}
	setOutput(w, opts.Level, opts.Format)
	return nil
}

func setOutput(w io.Writer, level, format string) {
	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	logger = slog.New(handler)
	output = w
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Writer is the sink the structured logger writes to, shared with the HTTP access log.
func Writer() io.Writer {
	return output
}

func _log(level slog.Level, msg string, args ...any) {
	_, f, l, _ := runtime.Caller(2)
	group := slog.Group(
		"source",
		slog.Attr{
			Key:   "file",
			Value: slog.AnyValue(f),
		},
		slog.Attr{
			Key:   "L",
			Value: slog.AnyValue(l),
		},
	)
	args = append(args, group)
	logger.Log(context.Background(), level, msg, args...)
}

func Info(msg string, args ...any) {
	_log(slog.LevelInfo, msg, args...)
}

func Debug(msg string, args ...any) {
	_log(slog.LevelDebug, msg, args...)
}

func Error(msg string, args ...any) {
	_log(slog.LevelError, msg, args...)
}

func Warn(msg string, args ...any) {
	_log(slog.LevelWarn, msg, args...)
}
