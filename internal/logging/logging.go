// Package logging builds the zap logger shared by every estate command.
package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New.
type Options struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string
	// Format is "console" or "json" for the terminal sink.
	Format string
	// File, when set, receives JSON logs rotated at MaxSizeMB.
	File      string
	MaxSizeMB int
	// Output is the terminal sink; os.Stderr when nil.
	Output io.Writer
}

// New returns a logger writing to the terminal and, optionally, to a rotating
// file. The returned close function flushes and releases the file.
//
// Example:
//
//	logger, closeLog, err := logging.New(logging.Options{Level: "info", File: "estate.log"})
//	if err != nil {
//	    return err
//	}
//	defer closeLog()
func New(opts Options) (*zap.Logger, func() error, error) {
	level, err := zap.ParseAtomicLevel(defaultString(opts.Level, "info"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse log level: %w", err)
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder(opts.Format, isTerminal(out)), zapcore.Lock(zapcore.AddSync(out)), level),
	}

	var rotator *lumberjack.Logger
	if opts.File != "" {
		rotator = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    max(opts.MaxSizeMB, 1),
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoderConfig()), zapcore.AddSync(rotator), level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel))
	closeFn := func() error {
		_ = logger.Sync() // stderr sync fails on some platforms
		if rotator != nil {
			return rotator.Close()
		}
		return nil
	}
	return logger, closeFn, nil
}

func encoder(format string, color bool) zapcore.Encoder {
	if format == "json" {
		return zapcore.NewJSONEncoder(fileEncoderConfig())
	}
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	cfg.EncodeCaller = nil
	cfg.CallerKey = ""
	if color {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return zapcore.NewConsoleEncoder(cfg)
}

func fileEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
