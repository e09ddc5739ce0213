// Package logger provides zap logger implimentation logic.
package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	config "github.com/crabzie/workflow-scheduler/config/utils"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// atomicLevel is logger log level invariant
var atomicLevel = zap.NewAtomicLevel()

// New builds the base logger, writing below-error entries to stdout and the rest to stderr.
func New(cfg *config.Logger) (*zap.Logger, error) {
	return newLogger(cfg, zapcore.Lock(os.Stdout), zapcore.Lock(os.Stderr))
}

func newLogger(cfg *config.Logger, out, errOut zapcore.WriteSyncer) (*zap.Logger, error) {
	l, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("couldn't parse initial level: %w", err)
	}
	atomicLevel.SetLevel(l)

	// create encoder
	encoder := zapcore.NewJSONEncoder(cfg.EncoderConfig)
	if cfg.Encoding == "console" {
		encoder = zapcore.NewConsoleEncoder(cfg.EncoderConfig)
	}

	// Level filters
	highPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapcore.ErrorLevel
	})

	lowPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return atomicLevel.Enabled(lvl) && lvl < zapcore.ErrorLevel
	})

	infoCore := zapcore.NewCore(encoder, out, lowPriority)
	errorCore := zapcore.NewCore(encoder, errOut, highPriority)

	opts := []zap.Option{zap.AddCaller()}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}
	if !cfg.DisableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	return zap.New(zapcore.NewTee(infoCore, errorCore), opts...), nil
}

// Build is a build function that's responsible for setting up base logger and
// reloading its level whenever the config file changes. It exits on a bad level.
func Build(cfg *config.Logger) *zap.Logger {
	logger, err := New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	zap.ReplaceGlobals(logger)

	viper.OnConfigChange(func(in fsnotify.Event) {
		if in.Op&(fsnotify.Create) == 0 {
			SetLevel(viper.GetString("logger.level"))
		}
	})
	if viper.ConfigFileUsed() != "" {
		viper.WatchConfig()
	}
	return logger
}

// SetLevel changes logger level dynamically
func SetLevel(level string) {
	l, err := zapcore.ParseLevel(level)
	if err != nil {
		zap.L().Error("Couldn't parse level", zap.Error(err))
	} else {
		zap.L().Info("Atomic level updated", zap.String("value", level))
		atomicLevel.SetLevel(l)
	}
}

// Level returns the current level
func Level() zapcore.Level {
	return atomicLevel.Level()
}
