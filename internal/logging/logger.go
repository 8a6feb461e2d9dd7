// Package logging provides zap logger helpers.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects the encoder, level and optional rotating log file.
type Config struct {
	Development bool
	Level       string
	// FilePath enables a JSON log file rotated by lumberjack.
	FilePath string
	// FileLevel filters the log file independently of the console; empty
	// means debug.
	FileLevel  string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// New builds a zap.Logger configured for development or production. The
// returned function flushes the logger and closes the log file.
func New(cfg Config) (*zap.Logger, func() error, error) {
	level := zap.NewAtomicLevel()
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
		}
	} else if cfg.Development {
		level.SetLevel(zapcore.DebugLevel)
	}

	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zcfg = zap.NewProductionConfig()
		zcfg.DisableStacktrace = false
	}
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.Level = level

	logger, err := zcfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	if cfg.FilePath == "" {
		return logger, syncer(logger, nil), nil
	}
	fileLevel := zap.NewAtomicLevelAt(zapcore.DebugLevel)
	if cfg.FileLevel != "" {
		if err := fileLevel.UnmarshalText([]byte(cfg.FileLevel)); err != nil {
			return nil, nil, fmt.Errorf("parse log file level %q: %w", cfg.FileLevel, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o750); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	fileEncoder := zap.NewProductionEncoderConfig()
	fileEncoder.TimeKey = "ts"
	fileEncoder.EncodeTime = zapcore.ISO8601TimeEncoder
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoder), zapcore.AddSync(rotator), fileLevel)

	teed := logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	}))
	return teed, syncer(teed, rotator), nil
}

func syncer(logger *zap.Logger, rotator *lumberjack.Logger) func() error {
	return func() error {
		// Syncing stderr fails on some terminals; only the file matters here.
		_ = logger.Sync()
		if rotator == nil {
			return nil
		}
		if err := rotator.Close(); err != nil {
			return fmt.Errorf("close log file: %w", err)
		}
		return nil
	}
}
