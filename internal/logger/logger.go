// Package logger builds the zap logger used by the burrow commands.
package logger

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Rotation struct {
	MaxSize    int  `yaml:"max_size"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAge     int  `yaml:"max_age"`
	Compress   bool `yaml:"compress"`
}

type Config struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// Output entries are "stdout", "stderr" or a file path. Files rotate
	// according to Rotation.
	Output   []string `yaml:"output"`
	Rotation Rotation `yaml:"rotation"`
}

func Default() Config {
	return Config{
		Level:  "info",
		Format: "console",
		Output: []string{"stderr"},
		Rotation: Rotation{
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		},
	}
}

// New builds a logger from cfg. The returned closer releases rotating file
// outputs.
func New(cfg Config) (*zap.Logger, io.Closer, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, nil, fmt.Errorf("log level: %w", err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder
	switch cfg.Format {
	case "json":
		encoder = zapcore.NewJSONEncoder(encCfg)
	case "console", "":
		encoder = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, nil, fmt.Errorf("log format: unknown %q", cfg.Format)
	}

	outputs := cfg.Output
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	var (
		writers []zapcore.WriteSyncer
		files   closers
	)
	for _, out := range outputs {
		switch out {
		case "stdout":
			writers = append(writers, zapcore.Lock(os.Stdout))
		case "stderr":
			writers = append(writers, zapcore.Lock(os.Stderr))
		default:
			lj := &lumberjack.Logger{
				Filename:   out,
				MaxSize:    cfg.Rotation.MaxSize,
				MaxBackups: cfg.Rotation.MaxBackups,
				MaxAge:     cfg.Rotation.MaxAge,
				Compress:   cfg.Rotation.Compress,
			}
			files = append(files, lj)
			writers = append(writers, zapcore.AddSync(lj))
		}
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(writers...), level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), files, nil
}

type closers []io.Closer

func (c closers) Close() error {
	var errs []error
	for _, cl := range c {
		if err := cl.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
