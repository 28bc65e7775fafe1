package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Log struct {
	LogLevel zapcore.Level `envconfig:"LOG_LEVEL" default:"debug"`
	Sink     string        `envconfig:"LOG_SINK"`
}

// NewLogger builds a named zap logger writing to stderr, or to cfg.Sink
// when one is configured.
func NewLogger(cfg Log, name string) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	ws := zapcore.Lock(os.Stderr)
	if cfg.Sink != "" {
		if f, err := os.OpenFile(cfg.Sink, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
			ws = zapcore.Lock(f)
		}
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		ws,
		zap.NewAtomicLevelAt(cfg.LogLevel),
	)

	return zap.New(core, zap.AddCaller()).Named(name)
}
