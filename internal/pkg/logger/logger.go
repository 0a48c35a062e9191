package logger

import (
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/doeshing/sysadvisor/internal/ports"
)

// ZapLogger implements ports.Logger on top of a zap sugared logger.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// New builds a console logger on stderr at the given level (debug|info|warn|error).
// Unknown levels fall back to warn.
func New(level string) (*ZapLogger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.WarnLevel
	}

	encoder := zap.NewDevelopmentEncoderConfig()
	encoder.TimeKey = "time"
	encoder.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	encoder.EncodeLevel = zapcore.CapitalLevelEncoder

	config := zap.Config{
		Level:             zap.NewAtomicLevelAt(lvl),
		Development:       false,
		DisableCaller:     lvl > zapcore.DebugLevel,
		DisableStacktrace: true,
		Encoding:          "console",
		EncoderConfig:     encoder,
		OutputPaths:       []string{"stderr"},
		ErrorOutputPaths:  []string{"stderr"},
	}

	base, err := config.Build()
	if err != nil {
		return nil, err
	}
	return &ZapLogger{sugar: base.Sugar()}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *ZapLogger {
	return &ZapLogger{sugar: zap.NewNop().Sugar()}
}

// FromZap wraps an existing zap logger.
func FromZap(l *zap.Logger) *ZapLogger {
	return &ZapLogger{sugar: l.Sugar()}
}

func (l *ZapLogger) Debug(msg string, fields map[string]interface{}) {
	l.sugar.Debugw(msg, flatten(fields)...)
}

func (l *ZapLogger) Info(msg string, fields map[string]interface{}) {
	l.sugar.Infow(msg, flatten(fields)...)
}

func (l *ZapLogger) Warn(msg string, fields map[string]interface{}) {
	l.sugar.Warnw(msg, flatten(fields)...)
}

func (l *ZapLogger) Error(msg string, err error, fields map[string]interface{}) {
	kv := flatten(fields)
	if err != nil {
		kv = append(kv, zap.Error(err))
	}
	l.sugar.Errorw(msg, kv...)
}

// Sync flushes buffered entries.
func (l *ZapLogger) Sync() error {
	return l.sugar.Sync()
}

func flatten(fields map[string]interface{}) []interface{} {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	kv := make([]interface{}, 0, len(fields)*2)
	for _, key := range keys {
		kv = append(kv, key, fields[key])
	}
	return kv
}

var _ ports.Logger = (*ZapLogger)(nil)
