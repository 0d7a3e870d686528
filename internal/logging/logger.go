package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger writes rotated JSON logs under logDir. Debug mode lowers the
// level and tees to stderr, which is what you want when babysitting a probe
// that only misbehaves in production.
func NewLogger(logDir string, debug bool) (*zap.Logger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}
	w := zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(logDir, "sentinel.log"),
		MaxSize:    10, // MB
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	})
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), w, level)
	if debug {
		stderr := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), zapcore.AddSync(os.Stderr), level)
		core = zapcore.NewTee(core, stderr)
	}
	return zap.New(core), nil
}
