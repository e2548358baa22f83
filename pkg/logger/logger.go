package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log 进程级日志实例，未初始化时丢弃所有输出（测试场景）
var Log = zap.NewNop()

// Init 按配置初始化日志
// format: json / console；level: debug / info / warn / error
func Init(level, format string) error {
	lvl := zapcore.InfoLevel
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build()
	if err != nil {
		return err
	}
	Log = l
	return nil
}

// Named 派生带组件名的子日志
func Named(component string) *zap.Logger {
	return Log.Named(component)
}

func Sync() {
	_ = Log.Sync()
}
