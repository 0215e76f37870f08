package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	Logger *zap.Logger
}

var (
	ProductionMode  = "production"
	DevelopmentMode = "development"
)

func New(mode string) *Logger {
	var config zap.Config
	if mode == ProductionMode {
		config = zap.NewProductionConfig()
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zapLogger, err := config.Build(zap.AddCallerSkip(1))
	if err != nil {
		panic(err)
	}
	return &Logger{Logger: zapLogger}
}

// NewNop returns a logger that discards everything. Used by tests.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

type ctxKey string

var RequestIdKey ctxKey = "request_id"
var UIDKey ctxKey = "uid"
var PIDKey ctxKey = "pid"
var ZIDKey ctxKey = "zid"

// WithIdentity stores the resolved participant coordinates for log correlation.
func WithIdentity(ctx context.Context, uid, pid, zid int64) context.Context {
	ctx = context.WithValue(ctx, UIDKey, uid)
	ctx = context.WithValue(ctx, PIDKey, pid)
	return context.WithValue(ctx, ZIDKey, zid)
}

func (l *Logger) withContext(ctx context.Context) *zap.Logger {
	var fields []zap.Field
	if ctx != nil {
		if requestId, ok := ctx.Value(RequestIdKey).(string); ok {
			fields = append(fields, zap.String(string(RequestIdKey), requestId))
		}
		for _, key := range []ctxKey{UIDKey, PIDKey, ZIDKey} {
			if v, ok := ctx.Value(key).(int64); ok {
				fields = append(fields, zap.Int64(string(key), v))
			}
		}
	}
	return l.Logger.With(fields...)
}

// With returns a sugared logger carrying the request-scoped fields found in ctx.
func (l *Logger) With(ctx context.Context) *zap.SugaredLogger {
	return l.withContext(ctx).Sugar()
}

var logger *Logger

func SetGlobalLogger(l *Logger) {
	logger = l
}

func GetGlobalLogger() *Logger {
	return logger
}

func (l *Logger) Infof(template string, args ...interface{}) {
	l.Logger.Sugar().Infof(template, args...)
}

func (l *Logger) Warnf(template string, args ...interface{}) {
	l.Logger.Sugar().Warnf(template, args...)
}

func (l *Logger) Errorf(template string, args ...interface{}) {
	l.Logger.Sugar().Errorf(template, args...)
}

func (l *Logger) Sync() {
	_ = l.Logger.Sync()
}
