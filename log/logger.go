// Package log provides structured logging with task context.
//
// Two logger variants are available:
//   - Logger: Non-sugared zap.Logger for the scheduler/executor/reporter path
//     (high performance, structured fields)
//   - SugaredLogger: Printf-style logging for CLI surfaces
//
// Use Logger.Sugar() to obtain a SugaredLogger when needed.
package log

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Context carries the identity fields every tracking-pipeline log line
// should include. Any field left at its zero value is omitted.
type Context struct {
	TrackerID string
	BotID     string
	TaskID    string
	Family    string
}

// Logger provides structured logging with tracking-pipeline context.
// Use this for the scheduler/executor/reporter/failure-handler path.
// For CLI surfaces, use Sugar() to get a SugaredLogger.
type Logger struct {
	zap *zap.Logger
}

// SugaredLogger provides printf-style logging for CLI surfaces.
type SugaredLogger struct {
	sugar *zap.SugaredLogger
}

// NewLogger creates a new logger with the given context. Output defaults
// to os.Stderr.
func NewLogger(ctx Context) *Logger {
	return newLoggerWithWriter(ctx, os.Stderr)
}

// WithOutput returns a new logger with a different output writer.
func (l *Logger) WithOutput(w io.Writer) *Logger {
	core := jsonCore(w)
	return &Logger{zap: l.zap.WithOptions(zap.WrapCore(func(zapcore.Core) zapcore.Core { return core }))}
}

func jsonCore(w io.Writer) zapcore.Core {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
	return zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(w),
		zapcore.DebugLevel,
	)
}

func newLoggerWithWriter(ctx Context, w io.Writer) *Logger {
	core := jsonCore(w)

	var fields []zap.Field
	if ctx.TrackerID != "" {
		fields = append(fields, zap.String("tracker_id", ctx.TrackerID))
	}
	if ctx.BotID != "" {
		fields = append(fields, zap.String("bot_id", ctx.BotID))
	}
	if ctx.TaskID != "" {
		fields = append(fields, zap.String("task_id", ctx.TaskID))
	}
	if ctx.Family != "" {
		fields = append(fields, zap.String("family", ctx.Family))
	}

	zapLogger := zap.New(core).With(fields...)
	return &Logger{zap: zapLogger}
}

// With returns a new Logger with additional context merged in.
func (l *Logger) With(ctx Context) *Logger {
	var fields []zap.Field
	if ctx.TrackerID != "" {
		fields = append(fields, zap.String("tracker_id", ctx.TrackerID))
	}
	if ctx.BotID != "" {
		fields = append(fields, zap.String("bot_id", ctx.BotID))
	}
	if ctx.TaskID != "" {
		fields = append(fields, zap.String("task_id", ctx.TaskID))
	}
	if ctx.Family != "" {
		fields = append(fields, zap.String("family", ctx.Family))
	}
	return &Logger{zap: l.zap.With(fields...)}
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, fields map[string]any) {
	l.zap.Debug(message, zap.Any("fields", fields))
}

// Info logs an info message.
func (l *Logger) Info(message string, fields map[string]any) {
	l.zap.Info(message, zap.Any("fields", fields))
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, fields map[string]any) {
	l.zap.Warn(message, zap.Any("fields", fields))
}

// Error logs an error message.
func (l *Logger) Error(message string, fields map[string]any) {
	l.zap.Error(message, zap.Any("fields", fields))
}

// Sugar returns a SugaredLogger for printf-style logging.
func (l *Logger) Sugar() *SugaredLogger {
	return &SugaredLogger{sugar: l.zap.Sugar()}
}

// Debugf logs a debug message with printf-style formatting.
func (s *SugaredLogger) Debugf(template string, args ...any) {
	s.sugar.Debugf(template, args...)
}

// Infof logs an info message with printf-style formatting.
func (s *SugaredLogger) Infof(template string, args ...any) {
	s.sugar.Infof(template, args...)
}

// Warnf logs a warning message with printf-style formatting.
func (s *SugaredLogger) Warnf(template string, args ...any) {
	s.sugar.Warnf(template, args...)
}

// Errorf logs an error message with printf-style formatting.
func (s *SugaredLogger) Errorf(template string, args ...any) {
	s.sugar.Errorf(template, args...)
}

// With returns a SugaredLogger with additional context fields.
func (s *SugaredLogger) With(args ...any) *SugaredLogger {
	return &SugaredLogger{sugar: s.sugar.With(args...)}
}
