package logging

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ANSI color codes
const (
	Reset = "\033[0m"
	Bold  = "\033[1m"
	Dim   = "\033[2m"

	Red     = "\033[31m"
	Green   = "\033[32m"
	Yellow  = "\033[33m"
	Blue    = "\033[34m"
	Magenta = "\033[35m"
	Cyan    = "\033[36m"
	White   = "\033[37m"
	Gray    = "\033[90m"

	BrightRed     = "\033[91m"
	BrightGreen   = "\033[92m"
	BrightYellow  = "\033[93m"
	BrightBlue    = "\033[94m"
	BrightMagenta = "\033[95m"
	BrightCyan    = "\033[96m"
	BrightWhite   = "\033[97m"
)

// ColoredLogger wraps zap.Logger with colored, component-tagged output.
type ColoredLogger struct {
	*zap.Logger
	enableColors bool
}

// Component identifies the connector subsystem that emitted a log line.
type Component string

const (
	ComponentControl     Component = "CONTROL"
	ComponentNegotiation Component = "NEGOTIATION"
	ComponentTransfer    Component = "TRANSFER"
	ComponentDataPlane   Component = "DATAPLANE"
	ComponentSelector    Component = "SELECTOR"
	ComponentSignaling   Component = "SIGNALING"
	ComponentCatalog     Component = "CATALOG"
	ComponentProtocol    Component = "PROTOCOL"
	ComponentPolicy      Component = "POLICY"
	ComponentStore       Component = "STORE"
	ComponentVault       Component = "VAULT"
	ComponentEvents      Component = "EVENTS"
	ComponentGateway     Component = "GATEWAY"
	ComponentGeneral     Component = "GENERAL"
)

func getComponentColor(component Component) string {
	switch component {
	case ComponentControl:
		return BrightBlue
	case ComponentNegotiation:
		return Blue
	case ComponentTransfer:
		return Cyan
	case ComponentDataPlane:
		return BrightCyan
	case ComponentSelector:
		return Magenta
	case ComponentSignaling:
		return BrightMagenta
	case ComponentCatalog:
		return BrightYellow
	case ComponentProtocol:
		return Green
	case ComponentPolicy:
		return Red
	case ComponentStore:
		return Green
	case ComponentVault:
		return Gray
	case ComponentEvents:
		return Yellow
	case ComponentGateway:
		return BrightGreen
	case ComponentGeneral:
		return Yellow
	default:
		return White
	}
}

func getLevelColor(level zapcore.Level) string {
	switch level {
	case zapcore.DebugLevel:
		return Gray
	case zapcore.InfoLevel:
		return BrightWhite
	case zapcore.WarnLevel:
		return BrightYellow
	case zapcore.ErrorLevel:
		return BrightRed
	case zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		return Red
	default:
		return White
	}
}

func coloredConsoleEncoder(enableColors bool) zapcore.Encoder {
	config := zap.NewDevelopmentEncoderConfig()

	config.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		timeStr := t.Format("15:04:05")
		if enableColors {
			enc.AppendString(Dim + timeStr + Reset)
		} else {
			enc.AppendString(timeStr)
		}
	}

	config.EncodeLevel = func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		levelStr := levelLetter(level)
		if enableColors {
			enc.AppendString(getLevelColor(level) + Bold + levelStr + Reset)
		} else {
			enc.AppendString(levelStr)
		}
	}

	config.EncodeCaller = func(caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
		file := caller.File
		if idx := strings.LastIndex(file, "/"); idx >= 0 {
			file = file[idx+1:]
		}
		file = strings.TrimSuffix(file, ".go")
		if enableColors {
			enc.AppendString(Dim + file + Reset)
		} else {
			enc.AppendString(file)
		}
	}

	return zapcore.NewConsoleEncoder(config)
}

func levelLetter(level zapcore.Level) string {
	switch level {
	case zapcore.DebugLevel:
		return "D"
	case zapcore.InfoLevel:
		return "I"
	case zapcore.WarnLevel:
		return "W"
	case zapcore.ErrorLevel:
		return "E"
	default:
		return "?"
	}
}

// ParseLevel maps a config level name to a zap level. Unknown names yield info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func newLogger(ws zapcore.WriteSyncer, level zapcore.Level, enableColors bool) *ColoredLogger {
	core := zapcore.NewCore(coloredConsoleEncoder(enableColors), ws, level)
	return &ColoredLogger{
		Logger:       zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)),
		enableColors: enableColors,
	}
}

// NewLeveledLogger creates a stdout logger filtered at the given level name.
func NewLeveledLogger(level string, enableColors bool) *ColoredLogger {
	return newLogger(zapcore.AddSync(os.Stdout), ParseLevel(level), enableColors)
}

// New builds a logger from the logging config values: level name, format
// ("console" or "json") and an optional output file.
func New(level, format, outputFile string) (*ColoredLogger, error) {
	ws := zapcore.AddSync(os.Stdout)
	colors := true
	if outputFile != "" {
		file, err := os.OpenFile(outputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", outputFile, err)
		}
		ws = zapcore.AddSync(file)
		colors = false
	}
	if format == "json" {
		enc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		core := zapcore.NewCore(enc, ws, ParseLevel(level))
		return &ColoredLogger{Logger: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))}, nil
	}
	return newLogger(ws, ParseLevel(level), colors), nil
}

// NewNopLogger returns a logger that discards everything. Used by tests.
func NewNopLogger() *ColoredLogger {
	return &ColoredLogger{Logger: zap.NewNop()}
}

// Wrap adapts a plain zap logger.
func Wrap(l *zap.Logger) *ColoredLogger {
	if l == nil {
		return NewNopLogger()
	}
	return &ColoredLogger{Logger: l}
}

func (l *ColoredLogger) tag(component Component, msg string) string {
	if l.enableColors {
		return fmt.Sprintf("%s[%s]%s %s", getComponentColor(component), component, Reset, msg)
	}
	return fmt.Sprintf("[%s] %s", component, msg)
}

// Component-specific logging methods
func (l *ColoredLogger) ComponentInfo(component Component, msg string, fields ...zap.Field) {
	l.Info(l.tag(component, msg), fields...)
}

func (l *ColoredLogger) ComponentWarn(component Component, msg string, fields ...zap.Field) {
	l.Warn(l.tag(component, msg), fields...)
}

func (l *ColoredLogger) ComponentError(component Component, msg string, fields ...zap.Field) {
	l.Error(l.tag(component, msg), fields...)
}

func (l *ColoredLogger) ComponentDebug(component Component, msg string, fields ...zap.Field) {
	l.Debug(l.tag(component, msg), fields...)
}

// StandardLogger adapts a ColoredLogger to log.Logger.
type StandardLogger struct {
	logger    *ColoredLogger
	component Component
}

// NewStandardLogger wraps logger for a single component.
func NewStandardLogger(logger *ColoredLogger, component Component) *StandardLogger {
	return &StandardLogger{logger: logger, component: component}
}

// Write logs p as a warning, e.g. lines from http.Server.ErrorLog.
func (s *StandardLogger) Write(p []byte) (int, error) {
	s.logger.ComponentWarn(s.component, strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}
