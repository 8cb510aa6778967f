package logging

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevelEnvVar names the level used when no --log-level is given. Unset
// or "off" keeps rkflash silent.
const LogLevelEnvVar = "RKFLASH_LOG_LEVEL"

// dumpLimit caps the bytes shown by frame dumps
const dumpLimit = 256

var logger *zap.Logger

// Initialize builds the global logger. An empty level falls back to
// RKFLASH_LOG_LEVEL; "off" or nothing at all installs a no-op logger.
func Initialize(level string) error {
	if level == "" {
		level = os.Getenv(LogLevelEnvVar)
	}
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" || level == "off" {
		logger = zap.NewNop()
		return nil
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeCaller = zapcore.ShortCallerEncoder

	cfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(lvl),
		Encoding:          "console",
		EncoderConfig:     enc,
		OutputPaths:       []string{"stderr"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: lvl > zapcore.DebugLevel,
	}

	built, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger = built.Named("rkflash")
	return nil
}

// GetLogger returns the global logger, a no-op one before Initialize
func GetLogger() *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger
}

// Debug logs on the global logger
func Debug(msg string, fields ...zap.Field) {
	GetLogger().Debug(msg, fields...)
}

// Info logs on the global logger
func Info(msg string, fields ...zap.Field) {
	GetLogger().Info(msg, fields...)
}

// Warn logs on the global logger
func Warn(msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, fields...)
}

// LogConnection records an event client connecting or leaving
func LogConnection(remoteAddr, event string) {
	Info("Event client",
		zap.String("remote_addr", remoteAddr),
		zap.String("event", event),
	)
}

// LogWebSocketMessage records a frame received from an event client. The
// payload is only dumped at debug level.
func LogWebSocketMessage(remoteAddr, direction string, messageType int, data []byte) {
	l := GetLogger()
	if !l.Core().Enabled(zapcore.DebugLevel) {
		return
	}
	fields := []zap.Field{
		zap.String("remote_addr", remoteAddr),
		zap.String("direction", direction),
		zap.String("message_type", messageTypeName(messageType)),
		zap.Int("length", len(data)),
	}
	if messageType == websocket.TextMessage {
		fields = append(fields, zap.String("content", printable(data)))
	} else {
		fields = append(fields, zap.String("hex", hexDump(data)))
	}
	l.Debug("WebSocket message", fields...)
}

// RawBytes dumps a USB frame on l at debug level. label is usually
// "command", "status" or "data".
func RawBytes(l *zap.Logger, label string, data []byte) {
	if !l.Core().Enabled(zapcore.DebugLevel) {
		return
	}
	l.Debug(label,
		zap.Int("length", len(data)),
		zap.String("hex", hexDump(data)),
		zap.String("ascii", printable(data)),
	)
}

// Sync flushes buffered entries
func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
}

func messageTypeName(t int) string {
	switch t {
	case websocket.TextMessage:
		return "text"
	case websocket.BinaryMessage:
		return "binary"
	case websocket.CloseMessage:
		return "close"
	case websocket.PingMessage:
		return "ping"
	case websocket.PongMessage:
		return "pong"
	}
	return fmt.Sprintf("unknown(%d)", t)
}

func hexDump(data []byte) string {
	if len(data) > dumpLimit {
		return hex.EncodeToString(data[:dumpLimit]) + "..."
	}
	return hex.EncodeToString(data)
}

// printable replaces non-ASCII bytes with dots
func printable(data []byte) string {
	if len(data) > dumpLimit {
		data = data[:dumpLimit]
	}
	out := make([]byte, len(data))
	for i, b := range data {
		if b < 0x20 || b > 0x7e {
			b = '.'
		}
		out[i] = b
	}
	return string(out)
}
