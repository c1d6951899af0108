package evict

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// NoOpLogger is a logger that does nothing.
type NoOpLogger struct{}

// Debug logs a debug message (no-op).
func (n *NoOpLogger) Debug(msg string, args ...any) {}

// Info logs an info message (no-op).
func (n *NoOpLogger) Info(msg string, args ...any) {}

// Warn logs a warning message (no-op).
func (n *NoOpLogger) Warn(msg string, args ...any) {}

// Error logs an error message (no-op).
func (n *NoOpLogger) Error(msg string, args ...any) {}

// NewNoOpLogger creates a new no-op logger.
func NewNoOpLogger() Logger {
	return &NoOpLogger{}
}

// ConsoleLogger writes log lines to stdout with a prefix.
type ConsoleLogger struct {
	prefix string
}

// Debug logs a debug message to console.
func (cl *ConsoleLogger) Debug(msg string, args ...any) {
	cl.print("DEBUG", msg, args)
}

// Info logs an info message to console.
func (cl *ConsoleLogger) Info(msg string, args ...any) {
	cl.print("INFO", msg, args)
}

// Warn logs a warning message to console.
func (cl *ConsoleLogger) Warn(msg string, args ...any) {
	cl.print("WARN", msg, args)
}

// Error logs an error message to console.
func (cl *ConsoleLogger) Error(msg string, args ...any) {
	cl.print("ERROR", msg, args)
}

func (cl *ConsoleLogger) print(level, msg string, args []any) {
	fmt.Printf("[%s] %s: %s", level, cl.prefix, msg)
	if len(args) > 0 {
		fmt.Printf(" %v", args)
	}
	fmt.Println()
}

// NewConsoleLogger creates a new console logger.
func NewConsoleLogger(prefix string) Logger {
	return &ConsoleLogger{prefix: prefix}
}

// ZerologLogger adapts a zerolog.Logger to the Logger interface. Args are
// interpreted as alternating key/value pairs.
type ZerologLogger struct {
	logger zerolog.Logger
}

// NewZerologLogger creates a logger backed by zerolog.
func NewZerologLogger(logger zerolog.Logger) Logger {
	return &ZerologLogger{logger: logger}
}

// Debug logs a debug message.
func (zl *ZerologLogger) Debug(msg string, args ...any) {
	zl.emit(zl.logger.Debug(), msg, args)
}

// Info logs an info message.
func (zl *ZerologLogger) Info(msg string, args ...any) {
	zl.emit(zl.logger.Info(), msg, args)
}

// Warn logs a warning message.
func (zl *ZerologLogger) Warn(msg string, args ...any) {
	zl.emit(zl.logger.Warn(), msg, args)
}

// Error logs an error message.
func (zl *ZerologLogger) Error(msg string, args ...any) {
	zl.emit(zl.logger.Error(), msg, args)
}

func (zl *ZerologLogger) emit(ev *zerolog.Event, msg string, args []any) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		ev = ev.Interface(key, args[i+1])
	}
	ev.Msg(msg)
}

// JSONMarshaller is a marshaller that uses the standard JSON library.
type JSONMarshaller struct{}

// Marshal serializes a value to JSON.
func (jm *JSONMarshaller) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal deserializes a value from JSON.
func (jm *JSONMarshaller) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// NewJSONMarshaller creates a new JSON marshaller.
func NewJSONMarshaller() Marshaller {
	return &JSONMarshaller{}
}

// MsgpackMarshaller is a marshaller that uses MessagePack encoding.
type MsgpackMarshaller struct{}

// Marshal serializes a value to MessagePack.
func (mm *MsgpackMarshaller) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

// Unmarshal deserializes a value from MessagePack.
func (mm *MsgpackMarshaller) Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

// NewMsgpackMarshaller creates a new MessagePack marshaller.
func NewMsgpackMarshaller() Marshaller {
	return &MsgpackMarshaller{}
}

// GetMarshaller returns a marshaller for the given format.
func GetMarshaller(format string) (Marshaller, error) {
	switch format {
	case "", "json":
		return NewJSONMarshaller(), nil
	case "msgpack":
		return NewMsgpackMarshaller(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported serialization format %q", ErrInvalidConfig, format)
	}
}
