// Package logging provides zap logger helpers.
package logging

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Handler names accepted in Config.Handlers.
const (
	HandlerConsole  = "console"
	HandlerLogstash = "logstash"
)

// Config selects the log encoders and outputs.
type Config struct {
	Development bool
	// Handlers lists the enabled outputs; empty means console only.
	Handlers []string
	// LogstashAddr is the host:port of a TCP JSON lines collector.
	LogstashAddr string
	Level        string
}

// New builds a zap.Logger configured for development or production.
func New(cfg Config) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if cfg.Development {
		level.SetLevel(zap.DebugLevel)
	}
	if cfg.Level != "" {
		parsed, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		level.SetLevel(parsed)
	}

	handlers := cfg.Handlers
	if len(handlers) == 0 {
		handlers = []string{HandlerConsole}
	}

	var cores []zapcore.Core
	for _, handler := range handlers {
		switch strings.ToLower(strings.TrimSpace(handler)) {
		case HandlerConsole:
			cores = append(cores, consoleCore(cfg.Development, level))
		case HandlerLogstash:
			if cfg.LogstashAddr == "" {
				return nil, fmt.Errorf("logstash handler requires an address")
			}
			cores = append(cores, zapcore.NewCore(
				zapcore.NewJSONEncoder(jsonEncoderConfig()),
				zapcore.AddSync(NewTCPWriter(cfg.LogstashAddr)),
				level,
			))
		case "":
		default:
			return nil, fmt.Errorf("unknown log handler %q", handler)
		}
	}

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}
	return zap.New(zapcore.NewTee(cores...), opts...), nil
}

func jsonEncoderConfig() zapcore.EncoderConfig {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return encCfg
}

func consoleCore(development bool, level zap.AtomicLevel) zapcore.Core {
	if development {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.TimeKey = "ts"
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stdout), level)
	}
	return zapcore.NewCore(zapcore.NewJSONEncoder(jsonEncoderConfig()), zapcore.Lock(os.Stdout), level)
}

// TCPWriter ships log lines to a TCP collector, dialing lazily and redialing after failures.
type TCPWriter struct {
	addr    string
	timeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

// NewTCPWriter returns a writer for addr.
func NewTCPWriter(addr string) *TCPWriter {
	return &TCPWriter{addr: addr, timeout: 2 * time.Second}
}

// Write sends one encoded entry. A failed write drops the connection so the next entry redials.
func (w *TCPWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		conn, err := net.DialTimeout("tcp", w.addr, w.timeout)
		if err != nil {
			return 0, fmt.Errorf("dial log collector: %w", err)
		}
		w.conn = conn
	}
	if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
		return 0, fmt.Errorf("set write deadline: %w", err)
	}
	n, err := w.conn.Write(p)
	if err != nil {
		_ = w.conn.Close()
		w.conn = nil
		return n, fmt.Errorf("write log collector: %w", err)
	}
	return n, nil
}

// Sync implements zapcore.WriteSyncer.
func (w *TCPWriter) Sync() error { return nil }

// Close releases the connection.
func (w *TCPWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return nil
	}
	err := w.conn.Close()
	w.conn = nil
	return err
}

type ctxKey struct{}

// WithLogger stores a scoped logger in ctx.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the scoped logger, or a no-op logger when none is set.
func FromContext(ctx context.Context) *zap.Logger {
	return FromContextOr(ctx, zap.NewNop())
}

// FromContextOr returns the scoped logger, or fallback when none is set.
func FromContextOr(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && logger != nil {
			return logger
		}
	}
	return fallback
}
