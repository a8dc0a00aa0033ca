package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newBufferLogger(buf *bytes.Buffer) *zap.Logger {
	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	core := zapcore.NewCore(encoder, zapcore.AddSync(buf), zapcore.DebugLevel)
	return zap.New(core)
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to decode log line %q: %v", buf.String(), err)
	}
	return entry
}

// TestNewWithConfig tests logger creation with custom config
func TestNewWithConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name:   "development console",
			config: &Config{Level: "debug", Development: true, Encoding: "console"},
		},
		{
			name:   "production json",
			config: &Config{Level: "info", Encoding: "json"},
		},
		{
			name:   "empty config uses defaults",
			config: &Config{},
		},
		{
			name:    "invalid level",
			config:  &Config{Level: "loud"},
			wantErr: true,
		},
		{
			name:    "nil config",
			config:  nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewWithConfig(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewWithConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && logger == nil {
				t.Fatal("NewWithConfig() returned nil logger")
			}
		})
	}
}

func TestNew(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		logger, err := New("warn", format)
		if err != nil {
			t.Fatalf("New(%q) error = %v", format, err)
		}
		if logger.Core().Enabled(zapcore.InfoLevel) {
			t.Errorf("New(%q) should not enable info", format)
		}
		if !logger.Core().Enabled(zapcore.WarnLevel) {
			t.Errorf("New(%q) should enable warn", format)
		}
	}
}

func TestWithRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := WithRequest(newBufferLogger(&buf), "https://dapp.example", "eth_sign", 7)
	logger.Info("handled")

	entry := decodeLine(t, &buf)
	if entry["origin"] != "https://dapp.example" {
		t.Errorf("origin = %v", entry["origin"])
	}
	if entry["method"] != "eth_sign" {
		t.Errorf("method = %v", entry["method"])
	}
	if entry["request_id"] != float64(7) {
		t.Errorf("request_id = %v", entry["request_id"])
	}
}

func TestWithComponentAndChain(t *testing.T) {
	var buf bytes.Buffer
	logger := WithChain(WithComponent(newBufferLogger(&buf), "notification"), "e476")
	logger.Warn("tick failed")

	entry := decodeLine(t, &buf)
	if entry["component"] != "notification" || entry["chain_id"] != "e476" {
		t.Errorf("unexpected fields %v", entry)
	}
}

func TestNilLoggerHelpers(t *testing.T) {
	// None of these may panic on a nil logger
	WithComponent(nil, "x").Info("ignored")
	WithRequest(nil, "o", "m", 1).Info("ignored")
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
}

// TestContextLogger tests storing and retrieving a logger from context
func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf)

	ctx := WithLogger(context.Background(), logger)
	FromContext(ctx).Info("from context")

	if buf.Len() == 0 {
		t.Error("Expected log output from context logger")
	}
}

func TestContextLoggerFallback(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Error("FromContext() should return a no-op logger")
	}
	//nolint:staticcheck // nil context is part of the contract
	if FromContext(nil) == nil {
		t.Error("FromContext(nil) should return a no-op logger")
	}
}

func TestForComponent(t *testing.T) {
	var buf bytes.Buffer
	reqLog := WithRequest(newBufferLogger(&buf), "https://dapp.example", "eth_accounts", 4)
	ctx := WithLogger(context.Background(), reqLog)

	ForComponent(ctx, "confirmation", zap.NewNop()).Info("from request")
	entry := decodeLine(t, &buf)
	if entry["component"] != "confirmation" || entry["origin"] != "https://dapp.example" {
		t.Errorf("Unexpected fields %v", entry)
	}
	if entry["request_id"] != float64(4) {
		t.Errorf("Expected request_id 4, got %v", entry["request_id"])
	}

	buf.Reset()
	fallback := newBufferLogger(&buf)
	ForComponent(context.Background(), "confirmation", fallback).Info("fallback")
	if entry := decodeLine(t, &buf); entry["component"] != nil {
		t.Errorf("Fallback should be used as is, got %v", entry)
	}
	if ForComponent(context.Background(), "x", nil) == nil {
		t.Error("ForComponent() should return a no-op logger")
	}
}
