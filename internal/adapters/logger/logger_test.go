package logger_test

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.sykli.dev/core/internal/adapters/logger"
	"go.trai.ch/zerr"
)

// newTestLogger creates a logger with an injected bytes.Buffer for isolated testing.
func newTestLogger(t *testing.T) (*logger.Logger, *bytes.Buffer) {
	t.Helper()

	buf := &bytes.Buffer{}
	lg := logger.New().(*logger.Logger)
	lg.SetOutput(buf)
	return lg, buf
}

func TestLogger_Info(t *testing.T) {
	tests := []struct {
		name string
		msg  string
	}{
		{name: "simple message", msg: "some message"},
		{name: "empty message", msg: ""},
		{name: "multiline message", msg: "line1\nline2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lg, buf := newTestLogger(t)
			lg.Info(tt.msg)

			assert.Contains(t, buf.String(), "✓")
			assert.Contains(t, buf.String(), tt.msg)
		})
	}
}

func TestLogger_Warn(t *testing.T) {
	lg, buf := newTestLogger(t)
	lg.Warn("some warning")

	assert.Contains(t, buf.String(), "!")
	assert.Contains(t, buf.String(), "some warning")
}

func TestLogger_Error(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "simple error", err: os.ErrPermission},
		{name: "not found error", err: os.ErrNotExist},
		{name: "multiline error", err: errors.New("yaml: unmarshal errors:\n  line 30: cannot unmarshal")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lg, buf := newTestLogger(t)
			lg.Error(tt.err)

			assert.Contains(t, buf.String(), "✗")
			assert.Contains(t, buf.String(), "Error:")
		})
	}
}

func TestLogger_Error_ZerrChain(t *testing.T) {
	err := zerr.Wrap(
		zerr.Wrap(
			errors.New("database connection failed"),
			"failed to load user data",
		),
		"failed to process request",
	)

	lg, buf := newTestLogger(t)
	lg.Error(err)

	output := buf.String()
	assert.Contains(t, output, "Error: failed to process request")
	assert.Contains(t, output, "Caused by:")
	assert.Contains(t, output, "failed to load user data")
	assert.Contains(t, output, "database connection failed")
}

func TestLogger_Error_StdlibChain(t *testing.T) {
	// Standard errors using fmt.Errorf don't support chain traversal like zerr.
	innerErr := errors.New("connection refused")
	middleErr := fmt.Errorf("failed to connect to database: %w", innerErr)
	outerErr := fmt.Errorf("failed to initialize service: %w", middleErr)

	lg, buf := newTestLogger(t)
	lg.Error(outerErr)

	assert.Contains(t, buf.String(), "failed to initialize service")
	assert.Contains(t, buf.String(), "connection refused")
}

func TestLogger_Error_WithMetadata(t *testing.T) {
	err := zerr.With(
		zerr.With(
			zerr.New("task definition is empty"),
			"project", "cli",
		),
		"task", "try",
	)

	lg, buf := newTestLogger(t)
	lg.Error(err)

	output := buf.String()
	assert.Contains(t, output, "task definition is empty")
	assert.Contains(t, output, "project: cli")
	assert.Contains(t, output, "task: try")
}

func TestLogger_Error_Nil(t *testing.T) {
	lg, buf := newTestLogger(t)
	lg.Error(nil)

	assert.Empty(t, buf.String(), "Expected no output for nil error")
}

func TestLogger_SetJSON(t *testing.T) {
	tests := []struct {
		name     string
		jsonMode bool
	}{
		{name: "JSON mode enabled", jsonMode: true},
		{name: "JSON mode disabled", jsonMode: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lg, buf := newTestLogger(t)
			lg.SetJSON(tt.jsonMode)
			lg.Error(errors.New("test error message"))

			output := buf.String()
			if tt.jsonMode {
				assert.Contains(t, output, `"error"`, "JSON output should contain error field")
				assert.Contains(t, output, `"level":"ERROR"`, "JSON output should contain level field")
				assert.NotContains(t, output, "✗", "JSON format should not have pretty markers")
			} else {
				assert.Contains(t, output, "✗")
				assert.Contains(t, output, "test error message")
			}
		})
	}
}

func TestLogger_SetJSON_WithErrorChain(t *testing.T) {
	innerErr := errors.New("database connection failed")
	middleErr := zerr.Wrap(innerErr, "failed to load user data")
	outerErr := zerr.With(middleErr, "user_id", "12345")

	lg, buf := newTestLogger(t)
	lg.SetJSON(true)
	lg.Error(outerErr)

	output := buf.String()
	assert.Contains(t, output, `"error"`, "JSON should contain error field")
	assert.Contains(t, output, `"level":"ERROR"`, "JSON should contain level field")
	assert.Contains(t, output, "failed to load user data", "JSON should contain error message")
	assert.NotContains(t, output, "✗", "JSON format should not have pretty markers")
}

func TestLogger_FormatSwitching(t *testing.T) {
	lg, buf := newTestLogger(t)

	lg.Error(errors.New("error in pretty mode"))
	prettyOutput := buf.String()
	buf.Reset()

	lg.SetJSON(true)
	lg.Error(errors.New("error in json mode"))
	jsonOutput := buf.String()
	buf.Reset()

	lg.SetJSON(false)
	lg.Error(errors.New("error back in pretty mode"))
	backToPrettyOutput := buf.String()

	assert.Contains(t, prettyOutput, "✗", "Pretty format should have error icon")
	assert.NotContains(t, prettyOutput, `"error"`, "Pretty format should not have JSON markers")

	assert.Contains(t, jsonOutput, `"error"`, "JSON format should have error field")
	assert.NotContains(t, jsonOutput, "✗", "JSON format should not have pretty markers")

	assert.Contains(t, backToPrettyOutput, "✗", "After switch back should have error icon")
	assert.NotContains(t, backToPrettyOutput, `"error"`, "After switch back should not have JSON markers")
}

func TestLogger_SetOutput(t *testing.T) {
	tests := []struct {
		name   string
		writer *bytes.Buffer
	}{
		{name: "valid buffer", writer: &bytes.Buffer{}},
		{name: "nil writer defaults to stderr", writer: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NotPanics(t, func() {
				lg := logger.New().(*logger.Logger)
				lg.SetOutput(tt.writer)
			})
		})
	}
}

func TestLogger_New(t *testing.T) {
	lg := logger.New()
	require.NotNil(t, lg, "New() should return a non-nil logger")
}

func TestLogger_ConcurrentAccess(t *testing.T) {
	lg, _ := newTestLogger(t)

	done := make(chan bool, 6)

	go func() {
		lg.Info("concurrent info")
		done <- true
	}()
	go func() {
		lg.Warn("concurrent warn")
		done <- true
	}()
	go func() {
		lg.Error(errors.New("concurrent error"))
		done <- true
	}()
	go func() {
		lg.SetJSON(true)
		done <- true
	}()
	go func() {
		lg.SetJSON(false)
		done <- true
	}()
	go func() {
		buf := &bytes.Buffer{}
		lg.SetOutput(buf)
		done <- true
	}()

	for i := 0; i < 6; i++ {
		<-done
	}
}
