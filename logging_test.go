package corerun

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevel_String(t *testing.T) {
	cases := map[Level]string{
		LevelDebug: "debug",
		LevelInfo:  "info",
		LevelWarn:  "warn",
		LevelError: "error",
		Level(99):  "unknown",
	}
	for lvl, want := range cases {
		assert.Equal(t, want, lvl.String())
	}
}

func TestDefaultLogger_FiltersBelowMin(t *testing.T) {
	l := NewDefaultLogger(LevelWarn)
	assert.False(t, l.IsEnabled(LevelDebug))
	assert.False(t, l.IsEnabled(LevelInfo))
	assert.True(t, l.IsEnabled(LevelWarn))
	assert.True(t, l.IsEnabled(LevelError))
}

func TestLogAt_NilLoggerDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		logAt(nil, LevelError, "component", "message", nil)
	})
}

func TestLogifaceLogger_RendersFieldsAndMessage(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogifaceLogger(&buf, LevelInfo)

	assert.False(t, l.IsEnabled(LevelDebug), "debug is below the configured min")
	assert.True(t, l.IsEnabled(LevelWarn))

	l.Log(Entry{
		Level:      LevelError,
		Component:  "reactor",
		ExecutorID: 7,
		Message:    "ring full",
		Err:        errors.New("boom"),
	})

	out := buf.String()
	assert.Contains(t, out, "component=reactor")
	assert.Contains(t, out, "executor=7")
	assert.Contains(t, out, "error=boom")
	assert.Contains(t, out, "ring full")
}

func TestLogifaceLogger_SuppressesBelowMin(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogifaceLogger(&buf, LevelError)

	l.Log(Entry{Level: LevelWarn, Component: "executor", Message: "should not print"})
	assert.Empty(t, buf.String())

	l.Log(Entry{Level: LevelError, Component: "executor", Message: "should print"})
	require.True(t, strings.Contains(buf.String(), "should print"))
}

func TestLogifaceLogger_NilWriterDefaultsToStderr(t *testing.T) {
	l := NewLogifaceLogger(nil, LevelError)
	assert.NotNil(t, l.out)
}
