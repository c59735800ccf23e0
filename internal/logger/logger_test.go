package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferLoggerCapturesLevels(t *testing.T) {
	l := NewBufferLogger()
	l.Debug("debug %d", 1)
	l.Info("info")
	l.Warn("warn")
	l.Error("error")

	assert.Len(t, l.Messages, 4)
	assert.True(t, l.HasLevel("debug"))
	assert.True(t, l.HasLevel("error"))
	assert.False(t, l.HasLevel("fatal"))
	assert.Equal(t, "debug 1", l.Messages[0].Message)
}

func TestBufferLoggerContains(t *testing.T) {
	l := NewBufferLogger()
	l.Info("connecting to %s", "example.com")
	assert.True(t, l.Contains("example.com"))
	assert.False(t, l.Contains("other.host"))
}

func TestBufferLoggerClear(t *testing.T) {
	l := NewBufferLogger()
	l.Info("something")
	l.Clear()
	assert.Empty(t, l.Messages)
}

func TestNoopDiscards(t *testing.T) {
	l := Noop()
	l.Debug("a")
	l.Info("b")
	l.Warn("c")
	l.Error("d")
}
