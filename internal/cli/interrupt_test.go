package cli

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewInterruptHandler(t *testing.T) {
	tests := []struct {
		writer io.Writer
		name   string
	}{
		{name: "with custom writer", writer: &bytes.Buffer{}},
		{name: "with nil writer", writer: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewInterruptHandler(tt.writer)
			assert.NotNil(t, handler)
			assert.NotNil(t, handler.writer)
			assert.False(t, handler.WasInterrupted())
		})
	}
}

func TestInterruptCancelsContext(t *testing.T) {
	var out bytes.Buffer
	handler := NewInterruptHandler(&out)

	parent, stop := context.WithCancel(context.Background())
	defer stop()
	ctx := handler.HandleInterrupts(parent, "intake import --run run-1 ./statements")

	select {
	case <-ctx.Done():
		t.Fatal("context should not be canceled before an interrupt")
	default:
	}

	handler.interrupt()
	handler.interrupt()

	<-ctx.Done()
	assert.True(t, handler.WasInterrupted())
	assert.Equal(t, 1, bytes.Count(out.Bytes(), []byte("Import interrupted!")))
	assert.Contains(t, out.String(), "intake import --run run-1 ./statements")
}

func TestInterruptWithoutResumeHint(t *testing.T) {
	var out bytes.Buffer
	handler := NewInterruptHandler(&out)
	ctx := handler.HandleInterrupts(context.Background(), "")

	handler.interrupt()

	<-ctx.Done()
	assert.Contains(t, out.String(), "Import interrupted!")
	assert.NotContains(t, out.String(), "Resume with")
}

func TestParentCancelIsNotAnInterrupt(t *testing.T) {
	handler := NewInterruptHandler(&bytes.Buffer{})
	parent, cancel := context.WithCancel(context.Background())
	ctx := handler.HandleInterrupts(parent, "")

	cancel()
	<-ctx.Done()
	assert.False(t, handler.WasInterrupted())
}

func TestStopIsNotAnInterrupt(t *testing.T) {
	var out bytes.Buffer
	handler := NewInterruptHandler(&out)
	ctx := handler.HandleInterrupts(context.Background(), "intake import")

	handler.Stop()
	<-ctx.Done()
	assert.False(t, handler.WasInterrupted())
	assert.Empty(t, out.String())
}
