package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	t.Parallel()

	dev, err := New(true)
	if err != nil {
		t.Fatalf("New(true) error = %v", err)
	}
	if !dev.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("development logger should enable debug level")
	}

	prod, err := New(false)
	if err != nil {
		t.Fatalf("New(false) error = %v", err)
	}
	if prod.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("production logger should not enable debug level")
	}
}
