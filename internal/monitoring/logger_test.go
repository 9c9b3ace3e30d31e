package monitoring

import (
	"fmt"
	"testing"
)

// capture redirects Logf for the duration of the test.
func capture(t *testing.T) *[]string {
	t.Helper()
	original := Logf
	t.Cleanup(func() { Logf = original })

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	return &lines
}

func TestSetLogger(t *testing.T) {
	lines := capture(t)
	Logf("[localization] mode=%s", "dual")
	if len(*lines) != 1 || (*lines)[0] != "[localization] mode=dual" {
		t.Fatalf("lines = %q", *lines)
	}

	SetLogger(nil)
	Logf("dropped")
	if len(*lines) != 1 {
		t.Errorf("nil logger must discard output, got %q", *lines)
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Fatal("Logf must default to a usable logger")
	}
}

func TestDebugf(t *testing.T) {
	lines := capture(t)
	t.Cleanup(func() { SetDebug(false) })

	SetDebug(false)
	Debugf("hidden")
	if len(*lines) != 0 {
		t.Fatalf("Debugf logged while disabled: %q", *lines)
	}

	SetDebug(true)
	if !DebugEnabled() {
		t.Fatal("DebugEnabled() = false after SetDebug(true)")
	}
	Debugf("shown %d", 1)
	if len(*lines) != 1 || (*lines)[0] != "shown 1" {
		t.Errorf("lines = %q, want [shown 1]", *lines)
	}
}
