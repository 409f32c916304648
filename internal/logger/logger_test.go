package logger

import "testing"

func TestNewLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "WARN", " error "} {
		for _, format := range []string{"console", "json"} {
			l, err := New(level, format)
			if err != nil {
				t.Errorf("New(%q, %q) failed: %v", level, format, err)
				continue
			}
			_ = l.Sync()
		}
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New("chatty", "console"); err == nil {
		t.Error("expected error for unknown level")
	}
}
