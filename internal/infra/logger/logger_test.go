package logger

import "testing"

func TestNewValidatesInput(t *testing.T) {
	if _, err := New("info", ""); err != nil {
		t.Fatalf("json logger: %v", err)
	}
	if _, err := New("debug", "console"); err != nil {
		t.Fatalf("console logger: %v", err)
	}
	if _, err := New("loud", "json"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if _, err := New("info", "xml"); err == nil {
		t.Fatalf("expected error for unknown encoding")
	}
}
