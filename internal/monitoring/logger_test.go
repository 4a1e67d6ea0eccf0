package monitoring

import "testing"

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got string
	SetLogger(func(format string, v ...interface{}) { got = format })
	Logf("tile %d loaded", 3)
	if got != "tile %d loaded" {
		t.Errorf("custom logger saw %q", got)
	}

	// A nil logger mutes without panicking.
	got = ""
	SetLogger(nil)
	Logf("dropped")
	if got != "" {
		t.Error("muted logger still forwarded a message")
	}
}

func TestLogfDefault(t *testing.T) {
	if Logf == nil {
		t.Fatal("Logf must never be nil")
	}
}
