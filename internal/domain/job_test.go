package domain

import "testing"

func TestJobStatusTerminal(t *testing.T) {
	if JobStatusPending.Terminal() || JobStatusProcessing.Terminal() {
		t.Fatal("transient states reported as terminal")
	}
	if !JobStatusDone.Terminal() || !JobStatusFailed.Terminal() {
		t.Fatal("terminal states not reported as terminal")
	}
}

func TestClipURLsScan(t *testing.T) {
	var c ClipURLs
	if err := c.Scan([]byte(`["a","b"]`)); err != nil {
		t.Fatalf("scan bytes: %v", err)
	}
	if len(c) != 2 || c[0] != "a" || c[1] != "b" {
		t.Fatalf("scanned = %v", c)
	}

	if err := c.Scan(nil); err != nil {
		t.Fatalf("scan nil: %v", err)
	}
	if c != nil {
		t.Fatalf("nil scan should clear, got %v", c)
	}

	if err := c.Scan(42); err == nil {
		t.Fatal("expected error for unsupported type")
	}
}
