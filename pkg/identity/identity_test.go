package identity

import "testing"

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path.p12", ""); err == nil {
		t.Fatal("Load: want error for missing file, got nil")
	}
}
