package paths

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestSocketUnderRuntime(t *testing.T) {
	if filepath.Dir(Socket()) != Runtime() {
		t.Fatalf("Socket() = %q, not under %q", Socket(), Runtime())
	}
	if filepath.Dir(PIDFile()) != Runtime() {
		t.Fatalf("PIDFile() = %q, not under %q", PIDFile(), Runtime())
	}
}

func TestRuntimeNamed(t *testing.T) {
	if !strings.Contains(Runtime(), appName) {
		t.Fatalf("Runtime() = %q, want it to contain %q", Runtime(), appName)
	}
}

func TestOutput(t *testing.T) {
	if got := Output("/src"); got != "/src/.imgforge" {
		t.Fatalf("Output(/src) = %q, want /src/.imgforge", got)
	}
}
