package internal

import (
	"strings"
	"testing"
)

func setLinkVars(t *testing.T, v, s, c string) {
	t.Helper()
	oldV, oldS, oldC := version, stage, gitCommit
	version, stage, gitCommit = v, s, c
	t.Cleanup(func() { version, stage, gitCommit = oldV, oldS, oldC })
}

func TestVersionStringLocal(t *testing.T) {
	setLinkVars(t, "1.0.0", "", "abc123")
	if got := VersionString(); got != localBuild {
		t.Fatalf("VersionString() = %q, want %q", got, localBuild)
	}
}

func TestVersionStringMain(t *testing.T) {
	setLinkVars(t, "V1.2.3", "Main", "abc123")
	got := VersionString()
	if !strings.HasPrefix(got, "1.2.3 abc123 [") {
		t.Fatalf("VersionString() = %q, want prefix %q", got, "1.2.3 abc123 [")
	}
}

func TestVersionStringStage(t *testing.T) {
	setLinkVars(t, "1.2.3", "staging", "abc123")
	got := VersionString()
	if !strings.HasPrefix(got, "1.2.3+staging abc123 [") {
		t.Fatalf("VersionString() = %q, want staging suffix", got)
	}
}

func TestModes(t *testing.T) {
	SetDebug(true)
	defer SetDebug(false)
	if !IsDebug() {
		t.Fatal("IsDebug() = false after SetDebug(true)")
	}
	if IsQuiet() {
		t.Fatal("quiet mode enabled unexpectedly")
	}
}
