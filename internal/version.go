package internal

import (
	"fmt"
	"runtime"
	"strings"
)

const (
	undefined  = "(undefined)" // Placeholder for a variable not set at link time.
	localBuild = "(local)"     // Version string of a build outside the pipeline.
	mainBranch = "main"        // Stage that is omitted from version strings.
)

// Set with -ldflags -X by the release pipeline.
var (
	version   = "" // Release number, e.g. "1.4.0".
	stage     = "" // Git branch the release was cut from.
	gitCommit = "" // Commit hash.

	rawQuiet   = "false"
	rawDebug   = "false"
	rawVerbose = "false"
)

// Returns the release number without a leading "v", or "(undefined)".
func Version() string {
	v := strings.ToLower(strings.TrimSpace(version))
	if v == "" {
		return undefined
	}
	return strings.TrimPrefix(v, "v")
}

// Returns the lowercased release stage, or "(undefined)".
func Stage() string {
	s := strings.ToLower(strings.TrimSpace(stage))
	if s == "" {
		return undefined
	}
	return s
}

// Returns the commit hash, or "(undefined)".
func GitCommit() string {
	c := strings.TrimSpace(gitCommit)
	if c == "" {
		return undefined
	}
	return c
}

// Returns true unless version, stage, and commit were all set at link time.
func IsLocal() bool {
	return Version() == undefined || Stage() == undefined || GitCommit() == undefined
}

// Returns "<version>[+<stage>] <commit> [<os>/<arch>]", or "(local)" for
// builds outside the release pipeline. The stage is omitted for main.
func VersionString() string {
	if IsLocal() {
		return localBuild
	}

	suffix := ""
	if s := Stage(); s != mainBranch {
		suffix = "+" + s
	}

	return fmt.Sprintf("%s%s %s [%s/%s]", Version(), suffix, GitCommit(), runtime.GOOS, runtime.GOARCH)
}
