package build

// Position of a build within the phase chain.
//
// Phases are reached strictly in declaration order. Failed is terminal and
// can follow any phase before EntrypointSet.
type Phase int

const (
	Pending        Phase = iota // Nothing done yet.
	BaseSelected                // Base image pulled for the platform.
	DirReady                    // Working directory created with its mode.
	ManifestStaged              // Manifest copied into the working directory.
	ToolUpgraded                // Packaging tool upgraded.
	DepsInstalled               // Manifest dependencies installed.
	SourceCopied                // Source tree copied over the staged manifest.
	EntrypointSet               // Image exported with its entrypoint.
	Failed                      // A phase failed; nothing is exported.
)

var phaseNames = [...]string{
	Pending:        "pending",
	BaseSelected:   "base-selected",
	DirReady:       "dir-ready",
	ManifestStaged: "manifest-staged",
	ToolUpgraded:   "tool-upgraded",
	DepsInstalled:  "deps-installed",
	SourceCopied:   "source-copied",
	EntrypointSet:  "entrypoint-set",
	Failed:         "failed",
}

// Returns the phase name in lower kebab case.
func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// Returns the phase that follows p. Terminal phases return themselves.
func (p Phase) Next() Phase {
	if p.Terminal() {
		return p
	}
	return p + 1
}

// Reports whether no phase can follow p.
func (p Phase) Terminal() bool {
	return p == EntrypointSet || p == Failed
}
