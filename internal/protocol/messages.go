package protocol

// Payload of [CmdBuild].
//
// Paths are absolute on the daemon's filesystem. File selects the recipe
// (YAML or Dockerfile) relative to Root; empty looks up the default recipe
// files in Root and falls back to the reference recipe.
type BuildRequest struct {
	Root      string   `json:"root"`
	File      string   `json:"file,omitempty"`
	Output    string   `json:"output,omitempty"`
	Tag       string   `json:"tag,omitempty"`
	Platforms []string `json:"platforms,omitempty"`
	NoCache   bool     `json:"noCache,omitempty"`
}

// Response payload of [CmdBuild].
type BuildResult struct {
	Output string       `json:"output"`
	Tag    string       `json:"tag,omitempty"`
	Images []BuildImage `json:"images"`
}

// Per-platform outcome within a [BuildResult].
type BuildImage struct {
	Platform string   `json:"platform"`
	Archive  string   `json:"archive"`
	CacheKey string   `json:"cacheKey"`
	CacheHit bool     `json:"cacheHit"`
	Phases   []string `json:"phases"`
}

// Response payload of [CmdStatus].
type StatusResult struct {
	Running bool   `json:"running"`
	Version string `json:"version"`
	Pid     int    `json:"pid"`
	Uptime  string `json:"uptime"`
	Builds  int    `json:"builds"`
	Failed  int    `json:"failed"`
}

// Payload of [CmdError].
type ErrorResult struct {
	Message string `json:"message"`
}
