package recipe

import (
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"text/template"
)

var dockerfileTemplate = template.Must(template.New("Dockerfile").Funcs(template.FuncMap{
	"json":  toJSON,
	"join":  strings.Join,
	"shell": func(s string) []string { return []string{s, "-c"} },
}).Parse(`FROM {{.Base}}
{{- if ne .Shell "/bin/sh"}}
SHELL {{json (shell .Shell)}}
{{- end}}
WORKDIR {{.Workdir.Path}}
RUN chmod {{.Mode}} {{join .Writable " "}}
{{- range .Env}}
ENV {{.}}
{{- end}}
COPY {{.Manifest}} .
{{- if .Upgrade}}
RUN {{.Upgrade}}
{{- end}}
RUN {{.Install}}
COPY {{.Source}} .
ENTRYPOINT {{json .Entrypoint}}
`))

// Template input. Derived values are computed ahead of rendering.
type dockerfileData struct {
	*Recipe
	Mode     string
	Writable []string
	Env      []string
}

// Renders the recipe as an equivalent Dockerfile.
//
// The output builds the same image with any Dockerfile builder and can be
// imported again with [ParseDockerfile].
func (r *Recipe) Dockerfile(w io.Writer) error {
	writable, err := r.WritablePaths()
	if err != nil {
		return err
	}

	env := make([]string, 0, len(r.Env))
	for _, k := range sortedKeys(r.Env) {
		env = append(env, k+"="+strconv.Quote(r.Env[k]))
	}

	return dockerfileTemplate.Execute(w, dockerfileData{
		Recipe:   r,
		Mode:     strings.TrimPrefix(r.Workdir.Mode.String(), "0"),
		Writable: writable,
		Env:      env,
	})
}

// Encodes a string list as a JSON array for the exec form.
func toJSON(v []string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
