package recipe

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	r := Default()
	if err := r.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if r.Base != "mysterysd/wzmlx:latest" {
		t.Fatalf("Base = %q", r.Base)
	}
	if r.Workdir.Path != "/usr/src/app" || r.Workdir.Mode != 0o777 {
		t.Fatalf("Workdir = %+v", r.Workdir)
	}
	if !reflect.DeepEqual(r.Entrypoint, []string{"bash", "start.sh"}) {
		t.Fatalf("Entrypoint = %v", r.Entrypoint)
	}
	if !strings.Contains(r.Install, "--no-cache-dir") {
		t.Fatalf("Install = %q, want --no-cache-dir", r.Install)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Recipe)
	}{
		{"empty base", func(r *Recipe) { r.Base = "" }},
		{"bad base", func(r *Recipe) { r.Base = "Not A Ref" }},
		{"relative workdir", func(r *Recipe) { r.Workdir.Path = "usr/src/app" }},
		{"mode out of range", func(r *Recipe) { r.Workdir.Mode = 0o4777 }},
		{"writable outside workdir", func(r *Recipe) { r.Workdir.Writable = []string{"/etc"} }},
		{"writable escapes workdir", func(r *Recipe) { r.Workdir.Writable = []string{"../x"} }},
		{"empty manifest", func(r *Recipe) { r.Manifest = "" }},
		{"absolute manifest", func(r *Recipe) { r.Manifest = "/requirements.txt" }},
		{"manifest escapes context", func(r *Recipe) { r.Manifest = "../requirements.txt" }},
		{"source escapes context", func(r *Recipe) { r.Source = ".." }},
		{"empty install", func(r *Recipe) { r.Install = "  " }},
		{"empty shell", func(r *Recipe) { r.Shell = "" }},
		{"empty entrypoint", func(r *Recipe) { r.Entrypoint = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Default()
			tt.mutate(r)
			if err := r.Validate(); !errors.Is(err, ErrInvalidRecipe) {
				t.Fatalf("Validate() = %v, want ErrInvalidRecipe", err)
			}
		})
	}
}

func TestWritablePaths(t *testing.T) {
	r := Default()

	got, err := r.WritablePaths()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"/usr/src/app"}) {
		t.Fatalf("WritablePaths() = %v, want [/usr/src/app]", got)
	}

	r.Workdir.Writable = []string{"downloads", "/usr/src/app/cache/"}
	got, err = r.WritablePaths()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"/usr/src/app/downloads", "/usr/src/app/cache"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("WritablePaths() = %v, want %v", got, want)
	}
}

func TestParseFileMode(t *testing.T) {
	tests := []struct {
		in      string
		want    FileMode
		wantErr bool
	}{
		{in: "777", want: 0o777},
		{in: "0777", want: 0o777},
		{in: "0o755", want: 0o755},
		{in: "0", want: 0},
		{in: "888", wantErr: true},
		{in: "17777", wantErr: true},
		{in: "rwx", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFileMode(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseFileMode(%q) = %v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("ParseFileMode(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseKeepsDefaults(t *testing.T) {
	r, err := Parse([]byte("workdir:\n  mode: 0770\n  writable: [downloads]\nenv:\n  TZ: UTC\n"))
	if err != nil {
		t.Fatal(err)
	}
	if r.Workdir.Mode != 0o770 {
		t.Fatalf("Mode = %s, want 0770", r.Workdir.Mode)
	}
	if r.Workdir.Path != DefaultWorkdir {
		t.Fatalf("Path = %q, want default", r.Workdir.Path)
	}
	if r.Base != DefaultBase || r.Manifest != DefaultManifest {
		t.Fatalf("defaults lost: %+v", r)
	}
	if got := r.Environ(); !reflect.DeepEqual(got, []string{"TZ=UTC"}) {
		t.Fatalf("Environ() = %v", got)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	if _, err := Parse([]byte("entrypoint: []\n")); !errors.Is(err, ErrInvalidRecipe) {
		t.Fatalf("Parse() = %v, want ErrInvalidRecipe", err)
	}
	if _, err := Parse([]byte("workdir: [")); !errors.Is(err, ErrInvalidRecipe) {
		t.Fatalf("Parse() = %v, want ErrInvalidRecipe", err)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	r := Default()
	r.Env = map[string]string{"A": "1"}

	data, err := r.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `mode: "0777"`) {
		t.Fatalf("mode not encoded as octal string:\n%s", data)
	}

	back, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(back, r) {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", back, r)
	}
}

func TestManifestPath(t *testing.T) {
	r := Default()
	r.Manifest = "deps/requirements.txt"
	if got := r.ManifestPath(); got != "/usr/src/app/requirements.txt" {
		t.Fatalf("ManifestPath() = %q", got)
	}
}
