package manifest

import (
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"testing"
)

func TestResolveModule(t *testing.T) {
	tests := []struct {
		name        string
		depName     string
		dep         Dependency
		depManifest *Manifest
		wantModule  string
		wantErr     bool
	}{
		{
			name:        "consumer override wins",
			depName:     "vectors",
			dep:         Dependency{Path: "../v", Module: "vec"},
			depManifest: &Manifest{Project: Project{Module: "vectors"}},
			wantModule:  "vec",
		},
		{
			name:        "producer module when no consumer override",
			depName:     "vectors",
			dep:         Dependency{Path: "../v"},
			depManifest: &Manifest{Project: Project{Module: "linalg"}},
			wantModule:  "linalg",
		},
		{
			name:       "name fallback when no manifest",
			depName:    "my-lib",
			dep:        Dependency{Path: "../my-lib"},
			wantModule: "my_lib",
		},
		{
			name:        "name fallback when manifest has no module",
			depName:     "my-lib",
			dep:         Dependency{Path: "../my-lib"},
			depManifest: &Manifest{Project: Project{Name: "my-lib"}},
			wantModule:  "my_lib",
		},
		{
			name:    "reserved module rejected",
			depName: "sys",
			dep:     Dependency{Path: "../sys"},
			wantErr: true,
		},
		{
			name:    "invalid override rejected",
			depName: "ok",
			dep:     Dependency{Path: "../ok", Module: "not-valid"},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mod, err := resolveModule(tc.depName, tc.dep, tc.depManifest)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got module %q", mod)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if mod != tc.wantModule {
				t.Errorf("module = %q, want %q", mod, tc.wantModule)
			}
		})
	}
}

func TestResolvePathDependencies(t *testing.T) {
	root := t.TempDir()
	app := filepath.Join(root, "app")
	writeManifest(t, app, `[project]
name = "app"

[dependencies]
shapes = { path = "../shapes" }
`)
	// shapes depends on geometry, declared relative to shapes itself.
	writeManifest(t, filepath.Join(root, "shapes"), `[project]
name = "shapes"

[modules]
path = ["src"]

[dependencies]
geometry = { path = "../geometry" }
`)
	if err := os.MkdirAll(filepath.Join(root, "geometry"), 0o755); err != nil {
		t.Fatal(err)
	}

	m, err := Load(app)
	if err != nil {
		t.Fatal(err)
	}
	deps, err := NewResolver(m).Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	var names []string
	for _, d := range deps {
		names = append(names, d.Name)
	}
	if !reflect.DeepEqual(names, []string{"geometry", "shapes"}) {
		t.Fatalf("order = %v, want dependencies first", names)
	}
	if !reflect.DeepEqual(deps[0].Paths, []string{filepath.Join(root, "geometry")}) {
		t.Errorf("geometry paths = %v", deps[0].Paths)
	}
	if !reflect.DeepEqual(deps[1].Paths, []string{filepath.Join(root, "shapes", "src")}) {
		t.Errorf("shapes paths = %v", deps[1].Paths)
	}

	lock, err := ReadLock(m.LockFilePath())
	if err != nil || lock == nil {
		t.Fatalf("lock: %v %v", lock, err)
	}
	if d := lock.FindLockedDep("shapes"); d == nil || d.Path != "../shapes" {
		t.Errorf("locked shapes = %+v", d)
	}
}

func TestResolveMissingPath(t *testing.T) {
	app := t.TempDir()
	writeManifest(t, app, "[dependencies]\nghost = { path = \"nowhere\" }\n")
	m, err := Load(app)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewResolver(m).Resolve(); err == nil {
		t.Fatal("expected an error for a missing path dependency")
	}
}

func TestResolveNoSource(t *testing.T) {
	app := t.TempDir()
	writeManifest(t, app, "[dependencies]\nempty = {}\n")
	m, err := Load(app)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewResolver(m).Resolve(); err == nil {
		t.Fatal("expected an error for a dependency without git or path")
	}
}

func git(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
}

func TestResolveGitDependency(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	root := t.TempDir()
	upstream := filepath.Join(root, "upstream")
	if err := os.MkdirAll(upstream, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(upstream, "remote_lib.py"), []byte("x = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	git(t, upstream, "init", "--quiet")
	git(t, upstream, "add", ".")
	git(t, upstream, "commit", "--quiet", "-m", "initial")
	git(t, upstream, "tag", "v1.0.0")

	app := filepath.Join(root, "app")
	writeManifest(t, app, "[dependencies]\nremote-lib = { git = \""+filepath.ToSlash(upstream)+"\", tag = \"v1.0.0\" }\n")
	m, err := Load(app)
	if err != nil {
		t.Fatal(err)
	}
	deps, err := NewResolver(m).Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(deps) != 1 || deps[0].Module != "remote_lib" {
		t.Fatalf("deps = %+v", deps)
	}
	if _, err := os.Stat(filepath.Join(deps[0].LocalPath, "remote_lib.py")); err != nil {
		t.Errorf("clone missing file: %v", err)
	}

	lock, err := ReadLock(m.LockFilePath())
	if err != nil {
		t.Fatal(err)
	}
	locked := lock.FindLockedDep("remote-lib")
	if locked == nil || locked.Tag != "v1.0.0" || len(locked.Commit) != 40 {
		t.Errorf("locked = %+v", locked)
	}

	// A second resolve reuses the clone without fetching.
	if _, err := NewResolver(m).Resolve(); err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
}
