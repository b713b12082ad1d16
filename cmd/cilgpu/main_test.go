package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cilgpu/internal/version"
)

const addProgram = `
[program]
name = "add"
kernel = "Gpu.K::Add"

[[types]]
name = "Gpu.K"

[[methods]]
type = "Gpu.K"
name = "Add"
params = ["a: int", "b: int"]
returns = "int"

  [[methods.blocks]]
  code = ["ldarg 0", "ldarg 1", "add", "ret"]
`

func writeFile(t *testing.T, path, text string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(text), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestFindManifestWalksUp(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, manifestName), "[package]\nname = \"demo\"\n[build]\nprograms = [\"k/*.cil.toml\"]\n")
	deep := filepath.Join(root, "k", "deeper")
	if err := os.MkdirAll(deep, 0o755); err != nil {
		t.Fatal(err)
	}
	path, ok, err := findManifest(deep)
	if err != nil || !ok {
		t.Fatalf("got ok=%v err=%v", ok, err)
	}
	if want := filepath.Join(root, manifestName); path != want {
		t.Fatalf("got=%q want=%q", path, want)
	}
}

func TestLoadProjectConfigValidates(t *testing.T) {
	cases := []struct{ text, want string }{
		{"[build]\nprograms = [\"a\"]\n", "missing [package]"},
		{"[package]\n[build]\nprograms = [\"a\"]\n", "missing [package].name"},
		{"[package]\nname = \"x\"\n", "missing [build].programs"},
		{"[package\n", "failed to parse TOML"},
	}
	for _, c := range cases {
		path := filepath.Join(t.TempDir(), manifestName)
		writeFile(t, path, c.text)
		_, err := loadProjectConfig(path)
		if err == nil || !strings.Contains(err.Error(), c.want) {
			t.Fatalf("%q: got err=%v want containing %q", c.text, err, c.want)
		}
	}
}

func TestManifestPrograms(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "k", "b.cil.toml"), addProgram)
	writeFile(t, filepath.Join(root, "k", "a.cil.toml"), addProgram)
	m := &projectManifest{
		Path: filepath.Join(root, manifestName),
		Root: root,
		Config: projectConfig{Build: buildConfig{
			Programs: []string{"k/*.cil.toml", "k/a.cil.toml"},
		}},
	}
	got, err := m.programs()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{filepath.Join(root, "k", "a.cil.toml"), filepath.Join(root, "k", "b.cil.toml")}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("got=%v want=%v", got, want)
	}

	m.Config.Build.Programs = []string{"none/*.toml"}
	if _, err := m.programs(); err == nil || !strings.Contains(err.Error(), "matches nothing") {
		t.Fatalf("got err=%v", err)
	}
	if got := m.resolvePath("cache"); got != filepath.Join(root, "cache") {
		t.Fatalf("got resolved=%q", got)
	}
	if got := m.resolvePath("/abs/llc"); got != "/abs/llc" {
		t.Fatalf("got resolved=%q", got)
	}
}

func TestReadSwitch(t *testing.T) {
	cases := []struct {
		in   string
		want switchMode
	}{
		{"", modeAuto},
		{"AUTO", modeAuto},
		{" on ", modeOn},
		{"off", modeOff},
	}
	for _, c := range cases {
		got, err := readSwitch("ui", c.in)
		if err != nil || got != c.want {
			t.Fatalf("%q: got=%q err=%v want=%q", c.in, got, err, c.want)
		}
	}
	if _, err := readSwitch("color", "sometimes"); err == nil || !strings.Contains(err.Error(), "--color") {
		t.Fatalf("got err=%v", err)
	}
	if !modeOn.enabled(os.Stdout) || modeOff.enabled(os.Stdout) {
		t.Fatal("explicit modes ignored")
	}
}

func TestVersionJSON(t *testing.T) {
	var buf bytes.Buffer
	saved := version.Version
	version.Version = "1.2.3"
	defer func() { version.Version = saved }()
	report := buildVersionReport(versionSections{hash: true, target: true})
	if err := writeVersionJSON(&buf, report); err != nil {
		t.Fatal(err)
	}
	var payload versionReport
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Tool != "cilgpu" || payload.Version != "1.2.3" || payload.GitCommit != "unknown" {
		t.Fatalf("got payload=%+v", payload)
	}
	if payload.Triple != "nvptx64-nvidia-cuda" || len(payload.Builtins) != 12 {
		t.Fatalf("got triple=%q builtins=%d", payload.Triple, len(payload.Builtins))
	}
}

func TestBuildAndInspectCommands(t *testing.T) {
	dir := t.TempDir()
	prog := filepath.Join(dir, "add.cil.toml")
	writeFile(t, prog, addProgram)
	out := filepath.Join(dir, "out")

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs([]string{"--color", "off", "build", "--llvm-only", "--emit-llvm", "--ui", "off", "--out", out, prog})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("build: %v\n%s", err, buf.String())
	}
	if !strings.Contains(buf.String(), "built add: kernel @nn_") {
		t.Fatalf("got output:\n%s", buf.String())
	}
	ll, err := os.ReadFile(filepath.Join(out, "add.ll"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(ll), "add i32") {
		t.Fatalf("got ll:\n%s", ll)
	}

	buf.Reset()
	rootCmd.SetArgs([]string{"inspect", "--stage", "levels", prog})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("inspect: %v\n%s", err, buf.String())
	}
	for _, want := range []string{"program add, kernel System.Int32 Gpu.K::Add(System.Int32,System.Int32)", "bb0 [Add]", "ldarg 1"} {
		if !strings.Contains(buf.String(), want) {
			t.Fatalf("inspect output misses %q:\n%s", want, buf.String())
		}
	}
}
