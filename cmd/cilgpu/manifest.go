package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

const manifestName = "cilgpu.toml"

const noManifestMessage = "no cilgpu.toml found\nplease name the programs explicitly, e.g.:\n  cilgpu build kernels/sum.cil.toml"

type projectManifest struct {
	Path   string
	Root   string
	Config projectConfig
}

type projectConfig struct {
	Package packageConfig `toml:"package"`
	Build   buildConfig   `toml:"build"`
}

type packageConfig struct {
	Name string `toml:"name"`
}

type buildConfig struct {
	Programs []string `toml:"programs"`
	Triple   string   `toml:"triple"`
	CPU      string   `toml:"cpu"`
	LLC      string   `toml:"llc"`
	CacheDir string   `toml:"cache_dir"`
	Out      string   `toml:"out"`
}

func findManifest(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, manifestName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

func loadProjectManifest(startDir string) (*projectManifest, bool, error) {
	manifestPath, ok, err := findManifest(startDir)
	if err != nil || !ok {
		return nil, ok, err
	}
	cfg, err := loadProjectConfig(manifestPath)
	if err != nil {
		return nil, true, err
	}
	return &projectManifest{
		Path:   manifestPath,
		Root:   filepath.Dir(manifestPath),
		Config: cfg,
	}, true, nil
}

func loadProjectConfig(path string) (projectConfig, error) {
	var cfg projectConfig
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return projectConfig{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if !meta.IsDefined("package") {
		return projectConfig{}, fmt.Errorf("%s: missing [package]", path)
	}
	if !meta.IsDefined("package", "name") || strings.TrimSpace(cfg.Package.Name) == "" {
		return projectConfig{}, fmt.Errorf("%s: missing [package].name", path)
	}
	if !meta.IsDefined("build", "programs") || len(cfg.Build.Programs) == 0 {
		return projectConfig{}, fmt.Errorf("%s: missing [build].programs", path)
	}
	return cfg, nil
}

// programs expands the manifest globs relative to its root. Each program
// appears once, in sorted order.
func (m *projectManifest) programs() ([]string, error) {
	var out []string
	for _, pattern := range m.Config.Build.Programs {
		full := filepath.Join(m.Root, filepath.FromSlash(pattern))
		matches, err := filepath.Glob(full)
		if err != nil {
			return nil, fmt.Errorf("%s: bad pattern %q: %w", m.Path, pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("%s: [build].programs entry %q matches nothing", m.Path, pattern)
		}
		out = append(out, matches...)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// resolvePath makes p absolute against the manifest root; empty stays empty.
func (m *projectManifest) resolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Root, filepath.FromSlash(p))
}
