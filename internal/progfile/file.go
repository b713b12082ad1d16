package progfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileExt is the suffix of program description files.
const FileExt = ".cil.toml"

// File is the decoded form of a program description.
type File struct {
	Program ProgramSection `toml:"program"`
	Types   []TypeDecl     `toml:"types"`
	Methods []MethodDecl   `toml:"methods"`
}

// ProgramSection names the kernel and the closed types it runs with.
type ProgramSection struct {
	Name     string   `toml:"name"`
	Kernel   string   `toml:"kernel"`
	Concrete []string `toml:"concrete"`
}

// TypeDecl declares a class or struct, optionally generic.
type TypeDecl struct {
	Name    string      `toml:"name"`
	Kind    string      `toml:"kind"`
	Generic []string    `toml:"generic"`
	Fields  []FieldDecl `toml:"fields"`
}

type FieldDecl struct {
	Name   string `toml:"name"`
	Type   string `toml:"type"`
	Static bool   `toml:"static"`
}

// MethodDecl is one method body split into basic blocks. Blocks[0] is the
// entry; Next lists successor indices, taken branch first.
type MethodDecl struct {
	Type      string      `toml:"type"`
	Name      string      `toml:"name"`
	This      bool        `toml:"this"`
	Params    []string    `toml:"params"`
	Returns   string      `toml:"returns"`
	Locals    []string    `toml:"locals"`
	Intrinsic string      `toml:"intrinsic"`
	Blocks    []BlockDecl `toml:"blocks"`
}

type BlockDecl struct {
	Label string   `toml:"label"`
	Code  []string `toml:"code"`
	Next  []int    `toml:"next"`
}

// Load decodes and validates the description at path.
func Load(path string) (*File, error) {
	var f File
	meta, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if err := f.validate(path, meta); err != nil {
		return nil, err
	}
	return &f, nil
}

// Parse is Load for in-memory text; name is only used in errors.
func Parse(name, data string) (*File, error) {
	var f File
	meta, err := toml.Decode(data, &f)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", name, err)
	}
	if err := f.validate(name, meta); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate(path string, meta toml.MetaData) error {
	if !meta.IsDefined("program") {
		return fmt.Errorf("%s: missing [program] section", path)
	}
	if !meta.IsDefined("program", "kernel") || strings.TrimSpace(f.Program.Kernel) == "" {
		return fmt.Errorf("%s: missing [program].kernel", path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if f.Program.Name == "" {
		base := filepath.Base(path)
		f.Program.Name = strings.TrimSuffix(strings.TrimSuffix(base, FileExt), filepath.Ext(base))
	}
	for i, td := range f.Types {
		if td.Name == "" {
			return fmt.Errorf("%s: types[%d]: missing name", path, i)
		}
		switch td.Kind {
		case "", "class", "struct":
		default:
			return fmt.Errorf("%s: type %s: unknown kind %q", path, td.Name, td.Kind)
		}
	}
	for i, md := range f.Methods {
		if md.Type == "" || md.Name == "" {
			return fmt.Errorf("%s: methods[%d]: type and name are required", path, i)
		}
		if md.Intrinsic != "" && len(md.Blocks) > 0 {
			return fmt.Errorf("%s: method %s::%s: intrinsic methods have no body", path, md.Type, md.Name)
		}
	}
	return nil
}

// Find walks up from start looking for the first *.cil.toml file in each
// directory. It returns ok=false when none is found before the root.
func Find(start string) (string, bool, error) {
	dir := start
	for {
		entries, err := os.ReadDir(dir)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", false, err
		}
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), FileExt) {
				return filepath.Join(dir, e.Name()), true, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false, nil
		}
		dir = parent
	}
}
