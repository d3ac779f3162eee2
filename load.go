package devinfo

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FixtureOptions configures ParseFixtureWithOptions behavior.
type FixtureOptions struct {
	// Strict rejects keys that do not map to a fixture field.
	Strict bool
}

// ParseFixture parses a YAML fixture.
func ParseFixture(data []byte) (*Fixture, error) {
	return ParseFixtureWithOptions(data, FixtureOptions{})
}

// ParseFixtureWithOptions parses a YAML fixture with custom options.
func ParseFixtureWithOptions(data []byte, opts FixtureOptions) (*Fixture, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(opts.Strict)

	var f Fixture
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("YAML parse error: %w", err)
	}
	if opts.Strict {
		var doc yaml.Node
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("YAML parse error: %w", err)
		}
		if err := checkPropertyKeys(&doc); err != nil {
			return nil, fmt.Errorf("YAML parse error: %w", err)
		}
	}
	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("invalid fixture: %w", err)
	}
	return &f, nil
}

var propertyKeys = map[string]bool{"name": true, "type": true, "value": true, "count": true}

// checkPropertyKeys rejects unknown keys in property entries. Properties
// decode through PropSpec.UnmarshalYAML, which KnownFields does not reach.
func checkPropertyKeys(n *yaml.Node) error {
	switch n.Kind {
	case yaml.DocumentNode, yaml.SequenceNode:
		for _, c := range n.Content {
			if err := checkPropertyKeys(c); err != nil {
				return err
			}
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, val := n.Content[i], n.Content[i+1]
			if key.Value != "properties" || val.Kind != yaml.SequenceNode {
				if err := checkPropertyKeys(val); err != nil {
					return err
				}
				continue
			}
			for _, prop := range val.Content {
				if prop.Kind != yaml.MappingNode {
					continue
				}
				for j := 0; j+1 < len(prop.Content); j += 2 {
					if k := prop.Content[j]; !propertyKeys[k.Value] {
						return fmt.Errorf("line %d: field %s not found in property", k.Line, k.Value)
					}
				}
			}
		}
	}
	return nil
}

// LoadFixture reads and parses a fixture file.
//
// Example:
//
//	f, err := devinfo.LoadFixture("testdata/tree.yaml")
//	snap, err := devinfo.Acquire(devinfo.NewFixtureProvider(f), "/", devinfo.CopyAll)
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	f, err := ParseFixture(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return f, nil
}

// LoadFixtureFS reads and parses a fixture from an fs.FS (e.g., embed.FS).
func LoadFixtureFS(fsys fs.FS, name string) (*Fixture, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	f, err := ParseFixture(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}
	return f, nil
}

// LoadFixtureDirOptions configures LoadFixtureDir behavior.
type LoadFixtureDirOptions struct {
	// Extensions filters files by extension. If empty, ".yaml" and ".yml"
	// are loaded.
	Extensions []string

	// OnError is called for each file that fails to read or parse.
	// If nil, the first failure aborts the load.
	OnError func(path string, err error)
}

// LoadFixtureDir loads every fixture in dir, keyed by file name without
// extension. Subdirectories are not walked.
func LoadFixtureDir(dir string, opts LoadFixtureDirOptions) (map[string]*Fixture, error) {
	exts := opts.Extensions
	if len(exts) == 0 {
		exts = []string{".yaml", ".yml"}
	}
	extSet := make(map[string]bool, len(exts))
	for _, ext := range exts {
		extSet[ext] = true
	}

	out := make(map[string]*Fixture)
	walkFn := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir {
				return fs.SkipDir
			}
			return nil
		}
		ext := filepath.Ext(path)
		if !extSet[ext] {
			return nil
		}

		f, err := LoadFixture(path)
		if err != nil {
			if opts.OnError == nil {
				return err
			}
			opts.OnError(path, err)
			return nil
		}
		out[strings.TrimSuffix(d.Name(), ext)] = f
		return nil
	}

	if err := filepath.WalkDir(dir, walkFn); err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}
	return out, nil
}

// MustLoadFixture is like LoadFixture but panics on error.
// Useful for tests.
func MustLoadFixture(path string) *Fixture {
	f, err := LoadFixture(path)
	if err != nil {
		panic(fmt.Sprintf("devinfo.MustLoadFixture: %v", err))
	}
	return f
}
