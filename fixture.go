package devinfo

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"
)

// Fixture is a device tree plus a devlink namespace described in YAML.
//
//	root:
//	  name: root
//	  children:
//	    - name: disk
//	      addr: "1"
//	      driver: sd
//	      instance: 0
//	      properties:
//	        - {name: reg, type: int, value: [1, 2, 3]}
//	        - {name: model, type: string, value: QEMU}
//	      minors:
//	        - {name: a, nodetype: ddi_block, spectype: block}
//	links:
//	  - {path: /dev/dsk/c0t1d0s0, content: ../../devices/disk@1:a, type: primary}
type Fixture struct {
	Root  *NodeSpec  `yaml:"root"`
	Links []LinkSpec `yaml:"links,omitempty"`
}

// LinkSpec describes one devlink of a fixture namespace.
type LinkSpec struct {
	Path    string   `yaml:"path"`
	Content string   `yaml:"content"`
	Type    LinkType `yaml:"type"`
}

// UnmarshalYAML reads a property in the form
// {name, type, value, count}. type defaults to boolean. value may be a
// scalar or a sequence. A
// negative count records a provider failure and excludes value.
func (p *PropSpec) UnmarshalYAML(n *yaml.Node) error {
	var raw struct {
		Name  string    `yaml:"name"`
		Type  PropType  `yaml:"type"`
		Value yaml.Node `yaml:"value"`
		Count *int32    `yaml:"count"`
	}
	if err := n.Decode(&raw); err != nil {
		return err
	}
	if raw.Name == "" {
		return fmt.Errorf("line %d: property without name", n.Line)
	}
	if raw.Count != nil {
		if *raw.Count >= 0 {
			return fmt.Errorf("line %d: property %s: count only records failures and must be negative", n.Line, raw.Name)
		}
		if !raw.Value.IsZero() {
			return fmt.Errorf("line %d: property %s: failed property cannot carry a value", n.Line, raw.Name)
		}
		*p = FailedProp(raw.Name, raw.Type, *raw.Count)
		return nil
	}

	var err error
	switch raw.Type {
	case PropBoolean:
		if !raw.Value.IsZero() {
			err = errors.New("boolean property cannot carry a value")
			break
		}
		*p = BoolProp(raw.Name)
	case PropInt:
		var vals []int32
		if vals, err = decodeList[int32](&raw.Value); err == nil {
			*p = IntProp(raw.Name, vals...)
		}
	case PropInt64:
		var vals []int64
		if vals, err = decodeList[int64](&raw.Value); err == nil {
			*p = Int64Prop(raw.Name, vals...)
		}
	case PropString:
		var vals []string
		if vals, err = decodeList[string](&raw.Value); err == nil {
			*p = StringProp(raw.Name, vals...)
		}
	case PropByte:
		var vals []byte
		if vals, err = decodeBytes(&raw.Value); err == nil {
			*p = ByteProp(raw.Name, vals)
		}
	case PropUnknown, PropUndefined:
		var vals []byte
		if vals, err = decodeBytes(&raw.Value); err == nil {
			*p = OpaqueProp(raw.Name, raw.Type, vals)
		}
	default:
		err = fmt.Errorf("unsupported type %s", raw.Type)
	}
	if err != nil {
		return fmt.Errorf("line %d: property %s: %w", n.Line, raw.Name, err)
	}
	return nil
}

// decodeList accepts a scalar or a sequence of T. An absent value is an
// empty list.
func decodeList[T any](n *yaml.Node) ([]T, error) {
	switch n.Kind {
	case 0:
		return nil, nil
	case yaml.ScalarNode:
		var v T
		if err := n.Decode(&v); err != nil {
			return nil, err
		}
		return []T{v}, nil
	default:
		var vs []T
		if err := n.Decode(&vs); err != nil {
			return nil, err
		}
		return vs, nil
	}
}

// decodeBytes accepts a sequence of integers 0-255 or a scalar. Scalars
// of dot or colon separated hex pairs ("00.14.4f") decode as bytes, any
// other scalar is taken as literal text.
func decodeBytes(n *yaml.Node) ([]byte, error) {
	if n.Kind == yaml.ScalarNode {
		if b, ok := parseHexPairs(n.Value); ok {
			return b, nil
		}
		return []byte(n.Value), nil
	}
	ints, err := decodeList[int](n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > math.MaxUint8 {
			return nil, fmt.Errorf("byte value %d out of range", v)
		}
		out[i] = byte(v)
	}
	return out, nil
}

func parseHexPairs(s string) ([]byte, bool) {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '.' || r == ':' })
	if len(parts) < 2 {
		return nil, false
	}
	out := make([]byte, len(parts))
	for i, part := range parts {
		if len(part) != 2 {
			return nil, false
		}
		v, err := strconv.ParseUint(part, 16, 8)
		if err != nil {
			return nil, false
		}
		out[i] = byte(v)
	}
	return out, true
}

// UnmarshalYAML accepts a type name as printed by PropType.String.
func (t *PropType) UnmarshalYAML(n *yaml.Node) error {
	pt, ok := ParsePropType(n.Value)
	if !ok {
		return fmt.Errorf("line %d: unknown property type %q", n.Line, n.Value)
	}
	*t = pt
	return nil
}

// UnmarshalYAML accepts "char" or "block".
func (t *SpecType) UnmarshalYAML(n *yaml.Node) error {
	switch n.Value {
	case "char":
		*t = SpecChar
	case "block":
		*t = SpecBlock
	default:
		return fmt.Errorf("line %d: unknown spectype %q", n.Line, n.Value)
	}
	return nil
}

// UnmarshalYAML accepts "primary" or "secondary".
func (t *LinkType) UnmarshalYAML(n *yaml.Node) error {
	switch n.Value {
	case "primary":
		*t = LinkTypePrimary
	case "secondary":
		*t = LinkTypeSecondary
	default:
		return fmt.Errorf("line %d: unknown link type %q", n.Line, n.Value)
	}
	return nil
}

var errNoRoot = errors.New("fixture has no root node")

// validate checks the parts of a fixture the YAML decoder cannot.
func (f *Fixture) validate() error {
	if f.Root == nil {
		return errNoRoot
	}
	if err := validateNodeSpec(f.Root, "/"); err != nil {
		return err
	}
	for i, l := range f.Links {
		if l.Path == "" {
			return fmt.Errorf("link %d: empty path", i)
		}
		if l.Type != LinkTypePrimary && l.Type != LinkTypeSecondary {
			return fmt.Errorf("link %s: missing type", l.Path)
		}
	}
	return nil
}

func validateNodeSpec(n *NodeSpec, path string) error {
	seen := make(map[string]bool, len(n.Children))
	for _, c := range n.Children {
		if c == nil || c.Name == "" {
			return fmt.Errorf("node %s: child without name", path)
		}
		comp := c.Component()
		if seen[comp] {
			return fmt.Errorf("node %s: duplicate child %s", path, comp)
		}
		seen[comp] = true
		if err := validateNodeSpec(c, joinPath(path, comp)); err != nil {
			return err
		}
	}
	return nil
}

// FixtureProvider serves snapshots and devlinks from a Fixture. It
// implements both Provider and LinkProvider and is safe for concurrent
// use, since it never mutates the fixture.
type FixtureProvider struct {
	fixture *Fixture
}

// NewFixtureProvider returns a provider backed by f.
func NewFixtureProvider(f *Fixture) *FixtureProvider {
	return &FixtureProvider{fixture: f}
}

// Snapshot encodes the subtree at root. An unknown root fails with
// ErrNotFound and ENXIO, as the kernel does for a bad path.
func (p *FixtureProvider) Snapshot(root string, flags Flags) (Image, error) {
	n := p.fixture.Root.Find(root)
	if n == nil {
		return nil, &AcquireError{Root: root, Flags: flags, Code: unix.ENXIO, Err: ErrNotFound}
	}
	buf, err := EncodeImage(n, flags)
	if err != nil {
		return nil, &AcquireError{Root: root, Flags: flags, Code: unix.ENOMEM, Err: err}
	}
	return NewImage(buf, nil), nil
}

// OpenLinks opens the fixture's link list. Every namespace name maps to
// the same list.
func (p *FixtureProvider) OpenLinks(namespace string, flags LinkOpenFlags) (LinkSource, error) {
	return &fixtureLinks{links: p.fixture.Links}, nil
}

type fixtureLinks struct {
	links  []LinkSpec
	closed bool
}

// Walk matches pattern against the link path relative to /dev, so
// "^dsk/" selects /dev/dsk/*.
func (l *fixtureLinks) Walk(pattern *regexp.Regexp, minorPath string, flags LinkFlags, fn func(Devlink) WalkDirective) error {
	if l.closed {
		return ErrClosed
	}
	for _, spec := range l.links {
		if !flags.Matches(spec.Type) {
			continue
		}
		if pattern != nil && !pattern.MatchString(strings.TrimPrefix(spec.Path, "/dev/")) {
			continue
		}
		if minorPath != "" {
			if mp, ok := MinorPathOf(spec.Content); !ok || mp != minorPath {
				continue
			}
		}
		if fn(Devlink{Path: spec.Path, Content: spec.Content, Type: spec.Type}) == WalkTerminate {
			return nil
		}
	}
	return nil
}

func (l *fixtureLinks) Close() error {
	if l.closed {
		return ErrClosed
	}
	l.closed = true
	return nil
}
