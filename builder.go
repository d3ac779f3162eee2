package devinfo

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// NodeSpec describes one device node for EncodeImage. It is the in-memory
// form of a fixture tree and the intermediate form native providers build
// before encoding.
type NodeSpec struct {
	Name       string      `yaml:"name"`
	Addr       string      `yaml:"addr,omitempty"`
	Driver     string      `yaml:"driver,omitempty"`
	Instance   *int        `yaml:"instance,omitempty"` // nil when no instance is assigned
	DevfsPath  string      `yaml:"devfs_path,omitempty"`
	Properties []PropSpec  `yaml:"properties,omitempty"`
	Minors     []MinorSpec `yaml:"minors,omitempty"`
	Children   []*NodeSpec `yaml:"children,omitempty"`
}

// PropSpec describes one property. Payload holds the encoded form:
// little-endian int32 or int64 arrays, NUL-terminated concatenated
// strings, or raw bytes. A negative Count records a provider error code.
type PropSpec struct {
	Name    string
	Type    PropType
	Count   int32
	Payload []byte
}

// MinorSpec describes one minor node.
type MinorSpec struct {
	Name      string   `yaml:"name"`
	NodeType  string   `yaml:"nodetype"`
	SpecType  SpecType `yaml:"spectype,omitempty"`
	DevfsPath string   `yaml:"devfs_path,omitempty"`
}

// BoolProp returns a presence-only property.
func BoolProp(name string) PropSpec {
	return PropSpec{Name: name, Type: PropBoolean}
}

// IntProp returns an int32 array property.
func IntProp(name string, vals ...int32) PropSpec {
	payload := make([]byte, 0, 4*len(vals))
	for _, v := range vals {
		payload = le.AppendUint32(payload, uint32(v))
	}
	return PropSpec{Name: name, Type: PropInt, Count: int32(len(vals)), Payload: payload}
}

// Int64Prop returns an int64 array property.
func Int64Prop(name string, vals ...int64) PropSpec {
	payload := make([]byte, 0, 8*len(vals))
	for _, v := range vals {
		payload = le.AppendUint64(payload, uint64(v))
	}
	return PropSpec{Name: name, Type: PropInt64, Count: int32(len(vals)), Payload: payload}
}

// StringProp returns a string array property.
func StringProp(name string, vals ...string) PropSpec {
	var b strings.Builder
	for _, v := range vals {
		b.WriteString(v)
		b.WriteByte(0)
	}
	return PropSpec{Name: name, Type: PropString, Count: int32(len(vals)), Payload: []byte(b.String())}
}

// ByteProp returns a byte array property.
func ByteProp(name string, vals []byte) PropSpec {
	return PropSpec{Name: name, Type: PropByte, Count: int32(len(vals)), Payload: append([]byte(nil), vals...)}
}

// OpaqueProp returns a property with no typed interpretation (PropUnknown
// or PropUndefined) carrying raw bytes.
func OpaqueProp(name string, t PropType, raw []byte) PropSpec {
	return PropSpec{Name: name, Type: t, Count: int32(len(raw)), Payload: append([]byte(nil), raw...)}
}

// FailedProp returns a property whose accessor reports code, which must
// be negative.
func FailedProp(name string, t PropType, code int32) PropSpec {
	return PropSpec{Name: name, Type: t, Count: code}
}

// Component returns the devfs path component of the node: name, or
// name@addr when the node has a bus address.
func (n *NodeSpec) Component() string {
	if n.Addr == "" {
		return n.Name
	}
	return n.Name + "@" + n.Addr
}

// Find returns a copy of the node at devfs path p with DevfsPath filled
// in, or nil. The copy shares children with the original.
func (n *NodeSpec) Find(p string) *NodeSpec {
	if p == "" || p == "/" {
		cp := *n
		if cp.DevfsPath == "" {
			cp.DevfsPath = "/"
		}
		return &cp
	}
	cur := n
	curPath := ""
	for _, comp := range strings.Split(strings.Trim(p, "/"), "/") {
		var next *NodeSpec
		for _, c := range cur.Children {
			if c.Component() == comp || (c.Name == comp && c.Addr == "") {
				next = c
				break
			}
		}
		if next == nil {
			return nil
		}
		cur = next
		curPath += "/" + next.Component()
	}
	cp := *cur
	if cp.DevfsPath == "" {
		cp.DevfsPath = curPath
	}
	return &cp
}

var errImageTooLarge = errors.New("snapshot image exceeds 4 GiB")

// EncodeImage encodes the tree rooted at root as a snapshot image. Flags
// control expansion exactly as the kernel applies them: without
// FlagSubtree only the root is kept, and properties and minors are only
// included when FlagProperties and FlagMinors are set.
func EncodeImage(root *NodeSpec, flags Flags) ([]byte, error) {
	if root == nil {
		return nil, errors.New("encode image: nil root")
	}
	e := &encoder{
		flags:   flags,
		strs:    make(map[string]uint32),
		drivers: make(map[string]*driverState),
	}
	if _, err := e.emitNode(root, 0, true); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return e.finish()
}

type nodeRec struct {
	name, addr, driver uint32
	instance           int32
	parent, sibling    uint32
	child, drvNext     uint32
	firstProp          uint32
	firstMinor         uint32
	path               uint32
}

type propRec struct {
	name             uint32
	typ              PropType
	count            int32
	data, size, next uint32
}

type minorRec struct {
	name, nodeType uint32
	specType       SpecType
	path           uint32
	node, next     uint32
}

type driverState struct {
	name        uint32
	first, last uint32
}

type encoder struct {
	flags       Flags
	nodes       []nodeRec
	props       []propRec
	minors      []minorRec
	data        []byte
	strs        map[string]uint32
	drivers     map[string]*driverState
	driverOrder []string
}

// intern stores s once in the data area and returns its reference.
func (e *encoder) intern(s string) (uint32, error) {
	if s == "" {
		return 0, nil
	}
	if strings.IndexByte(s, 0) >= 0 {
		return 0, fmt.Errorf("string %q contains NUL", s)
	}
	if ref, ok := e.strs[s]; ok {
		return ref, nil
	}
	if uint64(len(e.data))+uint64(len(s))+1 >= math.MaxUint32 {
		return 0, errImageTooLarge
	}
	ref := uint32(len(e.data)) + 1
	e.data = append(e.data, s...)
	e.data = append(e.data, 0)
	e.strs[s] = ref
	return ref, nil
}

func (e *encoder) emitNode(spec *NodeSpec, parent uint32, isRoot bool) (uint32, error) {
	if spec.Name == "" && !isRoot {
		return 0, errors.New("node without name")
	}
	ref := uint32(len(e.nodes)) + 1
	e.nodes = append(e.nodes, nodeRec{parent: parent, instance: -1})

	var rec nodeRec
	rec.parent = parent
	rec.instance = -1
	if spec.Instance != nil && *spec.Instance >= 0 {
		if *spec.Instance > math.MaxInt32 {
			return 0, fmt.Errorf("node %q: instance %d out of range", spec.Name, *spec.Instance)
		}
		rec.instance = int32(*spec.Instance)
	}

	var err error
	if rec.name, err = e.intern(spec.Name); err != nil {
		return 0, err
	}
	if rec.addr, err = e.intern(spec.Addr); err != nil {
		return 0, err
	}
	if rec.driver, err = e.intern(spec.Driver); err != nil {
		return 0, err
	}
	if rec.path, err = e.intern(spec.DevfsPath); err != nil {
		return 0, err
	}

	if spec.Driver != "" {
		d, ok := e.drivers[spec.Driver]
		if !ok {
			d = &driverState{name: rec.driver, first: ref}
			e.drivers[spec.Driver] = d
			e.driverOrder = append(e.driverOrder, spec.Driver)
		} else {
			e.nodes[d.last-1].drvNext = ref
		}
		d.last = ref
	}

	if e.flags&FlagProperties != 0 {
		if rec.firstProp, err = e.emitProps(spec); err != nil {
			return 0, err
		}
	}
	if e.flags&FlagMinors != 0 {
		if rec.firstMinor, err = e.emitMinors(spec, ref); err != nil {
			return 0, err
		}
	}

	e.nodes[ref-1] = rec

	if isRoot && e.flags&FlagSubtree == 0 {
		return ref, nil
	}

	var prev uint32
	for _, child := range spec.Children {
		if child == nil {
			continue
		}
		cref, err := e.emitNode(child, ref, false)
		if err != nil {
			return 0, err
		}
		if prev == 0 {
			e.nodes[ref-1].child = cref
		} else {
			e.nodes[prev-1].sibling = cref
		}
		prev = cref
	}
	return ref, nil
}

func (e *encoder) emitProps(spec *NodeSpec) (uint32, error) {
	var first, prev uint32
	for _, p := range spec.Properties {
		if p.Name == "" {
			return 0, fmt.Errorf("node %q: property without name", spec.Name)
		}
		name, err := e.intern(p.Name)
		if err != nil {
			return 0, err
		}
		if uint64(len(e.data))+uint64(len(p.Payload)) >= math.MaxUint32 {
			return 0, errImageTooLarge
		}
		rec := propRec{name: name, typ: p.Type, count: p.Count}
		if p.Count >= 0 && len(p.Payload) > 0 {
			rec.data = uint32(len(e.data))
			rec.size = uint32(len(p.Payload))
			e.data = append(e.data, p.Payload...)
		}
		e.props = append(e.props, rec)
		ref := uint32(len(e.props))
		if prev == 0 {
			first = ref
		} else {
			e.props[prev-1].next = ref
		}
		prev = ref
	}
	return first, nil
}

func (e *encoder) emitMinors(spec *NodeSpec, owner uint32) (uint32, error) {
	var first, prev uint32
	for _, m := range spec.Minors {
		if m.Name == "" {
			return 0, fmt.Errorf("node %q: minor without name", spec.Name)
		}
		rec := minorRec{specType: m.SpecType, node: owner}
		var err error
		if rec.name, err = e.intern(m.Name); err != nil {
			return 0, err
		}
		if rec.nodeType, err = e.intern(m.NodeType); err != nil {
			return 0, err
		}
		if rec.path, err = e.intern(m.DevfsPath); err != nil {
			return 0, err
		}
		e.minors = append(e.minors, rec)
		ref := uint32(len(e.minors))
		if prev == 0 {
			first = ref
		} else {
			e.minors[prev-1].next = ref
		}
		prev = ref
	}
	return first, nil
}

func (e *encoder) finish() ([]byte, error) {
	nodesOff := uint64(headerSize)
	propsOff := nodesOff + uint64(len(e.nodes))*nodeSize
	minorsOff := propsOff + uint64(len(e.props))*propSize
	driversOff := minorsOff + uint64(len(e.minors))*minorSize
	dataOff := driversOff + uint64(len(e.driverOrder))*driverSize
	total := dataOff + uint64(len(e.data))
	if total > math.MaxUint32 {
		return nil, errImageTooLarge
	}

	buf := make([]byte, 0, total)
	buf = append(buf, imageMagic...)
	for _, v := range []uint32{
		imageVersion,
		uint32(e.flags),
		1, // root is always the first node emitted
		uint32(nodesOff), uint32(len(e.nodes)),
		uint32(propsOff), uint32(len(e.props)),
		uint32(minorsOff), uint32(len(e.minors)),
		uint32(driversOff), uint32(len(e.driverOrder)),
		uint32(dataOff), uint32(len(e.data)),
	} {
		buf = le.AppendUint32(buf, v)
	}

	for _, n := range e.nodes {
		for _, v := range []uint32{
			n.name, n.addr, n.driver, uint32(n.instance),
			n.parent, n.sibling, n.child, n.drvNext,
			n.firstProp, n.firstMinor, n.path,
		} {
			buf = le.AppendUint32(buf, v)
		}
	}
	for _, p := range e.props {
		for _, v := range []uint32{p.name, uint32(p.typ), uint32(p.count), p.data, p.size, p.next} {
			buf = le.AppendUint32(buf, v)
		}
	}
	for _, m := range e.minors {
		for _, v := range []uint32{m.name, m.nodeType, uint32(m.specType), m.path, m.node, m.next} {
			buf = le.AppendUint32(buf, v)
		}
	}
	for _, name := range e.driverOrder {
		d := e.drivers[name]
		buf = le.AppendUint32(buf, d.name)
		buf = le.AppendUint32(buf, d.first)
	}
	buf = append(buf, e.data...)
	return buf, nil
}
