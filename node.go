package devinfo

import (
	"iter"
	"strconv"
)

// Node is a device node in a snapshot. The zero Node is invalid. Nodes
// are comparable: two views of the same location are equal.
type Node struct {
	s   *Snapshot
	ref uint32
}

// live returns the image and the node's record offset, or nil once the
// snapshot has been released.
func (n Node) live() (*image, int) {
	if n.s == nil || n.s.img == nil || n.ref == 0 {
		return nil, 0
	}
	return n.s.img, n.s.img.nodeOff(n.ref)
}

func (n Node) link(field int) (Node, bool) {
	img, off := n.live()
	if img == nil {
		return Node{}, false
	}
	return n.s.node(img.u32(off + field))
}

// Name returns the node name. The root of a synthetic tree may have an
// empty name.
func (n Node) Name() string {
	img, off := n.live()
	if img == nil {
		return ""
	}
	return img.str(img.u32(off + nodeName))
}

// Address returns the unit address, or "" if the node has none.
func (n Node) Address() string {
	img, off := n.live()
	if img == nil {
		return ""
	}
	return img.str(img.u32(off + nodeAddr))
}

// DriverName returns the bound driver.
func (n Node) DriverName() (string, bool) {
	img, off := n.live()
	if img == nil {
		return "", false
	}
	ref := img.u32(off + nodeDriver)
	if ref == 0 {
		return "", false
	}
	return img.str(ref), true
}

// Instance returns the driver instance number. A negative value from the
// provider means no instance is assigned.
func (n Node) Instance() (int, bool) {
	img, off := n.live()
	if img == nil {
		return 0, false
	}
	inst := int32(img.u32(off + nodeInstance))
	if inst < 0 {
		return 0, false
	}
	return int(inst), true
}

// Parent returns the parent node. The snapshot root has none.
func (n Node) Parent() (Node, bool) { return n.link(nodeParent) }

// Sibling returns the next sibling.
func (n Node) Sibling() (Node, bool) { return n.link(nodeSibling) }

// FirstChild returns the first child.
func (n Node) FirstChild() (Node, bool) { return n.link(nodeChild) }

// NextByDriver returns the next node bound to the same driver, in tree
// order, regardless of where it sits in the tree.
func (n Node) NextByDriver() (Node, bool) { return n.link(nodeDrvNext) }

// Children yields the node's children in order.
func (n Node) Children() iter.Seq[Node] {
	return func(yield func(Node) bool) {
		for c, ok := n.FirstChild(); ok; c, ok = c.Sibling() {
			if !yield(c) {
				return
			}
		}
	}
}

// FirstProperty returns the first property of the node.
func (n Node) FirstProperty() (Property, bool) {
	img, off := n.live()
	if img == nil {
		return Property{}, false
	}
	return n.prop(img.u32(off + nodeFirstProp))
}

// NextProperty returns the property after prev. The zero Property starts
// the sequence, like FirstProperty. A prev belonging to another node
// yields nothing.
func (n Node) NextProperty(prev Property) (Property, bool) {
	if prev.ref == 0 {
		return n.FirstProperty()
	}
	img, _ := n.live()
	if img == nil || prev.s != n.s || img.propOwner[prev.ref] != n.ref {
		return Property{}, false
	}
	return n.prop(img.u32(img.propOff(prev.ref) + propNext))
}

func (n Node) prop(ref uint32) (Property, bool) {
	if ref == 0 {
		return Property{}, false
	}
	return Property{s: n.s, ref: ref}, true
}

// Properties yields the node's properties in provider order.
func (n Node) Properties() iter.Seq[Property] {
	return func(yield func(Property) bool) {
		for p, ok := n.FirstProperty(); ok; p, ok = n.NextProperty(p) {
			if !yield(p) {
				return
			}
		}
	}
}

// Property returns the first property called name.
func (n Node) Property(name string) (Property, bool) {
	for p := range n.Properties() {
		if p.img().strEq(p.field(propName), name) {
			return p, true
		}
	}
	return Property{}, false
}

// FirstMinor returns the first minor of the node.
func (n Node) FirstMinor() (Minor, bool) {
	img, off := n.live()
	if img == nil {
		return Minor{}, false
	}
	return n.minor(img.u32(off + nodeFirstMinor))
}

// NextMinor returns the minor after prev. The zero Minor starts the
// sequence, like FirstMinor. A prev belonging to another node yields
// nothing.
func (n Node) NextMinor(prev Minor) (Minor, bool) {
	if prev.ref == 0 {
		return n.FirstMinor()
	}
	img, _ := n.live()
	if img == nil || prev.s != n.s || img.u32(img.minorOff(prev.ref)+minorNode) != n.ref {
		return Minor{}, false
	}
	return n.minor(img.u32(img.minorOff(prev.ref) + minorNext))
}

func (n Node) minor(ref uint32) (Minor, bool) {
	if ref == 0 {
		return Minor{}, false
	}
	return Minor{s: n.s, ref: ref}, true
}

// Minors yields the node's minors in provider order.
func (n Node) Minors() iter.Seq[Minor] {
	return func(yield func(Minor) bool) {
		for m, ok := n.FirstMinor(); ok; m, ok = n.NextMinor(m) {
			if !yield(m) {
				return
			}
		}
	}
}

// DevfsPath returns the node's path under /devices, e.g.
// "/pci@0,0/pci1af4,2@4".
func (n Node) DevfsPath() (string, error) {
	if img, _ := n.live(); img == nil {
		return "", &PathError{Name: "node", Err: ErrReleased}
	}
	return n.s.devfsPath(n.ref), nil
}

// String formats the node as name@addr, followed by driver#instance when
// an instance is assigned.
func (n Node) String() string {
	img, _ := n.live()
	if img == nil {
		return "<released>"
	}
	s := n.s.component(n.ref)
	if inst, ok := n.Instance(); ok {
		drv, _ := n.DriverName()
		s += " (" + drv + "#" + strconv.Itoa(inst) + ")"
	}
	return s
}

// Property is a named, typed value attached to a node.
type Property struct {
	s   *Snapshot
	ref uint32
}

func (p Property) img() *image {
	if p.s == nil || p.ref == 0 {
		return nil
	}
	return p.s.img
}

func (p Property) field(f int) uint32 {
	img := p.img()
	return img.u32(img.propOff(p.ref) + f)
}

// Name returns the property name.
func (p Property) Name() string {
	img := p.img()
	if img == nil {
		return ""
	}
	return img.str(p.field(propName))
}

// Type returns the declared type tag.
func (p Property) Type() PropType {
	if p.img() == nil {
		return PropUndefined
	}
	return PropType(int32(p.field(propType)))
}

// Decode interprets the payload according to the type tag. Decoding a
// property of a released snapshot yields ValueDecodeFailed.
func (p Property) Decode() PropertyValue {
	return Decode(p)
}

// Minor is a logical device endpoint of a node.
type Minor struct {
	s   *Snapshot
	ref uint32
}

func (m Minor) img() *image {
	if m.s == nil || m.ref == 0 {
		return nil
	}
	return m.s.img
}

func (m Minor) field(f int) uint32 {
	img := m.img()
	return img.u32(img.minorOff(m.ref) + f)
}

// Name returns the minor name, e.g. "a" or "a,raw".
func (m Minor) Name() string {
	img := m.img()
	if img == nil {
		return ""
	}
	return img.str(m.field(minorName))
}

// NodeType returns the classification string, e.g. "ddi_block:channel".
func (m Minor) NodeType() string {
	img := m.img()
	if img == nil {
		return ""
	}
	return img.str(m.field(minorNodeType))
}

// SpecType returns whether the minor is a character or block device.
func (m Minor) SpecType() SpecType {
	if m.img() == nil {
		return 0
	}
	return SpecType(m.field(minorSpecType))
}

// Node returns the node that owns the minor.
func (m Minor) Node() (Node, bool) {
	if m.img() == nil {
		return Node{}, false
	}
	return m.s.node(m.field(minorNode))
}

// DevfsPath returns the minor's path, the node path followed by
// ":" and the minor name.
func (m Minor) DevfsPath() (string, error) {
	img := m.img()
	if img == nil {
		return "", &PathError{Name: "minor", Err: ErrReleased}
	}
	if p := m.field(minorPath); p != 0 {
		return img.str(p), nil
	}
	return m.s.devfsPath(m.field(minorNode)) + ":" + img.str(m.field(minorName)), nil
}
