package devinfo

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Snapshot image layout
//
// An image is one contiguous little-endian buffer. Records are fixed size
// so that every navigation step is a constant-time read. References are
// 1-based record indices where 0 is the nil sentinel. String references
// are byte offsets into the data area plus one, pointing at a
// NUL-terminated string; 0 means absent.
//
//	header   56 bytes
//	nodes    nodeCount   * 44 bytes
//	props    propCount   * 24 bytes
//	minors   minorCount  * 24 bytes
//	drivers  driverCount *  8 bytes
//	data     strings and property payloads
const (
	imageMagic   = "DINF"
	imageVersion = 1

	headerSize = 56
	nodeSize   = 44
	propSize   = 24
	minorSize  = 24
	driverSize = 8
)

// Header field offsets.
const (
	hdrMagic       = 0
	hdrVersion     = 4
	hdrFlags       = 8
	hdrRoot        = 12
	hdrNodesOff    = 16
	hdrNodeCount   = 20
	hdrPropsOff    = 24
	hdrPropCount   = 28
	hdrMinorsOff   = 32
	hdrMinorCount  = 36
	hdrDriversOff  = 40
	hdrDriverCount = 44
	hdrDataOff     = 48
	hdrDataLen     = 52
)

// Node record field offsets.
const (
	nodeName       = 0
	nodeAddr       = 4
	nodeDriver     = 8
	nodeInstance   = 12
	nodeParent     = 16
	nodeSibling    = 20
	nodeChild      = 24
	nodeDrvNext    = 28
	nodeFirstProp  = 32
	nodeFirstMinor = 36
	nodePath       = 40
)

// Property record field offsets.
const (
	propName  = 0
	propType  = 4
	propCount = 8
	propData  = 12
	propBytes = 16
	propNext  = 20
)

// Minor record field offsets.
const (
	minorName     = 0
	minorNodeType = 4
	minorSpecType = 8
	minorPath     = 12
	minorNode     = 16
	minorNext     = 20
)

// Driver record field offsets.
const (
	driverName  = 0
	driverFirst = 4
)

var le = binary.LittleEndian

// image is a validated view over a snapshot buffer. All accessors assume
// validate succeeded and perform no bounds checks of their own.
type image struct {
	buf []byte

	flags       Flags
	root        uint32
	nodesOff    uint32
	nodeCount   uint32
	propsOff    uint32
	propCount   uint32
	minorsOff   uint32
	minorCount  uint32
	driversOff  uint32
	driverCount uint32
	data        []byte

	// property ref -> owning node, filled in by validateShape
	propOwner []uint32
}

// parseImage reads the header and validates the whole buffer.
func parseImage(buf []byte) (*image, error) {
	if len(buf) < headerSize {
		return nil, corrupt(-1, "image is %d bytes, header needs %d", len(buf), headerSize)
	}
	if string(buf[hdrMagic:hdrMagic+4]) != imageMagic {
		return nil, corrupt(hdrMagic, "bad magic %q", buf[hdrMagic:hdrMagic+4])
	}
	if v := le.Uint32(buf[hdrVersion:]); v != imageVersion {
		return nil, &ImageError{Offset: hdrVersion, Reason: fmt.Sprintf("got version %d", v), Err: ErrUnsupportedVersion}
	}

	img := &image{
		buf:         buf,
		flags:       Flags(le.Uint32(buf[hdrFlags:])),
		root:        le.Uint32(buf[hdrRoot:]),
		nodesOff:    le.Uint32(buf[hdrNodesOff:]),
		nodeCount:   le.Uint32(buf[hdrNodeCount:]),
		propsOff:    le.Uint32(buf[hdrPropsOff:]),
		propCount:   le.Uint32(buf[hdrPropCount:]),
		minorsOff:   le.Uint32(buf[hdrMinorsOff:]),
		minorCount:  le.Uint32(buf[hdrMinorCount:]),
		driversOff:  le.Uint32(buf[hdrDriversOff:]),
		driverCount: le.Uint32(buf[hdrDriverCount:]),
	}

	sections := []struct {
		name  string
		off   uint32
		count uint32
		size  uint32
	}{
		{"nodes", img.nodesOff, img.nodeCount, nodeSize},
		{"properties", img.propsOff, img.propCount, propSize},
		{"minors", img.minorsOff, img.minorCount, minorSize},
		{"drivers", img.driversOff, img.driverCount, driverSize},
		{"data", le.Uint32(buf[hdrDataOff:]), le.Uint32(buf[hdrDataLen:]), 1},
	}
	for _, s := range sections {
		end := uint64(s.off) + uint64(s.count)*uint64(s.size)
		if s.count > 0 && (s.off < headerSize || end > uint64(len(buf))) {
			return nil, corrupt(int(s.off), "%s section [%d, %d) outside image of %d bytes", s.name, s.off, end, len(buf))
		}
	}
	if dataLen := le.Uint32(buf[hdrDataLen:]); dataLen > 0 {
		dataOff := le.Uint32(buf[hdrDataOff:])
		img.data = buf[dataOff : dataOff+dataLen]
	}

	if err := img.validate(); err != nil {
		return nil, err
	}
	return img, nil
}

// validate checks every reference once so that views never need to.
// It also rejects cycles and shared subtrees, which keeps walks finite.
func (img *image) validate() error {
	if img.nodeCount == 0 {
		return corrupt(hdrNodeCount, "image has no nodes")
	}
	if !img.validNode(img.root) {
		return corrupt(hdrRoot, "root reference %d out of range", img.root)
	}

	for ref := uint32(1); ref <= img.nodeCount; ref++ {
		off := img.nodeOff(ref)
		for _, f := range []int{nodeName, nodeAddr, nodeDriver, nodePath} {
			if !img.validString(img.u32(off + f)) {
				return corrupt(off+f, "node %d: bad string reference", ref)
			}
		}
		for _, f := range []int{nodeParent, nodeSibling, nodeChild, nodeDrvNext} {
			if v := img.u32(off + f); v != 0 && !img.validNode(v) {
				return corrupt(off+f, "node %d: node reference %d out of range", ref, v)
			}
		}
		if v := img.u32(off + nodeFirstProp); v > img.propCount {
			return corrupt(off+nodeFirstProp, "node %d: property reference %d out of range", ref, v)
		}
		if v := img.u32(off + nodeFirstMinor); v > img.minorCount {
			return corrupt(off+nodeFirstMinor, "node %d: minor reference %d out of range", ref, v)
		}
	}

	for ref := uint32(1); ref <= img.propCount; ref++ {
		if err := img.validateProp(ref); err != nil {
			return err
		}
	}

	for ref := uint32(1); ref <= img.minorCount; ref++ {
		off := img.minorOff(ref)
		for _, f := range []int{minorName, minorNodeType, minorPath} {
			if !img.validString(img.u32(off + f)) {
				return corrupt(off+f, "minor %d: bad string reference", ref)
			}
		}
		if !img.validNode(img.u32(off + minorNode)) {
			return corrupt(off+minorNode, "minor %d: owner out of range", ref)
		}
		if v := img.u32(off + minorNext); v > img.minorCount {
			return corrupt(off+minorNext, "minor %d: next reference %d out of range", ref, v)
		}
	}

	for i := uint32(0); i < img.driverCount; i++ {
		off := int(img.driversOff) + int(i)*driverSize
		if !img.validString(img.u32(off + driverName)) {
			return corrupt(off, "driver %d: bad name", i)
		}
		if !img.validNode(img.u32(off + driverFirst)) {
			return corrupt(off, "driver %d: first node out of range", i)
		}
	}

	return img.validateShape()
}

func (img *image) validateProp(ref uint32) error {
	off := img.propOff(ref)
	if !img.validString(img.u32(off + propName)) {
		return corrupt(off, "property %d: bad name", ref)
	}
	if v := img.u32(off + propNext); v > img.propCount {
		return corrupt(off+propNext, "property %d: next reference %d out of range", ref, v)
	}
	count := int32(img.u32(off + propCount))
	start := uint64(img.u32(off + propData))
	size := uint64(img.u32(off + propBytes))
	if start+size > uint64(len(img.data)) {
		return corrupt(off+propData, "property %d: payload outside data area", ref)
	}
	if count < 0 {
		return nil
	}
	n := uint64(count)
	switch PropType(img.u32(off + propType)) {
	case PropInt:
		if size != n*4 {
			return corrupt(off, "property %d: %d ints in %d bytes", ref, n, size)
		}
	case PropInt64:
		if size != n*8 {
			return corrupt(off, "property %d: %d int64s in %d bytes", ref, n, size)
		}
	case PropByte:
		if size != n {
			return corrupt(off, "property %d: %d bytes declared, %d stored", ref, n, size)
		}
	case PropString:
		payload := img.data[start : start+size]
		if uint64(bytes.Count(payload, []byte{0})) != n || (n > 0 && payload[len(payload)-1] != 0) {
			return corrupt(off, "property %d: payload does not hold %d strings", ref, n)
		}
	}
	return nil
}

// validateShape walks the tree from the root and every property, minor and
// driver chain, rejecting anything reached twice.
func (img *image) validateShape() error {
	seen := make([]bool, img.nodeCount+1)
	rootOff := img.nodeOff(img.root)
	if img.u32(rootOff+nodeParent) != 0 || img.u32(rootOff+nodeSibling) != 0 {
		return corrupt(rootOff, "root node has a parent or sibling")
	}

	img.propOwner = make([]uint32, img.propCount+1)
	minorSeen := make([]bool, img.minorCount+1)

	stack := []uint32{img.root}
	for len(stack) > 0 {
		ref := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[ref] {
			return corrupt(img.nodeOff(ref), "node %d reached twice", ref)
		}
		seen[ref] = true
		off := img.nodeOff(ref)

		for p := img.u32(off + nodeFirstProp); p != 0; p = img.u32(img.propOff(p) + propNext) {
			if img.propOwner[p] != 0 {
				return corrupt(img.propOff(p), "property %d reached twice", p)
			}
			img.propOwner[p] = ref
		}
		for m := img.u32(off + nodeFirstMinor); m != 0; m = img.u32(img.minorOff(m) + minorNext) {
			if minorSeen[m] {
				return corrupt(img.minorOff(m), "minor %d reached twice", m)
			}
			minorSeen[m] = true
			if img.u32(img.minorOff(m)+minorNode) != ref {
				return corrupt(img.minorOff(m), "minor %d not owned by node %d", m, ref)
			}
		}

		for c := img.u32(off + nodeChild); c != 0; c = img.u32(img.nodeOff(c) + nodeSibling) {
			if img.u32(img.nodeOff(c)+nodeParent) != ref {
				return corrupt(img.nodeOff(c), "node %d: parent is not %d", c, ref)
			}
			if seen[c] {
				return corrupt(img.nodeOff(c), "node %d reached twice", c)
			}
			stack = append(stack, c)
			if len(stack) > int(img.nodeCount) {
				return corrupt(img.nodeOff(c), "sibling chain of node %d does not terminate", ref)
			}
		}
	}

	// Driver lists may point at any node, so every node must be reachable.
	for ref := uint32(1); ref <= img.nodeCount; ref++ {
		if !seen[ref] {
			return corrupt(img.nodeOff(ref), "node %d unreachable from root", ref)
		}
	}

	drvSeen := make([]bool, img.nodeCount+1)
	for i := uint32(0); i < img.driverCount; i++ {
		off := int(img.driversOff) + int(i)*driverSize
		name := img.str(img.u32(off + driverName))
		for n := img.u32(off + driverFirst); n != 0; n = img.u32(img.nodeOff(n) + nodeDrvNext) {
			if drvSeen[n] {
				return corrupt(img.nodeOff(n), "node %d in more than one driver position", n)
			}
			drvSeen[n] = true
			if !img.strEq(img.u32(img.nodeOff(n)+nodeDriver), name) {
				return corrupt(img.nodeOff(n), "node %d listed under driver %q but not bound to it", n, name)
			}
		}
	}
	return nil
}

func (img *image) u32(off int) uint32 {
	return le.Uint32(img.buf[off:])
}

func (img *image) validNode(ref uint32) bool {
	return ref != 0 && ref <= img.nodeCount
}

func (img *image) validString(ref uint32) bool {
	if ref == 0 {
		return true
	}
	start := uint64(ref - 1)
	if start >= uint64(len(img.data)) {
		return false
	}
	return bytes.IndexByte(img.data[start:], 0) >= 0
}

func (img *image) nodeOff(ref uint32) int {
	return int(img.nodesOff) + int(ref-1)*nodeSize
}

func (img *image) propOff(ref uint32) int {
	return int(img.propsOff) + int(ref-1)*propSize
}

func (img *image) minorOff(ref uint32) int {
	return int(img.minorsOff) + int(ref-1)*minorSize
}

// str resolves a string reference. Absent strings read as "".
func (img *image) str(ref uint32) string {
	if ref == 0 {
		return ""
	}
	b := img.data[ref-1:]
	return string(b[:bytes.IndexByte(b, 0)])
}

// strEq compares a string reference with s without allocating.
func (img *image) strEq(ref uint32, s string) bool {
	if ref == 0 {
		return s == ""
	}
	b := img.data[ref-1:]
	return string(b[:bytes.IndexByte(b, 0)]) == s
}

// findDriver returns the first node bound to name, or 0.
func (img *image) findDriver(name string) uint32 {
	for i := uint32(0); i < img.driverCount; i++ {
		off := int(img.driversOff) + int(i)*driverSize
		if img.strEq(img.u32(off+driverName), name) {
			return img.u32(off + driverFirst)
		}
	}
	return 0
}
