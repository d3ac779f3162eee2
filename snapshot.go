package devinfo

import (
	"errors"
	"iter"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// Snapshot owns one point-in-time image of the device tree. Nodes,
// properties and minors obtained from it are views into the image and
// are valid until Close.
//
// A Snapshot and its views are NOT safe for concurrent use. Confine each
// snapshot to the goroutine that acquired it.
type Snapshot struct {
	id     uuid.UUID
	img    *image
	src    Image
	logger *slog.Logger

	// devfs path -> node ref, built on first Lookup
	paths map[string]uint32
}

// Acquire takes a snapshot of the device tree rooted at the devfs path
// root ("" or "/" for the whole tree). Close must be called on the
// returned snapshot exactly once.
//
// A nil provider selects DefaultProvider. Private flags are refused with
// ErrPrivilegedFlags unless WithPrivileged is given.
func Acquire(p Provider, root string, flags Flags, opts ...Option) (*Snapshot, error) {
	o := buildOptions(opts)
	if flags.Privileged() && !o.privileged {
		return nil, &AcquireError{Root: root, Flags: flags, Err: ErrPrivilegedFlags}
	}
	if p == nil {
		p = DefaultProvider()
	}

	src, err := p.Snapshot(root, flags)
	if err != nil {
		var ae *AcquireError
		if errors.As(err, &ae) {
			return nil, err
		}
		return nil, &AcquireError{Root: root, Flags: flags, Err: err}
	}
	if src == nil {
		return nil, &AcquireError{Root: root, Flags: flags, Err: errors.New("provider returned no image")}
	}

	img, err := parseImage(src.Bytes())
	if err != nil {
		if rerr := src.Release(); rerr != nil {
			o.logger.Debug("releasing rejected image failed", "error", rerr)
		}
		return nil, &AcquireError{Root: root, Flags: flags, Err: err}
	}

	s := &Snapshot{
		id:     uuid.New(),
		img:    img,
		src:    src,
		logger: o.logger,
	}
	s.logger.Debug("snapshot acquired",
		"snapshot_id", s.id,
		"root", root,
		"flags", flags,
		"nodes", img.nodeCount,
		"bytes", len(img.buf),
	)
	return s, nil
}

// Close releases the snapshot. Views derived from it stop resolving:
// navigation reports absent values and Root and Walk return ErrReleased.
// Calling Close again returns ErrReleased without releasing twice.
func (s *Snapshot) Close() error {
	if s.img == nil {
		return ErrReleased
	}
	src := s.src
	s.img = nil
	s.src = nil
	s.paths = nil
	err := src.Release()
	s.logger.Debug("snapshot released", "snapshot_id", s.id, "error", err)
	return err
}

// Released reports whether Close has been called.
func (s *Snapshot) Released() bool {
	return s.img == nil
}

// ID identifies this snapshot in logs and cache entries.
func (s *Snapshot) ID() uuid.UUID {
	return s.id
}

// Flags returns the flags recorded in the image, which are the flags the
// provider honoured.
func (s *Snapshot) Flags() Flags {
	if s.img == nil {
		return 0
	}
	return s.img.flags
}

// NodeCount returns the number of nodes in the image.
func (s *Snapshot) NodeCount() int {
	if s.img == nil {
		return 0
	}
	return int(s.img.nodeCount)
}

// Root returns the root node of the snapshot.
func (s *Snapshot) Root() (Node, error) {
	if s.img == nil {
		return Node{}, ErrReleased
	}
	return Node{s: s, ref: s.img.root}, nil
}

// FirstByDriver returns the first node bound to driver.
func (s *Snapshot) FirstByDriver(driver string) (Node, bool) {
	if s.img == nil {
		return Node{}, false
	}
	return s.node(s.img.findDriver(driver))
}

// DriverNodes yields every node bound to driver, in tree order.
func (s *Snapshot) DriverNodes(driver string) iter.Seq[Node] {
	return func(yield func(Node) bool) {
		for n, ok := s.FirstByDriver(driver); ok; n, ok = n.NextByDriver() {
			if !yield(n) {
				return
			}
		}
	}
}

// Lookup finds a node by devfs path, e.g. "/pci@0,0/disk@1".
func (s *Snapshot) Lookup(devfsPath string) (Node, bool) {
	if s.img == nil {
		return Node{}, false
	}
	if s.paths == nil {
		s.buildPathIndex()
	}
	if devfsPath != "/" {
		devfsPath = strings.TrimSuffix(devfsPath, "/")
	}
	return s.node(s.paths[devfsPath])
}

// ResolveLink maps devlink content such as
// "../../devices/pci@0,0/disk@1:a" to the node and minor it names.
func (s *Snapshot) ResolveLink(content string) (Node, Minor, bool) {
	minorPath, ok := MinorPathOf(content)
	if !ok {
		return Node{}, Minor{}, false
	}
	i := strings.LastIndexByte(minorPath, ':')
	if i < 0 {
		return Node{}, Minor{}, false
	}
	n, ok := s.Lookup(minorPath[:i])
	if !ok {
		return Node{}, Minor{}, false
	}
	name := minorPath[i+1:]
	for m := range n.Minors() {
		if m.Name() == name {
			return n, m, true
		}
	}
	return Node{}, Minor{}, false
}

// node translates a raw reference into a view, mapping the nil sentinel
// to ok == false.
func (s *Snapshot) node(ref uint32) (Node, bool) {
	if ref == 0 || s.img == nil {
		return Node{}, false
	}
	return Node{s: s, ref: ref}, true
}

// buildPathIndex indexes every node by devfs path, computing paths
// incrementally from the parent's path.
func (s *Snapshot) buildPathIndex() {
	img := s.img
	s.paths = make(map[string]uint32, img.nodeCount)
	rootPath := s.devfsPath(img.root)
	s.paths[rootPath] = img.root

	type entry struct {
		ref  uint32
		path string
	}
	stack := []entry{{img.root, rootPath}}
	for len(stack) > 0 {
		e := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for c := img.u32(img.nodeOff(e.ref) + nodeChild); c != 0; c = img.u32(img.nodeOff(c) + nodeSibling) {
			p := img.str(img.u32(img.nodeOff(c) + nodePath))
			if p == "" {
				p = joinPath(e.path, s.component(c))
			}
			s.paths[p] = c
			stack = append(stack, entry{c, p})
		}
	}
}

// component returns name or name@addr for a node.
func (s *Snapshot) component(ref uint32) string {
	img := s.img
	off := img.nodeOff(ref)
	name := img.str(img.u32(off + nodeName))
	if addr := img.u32(off + nodeAddr); addr != 0 {
		return name + "@" + img.str(addr)
	}
	return name
}

// devfsPath derives the devfs path of a node from the nearest ancestor
// with a recorded path, or from the root.
func (s *Snapshot) devfsPath(ref uint32) string {
	img := s.img
	var comps []string
	base := "/"
	for {
		off := img.nodeOff(ref)
		if p := img.u32(off + nodePath); p != 0 {
			base = img.str(p)
			break
		}
		parent := img.u32(off + nodeParent)
		if parent == 0 {
			break
		}
		comps = append(comps, s.component(ref))
		ref = parent
	}
	path := base
	for i := len(comps) - 1; i >= 0; i-- {
		path = joinPath(path, comps[i])
	}
	return path
}

func joinPath(parent, comp string) string {
	if parent == "/" {
		return "/" + comp
	}
	return parent + "/" + comp
}
