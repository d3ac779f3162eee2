package devinfo

import (
	"errors"
	"iter"
	"strings"
)

var errForeignNode = errors.New("walk start node belongs to another snapshot")

// Walk visits the subtree rooted at start in depth-first pre-order,
// calling fn before descending into each node. A nil start walks the
// whole snapshot. Siblings of start itself are never visited.
//
// The directive returned by fn steers the walk:
//
//   - WalkContinue: descend into children, then continue with siblings.
//   - WalkPruneSiblings: descend into children, then skip the remaining
//     siblings of the node.
//   - WalkPruneChildren: skip the children, continue with siblings.
//   - WalkTerminate: stop immediately.
//
// Walk returns ErrReleased if the snapshot is closed before or during
// the walk.
func (s *Snapshot) Walk(start *Node, fn func(Node) WalkDirective) error {
	ref, err := s.walkStart(start)
	if err != nil {
		return err
	}
	d := fn(Node{s: s, ref: ref})
	if s.img == nil {
		return ErrReleased
	}
	if d == WalkTerminate || d == WalkPruneChildren {
		return nil
	}
	if s.walkList(s.img.u32(s.img.nodeOff(ref)+nodeChild), fn) == walkReleased {
		return ErrReleased
	}
	return nil
}

type walkResult uint8

const (
	walkDone walkResult = iota
	walkStopped
	walkReleased
)

// walkList visits ref and its following siblings with their subtrees.
func (s *Snapshot) walkList(ref uint32, fn func(Node) WalkDirective) walkResult {
	for ref != 0 {
		d := fn(Node{s: s, ref: ref})
		if s.img == nil {
			return walkReleased
		}
		off := s.img.nodeOff(ref)
		switch d {
		case WalkTerminate:
			return walkStopped
		case WalkPruneChildren:
			ref = s.img.u32(off + nodeSibling)
			continue
		}
		if r := s.walkList(s.img.u32(off+nodeChild), fn); r != walkDone {
			return r
		}
		if d == WalkPruneSiblings {
			return walkDone
		}
		ref = s.img.u32(off + nodeSibling)
	}
	return walkDone
}

func (s *Snapshot) walkStart(start *Node) (uint32, error) {
	if s.img == nil {
		return 0, ErrReleased
	}
	if start == nil {
		return s.img.root, nil
	}
	if start.s != s || start.ref == 0 {
		return 0, errForeignNode
	}
	return start.ref, nil
}

// WalkMinors visits the minors of every node under start in pre-order.
// When nodeType is not empty only minors whose node type starts with it
// are visited, so "ddi_block" matches "ddi_block:channel".
//
// WalkPruneSiblings skips the remaining minors of the current node,
// WalkTerminate stops the walk, and WalkPruneChildren acts like
// WalkContinue since minors have no children.
func (s *Snapshot) WalkMinors(start *Node, nodeType string, fn func(Node, Minor) WalkDirective) error {
	var released bool
	err := s.Walk(start, func(n Node) WalkDirective {
		for m := range n.Minors() {
			if nodeType != "" && !strings.HasPrefix(m.NodeType(), nodeType) {
				continue
			}
			d := fn(n, m)
			if s.img == nil {
				released = true
				return WalkTerminate
			}
			switch d {
			case WalkTerminate:
				return WalkTerminate
			case WalkPruneSiblings:
				return WalkContinue
			}
		}
		return WalkContinue
	})
	if err == nil && released {
		return ErrReleased
	}
	return err
}

// Nodes yields the subtree rooted at start in pre-order. A nil start
// yields the whole snapshot. Nothing is yielded once the snapshot is
// released.
func (s *Snapshot) Nodes(start *Node) iter.Seq[Node] {
	return func(yield func(Node) bool) {
		_ = s.Walk(start, func(n Node) WalkDirective {
			if !yield(n) {
				return WalkTerminate
			}
			return WalkContinue
		})
	}
}
