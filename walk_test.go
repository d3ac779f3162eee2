package devinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// walkTree is
//
//	root
//	├── a
//	│   ├── a1
//	│   └── a2
//	├── b
//	│   └── b1
//	└── c
func walkTree(t *testing.T) *Snapshot {
	t.Helper()
	tree := &NodeSpec{
		Name: "root",
		Children: []*NodeSpec{
			{Name: "a", Children: []*NodeSpec{{Name: "a1"}, {Name: "a2"}}},
			{Name: "b", Children: []*NodeSpec{{Name: "b1"}}},
			{Name: "c"},
		},
	}
	s, err := Acquire(NewFixtureProvider(&Fixture{Root: tree}), "/", CopyAll)
	require.NoError(t, err)
	t.Cleanup(func() {
		if !s.Released() {
			_ = s.Close()
		}
	})
	return s
}

// collect walks from start, applying directives by node name.
func collect(t *testing.T, s *Snapshot, start *Node, directives map[string]WalkDirective) []string {
	t.Helper()
	var got []string
	err := s.Walk(start, func(n Node) WalkDirective {
		got = append(got, n.Name())
		if d, ok := directives[n.Name()]; ok {
			return d
		}
		return WalkContinue
	})
	require.NoError(t, err)
	return got
}

func TestWalkDirectives(t *testing.T) {
	tests := []struct {
		name       string
		directives map[string]WalkDirective
		want       []string
	}{
		{
			name: "continue visits everything in pre-order",
			want: []string{"root", "a", "a1", "a2", "b", "b1", "c"},
		},
		{
			name:       "prune siblings descends then skips later siblings",
			directives: map[string]WalkDirective{"a": WalkPruneSiblings},
			want:       []string{"root", "a", "a1", "a2"},
		},
		{
			name:       "prune children skips subtree keeps siblings",
			directives: map[string]WalkDirective{"a": WalkPruneChildren},
			want:       []string{"root", "a", "b", "b1", "c"},
		},
		{
			name:       "prune siblings on a leaf resumes at parent level",
			directives: map[string]WalkDirective{"a1": WalkPruneSiblings},
			want:       []string{"root", "a", "a1", "b", "b1", "c"},
		},
		{
			name:       "terminate stops immediately",
			directives: map[string]WalkDirective{"a1": WalkTerminate},
			want:       []string{"root", "a", "a1"},
		},
		{
			name:       "terminate at root",
			directives: map[string]WalkDirective{"root": WalkTerminate},
			want:       []string{"root"},
		},
		{
			name:       "prune children at root",
			directives: map[string]WalkDirective{"root": WalkPruneChildren},
			want:       []string{"root"},
		},
		{
			name:       "unknown directive continues",
			directives: map[string]WalkDirective{"a": WalkDirective(42)},
			want:       []string{"root", "a", "a1", "a2", "b", "b1", "c"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := walkTree(t)
			assert.Equal(t, tt.want, collect(t, s, nil, tt.directives))
		})
	}
}

func TestWalkFromInnerNodeSkipsItsSiblings(t *testing.T) {
	s := walkTree(t)
	a, ok := s.Lookup("/a")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "a1", "a2"}, collect(t, s, &a, nil))

	b, ok := s.Lookup("/b")
	require.True(t, ok)
	assert.Equal(t, []string{"b", "b1"}, collect(t, s, &b, nil))

	// Pruning siblings at the start node has no siblings to skip.
	assert.Equal(t, []string{"b", "b1"}, collect(t, s, &b, map[string]WalkDirective{"b": WalkPruneSiblings}))
}

func TestWalkCloseDuringWalk(t *testing.T) {
	s := walkTree(t)
	var got []string
	err := s.Walk(nil, func(n Node) WalkDirective {
		got = append(got, n.Name())
		if n.Name() == "a1" {
			require.NoError(t, s.Close())
		}
		return WalkContinue
	})
	assert.ErrorIs(t, err, ErrReleased)
	assert.Equal(t, []string{"root", "a", "a1"}, got)
}

func TestNodesIterator(t *testing.T) {
	s := walkTree(t)

	var all []string
	for n := range s.Nodes(nil) {
		all = append(all, n.Name())
	}
	assert.Equal(t, []string{"root", "a", "a1", "a2", "b", "b1", "c"}, all)

	var first []string
	for n := range s.Nodes(nil) {
		if n.Name() == "a2" {
			break
		}
		first = append(first, n.Name())
	}
	assert.Equal(t, []string{"root", "a", "a1"}, first)
}

func TestWalkMinors(t *testing.T) {
	s := acquireFixture(t, "system.yaml", CopyAll)

	walk := func(nodeType string, directive func(Minor) WalkDirective) []string {
		var got []string
		err := s.WalkMinors(nil, nodeType, func(n Node, m Minor) WalkDirective {
			p, err := m.DevfsPath()
			require.NoError(t, err)
			got = append(got, p)
			return directive(m)
		})
		require.NoError(t, err)
		return got
	}
	cont := func(Minor) WalkDirective { return WalkContinue }

	assert.Equal(t, []string{
		"/pci@0,0/pci1af4,2@4:a",
		"/pci@0,0/pci1af4,2@4:a,raw",
		"/pci@0,0/pci1af4,2@5:a",
		"/ramdisk:ctl",
	}, walk("", cont))

	assert.Equal(t, []string{
		"/pci@0,0/pci1af4,2@4:a",
		"/pci@0,0/pci1af4,2@4:a,raw",
		"/pci@0,0/pci1af4,2@5:a",
	}, walk("ddi_block", cont))

	assert.Equal(t, []string{"/ramdisk:ctl"}, walk("ddi_pseudo", cont))

	assert.Equal(t, []string{
		"/pci@0,0/pci1af4,2@4:a",
		"/pci@0,0/pci1af4,2@5:a",
		"/ramdisk:ctl",
	}, walk("", func(Minor) WalkDirective { return WalkPruneSiblings }))

	assert.Equal(t, []string{"/pci@0,0/pci1af4,2@4:a"},
		walk("", func(Minor) WalkDirective { return WalkTerminate }))
}

func TestWalkMinorsReleased(t *testing.T) {
	s := acquireFixture(t, "system.yaml", CopyAll)
	err := s.WalkMinors(nil, "", func(Node, Minor) WalkDirective {
		_ = s.Close()
		return WalkContinue
	})
	assert.ErrorIs(t, err, ErrReleased)
}
