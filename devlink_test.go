package devinfo

import (
	"errors"
	"regexp"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openFixtureLinks(t *testing.T) *DevlinkHandle {
	t.Helper()
	h, err := OpenLinks(NewFixtureProvider(loadTestFixture(t, "system.yaml")), "/", 0)
	require.NoError(t, err)
	return h
}

func collectLinks(t *testing.T, h *DevlinkHandle, pattern *regexp.Regexp, minorPath string, flags LinkFlags) []Devlink {
	t.Helper()
	var got []Devlink
	require.NoError(t, h.Walk(pattern, minorPath, flags, func(l Devlink) WalkDirective {
		got = append(got, l)
		return WalkContinue
	}))
	return got
}

func linkPaths(links []Devlink) []string {
	paths := make([]string, len(links))
	for i, l := range links {
		paths[i] = l.Path
	}
	return paths
}

func TestDevlinkWalkByType(t *testing.T) {
	h := openFixtureLinks(t)
	defer h.Close()

	all := collectLinks(t, h, nil, "", LinkAll)
	require.Len(t, all, 3)
	assert.Equal(t, Devlink{
		Path:    "/dev/dsk/c1d0s0",
		Content: "../../devices/pci@0,0/pci1af4,2@4:a",
		Type:    LinkTypePrimary,
	}, all[0])
	assert.Equal(t, LinkTypeSecondary, all[2].Type)

	primary := collectLinks(t, h, nil, "", LinkPrimary)
	assert.Equal(t, []string{"/dev/dsk/c1d0s0", "/dev/dsk/c2d0s0"}, linkPaths(primary))

	secondary := collectLinks(t, h, nil, "", LinkSecondary)
	assert.Equal(t, []string{"/dev/disk0"}, linkPaths(secondary))

	assert.Len(t, collectLinks(t, h, nil, "", 0), 3, "zero flags select all")
}

func TestDevlinkWalkFilters(t *testing.T) {
	h := openFixtureLinks(t)
	defer h.Close()

	dsk := collectLinks(t, h, regexp.MustCompile(`^dsk/`), "", LinkAll)
	assert.Equal(t, []string{"/dev/dsk/c1d0s0", "/dev/dsk/c2d0s0"}, linkPaths(dsk))

	toDisk4 := collectLinks(t, h, nil, "/pci@0,0/pci1af4,2@4:a", LinkAll)
	assert.Equal(t, []string{"/dev/dsk/c1d0s0", "/dev/disk0"}, linkPaths(toDisk4))

	assert.Empty(t, collectLinks(t, h, regexp.MustCompile(`^rdsk/`), "", LinkAll))
}

func TestDevlinkWalkTerminate(t *testing.T) {
	h := openFixtureLinks(t)
	defer h.Close()

	var n int
	require.NoError(t, h.Walk(nil, "", LinkAll, func(Devlink) WalkDirective {
		n++
		return WalkTerminate
	}))
	assert.Equal(t, 1, n)

	// Prune directives are no-ops for a flat sequence.
	n = 0
	require.NoError(t, h.Walk(nil, "", LinkAll, func(Devlink) WalkDirective {
		n++
		return WalkPruneSiblings
	}))
	assert.Equal(t, 3, n)
}

func TestDevlinkClose(t *testing.T) {
	h := openFixtureLinks(t)
	require.NoError(t, h.Close())

	err := h.Close()
	assert.ErrorIs(t, err, ErrClosed)
	var le *LinkError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "close", le.Op)

	err = h.Walk(nil, "", LinkAll, func(Devlink) WalkDirective { return WalkContinue })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpenLinksMakeLinkIsPrivileged(t *testing.T) {
	p := NewFixtureProvider(loadTestFixture(t, "system.yaml"))

	_, err := OpenLinks(p, "/", LinkMakeLink)
	assert.ErrorIs(t, err, ErrPrivilegedFlags)

	h, err := OpenLinks(p, "/", LinkMakeLink, WithPrivileged())
	require.NoError(t, err)
	assert.NoError(t, h.Close())
}

func TestOpenLinksDefaultProviderUnsupported(t *testing.T) {
	if _, ok := DefaultLinkProvider().(unsupportedProvider); !ok {
		t.Skip("native devlink provider available")
	}
	_, err := OpenLinks(nil, "/", 0)
	assert.ErrorIs(t, err, ErrUnsupported)
	var le *LinkError
	assert.ErrorAs(t, err, &le)
}

type failingLinkSource struct{}

func (failingLinkSource) Walk(*regexp.Regexp, string, LinkFlags, func(Devlink) WalkDirective) error {
	return errors.New("database unreadable")
}

func (failingLinkSource) Close() error { return nil }

type staticLinkProvider struct{ src LinkSource }

func (p staticLinkProvider) OpenLinks(string, LinkOpenFlags) (LinkSource, error) { return p.src, nil }

func TestDevlinkWalkWrapsErrors(t *testing.T) {
	h, err := OpenLinks(staticLinkProvider{src: failingLinkSource{}}, "/alt", 0)
	require.NoError(t, err)
	defer h.Close()

	err = h.Walk(nil, "", LinkAll, func(Devlink) WalkDirective { return WalkContinue })
	var le *LinkError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "walk", le.Op)
	assert.Equal(t, "/alt", le.Namespace)
	assert.EqualError(t, err, "devlink walk /alt: database unreadable")
}

func TestMinorPathOf(t *testing.T) {
	tests := []struct {
		content string
		want    string
		ok      bool
	}{
		{"../../devices/pci@0,0/disk@1:a", "/pci@0,0/disk@1:a", true},
		{"../devices/pseudo/mm@0:null", "/pseudo/mm@0:null", true},
		{"/devices/pci@0,0:devctl", "/pci@0,0:devctl", true},
		{"devices/ramdisk:ctl", "/ramdisk:ctl", true},
		{"../../dev/null", "", false},
		{"/devices/", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			got, ok := MinorPathOf(tt.content)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestDevlinkResolvesAgainstSnapshot(t *testing.T) {
	s := acquireFixture(t, "system.yaml", CopyAll)
	h := openFixtureLinks(t)
	defer h.Close()

	resolved := make(map[string]string)
	require.NoError(t, h.Walk(nil, "", LinkAll, func(l Devlink) WalkDirective {
		n, m, ok := s.ResolveLink(l.Content)
		require.True(t, ok, "link %s", l.Path)
		inst, _ := n.Instance()
		resolved[l.Path] = m.Name() + "#" + strconv.Itoa(inst)
		return WalkContinue
	}))
	assert.Equal(t, map[string]string{
		"/dev/dsk/c1d0s0": "a#0",
		"/dev/dsk/c2d0s0": "a#1",
		"/dev/disk0":      "a#0",
	}, resolved)
}
