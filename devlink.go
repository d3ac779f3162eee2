package devinfo

import (
	"errors"
	"log/slog"
	"regexp"
	"strings"
)

// Devlink is one entry of a devlink namespace, e.g. Path "/dev/dsk/c0t0d0s0"
// with Content "../../devices/pci@0,0/disk@1:a".
type Devlink struct {
	Path    string
	Content string
	Type    LinkType
}

// MinorPath returns the devfs minor path the link points at.
func (l Devlink) MinorPath() (string, bool) {
	return MinorPathOf(l.Content)
}

const devicesDir = "/devices"

// MinorPathOf extracts the devfs path from devlink content. Content is
// usually relative ("../../devices/pci@0,0/disk@1:a") but absolute
// "/devices/..." is accepted too. The result starts with "/".
func MinorPathOf(content string) (string, bool) {
	if rest, ok := strings.CutPrefix(content, devicesDir+"/"); ok {
		return "/" + rest, rest != ""
	}
	if strings.HasPrefix(content, "devices/") {
		content = "/" + content
	}
	i := strings.Index(content, devicesDir+"/")
	if i < 0 {
		return "", false
	}
	rest := content[i+len(devicesDir):]
	return rest, len(rest) > 1
}

// DevlinkHandle is an open devlink namespace. Close must be called
// exactly once.
//
// A DevlinkHandle is NOT safe for concurrent use.
type DevlinkHandle struct {
	src       LinkSource
	namespace string
	logger    *slog.Logger
}

// OpenLinks opens the devlink namespace (e.g. "/" or an alternate root)
// through p. A nil provider selects DefaultLinkProvider. LinkMakeLink is
// refused with ErrPrivilegedFlags unless WithPrivileged is given.
func OpenLinks(p LinkProvider, namespace string, flags LinkOpenFlags, opts ...Option) (*DevlinkHandle, error) {
	o := buildOptions(opts)
	if flags&LinkMakeLink != 0 && !o.privileged {
		return nil, &LinkError{Op: "open", Namespace: namespace, Err: ErrPrivilegedFlags}
	}
	if p == nil {
		p = DefaultLinkProvider()
	}
	src, err := p.OpenLinks(namespace, flags)
	if err != nil {
		var le *LinkError
		if errors.As(err, &le) {
			return nil, err
		}
		return nil, &LinkError{Op: "open", Namespace: namespace, Err: err}
	}
	if src == nil {
		return nil, &LinkError{Op: "open", Namespace: namespace, Err: errors.New("provider returned no source")}
	}
	o.logger.Debug("devlink namespace opened", "namespace", namespace)
	return &DevlinkHandle{src: src, namespace: namespace, logger: o.logger}, nil
}

// Walk calls fn for every link that matches pattern (nil matches all),
// points at minorPath (empty matches all) and has a type selected by
// flags (zero selects all). Links form a flat sequence, so the prune
// directives behave like WalkContinue. WalkTerminate stops the walk.
//
// Devlink values passed to fn are only guaranteed for the duration of
// the call.
func (h *DevlinkHandle) Walk(pattern *regexp.Regexp, minorPath string, flags LinkFlags, fn func(Devlink) WalkDirective) error {
	if h.src == nil {
		return &LinkError{Op: "walk", Namespace: h.namespace, Err: ErrClosed}
	}
	if flags&LinkAll == 0 {
		flags = LinkAll
	}
	var n int
	err := h.src.Walk(pattern, minorPath, flags, func(l Devlink) WalkDirective {
		if !flags.Matches(l.Type) {
			return WalkContinue
		}
		n++
		if fn(l) == WalkTerminate {
			return WalkTerminate
		}
		return WalkContinue
	})
	h.logger.Debug("devlink walk done", "namespace", h.namespace, "links", n, "error", err)
	if err != nil {
		var le *LinkError
		if errors.As(err, &le) {
			return err
		}
		return &LinkError{Op: "walk", Namespace: h.namespace, Err: err}
	}
	return nil
}

// Close closes the namespace. A second Close returns ErrClosed.
func (h *DevlinkHandle) Close() error {
	if h.src == nil {
		return &LinkError{Op: "close", Namespace: h.namespace, Err: ErrClosed}
	}
	src := h.src
	h.src = nil
	if err := src.Close(); err != nil {
		var le *LinkError
		if errors.As(err, &le) {
			return err
		}
		return &LinkError{Op: "close", Namespace: h.namespace, Err: err}
	}
	return nil
}
