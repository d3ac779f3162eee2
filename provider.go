package devinfo

import (
	"log/slog"
	"regexp"
)

// Provider produces snapshot images. It stands in for the kernel's device
// tree interface.
type Provider interface {
	// Snapshot returns an image of the tree rooted at the devfs path root
	// ("" for the whole tree). On failure it should return an
	// *AcquireError carrying the provider's error code.
	Snapshot(root string, flags Flags) (Image, error)
}

// Image is one provider allocation holding an encoded snapshot.
type Image interface {
	// Bytes returns the encoded snapshot. The slice must stay valid and
	// unchanged until Release.
	Bytes() []byte
	// Release frees the allocation. It is called exactly once.
	Release() error
}

// LinkProvider opens devlink namespaces.
type LinkProvider interface {
	OpenLinks(namespace string, flags LinkOpenFlags) (LinkSource, error)
}

// LinkSource is an open devlink namespace.
type LinkSource interface {
	// Walk calls fn for every link matching pattern (nil matches all),
	// pointing at minorPath (empty matches all) and selected by flags.
	// It stops when fn returns WalkTerminate.
	Walk(pattern *regexp.Regexp, minorPath string, flags LinkFlags, fn func(Devlink) WalkDirective) error
	// Close releases the namespace. It is called exactly once.
	Close() error
}

// bytesImage is an Image over ordinary Go memory.
type bytesImage struct {
	buf     []byte
	release func() error
}

// NewImage wraps buf as an Image. release may be nil.
func NewImage(buf []byte, release func() error) Image {
	return &bytesImage{buf: buf, release: release}
}

func (b *bytesImage) Bytes() []byte { return b.buf }

func (b *bytesImage) Release() error {
	b.buf = nil
	if b.release != nil {
		return b.release()
	}
	return nil
}

// Option configures Acquire and OpenLinks.
type Option func(*options)

type options struct {
	privileged bool
	logger     *slog.Logger
}

// WithPrivileged permits the private snapshot flags and LinkMakeLink.
// Callers must hold the privilege the provider needs for them.
func WithPrivileged() Option {
	return func(o *options) { o.privileged = true }
}

// WithLogger sets the logger used for debug output. The default discards.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// unsupportedProvider fails every call. It is what DefaultProvider returns
// on platforms without a native device tree.
type unsupportedProvider struct{}

func (unsupportedProvider) Snapshot(root string, flags Flags) (Image, error) {
	return nil, &AcquireError{Root: root, Flags: flags, Err: ErrUnsupported}
}

func (unsupportedProvider) OpenLinks(namespace string, flags LinkOpenFlags) (LinkSource, error) {
	return nil, &LinkError{Op: "open", Namespace: namespace, Err: ErrUnsupported}
}
