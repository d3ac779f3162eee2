//go:build !(illumos && cgo)

package devinfo

// DefaultProvider returns the platform's native provider. This platform
// has none: every snapshot fails with ErrUnsupported. Use
// FixtureProvider, WASMProvider or CacheProvider instead.
func DefaultProvider() Provider { return unsupportedProvider{} }

// DefaultLinkProvider returns the platform's native devlink provider.
// This platform has none: OpenLinks fails with ErrUnsupported.
func DefaultLinkProvider() LinkProvider { return unsupportedProvider{} }
