// Package devinfo provides a safe, navigable snapshot of a kernel device
// tree in the style of illumos libdevinfo.
//
// A snapshot is taken once and then read without further kernel calls. It
// exposes device nodes with their properties, minor nodes and driver
// bindings as typed views, supports pre-order walks with pruning, decodes
// property values, and resolves /dev links to the nodes they name.
//
// # Quick Start
//
//	snap, err := devinfo.Acquire(nil, "/", devinfo.CopyAll)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer snap.Close()
//
//	err = snap.Walk(nil, func(n devinfo.Node) devinfo.WalkDirective {
//	    path, _ := n.DevfsPath()
//	    fmt.Println(path)
//	    return devinfo.WalkContinue
//	})
//
// # Providers
//
// The snapshot image comes from a [Provider]:
//
//   - [DefaultProvider] reads the live tree through libdevinfo on illumos
//     and fails with [ErrUnsupported] elsewhere
//   - [FixtureProvider] serves a tree described in YAML (see [LoadFixture])
//   - [WASMProvider] hosts a guest module implementing the provider ABI
//   - [CacheProvider] keeps the last image on disk for [FlagUseCache]
//
// Every image is validated once by [Acquire]. After that, navigation is
// plain offset arithmetic on one contiguous buffer and never fails.
//
// # Lifetime
//
// A [Snapshot] owns its image. [Node], [Property] and [Minor] are small
// comparable views into it. After [Snapshot.Close] every view reports
// absent values, [Snapshot.Root] and [Snapshot.Walk] return [ErrReleased],
// and a second Close returns [ErrReleased]. Strings returned by views are
// ordinary Go strings and stay valid; byte payloads from
// [PropertyValue.Bytes] alias the image and must not be used after Close.
//
// # Concurrency
//
// [Snapshot], its views and [DevlinkHandle] are NOT safe for concurrent
// use. Confine each one to the goroutine that created it. Independent
// snapshots may be used from different goroutines.
//
// # Privileged Flags
//
// [FlagPrivateData], [FlagForceLoad], [FlagUseCache], [FlagCleanupCache]
// and [LinkMakeLink] need privileges the caller must hold. They are
// refused with [ErrPrivilegedFlags] unless [WithPrivileged] is passed.
package devinfo
