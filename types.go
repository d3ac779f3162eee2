package devinfo

import (
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Flags selects what a snapshot includes. Bit values are fixed by the
// kernel interface and must not be renumbered.
type Flags uint32

const (
	FlagSubtree    Flags = 0x01     // include subtree
	FlagMinors     Flags = 0x02     // include minor data
	FlagProperties Flags = 0x04     // include properties
	FlagPath       Flags = 0x08     // include multipath node data
	FlagLayering   Flags = 0x40     // include device layering data
	FlagHotplug    Flags = 0x400000 // include hotplug information

	// Private flags. These need elevated privilege and only work on some
	// builds, so Acquire refuses them unless WithPrivileged is given.
	FlagPrivateData  Flags = 0x10     // include private data
	FlagForceLoad    Flags = 0x20     // force load all drivers
	FlagUseCache     Flags = 0x100000 // use cached data
	FlagCleanupCache Flags = 0x200000 // cleanup cache files
)

const (
	// CopyOne snapshots a single node without expansion.
	CopyOne Flags = 0
	// CopyAll snapshots the subtree with properties and minors.
	CopyAll = FlagSubtree | FlagProperties | FlagMinors
)

// privilegedFlags is the set of flags gated behind WithPrivileged.
const privilegedFlags = FlagPrivateData | FlagForceLoad | FlagUseCache | FlagCleanupCache

// ioctlBase is DIIOC, the ioctl group every snapshot request carries.
const ioctlBase = 0xDF << 8

// Word returns the flag word as passed to the native snapshot call.
func (f Flags) Word() uint32 {
	return ioctlBase | uint32(f)
}

// Privileged reports whether f contains any private flag.
func (f Flags) Privileged() bool {
	return f&privilegedFlags != 0
}

// Has reports whether all bits of o are set in f.
func (f Flags) Has(o Flags) bool {
	return f&o == o
}

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagSubtree, "subtree"},
	{FlagMinors, "minors"},
	{FlagProperties, "properties"},
	{FlagPath, "path"},
	{FlagPrivateData, "private-data"},
	{FlagForceLoad, "force-load"},
	{FlagLayering, "layering"},
	{FlagUseCache, "use-cache"},
	{FlagCleanupCache, "cleanup-cache"},
	{FlagHotplug, "hotplug"},
}

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	rest := f
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			parts = append(parts, fn.name)
			rest &^= fn.flag
		}
	}
	if rest != 0 {
		parts = append(parts, "0x"+strconv.FormatUint(uint64(rest), 16))
	}
	return strings.Join(parts, "|")
}

// LinkOpenFlags controls how a devlink namespace is opened.
type LinkOpenFlags uint32

const (
	// LinkMakeLink asks the provider to create links on demand. Privileged.
	LinkMakeLink LinkOpenFlags = 0x01
)

// LinkFlags selects which classes of link a walk reports.
type LinkFlags uint32

const (
	LinkPrimary   LinkFlags = 0x01
	LinkSecondary LinkFlags = 0x02
	LinkAll       LinkFlags = 0x03
)

// Matches reports whether a link of type t is selected by f.
// A zero flag set selects every type.
func (f LinkFlags) Matches(t LinkType) bool {
	if f&LinkAll == 0 {
		return true
	}
	return uint32(f)&uint32(t) != 0
}

// LinkType classifies a devlink. Exactly one bit is set.
type LinkType uint32

const (
	LinkTypePrimary   LinkType = 0x01
	LinkTypeSecondary LinkType = 0x02
)

func (t LinkType) String() string {
	switch t {
	case LinkTypePrimary:
		return "primary"
	case LinkTypeSecondary:
		return "secondary"
	default:
		return "unknown"
	}
}

// WalkDirective tells a walk what to do after visiting an element.
type WalkDirective int

const (
	// WalkContinue descends into children, then moves on to siblings.
	WalkContinue WalkDirective = iota
	// WalkPruneSiblings descends into children but skips the remaining
	// siblings of the current node.
	WalkPruneSiblings
	// WalkPruneChildren skips the children of the current node and
	// continues with its siblings.
	WalkPruneChildren
	// WalkTerminate stops the walk.
	WalkTerminate
)

// Native walk codes.
const (
	walkCodeContinue      = 0
	walkCodePruneSiblings = -1
	walkCodePruneChildren = -2
	walkCodeTerminate     = -3
)

// Code returns the native integer code for d.
func (d WalkDirective) Code() int {
	switch d {
	case WalkPruneSiblings:
		return walkCodePruneSiblings
	case WalkPruneChildren:
		return walkCodePruneChildren
	case WalkTerminate:
		return walkCodeTerminate
	default:
		return walkCodeContinue
	}
}

// DirectiveFromCode converts a native walk code. Unknown codes are
// reported with ok false and map to WalkContinue.
func DirectiveFromCode(code int) (d WalkDirective, ok bool) {
	switch code {
	case walkCodeContinue:
		return WalkContinue, true
	case walkCodePruneSiblings:
		return WalkPruneSiblings, true
	case walkCodePruneChildren:
		return WalkPruneChildren, true
	case walkCodeTerminate:
		return WalkTerminate, true
	default:
		return WalkContinue, false
	}
}

func (d WalkDirective) String() string {
	switch d {
	case WalkContinue:
		return "continue"
	case WalkPruneSiblings:
		return "prune-siblings"
	case WalkPruneChildren:
		return "prune-children"
	case WalkTerminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// PropType is the declared type tag of a property.
type PropType int32

const (
	PropBoolean   PropType = 0 // presence only
	PropInt       PropType = 1 // int32 array
	PropString    PropType = 2 // string array
	PropByte      PropType = 3 // byte array
	PropUnknown   PropType = 4 // no known interpretation
	PropUndefined PropType = 5 // undefined for iteration
	PropInt64     PropType = 6 // int64 array
)

func (t PropType) String() string {
	switch t {
	case PropBoolean:
		return "boolean"
	case PropInt:
		return "int"
	case PropString:
		return "string"
	case PropByte:
		return "byte"
	case PropUnknown:
		return "unknown"
	case PropUndefined:
		return "undefined"
	case PropInt64:
		return "int64"
	default:
		return "invalid"
	}
}

// ParsePropType maps a name produced by PropType.String back to its tag.
func ParsePropType(s string) (PropType, bool) {
	for t := PropBoolean; t <= PropInt64; t++ {
		if t.String() == s {
			return t, true
		}
	}
	return 0, false
}

// SpecType is the special-file type of a minor node.
type SpecType uint32

const (
	SpecChar  SpecType = unix.S_IFCHR
	SpecBlock SpecType = unix.S_IFBLK
)

func (t SpecType) String() string {
	switch t {
	case SpecChar:
		return "char"
	case SpecBlock:
		return "block"
	default:
		return "unknown"
	}
}
