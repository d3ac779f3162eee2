//go:build illumos && cgo

package devinfo

/*
#cgo LDFLAGS: -ldevinfo
#include <stdlib.h>
#include <libdevinfo.h>
*/
import "C"

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// libdevinfoProvider reads the live tree through libdevinfo. The kernel
// snapshot is copied into an image and released with di_fini before
// Snapshot returns, so no libdevinfo memory outlives the call.
type libdevinfoProvider struct{}

// DefaultProvider returns the platform's native provider: libdevinfo on
// illumos.
func DefaultProvider() Provider { return libdevinfoProvider{} }

// DefaultLinkProvider returns the platform's native devlink provider:
// libdevinfo's devlink database on illumos.
func DefaultLinkProvider() LinkProvider { return libdevinfoProvider{} }

func errnoOf(err error) unix.Errno {
	var code unix.Errno
	if errors.As(err, &code) {
		return code
	}
	return 0
}

func (libdevinfoProvider) Snapshot(root string, flags Flags) (Image, error) {
	path := root
	if path == "" {
		path = "/"
	}
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	node, err := C.di_init(cpath, C.uint_t(flags.Word()))
	if node == nil {
		return nil, &AcquireError{Root: root, Flags: flags, Code: errnoOf(err)}
	}
	defer C.di_fini(node)

	spec, err := copyTree(node, flags, true)
	if err != nil {
		return nil, &AcquireError{Root: root, Flags: flags, Code: errnoOf(err), Err: err}
	}
	buf, err := EncodeImage(spec, flags)
	if err != nil {
		return nil, &AcquireError{Root: root, Flags: flags, Code: unix.ENOMEM, Err: err}
	}
	return NewImage(buf, nil), nil
}

// copyTree copies node and, with FlagSubtree, its descendants.
func copyTree(node C.di_node_t, flags Flags, isRoot bool) (*NodeSpec, error) {
	spec := &NodeSpec{
		Name: C.GoString(C.di_node_name(node)),
	}
	if addr := C.di_bus_addr(node); addr != nil {
		spec.Addr = C.GoString(addr)
	}
	if drv := C.di_driver_name(node); drv != nil {
		spec.Driver = C.GoString(drv)
	}
	if inst := int(C.di_instance(node)); inst >= 0 {
		spec.Instance = &inst
	}
	if isRoot {
		p, err := devfsPathOf(node)
		if err != nil {
			return nil, err
		}
		spec.DevfsPath = p
	}

	if flags.Has(FlagProperties) {
		for prop := C.di_prop_next(node, nil); prop != nil; prop = C.di_prop_next(node, prop) {
			spec.Properties = append(spec.Properties, copyProp(prop))
		}
	}
	if flags.Has(FlagMinors) {
		for m := C.di_minor_next(node, nil); m != nil; m = C.di_minor_next(node, m) {
			spec.Minors = append(spec.Minors, MinorSpec{
				Name:     C.GoString(C.di_minor_name(m)),
				NodeType: C.GoString(C.di_minor_nodetype(m)),
				SpecType: SpecType(C.di_minor_spectype(m)),
			})
		}
	}
	if flags.Has(FlagSubtree) {
		for c := C.di_child_node(node); c != nil; c = C.di_sibling_node(c) {
			child, err := copyTree(c, flags, false)
			if err != nil {
				return nil, err
			}
			spec.Children = append(spec.Children, child)
		}
	}
	return spec, nil
}

func devfsPathOf(node C.di_node_t) (string, error) {
	p, err := C.di_devfs_path(node)
	if p == nil {
		return "", &PathError{Name: C.GoString(C.di_node_name(node)), Err: fmt.Errorf("di_devfs_path: %w", err)}
	}
	defer C.di_devfs_path_free(p)
	return C.GoString(p), nil
}

// copyProp copies one property. A negative count from the accessor is
// kept as the property's failure code.
func copyProp(prop C.di_prop_t) PropSpec {
	name := C.GoString(C.di_prop_name(prop))
	typ := PropType(C.di_prop_type(prop))

	switch typ {
	case PropBoolean:
		return BoolProp(name)
	case PropInt:
		var data *C.int
		n := int(C.di_prop_ints(prop, &data))
		if n < 0 {
			return FailedProp(name, typ, int32(n))
		}
		vals := make([]int32, n)
		for i, v := range unsafe.Slice(data, n) {
			vals[i] = int32(v)
		}
		return IntProp(name, vals...)
	case PropInt64:
		var data *C.int64_t
		n := int(C.di_prop_int64(prop, &data))
		if n < 0 {
			return FailedProp(name, typ, int32(n))
		}
		vals := make([]int64, n)
		for i, v := range unsafe.Slice(data, n) {
			vals[i] = int64(v)
		}
		return Int64Prop(name, vals...)
	case PropString:
		var data *C.char
		n := int(C.di_prop_strings(prop, &data))
		if n < 0 {
			return FailedProp(name, typ, int32(n))
		}
		vals := make([]string, n)
		p := unsafe.Pointer(data)
		for i := range vals {
			vals[i] = C.GoString((*C.char)(p))
			p = unsafe.Add(p, len(vals[i])+1)
		}
		return StringProp(name, vals...)
	case PropUndefined:
		return OpaqueProp(name, typ, nil)
	default:
		// Byte and unknown properties are both read as raw bytes.
		var data *C.uchar
		n := int(C.di_prop_bytes(prop, &data))
		if n < 0 {
			return FailedProp(name, typ, int32(n))
		}
		raw := C.GoBytes(unsafe.Pointer(data), C.int(n))
		if typ == PropByte {
			return ByteProp(name, raw)
		}
		return OpaqueProp(name, PropUnknown, raw)
	}
}
