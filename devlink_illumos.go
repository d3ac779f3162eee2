//go:build illumos && cgo

package devinfo

/*
#include <stdint.h>
#include <stdlib.h>
#include <libdevinfo.h>

extern int devinfoWalkLinks(di_devlink_handle_t, const char *, const char *, uint_t, uintptr_t);
*/
import "C"

import (
	"regexp"
	"runtime/cgo"
	"unsafe"
)

func (libdevinfoProvider) OpenLinks(namespace string, flags LinkOpenFlags) (LinkSource, error) {
	var cns *C.char
	if namespace != "" {
		cns = C.CString(namespace)
		defer C.free(unsafe.Pointer(cns))
	}
	h, err := C.di_devlink_init(cns, C.uint_t(flags))
	if h == nil {
		return nil, &LinkError{Op: "open", Namespace: namespace, Code: errnoOf(err)}
	}
	return &libdevinfoLinks{h: h, namespace: namespace}, nil
}

type libdevinfoLinks struct {
	h         C.di_devlink_handle_t
	namespace string
}

// Walk passes the pattern to libdevinfo, which matches it as a POSIX
// extended regular expression against the link path relative to /dev.
func (l *libdevinfoLinks) Walk(pattern *regexp.Regexp, minorPath string, flags LinkFlags, fn func(Devlink) WalkDirective) error {
	var cre, cmp *C.char
	if pattern != nil {
		cre = C.CString(pattern.String())
		defer C.free(unsafe.Pointer(cre))
	}
	if minorPath != "" {
		cmp = C.CString(minorPath)
		defer C.free(unsafe.Pointer(cmp))
	}

	h := cgo.NewHandle(fn)
	defer h.Delete()
	if rc, err := C.devinfoWalkLinks(l.h, cre, cmp, C.uint_t(flags), C.uintptr_t(h)); rc != 0 {
		return &LinkError{Op: "walk", Namespace: l.namespace, Code: errnoOf(err)}
	}
	return nil
}

func (l *libdevinfoLinks) Close() error {
	if rc, err := C.di_devlink_fini(&l.h); rc != 0 {
		return &LinkError{Op: "close", Namespace: l.namespace, Code: errnoOf(err)}
	}
	return nil
}

//export devinfoLinkCallback
func devinfoLinkCallback(link C.di_devlink_t, arg C.uintptr_t) C.int {
	fn := cgo.Handle(arg).Value().(func(Devlink) WalkDirective)
	d := fn(Devlink{
		Path:    C.GoString(C.di_devlink_path(link)),
		Content: C.GoString(C.di_devlink_content(link)),
		Type:    LinkType(C.di_devlink_type(link)),
	})
	return C.int(d.Code())
}
