package devinfo

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

var (
	// ErrReleased is returned when a snapshot is used after Close.
	ErrReleased = errors.New("snapshot released")
	// ErrClosed is returned when a devlink handle is used after Close.
	ErrClosed = errors.New("devlink handle closed")
	// ErrPrivilegedFlags is returned when private flags are requested
	// without WithPrivileged.
	ErrPrivilegedFlags = errors.New("privileged flags require WithPrivileged")
	// ErrUnsupported is returned by providers with no backing implementation
	// on this platform.
	ErrUnsupported = errors.New("device tree provider not supported on this platform")
	// ErrCorruptImage is returned when a snapshot image fails validation.
	ErrCorruptImage = errors.New("corrupt snapshot image")
	// ErrUnsupportedVersion is returned when the image version is not supported.
	ErrUnsupportedVersion = errors.New("unsupported snapshot image version")
	// ErrNotFound is returned when a root filter names no node.
	ErrNotFound = errors.New("device path not found")
	// ErrMissingExports is returned when a WASM provider module lacks part
	// of the provider ABI.
	ErrMissingExports = errors.New("missing required WASM exports")
)

// AcquireError reports that the provider refused to produce a snapshot.
type AcquireError struct {
	Root  string     // root filter as requested
	Flags Flags      // flags as requested
	Code  unix.Errno // provider error code, 0 if unknown
	Err   error      // underlying cause
}

func (e *AcquireError) Error() string {
	root := e.Root
	if root == "" {
		root = "/"
	}
	msg := fmt.Sprintf("acquire snapshot of %s (%s)", root, e.Flags)
	switch {
	case e.Err != nil && e.Code != 0 && !errors.Is(e.Err, e.Code):
		return fmt.Sprintf("%s: %v (errno %d)", msg, e.Err, int(e.Code))
	case e.Err != nil:
		return msg + ": " + e.Err.Error()
	case e.Code != 0:
		return msg + ": " + e.Code.Error()
	default:
		return msg + ": provider failed"
	}
}

// Unwrap exposes both the underlying cause and the errno, so callers can
// test with errors.Is(err, unix.EACCES).
func (e *AcquireError) Unwrap() []error {
	var errs []error
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.Code != 0 {
		errs = append(errs, e.Code)
	}
	return errs
}

// PathError reports that a devfs path could not be produced.
type PathError struct {
	Name string // node or minor name
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("devfs path of %q: %v", e.Name, e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }

// LinkError reports a devlink namespace failure.
type LinkError struct {
	Op        string // "open", "walk" or "close"
	Namespace string
	Code      unix.Errno
	Err       error
}

func (e *LinkError) Error() string {
	ns := e.Namespace
	if ns == "" {
		ns = "<default>"
	}
	msg := fmt.Sprintf("devlink %s %s", e.Op, ns)
	switch {
	case e.Err != nil:
		return msg + ": " + e.Err.Error()
	case e.Code != 0:
		return msg + ": " + e.Code.Error()
	default:
		return msg + ": provider failed"
	}
}

func (e *LinkError) Unwrap() []error {
	var errs []error
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.Code != 0 {
		errs = append(errs, e.Code)
	}
	return errs
}

// ImageError reports a structural problem in a snapshot image.
type ImageError struct {
	Offset int    // byte offset of the offending record, -1 if not applicable
	Reason string // what was wrong
	Err    error  // ErrCorruptImage or ErrUnsupportedVersion
}

func (e *ImageError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("%v at offset %d: %s", e.Err, e.Offset, e.Reason)
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Reason)
}

func (e *ImageError) Unwrap() error { return e.Err }

func corrupt(offset int, format string, args ...any) error {
	return &ImageError{Offset: offset, Reason: fmt.Sprintf(format, args...), Err: ErrCorruptImage}
}
