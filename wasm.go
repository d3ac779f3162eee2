package devinfo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"slices"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"golang.org/x/sys/unix"
	"google.golang.org/protobuf/encoding/protowire"
)

// Guest exports making up the provider ABI.
const (
	exportAlloc     = "devinfo_alloc"
	exportDealloc   = "devinfo_dealloc"
	exportSnapshot  = "devinfo_snapshot"
	exportRelease   = "devinfo_release"
	exportLastError = "devinfo_last_error"
)

// Fields of the guest's last-error record.
const (
	lastErrorErrno   protowire.Number = 1
	lastErrorMessage protowire.Number = 2
)

// WASMOptions configures NewWASMProviderWithOptions.
type WASMOptions struct {
	// WASI instantiates wasi_snapshot_preview1 for guests built against it.
	WASI bool

	// FS is mounted at "/" in the guest when WASI is set, e.g. a directory
	// holding fixture trees. If nil, the guest has no filesystem.
	FS fs.FS

	// Stderr receives the guest's stderr when WASI is set.
	Stderr io.Writer

	// Logger receives debug output. If nil, nothing is logged.
	Logger *slog.Logger
}

// WASMProvider hosts a guest module that produces snapshot images, using
// wazero. Images are not copied out of guest memory: each Image is a view
// of the guest buffer, which the guest keeps unchanged until
// devinfo_release.
//
// WASMProvider is NOT safe for concurrent use.
type WASMProvider struct {
	ctx     context.Context
	runtime wazero.Runtime
	module  api.Module
	logger  *slog.Logger

	// Cached function exports
	fnAlloc     api.Function
	fnDealloc   api.Function
	fnSnapshot  api.Function
	fnRelease   api.Function
	fnLastError api.Function

	live int // images not yet released
}

// NewWASMProvider instantiates a provider guest.
//
// The context is used for the lifetime of the provider. Call Close() when
// done.
func NewWASMProvider(ctx context.Context, wasm []byte) (*WASMProvider, error) {
	return NewWASMProviderWithOptions(ctx, wasm, WASMOptions{})
}

// NewWASMProviderWithOptions instantiates a provider guest with custom
// options.
func NewWASMProviderWithOptions(ctx context.Context, wasm []byte, opts WASMOptions) (*WASMProvider, error) {
	if len(wasm) == 0 {
		return nil, errors.New("empty WASM module")
	}

	runtime := wazero.NewRuntime(ctx)

	cfg := wazero.NewModuleConfig().WithStartFunctions("_initialize")
	if opts.WASI {
		wasi_snapshot_preview1.MustInstantiate(ctx, runtime)
		if opts.FS != nil {
			cfg = cfg.WithFSConfig(wazero.NewFSConfig().WithFSMount(opts.FS, "/"))
		}
		if opts.Stderr != nil {
			cfg = cfg.WithStderr(opts.Stderr)
		}
	}

	compiled, err := runtime.CompileModule(ctx, wasm)
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("compiling wasm: %w", err)
	}
	module, err := runtime.InstantiateModule(ctx, compiled, cfg)
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("instantiating wasm: %w", err)
	}

	p := &WASMProvider{
		ctx:         ctx,
		runtime:     runtime,
		module:      module,
		logger:      opts.Logger,
		fnAlloc:     module.ExportedFunction(exportAlloc),
		fnDealloc:   module.ExportedFunction(exportDealloc),
		fnSnapshot:  module.ExportedFunction(exportSnapshot),
		fnRelease:   module.ExportedFunction(exportRelease),
		fnLastError: module.ExportedFunction(exportLastError),
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}

	// Validate all exports exist
	var missing []string
	if module.Memory() == nil {
		missing = append(missing, "memory")
	}
	for name, fn := range map[string]api.Function{
		exportAlloc:     p.fnAlloc,
		exportDealloc:   p.fnDealloc,
		exportSnapshot:  p.fnSnapshot,
		exportRelease:   p.fnRelease,
		exportLastError: p.fnLastError,
	} {
		if fn == nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		_ = runtime.Close(ctx)
		slices.Sort(missing)
		return nil, fmt.Errorf("%w: %v", ErrMissingExports, missing)
	}

	return p, nil
}

// Close tears down the guest. Images still held by snapshots keep their
// bytes, but must not be released afterwards.
func (p *WASMProvider) Close() error {
	if p.live > 0 {
		p.logger.Debug("closing WASM provider with live images", "live", p.live)
	}
	return p.runtime.Close(p.ctx)
}

// Snapshot implements Provider.
func (p *WASMProvider) Snapshot(root string, flags Flags) (Image, error) {
	var pathPtr, pathLen uint32
	if root != "" {
		pathLen = uint32(len(root))
		results, err := p.fnAlloc.Call(p.ctx, uint64(pathLen))
		if err != nil {
			return nil, fmt.Errorf("alloc failed: %w", err)
		}
		pathPtr = uint32(results[0])
		if pathPtr == 0 {
			return nil, &AcquireError{Root: root, Flags: flags, Code: unix.ENOMEM, Err: errors.New("guest allocation failed")}
		}
		// Dealloc errors ignored: memory is reclaimed when the guest is
		// closed regardless.
		defer func() { _, _ = p.fnDealloc.Call(p.ctx, uint64(pathPtr), uint64(pathLen)) }()

		if !p.module.Memory().Write(pathPtr, []byte(root)) {
			return nil, fmt.Errorf("memory write failed")
		}
	}

	results, err := p.fnSnapshot.Call(p.ctx, uint64(pathPtr), uint64(pathLen), uint64(uint32(flags)))
	if err != nil {
		return nil, fmt.Errorf("snapshot call failed: %w", err)
	}
	ptr := uint32(results[0])
	if ptr == 0 {
		code, msg := p.lastError()
		return nil, &AcquireError{Root: root, Flags: flags, Code: code, Err: errors.New(msg)}
	}

	buf, err := p.readLengthPrefixed(ptr)
	if err != nil {
		_, _ = p.fnRelease.Call(p.ctx, uint64(ptr))
		return nil, err
	}
	p.live++
	p.logger.Debug("guest snapshot", "root", root, "ptr", ptr, "bytes", len(buf))
	return &wasmImage{p: p, ptr: ptr, buf: buf}, nil
}

// readLengthPrefixed returns a view of the length-prefixed buffer at ptr.
// If guest memory later grows the view keeps the old backing array, which
// still holds the same bytes.
func (p *WASMProvider) readLengthPrefixed(ptr uint32) ([]byte, error) {
	mem := p.module.Memory()
	n, ok := mem.ReadUint32Le(ptr)
	if !ok {
		return nil, fmt.Errorf("failed to read image length")
	}
	buf, ok := mem.Read(ptr+4, n)
	if !ok {
		return nil, fmt.Errorf("failed to read image data")
	}
	return buf, nil
}

// lastError reads the guest's last-error record.
func (p *WASMProvider) lastError() (unix.Errno, string) {
	results, err := p.fnLastError.Call(p.ctx)
	if err != nil || results[0] == 0 {
		return 0, "unknown error"
	}
	rec, err := p.readLengthPrefixed(uint32(results[0]))
	if err != nil {
		return 0, "unknown error"
	}
	code, msg, err := decodeLastError(rec)
	if err != nil {
		return 0, fmt.Sprintf("undecodable error record: %v", err)
	}
	if msg == "" {
		msg = "provider failed"
	}
	return code, msg
}

// decodeLastError parses field 1 (errno, varint) and field 2 (message).
// Unknown fields are skipped.
func decodeLastError(b []byte) (unix.Errno, string, error) {
	var (
		code unix.Errno
		msg  string
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, "", protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == lastErrorErrno && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, "", protowire.ParseError(n)
			}
			code = unix.Errno(v)
			b = b[n:]
		case num == lastErrorMessage && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, "", protowire.ParseError(n)
			}
			msg = string(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return 0, "", protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return code, msg, nil
}

// appendLastError encodes a last-error record.
func appendLastError(b []byte, code unix.Errno, msg string) []byte {
	b = protowire.AppendTag(b, lastErrorErrno, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(code))
	b = protowire.AppendTag(b, lastErrorMessage, protowire.BytesType)
	return protowire.AppendString(b, msg)
}

type wasmImage struct {
	p   *WASMProvider
	ptr uint32
	buf []byte
}

func (w *wasmImage) Bytes() []byte { return w.buf }

func (w *wasmImage) Release() error {
	w.buf = nil
	w.p.live--
	if _, err := w.p.fnRelease.Call(w.p.ctx, uint64(w.ptr)); err != nil {
		return fmt.Errorf("release call failed: %w", err)
	}
	return nil
}
