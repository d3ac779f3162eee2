package devinfo

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

const cacheVersion = 1

// cacheFlags are handled by CacheProvider and never reach the source.
const cacheFlags = FlagUseCache | FlagCleanupCache

// cacheEntry is the on-disk envelope. Integer keys keep it compact.
type cacheEntry struct {
	Version int       `cbor:"1,keyasint"`
	ID      uuid.UUID `cbor:"2,keyasint"`
	Root    string    `cbor:"3,keyasint"`
	Flags   Flags     `cbor:"4,keyasint"`
	Created time.Time `cbor:"5,keyasint"`
	Image   []byte    `cbor:"6,keyasint"`
}

var (
	cacheEncMode cbor.EncMode
	cacheDecMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
		Time:        cbor.TimeRFC3339Nano,
	}
	cacheEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create cache CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
	}
	cacheDecMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create cache CBOR decoder mode: %v", err))
	}
}

// CacheProvider keeps the last snapshot image in a file, the way the
// kernel keeps a cached snapshot for FlagUseCache. It implements the two
// cache flags itself and passes everything else to Source:
//
//   - FlagCleanupCache removes the cache file before anything else.
//   - FlagUseCache serves a cached image taken with the same root and
//     flags, or takes a fresh one from Source and stores it.
//
// Both flags are privileged, so Acquire needs WithPrivileged to use them.
// Without either flag CacheProvider is a plain pass-through.
type CacheProvider struct {
	// Source produces images on a cache miss.
	Source Provider

	// Path is the cache file.
	Path string

	// MaxAge discards entries older than this. Zero keeps entries forever.
	MaxAge time.Duration

	// Logger receives cache hit and miss events. If nil, nothing is logged.
	Logger *slog.Logger

	now func() time.Time
}

func (c *CacheProvider) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.Logger
}

func (c *CacheProvider) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

// Snapshot implements Provider.
func (c *CacheProvider) Snapshot(root string, flags Flags) (Image, error) {
	log := c.logger()
	if flags.Has(FlagCleanupCache) {
		if err := os.Remove(c.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, &AcquireError{Root: root, Flags: flags, Err: fmt.Errorf("removing cache: %w", err)}
		}
		log.Debug("snapshot cache removed", "path", c.Path)
	}

	want := flags &^ cacheFlags
	if flags.Has(FlagUseCache) {
		if e, err := c.read(); err != nil {
			log.Debug("snapshot cache unreadable", "path", c.Path, "error", err)
		} else if c.matches(e, root, want) {
			if _, err := parseImage(e.Image); err != nil {
				log.Debug("snapshot cache entry corrupt", "path", c.Path, "entry_id", e.ID, "error", err)
			} else {
				log.Debug("snapshot cache hit", "path", c.Path, "entry_id", e.ID, "created", e.Created)
				return NewImage(e.Image, nil), nil
			}
		}
		log.Debug("snapshot cache miss", "path", c.Path, "root", root)
	}

	src := c.Source
	if src == nil {
		src = DefaultProvider()
	}
	img, err := src.Snapshot(root, want)
	if err != nil {
		return nil, err
	}
	if flags.Has(FlagUseCache) {
		if err := c.write(root, want, img.Bytes()); err != nil {
			// The snapshot is still good; only the cache is lost.
			log.Warn("snapshot cache write failed", "path", c.Path, "error", err)
		}
	}
	return img, nil
}

func (c *CacheProvider) matches(e *cacheEntry, root string, flags Flags) bool {
	if e.Version != cacheVersion || e.Root != root || e.Flags != flags {
		return false
	}
	if c.MaxAge > 0 && c.clock().Sub(e.Created) > c.MaxAge {
		return false
	}
	return true
}

func (c *CacheProvider) read() (*cacheEntry, error) {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return nil, err
	}
	var e cacheEntry
	if err := cacheDecMode.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decoding cache: %w", err)
	}
	return &e, nil
}

// write replaces the cache file atomically.
func (c *CacheProvider) write(root string, flags Flags, image []byte) error {
	data, err := cacheEncMode.Marshal(cacheEntry{
		Version: cacheVersion,
		ID:      uuid.New(),
		Root:    root,
		Flags:   flags,
		Created: c.clock(),
		Image:   image,
	})
	if err != nil {
		return fmt.Errorf("encoding cache: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.Path), ".devinfo-cache-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), c.Path)
}
