// Package archive packs served directories into zip files that sit next to
// the source directory and are reused until a fresh build is requested.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluele/gcache"
	"github.com/dustin/go-humanize"
	"github.com/kiyor/terminal/color"
	"github.com/klauspost/compress/flate"

	kfs "github.com/kiyor/k2share/pkg/fs"
	"github.com/kiyor/k2share/pkg/metrics"
)

// Ext is appended to the source directory to name its archive.
const Ext = ".zip"

// SkipDirs are directory names never packed, at any depth below the source.
var SkipDirs = []string{"__pycache__"}

// ErrIO wraps read and write failures during a build.
var ErrIO = errors.New("archive io error")

// Entry records the last archive produced or found for a source directory.
type Entry struct {
	SourcePath  string    `json:"source"`
	ArchivePath string    `json:"archive"`
	BuiltAt     time.Time `json:"built_at"`
}

// Archiver builds directory archives. Builds of the same source are
// serialized; different sources build in parallel.
type Archiver struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex

	registry gcache.Cache
	builds   atomic.Int64
	l        *log.Logger
}

// New returns an Archiver whose registry remembers up to size sources.
func New(size int) *Archiver {
	if size <= 0 {
		size = 256
	}
	return &Archiver{
		locks:    make(map[string]*sync.Mutex),
		registry: gcache.New(size).LRU().Build(),
		l:        log.New(os.Stdout, color.Sprint("@{y}[zip]@{|} "), log.LstdFlags),
	}
}

// PathFor returns where the archive of src lives.
func PathFor(src string) string {
	return filepath.Clean(src) + Ext
}

func (a *Archiver) lock(src string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.locks[src]
	if !ok {
		m = new(sync.Mutex)
		a.locks[src] = m
	}
	return m
}

// PackageDirectory returns the archive path for dir. An existing archive is
// returned untouched unless forceFresh is set; otherwise the tree is packed
// again and the new file replaces the old one with a rename, so readers that
// already opened the previous archive keep a consistent file.
func (a *Archiver) PackageDirectory(ctx context.Context, dir string, forceFresh bool) (string, error) {
	src, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if _, err := kfs.StatDir(src); err != nil {
		return "", err
	}
	dst := PathFor(src)

	m := a.lock(src)
	m.Lock()
	defer m.Unlock()

	if !forceFresh {
		if fi, err := os.Stat(dst); err == nil && fi.Mode().IsRegular() {
			if _, err := a.registry.Get(src); err != nil {
				a.registry.Set(src, Entry{SourcePath: src, ArchivePath: dst, BuiltAt: fi.ModTime()})
			}
			metrics.ArchiveCacheHit()
			return dst, nil
		}
	}

	t1 := time.Now()
	n, size, err := a.build(ctx, src, dst)
	metrics.ObserveArchiveBuild(time.Since(t1), err)
	if err != nil {
		a.l.Printf("%s -> %s failed: %v", src, dst, err)
		return "", err
	}
	a.builds.Add(1)
	a.registry.Set(src, Entry{SourcePath: src, ArchivePath: dst, BuiltAt: time.Now()})
	a.l.Printf("%s -> %s (%d files, %s) in %v", src, dst, n, humanize.Bytes(uint64(size)), time.Since(t1))
	return dst, nil
}

func (a *Archiver) build(ctx context.Context, src, dst string) (files int, size int64, err error) {
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	zw := zip.NewWriter(tmp)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	base := filepath.Base(src)
	err = filepath.WalkDir(src, func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if p != src && skipped(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		fi, err := os.Stat(p)
		if err != nil || !fi.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		if err := addFile(zw, p, base+"/"+filepath.ToSlash(rel), fi); err != nil {
			return err
		}
		files++
		return nil
	})
	if err != nil {
		zw.Close()
		return 0, 0, err
	}
	if err = zw.Close(); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrIO, err)
	}
	if size, err = tmp.Seek(0, io.SeekCurrent); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err = tmp.Close(); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err = os.Rename(tmp.Name(), dst); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return files, size, nil
}

func addFile(zw *zip.Writer, p, name string, fi os.FileInfo) error {
	f, err := os.Open(p)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer f.Close()

	h, err := zip.FileInfoHeader(fi)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	h.Name = name
	h.Method = zip.Deflate
	w, err := zw.CreateHeader(h)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrIO, p, err)
	}
	return nil
}

func skipped(name string) bool {
	for _, v := range SkipDirs {
		if name == v {
			return true
		}
	}
	return false
}

// Builds is the number of archives written by this Archiver.
func (a *Archiver) Builds() int64 {
	return a.builds.Load()
}

// Lookup returns the registry entry for a source directory.
func (a *Archiver) Lookup(dir string) (Entry, bool) {
	src, err := filepath.Abs(dir)
	if err != nil {
		return Entry{}, false
	}
	v, err := a.registry.Get(src)
	if err != nil {
		return Entry{}, false
	}
	e, ok := v.(Entry)
	return e, ok
}

// Entries lists every remembered source.
func (a *Archiver) Entries() []Entry {
	all := a.registry.GetALL(false)
	out := make([]Entry, 0, len(all))
	for _, v := range all {
		if e, ok := v.(Entry); ok {
			out = append(out, e)
		}
	}
	return out
}
