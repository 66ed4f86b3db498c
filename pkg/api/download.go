package api

import (
	"context"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gofiber/fiber/v2"

	"github.com/kiyor/k2share/pkg/archive"
	kfs "github.com/kiyor/k2share/pkg/fs"
	"github.com/kiyor/k2share/pkg/lib"
)

// File streams a file inline so the browser can display it.
func (r *Router) File(c *fiber.Ctx) error {
	root := r.b.Root()
	if root == "" {
		return notServing(c)
	}
	p, err := r.resolve(c, root, false)
	if err != nil {
		return r.fail(c, err)
	}
	fi, err := kfs.Stat(p)
	if err != nil {
		return r.fail(c, err)
	}
	if !fi.IsDir() && !fi.Mode().IsRegular() {
		return r.fail(c, kfs.ErrNotFound)
	}
	if fi.IsDir() {
		return r.folder(c, p, root)
	}
	f, err := os.Open(p)
	if err != nil {
		return r.fail(c, err)
	}
	c.Type(filepath.Ext(p))
	c.Set(fiber.HeaderLastModified, fi.ModTime().UTC().Format(http.TimeFormat))
	return c.SendStream(f, int(fi.Size()))
}

// Download sends the target as an attachment. Directories are re-packed on
// every request so the archive reflects the folder as it is now.
func (r *Router) Download(c *fiber.Ctx) error {
	root := r.b.Root()
	if root == "" {
		return notServing(c)
	}
	p, err := r.resolve(c, root, false)
	if err != nil {
		return r.fail(c, err)
	}
	return r.deliver(c, p, true, "/download")
}

// Served downloads the whole served root. A directory root is sent as its
// cached archive unless ?latest asks for a fresh one.
func (r *Router) Served(c *fiber.Ctx) error {
	root := r.b.Root()
	if root == "" {
		return notServing(c)
	}
	return r.deliver(c, root, ParseLatest(c.Query("latest")), "/served")
}

func (r *Router) deliver(c *fiber.Ctx, p string, forceFresh bool, route string) error {
	fi, err := kfs.Stat(p)
	if err != nil {
		return r.fail(c, err)
	}
	name := filepath.Base(p)
	send := p
	kind := "file"
	if fi.IsDir() {
		// fasthttp closes the request context on shutdown; builds run to
		// completion regardless.
		send, err = r.b.Archiver().PackageDirectory(context.Background(), p, forceFresh)
		if err != nil {
			return r.fail(c, err)
		}
		name += archive.Ext
		kind = "zip"
	} else if !fi.Mode().IsRegular() {
		return r.fail(c, kfs.ErrNotFound)
	}

	f, err := os.Open(send)
	if err != nil {
		return r.fail(c, err)
	}
	sfi, err := f.Stat()
	if err != nil {
		f.Close()
		return r.fail(c, err)
	}

	e := lib.NewDownloadEvent(kind, route, send)
	e.Source = p
	e.Remote = c.IP()
	e.Size = sfi.Size()
	r.b.CountDownload(e)

	c.Attachment(name)
	return c.SendStream(f, int(sfi.Size()))
}
