package api

import (
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/kiyor/k2share/pkg/core"
	kfs "github.com/kiyor/k2share/pkg/fs"
	"github.com/kiyor/k2share/pkg/token"
)

// folderView is the binding of views/folder.html.
type folderView struct {
	Title   string
	Index   string
	IsRoot  bool
	Parent  string
	Current string
	Dirs    []kfs.Entry
	Files   []kfs.Entry
}

// homeView is the landing page when the served root is a single file.
type homeView struct {
	Title         string
	Name          string
	Token         string
	SizeLabel     string
	ModifiedLabel string
}

// Home shows the served root: its listing when it is a directory, a
// download page when it is a file.
func (r *Router) Home(c *fiber.Ctx) error {
	root := r.b.Root()
	if root == "" {
		return notServing(c)
	}
	fi, err := kfs.Stat(root)
	if err != nil {
		return r.fail(c, err)
	}
	if fi.IsDir() {
		return r.folder(c, root, root)
	}
	name := filepath.Base(root)
	return r.render(c, "home", homeView{
		Title:         name,
		Name:          name,
		Token:         token.Encode(root),
		SizeLabel:     kfs.SizeLabel(fi.Size()),
		ModifiedLabel: kfs.ModTimeLabel(fi.ModTime()),
	})
}

// Folder lists the directory named by ?path=, the root when absent.
func (r *Router) Folder(c *fiber.Ctx) error {
	root := r.b.Root()
	if root == "" {
		return notServing(c)
	}
	p, err := r.resolve(c, root, true)
	if err != nil {
		return r.fail(c, err)
	}
	return r.folder(c, p, root)
}

func (r *Router) folder(c *fiber.Ctx, dir, root string) error {
	if _, err := kfs.StatDir(dir); err != nil {
		return r.fail(c, err)
	}
	dirs, files, err := kfs.List(dir)
	if err != nil {
		return r.fail(c, err)
	}
	isRoot := kfs.Slash(dir) == kfs.Slash(root)
	v := folderView{
		Title:   filepath.Base(dir),
		Index:   kfs.Index(dir, root),
		IsRoot:  isRoot,
		Current: token.Encode(dir),
		Dirs:    dirs,
		Files:   files,
	}
	if !isRoot {
		v.Parent = token.Encode(filepath.Dir(dir))
	}
	return r.render(c, "folder", v)
}

// listResp is the /api/list payload.
type listResp struct {
	Index   string      `json:"index"`
	Current string      `json:"token"`
	Parent  string      `json:"parent,omitempty"`
	Dirs    []kfs.Entry `json:"dirs"`
	Files   []kfs.Entry `json:"files"`
}

// ApiList is the JSON form of Folder.
func (r *Router) ApiList(c *fiber.Ctx) error {
	t1 := time.Now()
	root := r.b.Root()
	if root == "" {
		return NewErrResp(c, fiber.StatusNotFound, 1, msgNotServe)
	}
	p, err := r.resolve(c, root, true)
	if err != nil {
		return r.jsonFail(c, err)
	}
	if _, err := kfs.StatDir(p); err != nil {
		return r.jsonFail(c, err)
	}
	dirs, files, err := kfs.List(p)
	if err != nil {
		return r.jsonFail(c, err)
	}
	t2 := time.Now()
	resp := listResp{
		Index:   kfs.Index(p, root),
		Current: token.Encode(p),
		Dirs:    dirs,
		Files:   files,
	}
	if kfs.Slash(p) != kfs.Slash(root) {
		resp.Parent = token.Encode(filepath.Dir(p))
	}
	return NewResp(c, resp, []time.Duration{t2.Sub(t1)})
}

// dfResp is the /api/df payload.
type dfResp struct {
	Root      string  `json:"root"`
	Total     uint64  `json:"total"`
	Free      uint64  `json:"free"`
	Used      uint64  `json:"used"`
	Percent   float64 `json:"percent"`
	Downloads int64   `json:"downloads"`
}

// ApiDf reports disk usage of the volume holding the served root together
// with the download count.
func (r *Router) ApiDf(c *fiber.Ctx) error {
	root := r.b.Root()
	if root == "" {
		return NewErrResp(c, fiber.StatusNotFound, 1, msgNotServe)
	}
	dir := root
	if fi, err := kfs.Stat(root); err == nil && !fi.IsDir() {
		dir = filepath.Dir(root)
	}
	du, err := core.DiskUsage(dir)
	if err != nil {
		return r.jsonFail(c, err)
	}
	return NewResp(c, dfResp{
		Root:      root,
		Total:     du.Total,
		Free:      du.Free,
		Used:      du.Used,
		Percent:   du.UsedPercent,
		Downloads: r.b.Downloads(),
	}, nil)
}

// ApiArchives lists the archives built or reused in this process.
func (r *Router) ApiArchives(c *fiber.Ctx) error {
	return NewResp(c, r.b.Archiver().Entries(), nil)
}
