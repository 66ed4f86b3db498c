// Package api routes browser requests: listing pages, inline file views,
// downloads of files and zipped folders, and the one-click /served download.
package api

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	iofs "io/fs"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/template/html/v2"
	"github.com/yosssi/gohtml"

	"github.com/kiyor/k2share/pkg/archive"
	"github.com/kiyor/k2share/pkg/core"
	kfs "github.com/kiyor/k2share/pkg/fs"
	"github.com/kiyor/k2share/pkg/lib"
	"github.com/kiyor/k2share/pkg/metrics"
	"github.com/kiyor/k2share/pkg/token"
	"github.com/kiyor/k2share/pkg/webdav_handler"
)

//go:embed views/*.html
var views embed.FS

const (
	msgNotFound = "Path not found!"
	msgNotServe = "No file is served"
	msgBadToken = "Bad path token"
)

// Backend is what the router reads at request time. The server controller
// implements it; the router holds the reference, never a copy of its state.
type Backend interface {
	Root() string
	Archiver() *archive.Archiver
	CountDownload(lib.DownloadEvent) int64
	Downloads() int64
}

// Options toggles the optional mounts.
type Options struct {
	Pretty  bool
	WebDAV  bool
	Metrics bool
	Logger  *core.LogHandler
}

// Router owns the Fiber routes of one serving session.
type Router struct {
	b      Backend
	opts   Options
	engine *html.Engine
	l      *log.Logger
}

// New builds a Router over b.
func New(b Backend, opts Options) *Router {
	r := &Router{
		b:    b,
		opts: opts,
		l:    core.NewLogger("@{m}", "api"),
	}
	sub, err := iofs.Sub(views, "views")
	if err != nil {
		panic(err)
	}
	engine := html.NewFileSystem(http.FS(sub), ".html")
	engine.Delims("[[", "]]")
	engine.AddFunc("nav", nav)
	engine.AddFunc("rand", latestNonce)
	engine.AddFunc("hash", core.Hash)
	if err := engine.Load(); err != nil {
		panic(err)
	}
	r.engine = engine
	return r
}

// nav renders the query suffix of a navigation link. The rand value only
// defeats browser caches.
func nav(tok string) string {
	return fmt.Sprintf("?path=%s&rand=%d", tok, rand.Intn(2001))
}

// latestNonce is the cache buster of the served links. It is never 0 so that
// ?latest=<nonce> always asks for a fresh archive.
func latestNonce() int {
	return 1 + rand.Intn(2000)
}

// App returns a fresh Fiber app with every route mounted.
func (r *Router) App() *fiber.App {
	cfg := fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          r.errorHandler,
	}
	if r.opts.WebDAV {
		cfg.RequestMethods = append(append([]string{}, fiber.DefaultMethods...), webdav_handler.Methods...)
	}
	app := fiber.New(cfg)
	if r.opts.Logger != nil {
		app.Use(r.opts.Logger.Handler())
	}

	app.Get("/", r.Home)
	app.Get("/folder", r.Folder)
	app.Get("/file", r.File)
	app.Get("/download", r.Download)
	app.Get("/served", r.Served)

	api := app.Group("/api")
	api.Get("/list", r.ApiList)
	api.Get("/df", r.ApiDf)
	api.Get("/archives", r.ApiArchives)

	if r.opts.Metrics {
		app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	}
	if r.opts.WebDAV {
		app.Use(webdav_handler.Prefix, webdav_handler.NewHandler(r.b.Root))
	}
	return app
}

func (r *Router) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	} else {
		r.l.Println(c.OriginalURL(), err)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.Status(code).SendString(http.StatusText(code))
}

// fail answers a handler error with the plain-text body browsers expect.
func (r *Router) fail(c *fiber.Ctx, err error) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	switch {
	case errors.Is(err, token.ErrMalformed):
		return c.Status(fiber.StatusBadRequest).SendString(msgBadToken)
	case kfs.IsMissing(err):
		return c.Status(fiber.StatusNotFound).SendString(msgNotFound)
	}
	r.l.Println(c.OriginalURL(), err)
	return c.Status(fiber.StatusInternalServerError).SendString(http.StatusText(fiber.StatusInternalServerError))
}

func notServing(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.Status(fiber.StatusNotFound).SendString(msgNotServe)
}

// resolve decodes the path query and checks it against the served root. An
// absent query resolves to the root when optional is set.
func (r *Router) resolve(c *fiber.Ctx, root string, optional bool) (string, error) {
	raw := c.Query("path")
	if raw == "" {
		if optional {
			return root, nil
		}
		return "", fmt.Errorf("%w: missing path", token.ErrMalformed)
	}
	p, err := token.Decode(raw)
	if err != nil {
		return "", err
	}
	if err := kfs.EnsureContained(p, root); err != nil {
		return "", err
	}
	return p, nil
}

func (r *Router) render(c *fiber.Ctx, name string, data interface{}) error {
	var buf bytes.Buffer
	if err := r.engine.Render(&buf, name, data); err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	c.Set(fiber.HeaderCacheControl, "no-store")
	if r.opts.Pretty {
		return c.SendString(gohtml.Format(buf.String()))
	}
	return c.Send(buf.Bytes())
}

// ParseLatest reads the latest query value. Absent or a false boolean means
// reuse; a true boolean or any other non-empty value forces a fresh archive.
func ParseLatest(v string) bool {
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return b
}

// Resp is the JSON envelope of the /api routes.
type Resp struct {
	Code int         `json:"code"`
	Data interface{} `json:"data"`
}

// NewResp sends a JSON response.
func NewResp(c *fiber.Ctx, data interface{}, durs []time.Duration, code ...int) error {
	r := &Resp{Data: data}
	if len(code) > 0 {
		r.Code = code[0]
	}
	c.Set("Access-Control-Allow-Origin", "*")
	c.Set("Access-Control-Allow-Methods", "GET,OPTIONS")
	for k, dur := range durs {
		c.Set(fmt.Sprintf("X-Profile-%d", k), dur.String())
	}
	return c.Status(fiber.StatusOK).JSON(r)
}

// NewErrResp sends a JSON error response.
func NewErrResp(c *fiber.Ctx, httpStatusCode int, appErrorCode int, errMsg string) error {
	return c.Status(httpStatusCode).JSON(&Resp{
		Code: appErrorCode,
		Data: errMsg,
	})
}

// jsonFail is fail for the /api routes.
func (r *Router) jsonFail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, token.ErrMalformed):
		return NewErrResp(c, fiber.StatusBadRequest, 1, msgBadToken)
	case kfs.IsMissing(err):
		return NewErrResp(c, fiber.StatusNotFound, 1, msgNotFound)
	}
	r.l.Println(c.OriginalURL(), err)
	return NewErrResp(c, fiber.StatusInternalServerError, 1, err.Error())
}
