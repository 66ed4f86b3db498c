// Package server owns the lifecycle of the share: one configured root and
// port, one listener, and a Fiber app bound to it while running.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v2"
	"github.com/shirou/gopsutil/disk"

	"github.com/kiyor/k2share/pkg/api"
	"github.com/kiyor/k2share/pkg/archive"
	"github.com/kiyor/k2share/pkg/core"
	kfs "github.com/kiyor/k2share/pkg/fs"
	"github.com/kiyor/k2share/pkg/lib"
	"github.com/kiyor/k2share/pkg/metrics"
)

var (
	// ErrPortUnavailable is returned by Start when the port cannot be bound.
	ErrPortUnavailable = errors.New("port unavailable")
	// ErrNotStopped is returned when reconfiguring a server that is not
	// stopped.
	ErrNotStopped = errors.New("server is not stopped")
	// ErrNotConfigured is returned by Start before any root was set.
	ErrNotConfigured = errors.New("no root configured")
	// ErrBadPort is returned by Configure for ports outside 0-65535.
	ErrBadPort = errors.New("port out of range")
)

// State is the lifecycle state of a Controller.
type State int

const (
	Stopped State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// Controller starts and stops the HTTP service. All methods are safe for
// concurrent use.
type Controller struct {
	mu    sync.RWMutex
	cfg   core.Config
	state State
	app   *fiber.App
	ln    net.Listener
	done  chan struct{}

	archiver  *archive.Archiver
	downloads atomic.Int64
	sinks     lib.Sinks
	logger    *core.LogHandler
	l         *log.Logger
}

// New returns a stopped Controller. A non-empty cfg.Root is validated as by
// Configure.
func New(cfg core.Config, sinks ...lib.Sink) (*Controller, error) {
	c := &Controller{
		cfg:      cfg,
		archiver: archive.New(0),
		sinks:    sinks,
		logger:   core.NewLogHandler(),
		l:        core.NewLogger("@{c}", "serve"),
	}
	if cfg.Root != "" {
		if err := c.Configure(cfg.Root, cfg.Port); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// SetLogHandler replaces the request logger used by apps started after the
// call.
func (c *Controller) SetLogHandler(h *core.LogHandler) {
	c.mu.Lock()
	c.logger = h
	c.mu.Unlock()
}

// Configure sets the root and port. It is only allowed while stopped; the
// root must exist and is stored absolute.
func (c *Controller) Configure(root string, port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("%w: %d", ErrBadPort, port)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	if _, err := kfs.Stat(abs); err != nil {
		return fmt.Errorf("root %s: %w", root, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Stopped {
		return fmt.Errorf("%w: %s", ErrNotStopped, c.state)
	}
	c.cfg.Root = abs
	c.cfg.Port = port
	return nil
}

// Start binds the port and begins serving. Calling it while starting,
// running or stopping returns the current state and does nothing.
func (c *Controller) Start() (State, error) {
	c.mu.Lock()
	if c.state != Stopped {
		s := c.state
		c.mu.Unlock()
		return s, nil
	}
	if c.cfg.Root == "" {
		c.mu.Unlock()
		return Stopped, ErrNotConfigured
	}
	c.state = Starting
	cfg := c.cfg
	logger := c.logger
	c.mu.Unlock()

	addr := net.JoinHostPort(cfg.Interface, strconv.Itoa(cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		c.mu.Lock()
		c.state = Stopped
		c.mu.Unlock()
		return Stopped, fmt.Errorf("%w: %s: %v", ErrPortUnavailable, addr, err)
	}

	app := api.New(c, api.Options{
		Pretty:  cfg.Pretty,
		WebDAV:  cfg.WebDAV,
		Metrics: cfg.Metrics,
		Logger:  logger,
	}).App()
	done := make(chan struct{})

	c.mu.Lock()
	c.app = app
	c.ln = ln
	c.done = done
	c.state = Running
	c.mu.Unlock()

	go c.serve(app, ln, done)
	metrics.SetRunning(true)
	c.l.Printf("serving %s on %s", cfg.Root, ln.Addr())
	return Running, nil
}

func (c *Controller) serve(app *fiber.App, ln net.Listener, done chan struct{}) {
	defer close(done)
	err := app.Listener(ln)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != done || c.state != Running {
		return
	}
	// listener died without Stop
	c.l.Println("serve exited:", err)
	c.reset()
}

// reset drops the running app. Callers hold mu.
func (c *Controller) reset() {
	c.state = Stopped
	c.app = nil
	c.ln = nil
	c.done = nil
	metrics.SetRunning(false)
}

// Stop shuts the app down, waiting for in-flight requests until ctx ends.
// Calling it while not running returns the current state and does nothing.
func (c *Controller) Stop(ctx context.Context) (State, error) {
	c.mu.Lock()
	if c.state != Running {
		s := c.state
		c.mu.Unlock()
		return s, nil
	}
	c.state = Stopping
	app, ln, done := c.app, c.ln, c.done
	c.mu.Unlock()

	err := app.ShutdownWithContext(ctx)
	// Serve may not have picked the listener up yet
	ln.Close()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}

	c.mu.Lock()
	c.reset()
	c.mu.Unlock()
	c.l.Println("stopped")
	return Stopped, err
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Root returns the configured root, empty before Configure.
func (c *Controller) Root() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.Root
}

// Port returns the configured port.
func (c *Controller) Port() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.Port
}

// Addr is the bound address while running, empty otherwise.
func (c *Controller) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.ln == nil {
		return ""
	}
	return c.ln.Addr().String()
}

// Archiver returns the archiver shared by every app this controller starts.
func (c *Controller) Archiver() *archive.Archiver {
	return c.archiver
}

// Downloads returns how many download responses were started since the
// process began. Restarts do not reset it.
func (c *Controller) Downloads() int64 {
	return c.downloads.Load()
}

// CountDownload increments the counter and reports the event to the sinks.
func (c *Controller) CountDownload(e lib.DownloadEvent) int64 {
	n := c.downloads.Add(1)
	e.Count = n
	metrics.DownloadStarted(e.Kind)

	c.mu.RLock()
	sinks := append(lib.Sinks(nil), c.sinks...)
	c.mu.RUnlock()
	if len(sinks) > 0 {
		go sinks.Record(e)
	}
	c.l.Printf("download #%d %s %s (%s) to %s", n, e.Route, filepath.Base(e.Path), humanize.Bytes(uint64(e.Size)), e.Remote)
	return n
}

// Status is a point-in-time view for the front-end.
type Status struct {
	State     string          `json:"state"`
	Root      string          `json:"root"`
	Port      int             `json:"port"`
	Addr      string          `json:"addr,omitempty"`
	URL       string          `json:"url,omitempty"`
	Downloads int64           `json:"downloads"`
	Archives  int64           `json:"archives_built"`
	Disk      *disk.UsageStat `json:"disk,omitempty"`
}

// Snapshot collects the current Status. The URL uses the first non-loopback
// IPv4 address when the server listens on all interfaces.
func (c *Controller) Snapshot() Status {
	c.mu.RLock()
	st := Status{
		State:     c.state.String(),
		Root:      c.cfg.Root,
		Port:      c.cfg.Port,
		Downloads: c.downloads.Load(),
		Archives:  c.archiver.Builds(),
	}
	iface := c.cfg.Interface
	if c.ln != nil {
		st.Addr = c.ln.Addr().String()
	}
	c.mu.RUnlock()

	if st.Addr != "" {
		st.URL = shareURL(iface, st.Addr)
	}
	if st.Root != "" {
		dir := st.Root
		if fi, err := kfs.Stat(dir); err == nil && !fi.IsDir() {
			dir = filepath.Dir(dir)
		}
		if du, err := core.DiskUsage(dir); err == nil {
			st.Disk = du
		}
	}
	return st
}

func shareURL(iface, addr string) string {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return ""
	}
	host := iface
	if host == "" || host == "0.0.0.0" || host == "::" {
		ip, err := core.LocalIPv4()
		if err != nil {
			ip = "127.0.0.1"
		}
		host = ip
	}
	return "http://" + net.JoinHostPort(host, port) + "/"
}
