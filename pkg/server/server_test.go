package server

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kiyor/k2share/pkg/core"
	"github.com/kiyor/k2share/pkg/lib"
	"github.com/kiyor/k2share/pkg/token"
)

var client = &http.Client{
	Timeout:   10 * time.Second,
	Transport: &http.Transport{DisableKeepAlives: true},
}

func writeFile(t *testing.T, p, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// shareTree creates <tmp>/share with a.txt and sub/b.txt.
func shareTree(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "share")
	writeFile(t, filepath.Join(root, "a.txt"), "alpha")
	writeFile(t, filepath.Join(root, "sub", "b.txt"), "bravo")
	return root
}

func newController(t *testing.T, root string, sinks ...lib.Sink) *Controller {
	t.Helper()
	c, err := New(core.Config{Root: root, Interface: "127.0.0.1"}, sinks...)
	if err != nil {
		t.Fatal(err)
	}
	c.SetLogHandler(quietLog())
	t.Cleanup(func() {
		c.Stop(context.Background())
	})
	return c
}

func quietLog() *core.LogHandler {
	h := core.NewLogHandler()
	h.Set(io.Discard, "", 0)
	return h
}

func get(t *testing.T, c *Controller, uri string) (*http.Response, []byte) {
	t.Helper()
	resp, err := client.Get("http://" + c.Addr() + uri)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, b
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{Stopped: "stopped", Starting: "starting", Running: "running", Stopping: "stopping", State(9): "state(9)"} {
		if s.String() != want {
			t.Errorf("%d: %q", s, s.String())
		}
	}
}

func TestLifecycle(t *testing.T) {
	root := shareTree(t)
	c := newController(t, root)
	if c.State() != Stopped {
		t.Fatalf("initial state %s", c.State())
	}
	if s, err := c.Stop(context.Background()); err != nil || s != Stopped {
		t.Fatalf("stop while stopped: %s %v", s, err)
	}

	s, err := c.Start()
	if err != nil || s != Running {
		t.Fatalf("start: %s %v", s, err)
	}
	addr := c.Addr()
	if addr == "" {
		t.Fatal("no address while running")
	}
	if s, err := c.Start(); err != nil || s != Running || c.Addr() != addr {
		t.Fatalf("second start: %s %v %s", s, err, c.Addr())
	}
	if err := c.Configure(root, 0); !errors.Is(err, ErrNotStopped) {
		t.Fatalf("configure while running: %v", err)
	}

	resp, body := get(t, c, "/")
	if resp.StatusCode != 200 || !strings.Contains(string(body), "a.txt") {
		t.Fatalf("index: %d %s", resp.StatusCode, body)
	}

	if s, err := c.Stop(context.Background()); err != nil || s != Stopped {
		t.Fatalf("stop: %s %v", s, err)
	}
	if c.Addr() != "" {
		t.Fatalf("address after stop: %s", c.Addr())
	}
	if _, err := client.Get("http://" + addr + "/"); err == nil {
		t.Fatal("server still answering after stop")
	}
}

func TestNotConfigured(t *testing.T) {
	c, err := New(core.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if s, err := c.Start(); !errors.Is(err, ErrNotConfigured) || s != Stopped {
		t.Fatalf("%s %v", s, err)
	}
}

func TestConfigure(t *testing.T) {
	c, err := New(core.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Configure(filepath.Join(t.TempDir(), "nope"), 0); err == nil {
		t.Fatal("missing root accepted")
	}
	if err := c.Configure(t.TempDir(), 70000); !errors.Is(err, ErrBadPort) {
		t.Fatalf("bad port: %v", err)
	}
	dir := t.TempDir()
	wd, _ := os.Getwd()
	rel, err := filepath.Rel(wd, dir)
	if err != nil {
		t.Skip(err)
	}
	if err := c.Configure(rel, 8080); err != nil {
		t.Fatal(err)
	}
	if c.Root() != dir || c.Port() != 8080 {
		t.Fatalf("%s %d", c.Root(), c.Port())
	}
}

func TestPortUnavailable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	c := newController(t, shareTree(t))
	if err := c.Configure(c.Root(), port); err != nil {
		t.Fatal(err)
	}
	s, err := c.Start()
	if !errors.Is(err, ErrPortUnavailable) {
		t.Fatalf("want ErrPortUnavailable, got %v", err)
	}
	if s != Stopped || c.State() != Stopped {
		t.Fatalf("state %s / %s", s, c.State())
	}

	ln.Close()
	if s, err := c.Start(); err != nil || s != Running {
		t.Fatalf("start after release: %s %v", s, err)
	}
}

func TestRestartWithNewRoot(t *testing.T) {
	first := filepath.Join(t.TempDir(), "first")
	writeFile(t, filepath.Join(first, "one.txt"), "1")
	second := filepath.Join(t.TempDir(), "second")
	writeFile(t, filepath.Join(second, "two.txt"), "2")

	c := newController(t, first)
	if _, err := c.Start(); err != nil {
		t.Fatal(err)
	}
	_, body := get(t, c, "/")
	if !strings.Contains(string(body), "one.txt") {
		t.Fatalf("first root not listed: %s", body)
	}
	if _, err := c.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := c.Configure(second, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Start(); err != nil {
		t.Fatal(err)
	}
	_, body = get(t, c, "/")
	if !strings.Contains(string(body), "two.txt") || strings.Contains(string(body), "one.txt") {
		t.Fatalf("second root listing: %s", body)
	}
	resp, body := get(t, c, "/file?path="+token.Encode(filepath.Join(first, "one.txt")))
	if resp.StatusCode != http.StatusNotFound || string(body) != "Path not found!" {
		t.Fatalf("old root still reachable: %d %s", resp.StatusCode, body)
	}
}

func TestConcurrentDownloads(t *testing.T) {
	root := shareTree(t)
	c := newController(t, root)
	if _, err := c.Start(); err != nil {
		t.Fatal(err)
	}
	uri := "/download?path=" + token.Encode(filepath.Join(root, "a.txt"))

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := client.Get("http://" + c.Addr() + uri)
			if err != nil {
				errs <- err
				return
			}
			b, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			if string(b) != "alpha" {
				errs <- errors.New("body " + string(b))
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	if got := c.Downloads(); got != n {
		t.Fatalf("downloads %d, want %d", got, n)
	}

	// counter survives a restart
	c.Stop(context.Background())
	if _, err := c.Start(); err != nil {
		t.Fatal(err)
	}
	get(t, c, "/served")
	if got := c.Downloads(); got != n+1 {
		t.Fatalf("downloads after restart %d", got)
	}
}

func TestServedArchive(t *testing.T) {
	root := shareTree(t)
	c := newController(t, root)
	if _, err := c.Start(); err != nil {
		t.Fatal(err)
	}
	resp, body := get(t, c, "/served")
	if resp.StatusCode != 200 {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, `filename="share.zip"`) {
		t.Fatalf("content-disposition %q", cd)
	}
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	want := []string{"share/a.txt", "share/sub/b.txt"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("entries %v", names)
	}
	if _, err := os.Stat(root + ".zip"); err != nil {
		t.Fatalf("archive not left next to root: %v", err)
	}
	if c.Archiver().Builds() != 1 {
		t.Fatalf("builds %d", c.Archiver().Builds())
	}

	// reused until latest is asked for
	get(t, c, "/served")
	if c.Archiver().Builds() != 1 {
		t.Fatalf("cached archive rebuilt: %d", c.Archiver().Builds())
	}
	get(t, c, "/served?latest=1")
	if c.Archiver().Builds() != 2 {
		t.Fatalf("latest did not rebuild: %d", c.Archiver().Builds())
	}
}

func TestServedSingleFile(t *testing.T) {
	root := shareTree(t)
	c := newController(t, filepath.Join(root, "a.txt"))
	if _, err := c.Start(); err != nil {
		t.Fatal(err)
	}
	resp, body := get(t, c, "/served?latest=true")
	if string(body) != "alpha" {
		t.Fatalf("body %q", body)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, `filename="a.txt"`) {
		t.Fatalf("content-disposition %q", cd)
	}
	_, body = get(t, c, "/")
	if !strings.Contains(string(body), "/served?latest=") {
		t.Fatalf("landing page without latest link: %s", body)
	}
}

type chanSink chan lib.DownloadEvent

func (s chanSink) Record(e lib.DownloadEvent) error {
	s <- e
	return nil
}

func TestSinks(t *testing.T) {
	root := shareTree(t)
	sink := make(chanSink, 1)
	c := newController(t, root, sink)
	if _, err := c.Start(); err != nil {
		t.Fatal(err)
	}
	get(t, c, "/download?path="+token.Encode(filepath.Join(root, "sub")))

	select {
	case e := <-sink:
		if e.Kind != "zip" || e.Route != "/download" || e.Count != 1 {
			t.Fatalf("event %+v", e)
		}
		if e.Source != filepath.Join(root, "sub") || e.Path != filepath.Join(root, "sub.zip") {
			t.Fatalf("paths %s %s", e.Source, e.Path)
		}
		if e.ID == "" || e.Size <= 0 {
			t.Fatalf("event %+v", e)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("sink not called")
	}
}

func TestSnapshot(t *testing.T) {
	root := shareTree(t)
	c := newController(t, root)
	st := c.Snapshot()
	if st.State != "stopped" || st.Root != root || st.URL != "" {
		t.Fatalf("%+v", st)
	}
	if _, err := c.Start(); err != nil {
		t.Fatal(err)
	}
	st = c.Snapshot()
	_, port, _ := net.SplitHostPort(c.Addr())
	if st.State != "running" || st.URL != "http://127.0.0.1:"+port+"/" {
		t.Fatalf("%+v", st)
	}
}

func TestShareURL(t *testing.T) {
	if got := shareURL("10.0.0.2", "10.0.0.2:7767"); got != "http://10.0.0.2:7767/" {
		t.Fatal(got)
	}
	if got := shareURL("", "bad"); got != "" {
		t.Fatal(got)
	}
	if got := shareURL("", "[::]:7767"); !strings.HasPrefix(got, "http://") || !strings.HasSuffix(got, ":7767/") {
		t.Fatal(got)
	}
}
