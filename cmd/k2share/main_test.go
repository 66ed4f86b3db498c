package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomodule/redigo/redis"

	"github.com/kiyor/k2share/pkg/core"
	"github.com/kiyor/k2share/pkg/lib"
	"github.com/kiyor/k2share/pkg/server"
)

func newController(t *testing.T, root string) *server.Controller {
	t.Helper()
	c, err := server.New(core.Config{Root: root, Interface: "127.0.0.1"})
	if err != nil {
		t.Fatal(err)
	}
	h := core.NewLogHandler()
	h.Set(io.Discard, "", 0)
	c.SetLogHandler(h)
	t.Cleanup(func() { c.Stop(context.Background()) })
	return c
}

func TestControl(t *testing.T) {
	first := t.TempDir()
	second := filepath.Join(t.TempDir(), "second dir")
	if err := os.MkdirAll(second, 0755); err != nil {
		t.Fatal(err)
	}
	c := newController(t, first)

	in := strings.NewReader(strings.Join([]string{
		"start",
		"root " + second, // refused while running
		"stop",
		"root " + second,
		"port 0",
		"start",
		"status",
		"bogus",
		"quit",
		"stop", // never reached
	}, "\n"))
	var out bytes.Buffer
	if err := (&console{c: c}).control(in, &out); err != errQuit {
		t.Fatalf("control returned %v", err)
	}
	if c.State() != server.Running {
		t.Fatalf("state %s", c.State())
	}
	if c.Root() != second {
		t.Fatalf("root %s", c.Root())
	}
	s := out.String()
	for _, want := range []string{"server is not stopped", "stopped", "root " + second, "url", "unknown command \"bogus\""} {
		if !strings.Contains(s, want) {
			t.Errorf("output lacks %q:\n%s", want, s)
		}
	}
}

func TestControlEOF(t *testing.T) {
	c := newController(t, t.TempDir())
	var out bytes.Buffer
	if err := (&console{c: c}).control(strings.NewReader("help\n"), &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "root <path>") {
		t.Fatal(out.String())
	}
}

func TestCommandUsage(t *testing.T) {
	con := &console{c: newController(t, t.TempDir())}
	for _, f := range [][]string{{"root"}, {"port"}, {"port", "x"}, {"port", "99999"}} {
		if err := con.command(f, io.Discard); err == nil {
			t.Errorf("%v accepted", f)
		}
	}
}

func TestPrintStatus(t *testing.T) {
	var out bytes.Buffer
	printStatus(&out, server.Status{State: "stopped", Root: "/srv", Port: 7767, Downloads: 1234})
	s := out.String()
	if !strings.Contains(s, "7767") || !strings.Contains(s, "1,234") || strings.Contains(s, "url") {
		t.Fatal(s)
	}
}

func TestStatusHistory(t *testing.T) {
	h, err := lib.OpenHistory(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	con := &console{c: newController(t, t.TempDir()), history: h}

	var out bytes.Buffer
	if err := con.command([]string{"status"}, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "history   none") {
		t.Fatalf("empty history:\n%s", out.String())
	}

	for _, p := range []string{"/srv/a.txt", "/srv/b.zip", "/srv/a.txt"} {
		e := lib.NewDownloadEvent("file", "/download", p)
		e.Remote = "10.0.0.9"
		if err := h.Record(e); err != nil {
			t.Fatal(err)
		}
	}
	out.Reset()
	if err := con.command([]string{"status"}, &out); err != nil {
		t.Fatal(err)
	}
	s := out.String()
	for _, want := range []string{"state", "history", "10.0.0.9", "/srv/a.txt", "x2", "/srv/b.zip", "x1"} {
		if !strings.Contains(s, want) {
			t.Errorf("status lacks %q:\n%s", want, s)
		}
	}
}

func TestStatusRedisDown(t *testing.T) {
	r := &lib.RedisPool{
		Pool: &redis.Pool{Dial: func() (redis.Conn, error) {
			return nil, errors.New("connection refused")
		}},
		Prefix: "k2share",
	}
	con := &console{c: newController(t, t.TempDir()), redis: r}
	var out bytes.Buffer
	con.status(&out)
	if !strings.Contains(out.String(), "redis     error: connection refused") {
		t.Fatal(out.String())
	}
}
