package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kiyor/k2share/pkg/lib"
	"github.com/kiyor/k2share/pkg/server"
)

const stopTimeout = 10 * time.Second

var errQuit = errors.New("quit")

// recentLimit is how many history rows status prints.
const recentLimit = 5

// console drives a Controller from operator commands. history and redis are
// optional and only read by status.
type console struct {
	c       *server.Controller
	history *lib.History
	redis   *lib.RedisPool
}

func runServe(cmd *cobra.Command, args []string) error {
	con := &console{}
	var sinks []lib.Sink
	if cfg.History != "" {
		h, err := lib.OpenHistory(cfg.History)
		if err != nil {
			return err
		}
		defer h.Close()
		con.history = h
		sinks = append(sinks, h)
	}
	if cfg.RedisHost != "" {
		r := lib.NewRedisPool(cfg.RedisHost)
		if err := r.Ping(); err != nil {
			log.Printf("redis %s: %v", cfg.RedisHost, err)
		}
		defer r.Close()
		con.redis = r
		sinks = append(sinks, r)
	}

	c, err := server.New(cfg, sinks...)
	if err != nil {
		return err
	}
	con.c = c
	if _, err := c.Start(); err != nil {
		return err
	}
	con.status(os.Stdout)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	go func() {
		if err := con.control(os.Stdin, os.Stdout); errors.Is(err, errQuit) {
			cancel()
		}
	}()
	<-ctx.Done()

	sctx, scancel := context.WithTimeout(context.Background(), stopTimeout)
	defer scancel()
	_, err = c.Stop(sctx)
	return err
}

// control reads operator commands line by line until quit or EOF. EOF leaves
// the server as it is, so a detached process keeps serving.
func (con *console) control(in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if err := con.command(fields, out); err != nil {
			if errors.Is(err, errQuit) {
				return err
			}
			fmt.Fprintln(out, "error:", err)
		}
	}
}

func (con *console) command(fields []string, out io.Writer) error {
	c := con.c
	switch fields[0] {
	case "start":
		if _, err := c.Start(); err != nil {
			return err
		}
		con.status(out)
	case "stop":
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		s, err := c.Stop(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, s)
	case "status":
		con.status(out)
	case "root":
		if len(fields) < 2 {
			return errors.New("usage: root <path>")
		}
		path := strings.Join(fields[1:], " ")
		if err := c.Configure(path, c.Port()); err != nil {
			return err
		}
		fmt.Fprintln(out, "root", c.Root())
	case "port":
		if len(fields) != 2 {
			return errors.New("usage: port <n>")
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return err
		}
		if err := c.Configure(c.Root(), n); err != nil {
			return err
		}
		fmt.Fprintln(out, "port", n)
	case "quit", "exit":
		return errQuit
	case "help":
		fmt.Fprintln(out, "start | stop | status | root <path> | port <n> | quit")
	default:
		return fmt.Errorf("unknown command %q, try help", fields[0])
	}
	return nil
}

// status prints the controller snapshot followed by whatever the download
// stores know.
func (con *console) status(out io.Writer) {
	printStatus(out, con.c.Snapshot())
	if con.redis != nil {
		if n, err := con.redis.Total(); err != nil {
			fmt.Fprintf(out, "%-9s error: %v\n", "redis", err)
		} else {
			fmt.Fprintf(out, "%-9s %s\n", "redis", humanize.Comma(n))
		}
	}
	if con.history != nil {
		printHistory(out, con.history, recentLimit)
	}
}

// printHistory lists the newest records with how often each path was
// downloaded in total.
func printHistory(out io.Writer, h *lib.History, limit int) {
	list, err := h.Recent(limit)
	if err != nil {
		fmt.Fprintf(out, "%-9s error: %v\n", "history", err)
		return
	}
	if len(list) == 0 {
		fmt.Fprintf(out, "%-9s none\n", "history")
		return
	}
	fmt.Fprintf(out, "%-9s\n", "history")
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, r := range list {
		n, err := h.CountPath(r.Path)
		if err != nil {
			fmt.Fprintf(tw, "  %s\t%s\t%s\terror: %v\n", humanize.Time(r.At), r.Remote, r.Path, err)
			continue
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\tx%d\n", humanize.Time(r.At), r.Remote, r.Path, n)
	}
	tw.Flush()
}

func printStatus(out io.Writer, st server.Status) {
	fmt.Fprintf(out, "%-9s %s\n", "state", st.State)
	fmt.Fprintf(out, "%-9s %s\n", "root", st.Root)
	if st.URL != "" {
		fmt.Fprintf(out, "%-9s %s\n", "url", st.URL)
	} else {
		fmt.Fprintf(out, "%-9s %d\n", "port", st.Port)
	}
	fmt.Fprintf(out, "%-9s %s\n", "downloads", humanize.Comma(st.Downloads))
	if st.Disk != nil {
		fmt.Fprintf(out, "%-9s %s free of %s (%.2f%% used)\n", "disk",
			humanize.Bytes(st.Disk.Free), humanize.Bytes(st.Disk.Total), st.Disk.UsedPercent)
	}
}

